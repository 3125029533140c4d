package capability

import (
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the single authoritative store of capability descriptors and
// the evolution history for one agent instance. All operations are safe for
// concurrent use; each operation is atomic with respect to the descriptor
// it touches.
//
// The registry is pure bookkeeping. It never executes, validates, or
// interprets implementation text, and it never deletes: retirement is a
// stage change, not a removal.
type Registry struct {
	mu      sync.RWMutex
	caps    map[string]*Descriptor
	order   []string
	history []Event
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		caps: make(map[string]*Descriptor),
	}
}

// Register inserts a new descriptor. Fails with ErrDuplicate if the name is
// already taken, leaving the existing entry untouched. Zero fields are
// filled in: version 1, conception stage, timestamps set to now.
// Registration does not write an evolution event.
func (r *Registry) Register(d *Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.caps[d.Name]; exists {
		return fmt.Errorf("capability %q: %w", d.Name, ErrDuplicate)
	}

	stored := d.Clone()
	now := time.Now()
	if stored.Version == 0 {
		stored.Version = 1
	}
	if stored.Stage == "" {
		stored.Stage = StageConception
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastModified.IsZero() {
		stored.LastModified = stored.CreatedAt
	}
	if stored.LastUsed.IsZero() {
		stored.LastUsed = stored.CreatedAt
	}

	r.caps[stored.Name] = stored
	r.order = append(r.order, stored.Name)
	return nil
}

// Get returns a copy of the named descriptor, or ErrNotFound.
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("capability %q: %w", name, ErrNotFound)
	}
	return d.Clone(), nil
}

// Has reports whether a capability is registered under the name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.caps[name]
	return ok
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.caps)
}

// List returns all descriptors in registration order. Each range over the
// sequence takes a fresh snapshot, so the sequence is restartable and never
// observes later mutations mid-iteration.
func (r *Registry) List() iter.Seq[*Descriptor] {
	return func(yield func(*Descriptor) bool) {
		for _, d := range r.snapshot() {
			if !yield(d) {
				return
			}
		}
	}
}

// snapshot copies every descriptor in registration order.
func (r *Registry) snapshot() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.caps[name].Clone())
	}
	return out
}

// RecordOutcome records one use of the named capability. Success increments
// SuccessCount, failure increments FailureCount; UseCount and LastUsed are
// updated either way. Calls accumulate, so this is not a retry-safe
// operation. Fails with ErrNotFound if the name is absent.
func (r *Registry) RecordOutcome(name string, succeeded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.caps[name]
	if !ok {
		return fmt.Errorf("capability %q: %w", name, ErrNotFound)
	}

	if succeeded {
		d.SuccessCount++
	} else {
		d.FailureCount++
	}
	d.UseCount++
	d.LastUsed = time.Now()
	return nil
}

// EvolveOption adjusts what an evolution changes beyond the version bump.
type EvolveOption func(*evolveChange)

type evolveChange struct {
	implementation *string
	stage          *Stage
	description    *string
	resetCounters  bool
}

// WithImplementation replaces the capability's implementation text.
func WithImplementation(code string) EvolveOption {
	return func(c *evolveChange) { c.implementation = &code }
}

// WithStage moves the capability to a new lifecycle stage.
func WithStage(s Stage) EvolveOption {
	return func(c *evolveChange) { c.stage = &s }
}

// WithDescription replaces the capability's description.
func WithDescription(text string) EvolveOption {
	return func(c *evolveChange) { c.description = &text }
}

// WithCounterReset zeroes the success/failure counters as part of the
// evolution. Counters are retained by default.
func WithCounterReset() EvolveOption {
	return func(c *evolveChange) { c.resetCounters = true }
}

// Evolve bumps the named capability's version, stamps LastModified, and
// appends exactly one event to the evolution history. Counters are never
// reset unless WithCounterReset is given. What actually changed about the
// capability is the caller's decision, passed through options; Evolve
// itself only bookkeeps the event. Fails with ErrNotFound if the name is
// absent.
func (r *Registry) Evolve(name, note string, opts ...EvolveOption) error {
	var change evolveChange
	for _, opt := range opts {
		opt(&change)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.caps[name]
	if !ok {
		return fmt.Errorf("capability %q: %w", name, ErrNotFound)
	}

	now := time.Now()
	evt := Event{
		ID:          "evo-" + uuid.NewString(),
		Seq:         len(r.history) + 1,
		Capability:  name,
		FromVersion: d.Version,
		ToVersion:   d.Version + 1,
		FromStage:   d.Stage,
		ToStage:     d.Stage,
		Note:        note,
		Timestamp:   now,
	}

	d.Version++
	d.LastModified = now
	if change.implementation != nil {
		d.Implementation = *change.implementation
	}
	if change.stage != nil {
		d.Stage = *change.stage
		evt.ToStage = *change.stage
	}
	if change.description != nil {
		d.Description = *change.description
	}
	if change.resetCounters {
		d.SuccessCount = 0
		d.FailureCount = 0
	}

	r.history = append(r.history, evt)
	return nil
}

// History returns a copy of the evolution log in append order.
func (r *Registry) History() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, len(r.history))
	copy(out, r.history)
	return out
}

// Filter narrows Find results. Zero values match everything.
type Filter struct {
	// Type keeps only capabilities of this category.
	Type Type

	// Stage keeps only capabilities at this lifecycle stage.
	Stage Stage

	// MinSuccessRate keeps only capabilities at or above this rate.
	MinSuccessRate float64
}

// Find returns capabilities matching the filter, ordered by success rate
// descending with name as tie-break.
func (r *Registry) Find(f Filter) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Descriptor
	for _, name := range r.order {
		d := r.caps[name]
		if f.Type != "" && d.Type != f.Type {
			continue
		}
		if f.Stage != "" && d.Stage != f.Stage {
			continue
		}
		if d.SuccessRate() < f.MinSuccessRate {
			continue
		}
		out = append(out, d.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].SuccessRate(), out[j].SuccessRate()
		if ri != rj {
			return ri > rj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Stats summarizes registry-wide telemetry.
type Stats struct {
	Capabilities int `json:"capabilities"`
	Successes    int `json:"successes"`
	Failures     int `json:"failures"`
	Uses         int `json:"uses"`
	Evolutions   int `json:"evolutions"`
}

// Stats returns aggregate counters across all capabilities.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Capabilities: len(r.caps),
		Evolutions:   len(r.history),
	}
	for _, d := range r.caps {
		s.Successes += d.SuccessCount
		s.Failures += d.FailureCount
		s.Uses += d.UseCount
	}
	return s
}

// MarshalJSON serializes the full registry state: capabilities keyed by
// name plus the ordered evolution history. The field set round-trips
// losslessly through UnmarshalJSON.
func (r *Registry) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.history
	if history == nil {
		history = []Event{}
	}
	return json.Marshal(struct {
		Capabilities map[string]*Descriptor `json:"capabilities"`
		History      []Event                `json:"evolution_history"`
	}{
		Capabilities: r.caps,
		History:      history,
	})
}

// UnmarshalJSON replaces the registry state from a serialized snapshot.
// Registration order is rebuilt from CreatedAt (name as tie-break) and the
// history from event sequence numbers.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var tmp struct {
		Capabilities map[string]*Descriptor `json:"capabilities"`
		History      []Event                `json:"evolution_history"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.restore(tmp.Capabilities, tmp.History)
	return nil
}

// Restore builds a registry from persisted descriptors and history, for
// stores that keep the two apart. Normalization matches UnmarshalJSON:
// registration order rebuilt from CreatedAt, events sorted by sequence
// with zero sequences backfilled.
func Restore(caps map[string]*Descriptor, history []Event) *Registry {
	r := NewRegistry()
	r.restore(caps, history)
	return r
}

// restore replaces state in place. The caller holds the lock or owns the
// registry exclusively. The history slice is taken over and re-sorted.
func (r *Registry) restore(caps map[string]*Descriptor, history []Event) {
	r.caps = make(map[string]*Descriptor, len(caps))
	r.order = make([]string, 0, len(caps))
	for name, d := range caps {
		if d == nil {
			continue
		}
		if d.Name == "" {
			d.Name = name
		}
		if d.Version == 0 {
			d.Version = 1
		}
		r.caps[name] = d
		r.order = append(r.order, name)
	}
	sort.Slice(r.order, func(i, j int) bool {
		a, b := r.caps[r.order[i]], r.caps[r.order[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Name < b.Name
	})

	r.history = history
	sort.SliceStable(r.history, func(i, j int) bool {
		return r.history[i].Seq < r.history[j].Seq
	})
	for i := range r.history {
		if r.history[i].Seq == 0 {
			r.history[i].Seq = i + 1
		}
	}
}
