package capability

import (
	"fmt"
	"time"
)

// Descriptor is one registered capability. The registry owns the canonical
// copy; accessors hand out clones so callers can never bypass the
// registry's bookkeeping.
type Descriptor struct {
	// Name uniquely identifies the capability. Immutable after registration.
	Name string `json:"name"`

	// Description is human-readable text explaining what the capability does.
	Description string `json:"description"`

	// Type categorizes the capability (analysis, adaptation, meta, ...).
	Type Type `json:"capability_type"`

	// Implementation is the generated code for this capability. It is an
	// opaque payload here: the registry never executes or validates it.
	Implementation string `json:"implementation"`

	// Stage is the advisory lifecycle tag (conception through retired).
	Stage Stage `json:"stage"`

	// SuccessCount is how many recorded uses succeeded.
	SuccessCount int `json:"success_count"`

	// FailureCount is how many recorded uses failed.
	FailureCount int `json:"failure_count"`

	// Version starts at 1 and increments on every evolution.
	Version int `json:"version"`

	// Dependencies lists other capability names this one references,
	// in declaration order. No cycle checking is performed.
	Dependencies []string `json:"dependencies,omitempty"`

	// Metadata holds auxiliary key/value pairs (parameter lists,
	// generation hints).
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the capability was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastModified is when the capability last evolved.
	LastModified time.Time `json:"last_modified"`

	// LastUsed is when an outcome was last recorded.
	LastUsed time.Time `json:"last_used"`

	// UseCount is the total number of recorded outcomes.
	UseCount int `json:"use_count"`
}

// SuccessRate returns the fraction of recorded outcomes that succeeded,
// or 0 when no outcome has been recorded yet.
func (d *Descriptor) SuccessRate() float64 {
	total := d.SuccessCount + d.FailureCount
	if total == 0 {
		return 0
	}
	return float64(d.SuccessCount) / float64(total)
}

// Attempts returns the number of recorded outcomes.
func (d *Descriptor) Attempts() int {
	return d.SuccessCount + d.FailureCount
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	if d.Dependencies != nil {
		c.Dependencies = make([]string, len(d.Dependencies))
		copy(c.Dependencies, d.Dependencies)
	}
	if d.Metadata != nil {
		c.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// validate checks the fields a descriptor must carry to be registered.
func (d *Descriptor) validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrInvalid)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalid)
	}
	if d.Version < 0 {
		return fmt.Errorf("%w: negative version %d", ErrInvalid, d.Version)
	}
	if d.SuccessCount < 0 || d.FailureCount < 0 || d.UseCount < 0 {
		return fmt.Errorf("%w: negative counters", ErrInvalid)
	}
	return nil
}
