package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/scrivenerlabs/scrivener/capability"
)

// DefaultMaxMedium is how many medium-priority suggestions one evolution
// cycle applies when the policy does not say otherwise.
const DefaultMaxMedium = 2

// Policy bounds what a self-evolution cycle may touch.
type Policy struct {
	// Allow restricts evolution to capabilities whose names match one of
	// these glob patterns. Empty means every capability is eligible.
	Allow []string

	// Deny excludes capabilities whose names match one of these glob
	// patterns. Deny wins over Allow.
	Deny []string

	// MaxMedium caps how many medium-priority suggestions are applied per
	// cycle. High-priority suggestions are always applied. Zero means
	// DefaultMaxMedium; negative disables medium suggestions entirely.
	MaxMedium int

	// Promote applies stage promotions alongside evolutions when a
	// capability's telemetry earns one.
	Promote bool
}

// Applied reports one evolution the engine carried out.
type Applied struct {
	// Capability names the evolved descriptor.
	Capability string `json:"capability"`

	// Strategy is how it was evolved.
	Strategy Strategy `json:"strategy"`

	// Reason is the suggestion text, recorded as the evolution note.
	Reason string `json:"reason"`

	// Version is the capability's version after the evolution.
	Version int `json:"version"`

	// Promoted is the new stage when a promotion fired, empty otherwise.
	Promoted capability.Stage `json:"promoted,omitempty"`
}

// Engine applies suggested evolutions to the registry within policy
// bounds. It only ever goes through the registry's public operations.
type Engine struct {
	reg    *capability.Registry
	policy Policy
	logger *slog.Logger
}

// NewEngine creates an evolution engine over the registry.
func NewEngine(reg *capability.Registry, policy Policy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		reg:    reg,
		policy: policy,
		logger: logger,
	}
}

// Run performs one self-evolution cycle: gather suggestions, keep every
// high-priority one plus up to MaxMedium medium ones, and apply each to an
// allowed, non-retired capability. Returns what was applied. The context
// is checked between applications.
func (e *Engine) Run(ctx context.Context) ([]Applied, error) {
	suggestions := Suggest(e.reg)
	picked := e.pick(suggestions)

	var applied []Applied
	for _, s := range picked {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		default:
		}

		if !e.allowed(s.Capability) {
			e.logger.Debug("suggestion blocked by policy", "capability", s.Capability, "strategy", s.Strategy.String())
			continue
		}

		d, err := e.reg.Get(s.Capability)
		if err != nil {
			continue
		}
		if d.Stage == capability.StageRetired {
			continue
		}

		opts := []capability.EvolveOption{
			capability.WithImplementation(Rewrite(s.Strategy, d.Name, d.Implementation, s.Reason)),
		}

		result := Applied{
			Capability: s.Capability,
			Strategy:   s.Strategy,
			Reason:     s.Reason,
			Version:    d.Version + 1,
		}
		if e.policy.Promote {
			if next, ok := NextStage(d); ok {
				opts = append(opts, capability.WithStage(next))
				result.Promoted = next
			}
		}

		if err := e.reg.Evolve(s.Capability, s.Reason, opts...); err != nil {
			return applied, fmt.Errorf("apply %s to %q: %w", s.Strategy, s.Capability, err)
		}

		e.logger.Info("evolved capability",
			"capability", s.Capability,
			"strategy", s.Strategy.String(),
			"version", result.Version,
			"promoted", result.Promoted.String())
		applied = append(applied, result)
	}

	return applied, nil
}

// pick keeps every high-priority suggestion plus the first MaxMedium
// medium ones, one suggestion per capability.
func (e *Engine) pick(suggestions []Suggestion) []Suggestion {
	maxMedium := e.policy.MaxMedium
	if maxMedium == 0 {
		maxMedium = DefaultMaxMedium
	}

	var picked []Suggestion
	taken := make(map[string]bool)
	mediums := 0
	for _, s := range suggestions {
		if taken[s.Capability] {
			continue
		}
		switch s.Priority {
		case capability.PriorityHigh:
			picked = append(picked, s)
			taken[s.Capability] = true
		case capability.PriorityMedium:
			if mediums < maxMedium {
				picked = append(picked, s)
				taken[s.Capability] = true
				mediums++
			}
		}
	}
	return picked
}

// allowed applies the deny-then-allow pattern check to a capability name.
func (e *Engine) allowed(name string) bool {
	for _, pattern := range e.policy.Deny {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}
	if len(e.policy.Allow) == 0 {
		return true
	}
	for _, pattern := range e.policy.Allow {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Retire tags everything beyond the keep most-used capabilities as
// retired. Nothing is deleted: a retired capability stays registered and
// queryable, it just stops evolving. Returns the names retired, ordered
// least used first.
func Retire(reg *capability.Registry, keep int) ([]string, error) {
	if keep < 0 {
		keep = 0
	}

	var all []*capability.Descriptor
	for d := range reg.List() {
		if d.Stage != capability.StageRetired {
			all = append(all, d)
		}
	}
	if len(all) <= keep {
		return nil, nil
	}

	// Least used go first; ties break on older last use.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].UseCount != all[j].UseCount {
			return all[i].UseCount < all[j].UseCount
		}
		return all[i].LastUsed.Before(all[j].LastUsed)
	})

	var retired []string
	for _, d := range all[:len(all)-keep] {
		err := reg.Evolve(d.Name, "retired by capacity policy", capability.WithStage(capability.StageRetired))
		if err != nil {
			return retired, fmt.Errorf("retire %q: %w", d.Name, err)
		}
		retired = append(retired, d.Name)
	}
	return retired, nil
}
