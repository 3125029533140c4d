package capability

import "time"

// Event is one record in the evolution history. The history is append-only:
// records are never rewritten or removed once logged.
type Event struct {
	// ID uniquely identifies this event (format: evo-{uuid}).
	ID string `json:"id"`

	// Seq is the 1-based position in the history. Gives events a total
	// order that survives serialization.
	Seq int `json:"seq"`

	// Capability names the descriptor that evolved.
	Capability string `json:"capability"`

	// FromVersion and ToVersion record the version bump.
	FromVersion int `json:"from_version"`
	ToVersion   int `json:"to_version"`

	// FromStage and ToStage record a stage change, equal when none occurred.
	FromStage Stage `json:"from_stage,omitempty"`
	ToStage   Stage `json:"to_stage,omitempty"`

	// Note is the caller's description of the modification.
	Note string `json:"note"`

	// Timestamp is when the evolution was recorded.
	Timestamp time.Time `json:"timestamp"`
}
