// Package capability is the authoritative store for the agent's evolving
// behaviors. Each behavior is a named, versioned descriptor with
// success/failure telemetry; the registry tracks registration, outcome
// recording, and evolution events without ever executing or interpreting
// the implementation text it holds.
package capability

// Type categorizes what a capability does. The set is open: unknown values
// are stored as-is, these constants cover the categories the agent
// synthesizes itself.
type Type string

const (
	// TypeCore is for fundamental behaviors the agent cannot run without.
	TypeCore Type = "core"

	// TypeInteraction is for behaviors that drive external applications.
	TypeInteraction Type = "interaction"

	// TypeAnalysis is for behaviors that inspect documents or state.
	TypeAnalysis Type = "analysis"

	// TypeGeneration is for behaviors that produce new content.
	TypeGeneration Type = "generation"

	// TypeAdaptation is for behaviors that tune how the agent operates.
	TypeAdaptation Type = "adaptation"

	// TypeMeta is for behaviors that modify the agent's own behaviors.
	TypeMeta Type = "meta"
)

// IsValid checks if a type string is one of the known categories.
func (t Type) IsValid() bool {
	switch t {
	case TypeCore, TypeInteraction, TypeAnalysis, TypeGeneration, TypeAdaptation, TypeMeta:
		return true
	}
	return false
}

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}

// ParseType converts a string to a Type, returning empty for unknown values.
func ParseType(s string) Type {
	t := Type(s)
	if t.IsValid() {
		return t
	}
	return ""
}

// Stage is an advisory lifecycle tag on a capability. The registry enforces
// no transitions; policy decides when a capability moves forward or retires.
type Stage string

const (
	// StageConception is a freshly generated stub.
	StageConception Stage = "conception"

	// StagePrototype has survived early use.
	StagePrototype Stage = "prototype"

	// StageStable is trusted for regular use.
	StageStable Stage = "stable"

	// StageOptimized has been tuned for performance.
	StageOptimized Stage = "optimized"

	// StageAdvanced is fully mature.
	StageAdvanced Stage = "advanced"

	// StageRetired is kept for the record but no longer evolved or used.
	StageRetired Stage = "retired"
)

// IsValid checks if a stage string is one of the known stages.
func (s Stage) IsValid() bool {
	switch s {
	case StageConception, StagePrototype, StageStable, StageOptimized, StageAdvanced, StageRetired:
		return true
	}
	return false
}

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// ParseStage converts a string to a Stage, returning empty for unknown values.
func ParseStage(s string) Stage {
	st := Stage(s)
	if st.IsValid() {
		return st
	}
	return ""
}
