package evolution

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/scrivenerlabs/scrivener/capability"
)

// Suggestion is one proposed evolution, ready for the policy to apply or
// an operator to review.
type Suggestion struct {
	// ID uniquely identifies this suggestion (format: sug-{uuid}).
	ID string `json:"id"`

	// Capability names the descriptor to evolve.
	Capability string `json:"capability"`

	// Strategy is the proposed way to evolve it.
	Strategy Strategy `json:"strategy"`

	// Reason explains what the telemetry showed. Doubles as the
	// modification note when the suggestion is applied.
	Reason string `json:"reason"`

	// Priority ranks the suggestion for the policy's budget.
	Priority capability.Priority `json:"priority"`
}

// How much use marks a stable capability as worth optimizing, and how long
// an implementation gets before cleanup is suggested.
const (
	optimizeUseFloor   = 20
	cleanupLineCeiling = 30
)

// Suggest derives evolution suggestions from the registry's telemetry:
// flagged improvement opportunities first, then optimization and cleanup
// candidates. Retired capabilities are never suggested.
func Suggest(reg *capability.Registry) []Suggestion {
	var suggestions []Suggestion

	retired := make(map[string]bool)
	var active []*capability.Descriptor
	for d := range reg.List() {
		if d.Stage == capability.StageRetired {
			retired[d.Name] = true
			continue
		}
		active = append(active, d)
	}

	analysis := reg.Analyze()
	for _, opp := range analysis.Opportunities {
		if retired[opp.Capability] {
			continue
		}
		switch opp.Kind {
		case capability.OpportunityHighFailureRate:
			suggestions = append(suggestions, Suggestion{
				ID:         "sug-" + uuid.NewString(),
				Capability: opp.Capability,
				Strategy:   StrategyErrorCorrection,
				Reason:     fmt.Sprintf("high failure rate (%.2f success)", opp.SuccessRate),
				Priority:   opp.Priority,
			})
		case capability.OpportunityStuckInEarlyStage:
			suggestions = append(suggestions, Suggestion{
				ID:         "sug-" + uuid.NewString(),
				Capability: opp.Capability,
				Strategy:   StrategyFeatureAddition,
				Reason:     fmt.Sprintf("stuck in %s stage after %d versions", opp.Stage, opp.Version),
				Priority:   opp.Priority,
			})
		}
	}

	for _, d := range active {
		if d.Stage == capability.StageStable && d.UseCount > optimizeUseFloor {
			suggestions = append(suggestions, Suggestion{
				ID:         "sug-" + uuid.NewString(),
				Capability: d.Name,
				Strategy:   StrategyPerformance,
				Reason:     fmt.Sprintf("frequently used stable capability (%d uses)", d.UseCount),
				Priority:   capability.PriorityLow,
			})
		}

		if lines := strings.Count(d.Implementation, "\n"); lines > cleanupLineCeiling {
			suggestions = append(suggestions, Suggestion{
				ID:         "sug-" + uuid.NewString(),
				Capability: d.Name,
				Strategy:   StrategyCodeCleanup,
				Reason:     fmt.Sprintf("implementation has grown to %d lines", lines),
				Priority:   capability.PriorityLow,
			})
		}
	}

	return suggestions
}

// NextStage returns the stage a capability should be promoted to, and
// whether promotion applies. Promotion requires a success rate above 0.9
// across more than 10 uses; retired and fully advanced capabilities never
// promote.
func NextStage(d *capability.Descriptor) (capability.Stage, bool) {
	if d.SuccessRate() <= 0.9 || d.UseCount <= 10 {
		return "", false
	}
	switch d.Stage {
	case capability.StageConception:
		return capability.StagePrototype, true
	case capability.StagePrototype:
		return capability.StageStable, true
	case capability.StageStable:
		return capability.StageOptimized, true
	case capability.StageOptimized:
		return capability.StageAdvanced, true
	}
	return "", false
}
