package capability

// Priority ranks how urgently an improvement opportunity should be acted on.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// OpportunityKind classifies why a capability was flagged for improvement.
type OpportunityKind string

const (
	// OpportunityHighFailureRate flags capabilities that fail too often
	// once they have enough recorded uses to judge.
	OpportunityHighFailureRate OpportunityKind = "high_failure_rate"

	// OpportunityStuckInEarlyStage flags capabilities that keep evolving
	// without ever leaving the early lifecycle stages.
	OpportunityStuckInEarlyStage OpportunityKind = "stuck_in_early_stage"
)

// Opportunity is one flagged improvement candidate.
type Opportunity struct {
	// Capability names the flagged descriptor.
	Capability string `json:"capability"`

	// Kind is why it was flagged.
	Kind OpportunityKind `json:"kind"`

	// Priority ranks the urgency.
	Priority Priority `json:"priority"`

	// SuccessRate is set for high_failure_rate opportunities.
	SuccessRate float64 `json:"success_rate,omitempty"`

	// Stage and Version are set for stuck_in_early_stage opportunities.
	Stage   Stage `json:"stage,omitempty"`
	Version int   `json:"version,omitempty"`
}

// Analysis summarizes the registry: population counts, aggregate telemetry,
// and improvement opportunities for the evolution policy to act on.
type Analysis struct {
	// Count is the number of registered capabilities.
	Count int `json:"count"`

	// Types counts capabilities per category tag.
	Types map[Type]int `json:"types"`

	// Stages counts capabilities per lifecycle stage.
	Stages map[Stage]int `json:"stages"`

	// SuccessRate is the aggregate rate across all recorded outcomes.
	SuccessRate float64 `json:"success_rate"`

	// Opportunities lists flagged improvement candidates in
	// registration order.
	Opportunities []Opportunity `json:"improvement_opportunities"`
}

// Thresholds for flagging improvement opportunities. A capability needs a
// minimum number of recorded uses before its failure rate means anything.
const (
	minAttemptsToJudge  = 5
	failureRateCeiling  = 0.7
	urgentRateCeiling   = 0.5
	earlyStageVersionAt = 2
)

// Analyze inspects every capability and reports population counts, the
// aggregate success rate, and improvement opportunities.
func (r *Registry) Analyze() Analysis {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a := Analysis{
		Count:  len(r.caps),
		Types:  make(map[Type]int),
		Stages: make(map[Stage]int),
	}
	if len(r.caps) == 0 {
		return a
	}

	var successes, failures int
	for _, d := range r.caps {
		a.Types[d.Type]++
		a.Stages[d.Stage]++
		successes += d.SuccessCount
		failures += d.FailureCount
	}
	if attempts := successes + failures; attempts > 0 {
		a.SuccessRate = float64(successes) / float64(attempts)
	}

	for _, name := range r.order {
		d := r.caps[name]

		if d.Attempts() >= minAttemptsToJudge {
			rate := d.SuccessRate()
			if rate < failureRateCeiling {
				priority := PriorityMedium
				if rate < urgentRateCeiling {
					priority = PriorityHigh
				}
				a.Opportunities = append(a.Opportunities, Opportunity{
					Capability:  name,
					Kind:        OpportunityHighFailureRate,
					Priority:    priority,
					SuccessRate: rate,
				})
			}
		}

		if (d.Stage == StageConception || d.Stage == StagePrototype) && d.Version > earlyStageVersionAt {
			a.Opportunities = append(a.Opportunities, Opportunity{
				Capability: name,
				Kind:       OpportunityStuckInEarlyStage,
				Priority:   PriorityMedium,
				Stage:      d.Stage,
				Version:    d.Version,
			})
		}
	}

	return a
}
