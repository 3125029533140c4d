package capability

import "testing"

func TestAnalyzeEmpty(t *testing.T) {
	r := NewRegistry()

	a := r.Analyze()
	if a.Count != 0 {
		t.Errorf("Count = %d, want 0", a.Count)
	}
	if a.SuccessRate != 0 {
		t.Errorf("SuccessRate = %v, want 0", a.SuccessRate)
	}
	if len(a.Opportunities) != 0 {
		t.Errorf("Opportunities = %d, want none", len(a.Opportunities))
	}
}

func TestAnalyzeCounts(t *testing.T) {
	r := NewRegistry()

	seed := []struct {
		name  string
		typ   Type
		stage Stage
	}{
		{"doc_reader", TypeAnalysis, StageStable},
		{"doc_writer", TypeGeneration, StageStable},
		{"typing_tuner", TypeAdaptation, StageConception},
	}
	for _, s := range seed {
		d := newTestDescriptor(s.name)
		d.Type = s.typ
		d.Stage = s.stage
		if err := r.Register(d); err != nil {
			t.Fatal(err)
		}
	}
	_ = r.RecordOutcome("doc_reader", true)
	_ = r.RecordOutcome("doc_reader", true)
	_ = r.RecordOutcome("doc_writer", false)

	a := r.Analyze()
	if a.Count != 3 {
		t.Errorf("Count = %d, want 3", a.Count)
	}
	if a.Types[TypeAnalysis] != 1 || a.Types[TypeGeneration] != 1 || a.Types[TypeAdaptation] != 1 {
		t.Errorf("Types = %v", a.Types)
	}
	if a.Stages[StageStable] != 2 || a.Stages[StageConception] != 1 {
		t.Errorf("Stages = %v", a.Stages)
	}
	if want := 2.0 / 3.0; a.SuccessRate != want {
		t.Errorf("SuccessRate = %v, want %v", a.SuccessRate, want)
	}
}

func TestAnalyzeHighFailureRate(t *testing.T) {
	tests := []struct {
		name         string
		successes    int
		failures     int
		wantFlag     bool
		wantPriority Priority
	}{
		{"too few attempts to judge", 1, 3, false, ""},
		{"healthy", 9, 1, false, ""},
		{"failing", 3, 2, true, PriorityMedium},
		{"failing badly", 2, 4, true, PriorityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			if err := r.Register(newTestDescriptor("subject")); err != nil {
				t.Fatal(err)
			}
			for i := 0; i < tt.successes; i++ {
				_ = r.RecordOutcome("subject", true)
			}
			for i := 0; i < tt.failures; i++ {
				_ = r.RecordOutcome("subject", false)
			}

			a := r.Analyze()
			var found *Opportunity
			for i := range a.Opportunities {
				if a.Opportunities[i].Kind == OpportunityHighFailureRate {
					found = &a.Opportunities[i]
				}
			}

			if tt.wantFlag && found == nil {
				t.Fatal("expected high_failure_rate opportunity, got none")
			}
			if !tt.wantFlag && found != nil {
				t.Fatalf("unexpected opportunity: %+v", found)
			}
			if found != nil && found.Priority != tt.wantPriority {
				t.Errorf("Priority = %q, want %q", found.Priority, tt.wantPriority)
			}
		})
	}
}

func TestAnalyzeStuckInEarlyStage(t *testing.T) {
	r := NewRegistry()

	stuck := newTestDescriptor("stuck_stub")
	if err := r.Register(stuck); err != nil {
		t.Fatal(err)
	}
	// Three evolutions without ever leaving conception.
	for i := 0; i < 3; i++ {
		if err := r.Evolve("stuck_stub", "still a stub"); err != nil {
			t.Fatal(err)
		}
	}

	mature := newTestDescriptor("mature_cap")
	mature.Stage = StageStable
	if err := r.Register(mature); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := r.Evolve("mature_cap", "tuned"); err != nil {
			t.Fatal(err)
		}
	}

	a := r.Analyze()
	var flagged []string
	for _, opp := range a.Opportunities {
		if opp.Kind == OpportunityStuckInEarlyStage {
			flagged = append(flagged, opp.Capability)
		}
	}
	if len(flagged) != 1 || flagged[0] != "stuck_stub" {
		t.Errorf("stuck flags = %v, want only stuck_stub", flagged)
	}

	for _, opp := range a.Opportunities {
		if opp.Kind == OpportunityStuckInEarlyStage {
			if opp.Version != 4 {
				t.Errorf("opportunity Version = %d, want 4", opp.Version)
			}
			if opp.Stage != StageConception {
				t.Errorf("opportunity Stage = %q, want conception", opp.Stage)
			}
			if opp.Priority != PriorityMedium {
				t.Errorf("opportunity Priority = %q, want medium", opp.Priority)
			}
		}
	}
}
