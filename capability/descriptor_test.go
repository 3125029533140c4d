package capability

import "testing"

func TestDescriptorSuccessRate(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		failures  int
		expected  float64
	}{
		{"unused", 0, 0, 0},
		{"all successes", 4, 0, 1.0},
		{"all failures", 0, 3, 0},
		{"mixed", 3, 1, 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Descriptor{SuccessCount: tt.successes, FailureCount: tt.failures}
			if got := d.SuccessRate(); got != tt.expected {
				t.Errorf("SuccessRate() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDescriptorClone(t *testing.T) {
	d := &Descriptor{
		Name:         "analyze_document_structure",
		Description:  "Analyze document structure",
		Type:         TypeAnalysis,
		Stage:        StageConception,
		Version:      1,
		Dependencies: []string{"read_document"},
		Metadata:     map[string]any{"parameters": []string{"document_type"}},
	}

	c := d.Clone()

	if c == d {
		t.Fatal("Clone() returned the same pointer")
	}
	if c.Name != d.Name || c.Type != d.Type || c.Version != d.Version {
		t.Errorf("Clone() lost fields: got %+v", c)
	}

	// Mutating the clone must not leak back into the original.
	c.Dependencies[0] = "changed"
	c.Metadata["parameters"] = nil
	if d.Dependencies[0] != "read_document" {
		t.Error("clone shares the dependencies slice with the original")
	}
	if d.Metadata["parameters"] == nil {
		t.Error("clone shares the metadata map with the original")
	}
}

func TestDescriptorCloneNil(t *testing.T) {
	var d *Descriptor
	if d.Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}
}
