// Package capabilityapi provides tests for the capability-api component.
//
// Test Coverage:
//   - Component factory with invalid configurations
//   - Component lifecycle (Initialize, Stop)
//   - Start failure without NATS client
//   - Subject resolution from port definitions
//   - Command decoding (raw and BaseMessage-wrapped)
//   - Payload validation (OutcomePayload, EvolvePayload, EventPayload)
//   - Payload Schema() methods and marshaling
//   - Component metadata (Meta, Health, DataFlow)
//   - Port configuration (InputPorts, OutputPorts)
//   - Atomic metric updates
//   - Config validation and defaults
//
// Note: Tests requiring NATS infrastructure (consuming commands from a live
// stream, KV-backed registry loading) are integration tests and not included
// here. Run with: go test -cover
package capabilityapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

// TestNewComponent_Unit tests the component factory with various configurations.
func TestNewComponent_Unit(t *testing.T) {
	tests := []struct {
		name      string
		rawConfig json.RawMessage
		wantErr   bool
	}{
		{
			name:      "empty config uses defaults",
			rawConfig: json.RawMessage(`{}`),
			wantErr:   false,
		},
		{
			name:      "invalid JSON",
			rawConfig: json.RawMessage(`{invalid json}`),
			wantErr:   true,
		},
		{
			name:      "invalid config - negative timeout",
			rawConfig: json.RawMessage(`{"timeout":-5}`),
			wantErr:   true,
		},
		{
			name:      "invalid config - negative max_capabilities",
			rawConfig: json.RawMessage(`{"max_capabilities":-1}`),
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Use minimal dependencies - no NATS client
			deps := component.Dependencies{
				Logger: slog.Default(),
			}

			_, err := NewComponent(tt.rawConfig, deps)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewComponent() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestComponent_SubjectResolution tests that subjects come from port definitions.
func TestComponent_SubjectResolution(t *testing.T) {
	custom := Config{
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{Name: "outcomes", Type: "jetstream", Subject: "custom.outcome", StreamName: "CUSTOM"},
				{Name: "evolutions", Type: "jetstream", Subject: "custom.evolve", StreamName: "CUSTOM"},
			},
			Outputs: []component.PortDefinition{
				{Name: "events", Type: "jetstream", Subject: "custom.events", StreamName: "CUSTOM"},
			},
		},
	}
	rawConfig, err := json.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}

	deps := component.Dependencies{Logger: slog.Default()}
	comp, err := NewComponent(rawConfig, deps)
	if err != nil {
		t.Fatalf("NewComponent() error = %v", err)
	}

	c := comp.(*Component)
	if c.outcomeSubject != "custom.outcome" {
		t.Errorf("outcomeSubject = %q, want %q", c.outcomeSubject, "custom.outcome")
	}
	if c.evolveSubject != "custom.evolve" {
		t.Errorf("evolveSubject = %q, want %q", c.evolveSubject, "custom.evolve")
	}
	if c.eventSubject != "custom.events" {
		t.Errorf("eventSubject = %q, want %q", c.eventSubject, "custom.events")
	}
	if c.streamName != "CUSTOM" {
		t.Errorf("streamName = %q, want %q", c.streamName, "CUSTOM")
	}
}

// TestComponent_Lifecycle tests Initialize and Stop methods.
func TestComponent_Lifecycle(t *testing.T) {
	c := &Component{
		name:   "capability-api",
		logger: slog.Default(),
		config: DefaultConfig(),
	}

	if err := c.Initialize(); err != nil {
		t.Errorf("Initialize() error = %v, want nil", err)
	}

	if err := c.Stop(time.Second); err != nil {
		t.Error("Stop() should not error when already stopped")
	}
}

// TestComponent_StartWithoutNATSClient tests Start fails without NATS client.
func TestComponent_StartWithoutNATSClient(t *testing.T) {
	c := &Component{
		name:   "capability-api",
		logger: slog.Default(),
		config: DefaultConfig(),
		// natsClient is nil
	}

	ctx := context.Background()
	err := c.Start(ctx)
	if err == nil {
		t.Error("Start() should return error when NATS client is nil")
	}

	c.mu.RLock()
	running := c.running
	c.mu.RUnlock()
	if running {
		t.Error("Component should not be running after failed start")
	}
}

// TestDecodeOutcome tests outcome command decoding.
func TestDecodeOutcome(t *testing.T) {
	t.Run("raw command", func(t *testing.T) {
		cmd, err := decodeOutcome([]byte(`{"name":"analyze_document_structure","succeeded":true,"source":"typist"}`))
		if err != nil {
			t.Fatalf("decodeOutcome() error = %v", err)
		}
		if cmd.Name != "analyze_document_structure" {
			t.Errorf("Name = %q, want %q", cmd.Name, "analyze_document_structure")
		}
		if !cmd.Succeeded {
			t.Error("Succeeded = false, want true")
		}
		if cmd.Source != "typist" {
			t.Errorf("Source = %q, want %q", cmd.Source, "typist")
		}
	})

	t.Run("enveloped command", func(t *testing.T) {
		baseMsg := message.NewBaseMessage(OutcomeType, &OutcomePayload{
			Name:      "optimize_typing_behavior",
			Succeeded: false,
			TraceID:   "trace-1",
		}, "test")
		data, err := json.Marshal(baseMsg)
		if err != nil {
			t.Fatalf("marshal envelope: %v", err)
		}

		cmd, err := decodeOutcome(data)
		if err != nil {
			t.Fatalf("decodeOutcome() error = %v", err)
		}
		if cmd.Name != "optimize_typing_behavior" {
			t.Errorf("Name = %q, want %q", cmd.Name, "optimize_typing_behavior")
		}
		if cmd.Succeeded {
			t.Error("Succeeded = true, want false")
		}
		if cmd.TraceID != "trace-1" {
			t.Errorf("TraceID = %q, want %q", cmd.TraceID, "trace-1")
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		if _, err := decodeOutcome([]byte(`not json`)); err == nil {
			t.Error("decodeOutcome() should reject invalid JSON")
		}
	})

	t.Run("missing name", func(t *testing.T) {
		if _, err := decodeOutcome([]byte(`{"succeeded":true}`)); err == nil {
			t.Error("decodeOutcome() should reject commands without a name")
		}
	})
}

// TestDecodeEvolve tests evolve command decoding.
func TestDecodeEvolve(t *testing.T) {
	t.Run("raw command", func(t *testing.T) {
		cmd, err := decodeEvolve([]byte(`{"name":"evolve_agent_behavior","note":"tuned retry logic","stage":"stable"}`))
		if err != nil {
			t.Fatalf("decodeEvolve() error = %v", err)
		}
		if cmd.Name != "evolve_agent_behavior" {
			t.Errorf("Name = %q, want %q", cmd.Name, "evolve_agent_behavior")
		}
		if cmd.Note != "tuned retry logic" {
			t.Errorf("Note = %q, want %q", cmd.Note, "tuned retry logic")
		}
		if cmd.Stage != "stable" {
			t.Errorf("Stage = %q, want %q", cmd.Stage, "stable")
		}
	})

	t.Run("enveloped command", func(t *testing.T) {
		baseMsg := message.NewBaseMessage(EvolveType, &EvolvePayload{
			Name: "analyze_document_structure",
			Note: "handle nested headings",
		}, "test")
		data, err := json.Marshal(baseMsg)
		if err != nil {
			t.Fatalf("marshal envelope: %v", err)
		}

		cmd, err := decodeEvolve(data)
		if err != nil {
			t.Fatalf("decodeEvolve() error = %v", err)
		}
		if cmd.Name != "analyze_document_structure" {
			t.Errorf("Name = %q, want %q", cmd.Name, "analyze_document_structure")
		}
		if cmd.Note != "handle nested headings" {
			t.Errorf("Note = %q, want %q", cmd.Note, "handle nested headings")
		}
	})

	t.Run("missing note", func(t *testing.T) {
		if _, err := decodeEvolve([]byte(`{"name":"analyze_document_structure"}`)); err == nil {
			t.Error("decodeEvolve() should reject commands without a note")
		}
	})
}

// TestOutcomePayload_SchemaValidate tests OutcomePayload methods.
func TestOutcomePayload_SchemaValidate(t *testing.T) {
	payload := &OutcomePayload{
		Name:      "analyze_document_structure",
		Succeeded: true,
		Source:    "typist",
	}

	msgType := payload.Schema()
	if msgType.Domain != "capability" {
		t.Errorf("Schema().Domain = %q, want %q", msgType.Domain, "capability")
	}
	if msgType.Category != "outcome" {
		t.Errorf("Schema().Category = %q, want %q", msgType.Category, "outcome")
	}
	if msgType.Version != "v1" {
		t.Errorf("Schema().Version = %q, want %q", msgType.Version, "v1")
	}

	if err := payload.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	invalid := &OutcomePayload{Succeeded: true}
	if err := invalid.Validate(); err == nil {
		t.Error("Validate() should return error when Name is empty")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}

	var decoded OutcomePayload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if decoded.Name != payload.Name {
		t.Errorf("Decoded Name = %q, want %q", decoded.Name, payload.Name)
	}
	if decoded.Succeeded != payload.Succeeded {
		t.Errorf("Decoded Succeeded = %v, want %v", decoded.Succeeded, payload.Succeeded)
	}
}

// TestEvolvePayload_SchemaValidate tests EvolvePayload methods.
func TestEvolvePayload_SchemaValidate(t *testing.T) {
	payload := &EvolvePayload{
		Name:           "optimize_typing_behavior",
		Note:           "slower on tables",
		Implementation: "def optimize(): pass",
		Stage:          "prototype",
	}

	msgType := payload.Schema()
	if msgType.Domain != "capability" {
		t.Errorf("Schema().Domain = %q, want %q", msgType.Domain, "capability")
	}
	if msgType.Category != "evolve" {
		t.Errorf("Schema().Category = %q, want %q", msgType.Category, "evolve")
	}

	if err := payload.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	invalid := &EvolvePayload{Name: "optimize_typing_behavior"}
	if err := invalid.Validate(); err == nil {
		t.Error("Validate() should return error when Note is empty")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}

	var decoded EvolvePayload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if decoded.Note != payload.Note {
		t.Errorf("Decoded Note = %q, want %q", decoded.Note, payload.Note)
	}
	if decoded.Stage != payload.Stage {
		t.Errorf("Decoded Stage = %q, want %q", decoded.Stage, payload.Stage)
	}
}

// TestEventPayload_SchemaValidate tests EventPayload methods.
func TestEventPayload_SchemaValidate(t *testing.T) {
	payload := &EventPayload{
		Kind:    EventEvolved,
		Name:    "analyze_document_structure",
		Version: 3,
		Note:    "handle nested headings",
	}

	msgType := payload.Schema()
	if msgType.Domain != "capability" {
		t.Errorf("Schema().Domain = %q, want %q", msgType.Domain, "capability")
	}
	if msgType.Category != "event" {
		t.Errorf("Schema().Category = %q, want %q", msgType.Category, "event")
	}

	if err := payload.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	invalid := &EventPayload{Name: "analyze_document_structure"}
	if err := invalid.Validate(); err == nil {
		t.Error("Validate() should return error when Kind is empty")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}

	var decoded EventPayload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if decoded.Kind != payload.Kind {
		t.Errorf("Decoded Kind = %q, want %q", decoded.Kind, payload.Kind)
	}
	if decoded.Version != payload.Version {
		t.Errorf("Decoded Version = %d, want %d", decoded.Version, payload.Version)
	}
}

// TestComponent_Meta tests component metadata.
func TestComponent_Meta(t *testing.T) {
	c := &Component{name: "capability-api"}

	meta := c.Meta()

	if meta.Name != "capability-api" {
		t.Errorf("Meta.Name = %q, want %q", meta.Name, "capability-api")
	}
	if meta.Type != "processor" {
		t.Errorf("Meta.Type = %q, want %q", meta.Type, "processor")
	}
	if meta.Description == "" {
		t.Error("Meta.Description should not be empty")
	}
	if meta.Version == "" {
		t.Error("Meta.Version should not be empty")
	}
}

// TestComponent_Health tests health status reporting.
func TestComponent_Health(t *testing.T) {
	c := &Component{
		name:   "capability-api",
		logger: slog.Default(),
	}

	health := c.Health()
	if health.Healthy {
		t.Error("Health.Healthy should be false when stopped")
	}
	if health.Status != "stopped" {
		t.Errorf("Health.Status = %q, want %q", health.Status, "stopped")
	}

	c.mu.Lock()
	c.running = true
	c.startTime = time.Now()
	c.mu.Unlock()

	health = c.Health()
	if !health.Healthy {
		t.Error("Health.Healthy should be true when running")
	}
	if health.Status != "running" {
		t.Errorf("Health.Status = %q, want %q", health.Status, "running")
	}
	if health.Uptime == 0 {
		t.Error("Health.Uptime should be non-zero when running")
	}
}

// TestComponent_InputOutputPorts tests port configuration.
func TestComponent_InputOutputPorts(t *testing.T) {
	c := &Component{
		config: DefaultConfig(),
	}

	inputPorts := c.InputPorts()
	if len(inputPorts) != 2 {
		t.Errorf("InputPorts count = %d, want 2", len(inputPorts))
	}

	inputNames := map[string]bool{}
	for _, p := range inputPorts {
		inputNames[p.Name] = true
	}
	if !inputNames["outcomes"] {
		t.Error("InputPorts should include outcomes")
	}
	if !inputNames["evolutions"] {
		t.Error("InputPorts should include evolutions")
	}

	outputPorts := c.OutputPorts()
	if len(outputPorts) != 1 {
		t.Errorf("OutputPorts count = %d, want 1", len(outputPorts))
	}
	if len(outputPorts) > 0 && outputPorts[0].Name != "events" {
		t.Errorf("OutputPorts[0].Name = %q, want %q", outputPorts[0].Name, "events")
	}
}

// TestComponent_MetricsUpdate tests that metrics are updated atomically.
func TestComponent_MetricsUpdate(t *testing.T) {
	c := &Component{
		name:   "capability-api",
		logger: slog.Default(),
	}

	var wg sync.WaitGroup
	iterations := 100

	for i := 0; i < iterations; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			c.outcomesApplied.Add(1)
		}()
		go func() {
			defer wg.Done()
			c.evolutionsApplied.Add(1)
		}()
		go func() {
			defer wg.Done()
			c.commandErrors.Add(1)
		}()
	}
	wg.Wait()

	if c.outcomesApplied.Load() != int64(iterations) {
		t.Errorf("outcomesApplied = %d, want %d", c.outcomesApplied.Load(), iterations)
	}
	if c.evolutionsApplied.Load() != int64(iterations) {
		t.Errorf("evolutionsApplied = %d, want %d", c.evolutionsApplied.Load(), iterations)
	}
	if c.commandErrors.Load() != int64(iterations) {
		t.Errorf("commandErrors = %d, want %d", c.commandErrors.Load(), iterations)
	}
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: Config{
				Bucket:  "SCRIVENER",
				Timeout: 10 * time.Second,
			},
			wantErr: false,
		},
		{
			name: "missing bucket",
			config: Config{
				Timeout: 10 * time.Second,
			},
			wantErr: true,
		},
		{
			name: "zero timeout",
			config: Config{
				Bucket: "SCRIVENER",
			},
			wantErr: true,
		},
		{
			name: "negative max_capabilities",
			config: Config{
				Bucket:          "SCRIVENER",
				Timeout:         10 * time.Second,
				MaxCapabilities: -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestDefaultConfig tests default configuration values.
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Bucket != "SCRIVENER" {
		t.Errorf("DefaultConfig().Bucket = %q, want %q", config.Bucket, "SCRIVENER")
	}
	if config.Timeout != 10*time.Second {
		t.Errorf("DefaultConfig().Timeout = %v, want 10s", config.Timeout)
	}
	if config.Ports == nil {
		t.Fatal("DefaultConfig().Ports should not be nil")
	}
	if len(config.Ports.Inputs) != 2 {
		t.Errorf("DefaultConfig().Ports.Inputs count = %d, want 2", len(config.Ports.Inputs))
	}
	if len(config.Ports.Outputs) != 1 {
		t.Errorf("DefaultConfig().Ports.Outputs count = %d, want 1", len(config.Ports.Outputs))
	}
}
