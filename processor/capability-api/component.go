// Package capabilityapi exposes the capability registry over NATS JetStream.
// Other agent processes report capability outcomes and request evolutions on
// the command subjects; every applied or rejected command is answered with
// an event on the events subject. The registry itself is loaded from and
// flushed to the JetStream KV snapshot, so the component can be restarted
// without losing history.
package capabilityapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/scrivenerlabs/scrivener/agent"
	"github.com/scrivenerlabs/scrivener/capability"
	"github.com/scrivenerlabs/scrivener/storage"
)

// Component implements the capability-api processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	agent *agent.Agent

	// Resolved subjects from port config
	outcomeSubject string
	evolveSubject  string
	eventSubject   string
	streamName     string

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	outcomesApplied   atomic.Int64
	evolutionsApplied atomic.Int64
	commandErrors     atomic.Int64
	lastActivityMu    sync.RWMutex
	lastActivity      time.Time
}

// NewComponent creates a new capability-api component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.Bucket == "" {
		config.Bucket = defaults.Bucket
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Resolve subjects from port definitions
	outcomeSubject := "scrivener.capability.outcome"
	evolveSubject := "scrivener.capability.evolve"
	eventSubject := "scrivener.capability.events"
	streamName := "SCRIVENER"

	for _, portDef := range config.Ports.Inputs {
		switch portDef.Name {
		case "outcomes":
			outcomeSubject = portDef.Subject
			streamName = portDef.StreamName
		case "evolutions":
			evolveSubject = portDef.Subject
		}
	}
	if len(config.Ports.Outputs) > 0 {
		eventSubject = config.Ports.Outputs[0].Subject
	}

	return &Component{
		name:           "capability-api",
		config:         config,
		natsClient:     deps.NATSClient,
		logger:         deps.GetLogger(),
		outcomeSubject: outcomeSubject,
		evolveSubject:  evolveSubject,
		eventSubject:   eventSubject,
		streamName:     streamName,
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized capability-api",
		"bucket", c.config.Bucket,
		"outcomes", c.outcomeSubject,
		"evolutions", c.evolveSubject,
		"events", c.eventSubject)
	return nil
}

// Start loads the registry from KV and begins consuming command messages.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}
	c.mu.Unlock()

	store, err := storage.NewKVStore(ctx, c.natsClient, c.config.Bucket, c.logger)
	if err != nil {
		return fmt.Errorf("open registry store: %w", err)
	}

	ag := agent.New(store, nil, agent.Options{
		AutoApply:       c.config.AutoApply,
		MaxCapabilities: c.config.MaxCapabilities,
	}, c.logger)
	if err := ag.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap agent: %w", err)
	}

	if err := c.waitForStream(ctx); err != nil {
		return fmt.Errorf("wait for stream: %w", err)
	}

	// Set running state while holding lock to prevent race condition
	c.mu.Lock()
	c.agent = ag
	c.running = true
	c.startTime = time.Now()

	consumeCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	outcomeCfg := natsclient.StreamConsumerConfig{
		StreamName:    c.streamName,
		ConsumerName:  "capability-api-outcomes",
		FilterSubject: c.outcomeSubject,
		DeliverPolicy: "new",
		AckPolicy:     "explicit",
		MaxDeliver:    3,
		AckWait:       10 * time.Second,
	}
	if err := c.natsClient.ConsumeStreamWithConfig(consumeCtx, outcomeCfg, c.handleOutcome); err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("start outcome consumer: %w", err)
	}

	evolveCfg := natsclient.StreamConsumerConfig{
		StreamName:    c.streamName,
		ConsumerName:  "capability-api-evolutions",
		FilterSubject: c.evolveSubject,
		DeliverPolicy: "new",
		AckPolicy:     "explicit",
		MaxDeliver:    3,
		AckWait:       10 * time.Second,
	}
	if err := c.natsClient.ConsumeStreamWithConfig(consumeCtx, evolveCfg, c.handleEvolve); err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("start evolve consumer: %w", err)
	}

	c.logger.Info("capability-api started",
		"bucket", c.config.Bucket,
		"capabilities", ag.Registry().Len(),
		"outcomes", c.outcomeSubject,
		"evolutions", c.evolveSubject)

	return nil
}

// rollbackStart undoes the running state after a failed consumer setup.
// The agent field stays set; a handler from an already started consumer
// may still be in flight.
func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// waitForStream waits for the JetStream stream to be available.
func (c *Component) waitForStream(ctx context.Context) error {
	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get JetStream: %w", err)
	}

	maxRetries := 30
	retryInterval := 100 * time.Millisecond
	maxInterval := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		_, err := js.Stream(ctx, c.streamName)
		if err == nil {
			return nil
		}

		c.logger.Debug("Stream not yet available, retrying",
			"stream", c.streamName,
			"attempt", i+1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			retryInterval = min(retryInterval*2, maxInterval)
		}
	}

	return fmt.Errorf("stream %s not found after %d retries", c.streamName, maxRetries)
}

// handleOutcome applies one outcome report to the registry.
func (c *Component) handleOutcome(ctx context.Context, msg jetstream.Msg) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	c.updateLastActivity()

	cmd, err := decodeOutcome(msg.Data())
	if err != nil {
		c.logger.Error("Failed to decode outcome command",
			"error", err,
			"subject", msg.Subject())
		c.commandErrors.Add(1)
		// Malformed data is never retryable
		_ = msg.Term()
		return
	}

	if err := c.agent.RecordOutcome(ctx, cmd.Name, cmd.Succeeded); err != nil {
		c.commandErrors.Add(1)
		c.publishEvent(ctx, &EventPayload{
			Kind:    EventError,
			Name:    cmd.Name,
			Error:   err.Error(),
			TraceID: cmd.TraceID,
		})
		// Unknown names never become known on redelivery
		_ = msg.Term()
		return
	}

	if err := c.agent.Save(ctx); err != nil {
		// The next successful save rewrites the full snapshot
		c.logger.Error("Failed to flush registry", "error", err)
	}

	event := &EventPayload{
		Kind:    EventOutcomeRecorded,
		Name:    cmd.Name,
		TraceID: cmd.TraceID,
	}
	if d, err := c.agent.Registry().Get(cmd.Name); err == nil {
		event.Version = d.Version
	}
	c.publishEvent(ctx, event)

	c.outcomesApplied.Add(1)
	_ = msg.Ack()

	c.logger.Debug("Recorded capability outcome",
		"capability", cmd.Name,
		"succeeded", cmd.Succeeded,
		"source", cmd.Source)
}

// handleEvolve applies one evolution command to the registry.
func (c *Component) handleEvolve(ctx context.Context, msg jetstream.Msg) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	c.updateLastActivity()

	cmd, err := decodeEvolve(msg.Data())
	if err != nil {
		c.logger.Error("Failed to decode evolve command",
			"error", err,
			"subject", msg.Subject())
		c.commandErrors.Add(1)
		// Malformed data is never retryable
		_ = msg.Term()
		return
	}

	var opts []capability.EvolveOption
	if cmd.Implementation != "" {
		opts = append(opts, capability.WithImplementation(cmd.Implementation))
	}
	if cmd.Stage != "" {
		stage := capability.ParseStage(cmd.Stage)
		if stage == "" {
			c.commandErrors.Add(1)
			c.publishEvent(ctx, &EventPayload{
				Kind:    EventError,
				Name:    cmd.Name,
				Error:   fmt.Sprintf("unknown stage %q", cmd.Stage),
				TraceID: cmd.TraceID,
			})
			_ = msg.Term()
			return
		}
		opts = append(opts, capability.WithStage(stage))
	}

	if err := c.agent.Registry().Evolve(cmd.Name, cmd.Note, opts...); err != nil {
		c.commandErrors.Add(1)
		c.publishEvent(ctx, &EventPayload{
			Kind:    EventError,
			Name:    cmd.Name,
			Error:   err.Error(),
			TraceID: cmd.TraceID,
		})
		_ = msg.Term()
		return
	}

	if err := c.agent.Save(ctx); err != nil {
		// The next successful save rewrites the full snapshot
		c.logger.Error("Failed to flush registry", "error", err)
	}

	event := &EventPayload{
		Kind:    EventEvolved,
		Name:    cmd.Name,
		Note:    cmd.Note,
		TraceID: cmd.TraceID,
	}
	if d, err := c.agent.Registry().Get(cmd.Name); err == nil {
		event.Version = d.Version
	}
	c.publishEvent(ctx, event)

	c.evolutionsApplied.Add(1)
	_ = msg.Ack()

	c.logger.Info("Evolved capability",
		"capability", cmd.Name,
		"version", event.Version,
		"note", cmd.Note)
}

// publishEvent reports an applied or rejected command on the events subject.
// Publish failures are logged, not retried; the command itself is already
// applied by the time an event is built.
func (c *Component) publishEvent(ctx context.Context, event *EventPayload) {
	baseMsg := message.NewBaseMessage(EventType, event, "capability-api")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		c.logger.Error("Failed to marshal capability event", "error", err)
		return
	}

	if err := c.natsClient.PublishToStream(ctx, c.eventSubject, data); err != nil {
		c.logger.Warn("Failed to publish capability event",
			"kind", event.Kind,
			"capability", event.Name,
			"error", err)
	}
}

// decodeOutcome accepts both raw OutcomePayload JSON and BaseMessage-wrapped
// commands.
func decodeOutcome(data []byte) (*OutcomePayload, error) {
	var cmd OutcomePayload
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Name == "" {
		payload, err := envelopePayload(data)
		if err != nil {
			return nil, err
		}
		cmd = OutcomePayload{}
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return nil, fmt.Errorf("unmarshal outcome command: %w", err)
		}
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// decodeEvolve accepts both raw EvolvePayload JSON and BaseMessage-wrapped
// commands.
func decodeEvolve(data []byte) (*EvolvePayload, error) {
	var cmd EvolvePayload
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Name == "" {
		payload, err := envelopePayload(data)
		if err != nil {
			return nil, err
		}
		cmd = EvolvePayload{}
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return nil, fmt.Errorf("unmarshal evolve command: %w", err)
		}
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// envelopePayload extracts the payload bytes from a BaseMessage envelope.
func envelopePayload(data []byte) ([]byte, error) {
	var baseMsg message.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	payloadBytes, err := json.Marshal(baseMsg.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return payloadBytes, nil
}

// Stop gracefully stops the component and flushes the registry.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	c.running = false
	cancel := c.cancel
	c.cancel = nil
	ag := c.agent
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if ag != nil {
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), timeout)
		defer cancelFlush()
		if err := ag.Close(flushCtx); err != nil {
			c.logger.Warn("Failed to flush registry on stop", "error", err)
		}
	}

	c.logger.Info("capability-api stopped",
		"outcomes_applied", c.outcomesApplied.Load(),
		"evolutions_applied", c.evolutionsApplied.Load(),
		"command_errors", c.commandErrors.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "capability-api",
		Type:        "processor",
		Description: "Exposes the capability registry to other agent processes over JetStream",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return apiSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.commandErrors.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

// Agent returns the orchestrator backing this component. It is nil until
// Start succeeds; serve mode reads registry gauges through it.
func (c *Component) Agent() *agent.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agent
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
