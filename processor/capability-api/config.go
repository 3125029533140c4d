package capabilityapi

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// apiSchema defines the configuration schema.
var apiSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the capability API component.
type Config struct {
	// Bucket is the KV bucket prefix holding the registry snapshot.
	Bucket string `json:"bucket"`

	// Timeout bounds the handling of a single command message.
	Timeout time.Duration `json:"timeout"`

	// AutoApply runs a self-evolution cycle after every recorded outcome.
	AutoApply bool `json:"auto_apply,omitempty"`

	// MaxCapabilities retires the least-used capabilities beyond this
	// count after each evolution cycle. Zero means no cap.
	MaxCapabilities int `json:"max_capabilities,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Bucket:  "SCRIVENER",
		Timeout: 10 * time.Second,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "outcomes",
					Type:        "jetstream",
					Subject:     "scrivener.capability.outcome",
					StreamName:  "SCRIVENER",
					Description: "Outcome reports from capability callers",
					Required:    true,
				},
				{
					Name:        "evolutions",
					Type:        "jetstream",
					Subject:     "scrivener.capability.evolve",
					StreamName:  "SCRIVENER",
					Description: "Evolution commands from operators",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "events",
					Type:        "jetstream",
					Subject:     "scrivener.capability.events",
					StreamName:  "SCRIVENER",
					Description: "Registry events for applied and rejected commands",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxCapabilities < 0 {
		return fmt.Errorf("max_capabilities must not be negative")
	}
	return nil
}
