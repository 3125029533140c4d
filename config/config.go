// Package config provides configuration loading and management for Scrivener.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Scrivener configuration
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	NATS      NATSConfig      `yaml:"nats"`
	Evolution EvolutionConfig `yaml:"evolution"`
	Research  ResearchConfig  `yaml:"research"`
	API       APIConfig       `yaml:"api"`
}

// LogConfig configures structured logging
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string `yaml:"level"`
	// Format selects the log handler (text or json)
	Format string `yaml:"format"`
}

// StorageConfig configures where snapshots live on disk
type StorageConfig struct {
	// Path is the capability snapshot file (resolved by the loader if empty)
	Path string `yaml:"path"`
	// MemoryPath is the agent memory file (resolved by the loader if empty)
	MemoryPath string `yaml:"memory_path"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
	// Bucket is the JetStream KV bucket prefix
	Bucket string `yaml:"bucket"`
}

// EvolutionConfig configures the self-evolution engine
type EvolutionConfig struct {
	// AutoApply runs the evolution engine after every recorded outcome
	AutoApply bool `yaml:"auto_apply"`
	// MaxMedium caps medium-priority evolutions per run (0 = engine default, negative = high only)
	MaxMedium int `yaml:"max_medium"`
	// Allow restricts evolution to capabilities matching these glob patterns (empty = allow all)
	Allow []string `yaml:"allow"`
	// Deny excludes capabilities matching these glob patterns
	Deny []string `yaml:"deny"`
	// Promote advances lifecycle stages when an evolution earns it
	Promote bool `yaml:"promote"`
	// MaxCapabilities retires least-used capabilities beyond this count (0 = unlimited)
	MaxCapabilities int `yaml:"max_capabilities"`
}

// ResearchConfig configures web research fetches
type ResearchConfig struct {
	// Timeout is the maximum time for a single page fetch
	Timeout time.Duration `yaml:"timeout"`
	// MaxBytes caps the fetched page size
	MaxBytes int64 `yaml:"max_bytes"`
	// UserAgent is sent with research requests
	UserAgent string `yaml:"user_agent"`
}

// APIConfig configures the HTTP surface of serve mode
type APIConfig struct {
	// Enabled starts the metrics and health endpoints in serve mode
	Enabled bool `yaml:"enabled"`
	// MetricsAddr is the listen address for /metrics and /healthz
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Path:       "", // Resolved by the loader
			MemoryPath: "",
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
			Bucket:   "SCRIVENER",
		},
		Evolution: EvolutionConfig{
			AutoApply:       false,
			MaxMedium:       2,
			Allow:           nil, // Allow all
			Deny:            nil,
			Promote:         false,
			MaxCapabilities: 0, // Unlimited
		},
		Research: ResearchConfig{
			Timeout:   30 * time.Second,
			MaxBytes:  10 << 20,
			UserAgent: "scrivener-research/1.0",
		},
		API: APIConfig{
			Enabled:     false,
			MetricsAddr: ":9090",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json")
	}
	if c.NATS.Bucket == "" {
		return fmt.Errorf("nats.bucket is required")
	}
	if c.Evolution.MaxCapabilities < 0 {
		return fmt.Errorf("evolution.max_capabilities must not be negative")
	}
	if c.Research.Timeout <= 0 {
		return fmt.Errorf("research.timeout must be positive")
	}
	if c.Research.MaxBytes <= 0 {
		return fmt.Errorf("research.max_bytes must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}

	// Storage
	if other.Storage.Path != "" {
		c.Storage.Path = other.Storage.Path
	}
	if other.Storage.MemoryPath != "" {
		c.Storage.MemoryPath = other.Storage.MemoryPath
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
	if other.NATS.Bucket != "" {
		c.NATS.Bucket = other.NATS.Bucket
	}

	// Evolution
	if other.Evolution.AutoApply {
		c.Evolution.AutoApply = true
	}
	if other.Evolution.MaxMedium != 0 {
		c.Evolution.MaxMedium = other.Evolution.MaxMedium
	}
	if len(other.Evolution.Allow) > 0 {
		c.Evolution.Allow = other.Evolution.Allow
	}
	if len(other.Evolution.Deny) > 0 {
		c.Evolution.Deny = other.Evolution.Deny
	}
	if other.Evolution.Promote {
		c.Evolution.Promote = true
	}
	if other.Evolution.MaxCapabilities != 0 {
		c.Evolution.MaxCapabilities = other.Evolution.MaxCapabilities
	}

	// Research
	if other.Research.Timeout != 0 {
		c.Research.Timeout = other.Research.Timeout
	}
	if other.Research.MaxBytes != 0 {
		c.Research.MaxBytes = other.Research.MaxBytes
	}
	if other.Research.UserAgent != "" {
		c.Research.UserAgent = other.Research.UserAgent
	}

	// API
	if other.API.Enabled {
		c.API.Enabled = true
	}
	if other.API.MetricsAddr != "" {
		c.API.MetricsAddr = other.API.MetricsAddr
	}
}
