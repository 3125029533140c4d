package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/scrivenerlabs/scrivener/capability"
)

// DefaultBucketPrefix namespaces the KV buckets for one agent instance.
const DefaultBucketPrefix = "SCRIVENER"

// Bucket name suffixes appended to the prefix.
const (
	capabilitiesSuffix = "_CAPABILITIES"
	eventsSuffix       = "_CAPABILITY_EVENTS"
)

// KVStore persists the registry in NATS JetStream KV: descriptors keyed by
// capability name, evolution events keyed by sequence number. Descriptors
// are overwritten on every save; events are append-only, so only sequences
// beyond the stored high-water mark are written.
type KVStore struct {
	nc           *natsclient.Client
	capabilities jetstream.KeyValue
	events       jetstream.KeyValue
	logger       *slog.Logger

	mu        sync.Mutex
	highWater int
}

// NewKVStore creates a KV-backed registry store, creating both buckets if
// needed. An empty prefix means DefaultBucketPrefix.
func NewKVStore(ctx context.Context, nc *natsclient.Client, prefix string, logger *slog.Logger) (*KVStore, error) {
	if prefix == "" {
		prefix = DefaultBucketPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	// CreateOrUpdateKeyValue is idempotent and handles race conditions
	caps, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      prefix + capabilitiesSuffix,
		Description: "Capability descriptors keyed by name",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create capabilities bucket: %w", err)
	}

	events, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      prefix + eventsSuffix,
		Description: "Capability evolution history keyed by sequence",
	})
	if err != nil {
		return nil, fmt.Errorf("create events bucket: %w", err)
	}

	return &KVStore{
		nc:           nc,
		capabilities: caps,
		events:       events,
		logger:       logger,
	}, nil
}

// Load reads every descriptor and event and rebuilds the registry. Empty
// buckets yield a fresh registry. Entries that fail to load or parse are
// skipped, matching how the rest of the system treats per-key damage.
func (s *KVStore) Load(ctx context.Context) (*capability.Registry, error) {
	caps := make(map[string]*capability.Descriptor)

	keys, err := s.capabilities.Keys(ctx)
	if err != nil && !errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, fmt.Errorf("list capability keys: %w", err)
	}
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		entry, err := s.capabilities.Get(ctx, key)
		if err != nil {
			continue // Skip errors for individual keys
		}

		var d capability.Descriptor
		if err := json.Unmarshal(entry.Value(), &d); err != nil {
			s.logger.Warn("skipping unreadable capability entry", "key", key, "error", err)
			continue
		}
		caps[key] = &d
	}

	var history []capability.Event
	eventKeys, err := s.events.Keys(ctx)
	if err != nil && !errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, fmt.Errorf("list event keys: %w", err)
	}
	for _, key := range eventKeys {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		entry, err := s.events.Get(ctx, key)
		if err != nil {
			continue
		}

		var evt capability.Event
		if err := json.Unmarshal(entry.Value(), &evt); err != nil {
			s.logger.Warn("skipping unreadable event entry", "key", key, "error", err)
			continue
		}
		history = append(history, evt)
	}

	reg := capability.Restore(caps, history)

	s.mu.Lock()
	s.highWater = maxSeq(reg.History())
	s.mu.Unlock()

	return reg, nil
}

// Save writes every descriptor and any events beyond the high-water mark.
func (s *KVStore) Save(ctx context.Context, reg *capability.Registry) error {
	for d := range reg.List() {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal capability %q: %w", d.Name, err)
		}
		if _, err := s.capabilities.Put(ctx, d.Name, data); err != nil {
			return fmt.Errorf("put capability %q: %w", d.Name, err)
		}
	}

	s.mu.Lock()
	highWater := s.highWater
	s.mu.Unlock()

	history := reg.History()
	written := 0
	for _, evt := range history {
		if evt.Seq <= highWater {
			continue
		}
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", evt.Seq, err)
		}
		if _, err := s.events.Put(ctx, eventKey(evt.Seq), data); err != nil {
			return fmt.Errorf("put event %d: %w", evt.Seq, err)
		}
		written++
	}

	s.mu.Lock()
	if seq := maxSeq(history); seq > s.highWater {
		s.highWater = seq
	}
	s.mu.Unlock()

	s.logger.Debug("saved registry to kv",
		"capabilities", reg.Len(),
		"new_events", written)
	return nil
}

// Close is a no-op; the NATS connection belongs to the caller.
func (s *KVStore) Close() error {
	return nil
}

func eventKey(seq int) string {
	return fmt.Sprintf("evt-%d", seq)
}

func maxSeq(history []capability.Event) int {
	highest := 0
	for _, evt := range history {
		if evt.Seq > highest {
			highest = evt.Seq
		}
	}
	return highest
}
