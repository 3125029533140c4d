// Package storage persists the capability registry and the agent's memory.
// Two registry backends share one contract: a JSON snapshot on disk and
// NATS JetStream KV buckets. The in-memory registry is the unit of work;
// stores load it whole and save it whole, never partially mutating it.
package storage

import (
	"context"

	"github.com/scrivenerlabs/scrivener/capability"
)

// Store loads and saves complete registry snapshots.
type Store interface {
	// Load reads the persisted state. Absent backing data yields a fresh
	// empty registry, not an error.
	Load(ctx context.Context) (*capability.Registry, error)

	// Save writes the registry's full state.
	Save(ctx context.Context, reg *capability.Registry) error

	// Close releases the store's resources.
	Close() error
}
