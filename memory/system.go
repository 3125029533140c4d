package memory

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMaxEntries caps the system when NewSystem is given zero.
	DefaultMaxEntries = 1000

	// DefaultRecallLimit is how many memories Recall returns when the
	// caller does not say.
	DefaultRecallLimit = 10
)

// Recall ranks by importance and recency combined. A memory older than
// the window scores zero on recency.
const (
	importanceWeight = 0.7
	recencyWeight    = 0.3
	recencyWindow    = 30 * 24 * time.Hour
)

// System stores and ranks the agent's memories. Safe for concurrent use.
// All returned memories are copies; mutating them does not affect the
// stored entries.
type System struct {
	mu      sync.Mutex
	max     int
	entries []*Memory
}

// NewSystem creates a memory system holding at most maxEntries memories.
// Zero means DefaultMaxEntries. When storing pushes the system over the
// cap, the lowest-scoring memories are forgotten first.
func NewSystem(maxEntries int) *System {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &System{max: maxEntries}
}

// Store records a new memory and returns a copy of it. Importance is
// clamped to [0, 1].
func (s *System) Store(kind Kind, content map[string]any, importance float64) *Memory {
	if content == nil {
		content = map[string]any{}
	}
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}

	m := newMemory(kind, content, importance)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, m)
	if len(s.entries) > s.max {
		s.forgetLocked(s.max)
	}
	return m.Clone()
}

// Recall returns up to limit memories of the given kind, best first. An
// empty kind matches every kind; limit zero or below means
// DefaultRecallLimit. Each returned memory has its access statistics
// bumped.
func (s *System) Recall(kind Kind, limit int) []*Memory {
	if limit <= 0 {
		limit = DefaultRecallLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var matched []*Memory
	for _, m := range s.entries {
		if kind != "" && m.Kind != kind {
			continue
		}
		matched = append(matched, m)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return score(matched[i], now) > score(matched[j], now)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*Memory, 0, len(matched))
	for _, m := range matched {
		m.LastAccessed = now
		m.AccessCount++
		out = append(out, m.Clone())
	}
	return out
}

// Len returns how many memories are stored.
func (s *System) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Forget drops the lowest-scoring memories until at most maxEntries
// remain. Returns how many were dropped.
func (s *System) Forget(maxEntries int) int {
	if maxEntries < 0 {
		maxEntries = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forgetLocked(maxEntries)
}

// forgetLocked drops overflow without disturbing the insertion order of
// the survivors. Caller holds the lock.
func (s *System) forgetLocked(maxEntries int) int {
	overflow := len(s.entries) - maxEntries
	if overflow <= 0 {
		return 0
	}

	now := time.Now().UTC()
	byScore := make([]*Memory, len(s.entries))
	copy(byScore, s.entries)
	sort.SliceStable(byScore, func(i, j int) bool {
		return score(byScore[i], now) < score(byScore[j], now)
	})

	drop := make(map[string]bool, overflow)
	for _, m := range byScore[:overflow] {
		drop[m.ID] = true
	}

	kept := s.entries[:0]
	for _, m := range s.entries {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	s.entries = kept
	return overflow
}

// score combines importance and recency. Newer memories score higher;
// anything older than the recency window competes on importance alone.
func score(m *Memory, now time.Time) float64 {
	age := now.Sub(m.CreatedAt)
	recency := 1.0 - min(float64(age)/float64(recencyWindow), 1.0)
	return m.Importance*importanceWeight + recency*recencyWeight
}

// MarshalJSON serializes the system as a memories list.
func (s *System) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.entries
	if entries == nil {
		entries = []*Memory{}
	}
	return json.Marshal(struct {
		Memories []*Memory `json:"memories"`
	}{
		Memories: entries,
	})
}

// UnmarshalJSON replaces the system's contents with the snapshot's. The
// capacity configured at construction is kept.
func (s *System) UnmarshalJSON(data []byte) error {
	var snapshot struct {
		Memories []*Memory `json:"memories"`
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.max == 0 {
		s.max = DefaultMaxEntries
	}
	s.entries = snapshot.Memories
	if len(s.entries) > s.max {
		s.forgetLocked(s.max)
	}
	return nil
}
