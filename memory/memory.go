// Package memory is the agent's working memory: small structured facts
// about what it has seen and done, ranked for recall by importance and
// recency. It backs the learning loop (outcome and evolution memories) and
// the research loop (document memories).
package memory

import (
	"time"

	"github.com/google/uuid"
)

// Kind categorizes a memory.
type Kind string

const (
	// KindSpatial is a location within a document.
	KindSpatial Kind = "spatial"

	// KindTemporal records when something happened.
	KindTemporal Kind = "temporal"

	// KindContextual captures content understanding and relationships.
	KindContextual Kind = "contextual"

	// KindProcedural records how to perform a task.
	KindProcedural Kind = "procedural"

	// KindDocument holds document properties and structure.
	KindDocument Kind = "document"

	// KindLearning tracks outcomes and self-improvement.
	KindLearning Kind = "learning"
)

// IsValid checks if a kind string is one of the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindSpatial, KindTemporal, KindContextual, KindProcedural, KindDocument, KindLearning:
		return true
	}
	return false
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Memory is one remembered fact.
type Memory struct {
	// ID uniquely identifies this memory (format: mem-{uuid}).
	ID string `json:"id"`

	// Kind categorizes the memory.
	Kind Kind `json:"kind"`

	// Content is the structured fact itself.
	Content map[string]any `json:"content"`

	// Importance weights the memory for recall, in [0, 1].
	Importance float64 `json:"importance"`

	// CreatedAt is when the memory was stored.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessed is when the memory was last recalled.
	LastAccessed time.Time `json:"last_accessed"`

	// AccessCount is how many times the memory has been recalled.
	AccessCount int `json:"access_count"`
}

// Clone returns a deep copy of the memory.
func (m *Memory) Clone() *Memory {
	out := *m
	if m.Content != nil {
		out.Content = make(map[string]any, len(m.Content))
		for k, v := range m.Content {
			out.Content[k] = v
		}
	}
	return &out
}

func newMemory(kind Kind, content map[string]any, importance float64) *Memory {
	now := time.Now().UTC()
	return &Memory{
		ID:           "mem-" + uuid.NewString(),
		Kind:         kind,
		Content:      content,
		Importance:   importance,
		CreatedAt:    now,
		LastAccessed: now,
	}
}
