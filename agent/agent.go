// Package agent ties the capability registry to everything around it: the
// durable stores, the scaffold factory, the evolution engine, memory, and
// research. It is the one place that knows the whole lifecycle; the console
// and the NATS surface both drive it.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scrivenerlabs/scrivener/capability"
	"github.com/scrivenerlabs/scrivener/evolution"
	"github.com/scrivenerlabs/scrivener/memory"
	"github.com/scrivenerlabs/scrivener/research"
	"github.com/scrivenerlabs/scrivener/scaffold"
	"github.com/scrivenerlabs/scrivener/storage"
)

// Memory importance per recorded event. Routine outcomes matter less to
// recall than failures, evolution cycles, and collected sources.
const (
	outcomeImportance   = 0.5
	failureImportance   = 0.7
	evolutionImportance = 0.8
	documentImportance  = 0.9
)

// Options configures an Agent.
type Options struct {
	// Policy bounds what SelfEvolve may touch.
	Policy evolution.Policy

	// AutoApply runs a self-evolution cycle after every recorded outcome.
	AutoApply bool

	// MaxCapabilities retires the least-used overflow after each evolution
	// cycle. Zero means no cap.
	MaxCapabilities int

	// MaxMemories caps the memory system when no snapshot is loaded.
	// Zero means the memory default.
	MaxMemories int

	// Research configures the research fetcher.
	Research research.FetchConfig
}

// Agent owns one capability registry and its surroundings.
type Agent struct {
	store   storage.Store
	memFile *storage.MemoryFile
	opts    Options
	logger  *slog.Logger

	registry *capability.Registry
	engine   *evolution.Engine
	memories *memory.System
	factory  *scaffold.Factory
	research *research.Service
}

// New creates an agent over the given store. memFile may be nil to keep
// memory in-process only. Call Bootstrap before anything else.
func New(store storage.Store, memFile *storage.MemoryFile, opts Options, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	reg := capability.NewRegistry()
	return &Agent{
		store:    store,
		memFile:  memFile,
		opts:     opts,
		logger:   logger,
		registry: reg,
		engine:   evolution.NewEngine(reg, opts.Policy, logger),
		memories: memory.NewSystem(opts.MaxMemories),
		factory:  scaffold.NewFactory(logger),
		research: research.NewService(opts.Research, logger),
	}
}

// Registry exposes the underlying capability registry.
func (a *Agent) Registry() *capability.Registry {
	return a.registry
}

// Memories exposes the agent's memory system.
func (a *Agent) Memories() *memory.System {
	return a.memories
}

// Bootstrap loads the snapshots and, on a first run, seeds the starter
// capabilities the agent needs before it has learned anything: document
// structure analysis, typing behavior adaptation, and behavior
// self-modification.
func (a *Agent) Bootstrap(ctx context.Context) error {
	reg, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load capability snapshot: %w", err)
	}
	a.registry = reg
	a.engine = evolution.NewEngine(reg, a.opts.Policy, a.logger)

	if a.memFile != nil {
		memories, err := a.memFile.Load(ctx)
		if err != nil {
			return fmt.Errorf("load memory snapshot: %w", err)
		}
		a.memories = memories
	}

	if reg.Len() == 0 {
		if err := a.seed(ctx); err != nil {
			return err
		}
		a.logger.Info("seeded starter capabilities", "count", reg.Len())
		return a.Save(ctx)
	}

	a.logger.Info("loaded capability registry",
		"capabilities", reg.Len(),
		"events", len(reg.History()),
		"memories", a.memories.Len())
	return nil
}

// seed registers the starter capabilities of a fresh agent.
func (a *Agent) seed(ctx context.Context) error {
	starters := []scaffold.Request{
		{
			Name:        "analyze_document_structure",
			Description: "Analyze the structure of the current document",
			Type:        capability.TypeAnalysis,
			Hints: map[string]any{
				"uses_word_interface": true,
				"returns_structure":   true,
			},
		},
		{
			Name:        "optimize_typing_behavior",
			Description: "Optimize typing behavior based on document type and content",
			Type:        capability.TypeAdaptation,
			Parameters:  []string{"document_type"},
			Hints: map[string]any{
				"modifies_typing_speed": true,
				"adapts_to_content":     true,
			},
		},
		{
			Name:        "evolve_agent_behavior",
			Description: "Modify the agent's behavior based on performance analysis",
			Type:        capability.TypeMeta,
			Parameters:  []string{"behavior_area", "modification_type"},
			Hints: map[string]any{
				"self_modifying":    true,
				"requires_analysis": true,
			},
		},
	}

	for _, req := range starters {
		d, err := a.factory.Build(ctx, req, a.registry.Has)
		if err != nil {
			return fmt.Errorf("seed %q: %w", req.Name, err)
		}
		if err := a.registry.Register(d); err != nil {
			return fmt.Errorf("seed %q: %w", req.Name, err)
		}
	}
	return nil
}

// RecordOutcome records one use of a capability and remembers what
// happened. With AutoApply set, a self-evolution cycle follows.
func (a *Agent) RecordOutcome(ctx context.Context, name string, succeeded bool) error {
	if err := a.registry.RecordOutcome(name, succeeded); err != nil {
		return err
	}

	d, err := a.registry.Get(name)
	if err != nil {
		return err
	}

	importance := outcomeImportance
	if !succeeded {
		importance = failureImportance
	}
	a.memories.Store(memory.KindLearning, map[string]any{
		"event":        "outcome",
		"capability":   name,
		"succeeded":    succeeded,
		"success_rate": d.SuccessRate(),
	}, importance)

	if a.opts.AutoApply {
		if _, err := a.SelfEvolve(ctx); err != nil {
			a.logger.Warn("auto evolution failed", "error", err)
		}
	}
	return nil
}

// SelfEvolve runs one evolution cycle, retires over-cap capabilities, and
// persists the result. Returns what was applied.
func (a *Agent) SelfEvolve(ctx context.Context) ([]evolution.Applied, error) {
	applied, err := a.engine.Run(ctx)
	if err != nil {
		return applied, err
	}

	if a.opts.MaxCapabilities > 0 {
		retired, err := evolution.Retire(a.registry, a.opts.MaxCapabilities)
		if err != nil {
			return applied, err
		}
		if len(retired) > 0 {
			a.logger.Info("retired over-cap capabilities", "count", len(retired))
		}
	}

	names := make([]string, 0, len(applied))
	for _, ap := range applied {
		names = append(names, ap.Capability)
	}
	a.memories.Store(memory.KindLearning, map[string]any{
		"event":        "self_evolution",
		"applied":      len(applied),
		"capabilities": names,
	}, evolutionImportance)

	if err := a.Save(ctx); err != nil {
		return applied, err
	}
	return applied, nil
}

// Analyze summarizes the registry and derives evolution suggestions,
// remembering the result as a learning entry.
func (a *Agent) Analyze() (capability.Analysis, []evolution.Suggestion) {
	analysis := a.registry.Analyze()
	suggestions := evolution.Suggest(a.registry)

	a.memories.Store(memory.KindLearning, map[string]any{
		"event":         "analysis",
		"capabilities":  analysis.Count,
		"opportunities": len(analysis.Opportunities),
		"suggestions":   len(suggestions),
	}, evolutionImportance)

	return analysis, suggestions
}

// Research collects a source URL into a markdown note and files it as a
// document memory.
func (a *Agent) Research(ctx context.Context, rawURL string) (*research.Note, error) {
	note, err := a.research.Collect(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	a.memories.Store(memory.KindDocument, map[string]any{
		"note_id":    note.ID,
		"url":        note.URL,
		"title":      note.Title,
		"markdown":   note.Markdown,
		"word_count": note.WordCount,
	}, documentImportance)

	return note, nil
}

// Synthesize builds a new capability from the request, registers it, and
// persists the registry. Returns the registered descriptor.
func (a *Agent) Synthesize(ctx context.Context, req scaffold.Request) (*capability.Descriptor, error) {
	d, err := a.factory.Build(ctx, req, a.registry.Has)
	if err != nil {
		return nil, err
	}
	if err := a.registry.Register(d); err != nil {
		return nil, err
	}
	a.logger.Info("synthesized capability", "name", d.Name, "type", d.Type.String())

	if err := a.Save(ctx); err != nil {
		return nil, err
	}
	return a.registry.Get(d.Name)
}

// Save flushes the capability and memory snapshots.
func (a *Agent) Save(ctx context.Context) error {
	if err := a.store.Save(ctx, a.registry); err != nil {
		return fmt.Errorf("save capability snapshot: %w", err)
	}
	if a.memFile != nil {
		if err := a.memFile.Save(ctx, a.memories); err != nil {
			return fmt.Errorf("save memory snapshot: %w", err)
		}
	}
	return nil
}

// Close saves once more and releases the store.
func (a *Agent) Close(ctx context.Context) error {
	err := a.Save(ctx)
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	return err
}
