package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/scrivenerlabs/scrivener/agent"
	"github.com/scrivenerlabs/scrivener/capability"
	"github.com/scrivenerlabs/scrivener/config"
	"github.com/scrivenerlabs/scrivener/evolution"
	"github.com/scrivenerlabs/scrivener/memory"
	"github.com/scrivenerlabs/scrivener/research"
	"github.com/scrivenerlabs/scrivener/scaffold"
	"github.com/scrivenerlabs/scrivener/storage"
)

const timeFormat = "2006-01-02 15:04"

// App wires the agent and its file-backed stores together for the
// interactive console and the one-shot subcommands. Serve mode does not go
// through App; it wires the JetStream component directly.
type App struct {
	cfg    *config.Config
	agent  *agent.Agent
	logger *slog.Logger

	in  io.Reader
	out io.Writer
}

// NewApp creates an application over the snapshot files named in cfg.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	store := storage.NewFileStore(cfg.Storage.Path, logger)
	memFile := storage.NewMemoryFile(cfg.Storage.MemoryPath)

	ag := agent.New(store, memFile, agent.Options{
		Policy: evolution.Policy{
			Allow:     cfg.Evolution.Allow,
			Deny:      cfg.Evolution.Deny,
			MaxMedium: cfg.Evolution.MaxMedium,
			Promote:   cfg.Evolution.Promote,
		},
		AutoApply:       cfg.Evolution.AutoApply,
		MaxCapabilities: cfg.Evolution.MaxCapabilities,
		Research: research.FetchConfig{
			Timeout:   cfg.Research.Timeout,
			MaxBytes:  cfg.Research.MaxBytes,
			UserAgent: cfg.Research.UserAgent,
		},
	}, logger)

	return &App{
		cfg:    cfg,
		agent:  ag,
		logger: logger,
		in:     os.Stdin,
		out:    os.Stdout,
	}
}

// Start loads the snapshots and seeds the registry on first run.
func (a *App) Start(ctx context.Context) error {
	if err := a.agent.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap agent: %w", err)
	}
	return nil
}

// Close flushes both snapshots and releases the stores.
func (a *App) Close(ctx context.Context) error {
	return a.agent.Close(ctx)
}

// RunConsole runs the interactive loop until EOF or a quit command.
func (a *App) RunConsole(ctx context.Context) error {
	scanner := bufio.NewScanner(a.in)

	for {
		fmt.Fprint(a.out, "scrivener> ")

		if !scanner.Scan() {
			// EOF (Ctrl+D)
			fmt.Fprintln(a.out)
			return nil
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if input == "quit" || input == "exit" {
			return nil
		}

		if err := a.handleCommand(ctx, input); err != nil {
			fmt.Fprintf(a.out, "Error: %v\n", err)
		}
	}
}

// handleCommand dispatches one console line. The same handlers back the
// one-shot subcommands, which is why errors are returned instead of
// printed.
func (a *App) handleCommand(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "help":
		a.printHelp()
		return nil

	case "list":
		return a.cmdList()

	case "show":
		if len(args) != 1 {
			return fmt.Errorf("usage: show NAME")
		}
		return a.cmdShow(args[0])

	case "outcome":
		if len(args) != 2 {
			return fmt.Errorf("usage: outcome NAME ok|fail")
		}
		return a.cmdOutcome(ctx, args[0], args[1])

	case "evolve":
		if len(args) < 2 {
			return fmt.Errorf("usage: evolve NAME NOTE...")
		}
		return a.cmdEvolve(args[0], strings.Join(args[1:], " "))

	case "analyze":
		return a.cmdAnalyze(true)

	case "suggest":
		return a.cmdAnalyze(false)

	case "self-evolve":
		return a.cmdSelfEvolve(ctx)

	case "new":
		if len(args) < 2 {
			return fmt.Errorf("usage: new TYPE DESCRIPTION...")
		}
		return a.cmdNew(ctx, args[0], strings.Join(args[1:], " "))

	case "research":
		if len(args) != 1 {
			return fmt.Errorf("usage: research URL")
		}
		return a.cmdResearch(ctx, args[0])

	case "history":
		return a.cmdHistory()

	case "memory":
		kind := ""
		if len(args) > 0 {
			kind = args[0]
		}
		return a.cmdMemory(kind)

	case "save":
		if err := a.agent.Save(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Saved.")
		return nil

	default:
		return fmt.Errorf("unknown command %q (type help for available commands)", cmd)
	}
}

func (a *App) printHelp() {
	fmt.Fprintln(a.out, "Available commands:")
	fmt.Fprintln(a.out, "  list                     - List registered capabilities")
	fmt.Fprintln(a.out, "  show NAME                - Show one capability in full")
	fmt.Fprintln(a.out, "  outcome NAME ok|fail     - Record a use of a capability")
	fmt.Fprintln(a.out, "  evolve NAME NOTE...      - Evolve a capability with a note")
	fmt.Fprintln(a.out, "  analyze                  - Analyze the registry and suggest evolutions")
	fmt.Fprintln(a.out, "  suggest                  - Show evolution suggestions only")
	fmt.Fprintln(a.out, "  self-evolve              - Apply suggested evolutions within policy")
	fmt.Fprintln(a.out, "  new TYPE DESCRIPTION...  - Synthesize and register a new capability")
	fmt.Fprintln(a.out, "  research URL             - Fetch a page into a research note")
	fmt.Fprintln(a.out, "  history                  - Show the evolution history")
	fmt.Fprintln(a.out, "  memory [KIND]            - Recall memories, best first")
	fmt.Fprintln(a.out, "  save                     - Write both snapshots now")
	fmt.Fprintln(a.out, "  quit/exit                - Save and leave")
}

func (a *App) cmdList() error {
	reg := a.agent.Registry()
	if reg.Len() == 0 {
		fmt.Fprintln(a.out, "No capabilities registered.")
		return nil
	}

	fmt.Fprintf(a.out, "%-28s %-12s %-12s %4s %7s %6s\n", "NAME", "TYPE", "STAGE", "VER", "RATE", "USES")
	for d := range reg.List() {
		fmt.Fprintf(a.out, "%-28s %-12s %-12s %4d %7s %6d\n",
			d.Name, d.Type, d.Stage, d.Version, formatRate(d), d.UseCount)
	}
	fmt.Fprintf(a.out, "\n%d capabilities\n", reg.Len())
	return nil
}

func (a *App) cmdShow(name string) error {
	d, err := a.agent.Registry().Get(name)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Name:         %s\n", d.Name)
	fmt.Fprintf(a.out, "Description:  %s\n", d.Description)
	fmt.Fprintf(a.out, "Type:         %s\n", d.Type)
	fmt.Fprintf(a.out, "Stage:        %s\n", d.Stage)
	fmt.Fprintf(a.out, "Version:      %d\n", d.Version)
	fmt.Fprintf(a.out, "Outcomes:     %d ok / %d failed (%s)\n", d.SuccessCount, d.FailureCount, formatRate(d))
	if len(d.Dependencies) > 0 {
		fmt.Fprintf(a.out, "Dependencies: %s\n", strings.Join(d.Dependencies, ", "))
	}
	fmt.Fprintf(a.out, "Created:      %s\n", d.CreatedAt.Local().Format(timeFormat))
	fmt.Fprintf(a.out, "Modified:     %s\n", d.LastModified.Local().Format(timeFormat))
	if !d.LastUsed.IsZero() {
		fmt.Fprintf(a.out, "Last used:    %s\n", d.LastUsed.Local().Format(timeFormat))
	}
	if d.Implementation != "" {
		fmt.Fprintf(a.out, "\n%s\n", d.Implementation)
	}
	return nil
}

func (a *App) cmdOutcome(ctx context.Context, name, verdict string) error {
	succeeded, err := parseVerdict(verdict)
	if err != nil {
		return err
	}

	if err := a.agent.RecordOutcome(ctx, name, succeeded); err != nil {
		return err
	}

	d, err := a.agent.Registry().Get(name)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Recorded. %s is now %s over %d uses.\n", d.Name, formatRate(d), d.UseCount)
	return nil
}

func (a *App) cmdEvolve(name, note string) error {
	if err := a.agent.Registry().Evolve(name, note); err != nil {
		return err
	}

	d, err := a.agent.Registry().Get(name)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Evolved %s to v%d.\n", d.Name, d.Version)
	return nil
}

// cmdAnalyze prints the registry analysis and the pending suggestions.
// With full=false only the suggestions are shown.
func (a *App) cmdAnalyze(full bool) error {
	analysis, suggestions := a.agent.Analyze()

	if full {
		fmt.Fprintf(a.out, "Capabilities:  %d\n", analysis.Count)
		fmt.Fprintf(a.out, "Success rate:  %.1f%%\n", analysis.SuccessRate*100)
		if len(analysis.Stages) > 0 {
			stages := []capability.Stage{
				capability.StageConception, capability.StagePrototype, capability.StageStable,
				capability.StageOptimized, capability.StageAdvanced, capability.StageRetired,
			}
			fmt.Fprint(a.out, "Stages:       ")
			for _, s := range stages {
				if n := analysis.Stages[s]; n > 0 {
					fmt.Fprintf(a.out, " %s=%d", s, n)
				}
			}
			fmt.Fprintln(a.out)
		}
		if len(analysis.Opportunities) > 0 {
			fmt.Fprintf(a.out, "\nImprovement opportunities:\n")
			for _, opp := range analysis.Opportunities {
				fmt.Fprintf(a.out, "  [%s] %s: %s\n", opp.Priority, opp.Capability, opp.Kind)
			}
		}
		fmt.Fprintln(a.out)
	}

	if len(suggestions) == 0 {
		fmt.Fprintln(a.out, "No evolution suggestions.")
		return nil
	}
	fmt.Fprintf(a.out, "Suggestions (%d):\n", len(suggestions))
	for _, s := range suggestions {
		fmt.Fprintf(a.out, "  [%s] %s %s: %s\n", s.Priority, s.Capability, s.Strategy, s.Reason)
	}
	return nil
}

func (a *App) cmdSelfEvolve(ctx context.Context) error {
	applied, err := a.agent.SelfEvolve(ctx)
	if err != nil {
		return err
	}

	if len(applied) == 0 {
		fmt.Fprintln(a.out, "Nothing to evolve.")
		return nil
	}
	for _, ap := range applied {
		fmt.Fprintf(a.out, "Evolved %s to v%d (%s): %s\n", ap.Capability, ap.Version, ap.Strategy, ap.Reason)
		if ap.Promoted != "" {
			fmt.Fprintf(a.out, "Promoted %s to %s.\n", ap.Capability, ap.Promoted)
		}
	}
	return nil
}

func (a *App) cmdNew(ctx context.Context, typ, description string) error {
	d, err := a.agent.Synthesize(ctx, scaffold.Request{
		Type:        capability.Type(strings.ToLower(typ)),
		Description: description,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Registered %s (%s, %s).\n", d.Name, d.Type, d.Stage)
	return nil
}

func (a *App) cmdResearch(ctx context.Context, url string) error {
	note, err := a.agent.Research(ctx, url)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Collected %q (%d words) as %s.\n", note.Title, note.WordCount, note.ID)
	return nil
}

func (a *App) cmdHistory() error {
	events := a.agent.Registry().History()
	if len(events) == 0 {
		fmt.Fprintln(a.out, "No evolutions recorded.")
		return nil
	}

	for _, e := range events {
		fmt.Fprintf(a.out, "#%-3d %s  %s v%d -> v%d", e.Seq, e.Timestamp.Local().Format(timeFormat), e.Capability, e.FromVersion, e.ToVersion)
		if e.ToStage != e.FromStage {
			fmt.Fprintf(a.out, " (%s -> %s)", e.FromStage, e.ToStage)
		}
		fmt.Fprintf(a.out, ": %s\n", e.Note)
	}
	return nil
}

func (a *App) cmdMemory(kindArg string) error {
	kind := memory.Kind(strings.ToLower(kindArg))
	if kind != "" && !kind.IsValid() {
		return fmt.Errorf("unknown memory kind %q", kindArg)
	}

	memories := a.agent.Memories().Recall(kind, 0)
	if len(memories) == 0 {
		fmt.Fprintln(a.out, "No memories.")
		return nil
	}

	for _, m := range memories {
		fmt.Fprintf(a.out, "[%s] %.2f %s  %s\n", m.Kind, m.Importance, m.CreatedAt.Local().Format(timeFormat), summarizeContent(m.Content))
	}
	return nil
}

// registerCapability backs the register subcommand. The console path uses
// new, which synthesizes the implementation instead of taking one.
func (a *App) registerCapability(name, typ, description, implementation string) error {
	err := a.agent.Registry().Register(&capability.Descriptor{
		Name:           name,
		Description:    description,
		Type:           capability.Type(strings.ToLower(typ)),
		Implementation: implementation,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Registered %s.\n", name)
	return nil
}

func parseVerdict(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "ok", "success":
		return true, nil
	case "fail", "failure":
		return false, nil
	}
	return false, fmt.Errorf("verdict must be ok or fail, got %q", s)
}

func formatRate(d *capability.Descriptor) string {
	if d.Attempts() == 0 {
		return "-"
	}
	return strconv.FormatFloat(d.SuccessRate()*100, 'f', 1, 64) + "%"
}

// summarizeContent renders a memory's content map on one line, keys sorted.
func summarizeContent(content map[string]any) string {
	if len(content) == 0 {
		return "(empty)"
	}

	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%v", k, content[k])
	}
	return b.String()
}
