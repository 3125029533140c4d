package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scrivenerlabs/scrivener/capability"
	"github.com/scrivenerlabs/scrivener/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "scrivener-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	cfg := config.DefaultConfig()
	cfg.Storage.Path = filepath.Join(tmpDir, "data", "capabilities.json")
	cfg.Storage.MemoryPath = filepath.Join(tmpDir, "data", "memory.json")
	return cfg
}

func TestAppStartClose(t *testing.T) {
	cfg := testConfig(t)

	app := NewApp(cfg, slog.Default())
	app.out = &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		t.Fatalf("failed to start app: %v", err)
	}

	// A fresh agent seeds its starter capabilities
	if n := app.agent.Registry().Len(); n != 3 {
		t.Errorf("expected 3 seeded capabilities, got %d", n)
	}

	if err := app.Close(ctx); err != nil {
		t.Fatalf("failed to close app: %v", err)
	}

	if _, err := os.Stat(cfg.Storage.Path); err != nil {
		t.Errorf("capability snapshot not written: %v", err)
	}

	// A second app over the same files loads instead of reseeding
	app2 := NewApp(cfg, slog.Default())
	app2.out = &bytes.Buffer{}
	if err := app2.Start(ctx); err != nil {
		t.Fatalf("failed to restart app: %v", err)
	}
	defer app2.Close(ctx)

	if n := app2.agent.Registry().Len(); n != 3 {
		t.Errorf("expected 3 capabilities after reload, got %d", n)
	}
}

func TestRunConsole(t *testing.T) {
	cfg := testConfig(t)

	app := NewApp(cfg, slog.Default())
	out := &bytes.Buffer{}
	app.out = out
	app.in = strings.NewReader(strings.Join([]string{
		"help",
		"list",
		"outcome analyze_document_structure ok",
		"show analyze_document_structure",
		"bogus",
		"quit",
	}, "\n") + "\n")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Close(ctx)

	if err := app.RunConsole(ctx); err != nil {
		t.Fatalf("console failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"scrivener> ",
		"Available commands:",
		"analyze_document_structure",
		"Recorded.",
		"Error: unknown command \"bogus\"",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("console output missing %q:\n%s", want, got)
		}
	}
}

func TestRunConsoleEOF(t *testing.T) {
	cfg := testConfig(t)

	app := NewApp(cfg, slog.Default())
	app.out = &bytes.Buffer{}
	app.in = strings.NewReader("list\n")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Close(ctx)

	// Input ends without quit; the console returns on EOF
	if err := app.RunConsole(ctx); err != nil {
		t.Fatalf("console failed on EOF: %v", err)
	}
}

func TestHandleCommandOutcomeAndEvolve(t *testing.T) {
	cfg := testConfig(t)

	app := NewApp(cfg, slog.Default())
	app.out = &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Close(ctx)

	if err := app.handleCommand(ctx, "outcome analyze_document_structure ok"); err != nil {
		t.Fatalf("outcome command failed: %v", err)
	}

	d, err := app.agent.Registry().Get("analyze_document_structure")
	if err != nil {
		t.Fatalf("failed to get capability: %v", err)
	}
	if d.SuccessCount != 1 {
		t.Errorf("expected 1 success, got %d", d.SuccessCount)
	}

	if err := app.handleCommand(ctx, "evolve analyze_document_structure tightened heading detection"); err != nil {
		t.Fatalf("evolve command failed: %v", err)
	}

	d, err = app.agent.Registry().Get("analyze_document_structure")
	if err != nil {
		t.Fatalf("failed to get capability: %v", err)
	}
	if d.Version != 2 {
		t.Errorf("expected version 2 after evolve, got %d", d.Version)
	}

	if got := len(app.agent.Registry().History()); got != 1 {
		t.Errorf("expected 1 history event, got %d", got)
	}

	if err := app.handleCommand(ctx, "history"); err != nil {
		t.Fatalf("history command failed: %v", err)
	}

	// Error cases
	if err := app.handleCommand(ctx, "outcome analyze_document_structure meh"); err == nil {
		t.Error("expected error for bad verdict")
	}
	if err := app.handleCommand(ctx, "show no_such_capability"); !errors.Is(err, capability.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := app.handleCommand(ctx, "outcome"); err == nil {
		t.Error("expected usage error for bare outcome")
	}
}

func TestHandleCommandNewAndMemory(t *testing.T) {
	cfg := testConfig(t)

	app := NewApp(cfg, slog.Default())
	out := &bytes.Buffer{}
	app.out = out

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Close(ctx)

	if err := app.handleCommand(ctx, "new analysis summarize section headings"); err != nil {
		t.Fatalf("new command failed: %v", err)
	}
	if n := app.agent.Registry().Len(); n != 4 {
		t.Errorf("expected 4 capabilities after new, got %d", n)
	}

	// Recording an outcome leaves a learning memory behind
	if err := app.handleCommand(ctx, "outcome analyze_document_structure fail"); err != nil {
		t.Fatalf("outcome command failed: %v", err)
	}

	out.Reset()
	if err := app.handleCommand(ctx, "memory learning"); err != nil {
		t.Fatalf("memory command failed: %v", err)
	}
	if !strings.Contains(out.String(), "[learning]") {
		t.Errorf("expected a learning memory, got:\n%s", out.String())
	}

	if err := app.handleCommand(ctx, "memory bogus_kind"); err == nil {
		t.Error("expected error for unknown memory kind")
	}
}

func TestRegisterCapability(t *testing.T) {
	cfg := testConfig(t)

	app := NewApp(cfg, slog.Default())
	app.out = &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Close(ctx)

	err := app.registerCapability("custom_formatter", "generation", "Formats citations", "def custom_formatter(): pass")
	if err != nil {
		t.Fatalf("failed to register capability: %v", err)
	}

	d, err := app.agent.Registry().Get("custom_formatter")
	if err != nil {
		t.Fatalf("failed to get registered capability: %v", err)
	}
	if d.Type != capability.TypeGeneration {
		t.Errorf("expected generation type, got %s", d.Type)
	}

	err = app.registerCapability("custom_formatter", "generation", "Formats citations", "")
	if !errors.Is(err, capability.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"ok", true, false},
		{"success", true, false},
		{"OK", true, false},
		{"fail", false, false},
		{"failure", false, false},
		{"meh", false, true},
		{"", false, true},
	}

	for _, tt := range tests {
		got, err := parseVerdict(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseVerdict(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseVerdict(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatRate(t *testing.T) {
	d := &capability.Descriptor{}
	if got := formatRate(d); got != "-" {
		t.Errorf("expected - for no attempts, got %q", got)
	}

	d = &capability.Descriptor{SuccessCount: 3, FailureCount: 1}
	if got := formatRate(d); got != "75.0%" {
		t.Errorf("expected 75.0%%, got %q", got)
	}
}

func TestSummarizeContent(t *testing.T) {
	if got := summarizeContent(nil); got != "(empty)" {
		t.Errorf("expected (empty), got %q", got)
	}

	got := summarizeContent(map[string]any{"b": "two", "a": 1})
	if got != "a=1 b=two" {
		t.Errorf("expected sorted key=value pairs, got %q", got)
	}
}

func TestLoadConfigExplicitPath(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "scrivener-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "custom.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := loadConfig(path, slog.Default())
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug level, got %q", cfg.Log.Level)
	}

	// Snapshot paths resolve next to the config file
	wantPath := filepath.Join(tmpDir, "data", "capabilities.json")
	if cfg.Storage.Path != wantPath {
		t.Errorf("expected storage path %q, got %q", wantPath, cfg.Storage.Path)
	}
}
