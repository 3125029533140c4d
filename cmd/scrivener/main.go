// Package main provides the scrivener binary entry point.
// Scrivener is a self-evolving capability agent: a versioned registry of
// capability descriptors with outcome telemetry, an evolution engine, and
// a JetStream surface for other agent processes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c360studio/semstreams/component"
	ssconfig "github.com/c360studio/semstreams/config"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/scrivenerlabs/scrivener/capability"
	"github.com/scrivenerlabs/scrivener/config"
	capabilityapi "github.com/scrivenerlabs/scrivener/processor/capability-api"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "scrivener"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "scrivener",
		Short: "Self-evolving capability agent",
		Long: `Scrivener is a self-evolving capability agent built around a versioned
capability registry.

It provides:
- A registry of capability descriptors with outcome telemetry
- An evolution engine that improves capabilities from their track record
- Research intake that turns web pages into agent memories
- A JetStream surface so other agent processes can record outcomes

Run without a subcommand for the interactive console, or use serve to
expose the registry over NATS.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(configPath, logLevel)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, _ := cmd.Flags().GetBool("project")
			return runInit(project)
		},
	}
	initCmd.Flags().Bool("project", false, "Write scrivener.yaml in the current directory instead of the user config")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configPath, logLevel, func(ctx context.Context, app *App) error {
				return app.cmdList()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show NAME",
		Short: "Show one capability in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configPath, logLevel, func(ctx context.Context, app *App) error {
				return app.cmdShow(args[0])
			})
		},
	})

	registerCmd := &cobra.Command{
		Use:   "register NAME",
		Short: "Register a capability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, _ := cmd.Flags().GetString("type")
			desc, _ := cmd.Flags().GetString("desc")
			implPath, _ := cmd.Flags().GetString("impl")

			implementation := ""
			if implPath != "" {
				data, err := os.ReadFile(implPath)
				if err != nil {
					return fmt.Errorf("read implementation: %w", err)
				}
				implementation = string(data)
			}

			return withApp(configPath, logLevel, func(ctx context.Context, app *App) error {
				return app.registerCapability(args[0], typ, desc, implementation)
			})
		},
	}
	registerCmd.Flags().String("type", "core", "Capability type (core, interaction, analysis, generation, adaptation, meta)")
	registerCmd.Flags().String("desc", "", "What the capability does")
	registerCmd.Flags().String("impl", "", "File holding the implementation")
	cmd.AddCommand(registerCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "outcome NAME ok|fail",
		Short: "Record a use of a capability",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configPath, logLevel, func(ctx context.Context, app *App) error {
				return app.cmdOutcome(ctx, args[0], args[1])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "evolve NAME NOTE...",
		Short: "Evolve a capability with a modification note",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configPath, logLevel, func(ctx context.Context, app *App) error {
				return app.cmdEvolve(args[0], strings.Join(args[1:], " "))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "analyze",
		Short: "Analyze the registry and suggest evolutions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configPath, logLevel, func(ctx context.Context, app *App) error {
				return app.cmdAnalyze(true)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Expose the registry over NATS JetStream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, logLevel)
		},
	})

	return cmd
}

// loadConfig resolves the effective config: the layered loader by default,
// or exactly the named file merged over defaults.
func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath == "" {
		return config.NewLoader(logger).Load()
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fileCfg, err := config.LoadFromFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.Merge(fileCfg)

	// Snapshot paths default to a data dir next to the config file
	root := filepath.Dir(absPath)
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(root, config.DataDir, config.CapabilityFile)
	}
	if cfg.Storage.MemoryPath == "" {
		cfg.Storage.MemoryPath = filepath.Join(root, config.DataDir, config.MemoryFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads config and builds the process logger. A non-empty logLevel
// flag wins over the configured level.
func setup(configPath, logLevel string) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(configPath, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	return cfg, logger, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func runConsole(configPath, logLevel string) error {
	printBanner()

	cfg, logger, err := setup(configPath, logLevel)
	if err != nil {
		return err
	}

	app := NewApp(cfg, logger)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			logger.Error("Failed to close agent", "error", err)
		}
	}()

	fmt.Fprintf(app.out, "✓ Agent ready (%d capabilities)\n", app.agent.Registry().Len())
	fmt.Fprintln(app.out, "Type help for available commands.")
	return app.RunConsole(ctx)
}

// withApp runs one command against a bootstrapped agent and flushes the
// snapshots afterwards. Backs the one-shot subcommands.
func withApp(configPath, logLevel string, fn func(ctx context.Context, app *App) error) error {
	cfg, logger, err := setup(configPath, logLevel)
	if err != nil {
		return err
	}

	app := NewApp(cfg, logger)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		return err
	}

	runErr := fn(ctx, app)
	if err := app.Close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func runInit(project bool) error {
	logger := newLogger(config.LogConfig{Level: "info", Format: "text"})

	if project {
		path := config.ProjectConfigFile
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.DefaultConfig().SaveToFile(path); err != nil {
			return fmt.Errorf("write project config: %w", err)
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	}

	loader := config.NewLoader(logger)
	if err := loader.EnsureUserConfig(); err != nil {
		return fmt.Errorf("write user config: %w", err)
	}
	return nil
}

func runServe(configPath, logLevel string) error {
	printBanner()

	cfg, logger, err := setup(configPath, logLevel)
	if err != nil {
		return err
	}

	ctx := context.Background()

	// Environment variable override takes precedence and always means an
	// external server
	natsURL := cfg.NATS.URL
	external := natsURL != "" && !cfg.NATS.Embedded
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		natsURL = envURL
		external = true
	} else if envURL := os.Getenv("SCRIVENER_NATS_URL"); envURL != "" {
		natsURL = envURL
		external = true
	}

	var embedded *server.Server
	if !external {
		ns, err := startEmbeddedNATS(cfg.Storage.Path)
		if err != nil {
			return err
		}
		embedded = ns
		defer func() {
			ns.Shutdown()
			ns.WaitForShutdown()
		}()
		natsURL = ns.ClientURL()
		logger.Info("Embedded NATS server started", "url", natsURL)
	}

	natsClient, err := connectToNATS(ctx, natsURL, embedded != nil, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	if err := ensureStreams(ctx, natsClient, logger); err != nil {
		return err
	}

	// Component registry mirrors how a full platform would discover the
	// processor; serve wires the single component directly.
	componentRegistry := component.NewRegistry()
	if err := capabilityapi.Register(componentRegistry); err != nil {
		return fmt.Errorf("register capability-api: %w", err)
	}
	factories := componentRegistry.ListFactories()
	slog.Info("Component factories registered", "count", len(factories))

	componentJSON, err := json.Marshal(capabilityapi.Config{
		Bucket:          cfg.NATS.Bucket,
		AutoApply:       cfg.Evolution.AutoApply,
		MaxCapabilities: cfg.Evolution.MaxCapabilities,
	})
	if err != nil {
		return fmt.Errorf("marshal component config: %w", err)
	}

	discoverable, err := capabilityapi.NewComponent(componentJSON, component.Dependencies{
		NATSClient: natsClient,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create capability-api: %w", err)
	}
	comp, ok := discoverable.(*capabilityapi.Component)
	if !ok {
		return fmt.Errorf("unexpected component type %T", discoverable)
	}

	if err := comp.Initialize(); err != nil {
		return fmt.Errorf("initialize capability-api: %w", err)
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := comp.Start(signalCtx); err != nil {
		return fmt.Errorf("start capability-api: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.API.Enabled {
		metricsSrv = startMetricsServer(cfg.API.MetricsAddr, comp, logger)
	}

	slog.Info("Scrivener ready",
		"version", Version,
		"bucket", cfg.NATS.Bucket,
		"embedded_nats", embedded != nil)

	// Block until shutdown signal
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := comp.Stop(30 * time.Second); err != nil {
		slog.Error("Error stopping capability-api", "error", err)
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Error stopping metrics server", "error", err)
		}
	}

	slog.Info("Scrivener shutdown complete")
	return nil
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║            Scrivener v" + Version + "                    ║")
	fmt.Println("║      Self-Evolving Capability Agent           ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}

// startEmbeddedNATS runs an in-process JetStream server. The store dir
// sits next to the capability snapshot so KV state survives restarts.
func startEmbeddedNATS(snapshotPath string) (*server.Server, error) {
	opts := &server.Options{
		Port:      -1, // Random available port
		JetStream: true,
		StoreDir:  filepath.Join(filepath.Dir(snapshotPath), "jetstream"),
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start")
	}

	return ns, nil
}

func connectToNATS(ctx context.Context, natsURL string, embedded bool, logger *slog.Logger) (*natsclient.Client, error) {
	logger.Info("Connecting to NATS", "url", natsURL)

	client, err := natsclient.NewClient(natsURL,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20), // Higher threshold for startup bursts
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, natsURL, embedded)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, natsURL, embedded)
	}

	logger.Info("Connected to NATS", "url", natsURL)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string, embedded bool) error {
	if embedded {
		return fmt.Errorf("NATS connection failed: %w", err)
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

Start your NATS server, or leave nats.url empty to run the embedded one.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func ensureStreams(ctx context.Context, natsClient *natsclient.Client, logger *slog.Logger) error {
	logger.Debug("Creating JetStream streams")

	streamCfg := &ssconfig.Config{
		Version: "1.0.0",
		Platform: ssconfig.PlatformConfig{
			Org:         "scrivener",
			ID:          "scrivener-local",
			Environment: "dev",
		},
		NATS: ssconfig.NATSConfig{
			JetStream: ssconfig.JetStreamConfig{
				Enabled: true,
			},
		},
		Streams: ssconfig.StreamConfigs{
			"SCRIVENER": ssconfig.StreamConfig{
				Subjects: []string{"scrivener.capability.>"},
				MaxAge:   "24h",
				Storage:  "memory",
				Replicas: 1,
			},
		},
	}

	streamsManager := ssconfig.NewStreamsManager(natsClient, logger)
	if err := streamsManager.EnsureStreams(ctx, streamCfg); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}

	logger.Debug("JetStream streams ready")
	return nil
}

// registerMetrics exposes registry gauges and command counters. The gauges
// read through the component's agent, which is nil until Start succeeds.
func registerMetrics(comp *capabilityapi.Component) {
	stat := func(pick func(capability.Stats) int) func() float64 {
		return func() float64 {
			ag := comp.Agent()
			if ag == nil {
				return 0
			}
			return float64(pick(ag.Registry().Stats()))
		}
	}

	gauges := []struct {
		name string
		help string
		pick func(capability.Stats) int
	}{
		{"capabilities", "Number of registered capabilities.", func(s capability.Stats) int { return s.Capabilities }},
		{"successes", "Total successful outcomes recorded.", func(s capability.Stats) int { return s.Successes }},
		{"failures", "Total failed outcomes recorded.", func(s capability.Stats) int { return s.Failures }},
		{"uses", "Total outcomes recorded.", func(s capability.Stats) int { return s.Uses }},
		{"evolutions", "Total evolution events.", func(s capability.Stats) int { return s.Evolutions }},
	}
	for _, g := range gauges {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: appName,
			Subsystem: "registry",
			Name:      g.name,
			Help:      g.help,
		}, stat(g.pick))
	}
}

func startMetricsServer(addr string, comp *capabilityapi.Component, logger *slog.Logger) *http.Server {
	registerMetrics(comp)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := comp.Health()
		w.Header().Set("Content-Type", "application/json")
		if !health.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return srv
}
