package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/studsec/instancer/pkg/api"
	"github.com/studsec/instancer/pkg/catalog"
	"github.com/studsec/instancer/pkg/config"
	"github.com/studsec/instancer/pkg/events"
	"github.com/studsec/instancer/pkg/executor"
	"github.com/studsec/instancer/pkg/jobs"
	"github.com/studsec/instancer/pkg/lifecycle"
	"github.com/studsec/instancer/pkg/log"
	"github.com/studsec/instancer/pkg/reconciler"
	"github.com/studsec/instancer/pkg/registry"
	"github.com/studsec/instancer/pkg/scheduler"
	"github.com/studsec/instancer/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// envSyncInterval paces the periodic challenge tree sync to the workers
const envSyncInterval = 5 * time.Minute

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "instancer",
	Short: "Instancer - per-user challenge instance control plane",
	Long: `Instancer provisions per-user instances of named challenges onto a
pool of worker hosts reached over ssh. Operators drive it through three
HTTP endpoints - start, stop, status - and the instancer takes care of
placement, the instance lifecycle, durable state, and liveness.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Instancer version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the instancer control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return serve(configPath)
	},
}

func init() {
	serveCmd.Flags().String("config", "config.toml", "Path to the TOML configuration file")
}

func serve(configPath string) error {
	logger := log.WithComponent("main")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.NewGormStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	reg, err := registry.FromConfig(cfg.Servers)
	if err != nil {
		return fmt.Errorf("failed to build worker registry: %w", err)
	}
	logger.Info().Int("workers", reg.Len()).Msg("Worker registry loaded")

	exec, err := executor.New(reg, cfg.SSH.Keyfile)
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}
	defer exec.Close()

	var cat catalog.Source
	var envDir string
	if cfg.Docker.ComposePath != "" {
		cat, err = catalog.LoadCompose(cfg.Docker.ComposePath)
		envDir = filepath.Dir(cfg.Docker.ComposePath)
	} else {
		cat, err = catalog.LoadScript(cfg.Docker.ChallengePath)
		envDir = cfg.Docker.ChallengePath
	}
	if err != nil {
		return fmt.Errorf("failed to load challenge catalogue: %w", err)
	}
	logger.Info().Int("challenges", len(cat.List())).Msg("Challenge catalogue loaded")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	go logEvents(broker)

	jobRegistry := jobs.NewRegistry()
	sched := scheduler.New(exec)
	engine := lifecycle.NewEngine(st, reg, exec, sched, cat, jobRegistry, broker)
	rec := reconciler.New(st, reg, exec, cat, broker)

	// Ship the challenge tree before taking traffic, then keep the workers
	// fresh in the background
	if err := exec.SyncEnvironment(context.Background(), envDir); err != nil {
		logger.Warn().Err(err).Msg("Initial environment sync failed")
	}
	syncStop := make(chan struct{})
	go syncLoop(exec, envDir, syncStop)

	rec.Start()
	defer rec.Stop()

	server := api.NewServer(cfg.API, cat, engine, rec, reg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	}

	close(syncStop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API shutdown incomplete")
	}

	// Let in-flight lifecycle jobs finish; every side effect is persisted
	// before the next, so a hard exit stays consistent regardless
	if err := jobRegistry.Drain(shutdownCtx); err != nil {
		logger.Warn().Int("jobs", jobRegistry.Active()).Msg("Background jobs still running at exit")
	}

	return nil
}

// syncLoop periodically re-ships the challenge tree to every worker
func syncLoop(exec *executor.Executor, envDir string, stop <-chan struct{}) {
	logger := log.WithComponent("envsync")
	ticker := time.NewTicker(envSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := exec.SyncEnvironment(context.Background(), envDir); err != nil {
				logger.Warn().Err(err).Msg("Environment sync failed")
			}
		case <-stop:
			return
		}
	}
}

// logEvents mirrors lifecycle events into the log at debug level
func logEvents(broker *events.Broker) {
	sub := broker.Subscribe()
	for event := range sub {
		logger := log.WithComponent("events")
		logger.Debug().
			Str("type", string(event.Type)).
			Str("challenge", event.Challenge).
			Str("user_id", event.UserID).
			Str("message", event.Message).
			Msg("Event")
	}
}
