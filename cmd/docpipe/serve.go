package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/anonymizer"
	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/flows"
	"github.com/docpipe/docpipe/internal/masker"
	"github.com/docpipe/docpipe/internal/pipeline"
	"github.com/docpipe/docpipe/internal/server"
	"github.com/docpipe/docpipe/internal/store"
	"github.com/docpipe/docpipe/internal/store/memstore"
	"github.com/docpipe/docpipe/internal/store/sqlite"
	"github.com/docpipe/docpipe/internal/svcctx"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docpipe server",
	Long: `Start the docpipe HTTP server and its processing pipeline.

Unfinished flows from a previous run are resumed on startup. On shutdown
(Ctrl+C or SIGTERM) in-flight jobs drain and pending mapping writes flush.

Examples:
  docpipe serve                       # Listen on the configured address
  docpipe serve --addr 0.0.0.0:3000   # Override the listen address`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return err
	}
	cfg := cm.Get()
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	cm.WatchConfig()

	// Persistence
	var stores store.Stores
	var closeStore func() error
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory":
		stores = memstore.New().Stores()
		closeStore = func() error { return nil }
	case "", "sqlite":
		db, err := sqlite.Open(ctx, cfg.Storage.Path)
		if err != nil {
			return err
		}
		stores = db.Stores()
		closeStore = db.Close
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	defer closeStore()

	sink := store.NewMappingSink(store.MappingSinkConfig{
		Store:  stores.Mappings,
		Logger: logger,
	})
	sink.Start(ctx)
	defer sink.Stop()

	// Anonymization client
	anonClient, err := anonymizer.New(cfg.AnonymizerURL(), cfg.Anonymizer.Language)
	if err != nil {
		return err
	}

	// Flow scheduler and pipeline. Resumed flows lose their per-submission
	// callback, so terminal results route through the orchestrator's global
	// one.
	var orch *pipeline.Orchestrator
	scheduler := flows.NewScheduler(flows.SchedulerConfig{
		Logger: logger,
		Store:  stores.Flows,
		Queues: cfg.Pipeline.Queues,
		OnFlowDone: func(res flows.FlowResult) {
			if orch != nil {
				orch.FlowDone(res)
			}
		},
	})
	orch = pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Logger:          logger,
		Stores:          stores,
		Scheduler:       scheduler,
		Masker:          masker.New(),
		Anonymizer:      anonClient,
		Sink:            sink,
		MaxContentBytes: cfg.Pipeline.MaxContentBytes,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if resumed, err := scheduler.Resume(ctx); err != nil {
		logger.Error("flow resumption failed", "error", err)
	} else if resumed > 0 {
		logger.Info("resumed unfinished flows", "count", resumed)
	}

	// HTTP server
	services := &svcctx.Services{
		Stores:        stores,
		Scheduler:     scheduler,
		Orchestrator:  orch,
		MappingSink:   sink,
		ConfigManager: cm,
		Logger:        logger,
	}
	addr := serveAddr
	if addr == "" {
		addr = cfg.ListenAddr()
	}
	srv, err := server.New(server.Config{
		Addr:     addr,
		Services: services,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LoggingCfg) *slog.Logger {
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
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
