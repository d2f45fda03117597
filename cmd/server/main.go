package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/slotq/internal/archive"
	"github.com/me/slotq/internal/config"
	"github.com/me/slotq/internal/engine"
	"github.com/me/slotq/internal/ledger"
	"github.com/me/slotq/internal/logging"
	"github.com/me/slotq/internal/server"
	"github.com/me/slotq/internal/store"
	"github.com/me/slotq/internal/tracing"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	dbPath := flag.String("db", "", "Task database path (overrides config)")
	ledgerPath := flag.String("ledger-db", "", "Ledger database path (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	allowAnonymous := flag.Bool("allow-anonymous", false, "Allow callers to identify via the X-Caller header")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}
	if *ledgerPath != "" {
		cfg.Ledger.DBPath = *ledgerPath
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.Server.LogFormat = *logFormat
	}
	if *debug {
		cfg.Server.LogLevel = "debug"
	}
	if *allowAnonymous {
		cfg.Server.AllowAnonymous = true
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.Server.LogLevel), cfg.Server.LogFormat)

	if cfg.Tracing.Enabled {
		if err := tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.OutputFile); err != nil {
			fmt.Fprintf(os.Stderr, "init tracing: %v\n", err)
			os.Exit(1)
		}
		logger.Info("tracing enabled", "service", cfg.Tracing.ServiceName)
	}

	st, err := store.NewSQLiteStore(cfg.Server.DBPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open task database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate task database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("task database ready", "path", cfg.Server.DBPath)

	led, err := ledger.NewSQLiteLedger(cfg.Ledger.DBPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ledger database: %v\n", err)
		os.Exit(1)
	}
	defer led.Close()
	if err := led.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate ledger database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("ledger database ready", "path", cfg.Ledger.DBPath)

	clock := engine.WallClock{
		Genesis:      cfg.Engine.Genesis,
		SlotDuration: cfg.Engine.SlotDuration.Std(),
	}
	eng := engine.NewEngine(cfg.Engine, st, led, clock, logger)

	serverOpts := []server.Option{server.WithVersion(version)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Archive.Enabled {
		uploader, err := archive.NewS3Uploader(ctx, cfg.Archive.Bucket, cfg.Archive.Region)
		if err != nil {
			fmt.Fprintf(os.Stderr, "init archive uploader: %v\n", err)
			os.Exit(1)
		}
		sweeper := archive.NewSweeper(cfg.Archive, st, eng.Runtime(), clock, uploader, logger)
		serverOpts = append(serverOpts, server.WithArchiveStatus(sweeper.Status))
		go sweeper.Run(ctx)
		logger.Info("retention sweeper enabled",
			"bucket", cfg.Archive.Bucket,
			"retention_slots", cfg.Archive.RetentionSlots)
	}

	srv := server.New(cfg.Server, eng, logger, serverOpts...)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
