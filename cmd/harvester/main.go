package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/harvester/internal/control"
	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	downloads := flag.Bool("downloads", false, "Force attachment downloading on")
	redrive := flag.Bool("redrive", false, "Re-export journaled failed ranges instead of a fresh export")
	clearJournal := flag.Bool("clear-journal", false, "Discard journaled failed ranges and exit")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Optional .env for local runs; tokens usually live there
	_ = godotenv.Load()

	// Load Configuration first (before setting up logger)
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fall back to default logger for config load errors
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Simplifed logging logic (debug < info)
	slogLevel := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	// Initialize stylelog with tint.Options for level control
	stylelog.InitDefault(
		&tint.Options{
			Level:      slogLevel,
			TimeFormat: time.RFC3339,
		})
	slog.Info("Logger initialized", "level", slogLevel.String())

	if *downloads {
		cfg.Download.Enabled = true
	}

	// Transform config
	controlCfg := control.Config{
		Port:     cfg.Server.Port,
		Target:   cfg.Target,
		Fetch:    cfg.Fetch,
		Sessions: cfg.Sessions,
		Caches:   cfg.Caches,
		Download: cfg.Download,
		Redis:    cfg.Redis,
		Database: cfg.Database,
	}

	// Initialize Exporter
	app, err := control.NewExporter(controlCfg)
	if err != nil {
		slog.Error("Failed to initialize Exporter", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// Setup Context with Cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS Signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down...", "signal", sig)
		cancel()
	}()

	// Operator maintenance modes
	if *clearJournal {
		if err := app.ClearJournal(ctx); err != nil {
			slog.Error("Failed to clear journal", "error", err)
			os.Exit(1)
		}
		slog.Info("Journal cleared", "target", cfg.Target.Identifier)
		return
	}
	if *redrive {
		if err := app.Redrive(ctx); err != nil {
			slog.Error("Redrive failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Redrive finished", "target", cfg.Target.Identifier)
		return
	}

	// Run the export job to completion (or cancellation)
	result, err := app.Run(ctx)
	if err != nil {
		slog.Error("Export failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Export finished",
		"job_id", result.JobID,
		"status", string(result.Status),
		"items", result.Items,
		"shards", len(result.Shards),
		"elapsed", result.Elapsed.Round(time.Millisecond))

	if result.Status != domain.JobStatusDone {
		os.Exit(1)
	}
}
