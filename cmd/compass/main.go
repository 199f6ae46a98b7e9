package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brightpath-labs/compass/internal/alignment"
	"github.com/brightpath-labs/compass/internal/api"
	"github.com/brightpath-labs/compass/internal/bus"
	"github.com/brightpath-labs/compass/internal/config"
	"github.com/brightpath-labs/compass/internal/dedup"
	"github.com/brightpath-labs/compass/internal/insights"
	"github.com/brightpath-labs/compass/internal/modelperf"
	"github.com/brightpath-labs/compass/internal/normalizer"
	"github.com/brightpath-labs/compass/internal/orchestrator"
	"github.com/brightpath-labs/compass/internal/store"
	"github.com/brightpath-labs/compass/internal/themes"
	"github.com/brightpath-labs/compass/internal/understanding"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("compass starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Text-understanding client
	understandingClient := understanding.NewClient(cfg.UnderstandingURL, cfg.UnderstandingAPIKey, cfg.UnderstandingModel)
	slog.Info("understanding client ready", "url", cfg.UnderstandingURL, "model", cfg.UnderstandingModel)

	// NATS
	events, err := bus.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer events.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Pipeline components
	resolver := normalizer.NewResolver(db, slog.Default())
	orch := orchestrator.New(understandingClient, resolver, db, slog.Default())
	detector := dedup.New(db, events, cfg.DedupThreshold, slog.Default())
	engine := themes.NewEngine(db, events, themes.Options{MinSupport: cfg.ThemeMinSupport}, slog.Default())
	scorer := alignment.NewScorer(db, understandingClient, slog.Default())
	driver := orchestrator.NewBatchDriver(scorer, db, cfg.BatchSize, cfg.BatchDelay, slog.Default())
	reporter := insights.NewReporter(db, slog.Default())
	optimizer := modelperf.New(db, cfg.ABTestCarryover, slog.Default())

	// Ingestion trigger
	if err := events.Subscribe(bus.SubjectFeedbackReceived, orch.HandleFeedbackReceived); err != nil {
		slog.Error("failed to subscribe to feedback events", "error", err)
		os.Exit(1)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, api.Deps{
		Processor:  orch,
		Discoverer: engine,
		Scorer:     driver,
		ThemeScore: scorer,
		Cleaner:    detector,
		Reporter:   reporter,
		Optimizer:  optimizer,
		Store:      db,
		Bus:        events,
	}, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce readiness
	if err := events.Publish("compass.service.ready", map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
	}); err != nil {
		slog.Warn("failed to publish ready event", "error", err)
	}

	slog.Info("compass ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("compass stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
