package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"paytrack/internal/app"
	"paytrack/internal/cache"
	"paytrack/internal/config"
	"paytrack/internal/log"
	"paytrack/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{Level: cfg.SlogLevel(), Component: log.ComponentWorker, Format: cfg.LogFormat})
	log.SetDefault(logger)

	logger.Info("Starting series-worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize services", log.FieldError, err)
		os.Exit(1)
	}
	defer a.Close()

	horizonWorker := worker.NewHorizonWorker(a.Registry, a.Sweeper)

	logger.Info("Horizon sweep configured",
		"interval", cfg.SweepInterval,
		"concurrency", cfg.SweepConcurrency,
		"horizon_instances", cfg.HorizonInstances,
		"sqlite_db", cfg.SQLiteDBPath)

	go cache.Sweep(ctx, 10*time.Minute, a.Registry.VersionCache())

	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		if err := horizonWorker.Run(ctx, cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Horizon sweep stopped", log.FieldError, err)
			cancel()
		}
	}()
	running := 1

	// Explicit horizon requests arrive over AMQP when a broker is available
	if a.Events != nil {
		running++
		go func() {
			defer func() { done <- struct{}{} }()
			if err := a.Events.ConsumeHorizonRequests(ctx, horizonWorker.HandleHorizonRequest); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Horizon request consumption failed", log.FieldError, err)
				cancel()
			}
		}()
	} else {
		logger.Info("Skipping horizon request consumption - no AMQP client available")
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down series-worker...")
	cancel()

	for running > 0 {
		select {
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
			return
		case <-done:
			running--
		}
	}
	logger.Info("Series-worker shutdown complete")
}
