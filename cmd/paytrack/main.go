package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"paytrack/internal/app"
	"paytrack/internal/cache"
	"paytrack/internal/config"
	apphttp "paytrack/internal/http"
	"paytrack/internal/log"
	"paytrack/internal/middleware/security"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{Level: cfg.SlogLevel(), Component: log.ComponentApp, Format: cfg.LogFormat})
	log.SetDefault(logger)

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

	go cache.Sweep(ctx, 10*time.Minute, a.Registry.VersionCache())

	trusted, err := security.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Error("Invalid trusted proxies", log.FieldError, err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(apphttp.ServerConfig{
		Addr:              ":" + cfg.Port,
		RequestsPerMinute: cfg.RateLimitPerMinute,
		RateCounter:       a.RateCounter(),
		TrustedProxies:    trusted,
	}, a.HTTPServices(), logger)

	// Graceful shutdown handling
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cancel()
	}()

	logger.Info("Starting paytrack server",
		"port", cfg.Port,
		"sqlite_db", cfg.SQLiteDBPath,
		"horizon_instances", cfg.HorizonInstances,
		"extend_on_read", cfg.HorizonExtendOnRead)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
