// Package app wires the storage, lease, messaging and service layers shared by
// the paytrack binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"paytrack/internal/amqp"
	"paytrack/internal/config"
	apphttp "paytrack/internal/http"
	"paytrack/internal/lease"
	"paytrack/internal/log"
	"paytrack/internal/middleware/ratelimit"
	"paytrack/internal/services"
	"paytrack/internal/storage"
)

// App holds the wired services of one process.
type App struct {
	Repo      *storage.SQLiteRepository
	Events    *amqp.Client
	Redis     *redis.Client // nil when leases are in-process
	Registry  *services.SeriesRegistry
	Payments  *services.PaymentService
	Lifecycle *services.StatusLifecycle
	Mutator   *services.ScopeMutator
	Sweeper   *services.HorizonSweeper

	closers []func() error
}

// Open connects the repository, the series locker and, when configured, the
// AMQP client. An unreachable broker is logged and the app runs without
// events; an unreachable Redis is an error because leases would not be shared.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	a := &App{}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", cfg.SQLiteDBPath, err)
	}
	a.Repo = repo
	a.closers = append(a.closers, repo.Close)

	locker, err := a.openLocker(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var events services.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without series events", log.FieldError, err)
		} else {
			a.Events = client
			a.closers = append(a.closers, client.Close)
			events = client
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled - series events will not be published")
	}

	a.Registry = services.NewSeriesRegistry(repo, locker, events, services.Options{
		HorizonInstances: cfg.HorizonInstances,
		MaxBatch:         cfg.HorizonMaxBatch,
		ExtendOnRead:     cfg.HorizonExtendOnRead,
	})
	a.Payments = services.NewPaymentService(a.Registry)
	a.Lifecycle = services.NewStatusLifecycle(a.Registry)
	a.Mutator = services.NewScopeMutator(a.Registry)
	a.Sweeper = services.NewHorizonSweeper(a.Registry, cfg.SweepConcurrency)

	return a, nil
}

func (a *App) openLocker(ctx context.Context, cfg *config.Config, logger *log.Logger) (lease.Locker, error) {
	retry := lease.RetryPolicy{Attempts: cfg.LeaseRetries, Backoff: cfg.LeaseBackoff}

	if cfg.RedisAddr == "" {
		logger.Info("Using in-process series leases")
		return lease.NewKeyedMutex(retry), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	a.Redis = rdb
	a.closers = append(a.closers, rdb.Close)

	logger.Info("Using Redis series leases", "addr", cfg.RedisAddr, "ttl", cfg.LeaseTTL)
	return lease.NewRedisLocker(rdb, cfg.LeaseTTL, retry), nil
}

// HTTPServices exposes the app to the HTTP layer.
func (a *App) HTTPServices() apphttp.Services {
	return apphttp.Services{
		Registry:  a.Registry,
		Payments:  a.Payments,
		Lifecycle: a.Lifecycle,
		Mutator:   a.Mutator,
		Sweeper:   a.Sweeper,
		Ready:     a.Repo.Ping,
	}
}

// RateCounter returns the shared rate limit counter, or nil when the server
// should count in memory.
func (a *App) RateCounter() ratelimit.Counter {
	if a.Redis == nil {
		return nil
	}
	return ratelimit.NewRedisCounter(a.Redis)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
