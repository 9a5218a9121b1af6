// Package app assembles the store, cache and hook dispatcher described by a
// ServiceConfig. configd and cfgctl share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/callanalyzer/tenantconfig/internal/config"
	"github.com/callanalyzer/tenantconfig/internal/health"
	"github.com/callanalyzer/tenantconfig/internal/hooks"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg/cache"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg/postgres"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg/sqlite"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg/sqlstore"
)

// App holds the opened collaborators.
type App struct {
	// Store is the store handlers should use; it is cached when a cache
	// backend is configured.
	Store tenantcfg.Store
	// Base is the uncached SQL store.
	Base   *sqlstore.Store
	Hooks  *hooks.Dispatcher
	Health *health.Checker
	Logger *zap.Logger

	closers []func() error
}

// Open connects to the configured database and cache.
func Open(ctx context.Context, cfg config.ServiceConfig, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	opts := []sqlstore.Option{sqlstore.WithLogger(logger), sqlstore.WithLocation(loc)}

	var (
		base *sqlstore.Store
		err  error
	)
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		base, err = sqlite.New(ctx, cfg.SQLitePath, opts...)
	case config.DriverPostgres, config.DriverPGX:
		pg := postgres.DefaultConfig()
		pg.Driver = cfg.DatabaseDriver
		pg.MaxOpenConns = cfg.DBMaxOpenConns
		pg.MaxIdleConns = cfg.DBMaxIdleConns
		pg.ConnMaxLifetime = cfg.DBConnMaxLifetime
		pg.AutoMigrate = cfg.AutoMigrate
		base, err = postgres.New(ctx, cfg.DatabaseDSN, pg, opts...)
	default:
		err = fmt.Errorf("unsupported database_driver %q", cfg.DatabaseDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{Store: base, Base: base, Logger: logger}
	a.closers = append(a.closers, base.Close)

	var pinger health.Pinger
	switch cfg.CacheBackend {
	case "", config.CacheNone:
	case config.CacheMemory:
		a.Store = cache.New(base, cache.NewMemory(cfg.CacheTTL), logger)
	case config.CacheRedis:
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		a.closers = append(a.closers, client.Close)
		backend := cache.NewRedis(client, cfg.CacheTTL, "callcfg")
		if err := backend.Ping(ctx); err != nil {
			logger.Warn("redis unreachable at startup, reads fall through to the database",
				zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		a.Store = cache.New(base, backend, logger)
		pinger = backend
	default:
		_ = a.Close()
		return nil, fmt.Errorf("unsupported cache_backend %q", cfg.CacheBackend)
	}

	if a.Hooks, err = cfg.Hooks.NewDispatcher(); err != nil {
		_ = a.Close()
		return nil, err
	}
	if cfg.Hooks.Enabled {
		logger.Info("hooks dispatcher enabled", zap.String("script", cfg.Hooks.ScriptPath))
	}

	a.Health = health.New(health.Config{DB: base.DB(), Cache: pinger})
	logger.Info("configuration store ready",
		zap.String("driver", cfg.DatabaseDriver),
		zap.String("cache", cfg.CacheBackend),
		zap.String("timezone", loc.String()))
	return a, nil
}

// Close releases everything Open acquired, in reverse order.
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
