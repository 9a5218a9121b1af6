package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/callanalyzer/tenantconfig/internal/config"
	"github.com/callanalyzer/tenantconfig/internal/health"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg/cache"
)

func sqliteConfig(t *testing.T, backend string) config.ServiceConfig {
	return config.ServiceConfig{
		DatabaseDriver: config.DriverSQLite,
		SQLitePath:     filepath.Join(t.TempDir(), "config.db"),
		CacheBackend:   backend,
		CacheTTL:       time.Minute,
		Location:       time.UTC,
	}
}

func TestOpenSQLiteWithoutCache(t *testing.T) {
	a, err := Open(context.Background(), sqliteConfig(t, config.CacheNone), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Same(t, a.Base, a.Store)
	assert.NotNil(t, a.Hooks)
	assert.Equal(t, health.StatusHealthy, a.Health.Check(context.Background()).Status)

	agg, err := a.Store.LoadConfig(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, agg.Stations)
}

func TestOpenWithMemoryCache(t *testing.T) {
	a, err := Open(context.Background(), sqliteConfig(t, config.CacheMemory), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.Store.(*cache.Store)
	assert.True(t, ok, "store should be wrapped by the cache")
}

func TestOpenRejectsUnknownBackends(t *testing.T) {
	cfg := sqliteConfig(t, "memcached")
	_, err := Open(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg = sqliteConfig(t, config.CacheNone)
	cfg.DatabaseDriver = "mysql"
	_, err = Open(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestOpenRejectsInvalidHooks(t *testing.T) {
	cfg := sqliteConfig(t, config.CacheNone)
	cfg.Hooks.Enabled = true
	_, err := Open(context.Background(), cfg, nil)
	assert.Error(t, err)
}
