package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, setting, envIni string) string {
	t.Helper()
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if setting != "" {
		if err := os.WriteFile(filepath.Join(tmp, "config", "setting.ini"), []byte(setting), 0o644); err != nil {
			t.Fatalf("write setting: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(tmp, "config", "dev", "configd.ini"), []byte(envIni), 0o644); err != nil {
		t.Fatalf("write env config: %v", err)
	}
	return tmp
}

func TestLoad(t *testing.T) {
	setting := "environment=dev\nlog_file=/tmp/base.log\nlog_level=debug\ncache_ttl=30s\n"
	content := strings.Join([]string{
		"log_file=/tmp/env.log",
		"http_address=:9090",
		"database_driver=postgres",
		"database_dsn=postgres://cfg@localhost/cfg?sslmode=disable",
		"db_max_open_conns=10",
		"db_conn_max_lifetime=2m",
		"cache_backend=redis",
		"redis_addr=localhost:6379",
		"schedule_timezone=Europe/Moscow",
		"auth_secret=file-secret",
	}, "\n")
	tmp := writeConfig(t, setting, content)
	t.Setenv("CALLCFG_AUTH_SECRET", "env-secret")

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogFile != "/tmp/env.log" {
		t.Fatalf("unexpected log file %s", cfg.LogFile)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from base config, got %s", cfg.LogLevel)
	}
	if cfg.HTTPAddress != ":9090" {
		t.Fatalf("unexpected http address %s", cfg.HTTPAddress)
	}
	if cfg.DatabaseDriver != DriverPostgres || cfg.DBMaxOpenConns != 10 || cfg.DBConnMaxLifetime != 2*time.Minute {
		t.Fatalf("unexpected database settings %+v", cfg)
	}
	if cfg.CacheBackend != CacheRedis || cfg.CacheTTL != 30*time.Second {
		t.Fatalf("unexpected cache settings %s %s", cfg.CacheBackend, cfg.CacheTTL)
	}
	if cfg.Location == nil || cfg.Location.String() != "Europe/Moscow" {
		t.Fatalf("unexpected location %v", cfg.Location)
	}
	if cfg.AuthSecret != "env-secret" {
		t.Fatalf("unexpected auth secret %s", cfg.AuthSecret)
	}
}

func TestLoadHooks(t *testing.T) {
	hookIni := strings.Join([]string{
		"hooks_enabled=true",
		"hooks_script_path=/usr/local/bin/reload-analyzer",
		"hooks_script_args=--seed, --refresh",
		"hooks_env=FOO=BAR,BIZ=BUZ",
		"hooks_timeout=45s",
	}, "\n")
	tmp := writeConfig(t, "environment=dev\n", hookIni)
	t.Setenv("CALLCFG_HOOKS_SCRIPT_ARGS", "--from-env")
	t.Setenv("CALLCFG_HOOKS_ENV", "ENVSET=1")
	t.Setenv("CALLCFG_HOOKS_TIMEOUT", "30s")

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Hooks.Enabled {
		t.Fatalf("expected hooks to be enabled")
	}
	if cfg.Hooks.ScriptPath != "/usr/local/bin/reload-analyzer" {
		t.Fatalf("unexpected script path %s", cfg.Hooks.ScriptPath)
	}
	if len(cfg.Hooks.ScriptArgs) != 1 || cfg.Hooks.ScriptArgs[0] != "--from-env" {
		t.Fatalf("env override for script args not applied: %#v", cfg.Hooks.ScriptArgs)
	}
	if cfg.Hooks.Timeout != 30*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.Hooks.Timeout)
	}
	if cfg.Hooks.Env["ENVSET"] != "1" || len(cfg.Hooks.Env) != 1 {
		t.Fatalf("unexpected env map %#v", cfg.Hooks.Env)
	}
}

func TestLoadDefaults(t *testing.T) {
	tmp := writeConfig(t, "", "")

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("expected dev environment, got %s", cfg.Environment)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "console" {
		t.Fatalf("unexpected log defaults %s %s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.HTTPAddress != ":8090" {
		t.Fatalf("expected default http address :8090, got %s", cfg.HTTPAddress)
	}
	if cfg.DatabaseDriver != DriverSQLite || cfg.SQLitePath != DefaultSQLitePath() {
		t.Fatalf("unexpected database defaults %s %s", cfg.DatabaseDriver, cfg.SQLitePath)
	}
	if !cfg.AutoMigrate {
		t.Fatalf("expected auto_migrate by default")
	}
	if cfg.CacheBackend != CacheNone || cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("unexpected cache defaults %s %s", cfg.CacheBackend, cfg.CacheTTL)
	}
	if cfg.AuthDisabled || cfg.AuthSecret != "callcfg-dev-secret" {
		t.Fatalf("unexpected auth defaults %v %s", cfg.AuthDisabled, cfg.AuthSecret)
	}
	if cfg.Location != time.UTC {
		t.Fatalf("expected UTC schedules, got %v", cfg.Location)
	}
	if cfg.RateLimitPerMinute != 120 {
		t.Fatalf("unexpected rate limit %d", cfg.RateLimitPerMinute)
	}
}

func TestLoadEnvironmentSelection(t *testing.T) {
	tmp := writeConfig(t, "environment=dev\nhttp_address=:1000\n", "http_address=:2000\n")
	if err := os.MkdirAll(filepath.Join(tmp, "config", "live"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "config", "live", "configd.ini"), []byte("http_address=:3000\nauth_secret=live-secret\n"), 0o644); err != nil {
		t.Fatalf("write live config: %v", err)
	}
	t.Setenv("CALLCFG_ENVIRONMENT", "live")

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != "live" || cfg.HTTPAddress != ":3000" {
		t.Fatalf("expected live overrides, got %s %s", cfg.Environment, cfg.HTTPAddress)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"hooks timeout":   "hooks_enabled=true\nhooks_script_path=/tmp/sync\nhooks_timeout=not-a-duration\n",
		"hooks no script": "hooks_enabled=true\n",
		"driver":          "database_driver=mysql\n",
		"postgres no dsn": "database_driver=pgx\n",
		"cache backend":   "cache_backend=memcached\n",
		"redis no addr":   "cache_backend=redis\n",
		"timezone":        "schedule_timezone=Mars/Olympus\n",
		"cache ttl":       "cache_ttl=forever\n",
		"log format":      "log_format=xml\n",
	}
	for name, ini := range cases {
		t.Run(name, func(t *testing.T) {
			tmp := writeConfig(t, "environment=dev\n", ini)
			if _, err := Load(tmp); err == nil {
				t.Fatalf("expected error for %q", ini)
			}
		})
	}
}

func TestDevAuthSecretOnlyInDev(t *testing.T) {
	tmp := writeConfig(t, "environment=dev\n", "")
	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuthSecret != DevAuthSecret {
		t.Fatalf("expected dev secret fallback, got %q", cfg.AuthSecret)
	}

	live := writeConfig(t, "environment=live\n", "")
	if err := os.MkdirAll(filepath.Join(live, "config", "live"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := Load(live); err == nil || !strings.Contains(err.Error(), "auth_secret required") {
		t.Fatalf("expected missing secret error outside dev, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(live, "config", "live", "configd.ini"), []byte("auth_secret="+DevAuthSecret+"\n"), 0o644); err != nil {
		t.Fatalf("write live config: %v", err)
	}
	if _, err := Load(live); err == nil || !strings.Contains(err.Error(), "dev default") {
		t.Fatalf("expected dev secret to be refused outside dev, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(live, "config", "live", "configd.ini"), []byte("auth_disabled=true\n"), 0o644); err != nil {
		t.Fatalf("write live config: %v", err)
	}
	if _, err := Load(live); err != nil {
		t.Fatalf("auth_disabled should not need a secret: %v", err)
	}
}
