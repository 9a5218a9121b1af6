package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/callanalyzer/tenantconfig/internal/hooks"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/configd.ini"
	envPrefix        = "CALLCFG_"
)

// DevAuthSecret signs tokens in the dev environment when auth_secret is
// unset. Other environments must configure their own secret.
const DevAuthSecret = "callcfg-dev-secret"

// Database drivers accepted by database_driver.
const (
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
	DriverSQLite   = "sqlite"
)

// Cache backends accepted by cache_backend.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// ServiceConfig describes runtime options for configd and cfgctl.
type ServiceConfig struct {
	Environment string
	HTTPAddress string
	LogFile     string
	LogLevel    string
	LogFormat   string // console|json

	DatabaseDriver    string
	DatabaseDSN       string
	SQLitePath        string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	AutoMigrate       bool

	CacheBackend  string
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret   string
	AuthDisabled bool

	// ScheduleTimezone is the zone report schedules are evaluated in.
	ScheduleTimezone string
	Location         *time.Location

	RateLimitPerMinute int
	Hooks              hooks.Config
}

// Load reads the current environment and loads config/<env>/configd.ini on
// top of config/setting.ini. CALLCFG_<KEY> environment variables win over
// both files.
func Load(root string) (ServiceConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return ServiceConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return ServiceConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	get := func(key string, fallback ...string) string {
		values := append([]string{os.Getenv(envPrefix + strings.ToUpper(key)), merged[key]}, fallback...)
		return firstNonEmpty(values...)
	}

	cfg := ServiceConfig{
		Environment:        s.Environment,
		HTTPAddress:        get("http_address", ":8090"),
		LogFile:            get("log_file"),
		LogLevel:           strings.ToLower(get("log_level", "info")),
		LogFormat:          strings.ToLower(get("log_format", "console")),
		DatabaseDriver:     strings.ToLower(get("database_driver", DriverSQLite)),
		DatabaseDSN:        get("database_dsn"),
		SQLitePath:         get("sqlite_path", DefaultSQLitePath()),
		DBMaxOpenConns:     parseOptionalInt(get("db_max_open_conns"), 25),
		DBMaxIdleConns:     parseOptionalInt(get("db_max_idle_conns"), 5),
		AutoMigrate:        parseOptionalBool(get("auto_migrate"), true),
		CacheBackend:       strings.ToLower(get("cache_backend", CacheNone)),
		RedisAddr:          get("redis_addr"),
		RedisPassword:      get("redis_password"),
		RedisDB:            parseOptionalInt(get("redis_db"), 0),
		AuthSecret:         get("auth_secret"),
		AuthDisabled:       parseOptionalBool(get("auth_disabled"), false),
		ScheduleTimezone:   get("schedule_timezone", "UTC"),
		RateLimitPerMinute: parseOptionalInt(get("rate_limit_per_minute"), 120),
	}

	if cfg.AuthSecret == "" && cfg.Environment == defaultEnv {
		cfg.AuthSecret = DevAuthSecret
	}

	if cfg.DBConnMaxLifetime, err = parseDuration("db_conn_max_lifetime", get("db_conn_max_lifetime"), 5*time.Minute); err != nil {
		return ServiceConfig{}, err
	}
	if cfg.CacheTTL, err = parseDuration("cache_ttl", get("cache_ttl"), 5*time.Minute); err != nil {
		return ServiceConfig{}, err
	}
	if cfg.Location, err = time.LoadLocation(cfg.ScheduleTimezone); err != nil {
		return ServiceConfig{}, fmt.Errorf("invalid schedule_timezone %q: %w", cfg.ScheduleTimezone, err)
	}

	cfg.Hooks = hooks.Config{
		Enabled:    parseBool(get("hooks_enabled")),
		ScriptPath: get("hooks_script_path"),
		ScriptArgs: parseCSV(get("hooks_script_args")),
		Env:        parseMap(get("hooks_env")),
	}
	if cfg.Hooks.Timeout, err = parseDuration("hooks_timeout", get("hooks_timeout"), 0); err != nil {
		return ServiceConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return ServiceConfig{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backends are fully configured.
func (c ServiceConfig) Validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres, DriverPGX:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database_dsn required for driver %q", c.DatabaseDriver)
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("sqlite_path required for driver %q", c.DatabaseDriver)
		}
	default:
		return fmt.Errorf("unsupported database_driver %q", c.DatabaseDriver)
	}
	switch c.CacheBackend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("redis_addr required when cache_backend=redis")
		}
	default:
		return fmt.Errorf("unsupported cache_backend %q", c.CacheBackend)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported log_format %q", c.LogFormat)
	}
	if !c.AuthDisabled {
		switch {
		case strings.TrimSpace(c.AuthSecret) == "":
			return fmt.Errorf("auth_secret required unless auth_disabled")
		case c.AuthSecret == DevAuthSecret && c.Environment != defaultEnv:
			return fmt.Errorf("auth_secret must not use the dev default in environment %q", c.Environment)
		}
	}
	return c.Hooks.Validate()
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: firstNonEmpty(os.Getenv(envPrefix+"ENVIRONMENT"), defaultEnv), Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv(envPrefix+"ENVIRONMENT"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseDuration(key, v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseMap(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	entries := strings.Split(input, ",")
	result := make(map[string]string)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if key != "" {
			result[key] = value
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// DefaultSQLitePath returns the fallback database location under the user's
// home directory.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "callcfg.db"
	}
	return filepath.Join(home, ".callcfg", "config.db")
}
