// Package bootstrap scaffolds the INI files configd and cfgctl read.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/callanalyzer/tenantconfig/internal/config"
)

// InitOptions configures the bootstrap process for generating config files.
type InitOptions struct {
	Root           string
	Environment    string
	DatabaseDriver string
	DatabaseDSN    string
	SQLitePath     string
	CacheBackend   string
	RedisAddr      string
	HTTPAddress    string
	AuthSecret     string
	Timezone       string
	Force          bool
}

// Init writes config/setting.ini and config/<env>/configd.ini under Root.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := Validate(opts); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(opts.Root, "config", opts.Environment)); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}

	servicePath := filepath.Join(opts.Root, "config", opts.Environment, "configd.ini")
	return writeFile(servicePath, serviceTemplate(opts), opts.Force)
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.DatabaseDriver) == "" {
		opts.DatabaseDriver = config.DriverSQLite
	}
	if strings.TrimSpace(opts.SQLitePath) == "" {
		opts.SQLitePath = config.DefaultSQLitePath()
	}
	if strings.TrimSpace(opts.CacheBackend) == "" {
		opts.CacheBackend = config.CacheNone
	}
	if strings.TrimSpace(opts.HTTPAddress) == "" {
		opts.HTTPAddress = ":8090"
	}
	if strings.TrimSpace(opts.Timezone) == "" {
		opts.Timezone = "UTC"
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Call Analyzer configuration service settings
environment=%s
`, opts.Environment)
}

func serviceTemplate(opts InitOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Environment specific overrides for %s\n", opts.Environment)
	fmt.Fprintf(&b, "http_address=%s\n", opts.HTTPAddress)
	b.WriteString("log_level=info\n")
	b.WriteString("log_format=console\n")
	b.WriteString("# Dash '-' disables file output.\n")
	b.WriteString("log_file=logs/configd.log\n")
	fmt.Fprintf(&b, "database_driver=%s\n", opts.DatabaseDriver)
	if opts.DatabaseDriver == config.DriverSQLite {
		fmt.Fprintf(&b, "sqlite_path=%s\n", opts.SQLitePath)
	} else {
		fmt.Fprintf(&b, "database_dsn=%s\n", opts.DatabaseDSN)
	}
	b.WriteString("auto_migrate=true\n")
	fmt.Fprintf(&b, "cache_backend=%s\n", opts.CacheBackend)
	b.WriteString("cache_ttl=5m\n")
	if opts.CacheBackend == config.CacheRedis {
		fmt.Fprintf(&b, "redis_addr=%s\n", opts.RedisAddr)
	}
	if opts.AuthSecret != "" {
		fmt.Fprintf(&b, "auth_secret=%s\n", opts.AuthSecret)
	}
	fmt.Fprintf(&b, "schedule_timezone=%s\n", opts.Timezone)
	b.WriteString("rate_limit_per_minute=120\n")
	b.WriteString("hooks_enabled=false\n")
	return b.String()
}

// Validate ensures the options describe a usable service without writing
// anything.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	switch opts.DatabaseDriver {
	case config.DriverSQLite:
	case config.DriverPostgres, config.DriverPGX:
		if strings.TrimSpace(opts.DatabaseDSN) == "" {
			return fmt.Errorf("database dsn is required for driver %s", opts.DatabaseDriver)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", opts.DatabaseDriver)
	}
	switch opts.CacheBackend {
	case config.CacheNone, config.CacheMemory:
	case config.CacheRedis:
		if strings.TrimSpace(opts.RedisAddr) == "" {
			return errors.New("redis address is required for the redis cache")
		}
	default:
		return fmt.Errorf("unsupported cache backend %q", opts.CacheBackend)
	}
	return nil
}
