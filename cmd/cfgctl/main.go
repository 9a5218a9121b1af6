package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/callanalyzer/tenantconfig/internal/app"
	"github.com/callanalyzer/tenantconfig/internal/auth"
	"github.com/callanalyzer/tenantconfig/internal/bootstrap"
	"github.com/callanalyzer/tenantconfig/internal/config"
	"github.com/callanalyzer/tenantconfig/internal/hooks"
	"github.com/callanalyzer/tenantconfig/internal/legacy"
	"github.com/callanalyzer/tenantconfig/internal/logging"
	"github.com/callanalyzer/tenantconfig/internal/migrations"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
	"github.com/callanalyzer/tenantconfig/internal/version"
)

const actor = "cfgctl"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "cfgctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage(stdout)
		return nil
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "init":
		return runInit(rest, stdout)
	case "migrate":
		return runMigrate(ctx, rest, stdout)
	case "migrations":
		return runMigrations(rest, stdout)
	case "import-legacy":
		return runImportLegacy(ctx, rest, stdout)
	case "export":
		return runExport(ctx, rest, stdout)
	case "apply":
		return runApply(ctx, rest, stdout)
	case "token":
		return runToken(rest, stdout)
	case "due":
		return runDue(ctx, rest, stdout)
	case "mark-run":
		return runMarkRun(ctx, rest, stdout)
	case "version":
		fmt.Fprintln(stdout, version.FullInfo())
		return nil
	case "help", "--help", "-h":
		printUsage(stdout)
		return nil
	}
	printUsage(stdout)
	return fmt.Errorf("unknown command %q", cmd)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Call Analyzer configuration CLI

Usage:
  cfgctl init [flags]                         Generate config/setting.ini and config/<env>/configd.ini
  cfgctl migrate [--root dir]                 Apply schema migrations to the configured database
  cfgctl migrations [--dialect d]             List migration files in application order
  cfgctl import-legacy [--dry-run]            Copy user_settings blobs into the normalized tables
  cfgctl export --user N [--out file.yaml]    Write a tenant configuration as YAML
  cfgctl apply --user N --file file.yaml      Replace a tenant configuration from YAML
  cfgctl token --user N [--ttl 24h]           Issue an API bearer token
  cfgctl due [--at RFC3339]                   List report schedules due to run
  cfgctl mark-run --user N --report T [--at]  Record a report run and advance its schedule
  cfgctl version                              Print build information

Every command that touches the database accepts --root (default '.'), the
directory holding config/.

Flags for init:
  --root string         output directory (default '.')
  --env string          environment name (default 'dev')
  --driver string       sqlite|postgres|pgx (default 'sqlite')
  --dsn string          postgres connection string
  --sqlite-path string  SQLite database path (default ~/.callcfg/config.db)
  --cache string        none|memory|redis (default 'none')
  --redis-addr string   redis address for the redis cache
  --http-address string bind address for configd (default ':8090')
  --auth-secret string  token signing secret
  --timezone string     zone report schedules run in (default 'UTC')
  --force               overwrite existing files
`)
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	root := fs.String("root", ".", "config root")
	return fs, root
}

func runInit(args []string, stdout io.Writer) error {
	fs, root := newFlagSet("init")
	env := fs.String("env", "dev", "environment name")
	driver := fs.String("driver", config.DriverSQLite, "database driver")
	dsn := fs.String("dsn", "", "postgres dsn")
	sqlitePath := fs.String("sqlite-path", "", "sqlite path")
	cacheBackend := fs.String("cache", config.CacheNone, "cache backend")
	redisAddr := fs.String("redis-addr", "", "redis address")
	httpAddr := fs.String("http-address", ":8090", "configd bind address")
	secret := fs.String("auth-secret", "", "token signing secret")
	tz := fs.String("timezone", "UTC", "schedule timezone")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts := bootstrap.InitOptions{
		Root:           *root,
		Environment:    *env,
		DatabaseDriver: *driver,
		DatabaseDSN:    *dsn,
		SQLitePath:     *sqlitePath,
		CacheBackend:   *cacheBackend,
		RedisAddr:      *redisAddr,
		HTTPAddress:    *httpAddr,
		AuthSecret:     *secret,
		Timezone:       *tz,
		Force:          *force,
	}
	if err := bootstrap.Init(opts); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "configuration initialised")
	return nil
}

// open loads the config under root and opens the store. Caching is
// bypassed: commands run once and must see the database directly.
func open(ctx context.Context, root string) (*app.App, config.ServiceConfig, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, cfg, err
	}
	cfg.CacheBackend = config.CacheNone
	logger, err := logging.NewCLILogger(cfg.LogLevel, cfg.LogFormat, actor, nil)
	if err != nil {
		return nil, cfg, err
	}
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return nil, cfg, err
	}
	return a, cfg, nil
}

func dialectFor(driver string) migrations.Dialect {
	if driver == config.DriverSQLite {
		return migrations.SQLite
	}
	return migrations.Postgres
}

func runMigrate(ctx context.Context, args []string, stdout io.Writer) error {
	fs, root := newFlagSet("migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, cfg, err := open(ctx, *root)
	if err != nil {
		return err
	}
	defer a.Close()
	d := dialectFor(cfg.DatabaseDriver)
	if !cfg.AutoMigrate {
		if err := migrations.Apply(ctx, a.Base.DB(), d); err != nil {
			return err
		}
	}
	names, err := migrations.Names(d)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "applied %d migrations (%s)\n", len(names), d)
	return nil
}

func runMigrations(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("migrations", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dialect := fs.String("dialect", string(migrations.Postgres), "postgres|sqlite")
	if err := fs.Parse(args); err != nil {
		return err
	}
	names, err := migrations.Names(migrations.Dialect(strings.ToLower(*dialect)))
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(stdout, n)
	}
	return nil
}

func runImportLegacy(ctx context.Context, args []string, stdout io.Writer) error {
	fs, root := newFlagSet("import-legacy")
	dryRun := fs.Bool("dry-run", false, "validate without saving")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, _, err := open(ctx, *root)
	if err != nil {
		return err
	}
	defer a.Close()

	im := &legacy.Importer{
		DB:     a.Base.DB(),
		Store:  a.Store,
		Logger: a.Logger,
		Hooks:  a.Hooks,
		DryRun: *dryRun,
	}
	stats, err := im.Run(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(stdout).Encode(stats)
}

func userFlag(fs *flag.FlagSet) *int64 {
	return fs.Int64("user", 0, "user id")
}

func requireUser(id int64) error {
	if id <= 0 {
		return errors.New("--user is required")
	}
	return nil
}

func runExport(ctx context.Context, args []string, stdout io.Writer) error {
	fs, root := newFlagSet("export")
	user := userFlag(fs)
	out := fs.String("out", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(*user); err != nil {
		return err
	}
	a, _, err := open(ctx, *root)
	if err != nil {
		return err
	}
	defer a.Close()

	agg, err := a.Store.LoadConfig(ctx, *user)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	if *out == "" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(*out, data, 0o644)
}

func runApply(ctx context.Context, args []string, stdout io.Writer) error {
	fs, root := newFlagSet("apply")
	user := userFlag(fs)
	file := fs.String("file", "", "YAML file produced by export")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(*user); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("--file is required")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	var agg tenantcfg.Aggregate
	if err := yaml.Unmarshal(data, &agg); err != nil {
		return fmt.Errorf("decode %s: %w", *file, err)
	}

	a, _, err := open(ctx, *root)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Store.SaveConfig(ctx, *user, agg); err != nil {
		return err
	}
	emit(ctx, a, hooks.EventConfigSaved, *user, map[string]any{"section": "config", "source": *file})
	fmt.Fprintf(stdout, "applied %s to user %d\n", *file, *user)
	return nil
}

func runToken(args []string, stdout io.Writer) error {
	fs, root := newFlagSet("token")
	user := userFlag(fs)
	ttl := fs.Duration("ttl", auth.DefaultTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(*user); err != nil {
		return err
	}
	cfg, err := config.Load(*root)
	if err != nil {
		return err
	}
	token, err := auth.NewManager(cfg.AuthSecret).IssueToken(*user, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}

func parseAt(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be RFC3339: %w", err)
	}
	return t, nil
}

func runDue(ctx context.Context, args []string, stdout io.Writer) error {
	fs, root := newFlagSet("due")
	at := fs.String("at", "", "evaluation time (RFC3339, default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	now, err := parseAt(*at)
	if err != nil {
		return err
	}
	a, _, err := open(ctx, *root)
	if err != nil {
		return err
	}
	defer a.Close()

	due, err := a.Store.DueSchedules(ctx, now)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	for _, d := range due {
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	return nil
}

func runMarkRun(ctx context.Context, args []string, stdout io.Writer) error {
	fs, root := newFlagSet("mark-run")
	user := userFlag(fs)
	report := fs.String("report", "", "report type")
	at := fs.String("at", "", "run time (RFC3339, default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(*user); err != nil {
		return err
	}
	ranAt, err := parseAt(*at)
	if err != nil {
		return err
	}
	a, _, err := open(ctx, *root)
	if err != nil {
		return err
	}
	defer a.Close()

	rt := tenantcfg.ReportType(*report)
	if err := a.Store.MarkScheduleRun(ctx, *user, rt, ranAt); err != nil {
		return err
	}
	emit(ctx, a, hooks.EventScheduleRan, *user, map[string]any{"report_type": *report, "ran_at": ranAt.UTC()})
	fmt.Fprintf(stdout, "recorded %s run for user %d\n", *report, *user)
	return nil
}

func emit(ctx context.Context, a *app.App, typ hooks.EventType, userID int64, metadata map[string]any) {
	if err := a.Hooks.Emit(ctx, hooks.NewEvent(typ, userID, actor, metadata)); err != nil {
		a.Logger.Warn("hook delivery failed", zap.String("event", string(typ)), zap.Error(err))
	}
}
