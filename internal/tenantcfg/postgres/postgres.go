// Package postgres opens the tenant configuration store on PostgreSQL, using
// either lib/pq or the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/callanalyzer/tenantconfig/internal/migrations"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg/sqlstore"
)

// Driver names accepted by Config.Driver.
const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

// advisoryNamespace is the first key of pg_advisory_xact_lock(int, int);
// the second is the user id.
const advisoryNamespace = 0x7466 // "tf"

// Config holds connection pool settings.
type Config struct {
	Driver          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	AutoMigrate     bool
}

// DefaultConfig returns sensible defaults for connection pooling.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverPQ,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
		AutoMigrate:     true,
	}
}

// New opens dsn, verifies connectivity, optionally applies migrations and
// returns the store.
func New(ctx context.Context, dsn string, cfg Config, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPQ
	}
	if driver != DriverPQ && driver != DriverPGX {
		return nil, fmt.Errorf("unsupported postgres driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := migrations.Apply(ctx, db, migrations.Postgres); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return sqlstore.New(db, Dialect{}, opts...), nil
}

// Dialect is the PostgreSQL sqlstore.Dialect.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() migrations.Dialect { return migrations.Postgres }

func (Dialect) Rebind(query string) string { return sqlstore.RebindDollar(query) }

// LockUser takes a transaction-scoped advisory lock on the user id, so
// concurrent saves for one user apply one after another while other users
// proceed.
func (Dialect) LockUser(ctx context.Context, tx *sql.Tx, userID int64) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, advisoryNamespace, int32(userID))
	if err != nil {
		return fmt.Errorf("lock user %d: %w", userID, err)
	}
	return nil
}

// Classify recognises unique (23505) and foreign key (23503) violations
// from both drivers.
func (Dialect) Classify(err error) sqlstore.ErrorKind {
	var code string
	var pqErr *pq.Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	case errors.As(err, &pgErr):
		code = pgErr.Code
	default:
		return sqlstore.KindOther
	}
	switch code {
	case "23505":
		return sqlstore.KindUniqueViolation
	case "23503":
		return sqlstore.KindForeignKeyViolation
	}
	return sqlstore.KindOther
}
