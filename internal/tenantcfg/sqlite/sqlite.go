// Package sqlite opens the tenant configuration store on an embedded SQLite
// database, for local development and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/callanalyzer/tenantconfig/internal/migrations"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg/sqlstore"
)

// DSN builds the connection string for path. Foreign keys must be enabled
// on every connection for ON DELETE CASCADE to fire.
func DSN(path string) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate" +
		"&_time_format=sqlite"
}

// New opens (or creates) a SQLite store at the given path and applies the
// migrations.
func New(ctx context.Context, path string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrations.Apply(ctx, db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return sqlstore.New(db, Dialect{}, opts...), nil
}

// Dialect is the SQLite sqlstore.Dialect.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() migrations.Dialect { return migrations.SQLite }

func (Dialect) Rebind(query string) string { return query }

// LockUser is a no-op: transactions begin IMMEDIATE, which already admits a
// single writer.
func (Dialect) LockUser(context.Context, *sql.Tx, int64) error { return nil }

// Classify maps SQLite constraint errors.
func (Dialect) Classify(err error) sqlstore.ErrorKind {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return sqlstore.KindUniqueViolation
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return sqlstore.KindForeignKeyViolation
		}
	}
	if err == nil {
		return sqlstore.KindOther
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return sqlstore.KindUniqueViolation
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return sqlstore.KindForeignKeyViolation
	}
	return sqlstore.KindOther
}
