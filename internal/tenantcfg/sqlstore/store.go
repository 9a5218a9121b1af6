// Package sqlstore implements tenantcfg.Store over database/sql. Engine
// differences live behind Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/callanalyzer/tenantconfig/internal/metrics"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
)

// Store is a tenantcfg.Store backed by a relational database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	loc     *time.Location
	now     func() time.Time
}

var _ tenantcfg.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger that receives raw storage errors.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocation sets the zone schedules are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps an open database. Schema management is the caller's concern.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		logger:  zap.NewNop(),
		loc:     time.Local,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for health checks and migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the engine dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// inTx runs fn in a transaction holding the user's write lock. fn's error
// is returned untouched; begin and commit failures become TxError.
func (s *Store) inTx(ctx context.Context, op string, userID int64, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storageError(op, userID, "", err)
	}
	defer tx.Rollback()

	if err := s.dialect.LockUser(ctx, tx, userID); err != nil {
		return s.storageError(op, userID, "", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.storageError(op, userID, "", err)
	}
	return nil
}

// storageError logs the raw error and returns its domain translation.
func (s *Store) storageError(op string, userID int64, table string, err error) error {
	if isDomainError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("storage operation cancelled",
			zap.String("op", op), zap.Int64("user_id", userID), zap.String("table", table), zap.Error(err))
		return tenantcfg.NewTxError(op, err)
	}
	if s.dialect.Classify(err) == KindForeignKeyViolation {
		s.logger.Warn("write for unknown user",
			zap.String("op", op), zap.Int64("user_id", userID), zap.String("table", table), zap.Error(err))
		return tenantcfg.NewMissingParentError(userID, table, err)
	}
	s.logger.Error("storage operation failed",
		zap.String("op", op), zap.Int64("user_id", userID), zap.String("table", table), zap.Error(err))
	return tenantcfg.NewTxError(op, err)
}

// writeError translates an error from a single-row write, naming the key
// tuple being written when it is a unique violation.
func (s *Store) writeError(op string, userID int64, table string, columns, values []string, err error) error {
	if s.dialect.Classify(err) == KindUniqueViolation {
		s.logger.Info("duplicate key",
			zap.String("op", op), zap.Int64("user_id", userID), zap.String("table", table),
			zap.Strings("key", values), zap.Error(err))
		return tenantcfg.NewDuplicateKeyError(table, columns, values, err)
	}
	return s.storageError(op, userID, table, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		tenantcfg.ErrDuplicateKey,
		tenantcfg.ErrMissingParent,
		tenantcfg.ErrInvalidConfig,
		tenantcfg.ErrScheduleNotFound,
		tenantcfg.ErrTransaction,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Store) rebind(q string) string { return s.dialect.Rebind(q) }

func observe(op string, started time.Time, err *error) {
	metrics.ObserveStore(op, started, *err)
}
