package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg/sqlstore"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want sqlstore.ErrorKind
	}{
		{"pq unique", &pq.Error{Code: "23505"}, sqlstore.KindUniqueViolation},
		{"pq foreign key", &pq.Error{Code: "23503"}, sqlstore.KindForeignKeyViolation},
		{"pq other", &pq.Error{Code: "40001"}, sqlstore.KindOther},
		{"pgx unique", &pgconn.PgError{Code: "23505"}, sqlstore.KindUniqueViolation},
		{"pgx wrapped foreign key", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503"}), sqlstore.KindForeignKeyViolation},
		{"plain", errors.New("connection reset"), sqlstore.KindOther},
		{"nil", nil, sqlstore.KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Dialect{}.Classify(tt.err))
		})
	}
}

func newMockStore(t *testing.T) (*sqlstore.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := sqlstore.New(db, Dialect{})
	t.Cleanup(func() { _ = store.Close() })
	return store, mock
}

func TestAddStationUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO user_stations (user_id, code, name) VALUES ($1, $2, $3)`)).
		WithArgs(int64(42), "NN01", "Center").
		WillReturnError(&pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "user_stations_user_id_code_key"`})

	err := store.AddStation(context.Background(), 42, tenantcfg.Station{Code: "NN01", Name: "Center"})
	require.ErrorIs(t, err, tenantcfg.ErrDuplicateKey)

	var dup *tenantcfg.DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []string{"user_id", "code"}, dup.Columns)
	assert.Equal(t, []string{"42", "NN01"}, dup.Values)
	assert.NotContains(t, err.Error(), "user_stations_user_id_code_key")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddStationUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO user_stations`).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	err := store.AddStation(context.Background(), 7, tenantcfg.Station{Code: "NN01"})
	require.ErrorIs(t, err, tenantcfg.ErrMissingParent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkScheduleRunTakesAdvisoryLock(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock($1, $2)`)).
		WithArgs(advisoryNamespace, int32(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM report_schedules WHERE user_id = \$1 AND report_type = \$2`).
		WithArgs(int64(42), "rr_3").
		WillReturnRows(sqlmock.NewRows([]string{"report_type"}))
	mock.ExpectRollback()

	err := store.MarkScheduleRun(context.Background(), 42, tenantcfg.ReportRR3, time.Now())
	require.ErrorIs(t, err, tenantcfg.ErrScheduleNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveConfigLockFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WillReturnError(errors.New("server closed the connection unexpectedly"))
	mock.ExpectRollback()

	err := store.SaveConfig(context.Background(), 42, tenantcfg.DefaultAggregate())
	require.ErrorIs(t, err, tenantcfg.ErrTransaction)
	assert.NotContains(t, err.Error(), "server closed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveConfigValidationSkipsDatabase(t *testing.T) {
	store, mock := newMockStore(t)

	agg := tenantcfg.DefaultAggregate()
	agg.Config.SourceType = "s3"
	err := store.SaveConfig(context.Background(), 42, agg)
	require.ErrorIs(t, err, tenantcfg.ErrInvalidConfig)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = "mysql"
	_, err := New(context.Background(), "postgres://localhost/none", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported postgres driver")
}

// TestLiveRoundTrip runs against a real server when CALLCFG_TEST_POSTGRES_DSN
// is set.
func TestLiveRoundTrip(t *testing.T) {
	dsn := os.Getenv("CALLCFG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CALLCFG_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	for _, driver := range []string{DriverPQ, DriverPGX} {
		t.Run(driver, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Driver = driver
			store, err := New(ctx, dsn, cfg)
			require.NoError(t, err)
			defer store.Close()

			var userID int64
			username := fmt.Sprintf("it-%s-%d", driver, time.Now().UnixNano())
			require.NoError(t, store.DB().QueryRowContext(ctx,
				`INSERT INTO users (username) VALUES ($1) RETURNING id`, username).Scan(&userID))
			defer store.DB().ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)

			agg := tenantcfg.DefaultAggregate()
			agg.Stations = []tenantcfg.Station{{Code: "NN01", Name: "Center"}}
			agg.Schedules = []tenantcfg.ReportSchedule{{
				ReportType: tenantcfg.ReportWeekFull,
				Enabled:    true,
				Spec:       tenantcfg.CronSchedule{Expr: "30 6 * * 1"},
			}}
			require.NoError(t, store.SaveConfig(ctx, userID, agg))

			err = store.AddStation(ctx, userID, tenantcfg.Station{Code: "NN01"})
			require.ErrorIs(t, err, tenantcfg.ErrDuplicateKey)

			got, err := store.LoadConfig(ctx, userID)
			require.NoError(t, err)
			require.Len(t, got.Stations, 1)
			require.Len(t, got.Schedules, 1)
			assert.NotNil(t, got.Schedules[0].NextRunAt)
		})
	}
}
