package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestNamesAreOrderedAndMatchAcrossDialects(t *testing.T) {
	pg, err := Names(Postgres)
	require.NoError(t, err)
	lite, err := Names(SQLite)
	require.NoError(t, err)

	assert.Equal(t, pg, lite)
	require.NotEmpty(t, pg)
	assert.Equal(t, "0001_users.sql", pg[0])
	for i := 1; i < len(pg); i++ {
		assert.Less(t, pg[i-1], pg[i])
	}
}

func TestFilesAreAdditiveOnly(t *testing.T) {
	for _, d := range []Dialect{Postgres, SQLite} {
		all, err := Files(d)
		require.NoError(t, err)
		for name, data := range all {
			upper := strings.ToUpper(string(data))
			assert.NotContains(t, upper, "DROP TABLE", "%s/%s", d, name)
			assert.NotContains(t, upper, "DROP COLUMN", "%s/%s", d, name)
			if d == Postgres {
				for _, stmt := range Statements(data) {
					s := strings.ToUpper(stmt)
					if strings.HasPrefix(s, "CREATE TABLE") {
						assert.Contains(t, s, "IF NOT EXISTS", "%s/%s", d, name)
					}
					if strings.HasPrefix(s, "ALTER TABLE") {
						assert.Contains(t, s, "ADD COLUMN IF NOT EXISTS", "%s/%s", d, name)
					}
				}
			}
		}
	}
}

func TestUnknownDialect(t *testing.T) {
	_, err := Files(Dialect("mysql"))
	require.Error(t, err)
}

func TestStatementsSkipsComments(t *testing.T) {
	stmts := Statements([]byte("-- header\nCREATE TABLE a (id INT);\n\n-- note\nUPDATE a\n  SET id = 1;\n"))
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id INT);", stmts[0])
	assert.True(t, strings.HasPrefix(stmts[1], "UPDATE a"))
}

func TestApplySQLiteTwice(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, Apply(ctx, db, SQLite))
	require.NoError(t, Apply(ctx, db, SQLite), "second run must be a no-op")

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='report_schedules'`).Scan(&n))
	assert.Equal(t, 1, n)

	_, err = db.Exec(`SELECT manual_start_date, business_profile FROM report_schedules, user_config LIMIT 0`)
	assert.NoError(t, err)
}
