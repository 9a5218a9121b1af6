package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/callanalyzer/tenantconfig/internal/auth"
	"github.com/callanalyzer/tenantconfig/internal/legacy"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg/sqlite"
)

func cfgctl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

// workspace scaffolds a config root with a migrated SQLite database and
// user 1.
func workspace(t *testing.T) (root, dbPath string) {
	t.Helper()
	root = t.TempDir()
	dbPath = filepath.Join(root, "data", "config.db")
	_, err := cfgctl(t, "init", "--root", root, "--sqlite-path", dbPath, "--auth-secret", "s3cret")
	require.NoError(t, err)

	out, err := cfgctl(t, "migrate", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "applied 6 migrations (sqlite)")

	db := openDB(t, dbPath)
	_, err = db.Exec(`INSERT INTO users (id, username) VALUES (1, 'alice')`)
	require.NoError(t, err)
	return root, dbPath
}

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", sqlite.DSN(path))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

const sampleYAML = `config:
  source_type: local
  base_records_path: /srv/records
  business_profile: autoservice
stations:
  - code: NN01
    name: Nizhny hub
station_chat_ids:
  - station_code: NN01
    chat_id: "-100500"
prompts:
  - prompt_type: default
    prompt_key: default
    prompt_text: Classify the call
schedules:
  - report_type: week_full
    schedule_type: daily
    daily_time: "12:00"
    period_type: last_week
`

func TestExportApplyRoundTrip(t *testing.T) {
	root, _ := workspace(t)
	file := filepath.Join(root, "alice.yaml")
	require.NoError(t, os.WriteFile(file, []byte(sampleYAML), 0o644))

	out, err := cfgctl(t, "apply", "--root", root, "--user", "1", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "applied")

	exported := filepath.Join(root, "export.yaml")
	_, err = cfgctl(t, "export", "--root", root, "--user", "1", "--out", exported)
	require.NoError(t, err)

	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	var agg tenantcfg.Aggregate
	require.NoError(t, yaml.Unmarshal(data, &agg))
	assert.Equal(t, []tenantcfg.Station{{Code: "NN01", Name: "Nizhny hub"}}, agg.Stations)
	assert.Equal(t, "/srv/records", agg.Config.BaseRecordsPath)
	require.Len(t, agg.Schedules, 1)
	assert.NotNil(t, agg.Schedules[0].NextRunAt)

	// Re-applying the export is a no-op.
	_, err = cfgctl(t, "apply", "--root", root, "--user", "1", "--file", exported)
	require.NoError(t, err)
	again, err := cfgctl(t, "export", "--root", root, "--user", "1")
	require.NoError(t, err)
	assert.Equal(t, string(data), again)
}

func TestApplyReportsInvalidConfig(t *testing.T) {
	root, _ := workspace(t)
	file := filepath.Join(root, "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("schedules:\n  - report_type: rr_3\n    schedule_type: fortnightly\n"), 0o644))

	_, err := cfgctl(t, "apply", "--root", root, "--user", "1", "--file", file)
	require.Error(t, err)
	assert.ErrorIs(t, err, tenantcfg.ErrInvalidConfig)
}

func TestDueAndMarkRun(t *testing.T) {
	root, _ := workspace(t)
	file := filepath.Join(root, "alice.yaml")
	require.NoError(t, os.WriteFile(file, []byte(sampleYAML), 0o644))
	_, err := cfgctl(t, "apply", "--root", root, "--user", "1", "--file", file)
	require.NoError(t, err)

	at := "2099-01-05T00:00:00Z"
	out, err := cfgctl(t, "due", "--root", root, "--at", at)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var due tenantcfg.DueSchedule
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &due))
	assert.Equal(t, int64(1), due.UserID)
	assert.Equal(t, tenantcfg.ReportWeekFull, due.Schedule.ReportType)
	assert.Equal(t, "2099-01-04", due.Range.End.String())

	_, err = cfgctl(t, "mark-run", "--root", root, "--user", "1", "--report", "week_full", "--at", at)
	require.NoError(t, err)

	out, err = cfgctl(t, "due", "--root", root, "--at", at)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))

	_, err = cfgctl(t, "mark-run", "--root", root, "--user", "1", "--report", "rr_bad")
	assert.ErrorIs(t, err, tenantcfg.ErrScheduleNotFound)
}

func TestImportLegacy(t *testing.T) {
	root, dbPath := workspace(t)
	db := openDB(t, dbPath)
	_, err := db.Exec(`CREATE TABLE user_settings (user_id INTEGER PRIMARY KEY, data TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO user_settings (user_id, data) VALUES (1, ?)`,
		`{"config": {"stations": {"NN01": "Hub"}}, "vocabulary": {"enabled": true, "additional_vocab": ["ТО"]}}`)
	require.NoError(t, err)

	out, err := cfgctl(t, "import-legacy", "--root", root, "--dry-run")
	require.NoError(t, err)
	var stats legacy.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, legacy.Stats{Imported: 1}, stats)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM user_stations`).Scan(&n))
	assert.Zero(t, n, "dry run must not write")

	_, err = cfgctl(t, "import-legacy", "--root", root)
	require.NoError(t, err)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM user_stations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestToken(t *testing.T) {
	root, _ := workspace(t)
	out, err := cfgctl(t, "token", "--root", root, "--user", "7", "--ttl", "1h")
	require.NoError(t, err)

	userID, err := auth.NewManager("s3cret").ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)

	_, err = cfgctl(t, "token", "--root", root)
	assert.Error(t, err)
}

func TestMigrationsAndHelp(t *testing.T) {
	out, err := cfgctl(t, "migrations", "--dialect", "sqlite")
	require.NoError(t, err)
	names := strings.Fields(out)
	require.Len(t, names, 6)
	assert.True(t, strings.HasPrefix(names[0], "0001"))

	_, err = cfgctl(t, "migrations", "--dialect", "oracle")
	assert.Error(t, err)

	out, err = cfgctl(t, "help")
	require.NoError(t, err)
	assert.Contains(t, out, "cfgctl export")

	_, err = cfgctl(t, "frobnicate")
	assert.Error(t, err)
}
