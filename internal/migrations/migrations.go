// Package migrations embeds the ordered, idempotent schema files for the
// tenant configuration tables.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Dialect selects the SQL flavour of the migration files.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Names returns the migration file names for d in application order.
func Names(d Dialect) ([]string, error) {
	entries, err := fs.ReadDir(files, string(d))
	if err != nil {
		return nil, fmt.Errorf("unknown migration dialect %q: %w", d, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Files returns the mapping from file name to SQL bytes for d. External
// runners apply them in the order given by Names.
func Files(d Dialect) (map[string][]byte, error) {
	names, err := Names(d)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(names))
	for _, name := range names {
		data, err := files.ReadFile(path.Join(string(d), name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// Apply runs every migration for d in order. Files are idempotent; SQLite
// has no ADD COLUMN IF NOT EXISTS, so a column that already exists is
// skipped.
func Apply(ctx context.Context, db *sql.DB, d Dialect) error {
	names, err := Names(d)
	if err != nil {
		return err
	}
	all, err := Files(d)
	if err != nil {
		return err
	}
	for _, name := range names {
		for i, stmt := range Statements(all[name]) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				if isDuplicateColumn(err) {
					continue
				}
				return fmt.Errorf("apply %s statement %d: %w", name, i+1, err)
			}
		}
	}
	return nil
}

// Statements splits a migration file into individual statements, dropping
// comment-only lines.
func Statements(data []byte) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSpace(cur.String()); stmt != ";" {
				out = append(out, stmt)
			}
			cur.Reset()
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}

func isDuplicateColumn(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
