package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/callanalyzer/tenantconfig/internal/migrations"
)

// ErrorKind classifies a driver error.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindUniqueViolation
	KindForeignKeyViolation
)

// Dialect isolates what differs between storage engines.
type Dialect interface {
	// Name selects the migration set.
	Name() migrations.Dialect
	// Rebind rewrites ? placeholders into the engine's style.
	Rebind(query string) string
	// LockUser serialises writers of one user inside tx without blocking
	// other users.
	LockUser(ctx context.Context, tx *sql.Tx, userID int64) error
	// Classify maps a driver error onto an ErrorKind.
	Classify(err error) ErrorKind
}

// RebindDollar rewrites ? placeholders as $1, $2, ... Question marks inside
// single-quoted literals are left alone.
func RebindDollar(query string) string {
	var (
		b       strings.Builder
		n       int
		inQuote bool
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
