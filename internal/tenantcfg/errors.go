package tenantcfg

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateKey reports a write that would violate a unique key.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrMissingParent reports a write for a user that does not exist.
	ErrMissingParent = errors.New("missing parent user")
	// ErrInvalidConfig reports configuration that fails validation, on write
	// or on load.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrTransaction reports a storage failure that aborted the operation.
	ErrTransaction = errors.New("transaction failed")
	// ErrScheduleNotFound reports a bookkeeping update for an unknown schedule.
	ErrScheduleNotFound = errors.New("report schedule not found")
)

// DuplicateKeyError names the table and key tuple that collided.
type DuplicateKeyError struct {
	Table   string
	Columns []string
	Values  []string
	cause   error
}

// NewDuplicateKeyError builds a DuplicateKeyError. cause is kept for logging
// and unwrapping but never rendered.
func NewDuplicateKeyError(table string, columns, values []string, cause error) *DuplicateKeyError {
	return &DuplicateKeyError{Table: table, Columns: columns, Values: values, cause: cause}
}

func (e *DuplicateKeyError) Error() string {
	pairs := make([]string, 0, len(e.Columns))
	for i, col := range e.Columns {
		val := ""
		if i < len(e.Values) {
			val = e.Values[i]
		}
		pairs = append(pairs, fmt.Sprintf("%s=%q", col, val))
	}
	return fmt.Sprintf("duplicate key in %s (%s)", e.Table, strings.Join(pairs, ", "))
}

// Key returns the key tuple as a column to value map.
func (e *DuplicateKeyError) Key() map[string]string {
	out := make(map[string]string, len(e.Columns))
	for i, col := range e.Columns {
		if i < len(e.Values) {
			out[col] = e.Values[i]
		}
	}
	return out
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }
func (e *DuplicateKeyError) Unwrap() error        { return e.cause }

// MissingParentError reports a write referencing a user that does not exist.
type MissingParentError struct {
	UserID int64
	Table  string
	cause  error
}

func NewMissingParentError(userID int64, table string, cause error) *MissingParentError {
	return &MissingParentError{UserID: userID, Table: table, cause: cause}
}

func (e *MissingParentError) Error() string {
	return fmt.Sprintf("user %d does not exist (writing %s)", e.UserID, e.Table)
}

func (e *MissingParentError) Is(target error) bool { return target == ErrMissingParent }
func (e *MissingParentError) Unwrap() error        { return e.cause }

// InvalidConfigError reports a field that failed validation.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func invalid(field, format string, args ...interface{}) *InvalidConfigError {
	return &InvalidConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *InvalidConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// TxError reports a storage fault that aborted Op. Nothing was committed.
type TxError struct {
	Op    string
	cause error
}

func NewTxError(op string, cause error) *TxError {
	return &TxError{Op: op, cause: cause}
}

func (e *TxError) Error() string { return fmt.Sprintf("%s: transaction failed", e.Op) }

func (e *TxError) Is(target error) bool { return target == ErrTransaction }
func (e *TxError) Unwrap() error        { return e.cause }
