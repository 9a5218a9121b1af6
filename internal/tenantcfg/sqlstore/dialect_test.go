package sqlstore

import "testing"

func TestRebindDollar(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"INSERT INTO t (a, b) VALUES (?, '?')", "INSERT INTO t (a, b) VALUES ($1, '?')"},
		{"UPDATE t SET note = 'it''s ?' WHERE id = ?", "UPDATE t SET note = 'it''s ?' WHERE id = $1"},
	}
	for _, tt := range tests {
		if got := RebindDollar(tt.in); got != tt.want {
			t.Errorf("RebindDollar(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
