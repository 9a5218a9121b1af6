package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestRotatingWriterRotatesBySizeAndDay(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "configd.log")
	now := time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)

	wc, err := newRotatingWriter(base, 10, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer wc.Close()
	rw := wc.(*RotatingWriter)

	if _, err := rw.Write([]byte("12345678")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := filepath.Base(rw.Path()); got != "configd-2025-03-10.log" {
		t.Fatalf("unexpected first file %s", got)
	}
	if _, err := rw.Write([]byte("abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := filepath.Base(rw.Path()); got != "configd-2025-03-10-2.log" {
		t.Fatalf("expected size rollover, got %s", got)
	}

	now = now.Add(2 * time.Minute)
	if _, err := rw.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := filepath.Base(rw.Path()); got != "configd-2025-03-11.log" {
		t.Fatalf("expected day rollover, got %s", got)
	}

	data, err := os.ReadFile(base)
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != "x" && !strings.Contains(string(data), "configd-2025-03-11.log") {
		t.Fatalf("base path does not follow active file: %q", data)
	}
}

func TestRotatingWriterDash(t *testing.T) {
	wc, err := NewRotatingWriter("-", 0)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if n, err := wc.Write([]byte("dropped")); err != nil || n != 7 {
		t.Fatalf("write = %d, %v", n, err)
	}
	if err := wc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewLoggerWritesJSONToSink(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("debug", "json", "configd", &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("saved", zapcoreInt("user_id", 42))
	_ = logger.Sync()

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if entry["service_name"] != "configd" || entry["msg"] != "saved" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("missing timestamp key in %v", entry)
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("warn", "console", "", &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewCLILogger("info", "xml", "cfgctl", nil); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"":      zapcore.InfoLevel,
		"loud":  zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func zapcoreInt(key string, v int64) zapcore.Field {
	return zapcore.Field{Key: key, Type: zapcore.Int64Type, Integer: v}
}
