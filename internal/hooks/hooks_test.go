package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestDispatcherEmit(t *testing.T) {
	d := &Dispatcher{}
	var sequence []string
	d.Register(func(ctx context.Context, evt Event) error {
		sequence = append(sequence, "first:"+string(evt.Type))
		return nil
	})
	d.Register(func(ctx context.Context, evt Event) error {
		sequence = append(sequence, "second:"+evt.Metadata["table"].(string))
		return errors.New("second handler failed")
	})

	evt := NewEvent(EventConfigSaved, 42, "api", map[string]any{"table": "user_stations"})

	err := d.Emit(context.Background(), evt)
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	if !strings.Contains(err.Error(), "second handler failed") {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sequence) != 2 {
		t.Fatalf("expected two handlers to run, got %d", len(sequence))
	}
	if sequence[0] != "first:"+string(EventConfigSaved) {
		t.Fatalf("unexpected first handler record %q", sequence[0])
	}
	if sequence[1] != "second:user_stations" {
		t.Fatalf("unexpected second handler record %q", sequence[1])
	}
}

func TestNilDispatcherDropsEvents(t *testing.T) {
	var d *Dispatcher
	if err := d.Emit(context.Background(), NewEvent(EventStationAdded, 1, "api", nil)); err != nil {
		t.Fatalf("nil dispatcher returned %v", err)
	}
}

func TestNewEventIDsAreUnique(t *testing.T) {
	a := NewEvent(EventConfigImported, 1, "importer", nil)
	b := NewEvent(EventConfigImported, 1, "importer", nil)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.OccurredAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", a.OccurredAt.Location())
	}
}

func TestNewScriptHandlerRunsCommand(t *testing.T) {
	MarshalEvent = JSONMarshaler

	evt := NewEvent(EventStationAdded, 42, "api", map[string]any{"code": "NN01"})
	handler := NewScriptHandler(ScriptConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcessScriptHandler", "--"},
		Env: map[string]string{
			"GO_WANT_HELPER_PROCESS": "1",
			"HOOK_EXPECT_ID":         evt.ID,
			"HOOK_EXPECT_TYPE":       string(evt.Type),
			"HOOK_EXPECT_USER":       "42",
		},
		Timeout: 5 * time.Second,
	})

	if err := handler(context.Background(), evt); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
}

func TestHelperProcessScriptHandler(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	var payload struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		UserID int64  `json:"user_id"`
	}
	if err := json.NewDecoder(os.Stdin).Decode(&payload); err != nil {
		io.WriteString(os.Stderr, "decode error: "+err.Error())
		os.Exit(2)
	}
	if payload.ID != os.Getenv("HOOK_EXPECT_ID") {
		io.WriteString(os.Stderr, "unexpected id")
		os.Exit(3)
	}
	if payload.Type != os.Getenv("HOOK_EXPECT_TYPE") {
		io.WriteString(os.Stderr, "unexpected type")
		os.Exit(4)
	}
	if strconv.FormatInt(payload.UserID, 10) != os.Getenv("HOOK_EXPECT_USER") {
		io.WriteString(os.Stderr, "unexpected user")
		os.Exit(5)
	}
	os.Exit(0)
}

func TestScriptHandlerRequiresCommand(t *testing.T) {
	err := NewScriptHandler(ScriptConfig{})(context.Background(), Event{})
	if err == nil {
		t.Fatal("expected error without command")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error when enabled without script path")
	}

	cfg.ScriptPath = "/tmp/hook.sh"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	h := cfg.BuildScriptHandler()
	if h == nil {
		t.Fatalf("expected handler when config enabled")
	}

	disabled := Config{}
	if handler := disabled.BuildScriptHandler(); handler != nil {
		t.Fatalf("expected nil handler when config disabled")
	}
	d, err := disabled.NewDispatcher()
	if err != nil || d == nil {
		t.Fatalf("NewDispatcher on disabled config = %v, %v", d, err)
	}
}
