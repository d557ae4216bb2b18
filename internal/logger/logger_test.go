package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"ERROR": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithQueryJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "DEBUG", Format: "json"}, &buf)

	ctx := WithQueryID(context.Background(), "q-1")
	WithQuery(ctx, l).Debug("executed", "store", "users")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line: %v (%s)", err, buf.String())
	}
	if entry["query_id"] != "q-1" || entry["store"] != "users" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "WARN"}, &buf)
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestWithQueryWithoutID(t *testing.T) {
	l := Discard()
	if WithQuery(context.Background(), l) != l {
		t.Errorf("expected the same logger without a query id")
	}
}
