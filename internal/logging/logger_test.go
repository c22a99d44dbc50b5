package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")

	logger.Info("dropped")
	logger.Warn("kept", "rows", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected a single line, got %q", buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	if record["msg"] != "kept" || record["rows"] != float64(3) {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestNewTintWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "tint").Info("import completed", "total_rows", 5)

	if !strings.Contains(buf.String(), "import completed") || !strings.Contains(buf.String(), "total_rows") {
		t.Fatalf("unexpected tint output %q", buf.String())
	}
}

func TestFromContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(New(&buf, "info", "text"))
	t.Cleanup(func() { slog.SetDefault(previous) })

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	WithFields(ctx, "job_id", "abc").Info("queued")

	out := buf.String()
	if !strings.Contains(out, "request_id=req-42") || !strings.Contains(out, "job_id=abc") {
		t.Fatalf("expected request and job ids in %q", out)
	}
}

func TestFromContextWithoutRequestID(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(New(&buf, "info", "text"))
	t.Cleanup(func() { slog.SetDefault(previous) })

	FromContext(context.Background()).Info("plain")

	if strings.Contains(buf.String(), "request_id") {
		t.Fatalf("did not expect request id in %q", buf.String())
	}
}
