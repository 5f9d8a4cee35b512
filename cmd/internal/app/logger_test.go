package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, "info", "json"))

	log.Debug("hidden")
	log.Info("server.start", "addr", "127.0.0.1:8080")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line (debug filtered), got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "server.start" || rec["addr"] != "127.0.0.1:8080" {
		t.Fatalf("unexpected record %v", rec)
	}
	if _, ok := rec["source"]; !ok {
		t.Fatalf("expected source attribute")
	}
}

func TestPrettyHandler_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false)
	log := slog.New(h).With("component", "http").WithGroup("req")

	log.Warn("http.request",
		"method", "post",
		"path", "/auth/signin",
		"status", 422,
		"status_class", "4xx",
		"duration_ms", int64(12),
		"note", "needs quoting",
	)

	got := buf.String()
	for _, want := range []string{
		"lvl=[WARN]",
		"msg=http.request",
		"component=http",
		"req.method=POST",
		"req.path=/auth/signin",
		"req.status=422",
		`req.note="needs quoting"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
	if strings.Contains(got, "\x1b[") {
		t.Fatalf("color disabled but ANSI codes present: %q", got)
	}
}

func TestPrettyHandler_ColorAndLevels(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, true))

	log.Info("dropped")
	log.Error("server.fail", "status", 503)

	got := buf.String()
	if strings.Contains(got, "dropped") {
		t.Fatalf("info must be filtered at warn level: %q", got)
	}
	if !strings.Contains(got, ansiRed+"[ERROR]"+ansiReset) {
		t.Fatalf("expected red error tag: %q", got)
	}
	if !strings.Contains(got, ansiRed+"503"+ansiReset) {
		t.Fatalf("expected red 5xx status: %q", got)
	}
}

func TestColorizeDurationMS(t *testing.T) {
	t.Parallel()

	if got := colorizeDurationMS(1500, false); got != "1500ms" {
		t.Fatalf("plain duration = %q", got)
	}
	if got := colorizeDurationMS(300, true); got != ansiYellow+"300ms"+ansiReset {
		t.Fatalf("slow duration = %q", got)
	}
}
