package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"github.com/atonkyra/ls-ruuvi/internal/config"
)

func TestNew_ProdWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.Config{AppEnv: "prod", LogLevel: slog.LevelInfo}, "1.2.3", "ls-ruuvi")

	logger.Info("reading decoded", "sensor", "F4:A5:74:89:16:57")
	logger.Debug("filtered out")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (debug suppressed), got %d: %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	want := map[string]string{
		"msg":     "reading decoded",
		"app":     "ls-ruuvi",
		"version": "1.2.3",
		"env":     "prod",
		"sensor":  "F4:A5:74:89:16:57",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %v, want %q", k, rec[k], v)
		}
	}
}

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func TestNew_DevUsesTint(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.Config{AppEnv: "dev", LogLevel: slog.LevelDebug}, "dev", "ls-ruuvi")

	logger.Debug("controller listed", "index", 0)

	out := ansi.ReplaceAllString(buf.String(), "")
	if json.Valid([]byte(strings.TrimSpace(out))) {
		t.Fatalf("dev output should not be JSON: %q", out)
	}
	for _, want := range []string{"controller listed", "app=ls-ruuvi", "index=0", "logger_test.go"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
	if strings.Contains(out, "version=") {
		t.Errorf("dev output should not carry version: %q", out)
	}
}
