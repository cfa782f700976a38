package dbx

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLogSlow_LogsOverThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	g := &Gateway{logger: logger, slowQueryThreshold: 10 * time.Millisecond}

	g.logSlow(time.Now().Add(-20*time.Millisecond), "SELECT 1")

	if !strings.Contains(buf.String(), "slow query") {
		t.Errorf("expected slow query log, got %q", buf.String())
	}
}

func TestLogSlow_SkipsUnderThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	g := &Gateway{logger: logger, slowQueryThreshold: time.Second}

	g.logSlow(time.Now(), "SELECT 1")

	if buf.Len() != 0 {
		t.Errorf("expected no log output, got %q", buf.String())
	}
}

func TestNew_DefaultsThreshold(t *testing.T) {
	g := New(nil, slog.Default(), 0)
	if g.slowQueryThreshold != time.Second {
		t.Errorf("slowQueryThreshold = %v, want 1s", g.slowQueryThreshold)
	}
}
