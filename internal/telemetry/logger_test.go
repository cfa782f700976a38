package telemetry

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	inner := slog.NewJSONHandler(buf, nil)
	return slog.New(&redactingHandler{inner: inner})
}

func TestLogger_RedactsTopLevelSecretKey(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Info("issuing token", "bearer_token", "super-secret-value", "user_id", "u1")

	out := buf.String()
	if strings.Contains(out, "super-secret-value") {
		t.Errorf("log output leaked secret value: %s", out)
	}
	if !strings.Contains(out, "u1") {
		t.Errorf("non-secret field was redacted: %s", out)
	}
}

func TestLogger_RedactsNestedGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Info("webhook received",
		slog.Group("headers",
			slog.String("Webhook-Signature", "abc123"),
			slog.String("Content-Type", "application/json"),
		),
	)

	out := buf.String()
	if strings.Contains(out, "abc123") {
		t.Errorf("nested secret leaked: %s", out)
	}
	if !strings.Contains(out, "application/json") {
		t.Errorf("non-secret nested field was redacted: %s", out)
	}
}

func TestLogger_RedactsNestedMapAndSlice(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	payload := map[string]any{
		"proxy_credential": "deadbeef",
		"items": []any{
			map[string]any{"api_key": "leak-me", "name": "ok"},
		},
	}
	logger.Info("debug dump", "payload", payload)

	out := buf.String()
	if strings.Contains(out, "deadbeef") || strings.Contains(out, "leak-me") {
		t.Errorf("nested secret leaked: %s", out)
	}
	if !strings.Contains(out, `"name":"ok"`) {
		t.Errorf("non-secret nested field was redacted: %s", out)
	}
}

func TestLogger_WithAttrsRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf).With("session_token", "tok_abc")

	logger.Info("request handled")

	out := buf.String()
	if strings.Contains(out, "tok_abc") {
		t.Errorf("secret attached via With() leaked: %s", out)
	}
}

func TestIsSecretKey(t *testing.T) {
	cases := map[string]bool{
		"password":             true,
		"Password":              true,
		"user_password_digest":  true,
		"X-Api-Key":             true,
		"Authorization":         true,
		"Webhook-Signature":     true,
		"proxy_credential":      true,
		"email":                 false,
		"user_id":               false,
	}
	for key, want := range cases {
		if got := isSecretKey(key); got != want {
			t.Errorf("isSecretKey(%q) = %v, want %v", key, got, want)
		}
	}
}
