package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestLoggerWritesJSONWithBaseFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", ServiceName: "route-worker", Environment: "test", Version: "v1", Output: &buf})
	l.WithCorrelationID("c-1").WithComponent("runner").WithError(errors.New("boom")).Info("hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %v (%s)", err, buf.String())
	}
	for k, want := range map[string]string{
		"service": "route-worker", "environment": "test", "version": "v1",
		"correlationId": "c-1", "component": "runner", "error": "boom", "msg": "hello",
	} {
		if rec[k] != want {
			t.Fatalf("%s = %v, want %q", k, rec[k], want)
		}
	}
	if _, err := time.Parse(time.RFC3339Nano, rec["time"].(string)); err != nil {
		t.Fatalf("time not RFC3339Nano: %v", err)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "warn", Output: &buf})
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %s", buf.String())
	}
	l.Performance(context.Background(), "solve", time.Second, false)
	if buf.Len() == 0 {
		t.Fatalf("failed performance entry should log at error")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "bogus": slog.LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
