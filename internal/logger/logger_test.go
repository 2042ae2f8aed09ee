package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogBridgeCarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Service: "cadastre-proxy"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithOperation(ctx, "getmap")
	log.InfoContext(ctx, "dispatched", "regions", 3, "err", errors.New("boom"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if rec["request_id"] != "req-1" || rec["operation"] != "getmap" {
		t.Fatalf("context fields missing: %v", rec)
	}
	if rec["msg"] != "dispatched" || rec["service"] != "cadastre-proxy" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["regions"] != float64(3) || rec["err"] != "boom" {
		t.Fatalf("attrs not forwarded: %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log := NewSlog(&zl)
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info emitted at warn level: %q", buf.String())
	}
	log.Warn("shown")
	if buf.Len() == 0 {
		t.Fatalf("warn not emitted")
	}
}

func TestWithRequestIDGeneratesID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if RequestID(ctx) == "" {
		t.Fatalf("expected generated id")
	}
}
