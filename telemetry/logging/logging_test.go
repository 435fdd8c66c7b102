package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"ioac/telemetry/tracing"
)

func TestCorrelatedLoggerAddsTraceSpan(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{AddSource: false})
	base := slog.New(handler)
	log := New(base)

	tr := tracing.NewTracer(true)
	ctx, span := tr.StartSpan(context.Background(), "evaluate")
	defer span.End()
	log.InfoCtx(ctx, "admission check", "k", "v")
	out := buf.String()
	if !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Fatalf("expected trace/span in log: %s", out)
	}
}

func TestCorrelatedLoggerNoSpan(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, nil)
	log := New(slog.New(handler))
	log.InfoCtx(context.Background(), "plain")
	if strings.Contains(buf.String(), "trace_id=") {
		t.Fatalf("unexpected trace id present")
	}
}

func TestDecisionLogsAcceptAsInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.New(slog.NewTextHandler(&buf, nil)))
	log.Decision(context.Background(), "req-1", "accept", "", 4096, 2048, 12288)
	out := buf.String()
	if !strings.Contains(out, "level=INFO") {
		t.Fatalf("expected Accept to log at info level: %s", out)
	}
	if !strings.Contains(out, "request_id=req-1") || !strings.Contains(out, "required_mb=2048") {
		t.Fatalf("expected decision fields in log: %s", out)
	}
}

func TestDecisionLogsRejectAsWarn(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.New(slog.NewTextHandler(&buf, nil)))
	log.Decision(context.Background(), "req-2", "reject", "exceeds capacity", 16384, 5000, 0)
	out := buf.String()
	if !strings.Contains(out, "level=WARN") {
		t.Fatalf("expected Reject to log at warn level: %s", out)
	}
	if !strings.Contains(out, "reason=\"exceeds capacity\"") {
		t.Fatalf("expected reason field in log: %s", out)
	}
}

func TestDispatchLogsFailureAsWarn(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.New(slog.NewTextHandler(&buf, nil)))
	log.Dispatch(context.Background(), "req-3", "mistral-7b", false, errors.New("timeout"))
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "backend_id=mistral-7b") {
		t.Fatalf("expected dispatch failure fields in log: %s", out)
	}
}
