// Package logging wraps log/slog with trace/span correlation and a set of
// admission-domain helpers, so every admission decision and dispatch
// attempt logs the same request/backend IDs its telemetry event and span
// carry.
package logging

import (
	"context"
	"log/slog"

	"ioac/telemetry/tracing"
)

// Logger is a minimal interface wrapper allowing correlation injection plus
// a handful of admission-domain convenience calls.
type Logger interface {
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	WarnCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)

	// Decision logs an admission outcome with the fields a reader needs to
	// reconstruct why the scheduler chose it: the request, the outcome
	// ("accept"/"defer"/"reject"), the human-readable reason, and the
	// usage/required/available MB triple the decision was computed
	// against.
	Decision(ctx context.Context, requestID, outcome, reason string, usageMB, requiredMB, availableMB uint64)

	// Dispatch logs a single backend dispatch attempt: which backend, for
	// which request, and whether it succeeded.
	Dispatch(ctx context.Context, requestID, backendID string, ok bool, err error)
}

type correlatedLogger struct{ base *slog.Logger }

// New returns a correlated Logger wrapper.
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &correlatedLogger{base: base}
}

func (l *correlatedLogger) withCorrelation(ctx context.Context, attrs []any) []any {
	traceID, spanID := tracing.ExtractIDs(ctx)
	if traceID != "" || spanID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID), slog.String("span_id", spanID))
	}
	return attrs
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.InfoContext(ctx, msg, l.withCorrelation(ctx, attrs)...)
}

func (l *correlatedLogger) WarnCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.WarnContext(ctx, msg, l.withCorrelation(ctx, attrs)...)
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.ErrorContext(ctx, msg, l.withCorrelation(ctx, attrs)...)
}

func (l *correlatedLogger) Decision(ctx context.Context, requestID, outcome, reason string, usageMB, requiredMB, availableMB uint64) {
	attrs := []any{
		slog.String("request_id", requestID),
		slog.String("outcome", outcome),
		slog.Uint64("usage_mb", usageMB),
		slog.Uint64("required_mb", requiredMB),
		slog.Uint64("available_mb", availableMB),
	}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	if outcome == "reject" {
		l.WarnCtx(ctx, "admission decision", attrs...)
		return
	}
	l.InfoCtx(ctx, "admission decision", attrs...)
}

func (l *correlatedLogger) Dispatch(ctx context.Context, requestID, backendID string, ok bool, err error) {
	attrs := []any{
		slog.String("request_id", requestID),
		slog.String("backend_id", backendID),
	}
	if ok {
		l.InfoCtx(ctx, "backend dispatch succeeded", attrs...)
		return
	}
	attrs = append(attrs, slog.Any("error", err))
	l.WarnCtx(ctx, "backend dispatch failed", attrs...)
}
