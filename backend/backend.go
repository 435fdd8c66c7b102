// Package backend defines the narrow plugin interface every inference
// backend implements, and the per-backend circuit breaker that protects
// the orchestrator from a misbehaving one.
package backend

import (
	"context"

	"ioac/models"
)

// Backend is the narrow interface every inference backend implements
// (spec §6.1). Implementations are assumed safe for concurrent use.
type Backend interface {
	Name() string
	HealthCheck(ctx context.Context) models.Health
	Generate(ctx context.Context, req models.Request) (models.Result, error)
	SupportedModels() []string
}

// ErrorKind classifies a backend error for circuit-breaker accounting and
// caller-facing diagnostics (spec §4.6, §7).
type ErrorKind int

const (
	// ErrorTransient covers network errors, timeouts, and resource
	// exhaustion: counted against the circuit breaker, retried against
	// alternate candidates.
	ErrorTransient ErrorKind = iota
	// ErrorPermanent covers authentication failures and unsupported
	// models: marks the backend Unhealthy and surfaces as a terminal
	// error for that candidate before the orchestrator tries the next.
	ErrorPermanent
)

// ClassifiedError wraps a backend error with its ErrorKind so the
// orchestrator's dispatch loop can route it correctly without string
// sniffing.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Transient wraps err as a transient backend error.
func Transient(err error) error { return &ClassifiedError{Kind: ErrorTransient, Err: err} }

// Permanent wraps err as a permanent backend error.
func Permanent(err error) error { return &ClassifiedError{Kind: ErrorPermanent, Err: err} }
