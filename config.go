package ioac

import (
	"time"

	"ioac/internal/queue"
	"ioac/internal/scheduler"
	"ioac/internal/stability"
	"ioac/telemetry/policy"
)

// RoutingPolicy selects how the orchestrator falls between local and cloud
// candidates (spec §4.6).
type RoutingPolicy int

const (
	// LocalOnly uses only local adapters; exhaustion is a terminal reject.
	LocalOnly RoutingPolicy = iota
	// LocalFirstWithCloudFallback tries local candidates in score order,
	// falling through to a configured cloud provider on terminal rejection.
	LocalFirstWithCloudFallback
	// CloudFirst prefers the cloud provider, falling back to local
	// candidates on cloud failure.
	CloudFirst
)

func (p RoutingPolicy) String() string {
	switch p {
	case LocalOnly:
		return "local-only"
	case LocalFirstWithCloudFallback:
		return "local-first-with-cloud-fallback"
	case CloudFirst:
		return "cloud-first"
	default:
		return "unknown"
	}
}

// Config is the public configuration surface for the Orchestrator facade.
// It narrows and normalizes the underlying component configs (scheduler,
// queue, stability, breaker) while still letting advanced callers reach
// the subpackages directly when they need to.
type Config struct {
	// CapacityMB is the total memory budget (immutable after creation).
	CapacityMB uint64
	// DeferThreshold/RejectThreshold are fractions of CapacityMB.
	DeferThreshold  float64
	RejectThreshold float64

	Queue     queue.Config
	Stability stability.Config

	// RetryOnRelease selects whether deferred entries are drained
	// opportunistically (by a waiting caller's TryDequeue poll) or by a
	// background goroutine signalled on every Release.
	RetryOnRelease scheduler.RetryMode

	// RoutingPolicy governs local/cloud candidate ordering.
	RoutingPolicy RoutingPolicy

	// PerRequestDeadline is applied to a Request that didn't set its own
	// Deadline.
	PerRequestDeadline time.Duration

	// DeferPollInterval paces how often a Submit call blocked on a
	// deferred entry re-polls the scheduler's queue.
	DeferPollInterval time.Duration

	// Breaker tunes the per-backend circuit breaker all registered
	// backends share the shape of (each backend gets its own instance).
	BreakerFailureThreshold int
	BreakerOpenDuration     time.Duration
	BreakerHalfOpenProbes   int
	BreakerProbeInterval    time.Duration

	// MetricsEnabled toggles metrics collection; when false the noop
	// provider is used regardless of MetricsBackend.
	MetricsEnabled bool
	// MetricsBackend selects "prom" (default), "otel", or "noop".
	MetricsBackend string

	// Telemetry is the telemetry policy snapshot; the Orchestrator has no
	// method that replaces it after New.
	Telemetry policy.TelemetryPolicy
}

// Defaults returns a Config populated with the spec-mandated defaults
// (§6.2): defer at 75% of capacity, reject at 90%, queue of 256 entries
// with 5 retries, 5s stability cooldown, 512MB hysteresis.
func Defaults(capacityMB uint64) Config {
	return Config{
		CapacityMB:              capacityMB,
		DeferThreshold:          0.75,
		RejectThreshold:         0.90,
		Queue:                   queue.Defaults(),
		Stability:               stability.Defaults(),
		RetryOnRelease:          scheduler.RetryModeOpportunistic,
		RoutingPolicy:           LocalOnly,
		PerRequestDeadline:      30 * time.Second,
		DeferPollInterval:       25 * time.Millisecond,
		BreakerFailureThreshold: 5,
		BreakerOpenDuration:     30 * time.Second,
		BreakerHalfOpenProbes:   3,
		BreakerProbeInterval:    time.Second,
		MetricsEnabled:          false,
		MetricsBackend:          "prom",
		Telemetry:               policy.Default(),
	}
}

func (c Config) toSchedulerConfig() scheduler.Config {
	return scheduler.Config{
		CapacityMB:      c.CapacityMB,
		DeferThreshold:  c.DeferThreshold,
		RejectThreshold: c.RejectThreshold,
		Queue:           c.Queue,
		Stability:       c.Stability,
		RetryOnRelease:  c.RetryOnRelease,
	}
}
