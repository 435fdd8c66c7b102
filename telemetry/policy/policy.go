// Package policy centralizes runtime-tunable telemetry knobs so they can be
// swapped atomically (callers hold an immutable snapshot pointer) without
// locks on hot admission paths.
package policy

import "time"

// TelemetryPolicy groups every telemetry knob the orchestrator exposes for
// hot reload. All durations are expected to be positive; zero values fall
// back to the defaults established in Default().
type TelemetryPolicy struct {
	Health  HealthPolicy
	Tracing TracingPolicy
	Events  EventBusPolicy
}

// HealthPolicy tunes the health.Evaluator's TTL and the budget-usage
// thresholds at which the budget probe reports degraded/unhealthy. The
// Admission* fields are carried but no probe reads them.
type HealthPolicy struct {
	ProbeTTL                   time.Duration
	AdmissionMinSamples        int
	AdmissionDegradedRatio     float64 // defer+reject / total
	AdmissionUnhealthyRatio    float64
	BudgetDegradedUsageRatio   float64 // fraction of capacity
	BudgetUnhealthyUsageRatio  float64
}

type TracingPolicy struct {
	SamplePercent           float64
	ErrorBoostPercent       float64
	LatencyBoostThresholdMs int64
	LatencyBoostPercent     float64
}

type EventBusPolicy struct {
	MaxSubscriberBuffer int
}

// Default returns a TelemetryPolicy populated with sane out-of-the-box
// values. Downstream alerting may assume these semantics; adjust carefully.
func Default() TelemetryPolicy {
	return TelemetryPolicy{
		Health: HealthPolicy{
			ProbeTTL:                  2 * time.Second,
			AdmissionMinSamples:       10,
			AdmissionDegradedRatio:    0.50,
			AdmissionUnhealthyRatio:   0.80,
			BudgetDegradedUsageRatio:  0.75,
			BudgetUnhealthyUsageRatio: 0.90,
		},
		Tracing: TracingPolicy{SamplePercent: 20},
		Events:  EventBusPolicy{MaxSubscriberBuffer: 1024},
	}
}

// Normalize returns a bounds-clamped copy without mutating the receiver.
func (p TelemetryPolicy) Normalize() TelemetryPolicy {
	c := p
	if c.Health.ProbeTTL <= 0 {
		c.Health.ProbeTTL = 2 * time.Second
	}
	if c.Health.AdmissionMinSamples <= 0 {
		c.Health.AdmissionMinSamples = 10
	}
	if c.Health.AdmissionDegradedRatio <= 0 {
		c.Health.AdmissionDegradedRatio = 0.50
	}
	if c.Health.AdmissionUnhealthyRatio <= 0 {
		c.Health.AdmissionUnhealthyRatio = 0.80
	}
	if c.Health.BudgetDegradedUsageRatio <= 0 {
		c.Health.BudgetDegradedUsageRatio = 0.75
	}
	if c.Health.BudgetUnhealthyUsageRatio <= 0 {
		c.Health.BudgetUnhealthyUsageRatio = 0.90
	}
	if c.Tracing.SamplePercent < 0 {
		c.Tracing.SamplePercent = 0
	}
	if c.Tracing.SamplePercent > 100 {
		c.Tracing.SamplePercent = 100
	}
	if c.Events.MaxSubscriberBuffer <= 0 {
		c.Events.MaxSubscriberBuffer = 1024
	}
	return c
}
