// Package metrics defines the minimal metrics provider abstraction the
// rest of the repository depends on, so a Prometheus, OpenTelemetry, or
// no-op backend can be swapped in without touching call sites.
package metrics

import "context"

// Provider is the contract every backend (Prometheus, OpenTelemetry, noop)
// implements.
type Provider interface {
	NewCounter(opts CounterOpts) Counter
	NewGauge(opts GaugeOpts) Gauge
	NewHistogram(opts HistogramOpts) Histogram
	NewTimer(h HistogramOpts) func() Timer
	Health(ctx context.Context) error
}

type Counter interface{ Inc(delta float64, labels ...string) }
type Gauge interface {
	Set(v float64, labels ...string)
	Add(delta float64, labels ...string)
}
type Histogram interface{ Observe(v float64, labels ...string) }
type Timer interface{ ObserveDuration(labels ...string) }

// CommonOpts names a metric. Namespace/Subsystem follow Prometheus
// convention (namespace_subsystem_name); other backends reuse the same
// fields to build their own naming scheme.
type CommonOpts struct {
	Namespace, Subsystem, Name, Help string
	Labels                           []string
}

type CounterOpts struct{ CommonOpts }
type GaugeOpts struct{ CommonOpts }
type HistogramOpts struct {
	CommonOpts
	Buckets []float64
}

// highCardinalityLabels names label keys that must never back a metric
// dimension in this domain: request ids are effectively unbounded, so a
// counter or histogram keyed by one would accumulate a new series for the
// lifetime of the process. Per-request detail belongs on a structured
// telemetry event or log line (telemetry/events, telemetry/logging), never
// a metric label; admission/dispatch metrics are keyed by backend_id,
// outcome, and reason instead.
var highCardinalityLabels = map[string]bool{
	"request_id": true,
	"trace_id":   true,
	"span_id":    true,
}

// validateLabels reports the first disallowed high-cardinality label key
// present in labels, if any.
func validateLabels(labels []string) (string, bool) {
	for _, l := range labels {
		if highCardinalityLabels[l] {
			return l, true
		}
	}
	return "", false
}

type noopProvider struct{}
type noopCounter struct{}
type noopGauge struct{}
type noopHistogram struct{}
type noopTimer struct{}

// NewNoopProvider returns a Provider that discards everything, used when
// metrics are disabled or during tests.
func NewNoopProvider() Provider { return &noopProvider{} }

func (p *noopProvider) NewCounter(CounterOpts) Counter     { return noopCounter{} }
func (p *noopProvider) NewGauge(GaugeOpts) Gauge           { return noopGauge{} }
func (p *noopProvider) NewHistogram(HistogramOpts) Histogram { return noopHistogram{} }
func (p *noopProvider) NewTimer(HistogramOpts) func() Timer {
	return func() Timer { return noopTimer{} }
}
func (p *noopProvider) Health(context.Context) error { return nil }

func (noopCounter) Inc(float64, ...string)     {}
func (noopGauge) Set(float64, ...string)       {}
func (noopGauge) Add(float64, ...string)       {}
func (noopHistogram) Observe(float64, ...string) {}
func (noopTimer) ObserveDuration(...string)    {}
