package metrics

import (
	"net/http/httptest"
	"testing"
)

func TestNoopProviderBasic(t *testing.T) {
	p := NewNoopProvider()
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "accept_total"}})
	g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{Name: "queue_depth"}})
	h := p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{Name: "dispatch_seconds"}})
	timerCtor := p.NewTimer(HistogramOpts{CommonOpts: CommonOpts{Name: "dispatch_seconds"}})

	c.Inc(5)
	g.Set(10)
	g.Add(-3)
	h.Observe(123)
	timer := timerCtor()
	timer.ObserveDuration()
}

func TestPrometheusProviderRegistersAdmissionCounter(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{
		Namespace: "ioac", Subsystem: "admission", Name: "accept_total", Help: "admission accepts", Labels: []string{"backend_id"},
	}})
	c.Inc(1, "mistral-7b")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	p.MetricsHandler().ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !contains(body, "ioac_admission_accept_total") {
		t.Fatalf("expected accept_total metric in body=%s", body)
	}
}

func TestPrometheusProviderRejectsRequestIDLabel(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{
		Namespace: "ioac", Subsystem: "admission", Name: "bad_total", Labels: []string{"request_id"},
	}})
	if _, ok := c.(*promCounter); ok {
		t.Fatalf("expected a request_id-labeled counter to be refused and fall back to a noop")
	}
	// Must not panic: the noop counter silently discards the increment.
	c.Inc(1, "req-1")
}

func TestOTelProviderRejectsTraceIDLabel(t *testing.T) {
	p := NewOTelProvider(OTelProviderOptions{})
	h := p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{
		Namespace: "ioac", Subsystem: "backend", Name: "bad_seconds", Labels: []string{"trace_id"},
	}})
	if _, ok := h.(*otelHistogram); ok {
		t.Fatalf("expected a trace_id-labeled histogram to be refused and fall back to a noop")
	}
	h.Observe(0.5, "abc123")
}

func TestOTelProviderRecordsDispatchHistogram(t *testing.T) {
	p := NewOTelProvider(OTelProviderOptions{})
	h := p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{
		Namespace: "ioac", Subsystem: "backend", Name: "dispatch_seconds", Labels: []string{"backend_id"},
	}})
	h.Observe(0.12, "mistral-7b")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && ((len(substr) == 0) || (indexOf(s, substr) >= 0))
}

func indexOf(s, substr string) int {
	if len(substr) == 0 {
		return 0
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
