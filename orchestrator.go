// Package ioac is the Inference Orchestration & Admission Core: the
// top-level facade composing the adapter registry, memory scheduler, and
// backend plugins into a single request/response contract (spec §4.6).
package ioac

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"ioac/adapter"
	"ioac/backend"
	"ioac/internal/scheduler"
	"ioac/models"
	"ioac/telemetry/events"
	"ioac/telemetry/health"
	"ioac/telemetry/logging"
	"ioac/telemetry/metrics"
	"ioac/telemetry/tracing"
)

// modelMetadata is the registry-side knowledge of a model's capability
// requirements the gateway's Request does not itself carry (spec §4.6 step
// 1: "modality inferred from model metadata; format/quantisation from the
// registry's knowledge of the model").
type modelMetadata struct {
	Modality     models.Modality
	Format       models.Format
	Quantisation string
}

// Orchestrator is the process-wide facade (spec §9 "Global state": "a
// single process-wide orchestrator instance is the expected deployment").
// It holds the registry and the scheduler; nothing holds the Orchestrator.
type Orchestrator struct {
	cfg      Config
	hardware models.HardwareProfile

	registry *adapter.Registry
	sched    *scheduler.Scheduler

	mu            sync.RWMutex
	localBackends map[string]backend.Backend
	breakers      map[string]*backend.Breaker
	cloudBackends map[string]backend.Backend
	models        map[string]modelMetadata

	logger   logging.Logger
	eventBus events.Bus
	tracer   tracing.Tracer
	metrics  metrics.Provider
	health   *health.Evaluator

	mAccept   metrics.Counter
	mDefer    metrics.Counter
	mReject   metrics.Counter
	mDispatch metrics.Histogram
}

// Option customises an Orchestrator beyond Config at construction time.
type Option func(*Orchestrator)

// WithLogger overrides the default slog-backed logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithEventBus overrides the default bounded in-process event bus, e.g. to
// share one bus across several orchestrators in a test harness.
func WithEventBus(b events.Bus) Option {
	return func(o *Orchestrator) { o.eventBus = b }
}

// New constructs an Orchestrator wired from cfg and hw. hw is normally
// produced once at startup by hardware.Detect (spec §6.1).
func New(cfg Config, hw models.HardwareProfile, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:           cfg,
		hardware:      hw,
		registry:      adapter.NewRegistry(),
		sched:         scheduler.New(cfg.toSchedulerConfig()),
		localBackends: map[string]backend.Backend{},
		breakers:      map[string]*backend.Breaker{},
		cloudBackends: map[string]backend.Backend{},
		models:        map[string]modelMetadata{},
		logger:        logging.New(nil),
	}
	o.metrics = selectMetricsProvider(cfg)
	o.eventBus = events.NewBus(o.metrics)
	o.tracer = tracing.NewAdaptiveTracer(func() float64 { return cfg.Telemetry.Tracing.SamplePercent })
	o.health = health.NewEvaluator(cfg.Telemetry.Health.ProbeTTL, o.budgetProbe(), o.queueProbe(), o.registryProbe())

	for _, opt := range opts {
		opt(o)
	}

	if o.metrics != nil {
		o.mAccept = o.metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "ioac", Subsystem: "admission", Name: "accept_total", Help: "Total Accept decisions"}})
		o.mDefer = o.metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "ioac", Subsystem: "admission", Name: "defer_total", Help: "Total Defer decisions"}})
		o.mReject = o.metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "ioac", Subsystem: "admission", Name: "reject_total", Help: "Total Reject decisions"}})
		o.mDispatch = o.metrics.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{Namespace: "ioac", Subsystem: "backend", Name: "dispatch_seconds", Help: "Backend dispatch latency", Labels: []string{"backend_id"}}, Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30}})
	}

	return o
}

// selectMetricsProvider mirrors engine.selectMetricsProvider: it is the
// sole place backend selection happens, kept unexported for the same
// reason the teacher keeps it unexported (Config{MetricsEnabled,
// MetricsBackend} is the only exposed surface).
func selectMetricsProvider(cfg Config) metrics.Provider {
	if !cfg.MetricsEnabled {
		return metrics.NewNoopProvider()
	}
	switch strings.ToLower(cfg.MetricsBackend) {
	case "", "prom", "prometheus":
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	case "otel", "opentelemetry":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{})
	case "noop":
		return metrics.NewNoopProvider()
	default:
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	}
}

// Close stops the scheduler's background flush goroutine, if one is
// running. Safe to call on an Orchestrator whose scheduler uses
// RetryModeOpportunistic (no-op).
func (o *Orchestrator) Close() { o.sched.Close() }

// RegisterModel records the capability requirement a model id implies, so
// Submit can build a models.ModelConfig from a bare Request. Mirrors
// adapter.CapabilityDescriptor's builder ergonomics.
func (o *Orchestrator) RegisterModel(modelID string, modality models.Modality, format models.Format, quantisation string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.models[modelID] = modelMetadata{Modality: modality, Format: format, Quantisation: quantisation}
}

// RegisterLocalBackend registers a capability descriptor with the adapter
// registry and the backend implementation it describes, giving the
// backend its own circuit breaker (spec §4.6, §6.1).
func (o *Orchestrator) RegisterLocalBackend(d adapter.CapabilityDescriptor, b backend.Backend) error {
	if err := o.registry.Register(d); err != nil {
		return err
	}
	o.mu.Lock()
	o.localBackends[d.ID] = b
	o.breakers[d.ID] = backend.NewBreaker(backend.BreakerConfig{
		FailureThreshold: o.cfg.BreakerFailureThreshold,
		OpenDuration:     o.cfg.BreakerOpenDuration,
		HalfOpenProbes:   o.cfg.BreakerHalfOpenProbes,
		ProbeInterval:    o.cfg.BreakerProbeInterval,
	})
	o.mu.Unlock()
	o.health.RegisterBackend(health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		return o.backendProbe(d.ID)
	}))
	_ = o.eventBus.Publish(events.Event{Category: events.CategoryRegistry, Type: "register", Labels: map[string]string{"backend_id": d.ID}})
	return nil
}

// DeregisterBackend removes a backend and its descriptor together.
func (o *Orchestrator) DeregisterBackend(id string) error {
	if err := o.registry.Deregister(id); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.localBackends, id)
	delete(o.breakers, id)
	o.mu.Unlock()
	return nil
}

// RegisterCloudBackend registers a named cloud provider backend. Cloud
// backends bypass the scheduler entirely (spec §4.6 step 3b: "memory is
// not the local constraint").
func (o *Orchestrator) RegisterCloudBackend(provider string, b backend.Backend) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cloudBackends[provider] = b
}

// UpdateHealth mutates a single registered backend's declared health.
func (o *Orchestrator) UpdateHealth(id string, h models.Health) error {
	if err := o.registry.UpdateHealth(id, h); err != nil {
		return err
	}
	_ = o.eventBus.Publish(events.Event{Category: events.CategoryRegistry, Type: "health_change", Labels: map[string]string{"backend_id": id, "health": h.String()}})
	return nil
}

// HealthSnapshot evaluates and returns the rolled-up health of the
// scheduler's budget, the deferred queue, and the adapter registry.
func (o *Orchestrator) HealthSnapshot(ctx context.Context) health.Snapshot {
	return o.health.Evaluate(ctx)
}

// metricsHandlerProvider is satisfied by *metrics.PrometheusProvider; kept
// as a local interface so MetricsHandler can detect, by type assertion, a
// provider that has a scrape surface.
type metricsHandlerProvider interface {
	MetricsHandler() http.Handler
}

// MetricsHandler exposes the underlying metrics provider's scrape surface
// if it supports one (the Prometheus provider does); nil otherwise. Binding
// it to a listener is the gateway's responsibility (spec §1, out of scope
// here).
func (o *Orchestrator) MetricsHandler() http.Handler {
	if mp, ok := o.metrics.(metricsHandlerProvider); ok {
		return mp.MetricsHandler()
	}
	return nil
}

// Submit is the Inference Orchestrator's sole entry point (spec §4.6): it
// resolves candidates, consults the scheduler, dispatches to a backend,
// and returns a Result tagged with where the request was served from.
func (o *Orchestrator) Submit(ctx context.Context, req models.Request) (models.Result, error) {
	req = req.WithID()
	if err := req.Validate(); err != nil {
		return models.Result{RequestID: req.ID, RoutedTo: models.Rejected(err.Error())}, err
	}

	if req.Deadline.IsZero() && o.cfg.PerRequestDeadline > 0 {
		req.Deadline = time.Now().Add(o.cfg.PerRequestDeadline)
	}
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	ctx, span := o.tracer.StartSpan(ctx, "orchestrator.submit")
	span.SetAttribute("request_id", req.ID)
	span.SetAttribute("model_id", req.ModelID)
	defer span.End()

	meta, ok := o.lookupModel(req.ModelID)
	if !ok {
		err := &models.InvalidRequestError{Field: "model_id", Reason: "no registered model metadata for " + req.ModelID}
		return models.Result{RequestID: req.ID, RoutedTo: models.Rejected(err.Error())}, err
	}
	modelCfg := models.ModelConfig{
		ModelID:              req.ModelID,
		Modality:             meta.Modality,
		Format:               meta.Format,
		RequiredQuantisation: meta.Quantisation,
		RequiredMemoryMB:     req.RequiredMemoryMB,
	}

	switch o.cfg.RoutingPolicy {
	case CloudFirst:
		if res, err := o.tryCloud(ctx, req); err == nil {
			return res, nil
		}
		return o.tryLocalThenReject(ctx, req, modelCfg)
	case LocalFirstWithCloudFallback:
		res, err := o.tryLocal(ctx, req, modelCfg)
		if err == nil {
			return res, nil
		}
		if cres, cerr := o.tryCloud(ctx, req); cerr == nil {
			return cres, nil
		}
		return res, err
	default: // LocalOnly
		return o.tryLocal(ctx, req, modelCfg)
	}
}

func (o *Orchestrator) tryLocalThenReject(ctx context.Context, req models.Request, modelCfg models.ModelConfig) (models.Result, error) {
	if res, err := o.tryLocal(ctx, req, modelCfg); err == nil {
		return res, nil
	}
	return models.Result{RequestID: req.ID, RoutedTo: models.Rejected("all backends exhausted")}, models.ErrAllBackendsExhausted
}

// tryLocal resolves the candidate set, evaluates admission once against
// the scheduler (memory admission is backend-agnostic — it gates the
// request, not any one candidate), and dispatches across candidates in
// resolution order until one succeeds or all are exhausted.
func (o *Orchestrator) tryLocal(ctx context.Context, req models.Request, modelCfg models.ModelConfig) (models.Result, error) {
	matches, err := o.registry.Resolve(modelCfg, o.hardware)
	if err != nil {
		var resErr *adapter.ResolutionError
		if errors.As(err, &resErr) {
			_ = o.eventBus.PublishCtx(ctx, events.Event{Category: events.CategoryError, Type: "no_compatible_adapter", Severity: "warn", Labels: map[string]string{"model_id": req.ModelID}})
			return models.Result{RequestID: req.ID, RoutedTo: models.Rejected(err.Error())}, fmt.Errorf("%w: %s", models.ErrNoCompatibleAdapter, err)
		}
		return models.Result{RequestID: req.ID, RoutedTo: models.Rejected(err.Error())}, err
	}

	decision := o.sched.Evaluate(req.RequiredMemoryMB)
	o.recordDecision(ctx, req.ID, decision)

	switch decision.Outcome {
	case scheduler.OutcomeReject:
		return models.Result{RequestID: req.ID, RoutedTo: models.Rejected(decision.Reason)}, models.ErrCapacityExceeded
	case scheduler.OutcomeDefer:
		return o.handleDefer(ctx, req, matches, decision)
	}

	reservation, err := o.sched.Allocate(req.RequiredMemoryMB)
	if err != nil {
		// Lost a race against a concurrent allocator between Evaluate and
		// Allocate (spec §3.2: "the actual allocation step must
		// re-validate and may fail-closed").
		return models.Result{RequestID: req.ID, RoutedTo: models.Rejected("lost allocation race")}, models.ErrCapacityExceeded
	}
	defer reservation.Release()

	return o.dispatchCandidates(ctx, req, matches, req.PreferredPrecision)
}

// handleDefer attempts a single precision downgrade re-evaluation (spec
// §4.5 precision downgrade path) before falling back to enqueueing and
// waiting bounded on the deferred queue.
func (o *Orchestrator) handleDefer(ctx context.Context, req models.Request, matches []adapter.Match, decision scheduler.Decision) (models.Result, error) {
	stab := o.sched.StabilityControl()
	if stab.CanSwitch() && stab.IsSignificantChange(decision.Snapshot.CurrentUsageMB) {
		if lower, ok := req.PreferredPrecision.Downgrade(); ok {
			// A lower precision's weights occupy proportionally less
			// memory; absent a backend-declared per-precision footprint,
			// halving the estimate per downgrade step is the same coarse
			// assumption the quantisation labels themselves encode (each
			// step roughly halves bits-per-weight).
			reduced := req.RequiredMemoryMB / 2
			if reduced > 0 {
				if redecision := o.sched.Evaluate(reduced); redecision.Outcome == scheduler.OutcomeAccept {
					reservation, err := o.sched.Allocate(reduced)
					if err == nil {
						defer reservation.Release()
						stab.RecordSwitch()
						stab.UpdateReading(redecision.Snapshot.CurrentUsageMB + reduced)
						res, derr := o.dispatchCandidates(ctx, req, matches, lower)
						return res, derr
					}
				}
			}
		}
	}
	stab.UpdateReading(decision.Snapshot.CurrentUsageMB)

	if !o.sched.Defer(req.ID, req.RequiredMemoryMB) {
		_ = o.eventBus.PublishCtx(ctx, events.Event{Category: events.CategoryError, Type: "queue_full", Severity: "warn"})
		return models.Result{RequestID: req.ID, RoutedTo: models.Rejected("queue full")}, models.ErrQueueFull
	}
	_ = o.eventBus.PublishCtx(ctx, events.Event{Category: events.CategoryQueue, Type: "enqueue", Labels: map[string]string{"request_id": req.ID}})

	fitted, expired := o.waitDeferred(ctx, req.ID, req.RequiredMemoryMB)
	if expired {
		_ = o.eventBus.PublishCtx(ctx, events.Event{Category: events.CategoryQueue, Type: "expire", Labels: map[string]string{"request_id": req.ID}})
		return models.Result{RequestID: req.ID, RoutedTo: models.Rejected("deferred entry expired")}, models.ErrDeferredExpired
	}
	if !fitted {
		return models.Result{RequestID: req.ID, RoutedTo: models.Rejected("deadline exceeded while deferred")}, models.ErrDeadline
	}

	_ = o.eventBus.PublishCtx(ctx, events.Event{Category: events.CategoryQueue, Type: "dequeue", Labels: map[string]string{"request_id": req.ID}})
	reservation, err := o.sched.Allocate(req.RequiredMemoryMB)
	if err != nil {
		return models.Result{RequestID: req.ID, RoutedTo: models.Rejected("lost allocation race after dequeue")}, models.ErrCapacityExceeded
	}
	defer reservation.Release()

	fresh, rerr := o.registry.Resolve(models.ModelConfig{
		ModelID: req.ModelID, Modality: matchesModality(matches), Format: matchesFormat(matches), RequiredMemoryMB: req.RequiredMemoryMB,
	}, o.hardware)
	if rerr != nil {
		return models.Result{RequestID: req.ID, RoutedTo: models.Rejected(rerr.Error())}, fmt.Errorf("%w: %s", models.ErrNoCompatibleAdapter, rerr)
	}
	return o.dispatchCandidates(ctx, req, fresh, req.PreferredPrecision)
}

func matchesModality(matches []adapter.Match) models.Modality {
	if len(matches) == 0 {
		return models.ModalityTextGeneration
	}
	for m := range matches[0].Descriptor.Modalities {
		return m
	}
	return models.ModalityTextGeneration
}

func matchesFormat(matches []adapter.Match) models.Format {
	if len(matches) == 0 {
		return models.FormatGGUF
	}
	for f := range matches[0].Descriptor.SupportedFormats {
		return f
	}
	return models.FormatGGUF
}

// waitDeferred polls the scheduler's deferred queue until the named entry
// is dequeued, expires, or ctx's deadline elapses. A dequeued entry that
// is not the caller's own is requeued intact so its own waiter finds it
// (spec §5: "no global ordering is promised... across requests").
func (o *Orchestrator) waitDeferred(ctx context.Context, id string, mb uint64) (fitted, expired bool) {
	interval := o.cfg.DeferPollInterval
	if interval <= 0 {
		interval = 25 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, false
		case <-ticker.C:
			if e, ok := o.sched.TryDequeue(); ok {
				if e.ID == id {
					return true, false
				}
				o.sched.Requeue(e)
				continue
			}
			o.sched.IncrementRetry(id)
			for _, e := range o.sched.DrainExpired() {
				if e.ID == id {
					return false, true
				}
				// A sibling's entry expired on our watch; it has no
				// waiter of its own here (each Submit owns only its own
				// id), so there is nothing further to do with it.
			}
		}
	}
}

// dispatchCandidates tries each resolved candidate in order, skipping one
// whose breaker has tripped, until a backend completes the call or every
// candidate has failed. Memory has already been reserved by the caller for
// the duration of this call.
func (o *Orchestrator) dispatchCandidates(ctx context.Context, req models.Request, matches []adapter.Match, precision models.Precision) (models.Result, error) {
	var lastErr error
	for _, m := range matches {
		o.mu.RLock()
		b := o.localBackends[m.Descriptor.ID]
		br := o.breakers[m.Descriptor.ID]
		o.mu.RUnlock()
		if b == nil || br == nil {
			continue
		}
		if !br.Allow() {
			lastErr = fmt.Errorf("%w: %s circuit open", models.ErrBackendUnhealthy, m.Descriptor.ID)
			continue
		}

		start := time.Now()
		result, err := b.Generate(ctx, req)
		if o.mDispatch != nil {
			o.mDispatch.Observe(time.Since(start).Seconds(), m.Descriptor.ID)
		}
		if err == nil {
			br.RecordSuccess()
			result.RequestID = req.ID
			result.RoutedTo = models.Local(m.Descriptor.ID)
			result.ActualPrecision = precision
			o.logger.Dispatch(ctx, req.ID, m.Descriptor.ID, true, nil)
			_ = o.eventBus.PublishCtx(ctx, events.Event{Category: events.CategoryBackend, Type: "dispatch_ok", Labels: map[string]string{"backend_id": m.Descriptor.ID}})
			return result, nil
		}

		o.logger.Dispatch(ctx, req.ID, m.Descriptor.ID, false, err)
		var classified *backend.ClassifiedError
		if errors.As(err, &classified) && classified.Kind == backend.ErrorPermanent {
			_ = o.UpdateHealth(m.Descriptor.ID, models.HealthUnhealthy)
			lastErr = err
			continue
		}
		br.RecordFailure()
		lastErr = err
		_ = o.eventBus.PublishCtx(ctx, events.Event{Category: events.CategoryBackend, Type: "dispatch_error", Severity: "warn", Labels: map[string]string{"backend_id": m.Descriptor.ID}})
	}
	if lastErr == nil {
		lastErr = models.ErrAllBackendsExhausted
	}
	return models.Result{RequestID: req.ID, RoutedTo: models.Rejected(lastErr.Error())}, fmt.Errorf("%w: %s", models.ErrAllBackendsExhausted, lastErr)
}

// tryCloud dispatches to the first registered cloud backend. Cloud
// dispatch bypasses the scheduler: memory is not the local constraint
// (spec §4.6 step 3b).
func (o *Orchestrator) tryCloud(ctx context.Context, req models.Request) (models.Result, error) {
	o.mu.RLock()
	var provider string
	var b backend.Backend
	for p, be := range o.cloudBackends {
		provider, b = p, be
		break
	}
	o.mu.RUnlock()
	if b == nil {
		return models.Result{}, errors.New("no cloud backend registered")
	}
	result, err := b.Generate(ctx, req)
	if err != nil {
		return models.Result{}, err
	}
	result.RequestID = req.ID
	result.RoutedTo = models.Cloud(provider)
	_ = o.eventBus.PublishCtx(ctx, events.Event{Category: events.CategoryBackend, Type: "dispatch_ok", Labels: map[string]string{"provider": provider}})
	return result, nil
}

func (o *Orchestrator) lookupModel(id string) (modelMetadata, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	m, ok := o.models[id]
	return m, ok
}

func (o *Orchestrator) recordDecision(ctx context.Context, reqID string, d scheduler.Decision) {
	var typ, outcome string
	switch d.Outcome {
	case scheduler.OutcomeAccept:
		typ, outcome = "evaluate.accept", "accept"
		if o.mAccept != nil {
			o.mAccept.Inc(1)
		}
	case scheduler.OutcomeDefer:
		typ, outcome = "evaluate.defer", "defer"
		if o.mDefer != nil {
			o.mDefer.Inc(1)
		}
	default:
		typ, outcome = "evaluate.reject", "reject"
		if o.mReject != nil {
			o.mReject.Inc(1)
		}
	}
	o.logger.Decision(ctx, reqID, outcome, d.Reason, d.Snapshot.CurrentUsageMB, d.Snapshot.RequiredMB, d.Snapshot.AvailableMB)
	_ = o.eventBus.PublishCtx(ctx, events.Event{
		Category: events.CategoryAdmission,
		Type:     typ,
		Fields: map[string]interface{}{
			"current_usage_mb": d.Snapshot.CurrentUsageMB,
			"required_mb":      d.Snapshot.RequiredMB,
			"available_mb":     d.Snapshot.AvailableMB,
		},
	})
}

func (o *Orchestrator) budgetProbe() health.Probe {
	return health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		ratio := o.sched.Budget().UsageRatio()
		pol := o.cfg.Telemetry.Health
		switch {
		case ratio >= pol.BudgetUnhealthyUsageRatio:
			return health.Unhealthy("budget", fmt.Sprintf("usage ratio %.2f", ratio))
		case ratio >= pol.BudgetDegradedUsageRatio:
			return health.Degraded("budget", fmt.Sprintf("usage ratio %.2f", ratio))
		default:
			return health.Healthy("budget")
		}
	})
}

func (o *Orchestrator) queueProbe() health.Probe {
	return health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		n := o.sched.QueueLen()
		if n >= o.cfg.Queue.MaxSize {
			return health.Degraded("deferred_queue", "at capacity")
		}
		return health.Healthy("deferred_queue")
	})
}

func (o *Orchestrator) registryProbe() health.Probe {
	return health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		return health.Healthy("adapter_registry")
	})
}

func (o *Orchestrator) backendProbe(id string) health.ProbeResult {
	o.mu.RLock()
	br := o.breakers[id]
	o.mu.RUnlock()
	if br == nil {
		return health.Unknown(id, "not registered")
	}
	if br.State() == "open" {
		return health.Degraded(id, "circuit open")
	}
	return health.Healthy(id)
}
