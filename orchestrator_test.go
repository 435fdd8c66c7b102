package ioac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ioac/adapter"
	"ioac/backend"
	"ioac/models"
	"ioac/telemetry/health"
)

// fakeBackend is a minimal backend.Backend whose Generate behaviour is
// scripted per test via a function field, mirroring the teacher's
// httpmock test doubles in shape rather than a mocking framework.
type fakeBackend struct {
	name string
	gen  func(ctx context.Context, req models.Request) (models.Result, error)
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) HealthCheck(ctx context.Context) models.Health {
	return models.HealthHealthy
}
func (f *fakeBackend) Generate(ctx context.Context, req models.Request) (models.Result, error) {
	return f.gen(ctx, req)
}
func (f *fakeBackend) SupportedModels() []string { return []string{f.name} }

func testHardware() models.HardwareProfile {
	return models.HardwareProfile{
		OS:                   "linux",
		CPUFamily:            "x86_64",
		AvailableMemoryBytes: 32 << 30,
		TotalMemoryBytes:     64 << 30,
	}
}

func llamaDescriptor(id string, priority int) adapter.CapabilityDescriptor {
	return adapter.NewDescriptor(id, id).
		WithModality(models.ModalityTextGeneration).
		WithFormat(models.FormatGGUF).
		WithPriority(priority).
		WithMinMemoryMB(1024)
}

func newTestOrchestrator(t *testing.T, capacityMB uint64) *Orchestrator {
	t.Helper()
	cfg := Defaults(capacityMB)
	cfg.MetricsEnabled = false
	cfg.DeferPollInterval = 5 * time.Millisecond
	o := New(cfg, testHardware())
	t.Cleanup(o.Close)
	return o
}

func TestSubmitAcceptsAndRoutesLocal(t *testing.T) {
	o := newTestOrchestrator(t, 16384)
	o.RegisterModel("mistral-7b", models.ModalityTextGeneration, models.FormatGGUF, "")
	require.NoError(t, o.RegisterLocalBackend(llamaDescriptor("mistral-7b-local", 10), &fakeBackend{
		name: "mistral-7b-local",
		gen: func(ctx context.Context, req models.Request) (models.Result, error) {
			return models.Result{Output: []byte("ok")}, nil
		},
	}))

	res, err := o.Submit(context.Background(), models.Request{
		ModelID:          "mistral-7b",
		RequiredMemoryMB: 4096,
	})
	require.NoError(t, err)
	assert.Equal(t, models.BackendLocal, res.RoutedTo.Kind)
	assert.Equal(t, "mistral-7b-local", res.RoutedTo.ModelID)
	assert.Equal(t, []byte("ok"), res.Output)
	assert.Equal(t, uint64(0), o.sched.Budget().Used(), "reservation must be released after dispatch")
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	o := newTestOrchestrator(t, 16384)
	_, err := o.Submit(context.Background(), models.Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestSubmitRejectsUnknownModel(t *testing.T) {
	o := newTestOrchestrator(t, 16384)
	_, err := o.Submit(context.Background(), models.Request{ModelID: "ghost", RequiredMemoryMB: 100})
	require.Error(t, err)
}

func TestSubmitRejectsOverCapacity(t *testing.T) {
	o := newTestOrchestrator(t, 4096)
	o.RegisterModel("big", models.ModalityTextGeneration, models.FormatGGUF, "")
	require.NoError(t, o.RegisterLocalBackend(llamaDescriptor("big-local", 10), &fakeBackend{name: "big-local"}))

	_, err := o.Submit(context.Background(), models.Request{ModelID: "big", RequiredMemoryMB: 5000})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCapacityExceeded)
}

func TestSubmitNoCompatibleAdapter(t *testing.T) {
	o := newTestOrchestrator(t, 16384)
	o.RegisterModel("embedder", models.ModalityEmbedding, models.FormatONNX, "")
	require.NoError(t, o.RegisterLocalBackend(llamaDescriptor("text-only", 10), &fakeBackend{name: "text-only"}))

	_, err := o.Submit(context.Background(), models.Request{ModelID: "embedder", RequiredMemoryMB: 100})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNoCompatibleAdapter)
}

// TestScenarioS5RoutingFallback mirrors spec.md Scenario S5: a local
// candidate's dispatch fails transiently, so the orchestrator releases its
// reservation, and — with no other local candidate registered — falls
// through to the configured cloud provider.
func TestScenarioS5RoutingFallback(t *testing.T) {
	o := newTestOrchestrator(t, 16384)
	o.cfg.RoutingPolicy = LocalFirstWithCloudFallback
	o.RegisterModel("mistral-7b", models.ModalityTextGeneration, models.FormatGGUF, "")
	require.NoError(t, o.RegisterLocalBackend(llamaDescriptor("mistral-7b-local", 10), &fakeBackend{
		name: "mistral-7b-local",
		gen: func(ctx context.Context, req models.Request) (models.Result, error) {
			return models.Result{}, backend.Transient(errors.New("connection reset"))
		},
	}))
	o.RegisterCloudBackend("openai", &fakeBackend{
		name: "openai",
		gen: func(ctx context.Context, req models.Request) (models.Result, error) {
			return models.Result{Output: []byte("cloud-ok")}, nil
		},
	})

	res, err := o.Submit(context.Background(), models.Request{ModelID: "mistral-7b", RequiredMemoryMB: 4096})
	require.NoError(t, err)
	assert.Equal(t, models.BackendCloud, res.RoutedTo.Kind)
	assert.Equal(t, "openai", res.RoutedTo.Provider)
	assert.Equal(t, uint64(0), o.sched.Budget().Used(), "failed local reservation must still be released")
}

func TestSubmitPermanentErrorMarksBackendUnhealthyAndTriesNext(t *testing.T) {
	o := newTestOrchestrator(t, 16384)
	o.RegisterModel("mistral-7b", models.ModalityTextGeneration, models.FormatGGUF, "")
	require.NoError(t, o.RegisterLocalBackend(llamaDescriptor("broken", 100), &fakeBackend{
		name: "broken",
		gen: func(ctx context.Context, req models.Request) (models.Result, error) {
			return models.Result{}, backend.Permanent(errors.New("unsupported model"))
		},
	}))
	require.NoError(t, o.RegisterLocalBackend(llamaDescriptor("healthy", 50), &fakeBackend{
		name: "healthy",
		gen: func(ctx context.Context, req models.Request) (models.Result, error) {
			return models.Result{Output: []byte("ok")}, nil
		},
	}))

	res, err := o.Submit(context.Background(), models.Request{ModelID: "mistral-7b", RequiredMemoryMB: 4096})
	require.NoError(t, err)
	assert.Equal(t, "healthy", res.RoutedTo.ModelID)

	d, ok := o.registry.Lookup("broken")
	require.True(t, ok)
	assert.Equal(t, models.HealthUnhealthy, d.Health)
}

// TestScenarioS6DeferredExpiry mirrors spec.md Scenario S6: a deferred
// entry that exhausts its retry budget before it is dequeued is drained
// and surfaced to the caller as ErrDeferredExpired. MaxRetries is pinned
// at zero so the very first poll pass both skips the entry (its retry
// budget is already exhausted) and drains it, keeping the test immune to
// scheduling jitter.
func TestScenarioS6DeferredExpiry(t *testing.T) {
	cfg := Defaults(16384)
	cfg.Queue.MaxRetries = 0
	cfg.DeferPollInterval = 2 * time.Millisecond
	cfg.PerRequestDeadline = time.Second
	o := New(cfg, testHardware())
	t.Cleanup(o.Close)

	o.RegisterModel("huge", models.ModalityTextGeneration, models.FormatGGUF, "")
	require.NoError(t, o.RegisterLocalBackend(llamaDescriptor("huge-local", 10), &fakeBackend{name: "huge-local"}))

	// Pin usage so the next evaluation lands strictly between the defer
	// and reject thresholds (75%/90% of 16384MB), forcing a Defer outcome
	// rather than an immediate Accept or Reject.
	pin, err := o.sched.Allocate(9000)
	require.NoError(t, err)
	defer pin.Release()

	_, err = o.Submit(context.Background(), models.Request{
		ModelID:            "huge",
		RequiredMemoryMB:   4096,
		PreferredPrecision: models.PrecisionQ4, // disable the downgrade-retry path
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDeferredExpired)
}

func TestDuplicateBackendRegistration(t *testing.T) {
	o := newTestOrchestrator(t, 16384)
	require.NoError(t, o.RegisterLocalBackend(llamaDescriptor("dup", 10), &fakeBackend{name: "dup"}))
	err := o.RegisterLocalBackend(llamaDescriptor("dup", 10), &fakeBackend{name: "dup"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDuplicateBackend)
}

func TestHealthSnapshotReflectsBudgetPressure(t *testing.T) {
	o := newTestOrchestrator(t, 1000)
	// 950/1000 = 0.95, above the default 0.90 unhealthy usage ratio.
	pin, err := o.sched.Allocate(950)
	require.NoError(t, err)
	defer pin.Release()

	snap := o.HealthSnapshot(context.Background())
	assert.NotEmpty(t, snap.CoreProbes)
	assert.Equal(t, health.StatusUnhealthy, snap.Overall)
}
