package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioS1AdmitReleaseReadmit(t *testing.T) {
	s := New(Defaults(16384))

	// 8000/16384 = 0.488, under the 0.75 defer threshold: Accept.
	d := s.Evaluate(8000)
	require.Equal(t, OutcomeAccept, d.Outcome)
	res, err := s.Allocate(8000)
	require.NoError(t, err)

	// (8000+5000)/16384 = 0.793, at or above 0.75 but below the 0.90
	// reject threshold: Defer.
	d = s.Evaluate(5000)
	assert.Equal(t, OutcomeDefer, d.Outcome)
	require.True(t, s.Defer("mistral-7b", 5000))

	res.Release()
	assert.Equal(t, uint64(0), s.Budget().Used())

	entry, ok := s.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "mistral-7b", entry.ID)

	res2, err := s.Allocate(entry.RequiredMB)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), s.Budget().Used())

	res2.Release()
	assert.Equal(t, uint64(0), s.Budget().Used())
}

func TestScenarioS2CapacityExceedingRequest(t *testing.T) {
	s := New(Defaults(4096))
	d := s.Evaluate(5000)
	assert.Equal(t, OutcomeReject, d.Outcome)
	assert.Equal(t, "exceeds capacity", d.Reason)
	assert.Equal(t, uint64(0), s.Budget().Used())
}

func TestEvaluateDoesNotMutateBudget(t *testing.T) {
	s := New(Defaults(16384))
	before := s.Budget().Used()
	s.Evaluate(1000)
	assert.Equal(t, before, s.Budget().Used())
}

func TestThresholdMonotonicity(t *testing.T) {
	s := New(Defaults(16384))
	small := s.Evaluate(1000)
	large := s.Evaluate(15000)

	rank := map[Outcome]int{OutcomeAccept: 2, OutcomeDefer: 1, OutcomeReject: 0}
	assert.GreaterOrEqual(t, rank[small.Outcome], rank[large.Outcome])
}

func TestDeferEscalatesToRejectWhenQueueFull(t *testing.T) {
	cfg := Defaults(16384)
	cfg.Queue.MaxSize = 1
	s := New(cfg)

	require.True(t, s.Defer("a", 100))
	assert.False(t, s.Defer("b", 100), "queue should report full on second Defer")
}

func TestBackgroundFlushReAdmitsOnRelease(t *testing.T) {
	cfg := Defaults(16384)
	cfg.RetryOnRelease = RetryModeBackgroundFlush
	s := New(cfg)
	defer s.Close()

	res, err := s.Allocate(13312)
	require.NoError(t, err)
	require.True(t, s.Defer("mistral-7b", 7168))

	res.Release()

	select {
	case entry := <-s.FlushedEntries():
		assert.Equal(t, "mistral-7b", entry.ID)
	case <-time.After(time.Second):
		t.Fatalf("expected background flush to re-admit the deferred entry")
	}
}
