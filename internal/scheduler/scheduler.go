// Package scheduler implements the Memory Scheduler: it combines the
// Memory Budget, Stability Control, and Deferred Queue into a single
// admission decision pipeline.
package scheduler

import (
	"time"

	"ioac/internal/budget"
	"ioac/internal/queue"
	"ioac/internal/stability"
	"ioac/models"
)

// RetryMode selects how deferred entries regain a chance to be admitted
// after a release (spec.md §9 open question, resolved in SPEC_FULL.md:
// either satisfies the fairness invariant).
type RetryMode int

const (
	// RetryModeOpportunistic runs no background goroutine; deferred entries
	// leave the queue only when a caller invokes TryDequeue (the
	// orchestrator's waiting Submit polls it).
	RetryModeOpportunistic RetryMode = iota
	// RetryModeBackgroundFlush starts a goroutine that wakes on every
	// Release and immediately drains fitting entries.
	RetryModeBackgroundFlush
)

// Config tunes the scheduler's admission thresholds and component
// configuration.
type Config struct {
	CapacityMB       uint64
	DeferThreshold   float64
	RejectThreshold  float64
	Queue            queue.Config
	Stability        stability.Config
	RetryOnRelease   RetryMode
}

// Defaults returns the spec-mandated defaults: defer at 75% of capacity,
// reject at 90%.
func Defaults(capacityMB uint64) Config {
	return Config{
		CapacityMB:      capacityMB,
		DeferThreshold:  0.75,
		RejectThreshold: 0.90,
		Queue:           queue.Defaults(),
		Stability:       stability.Defaults(),
		RetryOnRelease:  RetryModeOpportunistic,
	}
}

// Outcome is the result of evaluating a prospective allocation.
type Outcome int

const (
	OutcomeAccept Outcome = iota
	OutcomeDefer
	OutcomeReject
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccept:
		return "accept"
	case OutcomeDefer:
		return "defer"
	default:
		return "reject"
	}
}

// Decision is the outcome of Evaluate together with the budget snapshot it
// was computed against (spec §3.1 Admission Decision).
type Decision struct {
	Outcome  Outcome
	Reason   string
	Snapshot models.DecisionSnapshot
}

// Scheduler drives the evaluate -> allocate -> dispatch -> release state
// machine described in spec §4.5.
type Scheduler struct {
	cfg       Config
	budget    *budget.Budget
	stability *stability.Control
	queue     *queue.Queue

	releaseSignal chan struct{}
	stopFlush     chan struct{}
	flushedCh     chan queue.Entry
}

// New creates a Scheduler wired from cfg.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		budget:    budget.New(cfg.CapacityMB),
		stability: stability.New(cfg.Stability),
		queue:     queue.New(cfg.Queue),
	}
	if cfg.RetryOnRelease == RetryModeBackgroundFlush {
		s.releaseSignal = make(chan struct{}, 1)
		s.stopFlush = make(chan struct{})
		s.flushedCh = make(chan queue.Entry, cfg.Queue.MaxSize)
		go s.backgroundFlushLoop()
	}
	return s
}

// Close stops the background flush goroutine, if one is running. Safe to
// call on a scheduler constructed with RetryModeOpportunistic (no-op).
func (s *Scheduler) Close() {
	if s.stopFlush != nil {
		close(s.stopFlush)
	}
}

// Evaluate computes an admission decision for a prospective allocation of
// requiredMB without mutating the budget (spec §4.5 step-by-step).
func (s *Scheduler) Evaluate(requiredMB uint64) Decision {
	snap := s.budget.Snapshot()
	next := snap.UsedMB + requiredMB
	var nextRatio float64
	if snap.CapacityMB > 0 {
		nextRatio = float64(next) / float64(snap.CapacityMB)
	}

	decisionSnapshot := models.DecisionSnapshot{
		CurrentUsageMB: snap.UsedMB,
		RequiredMB:     requiredMB,
		AvailableMB:    snap.AvailableMB,
	}

	if requiredMB > snap.CapacityMB {
		return Decision{Outcome: OutcomeReject, Reason: "exceeds capacity", Snapshot: decisionSnapshot}
	}
	if nextRatio >= s.cfg.RejectThreshold {
		return Decision{Outcome: OutcomeReject, Reason: "over reject threshold", Snapshot: decisionSnapshot}
	}
	if nextRatio >= s.cfg.DeferThreshold {
		return Decision{Outcome: OutcomeDefer, Reason: "over defer threshold", Snapshot: decisionSnapshot}
	}
	return Decision{Outcome: OutcomeAccept, Snapshot: decisionSnapshot}
}

// Reservation is a single-owner handle over memory allocated through a
// Scheduler. Its Release forwards to the scheduler's Release, so a
// background flush pass (if configured) is always signalled regardless of
// which call site releases the reservation.
type Reservation struct {
	sched *Scheduler
	inner *budget.Reservation
	mb    uint64
}

// Release returns the reservation's memory to the budget exactly once and,
// in background-flush mode, wakes the flush loop.
func (r *Reservation) Release() {
	r.inner.Release()
	if r.sched.cfg.RetryOnRelease == RetryModeBackgroundFlush {
		select {
		case r.sched.releaseSignal <- struct{}{}:
		default:
		}
	}
}

// Allocate attempts to reserve requiredMB against the budget, returning a
// guard the caller must Release on every exit path. It fails-closed
// against lost-update races between Evaluate and Allocate.
func (s *Scheduler) Allocate(requiredMB uint64) (*Reservation, error) {
	inner, err := s.budget.Reserve(requiredMB)
	if err != nil {
		return nil, err
	}
	return &Reservation{sched: s, inner: inner, mb: requiredMB}, nil
}

// Defer constructs a deferred entry and enqueues it. It returns false if
// the queue is full, in which case the caller must escalate to a Reject
// with reason QueueFull (spec §5 Backpressure).
func (s *Scheduler) Defer(id string, requiredMB uint64) bool {
	return s.queue.Enqueue(queue.Entry{ID: id, RequiredMB: requiredMB, EnqueuedAt: time.Now()})
}

// TryDequeue calls the queue's oldest-fitting dequeue against the budget's
// currently available memory. Dequeuing does not reserve memory; callers
// must still Allocate after a successful dequeue.
func (s *Scheduler) TryDequeue() (queue.Entry, bool) {
	return s.queue.DequeueOldestFitting(s.budget.Available())
}

// Requeue re-enqueues an entry exactly as dequeued (preserving EnqueuedAt
// and RetryCount), for a caller that dequeued an entry that wasn't its own
// while polling for a deferred admission (spec §5: "no global ordering is
// promised" across concurrent evaluators, but a caller must not drop a
// sibling's entry it incidentally dequeued).
func (s *Scheduler) Requeue(entry queue.Entry) bool {
	return s.queue.Enqueue(entry)
}

// IncrementRetry bumps a deferred entry's retry count, called by a poller
// that found its own entry not yet fitting on a given pass.
func (s *Scheduler) IncrementRetry(id string) {
	s.queue.IncrementRetry(id)
}

// DrainExpired removes and returns every deferred entry that has exhausted
// its retry budget. The orchestrator calls this periodically and surfaces
// models.ErrDeferredExpired for each to its original caller.
func (s *Scheduler) DrainExpired() []queue.Entry {
	return s.queue.DrainExpired()
}

// Release returns requiredMB to the budget and, depending on
// Config.RetryOnRelease, either does nothing further (opportunistic mode —
// a waiting caller's next TryDequeue picks up the freed memory) or wakes
// the background flush loop to drain fitting entries immediately.
func (s *Scheduler) Release(requiredMB uint64) {
	s.budget.Release(requiredMB)
	if s.cfg.RetryOnRelease == RetryModeBackgroundFlush {
		select {
		case s.releaseSignal <- struct{}{}:
		default:
		}
	}
}

func (s *Scheduler) backgroundFlushLoop() {
	for {
		select {
		case <-s.stopFlush:
			return
		case <-s.releaseSignal:
			for {
				entry, ok := s.queue.DequeueOldestFitting(s.budget.Available())
				if !ok {
					break
				}
				if err := s.budget.Allocate(entry.RequiredMB); err != nil {
					// Lost the race against a concurrent allocator; put
					// the entry back and stop this pass.
					s.queue.Enqueue(entry)
					break
				}
				select {
				case s.flushedCh <- entry:
				default:
				}
			}
		}
	}
}

// FlushedEntries returns the channel of entries re-admitted by the
// background flush loop, so the orchestrator can resume the deferred
// caller's task and eventually Release its memory in turn. Only
// meaningful when Config.RetryOnRelease is RetryModeBackgroundFlush;
// callers in opportunistic mode get a nil channel, which blocks forever
// in a select and is safely ignorable.
func (s *Scheduler) FlushedEntries() <-chan queue.Entry {
	return s.flushedCh
}

// StabilityControl exposes the scheduler's stability control so the
// orchestrator can consult CanSwitch/IsSignificantChange when deciding
// whether to attempt a precision downgrade on a Defer outcome (spec §4.5
// precision downgrade path).
func (s *Scheduler) StabilityControl() *stability.Control {
	return s.stability
}

// Budget exposes the underlying budget for read-only diagnostics (e.g. a
// health probe reading UsageRatio).
func (s *Scheduler) Budget() *budget.Budget {
	return s.budget
}

// QueueLen reports the number of entries currently deferred.
func (s *Scheduler) QueueLen() int {
	return s.queue.Len()
}
