package backend

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// breakerState mirrors the closed/open/half-open state machine the
// teacher's adaptive rate limiter tracks per domain, applied here per
// backend instead of per domain.
type breakerState int

const (
	circuitClosed breakerState = iota
	circuitOpen
	circuitHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// FallbackFunc is invoked when a call is refused because the circuit is
// open (or half-open with no probes left). It is a notification hook
// only: Allow still returns false.
type FallbackFunc func()

// BreakerConfig tunes trip/recovery behaviour.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures
	// that trips the breaker from closed to open.
	FailureThreshold int
	// OpenDuration is how long the breaker stays open before allowing a
	// half-open probe.
	OpenDuration time.Duration
	// HalfOpenProbes bounds how many trial requests are allowed through
	// while half-open before the breaker fully closes (on success) or
	// re-opens (on failure).
	HalfOpenProbes int
	// ProbeInterval paces half-open probes so a single burst of retries
	// doesn't immediately exhaust HalfOpenProbes.
	ProbeInterval time.Duration
}

// DefaultBreakerConfig mirrors the teacher's rate limiter defaults in
// spirit: a handful of consecutive failures trips the breaker, a short
// cooldown before probing again.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenDuration:      30 * time.Second,
		HalfOpenProbes:    3,
		ProbeInterval:     time.Second,
	}
}

// Breaker is a per-backend circuit breaker (spec §4.6: "transient backend
// errors... counted against a per-backend circuit-breaker window; on trip,
// the backend is temporarily removed from the candidate list").
type Breaker struct {
	mu sync.Mutex

	cfg   BreakerConfig
	clock func() time.Time

	state               breakerState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenRemaining   int

	probeLimiter *rate.Limiter

	Fallback FallbackFunc
}

// NewBreaker creates a closed Breaker with the given configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg:          cfg,
		clock:        time.Now,
		state:        circuitClosed,
		probeLimiter: rate.NewLimiter(rate.Every(cfg.ProbeInterval), 1),
	}
}

// Allow reports whether a call may proceed. When the breaker is open and
// OpenDuration has elapsed, it transitions to half-open and allows a
// bounded number of probes through. When the breaker is open and refuses
// the call, it invokes Fallback, if set.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if b.clock().Sub(b.openedAt) < b.cfg.OpenDuration {
			if b.Fallback != nil {
				b.Fallback()
			}
			return false
		}
		b.state = circuitHalfOpen
		b.halfOpenRemaining = b.cfg.HalfOpenProbes
		fallthrough
	case circuitHalfOpen:
		if b.halfOpenRemaining <= 0 {
			if b.Fallback != nil {
				b.Fallback()
			}
			return false
		}
		if !b.probeLimiter.Allow() {
			return false
		}
		b.halfOpenRemaining--
		return true
	default:
		return true
	}
}

// RecordSuccess resets the failure count and, from half-open, closes the
// breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.state = circuitClosed
}

// RecordFailure counts a transient failure against the breaker. Permanent
// failures (spec §4.6) should not be recorded here — callers mark the
// backend Unhealthy directly instead, since the breaker only models
// transient/recoverable failure windows.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == circuitHalfOpen {
		b.state = circuitOpen
		b.openedAt = b.clock()
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.state = circuitOpen
		b.openedAt = b.clock()
	}
}

// State reports the breaker's current state as a diagnostic string.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
