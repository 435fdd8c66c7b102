// Package budget implements the Memory Budget: the authoritative tally of
// memory commitments against a fixed capacity.
package budget

import (
	"sync"

	"ioac/models"
)

// Budget tracks used/available memory against an immutable capacity. All
// mutating operations serialise under a single mutex; its critical
// sections are O(1), holding the lock only across the update itself.
type Budget struct {
	mu         sync.Mutex
	capacityMB uint64
	usedMB     uint64
}

// New creates a Budget with the given immutable capacity.
func New(capacityMB uint64) *Budget {
	return &Budget{capacityMB: capacityMB}
}

// Allocate succeeds iff used+mb <= capacity. On success it increments used
// and returns nil; on failure it returns models.ErrCapacityExceeded and
// leaves state unchanged.
func (b *Budget) Allocate(mb uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.usedMB+mb > b.capacityMB {
		return models.ErrCapacityExceeded
	}
	b.usedMB += mb
	return nil
}

// Release decrements used by min(mb, used), saturating to zero. Release is
// total: it never fails, so every reservation guard can unwind
// unconditionally on every exit path.
func (b *Budget) Release(mb uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if mb > b.usedMB {
		b.usedMB = 0
		return
	}
	b.usedMB -= mb
}

// Snapshot is a consistent point-in-time read of capacity/used/available,
// taken under the same lock as mutation so evaluate-style callers never
// observe a torn state.
type Snapshot struct {
	CapacityMB uint64
	UsedMB     uint64
	AvailableMB uint64
}

// Snapshot returns a consistent view of the budget's current state.
func (b *Budget) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		CapacityMB:  b.capacityMB,
		UsedMB:      b.usedMB,
		AvailableMB: b.capacityMB - b.usedMB,
	}
}

func (b *Budget) Available() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacityMB - b.usedMB
}

func (b *Budget) Used() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usedMB
}

func (b *Budget) Capacity() uint64 {
	return b.capacityMB
}

// UsageRatio returns used/capacity as a float in [0, 1].
func (b *Budget) UsageRatio() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capacityMB == 0 {
		return 0
	}
	return float64(b.usedMB) / float64(b.capacityMB)
}

// Reservation is a single-owner handle over an allocated quantity of
// memory. Its Release is idempotent and safe to call from a deferred
// cleanup on every exit path (normal return, error, or cancellation),
// mirroring the teacher's resource-manager semaphore Acquire/Release pairing.
type Reservation struct {
	budget   *Budget
	mb       uint64
	released bool
	mu       sync.Mutex
}

// Reserve allocates mb against the budget and returns a guard that releases
// it exactly once. Callers should `defer r.Release()` immediately after a
// successful Reserve.
func (b *Budget) Reserve(mb uint64) (*Reservation, error) {
	if err := b.Allocate(mb); err != nil {
		return nil, err
	}
	return &Reservation{budget: b, mb: mb}, nil
}

// Release returns the reserved memory to the budget. Safe to call multiple
// times or from multiple goroutines; only the first call has effect.
func (r *Reservation) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	r.budget.Release(r.mb)
}
