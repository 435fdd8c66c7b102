// Package queue implements the Deferred Queue: a fairness-aware,
// age-ordered, capacity-bounded holding area for requests that cannot be
// admitted immediately.
package queue

import (
	"sync"
	"time"
)

// Entry is a single deferred request awaiting a fitting window of
// available memory.
type Entry struct {
	ID         string
	RequiredMB uint64
	EnqueuedAt time.Time
	RetryCount uint
}

// Config bounds the queue's capacity and per-entry retry budget.
type Config struct {
	MaxSize    int
	MaxRetries uint
}

// Defaults returns the spec-mandated defaults: 256 capacity, 5 retries.
func Defaults() Config {
	return Config{MaxSize: 256, MaxRetries: 5}
}

// Queue holds deferred entries under its own mutex, independent of the
// budget's lock (spec §5: "The Deferred Queue is protected by its own
// mutex"). Scan-to-dequeue is O(n), n bounded by MaxSize.
type Queue struct {
	mu      sync.Mutex
	cfg     Config
	entries []Entry
}

// New creates an empty Queue with the given configuration.
func New(cfg Config) *Queue {
	return &Queue{cfg: cfg}
}

// Enqueue appends entry to the tail. It returns false if the queue is
// already at capacity; the caller is expected to escalate to a Reject with
// reason QueueFull in that case (spec §5 Backpressure).
func (q *Queue) Enqueue(entry Entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.cfg.MaxSize {
		return false
	}
	q.entries = append(q.entries, entry)
	return true
}

// DequeueOldestFitting scans oldest-first and removes the first entry
// whose RequiredMB fits within availableMB and whose RetryCount is still
// under the retry limit. This is the minimal departure from FIFO that
// preserves progress for both large and small requests (spec §4.3).
func (q *Queue) DequeueOldestFitting(availableMB uint64) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.RetryCount >= q.cfg.MaxRetries {
			continue
		}
		if e.RequiredMB <= availableMB {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e, true
		}
	}
	return Entry{}, false
}

// DrainExpired removes and returns every entry whose RetryCount has
// reached MaxRetries. Called periodically by the scheduler.
func (q *Queue) DrainExpired() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var expired []Entry
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.RetryCount >= q.cfg.MaxRetries {
			expired = append(expired, e)
		} else {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	return expired
}

// IncrementRetry bumps an entry's RetryCount in place, used by a retry pass
// that scanned the entry but found it did not fit. RetryCount is
// monotonically non-decreasing per entry (spec §3.2).
func (q *Queue) IncrementRetry(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries[i].RetryCount++
			return
		}
	}
}

// Len returns the number of entries currently held.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// IsEmpty reports whether the queue holds no entries.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}
