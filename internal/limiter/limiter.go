// Package limiter gates LLM calls against a rolling per-minute token budget.
package limiter

import (
	"fmt"
	"sync"
	"time"
)

// window is the trailing interval over which token consumption is bounded.
const window = time.Minute

// entry records one admission: tokens reserved at a point in time.
// Entries are appended under the mutex, so timestamps are non-decreasing.
type entry struct {
	at     time.Time
	tokens int
}

// Window admits token reservations against a rolling one-minute budget.
// One long-lived instance is shared by all workers of a batch run; the
// ledger is only ever touched while holding mu.
type Window struct {
	mu       sync.Mutex
	capacity int
	ledger   []entry

	// Overridable in tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Window allowing capacity tokens per rolling minute.
func New(capacity int) *Window {
	return &Window{
		capacity: capacity,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Capacity returns the configured tokens-per-minute budget.
func (w *Window) Capacity() int {
	return w.capacity
}

// evict drops ledger entries that fell out of the window. Caller holds mu.
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(w.ledger) && !w.ledger[i].at.After(cutoff) {
		i++
	}
	w.ledger = w.ledger[i:]
}

// usage sums the tokens still inside the window. Caller holds mu.
func (w *Window) usage() int {
	total := 0
	for _, e := range w.ledger {
		total += e.tokens
	}
	return total
}

// Reserve blocks until tokens fit inside the rolling window, records the
// admission, and returns how long the caller waited. It never fails for a
// positive token count: a request larger than the whole budget is admitted
// immediately when the ledger is empty, so a single oversized job cannot
// deadlock the batch.
func (w *Window) Reserve(tokens int) (time.Duration, error) {
	if tokens <= 0 {
		return 0, fmt.Errorf("limiter.Reserve: tokens must be positive, got %d", tokens)
	}

	w.mu.Lock()
	now := w.now()
	w.evict(now)
	used := w.usage()

	if used+tokens <= w.capacity {
		w.ledger = append(w.ledger, entry{at: now, tokens: tokens})
		w.mu.Unlock()
		return 0, nil
	}

	if len(w.ledger) == 0 {
		// Escape valve: no history to wait out, admit over capacity.
		w.ledger = append(w.ledger, entry{at: now, tokens: tokens})
		w.mu.Unlock()
		return 0, nil
	}

	// Walk oldest-first, virtually expiring entries until the request fits.
	// The real ledger is not mutated here.
	waitUntil := now
	for _, e := range w.ledger {
		if used+tokens <= w.capacity {
			break
		}
		if expires := e.at.Add(window); expires.After(waitUntil) {
			waitUntil = expires
		}
		used -= e.tokens
	}
	wait := waitUntil.Sub(now)
	if wait < 0 {
		wait = 0
	}
	w.mu.Unlock()

	// Sleep without the mutex so other callers can evaluate their own
	// capacity in the meantime.
	if wait > 0 {
		w.sleep(wait)
	}

	// Admit unconditionally after the wait. Re-checking in a loop could
	// live-lock under sustained saturation, so the window bound is soft
	// across the wakeup instant.
	w.mu.Lock()
	w.ledger = append(w.ledger, entry{at: w.now(), tokens: tokens})
	w.mu.Unlock()
	return wait, nil
}
