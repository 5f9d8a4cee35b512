// Package ratelimit provides in-process sliding-window limiters.
package ratelimit

import (
	"sync"
	"time"
)

const (
	defaultLimit  = 20
	defaultWindow = time.Minute
)

// Window is a sliding-window limiter for a single caller.
type Window struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// New constructs a Window with safe defaults when inputs are invalid.
func New(limit int, window time.Duration) *Window {
	if limit <= 0 {
		limit = defaultLimit
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &Window{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted.
func (w *Window) Allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	if len(w.events) >= w.limit {
		return false
	}
	w.events = append(w.events, now)
	return true
}

// RetryAfter is how long until the oldest event in the window expires.
func (w *Window) RetryAfter(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	if len(w.events) < w.limit || len(w.events) == 0 {
		return 0
	}
	return w.events[0].Add(w.window).Sub(now)
}

func (w *Window) idle(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return len(w.events) == 0
}

func (w *Window) pruneLocked(now time.Time) {
	cut := now.Add(-w.window)
	dst := w.events[:0]
	for _, t := range w.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	w.events = dst
}

// Keyed keeps one Window per key (client IP, user id). Idle keys are swept once per window.
type Keyed struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	buckets   map[string]*Window
	lastSweep time.Time
}

// NewKeyed constructs a Keyed limiter.
func NewKeyed(limit int, window time.Duration) *Keyed {
	if limit <= 0 {
		limit = defaultLimit
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &Keyed{limit: limit, window: window, buckets: make(map[string]*Window)}
}

// Allow records an event for key. When the key is over its limit, ok is false and
// retryAfter says when the next event would be admitted.
func (k *Keyed) Allow(key string, now time.Time) (ok bool, retryAfter time.Duration) {
	k.mu.Lock()
	if now.Sub(k.lastSweep) >= k.window {
		for name, w := range k.buckets {
			if w.idle(now) {
				delete(k.buckets, name)
			}
		}
		k.lastSweep = now
	}
	w, found := k.buckets[key]
	if !found {
		w = New(k.limit, k.window)
		k.buckets[key] = w
	}
	k.mu.Unlock()

	if w.Allow(now) {
		return true, 0
	}
	return false, w.RetryAfter(now)
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
