// Package ratelimit implements the fixed-window counter behind per-key API
// quotas. Windows are aligned to the wall clock, a key's counter resets at
// each window boundary, and rejected requests still count against the
// window.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the quota window unless configured otherwise.
const DefaultWindow = time.Minute

// Decision reports the outcome of one Allow call, with the header material
// the HTTP layer echoes back.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the current window ends and the counter clears.
	Reset time.Time
}

// RetryAfter is how long the caller should wait before retrying, zero when
// the request was allowed.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed {
		return 0
	}
	if wait := d.Reset.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

type window struct {
	start time.Time
	count int
}

// Limiter tracks one fixed window per key. Limits travel with each call so
// a key's quota change applies on its very next request.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	window  time.Duration
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow overrides the window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithNow overrides the time source (useful for tests).
func WithNow(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New returns an empty limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		window:  DefaultWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one request against the key's current window and reports
// whether it fits within limit. A non-positive limit denies everything.
func (l *Limiter) Allow(key string, limit int) Decision {
	now := l.now()
	start := now.Truncate(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || w.start.Before(start) {
		w = &window{start: start}
		l.windows[key] = w
	}
	w.count++

	d := Decision{
		Limit: limit,
		Reset: start.Add(l.window),
	}
	if limit > 0 && w.count <= limit {
		d.Allowed = true
		d.Remaining = limit - w.count
	}
	return d
}

// Sweep drops windows that ended before now, keeping the map bounded by the
// set of keys seen in the last window. Run it on a periodic ticker.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, w := range l.windows {
		if w.start.Before(cutoff) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
