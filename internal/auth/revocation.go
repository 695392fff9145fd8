package auth

import (
	"sync"
	"time"
)

// Revocations is the denylist of terminated-but-not-yet-expired identifiers
// consulted on every bearer verification. Entries are bounded by the bearer
// TTL: once a revoked token would have expired anyway, its entry is swept.
//
// The set is in-process. Running more than one replica requires either a
// shared set or a bearer TTL short enough that termination latency is
// acceptable.
type Revocations struct {
	mu      sync.RWMutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewRevocations returns an empty denylist.
func NewRevocations() *Revocations {
	return &Revocations{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Add revokes id until the given horizon. Adding an already-expired horizon
// is a no-op.
func (r *Revocations) Add(id string, until time.Time) {
	if id == "" || !until.After(r.now()) {
		return
	}
	r.mu.Lock()
	r.expires[id] = until
	r.mu.Unlock()
}

// Revoked reports whether id is currently denied.
func (r *Revocations) Revoked(id string) bool {
	if id == "" {
		return false
	}
	r.mu.RLock()
	until, ok := r.expires[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if r.now().After(until) {
		r.mu.Lock()
		delete(r.expires, id)
		r.mu.Unlock()
		return false
	}
	return true
}

// Sweep drops entries whose horizon passed. Called periodically so the set
// stays bounded even for ids that are never checked again.
func (r *Revocations) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, until := range r.expires {
		if now.After(until) {
			delete(r.expires, id)
			removed++
		}
	}
	return removed
}

// Len returns the current entry count.
func (r *Revocations) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.expires)
}
