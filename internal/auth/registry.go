package auth

import (
	"context"
	"time"
)

// Registry exposes the operator view of live sessions and the login log,
// and performs forced session termination.
type Registry struct {
	store     Store
	revoked   *Revocations
	now       func() time.Time
	bearerTTL time.Duration
}

// NewRegistry wires the registry over the same store and denylist the
// issuing service uses.
func NewRegistry(store Store, revoked *Revocations, bearerTTL time.Duration) *Registry {
	if bearerTTL <= 0 {
		bearerTTL = defaultBearerTTL
	}
	return &Registry{
		store:     store,
		revoked:   revoked,
		now:       time.Now,
		bearerTTL: bearerTTL,
	}
}

// ActiveSessions lists sessions that can still be exchanged.
func (r *Registry) ActiveSessions(ctx context.Context) ([]*Session, error) {
	return r.store.Sessions().ListActive(ctx, r.now().UTC())
}

// Terminate force-ends a session. If a bearer token was already minted from
// it, the session id lands on the denylist until that token would have
// expired on its own, so in-flight bearers die with the session.
func (r *Registry) Terminate(ctx context.Context, id string) (*Session, error) {
	now := r.now().UTC()
	sess, err := r.store.Sessions().Terminate(ctx, id, now)
	if err != nil {
		return nil, err
	}
	r.revoked.Add(sess.ID, now.Add(r.bearerTTL))
	if sess.BearerID != "" {
		r.revoked.Add(sess.BearerID, now.Add(r.bearerTTL))
	}
	return sess, nil
}

// LoginLogs pages the immutable attempt history, newest first.
func (r *Registry) LoginLogs(ctx context.Context, limit, offset int) ([]*LoginLogEntry, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return r.store.LoginLogs().List(ctx, limit, offset)
}
