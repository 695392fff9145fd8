package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations the auth subsystem consumes.
// Implementations live in internal/store.
type Store interface {
	AdminUsers() AdminUserStore
	Projects() ProjectStore
	Sessions() SessionStore
	APIKeys() APIKeyStore
	LoginLogs() LoginLogStore
}

// AdminUserStore manages platform administrator accounts.
type AdminUserStore interface {
	Create(ctx context.Context, u *AdminUser) error
	Find(ctx context.Context, id string) (*AdminUser, error)
	FindByUsername(ctx context.Context, username string) (*AdminUser, error)
	List(ctx context.Context) ([]*AdminUser, error)
	Update(ctx context.Context, u *AdminUser) error
	SetActive(ctx context.Context, id string, active bool) error
}

// ProjectStore manages tenant records.
type ProjectStore interface {
	Create(ctx context.Context, p *Project) error
	Find(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context) ([]*Project, error)
}

// SessionStore manages the single-use session lifecycle. Consume is the one
// mutation of a live session and must be atomic: a conditional update that
// succeeds for at most one caller per token.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	// Consume marks the session identified by tokenHash consumed iff it is
	// unconsumed, unterminated, and unexpired at now, and records the id of
	// the bearer token minted from it. Returns ErrSessionInvalid otherwise.
	Consume(ctx context.Context, tokenHash string, now time.Time, bearerID string) (*Session, error)
	ListActive(ctx context.Context, now time.Time) ([]*Session, error)
	// Terminate marks the session terminated and returns its final state so
	// the registry can revoke any bearer token minted from it.
	Terminate(ctx context.Context, id string, now time.Time) (*Session, error)
	// DeleteExpired garbage-collects sessions whose expiry passed before the
	// given cutoff. Consumed rows are retained until then for audit.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// APIKeyStore manages project API keys.
type APIKeyStore interface {
	Create(ctx context.Context, k *APIKey) error
	Find(ctx context.Context, id string) (*APIKey, error)
	FindByHash(ctx context.Context, keyHash string) (*APIKey, error)
	List(ctx context.Context, projectID string) ([]*APIKey, error)
	Update(ctx context.Context, k *APIKey) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	// Touch increments usage_count and stamps last_used_at. Called on every
	// accepted API-key request, not just management calls.
	Touch(ctx context.Context, id string, now time.Time) error
}

// LoginLogStore appends and pages the immutable login history.
type LoginLogStore interface {
	Append(ctx context.Context, e *LoginLogEntry) error
	// List returns one page ordered newest first plus the total row count.
	List(ctx context.Context, limit, offset int) ([]*LoginLogEntry, int, error)
}
