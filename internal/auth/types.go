package auth

import "time"

// OwnerKind distinguishes who a session or bearer token speaks for.
type OwnerKind string

const (
	OwnerAdmin   OwnerKind = "admin"
	OwnerProject OwnerKind = "project"
)

// AdminUser is a platform administrator account. Password material is kept
// as an adaptive salted hash and never leaves the credential store.
type AdminUser struct {
	ID           string        `json:"id"`
	Username     string        `json:"username"`
	Email        string        `json:"email"`
	PasswordHash string        `json:"-"`
	Role         Role          `json:"role"`
	AccessLevel  AccessLevel   `json:"access_level"`
	Permissions  PermissionSet `json:"permissions,omitempty"`
	ProjectIDs   []string      `json:"project_ids,omitempty"`
	Active       bool          `json:"active"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Project is a tenant record. API keys and project sessions hang off it.
type Project struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	APIKeysEnabled bool      `json:"api_keys_enabled"`
	CreatedAt      time.Time `json:"created_at"`
}

// Session is the short-lived single-use credential of the two-phase login.
// Only the SHA-256 digest of the opaque token is stored; Consumed moves
// false→true exactly once and never back.
type Session struct {
	ID          string        `json:"id"`
	TokenHash   string        `json:"-"`
	OwnerKind   OwnerKind     `json:"owner_kind"`
	OwnerID     string        `json:"owner_id"`
	ProjectID   string        `json:"project_id,omitempty"`
	Permissions PermissionSet `json:"-"`
	BearerID    string        `json:"bearer_id,omitempty"`
	IssuedAt    time.Time     `json:"issued_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	ConsumedAt  *time.Time    `json:"consumed_at,omitempty"`
	TerminatedAt *time.Time   `json:"terminated_at,omitempty"`
}

// Active reports whether the session can still be exchanged.
func (s *Session) Active(now time.Time) bool {
	return s.ConsumedAt == nil && s.TerminatedAt == nil && now.Before(s.ExpiresAt)
}

// APIKey is a long-lived machine credential scoped to one project. The raw
// key is returned exactly once at creation; only its digest and a display
// prefix persist.
type APIKey struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	Name        string        `json:"name"`
	KeyHash     string        `json:"-"`
	KeyPrefix   string        `json:"key_prefix"`
	Permissions PermissionSet `json:"permissions"`
	RateLimit   int           `json:"rate_limit"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	UsageCount  int64         `json:"usage_count"`
	LastUsedAt  *time.Time    `json:"last_used_at,omitempty"`
}

// LoginLogEntry is one append-only record of an authentication attempt.
type LoginLogEntry struct {
	ID            string    `json:"id"`
	Subject       string    `json:"subject"`
	IPAddress     string    `json:"ip_address"`
	UserAgent     string    `json:"user_agent"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Location      string    `json:"location,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Claims is the verified content of a bearer token. It is a snapshot taken
// when the token was minted; later credential-store changes do not flow into
// it except through forced termination.
type Claims struct {
	TokenID     string
	SessionID   string
	SubjectID   string
	SubjectKind OwnerKind
	Role        Role
	AccessLevel AccessLevel
	Permissions PermissionSet
	ProjectID   string
	ProjectIDs  []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}
