package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"krapi.org/internal/ids"
)

const (
	defaultSessionTTL       = 5 * time.Minute
	defaultBearerTTL        = time.Hour
	defaultSessionRetention = 24 * time.Hour
)

// Failure reasons recorded in the login log. Logged server-side only; the
// caller always sees the same uniform authentication error.
const (
	reasonUnknownUser    = "unknown_user"
	reasonInactiveUser   = "inactive_user"
	reasonBadPassword    = "bad_password"
	reasonUnknownProject = "unknown_project"
	reasonKeysDisabled   = "api_keys_disabled"
	reasonBadKey         = "bad_api_key"
	reasonWrongProject   = "key_project_mismatch"
)

// LoginMeta carries per-attempt request context into the login log.
type LoginMeta struct {
	IPAddress string
	UserAgent string
	Location  string
}

// Service implements the two-phase credential exchange: it issues single-use
// session tokens against primary credentials and exchanges them, exactly
// once each, for signed bearer tokens.
type Service struct {
	store   Store
	keys    *KeyService
	hasher  PasswordHasher
	signer  TokenSigner
	revoked *Revocations

	now              func() time.Time
	sessionTTL       time.Duration
	bearerTTL        time.Duration
	sessionRetention time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithSessionTTL configures the session token lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: session TTL must be positive")
		}
		s.sessionTTL = ttl
		return nil
	}
}

// WithBearerTTL configures the bearer token lifetime.
func WithBearerTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: bearer TTL must be positive")
		}
		s.bearerTTL = ttl
		return nil
	}
}

// WithSessionRetention configures how long expired session rows are kept
// before garbage collection.
func WithSessionRetention(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d < 0 {
			return errors.New("auth: session retention must not be negative")
		}
		s.sessionRetention = d
		return nil
	}
}

// NewService wires the issuer/exchanger/verifier around its capabilities.
func NewService(store Store, keys *KeyService, hasher PasswordHasher, signer TokenSigner, revoked *Revocations, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if keys == nil {
		return nil, errors.New("auth: key service is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: password hasher is required")
	}
	if signer == nil {
		return nil, errors.New("auth: token signer is required")
	}
	if revoked == nil {
		revoked = NewRevocations()
	}
	svc := &Service{
		store:            store,
		keys:             keys,
		hasher:           hasher,
		signer:           signer,
		revoked:          revoked,
		now:              time.Now,
		sessionTTL:       defaultSessionTTL,
		bearerTTL:        defaultBearerTTL,
		sessionRetention: defaultSessionRetention,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Revocations exposes the denylist shared with the registry.
func (s *Service) Revocations() *Revocations { return s.revoked }

// BearerTTL reports the configured bearer token lifetime.
func (s *Service) BearerTTL() time.Duration { return s.bearerTTL }

// IssueAdminSession validates administrator credentials and returns a fresh
// single-use session token. Every attempt, either way, lands in the login
// log; failures all surface as the same ErrInvalidCredentials.
func (s *Service) IssueAdminSession(ctx context.Context, username, password string, meta LoginMeta) (string, *Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", nil, ErrInvalidInput
	}

	user, err := s.store.AdminUsers().FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, s.failLogin(ctx, username, meta, reasonUnknownUser)
		}
		return "", nil, err
	}
	if !user.Active {
		return "", nil, s.failLogin(ctx, username, meta, reasonInactiveUser)
	}
	if err := s.hasher.Verify(user.PasswordHash, password); err != nil {
		return "", nil, s.failLogin(ctx, username, meta, reasonBadPassword)
	}

	return s.createSession(ctx, username, meta, &Session{
		OwnerKind: OwnerAdmin,
		OwnerID:   user.ID,
	})
}

// IssueProjectSession validates a project API key and returns a session
// token bound to the project. The key's permission list is snapshotted into
// the session so the eventual bearer token reflects the key as it was here.
func (s *Service) IssueProjectSession(ctx context.Context, projectID, rawKey string, meta LoginMeta) (string, *Session, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" || strings.TrimSpace(rawKey) == "" {
		return "", nil, ErrInvalidInput
	}

	project, err := s.store.Projects().Find(ctx, projectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, s.failLogin(ctx, projectID, meta, reasonUnknownProject)
		}
		return "", nil, err
	}
	if !project.APIKeysEnabled {
		return "", nil, s.failLogin(ctx, projectID, meta, reasonKeysDisabled)
	}

	key, err := s.keys.Authorize(ctx, rawKey)
	if err != nil {
		if errors.Is(err, ErrKeyInvalid) {
			return "", nil, s.failLogin(ctx, projectID, meta, reasonBadKey)
		}
		return "", nil, err
	}
	if key.ProjectID != projectID {
		return "", nil, s.failLogin(ctx, projectID, meta, reasonWrongProject)
	}

	return s.createSession(ctx, projectID, meta, &Session{
		OwnerKind:   OwnerProject,
		OwnerID:     projectID,
		ProjectID:   projectID,
		Permissions: key.Permissions.Clone(),
	})
}

func (s *Service) createSession(ctx context.Context, subject string, meta LoginMeta, sess *Session) (string, *Session, error) {
	raw, digest, err := NewSessionToken()
	if err != nil {
		return "", nil, err
	}
	now := s.now().UTC()
	sess.ID = ids.New()
	sess.TokenHash = digest
	sess.IssuedAt = now
	sess.ExpiresAt = now.Add(s.sessionTTL)
	if err := s.store.Sessions().Create(ctx, sess); err != nil {
		return "", nil, err
	}
	s.logAttempt(ctx, subject, meta, true, "")
	return raw, sess, nil
}

// failLogin records the attempt with its server-side reason and returns the
// uniform credential error.
func (s *Service) failLogin(ctx context.Context, subject string, meta LoginMeta, reason string) error {
	s.logAttempt(ctx, subject, meta, false, reason)
	return ErrInvalidCredentials
}

func (s *Service) logAttempt(ctx context.Context, subject string, meta LoginMeta, success bool, reason string) {
	entry := &LoginLogEntry{
		ID:            ids.New(),
		Subject:       subject,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Success:       success,
		FailureReason: reason,
		Location:      meta.Location,
		CreatedAt:     s.now().UTC(),
	}
	// Login logging is best-effort: a storage hiccup here must not turn a
	// valid login into a failure.
	_ = s.store.LoginLogs().Append(ctx, entry)
}

// Exchange atomically consumes a session token and mints the bearer token.
// Absent, expired, consumed, and terminated sessions are indistinguishable
// to the caller: all are ErrSessionInvalid.
func (s *Service) Exchange(ctx context.Context, rawToken string) (string, *Claims, error) {
	if !ValidSessionTokenFormat(rawToken) {
		return "", nil, ErrSessionInvalid
	}
	now := s.now().UTC()
	bearerID := uuid.NewString()

	sess, err := s.store.Sessions().Consume(ctx, HashToken(rawToken), now, bearerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionInvalid) {
			return "", nil, ErrSessionInvalid
		}
		return "", nil, err
	}

	claims, err := s.claimsForSession(ctx, sess, bearerID, now)
	if err != nil {
		return "", nil, err
	}
	token, err := s.signer.Sign(claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// claimsForSession snapshots the owner's role and permissions as they stand
// at bearer issuance. Later credential changes do not propagate into the
// token; only forced termination does.
func (s *Service) claimsForSession(ctx context.Context, sess *Session, bearerID string, now time.Time) (*Claims, error) {
	claims := &Claims{
		TokenID:   bearerID,
		SessionID: sess.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.bearerTTL),
	}
	switch sess.OwnerKind {
	case OwnerAdmin:
		user, err := s.store.AdminUsers().Find(ctx, sess.OwnerID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrSessionInvalid
			}
			return nil, err
		}
		if !user.Active {
			return nil, ErrSessionInvalid
		}
		claims.SubjectID = user.ID
		claims.SubjectKind = OwnerAdmin
		claims.Role = user.Role
		claims.AccessLevel = user.AccessLevel
		claims.Permissions = user.Permissions.Clone()
		claims.ProjectIDs = append([]string(nil), user.ProjectIDs...)
	case OwnerProject:
		claims.SubjectID = sess.OwnerID
		claims.SubjectKind = OwnerProject
		claims.ProjectID = sess.ProjectID
		claims.Permissions = sess.Permissions.Clone()
	default:
		return nil, ErrSessionInvalid
	}
	return claims, nil
}

// Verify validates a presented bearer token: signature and expiry through
// the signer, then the termination denylist. It never touches the store.
func (s *Service) Verify(rawToken string) (*Claims, error) {
	claims, err := s.signer.Verify(rawToken)
	if err != nil {
		return nil, err
	}
	if s.revoked.Revoked(claims.SessionID) || s.revoked.Revoked(claims.TokenID) {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// CollectGarbage removes session rows that have been expired longer than
// the retention window. Intended to run on a periodic ticker.
func (s *Service) CollectGarbage(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.sessionRetention)
	removed, err := s.store.Sessions().DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.revoked.Sweep()
	return removed, nil
}
