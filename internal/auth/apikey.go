package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"krapi.org/internal/ids"
)

// MaxAPIKeyRateLimit caps the per-window request quota a key may carry.
const MaxAPIKeyRateLimit = 1_000_000

// KeyService manages the lifecycle of project API keys and authorizes
// requests presented with one.
type KeyService struct {
	store Store
	now   func() time.Time
}

// KeyServiceOption configures KeyService behavior.
type KeyServiceOption func(*KeyService)

// WithKeyClock overrides the time source (useful for tests).
func WithKeyClock(fn func() time.Time) KeyServiceOption {
	return func(s *KeyService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewKeyService wires the key manager over the given store.
func NewKeyService(store Store, opts ...KeyServiceOption) *KeyService {
	svc := &KeyService{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// CreateKeyInput is the management request for minting a key. Name,
// Permissions, and RateLimit are all required; a zero or missing quota is
// rejected rather than defaulted.
type CreateKeyInput struct {
	ProjectID   string
	Name        string
	Permissions []string
	RateLimit   int
	ExpiresAt   *time.Time
}

// CreatedKey pairs the stored record with the one-time plaintext key.
type CreatedKey struct {
	Key      *APIKey `json:"key"`
	Plaintext string `json:"api_key"`
}

// Create validates the request, mints key material, and persists the record.
// The plaintext is returned here and never again.
func (s *KeyService) Create(ctx context.Context, in CreateKeyInput) (*CreatedKey, error) {
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.Name = strings.TrimSpace(in.Name)
	if in.ProjectID == "" {
		return nil, errors.Join(ErrInvalidInput, errors.New("project id is required"))
	}
	if in.Name == "" {
		return nil, errors.Join(ErrInvalidInput, errors.New("name is required"))
	}
	in.Permissions = NormalizePermissions(in.Permissions)
	if len(in.Permissions) == 0 {
		return nil, errors.Join(ErrInvalidInput, errors.New("at least one permission is required"))
	}
	if in.RateLimit < 1 || in.RateLimit > MaxAPIKeyRateLimit {
		return nil, errors.Join(ErrInvalidInput, errors.New("rate limit must be between 1 and 1000000"))
	}
	project, err := s.store.Projects().Find(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if !project.APIKeysEnabled {
		return nil, errors.Join(ErrInvalidInput, errors.New("api keys are disabled for this project"))
	}
	now := s.now().UTC()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, errors.Join(ErrInvalidInput, errors.New("expiry must be in the future"))
	}

	raw, digest, prefix, err := NewAPIKey()
	if err != nil {
		return nil, err
	}
	perms := make(PermissionSet, len(in.Permissions))
	for _, p := range in.Permissions {
		perms[p] = true
	}
	key := &APIKey{
		ID:          ids.New(),
		ProjectID:   in.ProjectID,
		Name:        in.Name,
		KeyHash:     digest,
		KeyPrefix:   prefix,
		Permissions: perms,
		RateLimit:   in.RateLimit,
		Active:      true,
		CreatedAt:   now,
		ExpiresAt:   in.ExpiresAt,
	}
	if err := s.store.APIKeys().Create(ctx, key); err != nil {
		return nil, err
	}
	return &CreatedKey{Key: key, Plaintext: raw}, nil
}

// Get returns the stored record. The key hash never leaves the store layer
// in API responses; only the display prefix does.
func (s *KeyService) Get(ctx context.Context, id string) (*APIKey, error) {
	return s.store.APIKeys().Find(ctx, id)
}

// List returns all keys of a project, secrets omitted.
func (s *KeyService) List(ctx context.Context, projectID string) ([]*APIKey, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.Join(ErrInvalidInput, errors.New("project id is required"))
	}
	return s.store.APIKeys().List(ctx, projectID)
}

// UpdateKeyInput carries the mutable fields of a key. Nil means unchanged.
type UpdateKeyInput struct {
	Name        *string
	Permissions []string
	RateLimit   *int
	ExpiresAt   *time.Time
	ClearExpiry bool
}

// Update patches a key's metadata. Key material is immutable; rotating
// means delete and create.
func (s *KeyService) Update(ctx context.Context, id string, in UpdateKeyInput) (*APIKey, error) {
	key, err := s.store.APIKeys().Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, errors.Join(ErrInvalidInput, errors.New("name must not be empty"))
		}
		key.Name = name
	}
	if in.Permissions != nil {
		normalized := NormalizePermissions(in.Permissions)
		if len(normalized) == 0 {
			return nil, errors.Join(ErrInvalidInput, errors.New("at least one permission is required"))
		}
		perms := make(PermissionSet, len(normalized))
		for _, p := range normalized {
			perms[p] = true
		}
		key.Permissions = perms
	}
	if in.RateLimit != nil {
		if *in.RateLimit < 1 || *in.RateLimit > MaxAPIKeyRateLimit {
			return nil, errors.Join(ErrInvalidInput, errors.New("rate limit out of range"))
		}
		key.RateLimit = *in.RateLimit
	}
	if in.ClearExpiry {
		key.ExpiresAt = nil
	} else if in.ExpiresAt != nil {
		if !in.ExpiresAt.After(s.now().UTC()) {
			return nil, errors.Join(ErrInvalidInput, errors.New("expiry must be in the future"))
		}
		key.ExpiresAt = in.ExpiresAt
	}
	if err := s.store.APIKeys().Update(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// SetActive toggles a key. Deactivation takes effect on the next Authorize
// call; there is no grace period.
func (s *KeyService) SetActive(ctx context.Context, id string, active bool) (*APIKey, error) {
	if err := s.store.APIKeys().SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	return s.store.APIKeys().Find(ctx, id)
}

// Delete removes a key permanently.
func (s *KeyService) Delete(ctx context.Context, id string) error {
	return s.store.APIKeys().Delete(ctx, id)
}

// Authorize resolves a presented raw key to its record, enforcing format,
// existence, active state, and expiry. Accepted requests bump usage_count
// and last_used_at. Every rejection is the same ErrKeyInvalid.
func (s *KeyService) Authorize(ctx context.Context, rawKey string) (*APIKey, error) {
	if !ValidAPIKeyFormat(rawKey) {
		return nil, ErrKeyInvalid
	}
	key, err := s.store.APIKeys().FindByHash(ctx, HashToken(rawKey))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrKeyInvalid
		}
		return nil, err
	}
	now := s.now().UTC()
	if !key.Active {
		return nil, ErrKeyInvalid
	}
	if key.ExpiresAt != nil && !now.Before(*key.ExpiresAt) {
		return nil, ErrKeyInvalid
	}
	if err := s.store.APIKeys().Touch(ctx, key.ID, now); err != nil {
		return nil, err
	}
	key.UsageCount++
	key.LastUsedAt = &now
	return key, nil
}
