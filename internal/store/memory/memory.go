// Package memory provides an in-process Store used by the dev server and
// the test suite. All mutations happen under one mutex, which is what makes
// session consumption atomic here.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"krapi.org/internal/auth"
)

// Store implements auth.Store over plain maps.
type Store struct {
	mu        sync.Mutex
	admins    map[string]*auth.AdminUser
	projects  map[string]*auth.Project
	sessions  map[string]*auth.Session
	keys      map[string]*auth.APIKey
	loginLogs []*auth.LoginLogEntry
}

// New returns an empty store.
func New() *Store {
	return &Store{
		admins:   make(map[string]*auth.AdminUser),
		projects: make(map[string]*auth.Project),
		sessions: make(map[string]*auth.Session),
		keys:     make(map[string]*auth.APIKey),
	}
}

func (s *Store) AdminUsers() auth.AdminUserStore { return (*adminUsers)(s) }
func (s *Store) Projects() auth.ProjectStore     { return (*projects)(s) }
func (s *Store) Sessions() auth.SessionStore     { return (*sessions)(s) }
func (s *Store) APIKeys() auth.APIKeyStore       { return (*apiKeys)(s) }
func (s *Store) LoginLogs() auth.LoginLogStore   { return (*loginLogs)(s) }

func cloneUser(u *auth.AdminUser) *auth.AdminUser {
	cp := *u
	cp.Permissions = u.Permissions.Clone()
	cp.ProjectIDs = append([]string(nil), u.ProjectIDs...)
	return &cp
}

func cloneSession(sess *auth.Session) *auth.Session {
	cp := *sess
	cp.Permissions = sess.Permissions.Clone()
	if sess.ConsumedAt != nil {
		t := *sess.ConsumedAt
		cp.ConsumedAt = &t
	}
	if sess.TerminatedAt != nil {
		t := *sess.TerminatedAt
		cp.TerminatedAt = &t
	}
	return &cp
}

func cloneKey(k *auth.APIKey) *auth.APIKey {
	cp := *k
	cp.Permissions = k.Permissions.Clone()
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		cp.ExpiresAt = &t
	}
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		cp.LastUsedAt = &t
	}
	return &cp
}

type adminUsers Store

func (s *adminUsers) Create(_ context.Context, u *auth.AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.admins[u.ID]; ok {
		return auth.ErrConflict
	}
	for _, existing := range s.admins {
		if existing.Username == u.Username {
			return auth.ErrConflict
		}
	}
	s.admins[u.ID] = cloneUser(u)
	return nil
}

func (s *adminUsers) Find(_ context.Context, id string) (*auth.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.admins[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *adminUsers) FindByUsername(_ context.Context, username string) (*auth.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.admins {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *adminUsers) List(_ context.Context) ([]*auth.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.AdminUser, 0, len(s.admins))
	for _, u := range s.admins {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *adminUsers) Update(_ context.Context, u *auth.AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.admins[u.ID]; !ok {
		return auth.ErrNotFound
	}
	s.admins[u.ID] = cloneUser(u)
	return nil
}

func (s *adminUsers) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.admins[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.Active = active
	u.UpdatedAt = time.Now().UTC()
	return nil
}

type projects Store

func (s *projects) Create(_ context.Context, p *auth.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return auth.ErrConflict
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *projects) Find(_ context.Context, id string) (*auth.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *projects) List(_ context.Context) ([]*auth.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type sessions Store

func (s *sessions) Create(_ context.Context, sess *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return auth.ErrConflict
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *sessions) Find(_ context.Context, id string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *sessions) Consume(_ context.Context, tokenHash string, now time.Time, bearerID string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.TokenHash != tokenHash {
			continue
		}
		if !sess.Active(now) {
			return nil, auth.ErrSessionInvalid
		}
		t := now
		sess.ConsumedAt = &t
		sess.BearerID = bearerID
		return cloneSession(sess), nil
	}
	return nil, auth.ErrSessionInvalid
}

func (s *sessions) ListActive(_ context.Context, now time.Time) ([]*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.Session, 0)
	for _, sess := range s.sessions {
		if sess.Active(now) {
			out = append(out, cloneSession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (s *sessions) Terminate(_ context.Context, id string, now time.Time) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if sess.TerminatedAt == nil {
		t := now
		sess.TerminatedAt = &t
	}
	return cloneSession(sess), nil
}

func (s *sessions) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

type apiKeys Store

func (s *apiKeys) Create(_ context.Context, k *auth.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k.ID]; ok {
		return auth.ErrConflict
	}
	s.keys[k.ID] = cloneKey(k)
	return nil
}

func (s *apiKeys) Find(_ context.Context, id string) (*auth.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneKey(k), nil
}

func (s *apiKeys) FindByHash(_ context.Context, keyHash string) (*auth.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.KeyHash == keyHash {
			return cloneKey(k), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *apiKeys) List(_ context.Context, projectID string) ([]*auth.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.APIKey, 0)
	for _, k := range s.keys {
		if k.ProjectID == projectID {
			out = append(out, cloneKey(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *apiKeys) Update(_ context.Context, k *auth.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k.ID]; !ok {
		return auth.ErrNotFound
	}
	s.keys[k.ID] = cloneKey(k)
	return nil
}

func (s *apiKeys) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return auth.ErrNotFound
	}
	k.Active = active
	return nil
}

func (s *apiKeys) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.keys, id)
	return nil
}

func (s *apiKeys) Touch(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return auth.ErrNotFound
	}
	k.UsageCount++
	t := now
	k.LastUsedAt = &t
	return nil
}

type loginLogs Store

func (s *loginLogs) Append(_ context.Context, e *auth.LoginLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.loginLogs = append(s.loginLogs, &cp)
	return nil
}

func (s *loginLogs) List(_ context.Context, limit, offset int) ([]*auth.LoginLogEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.loginLogs)
	// Newest first.
	out := make([]*auth.LoginLogEntry, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		cp := *s.loginLogs[i]
		out = append(out, &cp)
	}
	return out, total, nil
}
