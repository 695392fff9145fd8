package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"krapi.org/internal/auth"
	"krapi.org/internal/ids"
	"krapi.org/internal/store/memory"
)

type fixture struct {
	store   *memory.Store
	svc     *auth.Service
	keys    *auth.KeyService
	reg     *auth.Registry
	clock   *fakeClock
	admin   *auth.AdminUser
	project *auth.Project
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const testPassword = "correct horse battery staple"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Second)}

	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}
	signer, err := auth.NewHS256Signer("test-secret", "krapi")
	if err != nil {
		t.Fatalf("NewHS256Signer: %v", err)
	}
	keys := auth.NewKeyService(store, auth.WithKeyClock(clock.Now))
	svc, err := auth.NewService(store, keys, hasher, signer, nil, auth.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	reg := auth.NewRegistry(store, svc.Revocations(), svc.BearerTTL())

	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	admin := &auth.AdminUser{
		ID:           ids.New(),
		Username:     "root",
		Email:        "root@example.com",
		PasswordHash: hash,
		Role:         auth.RoleMasterAdmin,
		AccessLevel:  auth.AccessFull,
		Active:       true,
		CreatedAt:    clock.Now(),
		UpdatedAt:    clock.Now(),
	}
	if err := store.AdminUsers().Create(ctx, admin); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	project := &auth.Project{
		ID:             ids.New(),
		Name:           "blog",
		APIKeysEnabled: true,
		CreatedAt:      clock.Now(),
	}
	if err := store.Projects().Create(ctx, project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return &fixture{store: store, svc: svc, keys: keys, reg: reg, clock: clock, admin: admin, project: project}
}

func TestIssueAdminSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	raw, sess, err := fx.svc.IssueAdminSession(ctx, "root", testPassword, auth.LoginMeta{IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("IssueAdminSession: %v", err)
	}
	if !auth.ValidSessionTokenFormat(raw) {
		t.Fatalf("malformed session token %q", raw)
	}
	if sess.OwnerKind != auth.OwnerAdmin || sess.OwnerID != fx.admin.ID {
		t.Fatalf("session owner mismatch: %+v", sess)
	}
	if got := sess.ExpiresAt.Sub(sess.IssuedAt); got != 5*time.Minute {
		t.Fatalf("session TTL = %v, want 5m", got)
	}

	logs, total, err := fx.store.LoginLogs().List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list login logs: %v", err)
	}
	if total != 1 || !logs[0].Success || logs[0].IPAddress != "10.0.0.1" {
		t.Fatalf("unexpected login log: total=%d %+v", total, logs)
	}
}

func TestIssueAdminSessionFailuresAreUniform(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, _, badUser := fx.svc.IssueAdminSession(ctx, "nobody", testPassword, auth.LoginMeta{})
	_, _, badPass := fx.svc.IssueAdminSession(ctx, "root", "wrong", auth.LoginMeta{})
	if !errors.Is(badUser, auth.ErrInvalidCredentials) || !errors.Is(badPass, auth.ErrInvalidCredentials) {
		t.Fatalf("want uniform ErrInvalidCredentials, got %v / %v", badUser, badPass)
	}
	if badUser.Error() != badPass.Error() {
		t.Fatalf("failure modes distinguishable: %q vs %q", badUser, badPass)
	}

	if err := fx.store.AdminUsers().SetActive(ctx, fx.admin.ID, false); err != nil {
		t.Fatalf("deactivate admin: %v", err)
	}
	_, _, inactive := fx.svc.IssueAdminSession(ctx, "root", testPassword, auth.LoginMeta{})
	if !errors.Is(inactive, auth.ErrInvalidCredentials) {
		t.Fatalf("inactive user: got %v", inactive)
	}

	// The log keeps the reasons the caller never sees.
	logs, total, err := fx.store.LoginLogs().List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list login logs: %v", err)
	}
	if total != 3 {
		t.Fatalf("want 3 log rows, got %d", total)
	}
	for _, l := range logs {
		if l.Success || l.FailureReason == "" {
			t.Fatalf("failed attempt missing reason: %+v", l)
		}
	}
}

func TestIssueAdminSessionValidatesInput(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, _, err := fx.svc.IssueAdminSession(ctx, "", testPassword, auth.LoginMeta{}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("empty username: got %v", err)
	}
	if _, _, err := fx.svc.IssueAdminSession(ctx, "root", "", auth.LoginMeta{}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("empty password: got %v", err)
	}
}

func TestExchangeMintsSnapshotClaims(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	raw, sess, err := fx.svc.IssueAdminSession(ctx, "root", testPassword, auth.LoginMeta{})
	if err != nil {
		t.Fatalf("IssueAdminSession: %v", err)
	}
	bearer, claims, err := fx.svc.Exchange(ctx, raw)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if claims.SubjectID != fx.admin.ID || claims.Role != auth.RoleMasterAdmin {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.SessionID != sess.ID {
		t.Fatalf("claims sid %q != session %q", claims.SessionID, sess.ID)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt); got != time.Hour {
		t.Fatalf("bearer TTL = %v, want 1h", got)
	}

	verified, err := fx.svc.Verify(bearer)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.SubjectID != fx.admin.ID || verified.TokenID != claims.TokenID {
		t.Fatalf("verified claims mismatch: %+v", verified)
	}

	// The consumed session records which bearer it became.
	stored, err := fx.store.Sessions().Find(ctx, sess.ID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if stored.ConsumedAt == nil || stored.BearerID != claims.TokenID {
		t.Fatalf("session not linked to bearer: %+v", stored)
	}
}

func TestExchangeReplayFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	raw, _, err := fx.svc.IssueAdminSession(ctx, "root", testPassword, auth.LoginMeta{})
	if err != nil {
		t.Fatalf("IssueAdminSession: %v", err)
	}
	if _, _, err := fx.svc.Exchange(ctx, raw); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	if _, _, err := fx.svc.Exchange(ctx, raw); !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("replay: got %v, want ErrSessionInvalid", err)
	}
}

func TestExchangeConcurrentExactlyOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	raw, _, err := fx.svc.IssueAdminSession(ctx, "root", testPassword, auth.LoginMeta{})
	if err != nil {
		t.Fatalf("IssueAdminSession: %v", err)
	}

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := fx.svc.Exchange(ctx, raw)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, auth.ErrSessionInvalid) {
				failures++
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want exactly 1", successes)
	}
	if failures != workers-1 {
		t.Fatalf("failures = %d, want %d", failures, workers-1)
	}
}

func TestExchangeExpiredSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	raw, _, err := fx.svc.IssueAdminSession(ctx, "root", testPassword, auth.LoginMeta{})
	if err != nil {
		t.Fatalf("IssueAdminSession: %v", err)
	}
	fx.clock.Advance(5*time.Minute + time.Second)
	if _, _, err := fx.svc.Exchange(ctx, raw); !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("expired session: got %v", err)
	}
}

func TestExchangeRejectsMalformedAndDeactivated(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, _, err := fx.svc.Exchange(ctx, "not-a-token"); !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("malformed token: got %v", err)
	}

	raw, _, err := fx.svc.IssueAdminSession(ctx, "root", testPassword, auth.LoginMeta{})
	if err != nil {
		t.Fatalf("IssueAdminSession: %v", err)
	}
	if err := fx.store.AdminUsers().SetActive(ctx, fx.admin.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, _, err := fx.svc.Exchange(ctx, raw); !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("deactivated owner: got %v", err)
	}
}

func TestProjectSessionSnapshotsKeyPermissions(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	created, err := fx.keys.Create(ctx, auth.CreateKeyInput{
		ProjectID:   fx.project.ID,
		Name:        "reader",
		Permissions: []string{"documents.read"},
		RateLimit:   100,
	})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	raw, sess, err := fx.svc.IssueProjectSession(ctx, fx.project.ID, created.Plaintext, auth.LoginMeta{})
	if err != nil {
		t.Fatalf("IssueProjectSession: %v", err)
	}
	if sess.OwnerKind != auth.OwnerProject || sess.ProjectID != fx.project.ID {
		t.Fatalf("session scope mismatch: %+v", sess)
	}

	// Widening the key after issuance must not widen the pending session.
	if _, err := fx.keys.Update(ctx, created.Key.ID, auth.UpdateKeyInput{
		Permissions: []string{"documents.read", "documents.delete"},
	}); err != nil {
		t.Fatalf("update key: %v", err)
	}

	_, claims, err := fx.svc.Exchange(ctx, raw)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if claims.SubjectKind != auth.OwnerProject || claims.ProjectID != fx.project.ID {
		t.Fatalf("claims scope mismatch: %+v", claims)
	}
	if !claims.Permissions.Allows("documents.read") {
		t.Fatal("snapshot lost granted permission")
	}
	if claims.Permissions.Allows("documents.delete") {
		t.Fatal("post-issuance grant leaked into the snapshot")
	}
}

func TestProjectSessionRejections(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	created, err := fx.keys.Create(ctx, auth.CreateKeyInput{
		ProjectID:   fx.project.ID,
		Name:        "k",
		Permissions: []string{"documents.read"},
		RateLimit:   100,
	})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	if _, _, err := fx.svc.IssueProjectSession(ctx, "missing", created.Plaintext, auth.LoginMeta{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("unknown project: got %v", err)
	}
	if _, _, err := fx.svc.IssueProjectSession(ctx, fx.project.ID, "krapi_key_bogus", auth.LoginMeta{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("bogus key: got %v", err)
	}

	other := &auth.Project{ID: ids.New(), Name: "other", APIKeysEnabled: true, CreatedAt: fx.clock.Now()}
	if err := fx.store.Projects().Create(ctx, other); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, _, err := fx.svc.IssueProjectSession(ctx, other.ID, created.Plaintext, auth.LoginMeta{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("cross-project key: got %v", err)
	}
}

func TestTerminateRevokesBearer(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	raw, sess, err := fx.svc.IssueAdminSession(ctx, "root", testPassword, auth.LoginMeta{})
	if err != nil {
		t.Fatalf("IssueAdminSession: %v", err)
	}
	bearer, _, err := fx.svc.Exchange(ctx, raw)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if _, err := fx.svc.Verify(bearer); err != nil {
		t.Fatalf("Verify before terminate: %v", err)
	}

	if _, err := fx.reg.Terminate(ctx, sess.ID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, err := fx.svc.Verify(bearer); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("Verify after terminate: got %v, want ErrTokenInvalid", err)
	}
}

func TestTerminatePendingSessionBlocksExchange(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	raw, sess, err := fx.svc.IssueAdminSession(ctx, "root", testPassword, auth.LoginMeta{})
	if err != nil {
		t.Fatalf("IssueAdminSession: %v", err)
	}
	if _, err := fx.reg.Terminate(ctx, sess.ID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, _, err := fx.svc.Exchange(ctx, raw); !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("exchange of terminated session: got %v", err)
	}
}

func TestActiveSessionsListing(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	raw1, _, err := fx.svc.IssueAdminSession(ctx, "root", testPassword, auth.LoginMeta{})
	if err != nil {
		t.Fatalf("IssueAdminSession: %v", err)
	}
	_, _, err = fx.svc.IssueAdminSession(ctx, "root", testPassword, auth.LoginMeta{})
	if err != nil {
		t.Fatalf("IssueAdminSession: %v", err)
	}

	active, err := fx.reg.ActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}

	// Consumed sessions drop out of the active view.
	if _, _, err := fx.svc.Exchange(ctx, raw1); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	active, err = fx.reg.ActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active after exchange = %d, want 1", len(active))
	}
}

func TestCollectGarbage(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, _, err := fx.svc.IssueAdminSession(ctx, "root", testPassword, auth.LoginMeta{}); err != nil {
		t.Fatalf("IssueAdminSession: %v", err)
	}

	removed, err := fx.svc.CollectGarbage(ctx)
	if err != nil {
		t.Fatalf("CollectGarbage: %v", err)
	}
	if removed != 0 {
		t.Fatalf("fresh session collected: removed=%d", removed)
	}

	fx.clock.Advance(25*time.Hour + 6*time.Minute)
	removed, err = fx.svc.CollectGarbage(ctx)
	if err != nil {
		t.Fatalf("CollectGarbage: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}
