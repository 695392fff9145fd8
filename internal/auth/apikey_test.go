package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"krapi.org/internal/auth"
	"krapi.org/internal/ids"
	"krapi.org/internal/store/memory"
)

func newKeyFixture(t *testing.T) (*memory.Store, *auth.KeyService, *auth.Project, *fakeClock) {
	t.Helper()
	store := memory.New()
	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
	keys := auth.NewKeyService(store, auth.WithKeyClock(clock.Now))
	project := &auth.Project{ID: ids.New(), Name: "blog", APIKeysEnabled: true, CreatedAt: clock.Now()}
	if err := store.Projects().Create(context.Background(), project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return store, keys, project, clock
}

// keyInput fills the required fields so individual tests only spell out what
// they exercise.
func keyInput(projectID, name string) auth.CreateKeyInput {
	return auth.CreateKeyInput{
		ProjectID:   projectID,
		Name:        name,
		Permissions: []string{"documents.read"},
		RateLimit:   100,
	}
}

func TestKeyCreate(t *testing.T) {
	_, keys, project, _ := newKeyFixture(t)
	ctx := context.Background()

	created, err := keys.Create(ctx, auth.CreateKeyInput{
		ProjectID:   project.ID,
		Name:        "ci",
		Permissions: []string{"Documents.Read", "documents.read", " files.read "},
		RateLimit:   250,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(created.Plaintext, auth.APIKeyPrefix) {
		t.Fatalf("plaintext missing prefix: %q", created.Plaintext)
	}
	key := created.Key
	if key.KeyHash == created.Plaintext || key.KeyHash == "" {
		t.Fatal("stored hash is the plaintext or empty")
	}
	if !strings.HasPrefix(created.Plaintext, key.KeyPrefix) {
		t.Fatalf("display prefix %q does not match key", key.KeyPrefix)
	}
	if key.RateLimit != 250 || !key.Active {
		t.Fatalf("unexpected key state: %+v", key)
	}
	// Duplicates and casing collapse to one grant per action.
	if len(key.Permissions) != 2 || !key.Permissions.Allows("documents.read") || !key.Permissions.Allows("files.read") {
		t.Fatalf("permissions not normalized: %v", key.Permissions)
	}
}

func TestKeyCreateValidation(t *testing.T) {
	_, keys, project, clock := newKeyFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*auth.CreateKeyInput)
	}{
		{"missing project", func(in *auth.CreateKeyInput) { in.ProjectID = "" }},
		{"missing name", func(in *auth.CreateKeyInput) { in.Name = "" }},
		{"missing permissions", func(in *auth.CreateKeyInput) { in.Permissions = nil }},
		{"blank permissions", func(in *auth.CreateKeyInput) { in.Permissions = []string{" ", ""} }},
		{"omitted rate", func(in *auth.CreateKeyInput) { in.RateLimit = 0 }},
		{"negative rate", func(in *auth.CreateKeyInput) { in.RateLimit = -1 }},
		{"rate above cap", func(in *auth.CreateKeyInput) { in.RateLimit = auth.MaxAPIKeyRateLimit + 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := keyInput(project.ID, "x")
			tc.mutate(&in)
			if _, err := keys.Create(ctx, in); !errors.Is(err, auth.ErrInvalidInput) {
				t.Fatalf("got %v, want ErrInvalidInput", err)
			}
		})
	}

	past := clock.Now().Add(-time.Hour)
	expired := keyInput(project.ID, "x")
	expired.ExpiresAt = &past
	if _, err := keys.Create(ctx, expired); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("past expiry: got %v", err)
	}

	// The cap itself is accepted.
	atCap := keyInput(project.ID, "max")
	atCap.RateLimit = auth.MaxAPIKeyRateLimit
	capped, err := keys.Create(ctx, atCap)
	if err != nil {
		t.Fatalf("Create at cap: %v", err)
	}
	if capped.Key.RateLimit != auth.MaxAPIKeyRateLimit {
		t.Fatalf("cap rate = %d", capped.Key.RateLimit)
	}
}

func TestKeyCreateRequiresEnabledProject(t *testing.T) {
	store, keys, _, clock := newKeyFixture(t)
	ctx := context.Background()

	disabled := &auth.Project{ID: ids.New(), Name: "frozen", APIKeysEnabled: false, CreatedAt: clock.Now()}
	if err := store.Projects().Create(ctx, disabled); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := keys.Create(ctx, keyInput(disabled.ID, "x")); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("disabled project: got %v", err)
	}
}

func TestKeyAuthorize(t *testing.T) {
	_, keys, project, clock := newKeyFixture(t)
	ctx := context.Background()

	created, err := keys.Create(ctx, keyInput(project.ID, "ci"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	key, err := keys.Authorize(ctx, created.Plaintext)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if key.UsageCount != 1 || key.LastUsedAt == nil {
		t.Fatalf("usage not recorded: %+v", key)
	}
	key, err = keys.Authorize(ctx, created.Plaintext)
	if err != nil {
		t.Fatalf("Authorize again: %v", err)
	}
	if key.UsageCount != 2 {
		t.Fatalf("usage count = %d, want 2", key.UsageCount)
	}

	if _, err := keys.Authorize(ctx, "garbage"); !errors.Is(err, auth.ErrKeyInvalid) {
		t.Fatalf("garbage key: got %v", err)
	}
	if _, err := keys.Authorize(ctx, auth.APIKeyPrefix+"YWJjZGVmZ2hpamts"); !errors.Is(err, auth.ErrKeyInvalid) {
		t.Fatalf("unknown key: got %v", err)
	}

	// Expiry ends acceptance without any state change.
	expiring := clock.Now().Add(time.Minute)
	timedIn := keyInput(project.ID, "timed")
	timedIn.ExpiresAt = &expiring
	timed, err := keys.Create(ctx, timedIn)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := keys.Authorize(ctx, timed.Plaintext); !errors.Is(err, auth.ErrKeyInvalid) {
		t.Fatalf("expired key: got %v", err)
	}
}

func TestKeyDeactivationIsImmediate(t *testing.T) {
	_, keys, project, _ := newKeyFixture(t)
	ctx := context.Background()

	created, err := keys.Create(ctx, keyInput(project.ID, "ci"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := keys.Authorize(ctx, created.Plaintext); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	if _, err := keys.SetActive(ctx, created.Key.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := keys.Authorize(ctx, created.Plaintext); !errors.Is(err, auth.ErrKeyInvalid) {
		t.Fatalf("deactivated key accepted: %v", err)
	}

	if _, err := keys.SetActive(ctx, created.Key.ID, true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := keys.Authorize(ctx, created.Plaintext); err != nil {
		t.Fatalf("reactivated key rejected: %v", err)
	}
}

func TestKeyUpdateAndDelete(t *testing.T) {
	_, keys, project, _ := newKeyFixture(t)
	ctx := context.Background()

	in := keyInput(project.ID, "old")
	in.RateLimit = 10
	created, err := keys.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	name := "renamed"
	limit := 99
	updated, err := keys.Update(ctx, created.Key.ID, auth.UpdateKeyInput{Name: &name, RateLimit: &limit})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "renamed" || updated.RateLimit != 99 {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.KeyHash != created.Key.KeyHash {
		t.Fatal("update rotated key material")
	}

	badLimit := 0
	if _, err := keys.Update(ctx, created.Key.ID, auth.UpdateKeyInput{RateLimit: &badLimit}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("zero rate accepted: %v", err)
	}
	empty := "  "
	if _, err := keys.Update(ctx, created.Key.ID, auth.UpdateKeyInput{Name: &empty}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("blank name accepted: %v", err)
	}
	if _, err := keys.Update(ctx, created.Key.ID, auth.UpdateKeyInput{Permissions: []string{" "}}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("empty grant list accepted: %v", err)
	}

	if err := keys.Delete(ctx, created.Key.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := keys.Get(ctx, created.Key.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("deleted key found: %v", err)
	}
	if _, err := keys.Authorize(ctx, created.Plaintext); !errors.Is(err, auth.ErrKeyInvalid) {
		t.Fatalf("deleted key accepted: %v", err)
	}
}

func TestKeyListScopedToProject(t *testing.T) {
	store, keys, project, clock := newKeyFixture(t)
	ctx := context.Background()

	other := &auth.Project{ID: ids.New(), Name: "other", APIKeysEnabled: true, CreatedAt: clock.Now()}
	if err := store.Projects().Create(ctx, other); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := keys.Create(ctx, keyInput(project.ID, "a")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := keys.Create(ctx, keyInput(project.ID, "b")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := keys.Create(ctx, keyInput(other.ID, "c")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := keys.List(ctx, project.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %d keys, want 2", len(list))
	}
	for _, k := range list {
		if k.ProjectID != project.ID {
			t.Fatalf("foreign key in list: %+v", k)
		}
	}
}
