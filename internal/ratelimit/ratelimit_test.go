package ratelimit

import (
	"testing"
	"time"
)

func TestAllowExactWindowCount(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithNow(func() time.Time { return now }))

	const limit = 200
	for i := 0; i < limit; i++ {
		d := l.Allow("key-1", limit)
		if !d.Allowed {
			t.Fatalf("request %d rejected below the limit", i+1)
		}
		if d.Remaining != limit-i-1 {
			t.Fatalf("request %d remaining = %d, want %d", i+1, d.Remaining, limit-i-1)
		}
	}

	d := l.Allow("key-1", limit)
	if d.Allowed {
		t.Fatal("request 201 allowed")
	}
	if d.Remaining != 0 {
		t.Fatalf("rejected remaining = %d, want 0", d.Remaining)
	}
	if d.RetryAfter(now) <= 0 || d.RetryAfter(now) > DefaultWindow {
		t.Fatalf("RetryAfter = %v", d.RetryAfter(now))
	}

	// The next window starts clean.
	now = now.Add(DefaultWindow)
	if d := l.Allow("key-1", limit); !d.Allowed || d.Remaining != limit-1 {
		t.Fatalf("new window: %+v", d)
	}
}

func TestRejectedRequestsStillCount(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithNow(func() time.Time { return now }))

	l.Allow("key-1", 1)
	for i := 0; i < 5; i++ {
		if d := l.Allow("key-1", 1); d.Allowed {
			t.Fatalf("rejection %d allowed", i+1)
		}
	}
	// A mid-window quota raise does not forgive rejected attempts.
	if d := l.Allow("key-1", 3); d.Allowed {
		t.Fatalf("raised quota forgave counted rejections: %+v", d)
	}
}

func TestLimitTravelsWithCall(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithNow(func() time.Time { return now }))

	if d := l.Allow("key-1", 10); !d.Allowed || d.Remaining != 9 {
		t.Fatalf("first call: %+v", d)
	}
	// Quota lowered below the count already spent: next request rejects.
	if d := l.Allow("key-1", 1); d.Allowed {
		t.Fatalf("lowered quota still allowed: %+v", d)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithNow(func() time.Time { return now }))

	l.Allow("a", 1)
	if d := l.Allow("a", 1); d.Allowed {
		t.Fatal("key a over quota allowed")
	}
	if d := l.Allow("b", 1); !d.Allowed {
		t.Fatal("key b blocked by key a")
	}
}

func TestNonPositiveLimitDeniesAll(t *testing.T) {
	l := New()
	if d := l.Allow("a", 0); d.Allowed {
		t.Fatal("zero limit allowed")
	}
	if d := l.Allow("a", -5); d.Allowed {
		t.Fatal("negative limit allowed")
	}
}

func TestSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithNow(func() time.Time { return now }))

	l.Allow("a", 10)
	l.Allow("b", 10)
	if removed := l.Sweep(); removed != 0 {
		t.Fatalf("live windows swept: %d", removed)
	}

	now = now.Add(2 * DefaultWindow)
	if removed := l.Sweep(); removed != 2 {
		t.Fatalf("Sweep removed %d, want 2", removed)
	}
	if l.Len() != 0 {
		t.Fatalf("len = %d after sweep", l.Len())
	}
}
