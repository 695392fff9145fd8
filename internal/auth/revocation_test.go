package auth

import (
	"testing"
	"time"
)

func TestRevocations(t *testing.T) {
	now := time.Now()
	r := NewRevocations()
	r.now = func() time.Time { return now }

	if r.Revoked("sess-1") {
		t.Fatal("empty set revoked something")
	}

	r.Add("sess-1", now.Add(time.Hour))
	if !r.Revoked("sess-1") {
		t.Fatal("added id not revoked")
	}
	if r.Revoked("sess-2") {
		t.Fatal("unrelated id revoked")
	}
	if r.Revoked("") {
		t.Fatal("empty id revoked")
	}

	// Past the horizon the entry no longer matters and is dropped on read.
	now = now.Add(2 * time.Hour)
	if r.Revoked("sess-1") {
		t.Fatal("id still revoked after horizon")
	}
	if r.Len() != 0 {
		t.Fatalf("expired entry retained, len=%d", r.Len())
	}
}

func TestRevocationsAddExpiredIsNoop(t *testing.T) {
	now := time.Now()
	r := NewRevocations()
	r.now = func() time.Time { return now }

	r.Add("sess-1", now.Add(-time.Minute))
	if r.Len() != 0 {
		t.Fatal("expired horizon was stored")
	}
}

func TestRevocationsSweep(t *testing.T) {
	now := time.Now()
	r := NewRevocations()
	r.now = func() time.Time { return now }

	r.Add("a", now.Add(time.Minute))
	r.Add("b", now.Add(time.Hour))
	now = now.Add(30 * time.Minute)

	if removed := r.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if !r.Revoked("b") {
		t.Fatal("live entry swept")
	}
}
