package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KRAPI_AUTH_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}
	if cfg.SessionTTL != 5*time.Minute {
		t.Fatalf("unexpected session TTL: %v", cfg.SessionTTL)
	}
	if cfg.BearerTTL != time.Hour {
		t.Fatalf("unexpected bearer TTL: %v", cfg.BearerTTL)
	}
	if cfg.Issuer != "krapi" {
		t.Fatalf("unexpected issuer: %s", cfg.Issuer)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("KRAPI_AUTH_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestValidateRejectsInvertedTTLs(t *testing.T) {
	t.Setenv("KRAPI_AUTH_SECRET", "test-secret")
	t.Setenv("KRAPI_SESSION_TTL", "2h")
	t.Setenv("KRAPI_BEARER_TTL", "1h")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when bearer TTL does not exceed session TTL")
	}
}
