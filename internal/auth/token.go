package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"krapi.org/internal/ids"
)

const (
	// SessionTokenPrefix identifies single-use session tokens.
	SessionTokenPrefix = "krapi_sess_"
	// APIKeyPrefix identifies long-lived project API keys.
	APIKeyPrefix = "krapi_key_"

	// tokenEntropyBytes is the random material per credential (256 bits).
	tokenEntropyBytes = 32

	// keyPrefixDisplayLen is how much of the key material the stored display
	// prefix keeps for identification.
	keyPrefixDisplayLen = 8
)

// NewSessionToken returns a fresh opaque session token and the digest that
// is persisted in its place.
func NewSessionToken() (raw, digest string, err error) {
	secret, err := ids.Secret(tokenEntropyBytes)
	if err != nil {
		return "", "", err
	}
	raw = SessionTokenPrefix + secret
	return raw, HashToken(raw), nil
}

// NewAPIKey returns fresh key material, its digest, and the short display
// prefix retained for listings. The raw key is shown to the caller exactly
// once.
func NewAPIKey() (raw, digest, prefix string, err error) {
	secret, err := ids.Secret(tokenEntropyBytes)
	if err != nil {
		return "", "", "", err
	}
	raw = APIKeyPrefix + secret
	return raw, HashToken(raw), APIKeyPrefix + secret[:keyPrefixDisplayLen], nil
}

// HashToken computes the hex SHA-256 digest used for storage and lookup.
// Digest equality stands in for constant-time comparison of the raw secret.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ValidSessionTokenFormat rejects obviously malformed tokens before the
// store is consulted.
func ValidSessionTokenFormat(raw string) bool {
	return validFormat(raw, SessionTokenPrefix)
}

// ValidAPIKeyFormat rejects obviously malformed keys before the store is
// consulted.
func ValidAPIKeyFormat(raw string) bool {
	return validFormat(raw, APIKeyPrefix)
}

func validFormat(raw, prefix string) bool {
	if !strings.HasPrefix(raw, prefix) {
		return false
	}
	encoded := strings.TrimPrefix(raw, prefix)
	if encoded == "" {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(encoded)
	return err == nil
}
