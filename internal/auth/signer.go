package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSigner is the signing/verification capability for bearer tokens.
// Pluggable so protocol tests can swap in a deterministic implementation.
type TokenSigner interface {
	Sign(claims *Claims) (string, error)
	Verify(token string) (*Claims, error)
}

// bearerClaims is the wire shape of a bearer token payload.
type bearerClaims struct {
	Kind        string          `json:"kind"`
	Role        string          `json:"role,omitempty"`
	AccessLevel string          `json:"access_level,omitempty"`
	Permissions map[string]bool `json:"permissions,omitempty"`
	SessionID   string          `json:"sid"`
	ProjectID   string          `json:"project_id,omitempty"`
	ProjectIDs  []string        `json:"project_ids,omitempty"`
	jwt.RegisteredClaims
}

// HS256Signer signs bearer tokens with HMAC-SHA256.
type HS256Signer struct {
	secret []byte
	issuer string
}

// NewHS256Signer constructs a signer from the shared service secret.
func NewHS256Signer(secret, issuer string) (*HS256Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = "krapi"
	}
	return &HS256Signer{secret: []byte(secret), issuer: issuer}, nil
}

func (s *HS256Signer) Sign(claims *Claims) (string, error) {
	if claims == nil || claims.SubjectID == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	wire := bearerClaims{
		Kind:        string(claims.SubjectKind),
		Role:        claims.Role.String(),
		AccessLevel: claims.AccessLevel.String(),
		Permissions: claims.Permissions,
		SessionID:   claims.SessionID,
		ProjectID:   claims.ProjectID,
		ProjectIDs:  claims.ProjectIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   claims.SubjectID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			ID:        claims.TokenID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, wire)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *HS256Signer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &bearerClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithLeeway(5*time.Second),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	wire, ok := parsed.Claims.(*bearerClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claimsFromWire(wire)
}

func claimsFromWire(wire *bearerClaims) (*Claims, error) {
	if strings.TrimSpace(wire.Subject) == "" || wire.IssuedAt == nil || wire.ExpiresAt == nil {
		return nil, ErrTokenInvalid
	}
	claims := &Claims{
		TokenID:     wire.ID,
		SessionID:   wire.SessionID,
		SubjectID:   wire.Subject,
		Permissions: wire.Permissions,
		ProjectID:   wire.ProjectID,
		ProjectIDs:  wire.ProjectIDs,
		IssuedAt:    wire.IssuedAt.Time,
		ExpiresAt:   wire.ExpiresAt.Time,
	}
	switch OwnerKind(wire.Kind) {
	case OwnerAdmin:
		claims.SubjectKind = OwnerAdmin
		role, err := ParseRole(wire.Role)
		if err != nil {
			return nil, ErrTokenInvalid
		}
		level, err := ParseAccessLevel(wire.AccessLevel)
		if err != nil {
			return nil, ErrTokenInvalid
		}
		claims.Role = role
		claims.AccessLevel = level
	case OwnerProject:
		claims.SubjectKind = OwnerProject
		if claims.ProjectID == "" {
			return nil, ErrTokenInvalid
		}
	default:
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
