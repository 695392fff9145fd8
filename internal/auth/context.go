package auth

import "context"

type claimsContextKey struct{}
type apiKeyContextKey struct{}

// ContextWithClaims attaches verified bearer claims to the context.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts the verified bearer claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(claimsContextKey{}).(*Claims)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// ContextWithAPIKey attaches the authorized API key to the context so
// downstream handlers can read its project scope.
func ContextWithAPIKey(ctx context.Context, key *APIKey) context.Context {
	if key == nil {
		return ctx
	}
	return context.WithValue(ctx, apiKeyContextKey{}, key)
}

// APIKeyFromContext extracts the authorized API key, if any.
func APIKeyFromContext(ctx context.Context) (*APIKey, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(apiKeyContextKey{}).(*APIKey)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// SubjectFromContext returns the authenticated subject id from either a
// bearer token or an API key, used by audit logging.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.SubjectID, true
	}
	if key, ok := APIKeyFromContext(ctx); ok {
		return key.ID, true
	}
	return "", false
}
