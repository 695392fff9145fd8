package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"krapi.org/internal/auth"
	"krapi.org/internal/obs"
)

const (
	authHeader   = "Authorization"
	bearerScheme = "Bearer "
	apiKeyHeader = "X-API-Key"
)

// withBearer authenticates the admin surface: a verified bearer token lands
// in the request context, everything else is rejected before the handler.
func (a *API) withBearer(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, codeTokenBad, err.Error())
			return
		}
		claims, err := a.auth.Verify(token)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
	})
}

// requirePermission runs the policy decision and writes the 403 itself.
// Returns false when the handler must stop.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, res auth.Resource, act auth.Action, targetProject string) bool {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeTokenBad, "authentication required")
		return false
	}
	if err := auth.Decide(claims, res, act, targetProject); err != nil {
		handleAuthError(w, r, err)
		return false
	}
	return true
}

// withAPIKey authenticates the project data surface and applies the key's
// own quota. Every response carries the X-RateLimit headers; a 429 also
// carries Retry-After. Rejected requests count against the window too.
func (a *API) withAPIKey(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		if raw == "" {
			writeError(w, r, http.StatusUnauthorized, codeKeyBad, "api key is required")
			return
		}
		key, err := a.keys.Authorize(r.Context(), raw)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}

		now := time.Now()
		d := a.keyLimiter.Allow(key.ID, key.RateLimit)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
		if !d.Allowed {
			obs.ObserveRateLimitReject()
			retry := int(d.RetryAfter(now).Seconds())
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, r, http.StatusTooManyRequests, codeRateLimited, "api key rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithAPIKey(r.Context(), key)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerScheme)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearerScheme):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
