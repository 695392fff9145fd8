// Package httpapi is the HTTP surface of the auth service: the two-phase
// login endpoints, the admin management API, and the API-key-gated project
// surface.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"krapi.org/internal/auth"
	"krapi.org/internal/obs"
	"krapi.org/internal/ratelimit"
)

// ReadyProbe reports whether the backing store can serve traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the domain services the API dispatches into.
type Deps struct {
	Store    auth.Store
	Auth     *auth.Service
	Keys     *auth.KeyService
	Registry *auth.Registry
	Hasher   auth.PasswordHasher
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	store    auth.Store
	auth     *auth.Service
	keys     *auth.KeyService
	registry *auth.Registry
	hasher   auth.PasswordHasher

	// Per-key fixed-window quota for the API-key surface.
	keyLimiter *ratelimit.Limiter

	maxBodyBytes int64
	ratePerSec   int
	rateBurst    int
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		store:        deps.Store,
		auth:         deps.Auth,
		keys:         deps.Keys,
		registry:     deps.Registry,
		hasher:       deps.Hasher,
		keyLimiter:   ratelimit.New(),
		maxBodyBytes: 1 << 20,
		ratePerSec:   25,
		rateBurst:    50,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// Two-phase login: credentials to session token, session token to bearer.
	a.mux.HandleFunc("POST /auth/admin/session", a.handleAdminLogin)
	a.mux.HandleFunc("POST /auth/project/{projectId}/session", a.handleProjectLogin)
	a.mux.HandleFunc("POST /auth/session/exchange", a.handleExchange)

	// Admin surface, bearer-token gated.
	a.mux.Handle("GET /admin/auth/sessions", a.withBearer(a.handleListSessions))
	a.mux.Handle("DELETE /admin/auth/sessions/{id}", a.withBearer(a.handleTerminateSession))
	a.mux.Handle("GET /admin/auth/login-logs", a.withBearer(a.handleLoginLogs))

	a.mux.Handle("GET /admin/api/keys", a.withBearer(a.handleListKeys))
	a.mux.Handle("POST /admin/api/keys", a.withBearer(a.handleCreateKey))
	a.mux.Handle("PUT /admin/api/keys/{id}", a.withBearer(a.handleUpdateKey))
	a.mux.Handle("PATCH /admin/api/keys/{id}/toggle", a.withBearer(a.handleToggleKey))
	a.mux.Handle("DELETE /admin/api/keys/{id}", a.withBearer(a.handleDeleteKey))

	a.mux.Handle("GET /admin/users", a.withBearer(a.handleListUsers))
	a.mux.Handle("POST /admin/users", a.withBearer(a.handleCreateUser))
	a.mux.Handle("PUT /admin/users/{id}", a.withBearer(a.handleUpdateUser))
	a.mux.Handle("PATCH /admin/users/{id}/toggle", a.withBearer(a.handleToggleUser))

	a.mux.Handle("GET /admin/projects", a.withBearer(a.handleListProjects))
	a.mux.Handle("POST /admin/projects", a.withBearer(a.handleCreateProject))
	a.mux.Handle("GET /admin/projects/{id}", a.withBearer(a.handleGetProject))

	// Project data surface, API-key gated.
	a.mux.Handle("GET /api/v1/project", a.withAPIKey(a.handleProjectInfo))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	})

	return a
}

// Sweep drops stale per-key rate-limit windows. Call it from the same
// ticker that garbage-collects sessions.
func (a *API) Sweep() {
	a.keyLimiter.Sweep()
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "krapi-auth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, codeInternal, "store unavailable")
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, map[string]any{
		"name":    "krapi-auth",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
