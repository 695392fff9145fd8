package httpapi

import (
	"net/http"
	"strings"
	"time"

	"krapi.org/internal/audit"
	"krapi.org/internal/auth"
	"krapi.org/internal/obs"
)

const sessionTokenHeader = "X-Session-Token"

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type projectLoginRequest struct {
	APIKey string `json:"apiKey"`
}

type sessionResponse struct {
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type bearerResponse struct {
	JWT       string    `json:"jwt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func loginMeta(r *http.Request) auth.LoginMeta {
	return auth.LoginMeta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (a *API) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "username and password are required")
		return
	}

	token, sess, err := a.auth.IssueAdminSession(r.Context(), req.Username, req.Password, loginMeta(r))
	obs.ObserveLogin("admin", err == nil)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, sessionResponse{
		SessionToken: token,
		ExpiresAt:    sess.ExpiresAt,
	})
}

func (a *API) handleProjectLogin(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	var req projectLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "apiKey is required")
		return
	}

	token, sess, err := a.auth.IssueProjectSession(r.Context(), projectID, req.APIKey, loginMeta(r))
	obs.ObserveLogin("project", err == nil)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, sessionResponse{
		SessionToken: token,
		ExpiresAt:    sess.ExpiresAt,
	})
}

func (a *API) handleExchange(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.Header.Get(sessionTokenHeader))
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "X-Session-Token header is required")
		return
	}

	bearer, claims, err := a.auth.Exchange(r.Context(), raw)
	obs.ObserveExchange(err == nil)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, bearerResponse{
		JWT:       bearer,
		ExpiresAt: claims.ExpiresAt,
	})
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.ResourceSessions, auth.ActionRead, "") {
		return
	}
	sessions, err := a.registry.ActiveSessions(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.ResourceSessions, auth.ActionDelete, "") {
		return
	}
	id := r.PathValue("id")
	sess, err := a.registry.Terminate(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "session.terminate", map[string]any{
		"session_id": sess.ID,
		"owner_kind": sess.OwnerKind,
		"owner_id":   sess.OwnerID,
	})
	writeData(w, r, http.StatusOK, sess)
}

func (a *API) handleLoginLogs(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.ResourceLoginLogs, auth.ActionRead, "") {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 50, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "limit "+err.Error())
		return
	}
	page, err := parsePositiveInt(r.URL.Query().Get("page"), 1, 1, 1<<20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "page "+err.Error())
		return
	}

	entries, total, err := a.registry.LoginLogs(r.Context(), limit, (page-1)*limit)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"logs":  entries,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}
