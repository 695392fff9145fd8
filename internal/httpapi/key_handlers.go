package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"krapi.org/internal/audit"
	"krapi.org/internal/auth"
)

// permissionList accepts either a JSON array of strings or a single bare
// string, which is treated as a one-element list.
type permissionList []string

func (p *permissionList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*p = permissionList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("permissions must be a string or a list of strings")
	}
	*p = permissionList(many)
	return nil
}

type createKeyRequest struct {
	ProjectID   string         `json:"project_id"`
	Name        string         `json:"name"`
	Permissions permissionList `json:"permissions"`
	RateLimit   int            `json:"rate_limit"`
	ExpiresAt   *time.Time     `json:"expires_at"`
}

type updateKeyRequest struct {
	Name        *string        `json:"name"`
	Permissions permissionList `json:"permissions"`
	RateLimit   *int           `json:"rate_limit"`
	ExpiresAt   *time.Time     `json:"expires_at"`
	ClearExpiry bool           `json:"clear_expiry"`
}

func (a *API) handleListKeys(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))
	if projectID == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "project_id query parameter is required")
		return
	}
	if !a.requirePermission(w, r, auth.ResourceAPIKeys, auth.ActionRead, projectID) {
		return
	}
	keys, err := a.keys.List(r.Context(), projectID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"keys": keys})
}

func (a *API) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if !a.requirePermission(w, r, auth.ResourceAPIKeys, auth.ActionCreate, strings.TrimSpace(req.ProjectID)) {
		return
	}

	created, err := a.keys.Create(r.Context(), auth.CreateKeyInput{
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Permissions: []string(req.Permissions),
		RateLimit:   req.RateLimit,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "api_key.create", map[string]any{
		"key_id":     created.Key.ID,
		"project_id": created.Key.ProjectID,
	})
	// The plaintext appears in this response and nowhere else.
	writeData(w, r, http.StatusCreated, created)
}

// keyForWrite loads the key and runs the policy check against its project.
func (a *API) keyForWrite(w http.ResponseWriter, r *http.Request, act auth.Action) (*auth.APIKey, bool) {
	key, err := a.keys.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleAuthError(w, r, err)
		return nil, false
	}
	if !a.requirePermission(w, r, auth.ResourceAPIKeys, act, key.ProjectID) {
		return nil, false
	}
	return key, true
}

func (a *API) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	key, ok := a.keyForWrite(w, r, auth.ActionUpdate)
	if !ok {
		return
	}
	var req updateKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	updated, err := a.keys.Update(r.Context(), key.ID, auth.UpdateKeyInput{
		Name:        req.Name,
		Permissions: []string(req.Permissions),
		RateLimit:   req.RateLimit,
		ExpiresAt:   req.ExpiresAt,
		ClearExpiry: req.ClearExpiry,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, updated)
}

func (a *API) handleToggleKey(w http.ResponseWriter, r *http.Request) {
	key, ok := a.keyForWrite(w, r, auth.ActionUpdate)
	if !ok {
		return
	}
	updated, err := a.keys.SetActive(r.Context(), key.ID, !key.Active)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "api_key.toggle", map[string]any{
		"key_id": updated.ID,
		"active": updated.Active,
	})
	writeData(w, r, http.StatusOK, updated)
}

func (a *API) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	key, ok := a.keyForWrite(w, r, auth.ActionDelete)
	if !ok {
		return
	}
	if err := a.keys.Delete(r.Context(), key.ID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "api_key.delete", map[string]any{
		"key_id":     key.ID,
		"project_id": key.ProjectID,
	})
	writeData(w, r, http.StatusOK, map[string]any{"deleted": key.ID})
}
