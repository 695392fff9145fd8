package httpapi

import (
	"net/http"

	"krapi.org/internal/auth"
)

// handleProjectInfo is the data-plane endpoint: whatever project the
// presented key belongs to is the project it sees, no more.
func (a *API) handleProjectInfo(w http.ResponseWriter, r *http.Request) {
	key, ok := auth.APIKeyFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeKeyBad, "api key is required")
		return
	}
	project, err := a.store.Projects().Find(r.Context(), key.ProjectID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"project": project,
		"key": map[string]any{
			"id":          key.ID,
			"name":        key.Name,
			"permissions": key.Permissions,
		},
	})
}
