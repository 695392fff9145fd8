package httpapi

import (
	"net/http"
	"strings"
	"time"

	"krapi.org/internal/audit"
	"krapi.org/internal/auth"
	"krapi.org/internal/ids"
)

type createUserRequest struct {
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	Role        string   `json:"role"`
	AccessLevel string   `json:"access_level"`
	Permissions []string `json:"permissions"`
	ProjectIDs  []string `json:"project_ids"`
}

type updateUserRequest struct {
	Email       *string  `json:"email"`
	Password    *string  `json:"password"`
	Role        *string  `json:"role"`
	AccessLevel *string  `json:"access_level"`
	Permissions []string `json:"permissions"`
	ProjectIDs  []string `json:"project_ids"`
}

type createProjectRequest struct {
	Name           string `json:"name"`
	APIKeysEnabled *bool  `json:"api_keys_enabled"`
}

const minPasswordLen = 12

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.ResourceAdmins, auth.ActionRead, "") {
		return
	}
	users, err := a.store.AdminUsers().List(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.ResourceAdmins, auth.ActionCreate, "") {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "username is required")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, r, http.StatusBadRequest, codeValidation, "password is too short")
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "unknown role")
		return
	}
	level, err := auth.ParseAccessLevel(req.AccessLevel)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "unknown access level")
		return
	}
	if role.ProjectBound() && len(req.ProjectIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, codeValidation, "project-bound roles require project_ids")
		return
	}

	hash, err := a.hasher.Hash(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}
	perms := make(auth.PermissionSet)
	for _, p := range auth.NormalizePermissions(req.Permissions) {
		perms[p] = true
	}
	now := time.Now().UTC()
	user := &auth.AdminUser{
		ID:           ids.New(),
		Username:     req.Username,
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
		Role:         role,
		AccessLevel:  level,
		Permissions:  perms,
		ProjectIDs:   req.ProjectIDs,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.AdminUsers().Create(r.Context(), user); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin_user.create", map[string]any{
		"user_id": user.ID,
		"role":    user.Role,
	})
	writeData(w, r, http.StatusCreated, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.ResourceAdmins, auth.ActionUpdate, "") {
		return
	}
	user, err := a.store.AdminUsers().Find(r.Context(), r.PathValue("id"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if req.Email != nil {
		user.Email = strings.TrimSpace(*req.Email)
	}
	if req.Password != nil {
		if len(*req.Password) < minPasswordLen {
			writeError(w, r, http.StatusBadRequest, codeValidation, "password is too short")
			return
		}
		hash, err := a.hasher.Hash(*req.Password)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
			return
		}
		user.PasswordHash = hash
	}
	if req.Role != nil {
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, "unknown role")
			return
		}
		user.Role = role
	}
	if req.AccessLevel != nil {
		level, err := auth.ParseAccessLevel(*req.AccessLevel)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, "unknown access level")
			return
		}
		user.AccessLevel = level
	}
	if req.Permissions != nil {
		perms := make(auth.PermissionSet)
		for _, p := range auth.NormalizePermissions(req.Permissions) {
			perms[p] = true
		}
		user.Permissions = perms
	}
	if req.ProjectIDs != nil {
		user.ProjectIDs = req.ProjectIDs
	}
	if user.Role.ProjectBound() && len(user.ProjectIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, codeValidation, "project-bound roles require project_ids")
		return
	}
	user.UpdatedAt = time.Now().UTC()

	if err := a.store.AdminUsers().Update(r.Context(), user); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin_user.update", map[string]any{"user_id": user.ID})
	writeData(w, r, http.StatusOK, user)
}

func (a *API) handleToggleUser(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.ResourceAdmins, auth.ActionUpdate, "") {
		return
	}
	id := r.PathValue("id")
	user, err := a.store.AdminUsers().Find(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	// An admin cannot lock themselves out mid-session.
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.SubjectID == id {
		writeError(w, r, http.StatusBadRequest, codeValidation, "cannot toggle your own account")
		return
	}
	if err := a.store.AdminUsers().SetActive(r.Context(), id, !user.Active); err != nil {
		handleAuthError(w, r, err)
		return
	}
	user, err = a.store.AdminUsers().Find(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin_user.toggle", map[string]any{
		"user_id": user.ID,
		"active":  user.Active,
	})
	writeData(w, r, http.StatusOK, user)
}

func (a *API) handleListProjects(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeTokenBad, "authentication required")
		return
	}

	// Project-bound admins get the listing reduced to their own projects;
	// each one is policy-checked individually so the list can never show a
	// project the admin could not read directly.
	if claims.Role.ProjectBound() {
		var visible []*auth.Project
		for _, id := range claims.ProjectIDs {
			if auth.Decide(claims, auth.ResourceProjects, auth.ActionRead, id) != nil {
				continue
			}
			p, err := a.store.Projects().Find(r.Context(), id)
			if err != nil {
				continue
			}
			visible = append(visible, p)
		}
		writeData(w, r, http.StatusOK, map[string]any{"projects": visible})
		return
	}

	if !a.requirePermission(w, r, auth.ResourceProjects, auth.ActionRead, "") {
		return
	}
	projects, err := a.store.Projects().List(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"projects": projects})
}

func (a *API) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.ResourceProjects, auth.ActionCreate, "") {
		return
	}
	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "name is required")
		return
	}
	enabled := true
	if req.APIKeysEnabled != nil {
		enabled = *req.APIKeysEnabled
	}
	project := &auth.Project{
		ID:             ids.New(),
		Name:           req.Name,
		APIKeysEnabled: enabled,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.store.Projects().Create(r.Context(), project); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "project.create", map[string]any{"project_id": project.ID})
	writeData(w, r, http.StatusCreated, project)
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.requirePermission(w, r, auth.ResourceProjects, auth.ActionRead, id) {
		return
	}
	project, err := a.store.Projects().Find(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, project)
}
