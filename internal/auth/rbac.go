package auth

import "fmt"

// Resource is the closed set of protected resource kinds.
type Resource string

const (
	ResourceAdmins    Resource = "admins"
	ResourceProjects  Resource = "projects"
	ResourceAPIKeys   Resource = "api_keys"
	ResourceSessions  Resource = "sessions"
	ResourceLoginLogs Resource = "login_logs"
	ResourceDocuments Resource = "documents"
	ResourceFiles     Resource = "files"
)

// Action is the closed set of operations on a resource.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// PermissionKey is the "resource.action" form consulted by custom
// permission sets and API key permission lists.
func PermissionKey(res Resource, act Action) string {
	return fmt.Sprintf("%s.%s", res, act)
}

// projectScoped reports whether a resource belongs to the per-project
// surface (as opposed to platform administration).
func projectScoped(res Resource) bool {
	switch res {
	case ResourceProjects, ResourceAPIKeys, ResourceDocuments, ResourceFiles:
		return true
	case ResourceAdmins, ResourceSessions, ResourceLoginLogs:
		return false
	default:
		// Unknown resources are treated as platform-scoped so only
		// master_admin can ever reach them.
		return false
	}
}

// Decide is the single authorization entry point: given verified claims, a
// requested (resource, action) pair, and the project the target belongs to
// (empty for platform-level targets), it returns nil to allow or
// ErrForbidden to deny. Anything not explicitly allowed is denied.
func Decide(c *Claims, res Resource, act Action, targetProject string) error {
	if c == nil {
		return ErrForbidden
	}

	switch c.SubjectKind {
	case OwnerProject:
		return decideProject(c, res, act, targetProject)
	case OwnerAdmin:
		return decideAdmin(c, res, act, targetProject)
	default:
		return ErrForbidden
	}
}

// decideProject gates project-session subjects: they only ever see their own
// project's resources, through the permission snapshot taken at issuance.
func decideProject(c *Claims, res Resource, act Action, targetProject string) error {
	if !projectScoped(res) {
		return ErrForbidden
	}
	if targetProject == "" || targetProject != c.ProjectID {
		return ErrForbidden
	}
	if !c.Permissions.Allows(PermissionKey(res, act)) {
		return ErrForbidden
	}
	return nil
}

func decideAdmin(c *Claims, res Resource, act Action, targetProject string) error {
	// master_admin implies access_level full; unconditional allow.
	if c.Role == RoleMasterAdmin {
		return nil
	}

	// Project-bound roles never cross project lines, whatever the level says.
	if c.Role.ProjectBound() {
		if !projectScoped(res) {
			return ErrForbidden
		}
		if targetProject == "" || !boundTo(c, targetProject) {
			return ErrForbidden
		}
	}

	switch c.AccessLevel {
	case AccessFull:
		return nil
	case AccessProjectsOnly:
		if !projectScoped(res) {
			return ErrForbidden
		}
		return nil
	case AccessReadOnly:
		if act != ActionRead {
			return ErrForbidden
		}
		return nil
	case AccessCustom:
		if !c.Permissions.Allows(PermissionKey(res, act)) {
			return ErrForbidden
		}
		return nil
	default:
		return ErrForbidden
	}
}

func boundTo(c *Claims, projectID string) bool {
	for _, id := range c.ProjectIDs {
		if id == projectID {
			return true
		}
	}
	return false
}
