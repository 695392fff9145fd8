package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of platform administrator roles.
type Role string

const (
	RoleMasterAdmin  Role = "master_admin"
	RoleAdmin        Role = "admin"
	RoleProjectAdmin Role = "project_admin"
	RoleLimitedAdmin Role = "limited_admin"
)

// ParseRole maps a stored string onto the closed Role set. Unknown values
// fail so a bad row can never widen a caller's privileges.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleMasterAdmin:
		return RoleMasterAdmin, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleProjectAdmin:
		return RoleProjectAdmin, nil
	case RoleLimitedAdmin:
		return RoleLimitedAdmin, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
}

func (r Role) String() string { return string(r) }

// ProjectBound reports whether the role's resource scope is limited to the
// projects the admin is bound to.
func (r Role) ProjectBound() bool {
	switch r {
	case RoleProjectAdmin, RoleLimitedAdmin:
		return true
	case RoleMasterAdmin, RoleAdmin:
		return false
	default:
		return true
	}
}

// AccessLevel is the closed set of permission tiers modifying a role.
type AccessLevel string

const (
	AccessFull         AccessLevel = "full"
	AccessProjectsOnly AccessLevel = "projects_only"
	AccessReadOnly     AccessLevel = "read_only"
	AccessCustom       AccessLevel = "custom"
)

// ParseAccessLevel maps a stored string onto the closed AccessLevel set.
func ParseAccessLevel(raw string) (AccessLevel, error) {
	switch AccessLevel(strings.TrimSpace(strings.ToLower(raw))) {
	case AccessFull:
		return AccessFull, nil
	case AccessProjectsOnly:
		return AccessProjectsOnly, nil
	case AccessReadOnly:
		return AccessReadOnly, nil
	case AccessCustom:
		return AccessCustom, nil
	default:
		return "", fmt.Errorf("%w: unknown access level %q", ErrInvalidInput, raw)
	}
}

func (l AccessLevel) String() string { return string(l) }

// PermissionSet maps permission keys ("resource.action") to an explicit
// grant. Present only for AccessCustom admins and for API keys.
type PermissionSet map[string]bool

// Allows reports whether the key is present and explicitly true.
func (p PermissionSet) Allows(key string) bool {
	return p[key]
}

// Clone returns an independent copy so claim snapshots cannot alias live
// credential-store state.
func (p PermissionSet) Clone() PermissionSet {
	if p == nil {
		return nil
	}
	out := make(PermissionSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// NormalizePermissions accepts the loose inputs the management API allows
// (a single string or a list) and returns a deduplicated key list.
func NormalizePermissions(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
