package obs

import "strings"

// CanonicalPath collapses resource identifiers in known routes so metric
// labels stay low-cardinality.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "auth" && parts[1] == "project" && parts[3] == "session":
		return "/auth/project/:id/session"
	case len(parts) == 4 && parts[0] == "admin" && parts[1] == "auth" && parts[2] == "sessions":
		return "/admin/auth/sessions/:id"
	case len(parts) == 4 && parts[0] == "admin" && parts[1] == "api" && parts[2] == "keys":
		return "/admin/api/keys/:id"
	case len(parts) == 5 && parts[0] == "admin" && parts[1] == "api" && parts[2] == "keys" && parts[4] == "toggle":
		return "/admin/api/keys/:id/toggle"
	case len(parts) == 3 && parts[0] == "admin" && parts[1] == "users":
		return "/admin/users/:id"
	case len(parts) == 4 && parts[0] == "admin" && parts[1] == "users" && parts[3] == "toggle":
		return "/admin/users/:id/toggle"
	case len(parts) == 3 && parts[0] == "admin" && parts[1] == "projects":
		return "/admin/projects/:id"
	}
	return path
}
