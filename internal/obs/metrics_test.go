package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                      "/",
		"/metrics":                              "/metrics",
		"/auth/admin/session":                   "/auth/admin/session",
		"/auth/project/01J3ZK9/session":         "/auth/project/:id/session",
		"/admin/auth/sessions":                  "/admin/auth/sessions",
		"/admin/auth/sessions/01J3ZKA":          "/admin/auth/sessions/:id",
		"/admin/api/keys/01J3ZKB":               "/admin/api/keys/:id",
		"/admin/api/keys/01J3ZKB/toggle":        "/admin/api/keys/:id/toggle",
		"/admin/users/01J3ZKC":                  "/admin/users/:id",
		"/admin/users/01J3ZKC/toggle":           "/admin/users/:id/toggle",
		"/admin/projects/01J3ZKD":               "/admin/projects/:id",
		"/admin/auth/login-logs?page=2&limit=5": "/admin/auth/login-logs",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
