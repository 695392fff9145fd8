package auth

import "testing"

func adminClaims(role Role, level AccessLevel, projects ...string) *Claims {
	return &Claims{
		SubjectID:   "admin-1",
		SubjectKind: OwnerAdmin,
		Role:        role,
		AccessLevel: level,
		ProjectIDs:  projects,
	}
}

func TestDecideMasterAdminAllowsEverything(t *testing.T) {
	c := adminClaims(RoleMasterAdmin, AccessFull)
	resources := []Resource{ResourceAdmins, ResourceProjects, ResourceAPIKeys, ResourceSessions, ResourceLoginLogs, ResourceDocuments, ResourceFiles}
	actions := []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete}
	for _, res := range resources {
		for _, act := range actions {
			if err := Decide(c, res, act, "proj-1"); err != nil {
				t.Fatalf("master_admin denied %s.%s: %v", res, act, err)
			}
			if err := Decide(c, res, act, ""); err != nil {
				t.Fatalf("master_admin denied platform %s.%s: %v", res, act, err)
			}
		}
	}
}

func TestDecideAccessLevels(t *testing.T) {
	cases := []struct {
		name    string
		claims  *Claims
		res     Resource
		act     Action
		project string
		allow   bool
	}{
		{"full admin platform write", adminClaims(RoleAdmin, AccessFull), ResourceAdmins, ActionCreate, "", true},
		{"projects_only denies platform", adminClaims(RoleAdmin, AccessProjectsOnly), ResourceAdmins, ActionRead, "", false},
		{"projects_only allows project resource", adminClaims(RoleAdmin, AccessProjectsOnly), ResourceDocuments, ActionCreate, "proj-1", true},
		{"read_only allows read", adminClaims(RoleAdmin, AccessReadOnly), ResourceProjects, ActionRead, "proj-1", true},
		{"read_only denies write", adminClaims(RoleAdmin, AccessReadOnly), ResourceProjects, ActionUpdate, "proj-1", false},
		{"read_only denies delete", adminClaims(RoleAdmin, AccessReadOnly), ResourceSessions, ActionDelete, "", false},
		{"custom allows granted key", withPerms(adminClaims(RoleAdmin, AccessCustom), "documents.read"), ResourceDocuments, ActionRead, "proj-1", true},
		{"custom denies ungranted key", withPerms(adminClaims(RoleAdmin, AccessCustom), "documents.read"), ResourceDocuments, ActionDelete, "proj-1", false},
		{"custom empty set denies all", adminClaims(RoleAdmin, AccessCustom), ResourceDocuments, ActionRead, "proj-1", false},
		{"custom explicit false denies", withPermsValue(adminClaims(RoleAdmin, AccessCustom), "documents.read", false), ResourceDocuments, ActionRead, "proj-1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Decide(tc.claims, tc.res, tc.act, tc.project)
			if tc.allow && err != nil {
				t.Fatalf("expected allow, got %v", err)
			}
			if !tc.allow && err == nil {
				t.Fatalf("expected deny, got allow")
			}
		})
	}
}

func withPerms(c *Claims, keys ...string) *Claims {
	c.Permissions = make(PermissionSet, len(keys))
	for _, k := range keys {
		c.Permissions[k] = true
	}
	return c
}

func withPermsValue(c *Claims, key string, v bool) *Claims {
	c.Permissions = PermissionSet{key: v}
	return c
}

func TestDecideProjectBoundRoles(t *testing.T) {
	c := adminClaims(RoleProjectAdmin, AccessFull, "proj-1", "proj-2")

	if err := Decide(c, ResourceDocuments, ActionDelete, "proj-1"); err != nil {
		t.Fatalf("bound project denied: %v", err)
	}
	if err := Decide(c, ResourceDocuments, ActionRead, "proj-3"); err == nil {
		t.Fatal("unbound project allowed")
	}
	if err := Decide(c, ResourceAdmins, ActionRead, ""); err == nil {
		t.Fatal("platform resource allowed for project-bound role")
	}
	if err := Decide(c, ResourceDocuments, ActionRead, ""); err == nil {
		t.Fatal("empty target project allowed for project-bound role")
	}

	// A wider access level never widens the project scope.
	limited := adminClaims(RoleLimitedAdmin, AccessReadOnly, "proj-1")
	if err := Decide(limited, ResourceDocuments, ActionRead, "proj-2"); err == nil {
		t.Fatal("limited_admin crossed project lines")
	}
	if err := Decide(limited, ResourceDocuments, ActionUpdate, "proj-1"); err == nil {
		t.Fatal("read_only limited_admin allowed a write")
	}
	if err := Decide(limited, ResourceDocuments, ActionRead, "proj-1"); err != nil {
		t.Fatalf("limited_admin denied bound read: %v", err)
	}
}

func TestDecideProjectSubject(t *testing.T) {
	c := &Claims{
		SubjectID:   "proj-1",
		SubjectKind: OwnerProject,
		ProjectID:   "proj-1",
		Permissions: PermissionSet{"documents.read": true, "files.read": true},
	}

	if err := Decide(c, ResourceDocuments, ActionRead, "proj-1"); err != nil {
		t.Fatalf("granted permission denied: %v", err)
	}
	if err := Decide(c, ResourceDocuments, ActionCreate, "proj-1"); err == nil {
		t.Fatal("ungranted action allowed")
	}
	if err := Decide(c, ResourceDocuments, ActionRead, "proj-2"); err == nil {
		t.Fatal("foreign project allowed")
	}
	if err := Decide(c, ResourceAdmins, ActionRead, ""); err == nil {
		t.Fatal("platform resource allowed for project subject")
	}
}

func TestDecideFailsClosed(t *testing.T) {
	if err := Decide(nil, ResourceDocuments, ActionRead, "proj-1"); err == nil {
		t.Fatal("nil claims allowed")
	}
	unknownKind := &Claims{SubjectID: "x", SubjectKind: OwnerKind("service")}
	if err := Decide(unknownKind, ResourceDocuments, ActionRead, "proj-1"); err == nil {
		t.Fatal("unknown subject kind allowed")
	}
	unknownLevel := adminClaims(RoleAdmin, AccessLevel("elevated"))
	if err := Decide(unknownLevel, ResourceDocuments, ActionRead, "proj-1"); err == nil {
		t.Fatal("unknown access level allowed")
	}
}
