package perm

import (
	"encoding/json"
	"testing"
)

func TestResolveSysadminAlwaysFull(t *testing.T) {
	override := []byte(`{"modules":{"view":false}}`)
	tmpl := fromKeys(PermStatusView)

	doc := Resolve(Subject{Role: RoleSysadmin, OverrideJSON: override, Template: tmpl})
	for _, key := range CanonicalPermissions {
		if !doc.AllowedKey(key) {
			t.Fatalf("sysadmin missing %s", key)
		}
	}
}

func TestResolveOverrideWinsForNonSysadmin(t *testing.T) {
	override := []byte(`{"jobs":{"view":true,"kill":true}}`)
	tmpl := fromKeys(PermModulesView)

	doc := Resolve(Subject{Role: RolePentester, OverrideJSON: override, Template: tmpl})
	if !doc.Allowed("jobs", "kill") {
		t.Fatal("override did not grant jobs.kill")
	}
	if doc.Allowed("modules", "view") {
		t.Fatal("override should fully replace template and role defaults")
	}
}

func TestResolveMalformedOverrideFallsThrough(t *testing.T) {
	for _, raw := range []string{`not json`, `[1,2]`, `{"jobs":"all"}`, `{"jobs":{"kill":"yes"}}`} {
		doc := Resolve(Subject{Role: RolePentester, OverrideJSON: []byte(raw)})
		want, _ := DefaultDocument(RolePentester)
		if !documentsEqual(doc, want) {
			t.Fatalf("override %q did not fall through to role defaults", raw)
		}
	}
}

func TestResolveTemplateBeatsRoleDefault(t *testing.T) {
	tmpl := fromKeys(PermStatusView)
	doc := Resolve(Subject{Role: RoleOperator, Template: tmpl})
	if doc.Allowed("jobs", "kill") {
		t.Fatal("template should replace the operator defaults")
	}
	if !doc.Allowed("status", "view") {
		t.Fatal("template grant missing")
	}
}

func TestResolveTemplateDeletionFallsToRoleDefault(t *testing.T) {
	doc := Resolve(Subject{Role: RoleReadOnly, Template: nil})
	want, _ := DefaultDocument(RoleReadOnly)
	if !documentsEqual(doc, want) {
		t.Fatal("missing template should resolve to role defaults")
	}
}

func TestResolveUnknownRoleUsesFallback(t *testing.T) {
	doc := Resolve(Subject{Role: Role("ghost")})
	if !documentsEqual(doc, FallbackDocument()) {
		t.Fatal("unknown role should resolve to the global fallback")
	}
	if doc.Allowed("users", "manage") {
		t.Fatal("fallback must not grant users.manage")
	}
}

func TestResolveIdempotent(t *testing.T) {
	sub := Subject{Role: RoleAdmin, OverrideJSON: []byte(`{"target":{"set":true}}`)}
	a, _ := json.Marshal(Resolve(sub))
	b, _ := json.Marshal(Resolve(sub))
	if string(a) != string(b) {
		t.Fatalf("resolver not idempotent: %s vs %s", a, b)
	}
}

func TestResolveResultIsIsolated(t *testing.T) {
	first := Resolve(Subject{Role: RolePentester})
	first["modules"]["run"] = false
	second := Resolve(Subject{Role: RolePentester})
	if !second.Allowed("modules", "run") {
		t.Fatal("mutating a resolved document leaked into built-in defaults")
	}
}

func TestDocumentAllowedMissingKeys(t *testing.T) {
	var nilDoc Document
	if nilDoc.Allowed("jobs", "view") {
		t.Fatal("nil document must deny")
	}
	doc := fromKeys(PermJobsView)
	if doc.Allowed("jobs", "kill") {
		t.Fatal("missing action must deny")
	}
	if doc.Allowed("modules", "view") {
		t.Fatal("missing panel must deny")
	}
	if doc.AllowedKey("jobs") {
		t.Fatal("malformed key must deny")
	}
}

func TestParseKey(t *testing.T) {
	panel, action, ok := ParseKey("jobs.kill")
	if !ok || panel != "jobs" || action != "kill" {
		t.Fatalf("unexpected parse: %q %q %v", panel, action, ok)
	}
	for _, bad := range []string{"", "jobs", ".view", "jobs."} {
		if _, _, ok := ParseKey(bad); ok {
			t.Fatalf("key %q should not parse", bad)
		}
	}
}

func TestRoleDefaults(t *testing.T) {
	cases := []struct {
		role Role
		key  string
		want bool
	}{
		{RolePentester, PermJobsKill, false},
		{RolePentester, PermModulesRun, true},
		{RoleOperator, PermJobsKill, true},
		{RoleOperator, PermUsersManage, false},
		{RoleAdmin, PermUsersManage, true},
		{RoleAdmin, PermACLManage, false},
		{RoleReadOnly, PermModulesRun, false},
		{RoleReadOnly, PermJobsView, true},
	}
	for _, c := range cases {
		doc, ok := DefaultDocument(c.role)
		if !ok {
			t.Fatalf("role %s has no default", c.role)
		}
		if got := doc.AllowedKey(c.key); got != c.want {
			t.Fatalf("%s %s: got %v want %v", c.role, c.key, got, c.want)
		}
	}
}

func TestParseRole(t *testing.T) {
	if _, err := ParseRole("operator"); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseRole("root"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func documentsEqual(a, b Document) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}
