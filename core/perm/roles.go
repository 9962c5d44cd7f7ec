package perm

import "fmt"

// Role is the closed set of account classifications. Every boundary that
// accepts a role value validates against this set.
type Role string

const (
	RoleSysadmin  Role = "sysadmin"
	RoleAdmin     Role = "admin"
	RoleOperator  Role = "operator"
	RolePentester Role = "pentester"
	RoleReadOnly  Role = "readonly"
)

// Roles lists every valid role value.
var Roles = []Role{RoleSysadmin, RoleAdmin, RoleOperator, RolePentester, RoleReadOnly}

// ParseRole validates a role string received at an API boundary.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

var (
	pentesterDefault = fromKeys(
		PermModulesView, PermModulesRun,
		PermJobsView,
		PermTargetView, PermTargetSet,
		PermStatusView,
		PermSettingsView,
	)

	operatorDefault = fromKeys(
		PermModulesView, PermModulesRun,
		PermJobsView, PermJobsKill,
		PermTargetView, PermTargetSet,
		PermStatusView,
		PermSettingsView,
	)

	adminDefault = fromKeys(
		PermModulesView, PermModulesRun,
		PermJobsView, PermJobsKill,
		PermTargetView, PermTargetSet,
		PermStatusView,
		PermUsersManage,
		PermSettingsView,
	)

	readOnlyDefault = fromKeys(
		PermModulesView,
		PermJobsView,
		PermTargetView,
		PermStatusView,
		PermSettingsView,
	)
)

// FullDocument grants every canonical permission. Sysadmins resolve to it
// unconditionally.
func FullDocument() Document {
	return fromKeys(CanonicalPermissions...)
}

// FallbackDocument is the global default used when nothing more specific
// applies. It equals the pentester defaults.
func FallbackDocument() Document {
	return pentesterDefault.Clone()
}

// DefaultDocument returns the built-in document for a role, or ok=false
// when the role has no built-in table.
func DefaultDocument(r Role) (Document, bool) {
	switch r {
	case RoleSysadmin:
		return FullDocument(), true
	case RoleAdmin:
		return adminDefault.Clone(), true
	case RoleOperator:
		return operatorDefault.Clone(), true
	case RolePentester:
		return pentesterDefault.Clone(), true
	case RoleReadOnly:
		return readOnlyDefault.Clone(), true
	}
	return nil, false
}
