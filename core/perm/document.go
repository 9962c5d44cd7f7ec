package perm

import (
	"encoding/json"
	"strings"
)

// Actions maps an action name to whether it is granted.
type Actions map[string]bool

// Document maps a panel name to the actions granted on it. A missing panel
// or action means the permission is denied, never an error.
type Document map[string]Actions

// Canonical permission keys in "panel.action" form.
const (
	PermModulesView  = "modules.view"
	PermModulesRun   = "modules.run"
	PermJobsView     = "jobs.view"
	PermJobsKill     = "jobs.kill"
	PermTargetView   = "target.view"
	PermTargetSet    = "target.set"
	PermStatusView   = "status.view"
	PermUsersManage  = "users.manage"
	PermACLManage    = "acl.manage"
	PermSettingsView = "settings.view"
)

// CanonicalPermissions lists every permission key the console defines.
var CanonicalPermissions = []string{
	PermModulesView,
	PermModulesRun,
	PermJobsView,
	PermJobsKill,
	PermTargetView,
	PermTargetSet,
	PermStatusView,
	PermUsersManage,
	PermACLManage,
	PermSettingsView,
}

// ParseKey splits a dotted "panel.action" key. It returns ok=false for
// keys without exactly one panel and one action part.
func ParseKey(key string) (panel, action string, ok bool) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Allowed reports whether the document grants the given panel/action pair.
// It is total: missing panels and actions deny.
func (d Document) Allowed(panel, action string) bool {
	if d == nil {
		return false
	}
	actions, ok := d[panel]
	if !ok {
		return false
	}
	return actions[action]
}

// AllowedKey checks a dotted "panel.action" key. Malformed keys deny.
func (d Document) AllowedKey(key string) bool {
	panel, action, ok := ParseKey(key)
	if !ok {
		return false
	}
	return d.Allowed(panel, action)
}

// Clone returns a deep copy so callers can mutate the result without
// touching shared built-in defaults.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for panel, actions := range d {
		cp := make(Actions, len(actions))
		for action, v := range actions {
			cp[action] = v
		}
		out[panel] = cp
	}
	return out
}

// ParseDocument decodes a raw JSON permission document. Any input that is
// not a JSON object of panel -> action -> bool is rejected.
func ParseDocument(raw []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	if d == nil {
		d = Document{}
	}
	return d, nil
}

// fromKeys builds a document granting exactly the given dotted keys.
func fromKeys(keys ...string) Document {
	d := Document{}
	for _, key := range keys {
		panel, action, ok := ParseKey(key)
		if !ok {
			continue
		}
		if d[panel] == nil {
			d[panel] = Actions{}
		}
		d[panel][action] = true
	}
	return d
}
