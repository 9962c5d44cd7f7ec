package handlers

import (
	"context"

	"talon-console/core/perm"
	"talon-console/core/store"
)

// Resolver computes a user's effective permission document from the current
// stored record. It is called on every request so role, template and
// override edits take effect without re-login.
type Resolver struct {
	templates store.TemplatesStore
}

func NewResolver(templates store.TemplatesStore) *Resolver {
	return &Resolver{templates: templates}
}

func (r *Resolver) Resolve(ctx context.Context, u *store.User) perm.Document {
	var tmpl perm.Document
	if u.ACLTemplateID != nil {
		if t, err := r.templates.Get(ctx, *u.ACLTemplateID); err == nil {
			if doc, err := perm.ParseDocument(t.Document); err == nil {
				tmpl = doc
			}
		}
	}
	return perm.Resolve(perm.Subject{
		Role:         perm.Role(u.Role),
		OverrideJSON: u.PermsJSON,
		Template:     tmpl,
	})
}
