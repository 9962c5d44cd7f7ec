package store

import (
	"encoding/json"
	"time"
)

// User is a console account as stored. PermsJSON is the optional custom
// permission override document; TOTPSecret is stored encrypted.
type User struct {
	ID                    int64
	Username              string
	Email                 string
	PasswordHash          string
	Salt                  string
	Role                  string
	ACLTemplateID         *int64
	PermsJSON             json.RawMessage
	TOTPSecret            string
	TOTPEnabled           bool
	RequirePasswordChange bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ACLTemplate is a named, reusable permission document.
type ACLTemplate struct {
	ID        int64
	Name      string
	Document  json.RawMessage
	CreatedAt time.Time
}

// AuditEntry records one administrative or authentication event.
type AuditEntry struct {
	ID        int64
	Actor     string
	Action    string
	Detail    string
	ClientIP  string
	CreatedAt time.Time
}
