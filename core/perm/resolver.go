package perm

// Subject carries the authorization inputs of one user record. OverrideJSON
// is the raw custom permission document as stored; Template is the document
// of the referenced ACL template, nil when no template applies.
type Subject struct {
	Role         Role
	OverrideJSON []byte
	Template     Document
}

// Resolve computes the effective permission document for a subject. It is
// pure and total: malformed inputs degrade to the next precedence level,
// never to an error.
//
// Precedence, highest first:
//  1. sysadmin role grants everything, regardless of override or template
//  2. a present, well-formed custom override is returned verbatim
//  3. the referenced ACL template's document
//  4. the role's built-in default table
//  5. the global fallback (pentester defaults)
func Resolve(s Subject) Document {
	if s.Role == RoleSysadmin {
		return FullDocument()
	}
	if len(s.OverrideJSON) > 0 {
		if doc, err := ParseDocument(s.OverrideJSON); err == nil {
			return doc
		}
	}
	if s.Template != nil {
		return s.Template.Clone()
	}
	if doc, ok := DefaultDocument(s.Role); ok {
		return doc
	}
	return FallbackDocument()
}
