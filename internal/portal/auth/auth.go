// Package auth defines the credential validation contract shared by all
// identity backends. Backends never share code beyond this contract; each
// performs its own I/O and maps provider-specific attributes into opaque
// permission strings so downstream ACL logic stays provider-agnostic.
package auth

import (
	"context"
)

// Identity is an authenticated user: a provider-defined opaque user ID
// plus the permission set derived from provider attributes.
type Identity struct {
	UserID      string
	Permissions []string
}

// Validator validates a username/secret pair against one identity backend.
// On any I/O or protocol error implementations fail closed: the returned
// error always carries the auth_failed code and a generic message, backend
// detail is logged at warning level only. This prevents account
// enumeration and backend-error leakage.
type Validator interface {
	ValidateCredentials(ctx context.Context, username, secret string) (*Identity, error)
}

// FormatPermission renders a provider attribute/value pair in the
// canonical "attributeName!attributeValue" permission format.
func FormatPermission(attribute, value string) string {
	return attribute + "!" + value
}
