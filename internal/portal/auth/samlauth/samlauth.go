// Package samlauth maps SAML/Shibboleth gateway attributes into an
// identity. The portal never parses assertions itself; a fronting
// Shibboleth SP (or equivalent) has already validated them and passes the
// released attributes along, typically as request headers. Multi-valued
// attributes arrive joined with semicolons.
package samlauth

import (
	"strings"

	"github.com/altivon/vpn-portal/internal/portal/auth"
	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/shared/errors"
)

// Mapper turns released attributes into an Identity.
type Mapper struct {
	cfg config.SAMLAuthConfig
}

// NewMapper creates a SAML attribute mapper.
func NewMapper(cfg config.SAMLAuthConfig) *Mapper {
	return &Mapper{cfg: cfg}
}

// FromAttributes builds the identity from the released attribute map. A
// missing user ID attribute fails closed.
func (m *Mapper) FromAttributes(attributes map[string]string) (*auth.Identity, error) {
	userID, ok := attributes[m.cfg.UserIDAttribute]
	if !ok || userID == "" {
		return nil, errors.NewAuthError(errors.ErrCodeAuthFailed, "invalid credentials", nil)
	}

	var permissions []string
	for _, attribute := range m.cfg.PermissionAttributes {
		raw, ok := attributes[attribute]
		if !ok || raw == "" {
			continue
		}
		for _, value := range strings.Split(raw, ";") {
			if value == "" {
				continue
			}
			permissions = append(permissions, auth.FormatPermission(attribute, value))
		}
	}

	return &auth.Identity{
		UserID:      userID,
		Permissions: permissions,
	}, nil
}
