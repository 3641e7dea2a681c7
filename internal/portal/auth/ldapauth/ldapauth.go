// Package ldapauth validates credentials against an LDAP directory. Two
// modes exist: plain attribute mapping, and Active Directory chained
// group membership (see adgroup.go).
package ldapauth

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/altivon/vpn-portal/internal/portal/auth"
	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/altivon/vpn-portal/internal/shared/logger"
	"github.com/go-ldap/ldap/v3"
)

// Conn is the subset of *ldap.Conn the validators use; it exists so tests
// can substitute a fake directory.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	StartTLS(cfg *tls.Config) error
	Close() error
}

// DialFunc opens a directory connection.
type DialFunc func(url string) (Conn, error)

func defaultDial(url string) (Conn, error) {
	return ldap.DialURL(url)
}

// Validator is the plain LDAP credential validator: bind as the user,
// read the entry, map configured attributes into permission strings.
type Validator struct {
	cfg    config.LDAPAuthConfig
	dial   DialFunc
	logger *logger.Logger
}

// NewValidator creates an LDAP credential validator.
func NewValidator(cfg config.LDAPAuthConfig, log *logger.Logger) *Validator {
	if log == nil {
		log = logger.NewDevelopment("ldapauth")
	}
	return &Validator{
		cfg:    cfg,
		dial:   defaultDial,
		logger: log,
	}
}

// ValidateCredentials binds as the user and maps entry attributes into
// "attribute!value" permissions.
func (v *Validator) ValidateCredentials(ctx context.Context, username, secret string) (*auth.Identity, error) {
	conn, userDN, err := v.connectAndBind(ctx, username, secret)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	permissions, err := v.permissionsFor(ctx, conn, userDN)
	if err != nil {
		return nil, err
	}

	return &auth.Identity{
		UserID:      username,
		Permissions: permissions,
	}, nil
}

// connectAndBind dials the directory and authenticates the user, either by
// templated DN bind or by search-then-bind. Every failure collapses to the
// generic invalid-credentials error; detail stays in the warning log.
func (v *Validator) connectAndBind(ctx context.Context, username, secret string) (Conn, string, error) {
	// An empty secret would turn the bind into an anonymous bind, which
	// some directories report as success.
	if secret == "" {
		return nil, "", invalidCredentials(nil)
	}

	conn, err := v.dial(v.cfg.URL)
	if err != nil {
		v.logger.WarnContext(ctx, "ldap dial failed", "error", err)
		return nil, "", invalidCredentials(err)
	}

	if v.cfg.StartTLS {
		if err := conn.StartTLS(&tls.Config{}); err != nil {
			conn.Close()
			v.logger.WarnContext(ctx, "ldap starttls failed", "error", err)
			return nil, "", invalidCredentials(err)
		}
	}

	userDN := ""
	if v.cfg.BindDNTemplate != "" {
		userDN = strings.ReplaceAll(v.cfg.BindDNTemplate, "{{username}}", ldap.EscapeDN(username))
	} else {
		// Search-then-bind with the service account.
		if err := conn.Bind(v.cfg.SearchBindDN, v.cfg.SearchBindPass); err != nil {
			conn.Close()
			v.logger.WarnContext(ctx, "ldap service bind failed", "error", err)
			return nil, "", invalidCredentials(err)
		}
		userDN, err = v.resolveUserDN(conn, username)
		if err != nil {
			conn.Close()
			v.logger.WarnContext(ctx, "ldap user search failed", "error", err)
			return nil, "", invalidCredentials(err)
		}
	}

	if err := conn.Bind(userDN, secret); err != nil {
		conn.Close()
		return nil, "", invalidCredentials(err)
	}

	return conn, userDN, nil
}

func (v *Validator) resolveUserDN(conn Conn, username string) (string, error) {
	filter := strings.ReplaceAll(v.cfg.UserFilter, "{{username}}", ldap.EscapeFilter(username))
	result, err := conn.Search(ldap.NewSearchRequest(
		v.cfg.BaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		filter, []string{"dn"}, nil,
	))
	if err != nil {
		return "", err
	}
	if len(result.Entries) != 1 {
		return "", errors.NewAuthError(errors.ErrCodeAuthFailed, "invalid credentials", nil)
	}
	return result.Entries[0].DN, nil
}

// permissionsFor reads the user entry and maps the configured attributes.
func (v *Validator) permissionsFor(ctx context.Context, conn Conn, userDN string) ([]string, error) {
	if len(v.cfg.PermissionAttributes) == 0 {
		return nil, nil
	}

	result, err := conn.Search(ldap.NewSearchRequest(
		userDN, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, 0, false,
		"(objectClass=*)", v.cfg.PermissionAttributes, nil,
	))
	if err != nil {
		v.logger.WarnContext(ctx, "ldap attribute search failed", "error", err)
		return nil, invalidCredentials(err)
	}
	if len(result.Entries) != 1 {
		return nil, nil
	}

	var permissions []string
	for _, attribute := range v.cfg.PermissionAttributes {
		for _, value := range result.Entries[0].GetAttributeValues(attribute) {
			permissions = append(permissions, auth.FormatPermission(attribute, value))
		}
	}

	return permissions, nil
}

func invalidCredentials(cause error) error {
	return errors.NewAuthError(errors.ErrCodeAuthFailed, "invalid credentials", cause)
}
