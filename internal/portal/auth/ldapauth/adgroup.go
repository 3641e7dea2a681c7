package ldapauth

import (
	"context"
	"fmt"

	"github.com/altivon/vpn-portal/internal/portal/auth"
	"github.com/altivon/vpn-portal/internal/shared/logger"
	"github.com/go-ldap/ldap/v3"
)

// matchingRuleInChain is the Active Directory extensible-match OID for
// transitive (nested) group membership.
const matchingRuleInChain = "1.2.840.113556.1.4.1941"

// ADGroupValidator authenticates like the plain validator and then runs
// one chained membership query per configured group. Zero matching groups
// is an authentication failure, not an empty permission set: an account
// outside every configured group is treated as if it had presented bad
// credentials.
type ADGroupValidator struct {
	*Validator
}

// NewADGroup creates the AD-group credential validator on top of a plain
// validator; the configured ad_permission_groups become the permission
// candidates.
func NewADGroup(inner *Validator, log *logger.Logger) *ADGroupValidator {
	if log != nil {
		inner.logger = log
	}
	return &ADGroupValidator{Validator: inner}
}

// ValidateCredentials binds as the user, then requires transitive
// membership in at least one configured group.
func (v *ADGroupValidator) ValidateCredentials(ctx context.Context, username, secret string) (*auth.Identity, error) {
	conn, userDN, err := v.connectAndBind(ctx, username, secret)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var permissions []string
	for _, groupDN := range v.cfg.ADPermissionGroups {
		member, err := v.isChainMember(ctx, conn, userDN, groupDN)
		if err != nil {
			return nil, err
		}
		if member {
			permissions = append(permissions, auth.FormatPermission("memberOf", groupDN))
		}
	}

	if len(permissions) == 0 {
		return nil, invalidCredentials(nil)
	}

	return &auth.Identity{
		UserID:      username,
		Permissions: permissions,
	}, nil
}

func (v *ADGroupValidator) isChainMember(ctx context.Context, conn Conn, userDN, groupDN string) (bool, error) {
	filter := fmt.Sprintf("(memberOf:%s:=%s)", matchingRuleInChain, ldap.EscapeFilter(groupDN))
	result, err := conn.Search(ldap.NewSearchRequest(
		userDN, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, 0, false,
		filter, []string{"dn"}, nil,
	))
	if err != nil {
		v.logger.WarnContext(ctx, "ldap chain membership query failed", "error", err)
		return false, invalidCredentials(err)
	}
	return len(result.Entries) > 0, nil
}
