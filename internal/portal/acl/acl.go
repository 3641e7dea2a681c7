// Package acl implements the profile access-control evaluator. All
// functions are pure; permission strings are opaque capability values
// such as "group!admins".
package acl

import (
	"github.com/altivon/vpn-portal/internal/portal/config"
)

// IsMember reports whether userPermissions intersects requiredPermissions.
// A nil requiredPermissions means the ACL is disabled and everybody is a
// member; an empty (non-nil) list matches nobody.
func IsMember(requiredPermissions, userPermissions []string) bool {
	if requiredPermissions == nil {
		return true
	}

	for _, required := range requiredPermissions {
		for _, held := range userPermissions {
			if required == held {
				return true
			}
		}
	}

	return false
}

// FilterProfiles keeps the profiles the user may use: ACL disabled, or at
// least one matching permission.
func FilterProfiles(profiles []config.ProfileConfig, userPermissions []string) []config.ProfileConfig {
	filtered := make([]config.ProfileConfig, 0, len(profiles))
	for _, profile := range profiles {
		if !profile.ACLEnabled() {
			filtered = append(filtered, profile)
			continue
		}
		if IsMember(profile.ACLPermissionList, userPermissions) {
			filtered = append(filtered, profile)
		}
	}
	return filtered
}

// IsAllowedProfile reports whether profileID is in the filtered list. The
// filtered list already constrains UI choices; this defends against
// direct-request tampering.
func IsAllowedProfile(filtered []config.ProfileConfig, profileID string) bool {
	for _, profile := range filtered {
		if profile.ProfileID == profileID {
			return true
		}
	}
	return false
}
