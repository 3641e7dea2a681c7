package connection

import (
	"fmt"
	"strings"

	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/shared/errors"
)

// negotiateProtocol resolves the protocol for a new connection. The
// viable set is the intersection of caller-accepted protocols (caller
// order preserved) and the profile's protocol list. The profile's
// preferred protocol wins when the caller accepts it; a caller that
// restricts to one protocol gets that protocol or nothing.
func negotiateProtocol(profile *config.ProfileConfig, accepted []string) (string, error) {
	if len(accepted) == 0 {
		accepted = profile.Protocols
	}

	var viable []string
	for _, proto := range accepted {
		proto = strings.ToLower(strings.TrimSpace(proto))
		if profile.SupportsProtocol(proto) && !contains(viable, proto) {
			viable = append(viable, proto)
		}
	}

	if len(viable) == 0 {
		return "", errors.NewConnectionError(
			errors.ErrCodeProtocolNegotiation,
			fmt.Sprintf("no common protocol between client and profile %q", profile.ProfileID),
			nil,
		)
	}

	if profile.PreferredProto != "" && contains(viable, profile.PreferredProto) {
		return profile.PreferredProto, nil
	}
	return viable[0], nil
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
