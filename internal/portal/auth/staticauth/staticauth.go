// Package staticauth validates credentials against a user/hash table
// defined in static configuration.
package staticauth

import (
	"context"

	"github.com/altivon/vpn-portal/internal/portal/auth"
	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/shared/errors"
	"golang.org/x/crypto/bcrypt"
)

// decoyHash is a well-formed bcrypt hash of a throwaway password. It is
// compared against the supplied secret when the username is unknown, so
// the comparison actually runs the key schedule instead of bailing on a
// malformed hash.
const decoyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Validator validates against the in-config static user table.
type Validator struct {
	users map[string]config.StaticUser
}

// NewValidator creates a static-table credential validator.
func NewValidator(cfg config.StaticAuthConfig) *Validator {
	users := make(map[string]config.StaticUser, len(cfg.Users))
	for _, user := range cfg.Users {
		users[user.Username] = user
	}
	return &Validator{users: users}
}

// ValidateCredentials looks the username up and compares the bcrypt hash.
func (v *Validator) ValidateCredentials(_ context.Context, username, secret string) (*auth.Identity, error) {
	user, ok := v.users[username]
	if !ok {
		// Burn a comparison anyway so unknown users cost the same as a
		// wrong password.
		_ = bcrypt.CompareHashAndPassword([]byte(decoyHash), []byte(secret))
		return nil, errors.NewAuthError(errors.ErrCodeAuthFailed, "invalid credentials", nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(secret)); err != nil {
		return nil, errors.NewAuthError(errors.ErrCodeAuthFailed, "invalid credentials", err)
	}

	permissions := make([]string, len(user.Permissions))
	copy(permissions, user.Permissions)

	return &auth.Identity{
		UserID:      username,
		Permissions: permissions,
	}, nil
}
