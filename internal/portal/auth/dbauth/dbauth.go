// Package dbauth validates credentials against the portal's own local
// credential table, with bcrypt password hashes.
package dbauth

import (
	"context"
	"database/sql"

	"github.com/altivon/vpn-portal/internal/portal/auth"
	"github.com/altivon/vpn-portal/internal/portal/db"
	"github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/altivon/vpn-portal/internal/shared/logger"
	"golang.org/x/crypto/bcrypt"
)

// Validator validates against the local_users table.
type Validator struct {
	store  db.Store
	logger *logger.Logger
}

// NewValidator creates a local-database credential validator.
func NewValidator(store db.Store, log *logger.Logger) *Validator {
	if log == nil {
		log = logger.NewDevelopment("dbauth")
	}
	return &Validator{
		store:  store,
		logger: log,
	}
}

// ValidateCredentials compares the secret against the stored bcrypt hash.
// Unknown users and backend errors are indistinguishable from a wrong
// password for the caller.
func (v *Validator) ValidateCredentials(ctx context.Context, username, secret string) (*auth.Identity, error) {
	localUser, err := v.store.LocalUserGet(ctx, username)
	if err != nil {
		if err != sql.ErrNoRows {
			v.logger.WarnContext(ctx, "local user lookup failed", "error", err)
		}
		return nil, invalidCredentials(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(localUser.PasswordHash), []byte(secret)); err != nil {
		return nil, invalidCredentials(err)
	}

	// Permissions, if any, come from the account row; a user that never
	// logged in before has none yet.
	permissions, err := v.store.UserPermissionList(ctx, username)
	if err != nil {
		if err != sql.ErrNoRows {
			v.logger.WarnContext(ctx, "permission lookup failed", "error", err)
		}
		permissions = nil
	}

	return &auth.Identity{
		UserID:      username,
		Permissions: permissions,
	}, nil
}

func invalidCredentials(cause error) error {
	return errors.NewAuthError(errors.ErrCodeAuthFailed, "invalid credentials", cause)
}

// SetPassword stores a bcrypt hash for the given username, replacing any
// existing entry. Used by the admin CLI.
func (v *Validator) SetPassword(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.NewBaseError("auth", errors.ErrCodeInternal, "failed to hash password", err, nil)
	}

	_ = v.store.LocalUserDelete(ctx, username)
	if err := v.store.LocalUserAdd(ctx, username, string(hash)); err != nil {
		return errors.NewDatabaseError("failed to store credentials", err)
	}
	return nil
}
