package staticauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/shared/errors"
)

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestValidateCredentials(t *testing.T) {
	v := NewValidator(config.StaticAuthConfig{
		Users: []config.StaticUser{
			{
				Username:     "alice",
				PasswordHash: hash(t, "hunter2"),
				Permissions:  []string{"group!staff"},
			},
		},
	})

	identity, err := v.ValidateCredentials(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.UserID)
	assert.Equal(t, []string{"group!staff"}, identity.Permissions)

	_, err = v.ValidateCredentials(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAuthFailed, errors.CodeOf(err))

	_, err = v.ValidateCredentials(context.Background(), "nobody", "hunter2")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAuthFailed, errors.CodeOf(err))
}

func TestDecoyHashIsWellFormed(t *testing.T) {
	// The unknown-user comparison only costs the same as a real one when
	// the decoy parses as a bcrypt hash and runs the key schedule.
	err := bcrypt.CompareHashAndPassword([]byte(decoyHash), []byte("anything"))
	assert.ErrorIs(t, err, bcrypt.ErrMismatchedHashAndPassword)
}

func TestPermissionsAreCopied(t *testing.T) {
	perms := []string{"group!staff"}
	v := NewValidator(config.StaticAuthConfig{
		Users: []config.StaticUser{
			{Username: "alice", PasswordHash: hash(t, "pw"), Permissions: perms},
		},
	})

	identity, err := v.ValidateCredentials(context.Background(), "alice", "pw")
	require.NoError(t, err)

	identity.Permissions[0] = "mutated"
	again, err := v.ValidateCredentials(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, []string{"group!staff"}, again.Permissions)
}
