package dbauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altivon/vpn-portal/internal/portal/db"
	"github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/altivon/vpn-portal/internal/shared/logger"
)

func newTestValidator(t *testing.T) (*Validator, db.Store) {
	t.Helper()
	_, store := db.NewTestDB(t)
	return NewValidator(store, logger.NewDevelopment("dbauth")), store
}

func TestValidateCredentials(t *testing.T) {
	ctx := context.Background()
	v, store := newTestValidator(t)
	db.SeedTestUser(t, store, "alice", []string{"group!staff"})
	require.NoError(t, v.SetPassword(ctx, "alice", "hunter2"))

	identity, err := v.ValidateCredentials(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.UserID)
	assert.Equal(t, []string{"group!staff"}, identity.Permissions)
}

func TestValidateCredentialsWrongPassword(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestValidator(t)
	require.NoError(t, v.SetPassword(ctx, "alice", "hunter2"))

	_, err := v.ValidateCredentials(ctx, "alice", "wrong")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAuthFailed, errors.CodeOf(err))
}

func TestValidateCredentialsUnknownUser(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestValidator(t)

	_, err := v.ValidateCredentials(ctx, "nobody", "whatever")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAuthFailed, errors.CodeOf(err))
}

func TestValidateCredentialsNoAccountRowYet(t *testing.T) {
	// A credential can exist before the first login provisions the
	// account row; permissions are simply empty then.
	ctx := context.Background()
	v, _ := newTestValidator(t)
	require.NoError(t, v.SetPassword(ctx, "fresh", "pw"))

	identity, err := v.ValidateCredentials(ctx, "fresh", "pw")
	require.NoError(t, err)
	assert.Empty(t, identity.Permissions)
}

func TestSetPasswordReplaces(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestValidator(t)

	require.NoError(t, v.SetPassword(ctx, "alice", "old"))
	require.NoError(t, v.SetPassword(ctx, "alice", "new"))

	_, err := v.ValidateCredentials(ctx, "alice", "old")
	require.Error(t, err)
	_, err = v.ValidateCredentials(ctx, "alice", "new")
	require.NoError(t, err)
}
