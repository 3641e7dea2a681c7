package bearer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altivon/vpn-portal/internal/shared/errors"
)

func TestIssueAndValidate(t *testing.T) {
	v := NewJWTValidator("secret", "portal")

	raw, err := v.IssueToken("alice", "cli", "config admin", "key-1", time.Hour)
	require.NoError(t, err)

	token, err := v.ValidateToken(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", token.UserID)
	assert.Equal(t, "cli", token.ClientID)
	assert.Equal(t, "key-1", token.AuthKey)
	assert.True(t, token.HasScope("config"))
	assert.True(t, token.HasScope("admin"))
	assert.False(t, token.HasScope("other"))
}

func TestValidateExpired(t *testing.T) {
	v := NewJWTValidator("secret", "portal")

	raw, err := v.IssueToken("alice", "cli", "config", "", -time.Minute)
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), raw)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTokenExpired, errors.CodeOf(err))
}

func TestValidateWrongKey(t *testing.T) {
	issuer := NewJWTValidator("secret-a", "portal")
	validator := NewJWTValidator("secret-b", "portal")

	raw, err := issuer.IssueToken("alice", "cli", "config", "", time.Hour)
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), raw)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTokenInvalid, errors.CodeOf(err))
}

func TestValidateWrongIssuer(t *testing.T) {
	issuer := NewJWTValidator("secret", "someone-else")
	validator := NewJWTValidator("secret", "portal")

	raw, err := issuer.IssueToken("alice", "cli", "config", "", time.Hour)
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), raw)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTokenInvalid, errors.CodeOf(err))
}

func TestValidateGarbage(t *testing.T) {
	v := NewJWTValidator("secret", "portal")

	_, err := v.ValidateToken(context.Background(), "not.a.token")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTokenInvalid, errors.CodeOf(err))
}
