package samlauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/shared/errors"
)

func testMapper() *Mapper {
	return NewMapper(config.SAMLAuthConfig{
		UserIDAttribute:      "persistent-id",
		PermissionAttributes: []string{"affiliation", "entitlement"},
	})
}

func TestFromAttributes(t *testing.T) {
	identity, err := testMapper().FromAttributes(map[string]string{
		"persistent-id": "alice@example.org",
		"affiliation":   "staff;member",
		"entitlement":   "vpn",
		"ignored":       "value",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", identity.UserID)
	assert.Equal(t, []string{
		"affiliation!staff",
		"affiliation!member",
		"entitlement!vpn",
	}, identity.Permissions)
}

func TestFromAttributesMissingUserID(t *testing.T) {
	_, err := testMapper().FromAttributes(map[string]string{
		"affiliation": "staff",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAuthFailed, errors.CodeOf(err))

	_, err = testMapper().FromAttributes(map[string]string{
		"persistent-id": "",
	})
	require.Error(t, err)
}

func TestFromAttributesNoPermissionAttributes(t *testing.T) {
	identity, err := testMapper().FromAttributes(map[string]string{
		"persistent-id": "alice@example.org",
	})
	require.NoError(t, err)
	assert.Empty(t, identity.Permissions)
}

func TestFromAttributesSkipsEmptyValues(t *testing.T) {
	identity, err := testMapper().FromAttributes(map[string]string{
		"persistent-id": "alice@example.org",
		"affiliation":   "staff;;member;",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"affiliation!staff", "affiliation!member"}, identity.Permissions)
}
