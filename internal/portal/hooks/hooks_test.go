package hooks

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altivon/vpn-portal/internal/portal/auth"
	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/portal/db"
	"github.com/altivon/vpn-portal/internal/portal/session"
	"github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/altivon/vpn-portal/internal/shared/logger"
)

type fakeValidator struct {
	identity *auth.Identity
	err      error
}

func (f *fakeValidator) ValidateCredentials(context.Context, string, string) (*auth.Identity, error) {
	return f.identity, f.err
}

func TestWithPermissionsDeduplicates(t *testing.T) {
	hc := Context{Permissions: []string{"a", "b"}}
	merged := hc.WithPermissions([]string{"b", "c", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, merged.Permissions)
	// The receiver stays untouched.
	assert.Equal(t, []string{"a", "b"}, hc.Permissions)
}

func TestCredentialHook(t *testing.T) {
	chain := NewChain(logger.NewDevelopment("hooks"),
		NewCredentialHook(&fakeValidator{identity: &auth.Identity{
			UserID:      "alice",
			Permissions: []string{"group!staff"},
		}}),
	)

	hc, early := chain.Run(context.Background(), Context{Username: "alice", Secret: "pw"})
	require.Nil(t, early)
	assert.Equal(t, "alice", hc.UserID)
	assert.Equal(t, []string{"group!staff"}, hc.Permissions)
}

func TestCredentialHookBadCredentials(t *testing.T) {
	chain := NewChain(logger.NewDevelopment("hooks"),
		NewCredentialHook(&fakeValidator{
			err: errors.NewAuthError(errors.ErrCodeAuthFailed, "invalid credentials", nil),
		}),
	)

	_, early := chain.Run(context.Background(), Context{Username: "alice", Secret: "wrong"})
	require.NotNil(t, early)
	assert.Equal(t, http.StatusUnauthorized, early.StatusCode)
	assert.Equal(t, "invalid credentials", early.Message)
}

func TestCredentialHookMissingUsername(t *testing.T) {
	chain := NewChain(logger.NewDevelopment("hooks"),
		NewCredentialHook(&fakeValidator{}),
	)

	_, early := chain.Run(context.Background(), Context{})
	require.NotNil(t, early)
	assert.Equal(t, http.StatusUnauthorized, early.StatusCode)
}

func TestCredentialHookSkipsExistingIdentity(t *testing.T) {
	// A validator that would fail; it must not run for a restored session.
	chain := NewChain(logger.NewDevelopment("hooks"),
		NewCredentialHook(&fakeValidator{
			err: errors.NewAuthError(errors.ErrCodeAuthFailed, "invalid credentials", nil),
		}),
	)

	hc, early := chain.Run(context.Background(), Context{UserID: "alice"})
	require.Nil(t, early)
	assert.Equal(t, "alice", hc.UserID)
}

func TestStaticPermissionsHook(t *testing.T) {
	hook := NewStaticPermissionsHook(&config.AuthConfig{
		StaticPermissions: map[string][]string{
			"alice": {"group!extra"},
		},
	})

	hc, early, err := hook.Run(context.Background(), Context{
		UserID:      "alice",
		Permissions: []string{"group!staff"},
	})
	require.NoError(t, err)
	require.Nil(t, early)
	assert.Equal(t, []string{"group!staff", "group!extra"}, hc.Permissions)

	// Unknown user: unchanged.
	hc, _, err = hook.Run(context.Background(), Context{UserID: "bob"})
	require.NoError(t, err)
	assert.Empty(t, hc.Permissions)
}

func TestSourceIPPermissionsHook(t *testing.T) {
	hook := NewSourceIPPermissionsHook(&config.AuthConfig{
		SourceIPPermissions: []config.SourceIPPermission{
			{CIDR: "192.0.2.0/24", Permissions: []string{"net!office"}},
		},
	})

	hc, _, err := hook.Run(context.Background(), Context{
		UserID:   "alice",
		SourceIP: "192.0.2.17:51234",
	})
	require.NoError(t, err)
	assert.Contains(t, hc.Permissions, "net!office")

	hc, _, err = hook.Run(context.Background(), Context{
		UserID:   "alice",
		SourceIP: "198.51.100.1:443",
	})
	require.NoError(t, err)
	assert.Empty(t, hc.Permissions)
}

func TestAccountHookProvisionsOnFirstLogin(t *testing.T) {
	ctx := context.Background()
	_, store := db.NewTestDB(t)
	hook := NewAccountHook(store)

	_, early, err := hook.Run(ctx, Context{
		UserID:      "alice",
		Permissions: []string{"group!staff"},
		Now:         time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Nil(t, early)

	user, err := store.UserGet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"group!staff"}, user.PermissionList)
}

func TestAccountHookRejectsDisabledUser(t *testing.T) {
	ctx := context.Background()
	_, store := db.NewTestDB(t)
	db.SeedTestUser(t, store, "alice", nil)
	require.NoError(t, store.UserDisable(ctx, "alice"))

	hook := NewAccountHook(store)
	_, early, err := hook.Run(ctx, Context{UserID: "alice", Now: time.Now().UTC()})
	require.NoError(t, err)
	require.NotNil(t, early)
	assert.Equal(t, http.StatusForbidden, early.StatusCode)
	assert.Equal(t, errors.ErrCodeUserDisabled, early.Code)
}

func TestSessionRefreshHookRunsOncePerSession(t *testing.T) {
	ctx := context.Background()
	_, store := db.NewTestDB(t)
	db.SeedTestUser(t, store, "alice", []string{"group!old"})

	mr := miniredis.RunT(t)
	sessions := session.NewStoreFromClient(
		redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	t.Cleanup(func() { sessions.Close() })

	hook := NewSessionRefreshHook(store, sessions)

	now := time.Now().UTC().Truncate(time.Second)
	hc := Context{
		UserID:      "alice",
		SessionID:   "sid-1",
		Permissions: []string{"group!new"},
		Now:         now,
	}

	_, early, err := hook.Run(ctx, hc)
	require.NoError(t, err)
	require.Nil(t, early)

	user, err := store.UserGet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"group!new"}, user.PermissionList)

	// Same session again with different permissions: sentinel set, no write.
	hc.Permissions = []string{"group!newer"}
	_, _, err = hook.Run(ctx, hc)
	require.NoError(t, err)

	user, err = store.UserGet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"group!new"}, user.PermissionList)

	// A fresh session refreshes again.
	hc.SessionID = "sid-2"
	_, _, err = hook.Run(ctx, hc)
	require.NoError(t, err)

	user, err = store.UserGet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"group!newer"}, user.PermissionList)
}

func TestChainStopsAtEarlyResponse(t *testing.T) {
	ctx := context.Background()
	_, store := db.NewTestDB(t)
	db.SeedTestUser(t, store, "alice", nil)
	require.NoError(t, store.UserDisable(ctx, "alice"))

	ran := false
	chain := NewChain(logger.NewDevelopment("hooks"),
		NewCredentialHook(&fakeValidator{identity: &auth.Identity{UserID: "alice"}}),
		NewAccountHook(store),
		hookFunc(func(hc Context) (Context, *EarlyResponse, error) {
			ran = true
			return hc, nil, nil
		}),
	)

	_, early := chain.Run(ctx, Context{Username: "alice", Secret: "pw"})
	require.NotNil(t, early)
	assert.Equal(t, http.StatusForbidden, early.StatusCode)
	assert.False(t, ran)
}

type hookFunc func(hc Context) (Context, *EarlyResponse, error)

func (hookFunc) Name() string { return "test" }

func (f hookFunc) Run(_ context.Context, hc Context) (Context, *EarlyResponse, error) {
	return f(hc)
}
