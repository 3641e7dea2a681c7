package radiusauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"

	"github.com/altivon/vpn-portal/internal/portal/config"
	apperrors "github.com/altivon/vpn-portal/internal/shared/errors"
)

func newCfg(addrs ...string) config.RADIUSAuthConfig {
	servers := make([]config.RADIUSServer, 0, len(addrs))
	for _, addr := range addrs {
		servers = append(servers, config.RADIUSServer{Addr: addr, Secret: "shared"})
	}
	return config.RADIUSAuthConfig{Servers: servers, Timeout: time.Second}
}

func TestAccessAccept(t *testing.T) {
	v := NewValidator(newCfg("radius-1:1812"), nil)

	var seenUser, seenPass, seenAddr string
	v.exchange = func(_ context.Context, packet *radius.Packet, addr string) (*radius.Packet, error) {
		seenUser = rfc2865.UserName_GetString(packet)
		seenPass = rfc2865.UserPassword_GetString(packet)
		seenAddr = addr
		return packet.Response(radius.CodeAccessAccept), nil
	}

	identity, err := v.ValidateCredentials(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.UserID)
	assert.Equal(t, "alice", seenUser)
	assert.Equal(t, "hunter2", seenPass)
	assert.Equal(t, "radius-1:1812", seenAddr)
}

func TestRealmSuffix(t *testing.T) {
	cfg := newCfg("radius-1:1812")
	cfg.Realm = "example.org"
	v := NewValidator(cfg, nil)

	var seenUser string
	v.exchange = func(_ context.Context, packet *radius.Packet, _ string) (*radius.Packet, error) {
		seenUser = rfc2865.UserName_GetString(packet)
		return packet.Response(radius.CodeAccessAccept), nil
	}

	identity, err := v.ValidateCredentials(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	// Wire identity carries the realm, the portal identity does not.
	assert.Equal(t, "alice@example.org", seenUser)
	assert.Equal(t, "alice", identity.UserID)
}

func TestAccessRejectFailsClosed(t *testing.T) {
	v := NewValidator(newCfg("radius-1:1812"), nil)
	v.exchange = func(_ context.Context, packet *radius.Packet, _ string) (*radius.Packet, error) {
		return packet.Response(radius.CodeAccessReject), nil
	}

	_, err := v.ValidateCredentials(context.Background(), "alice", "wrong")
	require.Error(t, err)
	var domainErr apperrors.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, apperrors.ErrCodeAuthFailed, domainErr.Code())
}

func TestFallsThroughToNextServer(t *testing.T) {
	v := NewValidator(newCfg("radius-1:1812", "radius-2:1812"), nil)

	var tried []string
	v.exchange = func(_ context.Context, packet *radius.Packet, addr string) (*radius.Packet, error) {
		tried = append(tried, addr)
		if addr == "radius-1:1812" {
			return nil, errors.New("i/o timeout")
		}
		return packet.Response(radius.CodeAccessAccept), nil
	}

	identity, err := v.ValidateCredentials(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.UserID)
	assert.Equal(t, []string{"radius-1:1812", "radius-2:1812"}, tried)
}

func TestAllServersUnreachableFailsClosed(t *testing.T) {
	v := NewValidator(newCfg("radius-1:1812", "radius-2:1812"), nil)
	v.exchange = func(context.Context, *radius.Packet, string) (*radius.Packet, error) {
		return nil, errors.New("connection refused")
	}

	_, err := v.ValidateCredentials(context.Background(), "alice", "hunter2")
	require.Error(t, err)
	var domainErr apperrors.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, apperrors.ErrCodeAuthFailed, domainErr.Code())
}

func TestRejectStopsServerList(t *testing.T) {
	// An authoritative reject from the first server must not be retried
	// against the second.
	v := NewValidator(newCfg("radius-1:1812", "radius-2:1812"), nil)

	var tried []string
	v.exchange = func(_ context.Context, packet *radius.Packet, addr string) (*radius.Packet, error) {
		tried = append(tried, addr)
		return packet.Response(radius.CodeAccessReject), nil
	}

	_, err := v.ValidateCredentials(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.Equal(t, []string{"radius-1:1812"}, tried)
}
