package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/altivon/vpn-portal/internal/portal/auth/staticauth"
	"github.com/altivon/vpn-portal/internal/portal/bearer"
	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/portal/connection"
	"github.com/altivon/vpn-portal/internal/portal/db"
	"github.com/altivon/vpn-portal/internal/portal/events"
	"github.com/altivon/vpn-portal/internal/portal/hooks"
	"github.com/altivon/vpn-portal/internal/portal/nodeclient"
	"github.com/altivon/vpn-portal/internal/portal/session"
	"github.com/altivon/vpn-portal/internal/shared/logger"
	pkgapi "github.com/altivon/vpn-portal/pkg/api"
	"github.com/altivon/vpn-portal/pkg/crypto"
)

const nodeToken = "node-callback-secret"

type acceptAllGateway struct{}

func (acceptAllGateway) Connect(context.Context, string, *pkgapi.NodeConnectRequest) error { return nil }
func (acceptAllGateway) Disconnect(context.Context, string, *pkgapi.NodeDisconnectRequest) error {
	return nil
}
func (acceptAllGateway) Info(context.Context, string) *nodeclient.NodeInfo {
	return &nodeclient.NodeInfo{Online: true, CPUCount: 2}
}

func serverConfig(t *testing.T) *config.Config {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	return &config.Config{
		Service: config.ServiceConfig{
			ConnectionExpiry: 24 * time.Hour,
			ShutdownTimeout:  5 * time.Second,
			SyncInterval:     time.Minute,
			SweepInterval:    time.Minute,
		},
		Auth: config.AuthConfig{
			Method: "static",
			Static: config.StaticAuthConfig{
				Users: []config.StaticUser{
					{Username: "alice", PasswordHash: string(hash), Permissions: []string{"group!staff", "group!admins"}},
					{Username: "bob", PasswordHash: string(hash), Permissions: []string{"group!guests"}},
				},
			},
		},
		Bearer: config.BearerConfig{
			SigningKey:          "test-signing-key",
			Issuer:              "portal",
			TokenTTL:            time.Hour,
			AdminPermissionList: []string{"group!admins"},
		},
		Node:   config.NodeConfig{AuthToken: nodeToken, Timeout: time.Second},
		Limits: config.LimitsConfig{MaxActiveGlobalConfigurations: -1},
		Profiles: []config.ProfileConfig{
			{
				ProfileID:                  "default",
				DisplayName:                "Default",
				HostName:                   "vpn.example.org",
				Protocols:                  []string{config.ProtoOpenVPN, config.ProtoWireGuard},
				PreferredProto:             config.ProtoWireGuard,
				OpenVPNPort:                1194,
				WireGuardPort:              51820,
				WireGuardNodePublicKey:     "node-key=",
				OpenVPNRangeFour:           "10.9.0.0/24",
				WireGuardRangeFour:         "10.8.0.0/24",
				MaxActiveConfigurations:    nil,
				MaxActiveAPIConfigurations: nil,
				NodeURLs:                   []string{"http://node-1:8000"},
			},
			{
				ProfileID:                  "staff-only",
				DisplayName:                "Staff",
				HostName:                   "vpn.example.org",
				Protocols:                  []string{config.ProtoWireGuard},
				WireGuardPort:              51821,
				WireGuardNodePublicKey:     "node-key=",
				WireGuardRangeFour:         "10.10.0.0/24",
				ACLPermissionList:          []string{"group!staff"},
				MaxActiveConfigurations:    nil,
				MaxActiveAPIConfigurations: nil,
				NodeURLs:                   []string{"http://node-1:8000"},
			},
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, db.Store) {
	t.Helper()

	cfg := serverConfig(t)
	_, store := db.NewTestDB(t)

	mr := miniredis.RunT(t)
	sessions := session.NewStoreFromClient(
		redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	t.Cleanup(func() { sessions.Close() })

	ca, err := crypto.NewCA("test-ca", time.Hour)
	require.NoError(t, err)
	bus := events.NewBus(logger.NewDevelopment("events"))
	t.Cleanup(func() { bus.Close() })

	manager := connection.NewManager(cfg, store, acceptAllGateway{}, ca, bus,
		logger.NewDevelopment("connection"))

	chain := hooks.NewChain(logger.NewDevelopment("hooks"),
		hooks.NewCredentialHook(staticauth.NewValidator(cfg.Auth.Static)),
		hooks.NewAccountHook(store),
		hooks.NewSessionRefreshHook(store, sessions),
	)

	issuer := bearer.NewJWTValidator(cfg.Bearer.SigningKey, cfg.Bearer.Issuer)
	server := NewServer(cfg, Deps{
		Store:    store,
		Manager:  manager,
		Nodes:    acceptAllGateway{},
		Tokens:   issuer,
		Issuer:   issuer,
		Sessions: sessions,
		Chain:    chain,
		Bus:      bus,
		Logger:   logger.NewDevelopment("api"),
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func login(t *testing.T, ts *httptest.Server, username, password string) string {
	t.Helper()

	resp, err := http.PostForm(ts.URL+"/login", url.Values{
		"username": {username},
		"password": {password},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Info struct {
			Token string `json:"token"`
		} `json:"info"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NotEmpty(t, envelope.Info.Token)
	return envelope.Info.Token
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token string, form url.Values, header http.Header) *http.Response {
	t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, ts.URL+path, body)
	require.NoError(t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for name, values := range header {
		req.Header[name] = values
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestLoginAndInfo(t *testing.T) {
	ts, _ := newTestServer(t)
	token := login(t, ts, "alice", "hunter2")

	resp := doRequest(t, ts, http.MethodGet, "/v3/info", token, nil, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Info pkgapi.InfoResponse `json:"info"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Len(t, envelope.Info.ProfileList, 2)
}

func TestLoginBadCredentials(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.PostForm(ts.URL+"/login", url.Values{
		"username": {"alice"},
		"password": {"wrong"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "invalid credentials")
}

func TestLoginDisabledUser(t *testing.T) {
	ts, store := newTestServer(t)
	// First login provisions the account row.
	login(t, ts, "bob", "hunter2")
	require.NoError(t, store.UserDisable(context.Background(), "bob"))

	resp, err := http.PostForm(ts.URL+"/login", url.Values{
		"username": {"bob"},
		"password": {"hunter2"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestInfoFiltersRestrictedProfiles(t *testing.T) {
	ts, _ := newTestServer(t)
	token := login(t, ts, "bob", "hunter2")

	resp := doRequest(t, ts, http.MethodGet, "/v3/info", token, nil, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Info pkgapi.InfoResponse `json:"info"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Len(t, envelope.Info.ProfileList, 1)
	assert.Equal(t, "default", envelope.Info.ProfileList[0].ProfileID)
}

func TestInfoRequiresToken(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts, http.MethodGet, "/v3/info", "", nil, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectReturnsWireGuardConfig(t *testing.T) {
	ts, _ := newTestServer(t)
	token := login(t, ts, "alice", "hunter2")

	resp := doRequest(t, ts, http.MethodPost, "/v3/connect", token,
		url.Values{"profile_id": {"default"}}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, connection.ContentTypeWireGuard, resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("Expires"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[Interface]")
	assert.Contains(t, string(raw), "Endpoint = vpn.example.org:51820")
}

func TestConnectAcceptHeaderSelectsOpenVPN(t *testing.T) {
	ts, _ := newTestServer(t)
	token := login(t, ts, "alice", "hunter2")

	resp := doRequest(t, ts, http.MethodPost, "/v3/connect", token,
		url.Values{"profile_id": {"default"}},
		http.Header{"Accept": {connection.ContentTypeOpenVPN}})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, connection.ContentTypeOpenVPN, resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "remote vpn.example.org 1194 udp")
}

func TestConnectRestrictedProfileLooksNonexistent(t *testing.T) {
	ts, _ := newTestServer(t)
	token := login(t, ts, "bob", "hunter2")

	resp := doRequest(t, ts, http.MethodPost, "/v3/connect", token,
		url.Values{"profile_id": {"staff-only"}}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "no such profile_id: staff-only")
}

func TestDisconnectIsIdempotent(t *testing.T) {
	ts, _ := newTestServer(t)
	token := login(t, ts, "alice", "hunter2")

	resp := doRequest(t, ts, http.MethodPost, "/v3/connect", token,
		url.Values{"profile_id": {"default"}}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for i := 0; i < 2; i++ {
		resp = doRequest(t, ts, http.MethodPost, "/v3/disconnect", token, url.Values{}, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
}

func TestConnectRejectsRevokedAuthorization(t *testing.T) {
	ts, _ := newTestServer(t)
	token := login(t, ts, "alice", "hunter2")

	resp := doRequest(t, ts, http.MethodPost, "/v3/connect", token,
		url.Values{"profile_id": {"default"}}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Disconnect revokes the authorization behind the token; the token
	// itself is still within its lifetime but must stop working.
	resp = doRequest(t, ts, http.MethodPost, "/v3/disconnect", token, url.Values{}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodPost, "/v3/connect", token,
		url.Values{"profile_id": {"default"}}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNodeConnectCallback(t *testing.T) {
	ts, store := newTestServer(t)
	token := login(t, ts, "alice", "hunter2")

	resp := doRequest(t, ts, http.MethodPost, "/v3/connect", token,
		url.Values{"profile_id": {"default"}}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	peers, err := store.WPeerListByUserID(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, peers, 1)

	resp = doRequest(t, ts, http.MethodPost, "/node/connect", nodeToken, url.Values{
		"profile_id": {"default"},
		"public_key": {peers[0].PublicKey},
		"ip_four":    {peers[0].IPFour},
	}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(raw))

	entries, err := store.ConnectionLogList(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNodeConnectUnknownIdentifier(t *testing.T) {
	ts, store := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost, "/node/connect", nodeToken, url.Values{
		"profile_id":  {"default"},
		"common_name": {"unknown-cn"},
	}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ERR", string(raw))

	// A rejected callback leaves no trace in the connection log.
	entries, err := store.ConnectionLogList(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNodeDisconnectAlwaysOK(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost, "/node/disconnect", nodeToken, url.Values{
		"profile_id":  {"default"},
		"common_name": {"whatever"},
		"bytes_in":    {"100"},
		"bytes_out":   {"200"},
	}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(raw))
}

func TestNodeCallbackRequiresToken(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost, "/node/connect", "wrong-token", url.Values{
		"profile_id":  {"default"},
		"common_name": {"cn"},
	}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ERR", string(raw))
}

func TestAdminScopeEnforced(t *testing.T) {
	ts, _ := newTestServer(t)

	// bob is not in the admin permission list.
	bobToken := login(t, ts, "bob", "hunter2")
	resp := doRequest(t, ts, http.MethodGet, "/v3/admin/users", bobToken, nil, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	aliceToken := login(t, ts, "alice", "hunter2")
	resp = doRequest(t, ts, http.MethodGet, "/v3/admin/users", aliceToken, nil, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminDisableUserTearsDownConnections(t *testing.T) {
	ts, store := newTestServer(t)
	aliceToken := login(t, ts, "alice", "hunter2")
	bobToken := login(t, ts, "bob", "hunter2")

	resp := doRequest(t, ts, http.MethodPost, "/v3/connect", bobToken,
		url.Values{"profile_id": {"default"}}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodPost, "/v3/admin/users/bob/disable", aliceToken, url.Values{}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	user, err := store.UserGet(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, user.IsDisabled)

	// The rows stay behind for audit; only the nodes drop the peers.
	peers, err := store.WPeerListByUserID(context.Background(), "bob")
	require.NoError(t, err)
	assert.Len(t, peers, 1)
}

func TestAdminDeleteUserRevokesAuthorizations(t *testing.T) {
	ts, store := newTestServer(t)
	aliceToken := login(t, ts, "alice", "hunter2")
	bobToken := login(t, ts, "bob", "hunter2")

	resp := doRequest(t, ts, http.MethodPost, "/v3/connect", bobToken,
		url.Values{"profile_id": {"default"}}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodDelete, "/v3/admin/users/bob", aliceToken, url.Values{}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	auths, err := store.AuthorizationListByUserID(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, auths)

	peers, err := store.WPeerListByUserID(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogout(t *testing.T) {
	ts, _ := newTestServer(t)
	login(t, ts, "alice", "hunter2")

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/logout", nil)
	require.NoError(t, err)
	req.Header.Set("X-Session-ID", "some-session")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
