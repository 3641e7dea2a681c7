package nodeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/altivon/vpn-portal/internal/shared/logger"
	"github.com/altivon/vpn-portal/pkg/api"
)

func newTestClient() *Client {
	return NewClient(2*time.Second, logger.NewDevelopment("nodeclient"))
}

func TestConnectAccepted(t *testing.T) {
	var got api.NodeConnectRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/connect", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(api.NodeAck{OK: true})
	}))
	defer server.Close()

	err := newTestClient().Connect(context.Background(), server.URL, &api.NodeConnectRequest{
		ProfileID:  "default",
		CommonName: "cn-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cn-1", got.CommonName)
}

func TestConnectRejectedByAck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.NodeAck{OK: false, Error: "pool full"})
	}))
	defer server.Close()

	err := newTestClient().Connect(context.Background(), server.URL, &api.NodeConnectRequest{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNodeRejected, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "pool full")
}

func TestConnectRejectedByStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newTestClient().Connect(context.Background(), server.URL, &api.NodeConnectRequest{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNodeRejected, errors.CodeOf(err))
}

func TestConnectUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	err := newTestClient().Connect(context.Background(), server.URL, &api.NodeConnectRequest{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNodeUnreachable, errors.CodeOf(err))
}

func TestDisconnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/disconnect", r.URL.Path)
		json.NewEncoder(w).Encode(api.NodeAck{OK: true})
	}))
	defer server.Close()

	err := newTestClient().Disconnect(context.Background(), server.URL, &api.NodeDisconnectRequest{
		PublicKey: "pk",
	})
	require.NoError(t, err)
}

func TestInfoOnline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info", r.URL.Path)
		json.NewEncoder(w).Encode(api.NodeInfoResponse{
			RelLoadAverage: []float64{0.25, 0.5, 0.75},
			LoadAverage:    []float64{1, 2, 3},
			CPUCount:       4,
		})
	}))
	defer server.Close()

	info := newTestClient().Info(context.Background(), server.URL)
	assert.True(t, info.Online)
	assert.Equal(t, 4, info.CPUCount)
	assert.Equal(t, []float64{0.25, 0.5, 0.75}, info.RelLoadAverage)
}

func TestInfoDegradesToOffline(t *testing.T) {
	// Unreachable node: Info never errors, it reports offline.
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	info := newTestClient().Info(context.Background(), server.URL)
	assert.False(t, info.Online)
}

func TestInfoMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	info := newTestClient().Info(context.Background(), server.URL)
	assert.False(t, info.Online)
}
