// Package nodeclient is the stateless request/response wrapper around the
// VPN gateway node HTTP API. Every call is a single attempt with a
// bounded timeout; rollback on failure is the caller's job.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/altivon/vpn-portal/internal/shared/logger"
	"github.com/altivon/vpn-portal/pkg/api"
)

// NodeInfo is the load report of one node. Online is false for
// unreachable nodes; the admin aggregation view renders those as partial
// results instead of failing.
type NodeInfo struct {
	Online         bool
	RelLoadAverage []float64
	LoadAverage    []float64
	CPUCount       int
}

// Client talks to VPN gateway nodes.
type Client struct {
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a node gateway client with the given per-call timeout.
func NewClient(timeout time.Duration, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDevelopment("nodeclient")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// Connect pushes a new peer/session to the node.
func (c *Client) Connect(ctx context.Context, nodeURL string, req *api.NodeConnectRequest) error {
	return c.post(ctx, nodeURL, "/connect", req)
}

// Disconnect drops a peer/session from the node.
func (c *Client) Disconnect(ctx context.Context, nodeURL string, req *api.NodeDisconnectRequest) error {
	return c.post(ctx, nodeURL, "/disconnect", req)
}

// Info fetches the node's load report. Unreachable nodes degrade to an
// offline marker, never an error.
func (c *Client) Info(ctx context.Context, nodeURL string) *NodeInfo {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL+"/info", nil)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to build node info request", "node_url", nodeURL, "error", err)
		return &NodeInfo{Online: false}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.WarnContext(ctx, "node unreachable", "node_url", nodeURL, "error", err)
		return &NodeInfo{Online: false}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.WarnContext(ctx, "node info request rejected", "node_url", nodeURL, "status", resp.StatusCode)
		return &NodeInfo{Online: false}
	}

	var info api.NodeInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		c.logger.WarnContext(ctx, "node info response malformed", "node_url", nodeURL, "error", err)
		return &NodeInfo{Online: false}
	}

	return &NodeInfo{
		Online:         true,
		RelLoadAverage: info.RelLoadAverage,
		LoadAverage:    info.LoadAverage,
		CPUCount:       info.CPUCount,
	}
}

func (c *Client) post(ctx context.Context, nodeURL, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.NewNodeError(errors.ErrCodeInternal, "failed to encode node request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, nodeURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.NewNodeError(errors.ErrCodeInternal, "failed to build node request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.DebugContext(ctx, "node gateway call", "node_url", nodeURL, "path", path)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.NewNodeError(errors.ErrCodeNodeUnreachable,
			fmt.Sprintf("node %s unreachable", nodeURL), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewNodeError(errors.ErrCodeNodeUnreachable, "failed to read node response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return errors.NewNodeError(errors.ErrCodeNodeRejected,
			fmt.Sprintf("node %s returned status %d", nodeURL, resp.StatusCode), nil)
	}

	var ack api.NodeAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return errors.NewNodeError(errors.ErrCodeNodeRejected, "node response malformed", err)
	}
	if !ack.OK {
		return errors.NewNodeError(errors.ErrCodeNodeRejected,
			fmt.Sprintf("node %s rejected command: %s", nodeURL, ack.Error), nil)
	}

	return nil
}
