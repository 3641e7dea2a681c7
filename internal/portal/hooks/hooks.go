// Package hooks is the ordered authentication pipeline run before a
// request reaches a handler. Each hook receives the accumulated request
// context and returns a replacement, an early response that short-circuits
// the chain, or an error. Hooks never mutate shared state through the
// context value; they return a new one.
package hooks

import (
	"context"
	"net/http"
	"time"

	"github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/altivon/vpn-portal/internal/shared/logger"
)

// Context is the value threaded through the hook chain.
type Context struct {
	// Credentials, present on login requests only.
	Username string
	Secret   string

	// SessionID identifies the browser session, when one exists.
	SessionID string

	// SourceIP is the request origin, used for source-network permission
	// grants.
	SourceIP string

	// Identity, filled in by the authentication hook or restored from the
	// session.
	UserID      string
	Permissions []string

	Now time.Time
}

// WithPermissions returns a copy of the context with extra permissions
// appended, deduplicated.
func (c Context) WithPermissions(extra []string) Context {
	if len(extra) == 0 {
		return c
	}
	seen := make(map[string]struct{}, len(c.Permissions)+len(extra))
	merged := make([]string, 0, len(c.Permissions)+len(extra))
	for _, p := range c.Permissions {
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			merged = append(merged, p)
		}
	}
	for _, p := range extra {
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			merged = append(merged, p)
		}
	}
	c.Permissions = merged
	return c
}

// EarlyResponse terminates the chain before the handler runs.
type EarlyResponse struct {
	StatusCode int
	Code       string
	Message    string
}

// Hook is one step of the pipeline.
type Hook interface {
	Name() string
	Run(ctx context.Context, hc Context) (Context, *EarlyResponse, error)
}

// Chain runs hooks in registration order.
type Chain struct {
	hooks  []Hook
	logger *logger.Logger
}

// NewChain creates a hook chain.
func NewChain(log *logger.Logger, hooks ...Hook) *Chain {
	if log == nil {
		log = logger.NewDevelopment("hooks")
	}
	return &Chain{hooks: hooks, logger: log}
}

// Run threads hc through every hook. The first early response or error
// stops the chain. Errors from hooks map to an internal-error early
// response; hook internals never leak to clients.
func (c *Chain) Run(ctx context.Context, hc Context) (Context, *EarlyResponse) {
	if hc.Now.IsZero() {
		hc.Now = time.Now()
	}

	for _, hook := range c.hooks {
		next, early, err := hook.Run(ctx, hc)
		if err != nil {
			if errors.Is(err, errors.ErrCodeAuthFailed) {
				// Failed logins are routine; warn, never error.
				c.logger.WarnContext(ctx, "authentication failed", "hook", hook.Name())
				return hc, &EarlyResponse{
					StatusCode: http.StatusUnauthorized,
					Code:       errors.ErrCodeAuthFailed,
					Message:    "invalid credentials",
				}
			}
			c.logger.ErrorCtx(ctx, "hook failed", err, "hook", hook.Name())
			return hc, &EarlyResponse{
				StatusCode: http.StatusInternalServerError,
				Code:       errors.ErrCodeInternal,
				Message:    "internal error",
			}
		}
		if early != nil {
			c.logger.DebugContext(ctx, "hook short-circuited",
				"hook", hook.Name(), "status", early.StatusCode, "code", early.Code)
			return next, early
		}
		hc = next
	}
	return hc, nil
}
