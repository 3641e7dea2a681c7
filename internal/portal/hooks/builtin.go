package hooks

import (
	"context"
	"database/sql"
	stderrors "errors"
	"net"
	"net/http"
	"net/netip"

	"github.com/altivon/vpn-portal/internal/portal/auth"
	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/portal/db"
	"github.com/altivon/vpn-portal/internal/portal/session"
	"github.com/altivon/vpn-portal/internal/shared/errors"
)

// CredentialHook authenticates login requests against the configured
// credential backend. Requests that already carry an identity (restored
// from a session) pass through untouched.
type CredentialHook struct {
	validator auth.Validator
}

// NewCredentialHook creates the authentication hook.
func NewCredentialHook(validator auth.Validator) *CredentialHook {
	return &CredentialHook{validator: validator}
}

func (h *CredentialHook) Name() string { return "credential" }

func (h *CredentialHook) Run(ctx context.Context, hc Context) (Context, *EarlyResponse, error) {
	if hc.UserID != "" {
		return hc, nil, nil
	}
	if hc.Username == "" {
		return hc, &EarlyResponse{
			StatusCode: http.StatusUnauthorized,
			Code:       errors.ErrCodeAuthFailed,
			Message:    "authentication required",
		}, nil
	}

	identity, err := h.validator.ValidateCredentials(ctx, hc.Username, hc.Secret)
	if err != nil {
		return hc, nil, err
	}

	hc.UserID = identity.UserID
	hc.Permissions = nil
	return hc.WithPermissions(identity.Permissions), nil, nil
}

// StaticPermissionsHook merges configured per-user permission grants into
// the identity after authentication.
type StaticPermissionsHook struct {
	grants map[string][]string
}

// NewStaticPermissionsHook creates the static permission merge hook.
func NewStaticPermissionsHook(cfg *config.AuthConfig) *StaticPermissionsHook {
	return &StaticPermissionsHook{grants: cfg.StaticPermissions}
}

func (h *StaticPermissionsHook) Name() string { return "static_permissions" }

func (h *StaticPermissionsHook) Run(_ context.Context, hc Context) (Context, *EarlyResponse, error) {
	if hc.UserID == "" {
		return hc, nil, nil
	}
	return hc.WithPermissions(h.grants[hc.UserID]), nil, nil
}

// SourceIPPermissionsHook grants extra permissions to requests that
// originate from configured networks.
type SourceIPPermissionsHook struct {
	networks []sourceNetwork
}

type sourceNetwork struct {
	prefix      netip.Prefix
	permissions []string
}

// NewSourceIPPermissionsHook creates the source-network grant hook.
// Invalid CIDRs were rejected at config validation; they are skipped here.
func NewSourceIPPermissionsHook(cfg *config.AuthConfig) *SourceIPPermissionsHook {
	h := &SourceIPPermissionsHook{}
	for _, src := range cfg.SourceIPPermissions {
		prefix, err := netip.ParsePrefix(src.CIDR)
		if err != nil {
			continue
		}
		h.networks = append(h.networks, sourceNetwork{
			prefix:      prefix.Masked(),
			permissions: src.Permissions,
		})
	}
	return h
}

func (h *SourceIPPermissionsHook) Name() string { return "source_ip_permissions" }

func (h *SourceIPPermissionsHook) Run(_ context.Context, hc Context) (Context, *EarlyResponse, error) {
	if hc.SourceIP == "" || len(h.networks) == 0 {
		return hc, nil, nil
	}

	host := hc.SourceIP
	if bare, _, err := net.SplitHostPort(host); err == nil {
		host = bare
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return hc, nil, nil
	}

	for _, network := range h.networks {
		if network.prefix.Contains(addr.Unmap()) {
			hc = hc.WithPermissions(network.permissions)
		}
	}
	return hc, nil, nil
}

// AccountHook provisions the account row on first login and rejects
// disabled accounts with a specific reason code.
type AccountHook struct {
	store db.Store
}

// NewAccountHook creates the account provisioning and disabled-check hook.
func NewAccountHook(store db.Store) *AccountHook {
	return &AccountHook{store: store}
}

func (h *AccountHook) Name() string { return "account" }

func (h *AccountHook) Run(ctx context.Context, hc Context) (Context, *EarlyResponse, error) {
	if hc.UserID == "" {
		return hc, nil, nil
	}

	user, err := h.store.UserGet(ctx, hc.UserID)
	if stderrors.Is(err, sql.ErrNoRows) {
		if err := h.store.UserAdd(ctx, db.UserAddParams{
			UserID:         hc.UserID,
			PermissionList: hc.Permissions,
			LastSeen:       hc.Now,
		}); err != nil {
			return hc, nil, errors.NewDatabaseError("failed to provision account", err)
		}
		return hc, nil, nil
	}
	if err != nil {
		return hc, nil, errors.NewDatabaseError("failed to look up account", err)
	}

	if user.IsDisabled {
		return hc, &EarlyResponse{
			StatusCode: http.StatusForbidden,
			Code:       errors.ErrCodeUserDisabled,
			Message:    "account disabled",
		}, nil
	}
	return hc, nil, nil
}

// SessionRefreshHook updates last-seen and the stored permission list
// once per browser session, guarded by a session-scoped sentinel so
// repeat requests within one session skip the write. Concurrent tabs may
// race; the worst case is one redundant update.
type SessionRefreshHook struct {
	store    db.Store
	sessions *session.Store
}

// NewSessionRefreshHook creates the once-per-session refresh hook.
func NewSessionRefreshHook(store db.Store, sessions *session.Store) *SessionRefreshHook {
	return &SessionRefreshHook{store: store, sessions: sessions}
}

func (h *SessionRefreshHook) Name() string { return "session_refresh" }

func (h *SessionRefreshHook) Run(ctx context.Context, hc Context) (Context, *EarlyResponse, error) {
	if hc.UserID == "" || hc.SessionID == "" {
		return hc, nil, nil
	}

	first, err := h.sessions.MarkOnce(ctx, hc.SessionID, "refresh")
	if err != nil {
		return hc, nil, errors.NewDatabaseError("failed to check session sentinel", err)
	}
	if !first {
		return hc, nil, nil
	}

	if err := h.store.UserUpdate(ctx, db.UserUpdateParams{
		UserID:         hc.UserID,
		PermissionList: hc.Permissions,
		LastSeen:       hc.Now,
	}); err != nil {
		return hc, nil, errors.NewDatabaseError("failed to refresh account", err)
	}
	return hc, nil, nil
}
