package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/altivon/vpn-portal/internal/portal/acl"
	"github.com/altivon/vpn-portal/internal/portal/db"
	"github.com/altivon/vpn-portal/internal/portal/hooks"
	"github.com/altivon/vpn-portal/internal/portal/session"
	apperrors "github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/altivon/vpn-portal/pkg/api"
)

// samlHeaderPrefix marks attribute headers set by a fronting Shibboleth
// SP; "X-Saml-Uid" becomes attribute "uid".
const samlHeaderPrefix = "X-Saml-"

// loginResponse is the payload of a successful login.
type loginResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// loginHandler validates credentials through the hook chain, provisions
// the session and the OAuth authorization, and returns a bearer token.
func (s *Server) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := r.ParseForm(); err != nil {
			WriteErrorResponse(w, r, apperrors.NewValidationError("body", "malformed form body"))
			return
		}

		sessionID := uuid.NewString()
		hc := hooks.Context{
			Username:  r.PostFormValue("username"),
			Secret:    r.PostFormValue("password"),
			SessionID: sessionID,
			SourceIP:  remoteHost(r),
			Now:       time.Now(),
		}

		// With a SAML gateway in front, the identity arrives as released
		// attribute headers instead of credentials.
		if s.samlMapper != nil {
			identity, err := s.samlMapper.FromAttributes(samlAttributes(r))
			if err != nil {
				GetLogger(ctx).WarnContext(ctx, "SAML attribute mapping failed")
				WriteErrorResponse(w, r, err)
				return
			}
			hc.UserID = identity.UserID
			hc = hc.WithPermissions(identity.Permissions)
		}

		hc, early := s.chain.Run(ctx, hc)
		if early != nil {
			_ = WriteJSON(w, early.StatusCode, api.ErrorResponse{Error: early.Message})
			return
		}

		if err := s.sessions.Put(ctx, sessionID, &session.Session{
			UserID:      hc.UserID,
			Permissions: hc.Permissions,
			CreatedAt:   hc.Now,
		}); err != nil {
			WriteErrorResponse(w, r, apperrors.NewDatabaseError("failed to store session", err))
			return
		}

		scope := "config"
		if len(s.cfg.Bearer.AdminPermissionList) > 0 &&
			acl.IsMember(s.cfg.Bearer.AdminPermissionList, hc.Permissions) {
			scope = "config admin"
		}

		authKey := uuid.NewString()
		expiresAt := hc.Now.Add(s.cfg.Bearer.TokenTTL)
		clientID := r.PostFormValue("client_id")
		if clientID == "" {
			clientID = "portal"
		}

		if err := s.store.AuthorizationAdd(ctx, db.Authorization{
			AuthKey:      authKey,
			UserID:       hc.UserID,
			ClientID:     clientID,
			Scope:        scope,
			AuthorizedAt: hc.Now,
			ExpiresAt:    expiresAt,
		}); err != nil {
			WriteErrorResponse(w, r, apperrors.NewDatabaseError("failed to record authorization", err))
			return
		}

		token, err := s.issuer.IssueToken(hc.UserID, clientID, scope, authKey, s.cfg.Bearer.TokenTTL)
		if err != nil {
			WriteErrorResponse(w, r, apperrors.NewBaseError("auth", apperrors.ErrCodeInternal,
				"failed to issue token", err, nil))
			return
		}

		GetLogger(ctx).InfoContext(ctx, "login succeeded", "user_id", hc.UserID, "client_id", clientID)
		_ = WriteInfo(w, loginResponse{
			Token:     token,
			SessionID: sessionID,
			ExpiresAt: expiresAt,
		})
	}
}

// logoutHandler drops the session named by the X-Session-ID header.
func (s *Server) logoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get("X-Session-ID")
		if sessionID != "" {
			if err := s.sessions.Delete(r.Context(), sessionID); err != nil {
				GetLogger(r.Context()).WarnContext(r.Context(), "session delete failed", "error", err)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// samlAttributes extracts released SAML attributes from request headers.
func samlAttributes(r *http.Request) map[string]string {
	attributes := make(map[string]string)
	for name, values := range r.Header {
		if !strings.HasPrefix(name, samlHeaderPrefix) || len(values) == 0 {
			continue
		}
		attribute := strings.ToLower(strings.TrimPrefix(name, samlHeaderPrefix))
		attributes[attribute] = values[0]
	}
	return attributes
}
