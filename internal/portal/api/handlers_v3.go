package api

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/altivon/vpn-portal/internal/portal/acl"
	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/portal/connection"
	apperrors "github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/altivon/vpn-portal/pkg/api"
)

// infoHandler returns the profiles the caller may use, filtered through
// the profile ACLs. Restricted profiles the caller lacks permission for
// are absent from the list, not marked forbidden.
func (s *Server) infoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := GetToken(ctx)

		permissions, err := s.userPermissions(r)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		filtered := acl.FilterProfiles(s.cfg.Profiles, permissions)
		profileList := make([]api.ProfileInfo, 0, len(filtered))
		for _, profile := range filtered {
			profileList = append(profileList, api.ProfileInfo{
				ProfileID:      profile.ProfileID,
				DisplayName:    profile.DisplayName,
				VPNProtoList:   profile.Protocols,
				DefaultGateway: profile.DefaultGateway,
			})
		}

		GetLogger(ctx).DebugContext(ctx, "profile list served",
			"user_id", token.UserID, "count", len(profileList))
		if err := WriteInfo(w, api.InfoResponse{ProfileList: profileList}); err != nil {
			GetLogger(ctx).ErrorCtx(ctx, "failed to encode info response", err)
		}
	}
}

// connectHandler issues a new connection and returns the raw client
// configuration document with an Expires header, not a JSON envelope.
func (s *Server) connectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := GetToken(ctx)

		if err := r.ParseForm(); err != nil {
			WriteErrorResponse(w, r, apperrors.NewValidationError("body", "malformed form body"))
			return
		}

		profileID := r.PostFormValue("profile_id")
		if profileID == "" {
			WriteErrorResponse(w, r, apperrors.NewValidationError("profile_id", "profile_id is required"))
			return
		}

		// A token minted for a delegated authorization stops working the
		// moment the authorization is revoked, even mid-lifetime.
		if token.AuthKey != "" {
			if _, err := s.store.AuthorizationGet(ctx, token.AuthKey); err != nil {
				if stderrors.Is(err, sql.ErrNoRows) {
					WriteErrorResponse(w, r, apperrors.NewAuthError(apperrors.ErrCodeTokenInvalid, "authorization revoked", nil))
					return
				}
				WriteErrorResponse(w, r, apperrors.NewDatabaseError("failed to look up authorization", err))
				return
			}
		}

		permissions, err := s.userPermissions(r)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		// A profile the caller may not use is indistinguishable from one
		// that does not exist.
		filtered := acl.FilterProfiles(s.cfg.Profiles, permissions)
		if !acl.IsAllowedProfile(filtered, profileID) {
			WriteErrorResponse(w, r, apperrors.NewAccessError(apperrors.ErrCodeProfileNotFound,
				fmt.Sprintf("no such profile_id: %s", profileID), nil))
			return
		}

		result, err := s.manager.Connect(ctx, connection.ConnectRequest{
			UserID:            token.UserID,
			ProfileID:         profileID,
			DisplayName:       r.PostFormValue("display_name"),
			AcceptedProtocols: acceptedProtocols(r),
			PreferTCP:         parseBoolValue(r.PostFormValue("prefer_tcp")),
			PublicKey:         r.PostFormValue("public_key"),
			AuthKey:           token.AuthKey,
			OriginatingIP:     remoteHost(r),
		})
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		w.Header().Set("Content-Type", result.ContentType)
		w.Header().Set("Expires", result.ExpiresAt.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(result.Config))
	}
}

// disconnectHandler tears down every configuration issued under the
// caller's authorization. Idempotent: a second call is a no-op.
func (s *Server) disconnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := GetToken(ctx)

		if token.AuthKey == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if err := s.manager.DisconnectByAuthKey(ctx, token.AuthKey); err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// userPermissions loads the caller's stored permission list; a user row
// that does not exist yet simply has no permissions.
func (s *Server) userPermissions(r *http.Request) ([]string, error) {
	token := GetToken(r.Context())
	permissions, err := s.store.UserPermissionList(r.Context(), token.UserID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to load permissions", err)
	}
	return permissions, nil
}

// acceptedProtocols derives the caller's protocol preference from the
// Accept header; no recognized profile content type means no restriction.
func acceptedProtocols(r *http.Request) []string {
	var accepted []string
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		switch mediaType {
		case connection.ContentTypeOpenVPN:
			accepted = append(accepted, config.ProtoOpenVPN)
		case connection.ContentTypeWireGuard:
			accepted = append(accepted, config.ProtoWireGuard)
		}
	}
	return accepted
}

func parseBoolValue(v string) bool {
	switch strings.ToLower(v) {
	case "yes", "on", "true", "1":
		return true
	}
	return false
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
