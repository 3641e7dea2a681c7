package api

import (
	"net/http"
	"time"

	"github.com/altivon/vpn-portal/internal/portal/events"
	apperrors "github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/altivon/vpn-portal/pkg/api"
)

// adminListUsersHandler returns every account.
func (s *Server) adminListUsersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := s.store.UserList(r.Context())
		if err != nil {
			WriteErrorResponse(w, r, apperrors.NewDatabaseError("failed to list users", err))
			return
		}

		infos := make([]api.UserInfo, 0, len(users))
		for _, user := range users {
			infos = append(infos, api.UserInfo{
				UserID:         user.UserID,
				PermissionList: user.PermissionList,
				IsDisabled:     user.IsDisabled,
				LastSeen:       user.LastSeen,
			})
		}
		_ = WriteInfo(w, infos)
	}
}

// adminDisableUserHandler disables an account and tears its connections
// down. The rows stay for audit; the next sync pass stops pushing the
// user's peers.
func (s *Server) adminDisableUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := r.PathValue("userID")

		if err := s.store.UserDisable(ctx, userID); err != nil {
			WriteErrorResponse(w, r, apperrors.NewDatabaseError("failed to disable user", err))
			return
		}
		// The bus runs its listeners inline; the connection manager's
		// high-priority subscriber pushes the teardown to the nodes.
		if err := s.bus.PublishUserDisabled(events.UserDisabledEvent{
			UserID:    userID,
			Timestamp: time.Now(),
		}); err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		if err := s.manager.Sync(ctx); err != nil {
			GetLogger(ctx).ErrorCtx(ctx, "post-disable sync failed", err)
		}

		GetLogger(ctx).InfoContext(ctx, "user disabled", "user_id", userID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// adminEnableUserHandler re-enables an account; the next sync pass
// restores its peers on the nodes.
func (s *Server) adminEnableUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := r.PathValue("userID")

		if err := s.store.UserEnable(ctx, userID); err != nil {
			WriteErrorResponse(w, r, apperrors.NewDatabaseError("failed to enable user", err))
			return
		}
		if err := s.manager.Sync(ctx); err != nil {
			GetLogger(ctx).ErrorCtx(ctx, "post-enable sync failed", err)
		}

		GetLogger(ctx).InfoContext(ctx, "user enabled", "user_id", userID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// adminDeleteUserHandler removes an account, its delegated
// authorizations and all its connections.
func (s *Server) adminDeleteUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := r.PathValue("userID")

		auths, err := s.store.AuthorizationListByUserID(ctx, userID)
		if err != nil {
			WriteErrorResponse(w, r, apperrors.NewDatabaseError("failed to list authorizations", err))
			return
		}
		for _, auth := range auths {
			if err := s.manager.DisconnectByAuthKey(ctx, auth.AuthKey); err != nil {
				WriteErrorResponse(w, r, err)
				return
			}
		}
		if err := s.manager.DisconnectByUserID(ctx, userID, true); err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		if err := s.store.UserDelete(ctx, userID); err != nil {
			WriteErrorResponse(w, r, apperrors.NewDatabaseError("failed to delete user", err))
			return
		}

		GetLogger(ctx).InfoContext(ctx, "user deleted", "user_id", userID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// adminConnectionLogHandler returns a user's connection history.
func (s *Server) adminConnectionLogHandler() http.HandlerFunc {
	type logEntry struct {
		ProfileID      string     `json:"profile_id"`
		ConnectionID   string     `json:"connection_id"`
		IPFour         string     `json:"ip_four"`
		IPSix          string     `json:"ip_six"`
		ConnectedAt    time.Time  `json:"connected_at"`
		DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
		BytesIn        int64      `json:"bytes_in"`
		BytesOut       int64      `json:"bytes_out"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.store.ConnectionLogList(r.Context(), r.PathValue("userID"))
		if err != nil {
			WriteErrorResponse(w, r, apperrors.NewDatabaseError("failed to list connection log", err))
			return
		}

		out := make([]logEntry, 0, len(entries))
		for _, e := range entries {
			entry := logEntry{
				ProfileID:    e.ProfileID,
				ConnectionID: e.ConnectionID,
				IPFour:       e.IPFour,
				IPSix:        e.IPSix,
				ConnectedAt:  e.ConnectedAt,
				BytesIn:      e.BytesIn,
				BytesOut:     e.BytesOut,
			}
			if e.DisconnectedAt.Valid {
				t := e.DisconnectedAt.Time
				entry.DisconnectedAt = &t
			}
			out = append(out, entry)
		}
		_ = WriteInfo(w, out)
	}
}

// adminListConnectionsHandler returns every active configuration.
func (s *Server) adminListConnectionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		configurations, err := s.store.GlobalActiveConfigurations(r.Context(), time.Now())
		if err != nil {
			WriteErrorResponse(w, r, apperrors.NewDatabaseError("failed to list connections", err))
			return
		}

		infos := make([]api.ConnectionInfo, 0, len(configurations))
		for _, c := range configurations {
			infos = append(infos, api.ConnectionInfo{
				UserID:       c.UserID,
				ProfileID:    c.ProfileID,
				Protocol:     c.Protocol,
				ConnectionID: c.ConnectionID,
				DisplayName:  c.DisplayName,
				CreatedAt:    c.CreatedAt,
				ExpiresAt:    c.ExpiresAt,
				ViaAPI:       c.AuthKey.Valid,
			})
		}
		_ = WriteInfo(w, infos)
	}
}

// adminNodeHealthHandler aggregates the load reports of every node of
// every profile. Unreachable nodes appear offline; the view renders
// partial results instead of failing.
func (s *Server) adminNodeHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var health []api.NodeHealth
		for i := range s.cfg.Profiles {
			profile := &s.cfg.Profiles[i]
			for _, nodeURL := range profile.NodeURLs {
				info := s.nodes.Info(ctx, nodeURL)
				health = append(health, api.NodeHealth{
					ProfileID:      profile.ProfileID,
					NodeURL:        nodeURL,
					Online:         info.Online,
					RelLoadAverage: info.RelLoadAverage,
					LoadAverage:    info.LoadAverage,
					CPUCount:       info.CPUCount,
				})
			}
		}
		_ = WriteInfo(w, health)
	}
}
