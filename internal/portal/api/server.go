// Package api is the portal's HTTP surface: the /v3 client API under
// OAuth bearer auth, the legacy node callback endpoints, and the admin
// endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/altivon/vpn-portal/internal/portal/auth/samlauth"
	"github.com/altivon/vpn-portal/internal/portal/bearer"
	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/portal/connection"
	"github.com/altivon/vpn-portal/internal/portal/db"
	"github.com/altivon/vpn-portal/internal/portal/events"
	"github.com/altivon/vpn-portal/internal/portal/hooks"
	"github.com/altivon/vpn-portal/internal/portal/session"
	"github.com/altivon/vpn-portal/internal/shared/logger"
)

// ConnectionManager is the lifecycle surface the API server depends on.
type ConnectionManager interface {
	Connect(ctx context.Context, req connection.ConnectRequest) (*connection.ConnectResult, error)
	Disconnect(ctx context.Context, userID, profileID, connectionID string) error
	DisconnectByUserID(ctx context.Context, userID string, deleteMode bool) error
	DisconnectByAuthKey(ctx context.Context, authKey string) error
	HandleNodeConnected(ctx context.Context, profileID, connectionID, originatingIP, ipFour, ipSix string) error
	HandleNodeDisconnected(ctx context.Context, profileID, connectionID string, bytesIn, bytesOut int64)
	Sync(ctx context.Context) error
}

// Deps bundles the server's collaborators.
type Deps struct {
	Store      db.Store
	Manager    ConnectionManager
	Nodes      connection.NodeGateway
	Tokens     bearer.Validator
	Issuer     *bearer.JWTValidator
	Sessions   *session.Store
	Chain      *hooks.Chain
	SAMLMapper *samlauth.Mapper
	Bus        *events.Bus
	Logger     *logger.Logger
}

// Server is the portal HTTP server with lifecycle management.
type Server struct {
	server     *http.Server
	cfg        *config.Config
	store      db.Store
	manager    ConnectionManager
	nodes      connection.NodeGateway
	tokens     bearer.Validator
	issuer     *bearer.JWTValidator
	sessions   *session.Store
	chain      *hooks.Chain
	samlMapper *samlauth.Mapper
	bus        *events.Bus
	logger     *logger.Logger
}

// NewServer creates the portal API server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.NewDevelopment("api")
	}
	return &Server{
		cfg:        cfg,
		store:      deps.Store,
		manager:    deps.Manager,
		nodes:      deps.Nodes,
		tokens:     deps.Tokens,
		issuer:     deps.Issuer,
		sessions:   deps.Sessions,
		chain:      deps.Chain,
		samlMapper: deps.SAMLMapper,
		bus:        deps.Bus,
		logger:     log,
		server: &http.Server{
			Addr:         cfg.API.ListenAddr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler builds the full route table with middleware applied; exposed so
// tests can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler())

	// Login surface: credential validation through the hook chain, then a
	// session and a bearer token.
	mux.HandleFunc("POST /login", s.loginHandler())
	mux.HandleFunc("POST /logout", s.logoutHandler())

	// Client API, bearer-authenticated.
	authed := Chain(BearerAuth(s.tokens))
	mux.Handle("GET /v3/info", authed(s.infoHandler()))
	mux.Handle("POST /v3/connect", authed(s.connectHandler()))
	mux.Handle("POST /v3/disconnect", authed(s.disconnectHandler()))

	// Admin API, bearer-authenticated plus admin scope.
	admin := Chain(BearerAuth(s.tokens), s.requireAdmin)
	mux.Handle("GET /v3/admin/users", admin(s.adminListUsersHandler()))
	mux.Handle("POST /v3/admin/users/{userID}/disable", admin(s.adminDisableUserHandler()))
	mux.Handle("POST /v3/admin/users/{userID}/enable", admin(s.adminEnableUserHandler()))
	mux.Handle("DELETE /v3/admin/users/{userID}", admin(s.adminDeleteUserHandler()))
	mux.Handle("GET /v3/admin/users/{userID}/log", admin(s.adminConnectionLogHandler()))
	mux.Handle("GET /v3/admin/connections", admin(s.adminListConnectionsHandler()))
	mux.Handle("GET /v3/admin/nodes", admin(s.adminNodeHealthHandler()))

	// Legacy node callbacks, shared-token authenticated, literal OK/ERR
	// bodies.
	node := Chain(NodeAuth(s.cfg.Node.AuthToken))
	mux.Handle("POST /node/connect", node(s.nodeConnectHandler()))
	mux.Handle("POST /node/disconnect", node(s.nodeDisconnectHandler()))

	return Chain(
		RequestID(s.logger),
		Recovery(),
		Logging(),
	)(mux)
}

// Start starts the HTTP server and begins serving requests.
func (s *Server) Start(ctx context.Context) error {
	s.server.Handler = s.Handler()

	s.logger.InfoContext(ctx, "starting API server", "address", s.server.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("api server failed to start: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		s.logger.InfoContext(ctx, "API server started", "address", s.server.Addr)
		return nil
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Service.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	return nil
}

// healthHandler reports process liveness and database reachability.
func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if err := s.store.Ping(r.Context()); err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		_ = WriteJSON(w, code, map[string]string{"status": status})
	}
}

// requireAdmin rejects tokens without the admin scope.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := GetToken(r.Context())
		if token == nil || !token.HasScope("admin") {
			_ = WriteJSON(w, http.StatusForbidden, map[string]string{"error": "admin scope required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
