// Package portal wires the portal's components together and manages
// their lifecycle.
package portal

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/altivon/vpn-portal/internal/portal/api"
	"github.com/altivon/vpn-portal/internal/portal/auth"
	"github.com/altivon/vpn-portal/internal/portal/auth/dbauth"
	"github.com/altivon/vpn-portal/internal/portal/auth/ldapauth"
	"github.com/altivon/vpn-portal/internal/portal/auth/radiusauth"
	"github.com/altivon/vpn-portal/internal/portal/auth/samlauth"
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
	"github.com/altivon/vpn-portal/pkg/crypto"
)

// Service coordinates all portal components and manages their lifecycle.
type Service struct {
	cfg    *config.Config
	logger *logger.Logger

	store    db.Store
	sessions *session.Store
	bus      *events.Bus
	manager  *connection.Manager
	server   *api.Server

	ctx    context.Context
	cancel context.CancelFunc

	signalChan chan os.Signal
	shutdownWg sync.WaitGroup
	mu         sync.RWMutex
	isRunning  bool
}

// NewService creates a Service and initializes all components in
// dependency order.
func NewService(cfg *config.Config, log *logger.Logger) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		cfg:        cfg,
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
		signalChan: make(chan os.Signal, 1),
	}

	if err := s.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize service components: %w", err)
	}
	return s, nil
}

func (s *Service) initializeComponents() error {
	s.logger.Debug("initializing database store")
	store, err := db.NewStore(&db.Config{
		Path:            s.cfg.DB.Path,
		MaxOpenConns:    s.cfg.DB.MaxOpenConns,
		MaxIdleConns:    s.cfg.DB.MaxIdleConns,
		ConnMaxLifetime: s.cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database store: %w", err)
	}
	s.store = store

	s.logger.Debug("initializing session store")
	s.sessions = session.NewStore(s.cfg.Sessions)

	s.logger.Debug("initializing certificate authority")
	ca, err := loadOrCreateCA(s.cfg.CA)
	if err != nil {
		return fmt.Errorf("failed to initialize certificate authority: %w", err)
	}

	s.bus = events.NewBus(s.logger.WithComponent("events"))

	nodes := nodeclient.NewClient(s.cfg.Node.Timeout, s.logger.WithComponent("nodeclient"))
	s.manager = connection.NewManager(s.cfg, s.store, nodes, ca, s.bus,
		s.logger.WithComponent("connection"))

	s.logger.Debug("initializing credential backend", "method", s.cfg.Auth.Method)
	validator, samlMapper, err := s.buildCredentialBackend()
	if err != nil {
		return err
	}

	chain := hooks.NewChain(s.logger.WithComponent("hooks"),
		hooks.NewCredentialHook(validator),
		hooks.NewStaticPermissionsHook(&s.cfg.Auth),
		hooks.NewSourceIPPermissionsHook(&s.cfg.Auth),
		hooks.NewAccountHook(s.store),
		hooks.NewSessionRefreshHook(s.store, s.sessions),
	)

	issuer := bearer.NewJWTValidator(s.cfg.Bearer.SigningKey, s.cfg.Bearer.Issuer)
	s.server = api.NewServer(s.cfg, api.Deps{
		Store:      s.store,
		Manager:    s.manager,
		Nodes:      nodes,
		Tokens:     issuer,
		Issuer:     issuer,
		Sessions:   s.sessions,
		Chain:      chain,
		SAMLMapper: samlMapper,
		Bus:        s.bus,
		Logger:     s.logger.WithComponent("api"),
	})

	return nil
}

// buildCredentialBackend selects the credential validator for the
// configured auth method. The SAML method has no password validator; the
// identity arrives as gateway attributes and only the mapper is set.
func (s *Service) buildCredentialBackend() (auth.Validator, *samlauth.Mapper, error) {
	authLog := s.logger.WithComponent("auth")

	switch s.cfg.Auth.Method {
	case "db":
		return dbauth.NewValidator(s.store, authLog), nil, nil
	case "static":
		return staticauth.NewValidator(s.cfg.Auth.Static), nil, nil
	case "ldap":
		return ldapauth.NewValidator(s.cfg.Auth.LDAP, authLog), nil, nil
	case "ldap_ad":
		return ldapauth.NewADGroup(ldapauth.NewValidator(s.cfg.Auth.LDAP, authLog), authLog), nil, nil
	case "radius":
		return radiusauth.NewValidator(s.cfg.Auth.RADIUS, authLog), nil, nil
	case "saml":
		return nil, samlauth.NewMapper(s.cfg.Auth.SAML), nil
	default:
		return nil, nil, fmt.Errorf("unsupported auth method: %s", s.cfg.Auth.Method)
	}
}

// loadOrCreateCA loads the CA from disk, creating and persisting a new
// one on first start.
func loadOrCreateCA(cfg config.CAConfig) (*crypto.CA, error) {
	certPEM, certErr := os.ReadFile(cfg.CertPath)
	keyPEM, keyErr := os.ReadFile(cfg.KeyPath)
	if certErr == nil && keyErr == nil {
		return crypto.LoadCA(certPEM, keyPEM)
	}
	if !os.IsNotExist(certErr) && certErr != nil {
		return nil, certErr
	}
	if !os.IsNotExist(keyErr) && keyErr != nil {
		return nil, keyErr
	}

	ca, err := crypto.NewCA("vpn-portal-ca", 10*365*24*time.Hour)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.CertPath), 0o755); err != nil {
		return nil, err
	}
	keyOut, err := ca.KeyPEM()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(cfg.CertPath, []byte(ca.CertificatePEM()), 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(cfg.KeyPath, []byte(keyOut), 0o600); err != nil {
		return nil, err
	}
	return ca, nil
}

// Start brings up the API server and the background sync/sweep loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return fmt.Errorf("service already running")
	}

	if err := s.server.Start(ctx); err != nil {
		return err
	}

	s.shutdownWg.Add(1)
	go func() {
		defer s.shutdownWg.Done()
		s.manager.Run(s.ctx)
	}()

	signal.Notify(s.signalChan, syscall.SIGINT, syscall.SIGTERM)
	s.isRunning = true

	s.logger.InfoContext(ctx, "portal service started")
	return nil
}

// Stop shuts everything down in reverse dependency order.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return nil
	}

	s.logger.InfoContext(ctx, "stopping portal service")
	s.cancel()
	s.shutdownWg.Wait()

	if err := s.server.Stop(ctx); err != nil {
		s.logger.ErrorCtx(ctx, "api server stop failed", err)
	}
	if err := s.bus.Close(); err != nil {
		s.logger.ErrorCtx(ctx, "event bus close failed", err)
	}
	if err := s.sessions.Close(); err != nil {
		s.logger.ErrorCtx(ctx, "session store close failed", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.ErrorCtx(ctx, "database close failed", err)
	}

	s.isRunning = false
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then stops the service.
func (s *Service) WaitForShutdown() {
	sig := <-s.signalChan
	s.logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Service.ShutdownTimeout)
	defer cancel()

	if err := s.Stop(shutdownCtx); err != nil {
		s.logger.ErrorCtx(shutdownCtx, "service stop failed", err)
	}
}
