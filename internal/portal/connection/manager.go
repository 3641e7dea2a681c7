// Package connection owns the connection lifecycle: admission, address
// allocation, persistence, node push and teardown. Every connect runs the
// admit-evict-insert sequence inside one database transaction so two
// concurrent connects cannot both observe a free slot.
package connection

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/event"

	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/portal/db"
	"github.com/altivon/vpn-portal/internal/portal/events"
	"github.com/altivon/vpn-portal/internal/portal/ippool"
	"github.com/altivon/vpn-portal/internal/portal/nodeclient"
	"github.com/altivon/vpn-portal/internal/portal/quota"
	"github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/altivon/vpn-portal/internal/shared/logger"
	"github.com/altivon/vpn-portal/pkg/api"
	"github.com/altivon/vpn-portal/pkg/crypto"
)

// NodeGateway abstracts the node client so tests can substitute a fake.
type NodeGateway interface {
	Connect(ctx context.Context, nodeURL string, req *api.NodeConnectRequest) error
	Disconnect(ctx context.Context, nodeURL string, req *api.NodeDisconnectRequest) error
	Info(ctx context.Context, nodeURL string) *nodeclient.NodeInfo
}

// ConnectRequest carries everything needed to issue a new connection.
type ConnectRequest struct {
	UserID      string
	ProfileID   string
	DisplayName string

	// AcceptedProtocols is the caller's protocol preference list in
	// order; empty means any protocol the profile supports.
	AcceptedProtocols []string
	PreferTCP         bool

	// PublicKey is a client-generated WireGuard public key. When set the
	// portal never sees the private half and the returned configuration
	// carries a placeholder instead of a private key.
	PublicKey string

	// AuthKey links the connection to the OAuth authorization that
	// created it; empty for portal downloads.
	AuthKey string

	OriginatingIP string
	ExpiresAt     time.Time
}

// ConnectResult is the issued client configuration.
type ConnectResult struct {
	Protocol     string
	ConnectionID string
	ContentType  string
	Config       string
	ExpiresAt    time.Time
}

// Manager drives the connection state machine.
type Manager struct {
	cfg    *config.Config
	store  db.Store
	nodes  NodeGateway
	quota  *quota.Tracker
	ca     *crypto.CA
	bus    *events.Bus
	logger *logger.Logger

	now func() time.Time
}

// NewManager creates a connection manager and registers the audit
// subscribers that turn lifecycle events into connection log rows.
func NewManager(cfg *config.Config, store db.Store, nodes NodeGateway, ca *crypto.CA, bus *events.Bus, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDevelopment("connection")
	}
	m := &Manager{
		cfg:    cfg,
		store:  store,
		nodes:  nodes,
		quota:  quota.NewTracker(cfg.Limits),
		ca:     ca,
		bus:    bus,
		logger: log,
		now:    time.Now,
	}
	m.registerAuditSubscribers()
	return m
}

func (m *Manager) registerAuditSubscribers() {
	m.bus.Subscribe(events.EventConnectionOpened, event.ListenerFunc(func(e event.Event) error {
		payload, ok := events.Payload[events.ConnectionOpenedEvent](e)
		if !ok {
			return nil
		}
		return m.store.ConnectionLogOpen(context.Background(), db.ConnectionLogOpenParams{
			UserID:       payload.UserID,
			ProfileID:    payload.ProfileID,
			ConnectionID: payload.ConnectionID,
			IPFour:       payload.IPFour,
			IPSix:        payload.IPSix,
			ConnectedAt:  payload.Timestamp,
		})
	}))

	m.bus.Subscribe(events.EventConnectionClosed, event.ListenerFunc(func(e event.Event) error {
		payload, ok := events.Payload[events.ConnectionClosedEvent](e)
		if !ok {
			return nil
		}
		_, err := m.store.ConnectionLogClose(context.Background(), db.ConnectionLogCloseParams{
			ConnectionID:   payload.ConnectionID,
			DisconnectedAt: payload.Timestamp,
			BytesIn:        payload.BytesIn,
			BytesOut:       payload.BytesOut,
		})
		return err
	}))

	// Teardown runs at high priority so the nodes drop the user's peers
	// before audit listeners record the disable.
	m.bus.SubscribeHigh(events.EventUserDisabled, event.ListenerFunc(func(e event.Event) error {
		payload, ok := events.Payload[events.UserDisabledEvent](e)
		if !ok {
			return nil
		}
		return m.DisconnectByUserID(context.Background(), payload.UserID, false)
	}))
}

// Connect issues a new connection: negotiate the protocol, admit under
// the quota ceilings, allocate addresses, persist, push to the profile's
// nodes, return the client configuration. A node push failure rolls the
// persisted row back so no orphaned entries survive without a live peer.
func (m *Manager) Connect(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	if req.UserID == "" {
		return nil, errors.NewValidationError("user_id", "user_id is required")
	}
	if req.ProfileID == "" {
		return nil, errors.NewValidationError("profile_id", "profile_id is required")
	}

	profile := m.cfg.ProfileByID(req.ProfileID)
	if profile == nil {
		return nil, errors.NewAccessError(errors.ErrCodeProfileNotFound,
			fmt.Sprintf("no such profile_id: %s", req.ProfileID), nil)
	}

	proto, err := negotiateProtocol(profile, req.AcceptedProtocols)
	if err != nil {
		return nil, err
	}

	now := m.now()
	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(m.cfg.Service.ConnectionExpiry)
	}

	log := m.logger.With(
		"user_id", req.UserID,
		"profile_id", req.ProfileID,
		"protocol", proto,
	)

	switch proto {
	case config.ProtoOpenVPN:
		return m.connectOpenVPN(ctx, log, profile, req, now, expiresAt)
	case config.ProtoWireGuard:
		return m.connectWireGuard(ctx, log, profile, req, now, expiresAt)
	default:
		return nil, errors.NewConnectionError(errors.ErrCodeProtocolNegotiation,
			fmt.Sprintf("unsupported protocol: %s", proto), nil)
	}
}

func (m *Manager) connectOpenVPN(ctx context.Context, log *logger.Logger, profile *config.ProfileConfig, req ConnectRequest, now, expiresAt time.Time) (*ConnectResult, error) {
	if m.ca == nil {
		return nil, errors.NewConnectionError(errors.ErrCodeInternal, "no certificate authority configured", nil)
	}

	commonName := uuid.NewString()
	cert, err := m.ca.IssueClientCertificate(commonName, expiresAt)
	if err != nil {
		return nil, errors.NewConnectionError(errors.ErrCodeInternal, "failed to issue client certificate", err)
	}

	var evicted []db.Configuration
	err = m.store.ExecTx(ctx, func(q *db.Queries) error {
		evicted, err = m.admit(ctx, q, profile, req, now)
		if err != nil {
			return err
		}
		if err := m.evict(ctx, q, evicted); err != nil {
			return err
		}
		_, err = q.OCertAdd(ctx, db.OCertAddParams{
			CommonName:  commonName,
			UserID:      req.UserID,
			ProfileID:   profile.ProfileID,
			DisplayName: req.DisplayName,
			AuthKey:     nullString(req.AuthKey),
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
		})
		if err != nil {
			return errors.NewDatabaseError("failed to persist certificate", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.teardownEvicted(ctx, evicted)

	if err := m.pushConnect(ctx, profile, &api.NodeConnectRequest{
		ProfileID:     profile.ProfileID,
		CommonName:    commonName,
		OriginatingIP: req.OriginatingIP,
		ConnectedAt:   now.Unix(),
	}); err != nil {
		m.rollbackOpenVPN(ctx, log, commonName)
		return nil, err
	}

	log.InfoContext(ctx, "connection issued", "connection_id", commonName)
	return &ConnectResult{
		Protocol:     config.ProtoOpenVPN,
		ConnectionID: commonName,
		ContentType:  ContentTypeOpenVPN,
		Config:       renderOpenVPNProfile(profile, m.ca, cert, req.PreferTCP),
		ExpiresAt:    expiresAt,
	}, nil
}

func (m *Manager) connectWireGuard(ctx context.Context, log *logger.Logger, profile *config.ProfileConfig, req ConnectRequest, now, expiresAt time.Time) (*ConnectResult, error) {
	publicKey := req.PublicKey
	privateKey := ""
	if publicKey != "" {
		if !crypto.IsValidWireGuardKey(publicKey) {
			return nil, errors.NewValidationError("public_key", "not a valid WireGuard public key")
		}
	} else {
		keyPair, err := crypto.GenerateWireGuardKeyPair()
		if err != nil {
			return nil, errors.NewConnectionError(errors.ErrCodeInternal, "failed to generate WireGuard key pair", err)
		}
		publicKey = keyPair.PublicKey
		privateKey = keyPair.PrivateKey
	}

	poolFour, err := ippool.NewPool(profile.WireGuardRangeFour)
	if err != nil {
		return nil, errors.NewConnectionError(errors.ErrCodeInternal, "invalid wireguard address range", err)
	}
	var poolSix *ippool.Pool
	if profile.WireGuardRangeSix != "" {
		poolSix, err = ippool.NewPool(profile.WireGuardRangeSix)
		if err != nil {
			return nil, errors.NewConnectionError(errors.ErrCodeInternal, "invalid wireguard address range", err)
		}
	}

	var (
		evicted         []db.Configuration
		ipFour, ipSix   string
		cfgFour, cfgSix string
	)
	err = m.store.ExecTx(ctx, func(q *db.Queries) error {
		if err := releaseStalePeer(ctx, q, publicKey, now); err != nil {
			return err
		}
		evicted, err = m.admit(ctx, q, profile, req, now)
		if err != nil {
			return err
		}
		if err := m.evict(ctx, q, evicted); err != nil {
			return err
		}

		taken, err := q.WPeerAllocatedIPs(ctx, profile.ProfileID)
		if err != nil {
			return errors.NewDatabaseError("failed to list allocated addresses", err)
		}

		addrFour, err := poolFour.Allocate(taken)
		if err != nil {
			return err
		}
		ipFour = addrFour.String()
		cfgFour = fmt.Sprintf("%s/%d", ipFour, poolFour.Prefix().Bits())

		if poolSix != nil {
			addrSix, err := poolSix.Allocate(taken)
			if err != nil {
				return err
			}
			ipSix = addrSix.String()
			cfgSix = fmt.Sprintf("%s/%d", ipSix, poolSix.Prefix().Bits())
		}

		_, err = q.WPeerAdd(ctx, db.WPeerAddParams{
			PublicKey:   publicKey,
			UserID:      req.UserID,
			ProfileID:   profile.ProfileID,
			DisplayName: req.DisplayName,
			IPFour:      ipFour,
			IPSix:       ipSix,
			AuthKey:     nullString(req.AuthKey),
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
		})
		if err != nil {
			return errors.NewDatabaseError("failed to persist peer", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.teardownEvicted(ctx, evicted)

	if err := m.pushConnect(ctx, profile, &api.NodeConnectRequest{
		ProfileID:     profile.ProfileID,
		PublicKey:     publicKey,
		IPFour:        ipFour,
		IPSix:         ipSix,
		OriginatingIP: req.OriginatingIP,
		ConnectedAt:   now.Unix(),
	}); err != nil {
		m.rollbackWireGuard(ctx, log, publicKey)
		return nil, err
	}

	// A client reconnecting with its previous key may still have a pending
	// removal queued; the sync loop must not tear the new peer down.
	if _, err := m.store.NodeRemovalDelete(ctx, publicKey); err != nil {
		log.WarnContext(ctx, "failed to drop pending removal", "connection_id", publicKey, "error", err)
	}

	log.InfoContext(ctx, "connection issued", "connection_id", publicKey, "ip_four", ipFour)
	return &ConnectResult{
		Protocol:     config.ProtoWireGuard,
		ConnectionID: publicKey,
		ContentType:  ContentTypeWireGuard,
		Config: renderWireGuardConfig(profile, wireGuardParams{
			PrivateKey: privateKey,
			IPFour:     cfgFour,
			IPSix:      cfgSix,
			ExpiresAt:  expiresAt,
		}),
		ExpiresAt: expiresAt,
	}, nil
}

// releaseStalePeer frees a peer row holding the requested public key when
// the row already expired but the sweeper has not collected it yet, so a
// client can reconnect with its existing key. A key still within its
// lifetime stays reserved.
func releaseStalePeer(ctx context.Context, q *db.Queries, publicKey string, now time.Time) error {
	existing, err := q.WPeerGet(ctx, publicKey)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errors.NewDatabaseError("failed to look up peer", err)
	}
	if existing.ExpiresAt.After(now) {
		return errors.NewValidationError("public_key", "public key already in use")
	}
	if _, err := q.WPeerDelete(ctx, publicKey); err != nil {
		return errors.NewDatabaseError("failed to release expired peer", err)
	}
	return nil
}

// admit runs the quota check in the scope matching the connection kind:
// API ceilings for authorization-linked connects, portal ceilings for
// browser downloads.
func (m *Manager) admit(ctx context.Context, q *db.Queries, profile *config.ProfileConfig, req ConnectRequest, now time.Time) ([]db.Configuration, error) {
	if req.AuthKey != "" {
		return m.quota.Admit(ctx, q, req.UserID, profile.ProfileID, profile.APICeiling(), now)
	}
	return m.quota.AdmitPortal(ctx, q, req.UserID, profile.ProfileID, profile.PortalCeiling(), now)
}

// evict removes the picked configurations inside the admission
// transaction. Rows already gone are skipped, not errors.
func (m *Manager) evict(ctx context.Context, q *db.Queries, evicted []db.Configuration) error {
	for _, c := range evicted {
		var err error
		switch c.Protocol {
		case config.ProtoOpenVPN:
			_, err = q.OCertDelete(ctx, c.ConnectionID)
		case config.ProtoWireGuard:
			_, err = q.WPeerDelete(ctx, c.ConnectionID)
		}
		if err != nil {
			return errors.NewDatabaseError("failed to evict configuration", err)
		}
	}
	return nil
}

// teardownEvicted drops evicted peers from nodes and publishes eviction
// events. Node failures here are logged, never fatal: the next sync pass
// converges node state.
func (m *Manager) teardownEvicted(ctx context.Context, evicted []db.Configuration) {
	for _, c := range evicted {
		m.pushDisconnect(ctx, c.ProfileID, c.Protocol, c.ConnectionID, 0, 0)
		if err := m.bus.PublishConnectionEvicted(events.ConnectionEvictedEvent{
			UserID:       c.UserID,
			ProfileID:    c.ProfileID,
			ConnectionID: c.ConnectionID,
			Protocol:     c.Protocol,
			Timestamp:    m.now(),
		}); err != nil {
			m.logger.WarnContext(ctx, "failed to publish eviction event", "error", err)
		}
	}
}

// pushConnect pushes the new peer/session to every node of the profile.
// When a later node rejects, nodes that already accepted get a
// compensating disconnect before the error surfaces.
func (m *Manager) pushConnect(ctx context.Context, profile *config.ProfileConfig, req *api.NodeConnectRequest) error {
	var pushed []string
	for _, nodeURL := range profile.NodeURLs {
		if err := m.nodes.Connect(ctx, nodeURL, req); err != nil {
			m.logger.ErrorCtx(ctx, "node push failed", err, "node_url", nodeURL)
			for _, done := range pushed {
				if derr := m.nodes.Disconnect(ctx, done, &api.NodeDisconnectRequest{
					ProfileID:  req.ProfileID,
					CommonName: req.CommonName,
					PublicKey:  req.PublicKey,
				}); derr != nil {
					m.logger.WarnContext(ctx, "compensating disconnect failed", "node_url", done, "error", derr)
				}
			}
			return err
		}
		pushed = append(pushed, nodeURL)
	}
	return nil
}

// pushDisconnect drops a peer/session from every node of the profile.
// The database row is usually already gone when this runs, so a failed
// delivery is recorded as a pending removal and the sync loop retries it
// until the nodes acknowledge.
func (m *Manager) pushDisconnect(ctx context.Context, profileID, proto, connectionID string, bytesIn, bytesOut int64) {
	profile := m.cfg.ProfileByID(profileID)
	if profile == nil {
		return
	}
	if m.disconnectNodes(ctx, profile, proto, connectionID, bytesIn, bytesOut) {
		return
	}
	if err := m.store.NodeRemovalAdd(ctx, db.NodeRemovalAddParams{
		ConnectionID: connectionID,
		ProfileID:    profileID,
		Protocol:     proto,
		CreatedAt:    m.now(),
	}); err != nil {
		m.logger.ErrorCtx(ctx, "failed to record pending removal", err, "connection_id", connectionID)
	}
}

// disconnectNodes pushes the disconnect to every node of the profile and
// reports whether all of them took it.
func (m *Manager) disconnectNodes(ctx context.Context, profile *config.ProfileConfig, proto, connectionID string, bytesIn, bytesOut int64) bool {
	req := &api.NodeDisconnectRequest{
		ProfileID: profile.ProfileID,
		BytesIn:   bytesIn,
		BytesOut:  bytesOut,
	}
	switch proto {
	case config.ProtoOpenVPN:
		req.CommonName = connectionID
	case config.ProtoWireGuard:
		req.PublicKey = connectionID
	}
	delivered := true
	for _, nodeURL := range profile.NodeURLs {
		if err := m.nodes.Disconnect(ctx, nodeURL, req); err != nil {
			m.logger.WarnContext(ctx, "node disconnect failed",
				"node_url", nodeURL, "connection_id", connectionID, "error", err)
			delivered = false
		}
	}
	return delivered
}

func (m *Manager) rollbackOpenVPN(ctx context.Context, log *logger.Logger, commonName string) {
	if _, err := m.store.OCertDelete(ctx, commonName); err != nil {
		log.ErrorCtx(ctx, "rollback of certificate failed", err, "connection_id", commonName)
	}
}

func (m *Manager) rollbackWireGuard(ctx context.Context, log *logger.Logger, publicKey string) {
	if _, err := m.store.WPeerDelete(ctx, publicKey); err != nil {
		log.ErrorCtx(ctx, "rollback of peer failed", err, "connection_id", publicKey)
	}
}

// Disconnect removes one connection. Calling it for a connection that is
// already gone is a no-op, not an error.
func (m *Manager) Disconnect(ctx context.Context, userID, profileID, connectionID string) error {
	if connectionID == "" {
		return errors.NewValidationError("connection_id", "connection_id is required")
	}

	if cert, err := m.store.OCertGet(ctx, connectionID); err == nil {
		if cert.UserID != userID || cert.ProfileID != profileID {
			return errors.NewConnectionError(errors.ErrCodeConnectionNotFound, "connection not found", nil)
		}
		if _, err := m.store.OCertDelete(ctx, connectionID); err != nil {
			return errors.NewDatabaseError("failed to delete certificate", err)
		}
		m.pushDisconnect(ctx, cert.ProfileID, config.ProtoOpenVPN, connectionID, 0, 0)
		return nil
	} else if !stderrors.Is(err, sql.ErrNoRows) {
		return errors.NewDatabaseError("failed to look up certificate", err)
	}

	if peer, err := m.store.WPeerGet(ctx, connectionID); err == nil {
		if peer.UserID != userID || peer.ProfileID != profileID {
			return errors.NewConnectionError(errors.ErrCodeConnectionNotFound, "connection not found", nil)
		}
		if _, err := m.store.WPeerDelete(ctx, connectionID); err != nil {
			return errors.NewDatabaseError("failed to delete peer", err)
		}
		m.pushDisconnect(ctx, peer.ProfileID, config.ProtoWireGuard, connectionID, 0, 0)
		return nil
	} else if !stderrors.Is(err, sql.ErrNoRows) {
		return errors.NewDatabaseError("failed to look up peer", err)
	}

	// Already gone; disconnect is idempotent.
	return nil
}

// DisconnectByUserID tears down every connection of a user. With
// deleteMode the rows are removed; without it the rows stay for audit and
// the sync pass stops pushing them because the account is disabled.
func (m *Manager) DisconnectByUserID(ctx context.Context, userID string, deleteMode bool) error {
	certs, err := m.store.OCertListByUserID(ctx, userID)
	if err != nil {
		return errors.NewDatabaseError("failed to list certificates", err)
	}
	peers, err := m.store.WPeerListByUserID(ctx, userID)
	if err != nil {
		return errors.NewDatabaseError("failed to list peers", err)
	}

	for _, cert := range certs {
		m.pushDisconnect(ctx, cert.ProfileID, config.ProtoOpenVPN, cert.CommonName, 0, 0)
		if deleteMode {
			if _, err := m.store.OCertDelete(ctx, cert.CommonName); err != nil {
				return errors.NewDatabaseError("failed to delete certificate", err)
			}
		}
	}
	for _, peer := range peers {
		m.pushDisconnect(ctx, peer.ProfileID, config.ProtoWireGuard, peer.PublicKey, 0, 0)
		if deleteMode {
			if _, err := m.store.WPeerDelete(ctx, peer.PublicKey); err != nil {
				return errors.NewDatabaseError("failed to delete peer", err)
			}
		}
	}

	m.logger.InfoContext(ctx, "user connections torn down",
		"user_id", userID, "delete_mode", deleteMode,
		"certificates", len(certs), "peers", len(peers))
	return nil
}

// DisconnectByAuthKey revokes a delegated authorization: the
// authorization row and every configuration it created go together.
func (m *Manager) DisconnectByAuthKey(ctx context.Context, authKey string) error {
	if authKey == "" {
		return errors.NewValidationError("auth_key", "auth_key is required")
	}

	certs, err := m.store.OCertListByAuthKey(ctx, authKey)
	if err != nil {
		return errors.NewDatabaseError("failed to list certificates", err)
	}
	peers, err := m.store.WPeerListByAuthKey(ctx, authKey)
	if err != nil {
		return errors.NewDatabaseError("failed to list peers", err)
	}

	userID := ""
	for _, cert := range certs {
		userID = cert.UserID
		m.pushDisconnect(ctx, cert.ProfileID, config.ProtoOpenVPN, cert.CommonName, 0, 0)
		if _, err := m.store.OCertDelete(ctx, cert.CommonName); err != nil {
			return errors.NewDatabaseError("failed to delete certificate", err)
		}
	}
	for _, peer := range peers {
		userID = peer.UserID
		m.pushDisconnect(ctx, peer.ProfileID, config.ProtoWireGuard, peer.PublicKey, 0, 0)
		if _, err := m.store.WPeerDelete(ctx, peer.PublicKey); err != nil {
			return errors.NewDatabaseError("failed to delete peer", err)
		}
	}

	if _, err := m.store.AuthorizationDelete(ctx, authKey); err != nil {
		return errors.NewDatabaseError("failed to delete authorization", err)
	}

	if err := m.bus.PublishAuthorizationReset(events.AuthorizationResetEvent{
		UserID:    userID,
		AuthKey:   authKey,
		Timestamp: m.now(),
	}); err != nil {
		m.logger.WarnContext(ctx, "failed to publish authorization reset event", "error", err)
	}
	return nil
}

// HandleNodeConnected validates a node's connect callback against the
// persisted configurations. Unknown or expired identifiers are an error
// so the node rejects the client; a successful validation opens a
// connection log entry via the event bus.
func (m *Manager) HandleNodeConnected(ctx context.Context, profileID, connectionID, originatingIP, ipFour, ipSix string) error {
	now := m.now()

	proto := ""
	userID := ""
	var expiresAt time.Time

	if cert, err := m.store.OCertGet(ctx, connectionID); err == nil {
		proto, userID, expiresAt = config.ProtoOpenVPN, cert.UserID, cert.ExpiresAt
		if cert.ProfileID != profileID {
			return errors.NewConnectionError(errors.ErrCodeConnectionNotFound, "connection not found", nil)
		}
	} else if peer, err := m.store.WPeerGet(ctx, connectionID); err == nil {
		proto, userID, expiresAt = config.ProtoWireGuard, peer.UserID, peer.ExpiresAt
		if peer.ProfileID != profileID {
			return errors.NewConnectionError(errors.ErrCodeConnectionNotFound, "connection not found", nil)
		}
	} else {
		return errors.NewConnectionError(errors.ErrCodeConnectionNotFound, "connection not found", nil)
	}

	if !expiresAt.After(now) {
		return errors.NewConnectionError(errors.ErrCodeConnectionNotFound, "connection expired", nil)
	}

	user, err := m.store.UserGet(ctx, userID)
	if err != nil {
		return errors.NewDatabaseError("failed to look up user", err)
	}
	if user.IsDisabled {
		return errors.NewAccessError(errors.ErrCodeUserDisabled, "account disabled", nil)
	}

	if err := m.store.UserUpdateLastSeen(ctx, userID, now); err != nil {
		m.logger.WarnContext(ctx, "failed to update last seen", "user_id", userID, "error", err)
	}

	if err := m.bus.PublishConnectionOpened(events.ConnectionOpenedEvent{
		UserID:       userID,
		ProfileID:    profileID,
		ConnectionID: connectionID,
		Protocol:     proto,
		IPFour:       ipFour,
		IPSix:        ipSix,
		Timestamp:    now,
	}); err != nil {
		m.logger.WarnContext(ctx, "failed to publish connection opened event", "error", err)
	}

	m.logger.InfoContext(ctx, "node reported connect",
		"profile_id", profileID, "connection_id", connectionID, "originating_ip", originatingIP)
	return nil
}

// HandleNodeDisconnected records a node's disconnect callback. Disconnect
// is best effort from the node's perspective; a missing log entry is not
// an error.
func (m *Manager) HandleNodeDisconnected(ctx context.Context, profileID, connectionID string, bytesIn, bytesOut int64) {
	userID := ""
	proto := ""
	if cert, err := m.store.OCertGet(ctx, connectionID); err == nil {
		userID, proto = cert.UserID, config.ProtoOpenVPN
	} else if peer, err := m.store.WPeerGet(ctx, connectionID); err == nil {
		userID, proto = peer.UserID, config.ProtoWireGuard
	}

	if err := m.bus.PublishConnectionClosed(events.ConnectionClosedEvent{
		UserID:       userID,
		ProfileID:    profileID,
		ConnectionID: connectionID,
		Protocol:     proto,
		BytesIn:      bytesIn,
		BytesOut:     bytesOut,
		Timestamp:    m.now(),
	}); err != nil {
		m.logger.WarnContext(ctx, "failed to publish connection closed event", "error", err)
	}
}

// Sync reconciles node state against persistence: active peers are
// re-pushed as idempotent upserts, stale peers (expired or belonging to
// disabled accounts) are removed. Node unreachability is logged and left
// for the next pass.
func (m *Manager) Sync(ctx context.Context) error {
	now := m.now()

	// Retry disconnects that failed after their rows were deleted. This
	// runs before the active re-push so a stale removal for a reissued
	// key cannot linger past the pass.
	removals, err := m.store.NodeRemovalList(ctx)
	if err != nil {
		return errors.NewDatabaseError("failed to list pending removals", err)
	}
	for _, r := range removals {
		profile := m.cfg.ProfileByID(r.ProfileID)
		if profile == nil {
			// Profile left the configuration, nothing to deliver to.
			if _, err := m.store.NodeRemovalDelete(ctx, r.ConnectionID); err != nil {
				m.logger.WarnContext(ctx, "failed to drop pending removal", "connection_id", r.ConnectionID, "error", err)
			}
			continue
		}
		if !m.disconnectNodes(ctx, profile, r.Protocol, r.ConnectionID, 0, 0) {
			continue
		}
		if _, err := m.store.NodeRemovalDelete(ctx, r.ConnectionID); err != nil {
			m.logger.WarnContext(ctx, "failed to drop pending removal", "connection_id", r.ConnectionID, "error", err)
		}
	}

	for i := range m.cfg.Profiles {
		profile := &m.cfg.Profiles[i]
		if !profile.SupportsProtocol(config.ProtoWireGuard) {
			continue
		}

		active, err := m.store.WPeerListActiveByProfile(ctx, profile.ProfileID, now)
		if err != nil {
			return errors.NewDatabaseError("failed to list active peers", err)
		}
		all, err := m.store.WPeerListByProfile(ctx, profile.ProfileID)
		if err != nil {
			return errors.NewDatabaseError("failed to list peers", err)
		}

		activeSet := make(map[string]struct{}, len(active))
		for _, peer := range active {
			activeSet[peer.PublicKey] = struct{}{}
		}

		for _, nodeURL := range profile.NodeURLs {
			for _, peer := range active {
				err := m.nodes.Connect(ctx, nodeURL, &api.NodeConnectRequest{
					ProfileID:   profile.ProfileID,
					PublicKey:   peer.PublicKey,
					IPFour:      peer.IPFour,
					IPSix:       peer.IPSix,
					ConnectedAt: peer.CreatedAt.Unix(),
				})
				if err != nil {
					m.logger.WarnContext(ctx, "sync push failed",
						"node_url", nodeURL, "connection_id", peer.PublicKey, "error", err)
				}
			}
			for _, peer := range all {
				if _, ok := activeSet[peer.PublicKey]; ok {
					continue
				}
				err := m.nodes.Disconnect(ctx, nodeURL, &api.NodeDisconnectRequest{
					ProfileID: profile.ProfileID,
					PublicKey: peer.PublicKey,
				})
				if err != nil {
					m.logger.WarnContext(ctx, "sync removal failed",
						"node_url", nodeURL, "connection_id", peer.PublicKey, "error", err)
				}
			}
		}
	}

	m.logger.DebugContext(ctx, "sync pass complete")
	return nil
}

// SweepExpired removes expired configurations, publishing an expiry event
// per removed row. Returns the number of removed configurations.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	now := m.now()

	expired, err := m.store.ExpiredConfigurations(ctx, now)
	if err != nil {
		return 0, errors.NewDatabaseError("failed to list expired configurations", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if _, err := m.store.OCertDeleteExpired(ctx, now); err != nil {
		return 0, errors.NewDatabaseError("failed to delete expired certificates", err)
	}
	if _, err := m.store.WPeerDeleteExpired(ctx, now); err != nil {
		return 0, errors.NewDatabaseError("failed to delete expired peers", err)
	}

	for _, c := range expired {
		m.pushDisconnect(ctx, c.ProfileID, c.Protocol, c.ConnectionID, 0, 0)
		if err := m.bus.PublishConnectionExpired(events.ConnectionExpiredEvent{
			UserID:       c.UserID,
			ProfileID:    c.ProfileID,
			ConnectionID: c.ConnectionID,
			Protocol:     c.Protocol,
			ExpiresAt:    c.ExpiresAt,
			Timestamp:    now,
		}); err != nil {
			m.logger.WarnContext(ctx, "failed to publish expiry event", "error", err)
		}
	}

	m.logger.InfoContext(ctx, "expired configurations swept", "count", len(expired))
	return len(expired), nil
}

// Run drives the periodic sync and expiry sweep until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	syncTicker := time.NewTicker(m.cfg.Service.SyncInterval)
	sweepTicker := time.NewTicker(m.cfg.Service.SweepInterval)
	defer syncTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-syncTicker.C:
			if err := m.Sync(ctx); err != nil {
				m.logger.ErrorCtx(ctx, "sync pass failed", err)
			}
		case <-sweepTicker.C:
			if _, err := m.SweepExpired(ctx); err != nil {
				m.logger.ErrorCtx(ctx, "expiry sweep failed", err)
			}
		}
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
