package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBTX is the common interface of *sql.DB and *sql.Tx, so the same query
// set runs standalone or inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds all database query methods.
type Queries struct {
	db DBTX
}

// New creates a Queries instance bound to the given connection or
// transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Querier lists every query the store supports.
type Querier interface {
	// Users
	UserExists(ctx context.Context, userID string) (bool, error)
	UserAdd(ctx context.Context, arg UserAddParams) error
	UserGet(ctx context.Context, userID string) (User, error)
	UserList(ctx context.Context) ([]User, error)
	UserUpdate(ctx context.Context, arg UserUpdateParams) error
	UserUpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
	UserPermissionList(ctx context.Context, userID string) ([]string, error)
	UserDisable(ctx context.Context, userID string) error
	UserEnable(ctx context.Context, userID string) error
	UserDelete(ctx context.Context, userID string) error

	// Local credential table
	LocalUserAdd(ctx context.Context, username, passwordHash string) error
	LocalUserGet(ctx context.Context, username string) (LocalUser, error)
	LocalUserDelete(ctx context.Context, username string) error

	// OpenVPN certificates
	OCertAdd(ctx context.Context, arg OCertAddParams) (Certificate, error)
	OCertGet(ctx context.Context, commonName string) (Certificate, error)
	OCertListByUserID(ctx context.Context, userID string) ([]Certificate, error)
	OCertListByAuthKey(ctx context.Context, authKey string) ([]Certificate, error)
	OCertDelete(ctx context.Context, commonName string) (int64, error)
	OCertDeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// WireGuard peers
	WPeerAdd(ctx context.Context, arg WPeerAddParams) (WGPeer, error)
	WPeerGet(ctx context.Context, publicKey string) (WGPeer, error)
	WPeerListByUserID(ctx context.Context, userID string) ([]WGPeer, error)
	WPeerListByAuthKey(ctx context.Context, authKey string) ([]WGPeer, error)
	WPeerDelete(ctx context.Context, publicKey string) (int64, error)
	WPeerDeleteExpired(ctx context.Context, now time.Time) (int64, error)
	WPeerListActiveByProfile(ctx context.Context, profileID string, now time.Time) ([]WGPeer, error)
	WPeerListByProfile(ctx context.Context, profileID string) ([]WGPeer, error)
	WPeerAllocatedIPs(ctx context.Context, profileID string) ([]string, error)

	// Combined configuration views, ordered oldest first
	ActiveAPIConfigurations(ctx context.Context, userID string, now time.Time) ([]Configuration, error)
	ActiveProfileAPIConfigurations(ctx context.Context, userID, profileID string, now time.Time) ([]Configuration, error)
	ActivePortalConfigurations(ctx context.Context, userID, profileID string, now time.Time) ([]Configuration, error)
	GlobalActiveConfigurations(ctx context.Context, now time.Time) ([]Configuration, error)
	ExpiredConfigurations(ctx context.Context, now time.Time) ([]Configuration, error)

	// Authorizations
	AuthorizationAdd(ctx context.Context, arg Authorization) error
	AuthorizationGet(ctx context.Context, authKey string) (Authorization, error)
	AuthorizationListByUserID(ctx context.Context, userID string) ([]Authorization, error)
	AuthorizationDelete(ctx context.Context, authKey string) (int64, error)

	// Connection log
	ConnectionLogOpen(ctx context.Context, arg ConnectionLogOpenParams) error
	ConnectionLogClose(ctx context.Context, arg ConnectionLogCloseParams) (int64, error)
	ConnectionLogList(ctx context.Context, userID string) ([]ConnectionLogEntry, error)

	// Pending node removals
	NodeRemovalAdd(ctx context.Context, arg NodeRemovalAddParams) error
	NodeRemovalList(ctx context.Context) ([]NodeRemoval, error)
	NodeRemovalDelete(ctx context.Context, connectionID string) (int64, error)
}

var _ Querier = (*Queries)(nil)

// UserAddParams holds the arguments for UserAdd.
type UserAddParams struct {
	UserID         string
	PermissionList []string
	LastSeen       time.Time
}

// UserUpdateParams holds the arguments for the per-login refresh.
type UserUpdateParams struct {
	UserID         string
	PermissionList []string
	LastSeen       time.Time
}

// OCertAddParams holds the arguments for OCertAdd.
type OCertAddParams struct {
	CommonName  string
	UserID      string
	ProfileID   string
	DisplayName string
	AuthKey     sql.NullString
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// WPeerAddParams holds the arguments for WPeerAdd.
type WPeerAddParams struct {
	PublicKey   string
	UserID      string
	ProfileID   string
	DisplayName string
	IPFour      string
	IPSix       string
	AuthKey     sql.NullString
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// ConnectionLogOpenParams holds the arguments for ConnectionLogOpen.
type ConnectionLogOpenParams struct {
	UserID       string
	ProfileID    string
	ConnectionID string
	IPFour       string
	IPSix        string
	ConnectedAt  time.Time
}

// ConnectionLogCloseParams holds the arguments for ConnectionLogClose.
type ConnectionLogCloseParams struct {
	ConnectionID   string
	DisconnectedAt time.Time
	BytesIn        int64
	BytesOut       int64
}

func marshalPermissions(permissions []string) (string, error) {
	if permissions == nil {
		permissions = []string{}
	}
	raw, err := json.Marshal(permissions)
	if err != nil {
		return "", fmt.Errorf("failed to marshal permission list: %w", err)
	}
	return string(raw), nil
}

func unmarshalPermissions(raw string) ([]string, error) {
	var permissions []string
	if err := json.Unmarshal([]byte(raw), &permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permission list: %w", err)
	}
	return permissions, nil
}

// Users

func (q *Queries) UserExists(ctx context.Context, userID string) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE user_id = ?`, userID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (q *Queries) UserAdd(ctx context.Context, arg UserAddParams) error {
	permissions, err := marshalPermissions(arg.PermissionList)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO users (user_id, permission_list, is_disabled, last_seen)
		 VALUES (?, ?, 0, ?)`,
		arg.UserID, permissions, arg.LastSeen,
	)
	return err
}

func (q *Queries) UserGet(ctx context.Context, userID string) (User, error) {
	var (
		user           User
		rawPermissions string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT user_id, permission_list, is_disabled, last_seen, created_at
		 FROM users WHERE user_id = ?`, userID,
	).Scan(&user.UserID, &rawPermissions, &user.IsDisabled, &user.LastSeen, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	user.PermissionList, err = unmarshalPermissions(rawPermissions)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (q *Queries) UserList(ctx context.Context) ([]User, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT user_id, permission_list, is_disabled, last_seen, created_at
		 FROM users ORDER BY user_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var (
			user           User
			rawPermissions string
		)
		if err := rows.Scan(&user.UserID, &rawPermissions, &user.IsDisabled, &user.LastSeen, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.PermissionList, err = unmarshalPermissions(rawPermissions)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (q *Queries) UserUpdate(ctx context.Context, arg UserUpdateParams) error {
	permissions, err := marshalPermissions(arg.PermissionList)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`UPDATE users SET permission_list = ?, last_seen = ? WHERE user_id = ?`,
		permissions, arg.LastSeen, arg.UserID,
	)
	return err
}

func (q *Queries) UserUpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE users SET last_seen = ? WHERE user_id = ?`, lastSeen, userID,
	)
	return err
}

func (q *Queries) UserPermissionList(ctx context.Context, userID string) ([]string, error) {
	var rawPermissions string
	err := q.db.QueryRowContext(ctx,
		`SELECT permission_list FROM users WHERE user_id = ?`, userID,
	).Scan(&rawPermissions)
	if err != nil {
		return nil, err
	}
	return unmarshalPermissions(rawPermissions)
}

func (q *Queries) UserDisable(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE users SET is_disabled = 1 WHERE user_id = ?`, userID,
	)
	return err
}

func (q *Queries) UserEnable(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE users SET is_disabled = 0 WHERE user_id = ?`, userID,
	)
	return err
}

func (q *Queries) UserDelete(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM users WHERE user_id = ?`, userID,
	)
	return err
}

// Local credential table

func (q *Queries) LocalUserAdd(ctx context.Context, username, passwordHash string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO local_users (username, password_hash) VALUES (?, ?)`,
		username, passwordHash,
	)
	return err
}

func (q *Queries) LocalUserGet(ctx context.Context, username string) (LocalUser, error) {
	var user LocalUser
	err := q.db.QueryRowContext(ctx,
		`SELECT username, password_hash, created_at FROM local_users WHERE username = ?`,
		username,
	).Scan(&user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return LocalUser{}, err
	}
	return user, nil
}

func (q *Queries) LocalUserDelete(ctx context.Context, username string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM local_users WHERE username = ?`, username,
	)
	return err
}

// OpenVPN certificates

func (q *Queries) OCertAdd(ctx context.Context, arg OCertAddParams) (Certificate, error) {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO certificates (common_name, user_id, profile_id, display_name, auth_key, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arg.CommonName, arg.UserID, arg.ProfileID, arg.DisplayName, arg.AuthKey, arg.CreatedAt, arg.ExpiresAt,
	)
	if err != nil {
		return Certificate{}, err
	}
	return Certificate{
		CommonName:  arg.CommonName,
		UserID:      arg.UserID,
		ProfileID:   arg.ProfileID,
		DisplayName: arg.DisplayName,
		AuthKey:     arg.AuthKey,
		CreatedAt:   arg.CreatedAt,
		ExpiresAt:   arg.ExpiresAt,
	}, nil
}

const certColumns = `common_name, user_id, profile_id, display_name, auth_key, created_at, expires_at`

func scanCertificate(row interface{ Scan(...any) error }) (Certificate, error) {
	var cert Certificate
	err := row.Scan(&cert.CommonName, &cert.UserID, &cert.ProfileID, &cert.DisplayName,
		&cert.AuthKey, &cert.CreatedAt, &cert.ExpiresAt)
	return cert, err
}

func (q *Queries) OCertGet(ctx context.Context, commonName string) (Certificate, error) {
	return scanCertificate(q.db.QueryRowContext(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE common_name = ?`, commonName,
	))
}

func (q *Queries) certList(ctx context.Context, query string, args ...any) ([]Certificate, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var certs []Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, rows.Err()
}

func (q *Queries) OCertListByUserID(ctx context.Context, userID string) ([]Certificate, error) {
	return q.certList(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE user_id = ? ORDER BY created_at`, userID)
}

func (q *Queries) OCertListByAuthKey(ctx context.Context, authKey string) ([]Certificate, error) {
	return q.certList(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE auth_key = ? ORDER BY created_at`, authKey)
}

func (q *Queries) OCertDelete(ctx context.Context, commonName string) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM certificates WHERE common_name = ?`, commonName,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (q *Queries) OCertDeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM certificates WHERE expires_at <= ?`, now,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// WireGuard peers

func (q *Queries) WPeerAdd(ctx context.Context, arg WPeerAddParams) (WGPeer, error) {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO wg_peers (public_key, user_id, profile_id, display_name, ip_four, ip_six, auth_key, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.PublicKey, arg.UserID, arg.ProfileID, arg.DisplayName, arg.IPFour, arg.IPSix,
		arg.AuthKey, arg.CreatedAt, arg.ExpiresAt,
	)
	if err != nil {
		return WGPeer{}, err
	}
	return WGPeer{
		PublicKey:   arg.PublicKey,
		UserID:      arg.UserID,
		ProfileID:   arg.ProfileID,
		DisplayName: arg.DisplayName,
		IPFour:      arg.IPFour,
		IPSix:       arg.IPSix,
		AuthKey:     arg.AuthKey,
		CreatedAt:   arg.CreatedAt,
		ExpiresAt:   arg.ExpiresAt,
	}, nil
}

const peerColumns = `public_key, user_id, profile_id, display_name, ip_four, ip_six, auth_key, created_at, expires_at`

func scanWGPeer(row interface{ Scan(...any) error }) (WGPeer, error) {
	var peer WGPeer
	err := row.Scan(&peer.PublicKey, &peer.UserID, &peer.ProfileID, &peer.DisplayName,
		&peer.IPFour, &peer.IPSix, &peer.AuthKey, &peer.CreatedAt, &peer.ExpiresAt)
	return peer, err
}

func (q *Queries) WPeerGet(ctx context.Context, publicKey string) (WGPeer, error) {
	return scanWGPeer(q.db.QueryRowContext(ctx,
		`SELECT `+peerColumns+` FROM wg_peers WHERE public_key = ?`, publicKey,
	))
}

func (q *Queries) peerList(ctx context.Context, query string, args ...any) ([]WGPeer, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []WGPeer
	for rows.Next() {
		peer, err := scanWGPeer(rows)
		if err != nil {
			return nil, err
		}
		peers = append(peers, peer)
	}
	return peers, rows.Err()
}

func (q *Queries) WPeerListByUserID(ctx context.Context, userID string) ([]WGPeer, error) {
	return q.peerList(ctx,
		`SELECT `+peerColumns+` FROM wg_peers WHERE user_id = ? ORDER BY created_at`, userID)
}

func (q *Queries) WPeerListByAuthKey(ctx context.Context, authKey string) ([]WGPeer, error) {
	return q.peerList(ctx,
		`SELECT `+peerColumns+` FROM wg_peers WHERE auth_key = ? ORDER BY created_at`, authKey)
}

func (q *Queries) WPeerDelete(ctx context.Context, publicKey string) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM wg_peers WHERE public_key = ?`, publicKey,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (q *Queries) WPeerDeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM wg_peers WHERE expires_at <= ?`, now,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// WPeerListActiveByProfile returns the non-expired peers of a profile
// that belong to enabled users; this is the desired state pushed to
// nodes during sync.
func (q *Queries) WPeerListActiveByProfile(ctx context.Context, profileID string, now time.Time) ([]WGPeer, error) {
	return q.peerList(ctx,
		`SELECT p.public_key, p.user_id, p.profile_id, p.display_name, p.ip_four, p.ip_six, p.auth_key, p.created_at, p.expires_at
		 FROM wg_peers p JOIN users u ON u.user_id = p.user_id
		 WHERE p.profile_id = ? AND p.expires_at > ? AND u.is_disabled = 0
		 ORDER BY p.created_at`,
		profileID, now)
}

// WPeerListByProfile returns every peer of a profile regardless of expiry
// or account state; the difference against WPeerListActiveByProfile is the
// set of peers a sync pass removes from nodes.
func (q *Queries) WPeerListByProfile(ctx context.Context, profileID string) ([]WGPeer, error) {
	return q.peerList(ctx,
		`SELECT `+peerColumns+` FROM wg_peers WHERE profile_id = ? ORDER BY created_at`,
		profileID)
}

func (q *Queries) WPeerAllocatedIPs(ctx context.Context, profileID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT ip_four, ip_six FROM wg_peers WHERE profile_id = ?`, profileID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ipFour, ipSix string
		if err := rows.Scan(&ipFour, &ipSix); err != nil {
			return nil, err
		}
		ips = append(ips, ipFour, ipSix)
	}
	return ips, rows.Err()
}

// Combined configuration views

const configurationUnion = `
	SELECT 'openvpn' AS protocol, common_name AS connection_id, user_id, profile_id, display_name, auth_key, created_at, expires_at
	FROM certificates
	UNION ALL
	SELECT 'wireguard' AS protocol, public_key AS connection_id, user_id, profile_id, display_name, auth_key, created_at, expires_at
	FROM wg_peers`

func (q *Queries) configurationList(ctx context.Context, query string, args ...any) ([]Configuration, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configurations []Configuration
	for rows.Next() {
		var c Configuration
		if err := rows.Scan(&c.Protocol, &c.ConnectionID, &c.UserID, &c.ProfileID,
			&c.DisplayName, &c.AuthKey, &c.CreatedAt, &c.ExpiresAt); err != nil {
			return nil, err
		}
		configurations = append(configurations, c)
	}
	return configurations, rows.Err()
}

// ActiveAPIConfigurations returns the caller's non-expired API-issued
// configurations across all profiles, oldest first.
func (q *Queries) ActiveAPIConfigurations(ctx context.Context, userID string, now time.Time) ([]Configuration, error) {
	return q.configurationList(ctx,
		`SELECT * FROM (`+configurationUnion+`)
		 WHERE user_id = ? AND auth_key IS NOT NULL AND expires_at > ?
		 ORDER BY created_at`,
		userID, now)
}

// ActiveProfileAPIConfigurations narrows ActiveAPIConfigurations to one
// profile; this is the per-profile quota scope.
func (q *Queries) ActiveProfileAPIConfigurations(ctx context.Context, userID, profileID string, now time.Time) ([]Configuration, error) {
	return q.configurationList(ctx,
		`SELECT * FROM (`+configurationUnion+`)
		 WHERE user_id = ? AND profile_id = ? AND auth_key IS NOT NULL AND expires_at > ?
		 ORDER BY created_at`,
		userID, profileID, now)
}

// ActivePortalConfigurations returns the caller's non-expired
// portal-downloaded configurations for one profile, oldest first.
func (q *Queries) ActivePortalConfigurations(ctx context.Context, userID, profileID string, now time.Time) ([]Configuration, error) {
	return q.configurationList(ctx,
		`SELECT * FROM (`+configurationUnion+`)
		 WHERE user_id = ? AND profile_id = ? AND auth_key IS NULL AND expires_at > ?
		 ORDER BY created_at`,
		userID, profileID, now)
}

// GlobalActiveConfigurations returns every non-expired configuration,
// oldest first; this is the global quota scope.
func (q *Queries) GlobalActiveConfigurations(ctx context.Context, now time.Time) ([]Configuration, error) {
	return q.configurationList(ctx,
		`SELECT * FROM (`+configurationUnion+`)
		 WHERE expires_at > ?
		 ORDER BY created_at`,
		now)
}

// ExpiredConfigurations returns every configuration whose expiry has
// passed, oldest first; the expiry sweep collects these before deleting.
func (q *Queries) ExpiredConfigurations(ctx context.Context, now time.Time) ([]Configuration, error) {
	return q.configurationList(ctx,
		`SELECT * FROM (`+configurationUnion+`)
		 WHERE expires_at <= ?
		 ORDER BY created_at`,
		now)
}

// Authorizations

func (q *Queries) AuthorizationAdd(ctx context.Context, arg Authorization) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO authorizations (auth_key, user_id, client_id, scope, authorized_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		arg.AuthKey, arg.UserID, arg.ClientID, arg.Scope, arg.AuthorizedAt, arg.ExpiresAt,
	)
	return err
}

func (q *Queries) AuthorizationGet(ctx context.Context, authKey string) (Authorization, error) {
	var auth Authorization
	err := q.db.QueryRowContext(ctx,
		`SELECT auth_key, user_id, client_id, scope, authorized_at, expires_at
		 FROM authorizations WHERE auth_key = ?`, authKey,
	).Scan(&auth.AuthKey, &auth.UserID, &auth.ClientID, &auth.Scope, &auth.AuthorizedAt, &auth.ExpiresAt)
	if err != nil {
		return Authorization{}, err
	}
	return auth, nil
}

func (q *Queries) AuthorizationListByUserID(ctx context.Context, userID string) ([]Authorization, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT auth_key, user_id, client_id, scope, authorized_at, expires_at
		 FROM authorizations WHERE user_id = ? ORDER BY authorized_at`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auths []Authorization
	for rows.Next() {
		var auth Authorization
		if err := rows.Scan(&auth.AuthKey, &auth.UserID, &auth.ClientID, &auth.Scope,
			&auth.AuthorizedAt, &auth.ExpiresAt); err != nil {
			return nil, err
		}
		auths = append(auths, auth)
	}
	return auths, rows.Err()
}

func (q *Queries) AuthorizationDelete(ctx context.Context, authKey string) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM authorizations WHERE auth_key = ?`, authKey,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Connection log

func (q *Queries) ConnectionLogOpen(ctx context.Context, arg ConnectionLogOpenParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO connection_log (user_id, profile_id, connection_id, ip_four, ip_six, connected_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		arg.UserID, arg.ProfileID, arg.ConnectionID, arg.IPFour, arg.IPSix, arg.ConnectedAt,
	)
	return err
}

// ConnectionLogClose closes the most recent open log entry for the
// connection. Returns the number of rows closed; zero is not an error,
// disconnect events are best-effort.
func (q *Queries) ConnectionLogClose(ctx context.Context, arg ConnectionLogCloseParams) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE connection_log
		 SET disconnected_at = ?, bytes_in = ?, bytes_out = ?
		 WHERE id = (
			SELECT id FROM connection_log
			WHERE connection_id = ? AND disconnected_at IS NULL
			ORDER BY connected_at DESC LIMIT 1
		 )`,
		arg.DisconnectedAt, arg.BytesIn, arg.BytesOut, arg.ConnectionID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (q *Queries) ConnectionLogList(ctx context.Context, userID string) ([]ConnectionLogEntry, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, user_id, profile_id, connection_id, ip_four, ip_six, connected_at, disconnected_at, bytes_in, bytes_out
		 FROM connection_log WHERE user_id = ? ORDER BY connected_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ConnectionLogEntry
	for rows.Next() {
		var e ConnectionLogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ProfileID, &e.ConnectionID, &e.IPFour, &e.IPSix,
			&e.ConnectedAt, &e.DisconnectedAt, &e.BytesIn, &e.BytesOut); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Pending node removals

// NodeRemovalAddParams holds the arguments for NodeRemovalAdd.
type NodeRemovalAddParams struct {
	ConnectionID string
	ProfileID    string
	Protocol     string
	CreatedAt    time.Time
}

func (q *Queries) NodeRemovalAdd(ctx context.Context, arg NodeRemovalAddParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO node_removals (connection_id, profile_id, protocol, created_at)
		 VALUES (?, ?, ?, ?)`,
		arg.ConnectionID, arg.ProfileID, arg.Protocol, arg.CreatedAt,
	)
	return err
}

func (q *Queries) NodeRemovalList(ctx context.Context) ([]NodeRemoval, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT connection_id, profile_id, protocol, created_at
		 FROM node_removals ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var removals []NodeRemoval
	for rows.Next() {
		var r NodeRemoval
		if err := rows.Scan(&r.ConnectionID, &r.ProfileID, &r.Protocol, &r.CreatedAt); err != nil {
			return nil, err
		}
		removals = append(removals, r)
	}
	return removals, rows.Err()
}

func (q *Queries) NodeRemovalDelete(ctx context.Context, connectionID string) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM node_removals WHERE connection_id = ?`, connectionID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
