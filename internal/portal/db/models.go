package db

import (
	"database/sql"
	"time"
)

// User is one portal account row.
type User struct {
	UserID         string
	PermissionList []string
	IsDisabled     bool
	LastSeen       time.Time
	CreatedAt      time.Time
}

// Certificate is one issued OpenVPN client certificate.
type Certificate struct {
	CommonName  string
	UserID      string
	ProfileID   string
	DisplayName string
	AuthKey     sql.NullString
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// WGPeer is one issued WireGuard peer.
type WGPeer struct {
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

// Authorization is one OAuth grant record. Deleting it cascades to
// disconnecting all connections that carry its auth key.
type Authorization struct {
	AuthKey      string
	UserID       string
	ClientID     string
	Scope        string
	AuthorizedAt time.Time
	ExpiresAt    time.Time
}

// Configuration is the protocol-agnostic view of one issued connection,
// used by quota admission and sync. ConnectionID is the certificate
// common name or the WireGuard public key.
type Configuration struct {
	Protocol     string
	ConnectionID string
	UserID       string
	ProfileID    string
	DisplayName  string
	AuthKey      sql.NullString
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// ConnectionLogEntry is one row of the connection audit log.
type ConnectionLogEntry struct {
	ID             int64
	UserID         string
	ProfileID      string
	ConnectionID   string
	IPFour         string
	IPSix          string
	ConnectedAt    time.Time
	DisconnectedAt sql.NullTime
	BytesIn        int64
	BytesOut       int64
}

// NodeRemoval is a pending disconnect that has not yet reached every
// node of its profile. Rows live until the sync loop delivers them.
type NodeRemoval struct {
	ConnectionID string
	ProfileID    string
	Protocol     string
	CreatedAt    time.Time
}

// LocalUser is one row of the local credential table used by the
// database auth backend.
type LocalUser struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}
