package events

import "time"

// Event type identifiers for the connection lifecycle.
const (
	EventConnectionOpened   = "connection.opened"
	EventConnectionClosed   = "connection.closed"
	EventConnectionEvicted  = "connection.evicted"
	EventConnectionExpired  = "connection.expired"
	EventUserDisabled       = "user.disabled"
	EventAuthorizationReset = "authorization.reset"
)

// ConnectionOpenedEvent is published when a connection is accepted and
// pushed to a node.
type ConnectionOpenedEvent struct {
	UserID       string    `json:"user_id"`
	ProfileID    string    `json:"profile_id"`
	ConnectionID string    `json:"connection_id"`
	Protocol     string    `json:"protocol"`
	IPFour       string    `json:"ip_four"`
	IPSix        string    `json:"ip_six"`
	Timestamp    time.Time `json:"timestamp"`
}

// ConnectionClosedEvent is published when a connection ends for any
// reason, voluntary or not.
type ConnectionClosedEvent struct {
	UserID       string    `json:"user_id"`
	ProfileID    string    `json:"profile_id"`
	ConnectionID string    `json:"connection_id"`
	Protocol     string    `json:"protocol"`
	BytesIn      int64     `json:"bytes_in"`
	BytesOut     int64     `json:"bytes_out"`
	Timestamp    time.Time `json:"timestamp"`
}

// ConnectionEvictedEvent is published when an older connection is removed
// to make room under a capacity ceiling.
type ConnectionEvictedEvent struct {
	UserID       string    `json:"user_id"`
	ProfileID    string    `json:"profile_id"`
	ConnectionID string    `json:"connection_id"`
	Protocol     string    `json:"protocol"`
	Timestamp    time.Time `json:"timestamp"`
}

// ConnectionExpiredEvent is published by the expiry sweep for each
// configuration it removed.
type ConnectionExpiredEvent struct {
	UserID       string    `json:"user_id"`
	ProfileID    string    `json:"profile_id"`
	ConnectionID string    `json:"connection_id"`
	Protocol     string    `json:"protocol"`
	ExpiresAt    time.Time `json:"expires_at"`
	Timestamp    time.Time `json:"timestamp"`
}

// UserDisabledEvent is published when an administrator disables an
// account and its connections are torn down.
type UserDisabledEvent struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthorizationResetEvent is published when a delegated authorization is
// revoked and its configurations cascade away with it.
type AuthorizationResetEvent struct {
	UserID    string    `json:"user_id"`
	AuthKey   string    `json:"auth_key"`
	Timestamp time.Time `json:"timestamp"`
}
