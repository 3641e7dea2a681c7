package api

import "time"

// InfoResponse lists the profiles a caller may use, for /v3/info.
type InfoResponse struct {
	ProfileList []ProfileInfo `json:"profile_list"`
}

// ProfileInfo describes one profile visible to the caller.
type ProfileInfo struct {
	ProfileID      string   `json:"profile_id"`
	DisplayName    string   `json:"display_name"`
	VPNProtoList   []string `json:"vpn_proto_list"`
	DefaultGateway bool     `json:"default_gateway"`
}

// ConnectionInfo describes one issued connection, for the admin surface.
type ConnectionInfo struct {
	UserID       string    `json:"user_id"`
	ProfileID    string    `json:"profile_id"`
	Protocol     string    `json:"vpn_proto"`
	ConnectionID string    `json:"connection_id"`
	DisplayName  string    `json:"display_name"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	ViaAPI       bool      `json:"via_api"`
}

// UserInfo describes one account, for the admin surface.
type UserInfo struct {
	UserID         string    `json:"user_id"`
	PermissionList []string  `json:"permission_list"`
	IsDisabled     bool      `json:"is_disabled"`
	LastSeen       time.Time `json:"last_seen"`
}

// NodeHealth reports one node's reachability and load for the admin
// aggregation view. Offline nodes carry Online=false and no load data.
type NodeHealth struct {
	ProfileID      string    `json:"profile_id"`
	NodeURL        string    `json:"node_url"`
	Online         bool      `json:"online"`
	RelLoadAverage []float64 `json:"rel_load_average,omitempty"`
	LoadAverage    []float64 `json:"load_average,omitempty"`
	CPUCount       int       `json:"cpu_count,omitempty"`
}
