package api

// Wire types exchanged with VPN gateway nodes. Field names are part of the
// node wire contract and must not change.

// NodeConnectRequest asks a node to materialize a peer or session.
type NodeConnectRequest struct {
	ProfileID     string `json:"profile_id"`
	CommonName    string `json:"common_name,omitempty"`
	PublicKey     string `json:"public_key,omitempty"`
	IPFour        string `json:"ip_four"`
	IPSix         string `json:"ip_six"`
	OriginatingIP string `json:"originating_ip,omitempty"`
	ConnectedAt   int64  `json:"connected_at"`
}

// NodeDisconnectRequest asks a node to drop a peer or session.
type NodeDisconnectRequest struct {
	ProfileID  string `json:"profile_id"`
	CommonName string `json:"common_name,omitempty"`
	PublicKey  string `json:"public_key,omitempty"`
	BytesIn    int64  `json:"bytes_in"`
	BytesOut   int64  `json:"bytes_out"`
}

// NodeAck is the generic node response to connect/disconnect commands.
type NodeAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NodeInfoResponse reports node load for the admin aggregation view.
type NodeInfoResponse struct {
	RelLoadAverage []float64 `json:"rel_load_average"`
	LoadAverage    []float64 `json:"load_average"`
	CPUCount       int       `json:"cpu_count"`
}
