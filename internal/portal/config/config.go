package config

import (
	"fmt"
	"net"
	"time"
)

// Protocol names used across profiles and connections.
const (
	ProtoOpenVPN   = "openvpn"
	ProtoWireGuard = "wireguard"
)

// Config defines the configuration for the portal service. It is loaded
// once at startup and passed by reference; nothing mutates it afterwards.
type Config struct {
	Service  ServiceConfig   `mapstructure:"service"`
	Log      LogConfig       `mapstructure:"log"`
	API      APIConfig       `mapstructure:"api"`
	DB       DBConfig        `mapstructure:"db"`
	Sessions SessionsConfig  `mapstructure:"sessions"`
	Auth     AuthConfig      `mapstructure:"auth"`
	Bearer   BearerConfig    `mapstructure:"bearer"`
	CA       CAConfig        `mapstructure:"ca"`
	Profiles []ProfileConfig `mapstructure:"profiles"`
	Limits   LimitsConfig    `mapstructure:"limits"`
	Node     NodeConfig      `mapstructure:"node"`
}

// ServiceConfig defines service-level options.
type ServiceConfig struct {
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	SyncInterval     time.Duration `mapstructure:"sync_interval"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	ConnectionExpiry time.Duration `mapstructure:"connection_expiry"`
}

// LogConfig defines the logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig defines the HTTP server configuration.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// DBConfig defines the database configuration.
type DBConfig struct {
	Path            string `mapstructure:"path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// SessionsConfig defines the browser session store configuration.
type SessionsConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// AuthConfig selects and configures the credential backend.
type AuthConfig struct {
	Method string `mapstructure:"method"` // db, static, ldap, ldap_ad, radius, saml

	Static StaticAuthConfig `mapstructure:"static"`
	LDAP   LDAPAuthConfig   `mapstructure:"ldap"`
	RADIUS RADIUSAuthConfig `mapstructure:"radius"`
	SAML   SAMLAuthConfig   `mapstructure:"saml"`

	// StaticPermissions are merged into every identity after validation,
	// keyed by user ID.
	StaticPermissions map[string][]string `mapstructure:"static_permissions"`

	// SourceIPPermissions grant extra permissions to requests originating
	// from the listed networks.
	SourceIPPermissions []SourceIPPermission `mapstructure:"source_ip_permissions"`
}

// StaticAuthConfig is an in-config user/password-hash table.
type StaticAuthConfig struct {
	Users []StaticUser `mapstructure:"users"`
}

// StaticUser is one entry of the static credential table.
type StaticUser struct {
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"` // bcrypt
	Permissions  []string `mapstructure:"permissions"`
}

// LDAPAuthConfig configures the LDAP and LDAP-AD-group backends.
type LDAPAuthConfig struct {
	URL            string `mapstructure:"url"`
	StartTLS       bool   `mapstructure:"start_tls"`
	BindDNTemplate string `mapstructure:"bind_dn_template"` // {{username}} is replaced
	SearchBindDN   string `mapstructure:"search_bind_dn"`
	SearchBindPass string `mapstructure:"search_bind_pass"`
	BaseDN         string `mapstructure:"base_dn"`
	UserFilter     string `mapstructure:"user_filter"` // {{username}} is replaced

	// PermissionAttributes lists entry attributes mapped into
	// "attribute!value" permission strings.
	PermissionAttributes []string `mapstructure:"permission_attributes"`

	// ADPermissionGroups lists group DNs checked with the chained
	// membership rule; used by the ldap_ad method.
	ADPermissionGroups []string `mapstructure:"ad_permission_groups"`
}

// RADIUSAuthConfig configures the RADIUS backend.
type RADIUSAuthConfig struct {
	Servers       []RADIUSServer `mapstructure:"servers"`
	Realm         string         `mapstructure:"realm"`
	NASIdentifier string         `mapstructure:"nas_identifier"`
	Timeout       time.Duration  `mapstructure:"timeout"`
}

// RADIUSServer is one RADIUS server endpoint.
type RADIUSServer struct {
	Addr   string `mapstructure:"addr"`
	Secret string `mapstructure:"secret"`
}

// SAMLAuthConfig configures the Shibboleth/SAML attribute mapping backend.
type SAMLAuthConfig struct {
	UserIDAttribute      string   `mapstructure:"user_id_attribute"`
	PermissionAttributes []string `mapstructure:"permission_attributes"`
}

// SourceIPPermission grants permissions to a source network.
type SourceIPPermission struct {
	CIDR        string   `mapstructure:"cidr"`
	Permissions []string `mapstructure:"permissions"`
}

// BearerConfig configures OAuth bearer token validation for the API.
type BearerConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	Issuer     string        `mapstructure:"issuer"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`

	// AdminPermissionList names the permissions that grant the admin
	// scope at login; empty means nobody gets it.
	AdminPermissionList []string `mapstructure:"admin_permission_list"`
}

// CAConfig points at the embedded CA material for OpenVPN issuance.
type CAConfig struct {
	CertPath string `mapstructure:"cert_path"`
	KeyPath  string `mapstructure:"key_path"`
}

// NodeConfig configures node gateway communication.
type NodeConfig struct {
	// AuthToken authenticates node callback requests to the portal.
	AuthToken string `mapstructure:"auth_token"`
	// Timeout bounds every outbound node gateway call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// LimitsConfig defines the portal-wide quota ceilings. For every ceiling:
// 0 disables the feature (all connects rejected), a negative value means
// unlimited, a positive value is a hard ceiling with oldest-first eviction.
type LimitsConfig struct {
	MaxActiveUserConfigurations   int  `mapstructure:"max_active_user_configurations"`
	EnforceUserLimit              bool `mapstructure:"enforce_user_limit"`
	MaxActiveGlobalConfigurations int  `mapstructure:"max_active_global_configurations"`
}

// ProfileConfig is a named VPN exit configuration. Profiles are static
// configuration, read-only at runtime.
type ProfileConfig struct {
	ProfileID      string   `mapstructure:"profile_id"`
	DisplayName    string   `mapstructure:"display_name"`
	HostName       string   `mapstructure:"host_name"`
	Protocols      []string `mapstructure:"protocols"`       // openvpn, wireguard
	PreferredProto string   `mapstructure:"preferred_proto"` // optional
	DefaultGateway bool     `mapstructure:"default_gateway"`
	DNSServers     []string `mapstructure:"dns_servers"`

	OpenVPNPort   int `mapstructure:"openvpn_port"`
	WireGuardPort int `mapstructure:"wireguard_port"`

	// WireGuardNodePublicKey is the node's WireGuard public key, embedded
	// in client configurations as the peer to connect to.
	WireGuardNodePublicKey string `mapstructure:"wireguard_node_public_key"`

	// Address pools, CIDR per protocol.
	OpenVPNRangeFour   string `mapstructure:"openvpn_range_four"`
	OpenVPNRangeSix    string `mapstructure:"openvpn_range_six"`
	WireGuardRangeFour string `mapstructure:"wireguard_range_four"`
	WireGuardRangeSix  string `mapstructure:"wireguard_range_six"`

	// ACLPermissionList is nil when the ACL is disabled (everyone may
	// use the profile) and an empty list when nobody may use it.
	ACLPermissionList []string `mapstructure:"acl_permission_list"`

	// Ceilings are pointers so that an omitted key is distinguishable
	// from an explicit 0: omitted means unlimited, 0 disables capacity.
	MaxActiveConfigurations    *int `mapstructure:"max_active_configurations"`
	MaxActiveAPIConfigurations *int `mapstructure:"max_active_api_configurations"`

	NodeURLs []string `mapstructure:"node_urls"`
}

// ACLEnabled reports whether the profile restricts access by permission.
func (p *ProfileConfig) ACLEnabled() bool {
	return p.ACLPermissionList != nil
}

// PortalCeiling returns the per-user ceiling on portal configurations,
// normalized so an omitted key reads as unlimited.
func (p *ProfileConfig) PortalCeiling() int {
	return ceiling(p.MaxActiveConfigurations)
}

// APICeiling returns the per-user ceiling on API configurations,
// normalized so an omitted key reads as unlimited.
func (p *ProfileConfig) APICeiling() int {
	return ceiling(p.MaxActiveAPIConfigurations)
}

func ceiling(v *int) int {
	if v == nil {
		return -1
	}
	return *v
}

// Limit returns a pointer to n, for building profile ceilings in code.
func Limit(n int) *int {
	return &n
}

// SupportsProtocol reports whether the profile serves the given protocol.
func (p *ProfileConfig) SupportsProtocol(proto string) bool {
	for _, supported := range p.Protocols {
		if supported == proto {
			return true
		}
	}
	return false
}

// ProfileByID returns the profile with the given ID, or nil.
func (c *Config) ProfileByID(profileID string) *ProfileConfig {
	for i := range c.Profiles {
		if c.Profiles[i].ProfileID == profileID {
			return &c.Profiles[i]
		}
	}
	return nil
}

// Validate validates the configuration for correctness and completeness.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Log.Level != "" && !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	if c.Log.Format != "" && c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log.format: %s (must be json or text)", c.Log.Format)
	}

	validMethods := map[string]bool{
		"db": true, "static": true, "ldap": true,
		"ldap_ad": true, "radius": true, "saml": true,
	}
	if !validMethods[c.Auth.Method] {
		return fmt.Errorf("invalid auth.method: %s", c.Auth.Method)
	}

	if len(c.Profiles) == 0 {
		return fmt.Errorf("at least one profile is required")
	}

	seen := make(map[string]bool, len(c.Profiles))
	for i := range c.Profiles {
		p := &c.Profiles[i]
		if err := p.validate(); err != nil {
			return fmt.Errorf("profile %q: %w", p.ProfileID, err)
		}
		if seen[p.ProfileID] {
			return fmt.Errorf("duplicate profile_id: %s", p.ProfileID)
		}
		seen[p.ProfileID] = true
	}

	for _, src := range c.Auth.SourceIPPermissions {
		if _, _, err := net.ParseCIDR(src.CIDR); err != nil {
			return fmt.Errorf("invalid source_ip_permissions cidr %q: %w", src.CIDR, err)
		}
	}

	if c.Node.AuthToken == "" {
		return fmt.Errorf("node.auth_token is required")
	}
	if c.Bearer.SigningKey == "" {
		return fmt.Errorf("bearer.signing_key is required")
	}

	return nil
}

func (p *ProfileConfig) validate() error {
	if p.ProfileID == "" {
		return fmt.Errorf("profile_id is required")
	}
	if len(p.Protocols) == 0 {
		return fmt.Errorf("at least one protocol is required")
	}
	for _, proto := range p.Protocols {
		if proto != ProtoOpenVPN && proto != ProtoWireGuard {
			return fmt.Errorf("unsupported protocol: %s", proto)
		}
	}
	if p.PreferredProto != "" && !p.SupportsProtocol(p.PreferredProto) {
		return fmt.Errorf("preferred_proto %q is not in the protocol list", p.PreferredProto)
	}
	if p.SupportsProtocol(ProtoOpenVPN) && p.OpenVPNRangeFour == "" {
		return fmt.Errorf("openvpn_range_four is required for openvpn profiles")
	}
	if p.SupportsProtocol(ProtoWireGuard) && p.WireGuardRangeFour == "" {
		return fmt.Errorf("wireguard_range_four is required for wireguard profiles")
	}
	if p.SupportsProtocol(ProtoWireGuard) && p.WireGuardNodePublicKey == "" {
		return fmt.Errorf("wireguard_node_public_key is required for wireguard profiles")
	}
	for _, cidr := range []string{p.OpenVPNRangeFour, p.OpenVPNRangeSix, p.WireGuardRangeFour, p.WireGuardRangeSix} {
		if cidr == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid address range %q: %w", cidr, err)
		}
	}
	if len(p.NodeURLs) == 0 {
		return fmt.Errorf("at least one node_url is required")
	}
	return nil
}
