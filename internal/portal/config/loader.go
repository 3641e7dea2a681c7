package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from YAML files and environment
// variables.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// Load loads configuration from files and environment variables. YAML
// files take precedence, then ENV variables override.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")

	// Search paths in order of priority.
	l.v.AddConfigPath("/etc/vpn-portal")
	l.v.AddConfigPath("$HOME/.vpn-portal")
	l.v.AddConfigPath(".")

	l.v.SetEnvPrefix("VPN_PORTAL")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// Config file not found is OK, defaults and ENV still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "json")

	l.v.SetDefault("api.listen_addr", ":8080")

	l.v.SetDefault("db.path", "./data/portal.db")
	l.v.SetDefault("db.max_open_conns", 25)
	l.v.SetDefault("db.max_idle_conns", 5)
	l.v.SetDefault("db.conn_max_lifetime", 300)

	l.v.SetDefault("sessions.redis_addr", "localhost:6379")
	l.v.SetDefault("sessions.ttl", "30m")

	l.v.SetDefault("service.shutdown_timeout", "30s")
	l.v.SetDefault("service.sync_interval", "5m")
	l.v.SetDefault("service.sweep_interval", "1h")
	l.v.SetDefault("service.connection_expiry", "2160h") // 90 days

	l.v.SetDefault("auth.method", "db")

	l.v.SetDefault("bearer.issuer", "vpn-portal")
	l.v.SetDefault("bearer.token_ttl", "1h")

	l.v.SetDefault("node.timeout", "10s")

	// Quota ceilings: negative means unlimited.
	l.v.SetDefault("limits.max_active_user_configurations", -1)
	l.v.SetDefault("limits.enforce_user_limit", false)
	l.v.SetDefault("limits.max_active_global_configurations", -1)

	l.v.SetDefault("ca.cert_path", "./data/ca.crt")
	l.v.SetDefault("ca.key_path", "./data/ca.key")
}
