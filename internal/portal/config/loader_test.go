package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadFromYAML writes the YAML to a temp config.yaml and runs the loader
// against it.
func loadFromYAML(t *testing.T, yaml string) *Config {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		require.NoError(t, os.Chdir(wd))
	})

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	return cfg
}

func TestLoadOmittedProfileCeilingsMeanUnlimited(t *testing.T) {
	cfg := loadFromYAML(t, `
node:
  auth_token: node-secret
bearer:
  signing_key: bearer-secret
profiles:
  - profile_id: default
    protocols: [wireguard]
    preferred_proto: wireguard
    wireguard_range_four: 10.8.0.0/24
    wireguard_node_public_key: node-key=
    node_urls: [http://node-1:8000]
`)

	require.Len(t, cfg.Profiles, 1)
	p := cfg.Profiles[0]
	assert.Nil(t, p.MaxActiveConfigurations)
	assert.Nil(t, p.MaxActiveAPIConfigurations)
	assert.Equal(t, -1, p.PortalCeiling())
	assert.Equal(t, -1, p.APICeiling())
}

func TestLoadExplicitZeroCeilingDisablesCapacity(t *testing.T) {
	cfg := loadFromYAML(t, `
node:
  auth_token: node-secret
bearer:
  signing_key: bearer-secret
profiles:
  - profile_id: default
    protocols: [wireguard]
    preferred_proto: wireguard
    wireguard_range_four: 10.8.0.0/24
    wireguard_node_public_key: node-key=
    node_urls: [http://node-1:8000]
    max_active_configurations: 0
    max_active_api_configurations: 5
`)

	p := cfg.Profiles[0]
	require.NotNil(t, p.MaxActiveConfigurations)
	assert.Equal(t, 0, p.PortalCeiling())
	assert.Equal(t, 5, p.APICeiling())
}
