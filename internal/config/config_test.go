package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadHubConfigDefaults(t *testing.T) {
	cfg, err := LoadHubConfig(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"/ip4/0.0.0.0/tcp/4001"}, cfg.ListenAddrs)
	require.Equal(t, "file", cfg.StoreBackend)

	// Absence of every "-*-only" flag enables all three modes.
	require.True(t, cfg.Relay)
	require.True(t, cfg.Sync)
	require.True(t, cfg.Mirror)
}

func TestLoadHubConfigOnlyFlagsSelectExactModes(t *testing.T) {
	cfg, err := LoadHubConfig([]string{"-sync-only", "-mirror-only"})
	require.NoError(t, err)
	require.False(t, cfg.Relay)
	require.True(t, cfg.Sync)
	require.True(t, cfg.Mirror)
}

func TestLoadHubConfigFlagsOverrideDefaults(t *testing.T) {
	cfg, err := LoadHubConfig([]string{"-store=bolt", "-listen=/ip4/0.0.0.0/tcp/5001,/ip4/0.0.0.0/tcp/5002"})
	require.NoError(t, err)
	require.Equal(t, "bolt", cfg.StoreBackend)
	require.Equal(t, []string{"/ip4/0.0.0.0/tcp/5001", "/ip4/0.0.0.0/tcp/5002"}, cfg.ListenAddrs)
}

func TestLoadHubConfigHonorsTCPPortEnvFallbackChain(t *testing.T) {
	t.Setenv("PORT", "9000")
	cfg, err := LoadHubConfig(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"/ip4/0.0.0.0/tcp/9000"}, cfg.ListenAddrs)

	t.Setenv("TCP_PORT", "9100")
	cfg, err = LoadHubConfig(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"/ip4/0.0.0.0/tcp/9100"}, cfg.ListenAddrs)
}

func TestLoadHubConfigHonorsDataDirEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/hub-data")
	cfg, err := LoadHubConfig(nil)
	require.NoError(t, err)
	require.Equal(t, "/tmp/hub-data", cfg.DataDir)
}

func TestLoadPeerConfigDefaults(t *testing.T) {
	cfg, err := LoadPeerConfig(nil)
	require.NoError(t, err)
	require.Equal(t, "", cfg.DisplayName)
	require.Equal(t, "", cfg.HubPeer)
}

func TestLoadPeerConfigRejectsUnknownFlag(t *testing.T) {
	_, err := LoadPeerConfig([]string{"-bogus"})
	require.Error(t, err)
}
