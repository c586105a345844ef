package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{"backend_url": "http://127.0.0.1:3000"}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:3000", cfg.BackendURL)
	assert.Equal(t, "udp", cfg.SIPProtocol)
	assert.Equal(t, 5060, cfg.SIPPort)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "127.0.0.1:9090", cfg.ForkListenAddress)
	assert.Equal(t, "ws://127.0.0.1:9090/fork", cfg.ForkTarget)
	assert.Equal(t, "127.0.0.1", cfg.OutboundHost)
	assert.Equal(t, 5060, cfg.OutboundPort)
	assert.Equal(t, 20, cfg.MaxTurns)
	assert.Equal(t, 30000, cfg.UtteranceTimeoutMs)
	assert.Equal(t, 2000, cfg.CallbackDelayMs)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"sip_port": 5080,
		"fork_listen_address": "127.0.0.1:9999",
		"max_turns": 5,
		"dial_prefix": "9"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5080, cfg.SIPPort)
	assert.Equal(t, "ws://127.0.0.1:9999/fork", cfg.ForkTarget)
	assert.Equal(t, 5, cfg.MaxTurns)
	assert.Equal(t, "9", cfg.DialPrefix)
}

func TestLoadConfigCredentialsFromEnv(t *testing.T) {
	t.Setenv("SIP_DEFAULT_USER", "trunk-user")
	t.Setenv("SIP_DEFAULT_PASS", "trunk-pass")

	path := writeFile(t, "config.json", `{}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "trunk-user", cfg.SIPDefaultUser)
	assert.Equal(t, "trunk-pass", cfg.SIPDefaultPass)
}

func TestLoadConfigBadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"sip_port": `)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
