package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8090", cfg.Server.Port)
	assert.True(t, cfg.Host.AuthRequired)
	assert.Equal(t, 15*time.Second, cfg.Host.HandshakeDeadline)
	assert.Equal(t, 10*time.Second, cfg.Sandbox.BootTimeout)
	assert.Equal(t, 30*time.Second, cfg.Relay.RequestTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("AUTH_REQUIRED", "false")
	t.Setenv("SANDBOX_BOOT_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.False(t, cfg.Host.AuthRequired)
	assert.Equal(t, 3*time.Second, cfg.Sandbox.BootTimeout)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = "7070"

[host]
base_url = "http://api.internal:8000"
auth_required = false

[gateway]
retry_max = 5
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "http://api.internal:8000", cfg.Host.BaseURL)
	assert.False(t, cfg.Host.AuthRequired)
	assert.Equal(t, 5, cfg.Gateway.RetryMax)
	// Untouched sections keep defaults.
	assert.Equal(t, 10*time.Second, cfg.Sandbox.BootTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = "7070"
`), 0o644))

	t.Setenv("PORT", "6060")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Server.Port)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/does/not/exist.toml")
	assert.Error(t, err)
}
