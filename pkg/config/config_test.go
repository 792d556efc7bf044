package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8777 {
		t.Errorf("expected port 8777, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected 30s read timeout, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 0 {
		t.Errorf("write timeout must stay 0 for SSE, got %v", cfg.Server.WriteTimeout)
	}
	if cfg.Presence.TTLSeconds != 1800 {
		t.Errorf("expected presence ttl 1800, got %d", cfg.Presence.TTLSeconds)
	}
	if cfg.Outbox.MaxAttempts != 5 {
		t.Errorf("expected 5 outbox attempts, got %d", cfg.Outbox.MaxAttempts)
	}
	if cfg.Status.CacheTTLSeconds != 10 {
		t.Errorf("expected 10s status cache ttl, got %d", cfg.Status.CacheTTLSeconds)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
database:
  url: postgres://u:p@db:5432/beadhub
presence:
  ttl_seconds: 600
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "postgres://u:p@db:5432/beadhub", cfg.Database.URL)
	assert.Equal(t, 600, cfg.Presence.TTLSeconds)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Unset values fall back to defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 5, cfg.Outbox.MaxAttempts)
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	cfg, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8777, cfg.Server.Port)
}

func TestLoadConfigFromFile_EnvOverride(t *testing.T) {
	t.Setenv("BEADHUB_PORT", "9100")
	t.Setenv("BEADHUB_PRESENCE_TTL_SECONDS", "120")
	t.Setenv("BEADHUB_INTERNAL_AUTH_SECRET", "hunter2")

	cfg, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Presence.TTLSeconds)
	assert.Equal(t, "hunter2", cfg.Auth.InternalAuthSecret)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Presence.TTLSeconds = -5
	assert.Error(t, cfg.Validate())

	assert.NoError(t, DefaultConfig().Validate())
}
