package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.Equal(t, "none", cfg.Database.Driver)
	assert.Equal(t, 1000, cfg.Room.MaxRooms)
	assert.Equal(t, 3*time.Second, cfg.Room.ReadyGrace)
	assert.Equal(t, 3*time.Second, cfg.Client.ResponseTimeout)
	assert.Equal(t, 5, cfg.Client.ReconnectAttempts)
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`
server:
  http_address: ":7000"
room:
  max_rooms: 4
  abort_grace: 30s
database:
  driver: gorm
  postgres:
    host: db
    port: 6543
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), body, 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.HTTPAddress)
	assert.Equal(t, 4, cfg.Room.MaxRooms)
	assert.Equal(t, 30*time.Second, cfg.Room.AbortGrace)
	assert.Equal(t, "gorm", cfg.Database.Driver)
	assert.Equal(t, "db", cfg.Database.Postgres.Host)
	assert.Equal(t, 6543, cfg.Database.Postgres.Port)
	// untouched keys keep their defaults
	assert.Equal(t, 2*time.Second, cfg.Room.CloseGrace)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ARCADE_CLIENT_ENDPOINT", "ws://example:1/ws")
	t.Setenv("ARCADE_ROOM_MAX_ROOMS", "12")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "ws://example:1/ws", cfg.Client.Endpoint)
	assert.Equal(t, 12, cfg.Room.MaxRooms)
}
