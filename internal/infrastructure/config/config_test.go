package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
  static_dir: "./web"
database:
  path: "/tmp/entrance-test.db"
features:
  core:
    allow_restart_requests: true
  persist:
    filename: "/tmp/persist.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, "./web", cfg.Server.StaticDir)
	assert.Equal(t, "/tmp/entrance-test.db", cfg.Database.Path)
	require.Contains(t, cfg.Features, "core")
	assert.Equal(t, true, cfg.Features["core"]["allow_restart_requests"])
	assert.Equal(t, "/tmp/persist.db", cfg.Features["persist"]["filename"])

	// Unset sections keep their defaults.
	assert.Equal(t, "/ws", cfg.WebSocket.Path)
	assert.Equal(t, 10*time.Minute, cfg.GetPingInterval())
	assert.Equal(t, 5*time.Second, cfg.GetDisconnectGrace())
}

func TestLoad_NoFeaturesEnablesCore(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 8001\n"))
	require.NoError(t, err)

	assert.Equal(t, map[string]map[string]any{"core": {}}, cfg.Features)
}

func TestLoad_ExplicitFeaturesAreNotMerged(t *testing.T) {
	cfg, err := Load(writeConfig(t, "features:\n  persist: {}\n"))
	require.NoError(t, err)

	assert.NotContains(t, cfg.Features, "core")
	assert.Contains(t, cfg.Features, "persist")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ENTRANCE_SERVER_PORT", "8123")
	t.Setenv("ENTRANCE_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("ENTRANCE_MQTT_PASSWORD", "from-env")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "from-env", cfg.MQTT.Auth.Password)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "websocket path without slash",
			mutate:  func(c *Config) { c.WebSocket.Path = "ws" },
			wantErr: "websocket.path",
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "zero disconnect grace",
			mutate:  func(c *Config) { c.Connections.DisconnectGrace = 0 },
			wantErr: "connections.disconnect_grace",
		},
		{
			name: "bad qos ignored when mqtt disabled",
			mutate: func(c *Config) {
				c.MQTT.QoS = 5
			},
		},
		{
			name: "bad qos with mqtt enabled",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 5
			},
			wantErr: "mqtt.qos",
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Bucket = "b" },
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Database.Path = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "database.path")
}
