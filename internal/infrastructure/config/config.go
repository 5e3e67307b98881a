package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Entrance gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	Connections ConnectionsConfig `yaml:"connections"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Metrics     MetricsConfig     `yaml:"metrics"`

	// Features maps configured feature names to their options. A feature
	// is activated for every session when its name is present, even with
	// an empty option map.
	Features map[string]map[string]any `yaml:"features"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Host      string               `yaml:"host"`
	Port      int                  `yaml:"port"`
	StaticDir string               `yaml:"static_dir"`
	Timeouts  ServerTimeoutsConfig `yaml:"timeouts"`
}

// ServerTimeoutsConfig contains HTTP timeout settings in seconds.
type ServerTimeoutsConfig struct {
	Read     int `yaml:"read"`
	Idle     int `yaml:"idle"`
	Shutdown int `yaml:"shutdown"`
}

// WebSocketConfig contains WebSocket transport settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig contains SQLite settings for the persistence feature.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// ConnectionsConfig contains settings shared by every device connection.
type ConnectionsConfig struct {
	// DisconnectGrace is how long (seconds) a disconnect may take before the
	// connection is forced into FAILURE_WHILE_DISCONNECTING.
	DisconnectGrace int `yaml:"disconnect_grace"`

	// ConnectTimeout bounds the SSH dial and handshake (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// KnownHosts is an OpenSSH known_hosts file. When empty, host keys
	// are accepted without verification.
	KnownHosts string `yaml:"known_hosts"`
}

// MQTTConfig contains settings for publishing connection state to a broker.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos"`
	TopicPrefix string           `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InfluxDBConfig contains settings for recording connection state history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ENTRANCE_SECTION_KEY
// For example: ENTRANCE_SERVER_PORT, ENTRANCE_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// A file without a features section still gets the core feature.
	if cfg.Features == nil {
		cfg.Features = map[string]map[string]any{"core": {}}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8000,
			StaticDir: "",
			Timeouts: ServerTimeoutsConfig{
				Read:     30,
				Idle:     120,
				Shutdown: 10,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 1 << 20,
			PingInterval:   600,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Path:        "./data/entrance.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Connections: ConnectionsConfig{
			DisconnectGrace: 5,
			ConnectTimeout:  30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "entrance",
			},
			QoS:         1,
			TopicPrefix: "entrance",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ENTRANCE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("ENTRANCE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ENTRANCE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ENTRANCE_SERVER_STATIC_DIR"); v != "" {
		cfg.Server.StaticDir = v
	}

	// Database
	if v := os.Getenv("ENTRANCE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Logging
	if v := os.Getenv("ENTRANCE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// MQTT
	if v := os.Getenv("ENTRANCE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ENTRANCE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ENTRANCE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("ENTRANCE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Connections
	if v := os.Getenv("ENTRANCE_CONNECTIONS_KNOWN_HOSTS"); v != "" {
		cfg.Connections.KnownHosts = v
	}
}

// Validate checks the configuration for errors.
//
// Feature option contents are not checked here; the feature registry
// validates them against each feature's option type at startup.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		errs = append(errs, "websocket.path must start with /")
	}
	if c.WebSocket.PingInterval <= 0 {
		errs = append(errs, "websocket.ping_interval must be positive")
	}
	if c.WebSocket.PongTimeout <= 0 {
		errs = append(errs, "websocket.pong_timeout must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Connections.DisconnectGrace <= 0 {
		errs = append(errs, "connections.disconnect_grace must be positive")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetReadTimeout returns the HTTP read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Read) * time.Second
}

// GetIdleTimeout returns the HTTP idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Idle) * time.Second
}

// GetShutdownTimeout returns the graceful shutdown budget as a Duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Shutdown) * time.Second
}

// GetPingInterval returns the websocket keepalive interval.
func (c *Config) GetPingInterval() time.Duration {
	return time.Duration(c.WebSocket.PingInterval) * time.Second
}

// GetPongTimeout returns how long a websocket peer has to answer a ping.
func (c *Config) GetPongTimeout() time.Duration {
	return time.Duration(c.WebSocket.PongTimeout) * time.Second
}

// GetDisconnectGrace returns the connection disconnect grace period.
func (c *Config) GetDisconnectGrace() time.Duration {
	return time.Duration(c.Connections.DisconnectGrace) * time.Second
}

// GetConnectTimeout returns the device connect timeout.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Connections.ConnectTimeout) * time.Second
}
