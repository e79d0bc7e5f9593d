package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "FMPRESENCE_CONFIG"

// DefaultPath is used when EnvConfigPath is unset.
const DefaultPath = "configs/config.yaml"

// Supported broker transports.
const (
	TransportNATS = "nats"
	TransportMQTT = "mqtt"
)

// Config is the root configuration structure for the presence tracker.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	Broker   BrokerConfig   `yaml:"broker"`
	Presence PresenceConfig `yaml:"presence"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Beacon   BeaconConfig   `yaml:"beacon"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig identifies the farm this tracker serves.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BrokerConfig contains message broker connection and routing settings.
type BrokerConfig struct {
	// Transport selects the broker client: "nats" or "mqtt".
	Transport string `yaml:"transport"`

	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	VirtualHost string `yaml:"virtual_host"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	TLS         bool   `yaml:"tls"`
	ClientID    string `yaml:"client_id"`

	HeartbeatExchange   string `yaml:"heartbeat_exchange"`
	HeartbeatRoutingKey string `yaml:"heartbeat_routing_key"`
	MessagesExchange    string `yaml:"messages_exchange"`
	StatusRoutingKey    string `yaml:"status_routing_key"`

	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig holds settings only the MQTT transport reads.
type MQTTConfig struct {
	QoS       int           `yaml:"qos"`
	KeepAlive time.Duration `yaml:"keep_alive"`
}

// PresenceConfig tunes heartbeat ageing and status queries.
type PresenceConfig struct {
	HeartbeatLives int           `yaml:"heartbeat_lives"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	StatusTimeout  time.Duration `yaml:"status_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for presence history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// BeaconConfig controls the UDP discovery beacon.
//
// The beacon pings FastCount times at FastInterval after startup, then
// settles to SlowInterval.
type BeaconConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	Port         int           `yaml:"port"`
	FastInterval time.Duration `yaml:"fast_interval"`
	FastCount    int           `yaml:"fast_count"`
	SlowInterval time.Duration `yaml:"slow_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Path returns the config file path from FMPRESENCE_CONFIG, or DefaultPath.
func Path() string {
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FMPRESENCE_SECTION_KEY
// For example: FMPRESENCE_DATABASE_PATH, FMPRESENCE_BROKER_HOST
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

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the tracker's built-in defaults.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "farm-001",
			Name: "Farm Monitor",
		},
		Database: DatabaseConfig{
			Path:        "./data/fm-presence.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Broker: BrokerConfig{
			Transport:           TransportNATS,
			Host:                "localhost",
			Port:                4222,
			VirtualHost:         "farm_monitor",
			ClientID:            "fm-presence",
			HeartbeatExchange:   "heartbeat_messages",
			HeartbeatRoutingKey: "heartbeat",
			MessagesExchange:    "device_messages",
			StatusRoutingKey:    "_internal",
			ReconnectDelay:      5 * time.Second,
			ConnectTimeout:      10 * time.Second,
			MQTT: MQTTConfig{
				QoS:       1,
				KeepAlive: 30 * time.Second,
			},
		},
		Presence: PresenceConfig{
			HeartbeatLives: 3,
			SweepInterval:  10 * time.Second,
			StatusTimeout:  5 * time.Second,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    9105,
			Path:    "/metrics",
		},
		Beacon: BeaconConfig{
			Address:      "255.255.255.255",
			Port:         5554,
			FastInterval: 5 * time.Second,
			FastCount:    1440,
			SlowInterval: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FMPRESENCE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("FMPRESENCE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Broker
	if v := os.Getenv("FMPRESENCE_BROKER_TRANSPORT"); v != "" {
		cfg.Broker.Transport = v
	}
	if v := os.Getenv("FMPRESENCE_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("FMPRESENCE_BROKER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FMPRESENCE_BROKER_PORT: %w", err)
		}
		cfg.Broker.Port = port
	}
	if v := os.Getenv("FMPRESENCE_BROKER_VIRTUAL_HOST"); v != "" {
		cfg.Broker.VirtualHost = v
	}
	if v := os.Getenv("FMPRESENCE_BROKER_USER"); v != "" {
		cfg.Broker.User = v
	}
	if v := os.Getenv("FMPRESENCE_BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}

	// InfluxDB
	if v := os.Getenv("FMPRESENCE_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("FMPRESENCE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("FMPRESENCE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// All problems are collected so an operator can fix them in one pass.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.Broker.Transport {
	case TransportNATS, TransportMQTT:
	default:
		errs = append(errs, fmt.Sprintf("broker.transport must be %q or %q", TransportNATS, TransportMQTT))
	}
	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if !validPort(c.Broker.Port) {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	if c.Broker.HeartbeatExchange == "" || c.Broker.HeartbeatRoutingKey == "" {
		errs = append(errs, "broker.heartbeat_exchange and broker.heartbeat_routing_key are required")
	}
	if c.Broker.MessagesExchange == "" || c.Broker.StatusRoutingKey == "" {
		errs = append(errs, "broker.messages_exchange and broker.status_routing_key are required")
	}
	if c.Broker.ReconnectDelay <= 0 {
		errs = append(errs, "broker.reconnect_delay must be positive")
	}
	if c.Broker.MQTT.QoS < 0 || c.Broker.MQTT.QoS > 2 {
		errs = append(errs, "broker.mqtt.qos must be 0, 1, or 2")
	}

	if c.Presence.HeartbeatLives < 1 {
		errs = append(errs, "presence.heartbeat_lives must be at least 1")
	}
	if c.Presence.SweepInterval <= 0 {
		errs = append(errs, "presence.sweep_interval must be positive")
	}
	if c.Presence.StatusTimeout <= 0 {
		errs = append(errs, "presence.status_timeout must be positive")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.Metrics.Enabled {
		if !validPort(c.Metrics.Port) {
			errs = append(errs, "metrics.port must be between 1 and 65535")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errs = append(errs, "metrics.path must start with /")
		}
	}

	if c.Beacon.Enabled {
		if c.Beacon.Address == "" {
			errs = append(errs, "beacon.address is required when beacon is enabled")
		}
		if !validPort(c.Beacon.Port) {
			errs = append(errs, "beacon.port must be between 1 and 65535")
		}
		if c.Beacon.FastInterval <= 0 || c.Beacon.SlowInterval <= 0 {
			errs = append(errs, "beacon intervals must be positive")
		}
		if c.Beacon.FastCount <= 0 {
			errs = append(errs, "beacon.fast_count must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}
