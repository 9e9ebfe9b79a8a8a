package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Herald MQTT transport.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Peer     PeerConfig     `yaml:"peer"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PeerConfig describes the local peer this process represents on the bus.
type PeerConfig struct {
	UID    string   `yaml:"uid"`
	Name   string   `yaml:"name"`
	AppID  string   `yaml:"app_id"`
	Groups []string `yaml:"groups"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the root of every Herald topic. Remote peers compute
	// the same names independently, so it must match across the deployment.
	TopicPrefix string `yaml:"topic_prefix"`

	// DeliveryQueueSize bounds the inbound queue between the broker
	// callback and the dispatch goroutine.
	DeliveryQueueSize int `yaml:"delivery_queue_size"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
// Only the automatic reconnect of an established session is configurable;
// the initial connection attempt is never retried internally.
type MQTTReconnectConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxDelay int  `yaml:"max_delay"`
}

// DatabaseConfig contains SQLite settings for the peer directory.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for transport telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default values exposed for callers that build configs programmatically.
const (
	DefaultBrokerHost  = "localhost"
	DefaultBrokerPort  = 1883
	DefaultTopicPrefix = "cohorte/herald"
	DefaultAppID       = "herald"
	DefaultGroup       = "all"
	DefaultQueueSize   = 256
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HERALD_SECTION_KEY
// For example: HERALD_MQTT_HOST, HERALD_PEER_UID
//
// A blank peer UID is replaced by a freshly generated one so that every
// process joins the bus with a unique identity.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if strings.TrimSpace(cfg.Peer.UID) == "" {
		cfg.Peer.UID = NewPeerUID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Peer: PeerConfig{
			Name:   "herald-peer",
			AppID:  DefaultAppID,
			Groups: []string{DefaultGroup},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: DefaultBrokerHost,
				Port: DefaultBrokerPort,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				Enabled:  true,
				MaxDelay: 60,
			},
			TopicPrefix:       DefaultTopicPrefix,
			DeliveryQueueSize: DefaultQueueSize,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/herald.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// NewPeerUID generates a peer identifier in the upper-case hex form used by Herald.
func NewPeerUID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HERALD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Peer
	if v := os.Getenv("HERALD_PEER_UID"); v != "" {
		cfg.Peer.UID = v
	}
	if v := os.Getenv("HERALD_APP_ID"); v != "" {
		cfg.Peer.AppID = v
	}

	// MQTT
	if v := os.Getenv("HERALD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HERALD_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HERALD_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("HERALD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HERALD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("HERALD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("HERALD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Peer.UID == "" {
		errs = append(errs, "peer.uid is required")
	}
	if c.Peer.AppID == "" {
		errs = append(errs, "peer.app_id is required")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 0 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 0 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if strings.TrimRight(c.MQTT.TopicPrefix, "/") == "" {
		errs = append(errs, "mqtt.topic_prefix is required and must not consist of separators only")
	}
	if strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix must not contain MQTT wildcards")
	}
	if c.MQTT.Reconnect.MaxDelay < 0 {
		errs = append(errs, "mqtt.reconnect.max_delay must not be negative")
	}
	if c.MQTT.DeliveryQueueSize < 0 {
		errs = append(errs, "mqtt.delivery_queue_size must not be negative")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// MaxReconnectDelay returns the reconnect backoff ceiling as a Duration.
func (c MQTTConfig) MaxReconnectDelay() time.Duration {
	return time.Duration(c.Reconnect.MaxDelay) * time.Second
}
