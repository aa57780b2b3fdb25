package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Fing bridge.
// All configuration is loaded from YAML (or TOML) and can be overridden by environment variables.
type Config struct {
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	MQTT          MQTTConfig          `yaml:"mqtt" toml:"mqtt"`
	API           APIConfig           `yaml:"api" toml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket" toml:"websocket"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb" toml:"influxdb"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant" toml:"homeassistant"`
	Fing          FingConfig          `yaml:"fing" toml:"fing"`
	Entries       []EntryConfig       `yaml:"entries" toml:"entries"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" toml:"path"`
	WALMode     bool   `yaml:"wal_mode" toml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" toml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker" toml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth" toml:"auth"`
	QoS       int                 `yaml:"qos" toml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect" toml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	TLS      bool   `yaml:"tls" toml:"tls"`
	ClientID string `yaml:"client_id" toml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay" toml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host" toml:"host"`
	Port     int              `yaml:"port" toml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts" toml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors" toml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read" toml:"read"`
	Write int `yaml:"write" toml:"write"`
	Idle  int `yaml:"idle" toml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" toml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size" toml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval" toml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout" toml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	Token         string `yaml:"token" toml:"token"`
	Org           string `yaml:"org" toml:"org"`
	Bucket        string `yaml:"bucket" toml:"bucket"`
	BatchSize     int    `yaml:"batch_size" toml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// HomeAssistantConfig controls how entities are exposed over MQTT discovery.
type HomeAssistantConfig struct {
	// DiscoveryPrefix is the topic prefix Home Assistant listens on for discovery configs.
	DiscoveryPrefix string `yaml:"discovery_prefix" toml:"discovery_prefix"`

	// BaseTopic is the root for state, command, event and availability topics.
	BaseTopic string `yaml:"base_topic" toml:"base_topic"`

	// PublishDiscovery disables discovery configs when false (states are still published).
	PublishDiscovery bool `yaml:"publish_discovery" toml:"publish_discovery"`
}

// FingConfig tunes the upstream Fing agent client.
type FingConfig struct {
	// RequestTimeout bounds each individual attempt (seconds).
	RequestTimeout int `yaml:"request_timeout" toml:"request_timeout"`

	// MaxAttempts is the total number of attempts per call, including the first.
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the delay before the second attempt (seconds, fractional allowed).
	InitialBackoff float64 `yaml:"initial_backoff" toml:"initial_backoff"`

	// BackoffFactor multiplies the delay after every failed attempt.
	BackoffFactor float64 `yaml:"backoff_factor" toml:"backoff_factor"`

	// AssumeOnlineWhenUnknown reports a listed device as online when
	// none of its status fields can be interpreted.
	AssumeOnlineWhenUnknown bool `yaml:"assume_online_when_unknown" toml:"assume_online_when_unknown"`

	// InsecureSkipVerify disables certificate checks for agents with self-signed TLS.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
}

// EntryConfig is a configuration entry declared in the config file.
// Entries created through the API are stored in the database instead.
type EntryConfig struct {
	Title                 string `yaml:"title" toml:"title"`
	Host                  string `yaml:"host" toml:"host"`
	Port                  int    `yaml:"port" toml:"port"`
	APIKey                string `yaml:"api_key" toml:"api_key"`
	UseTLS                bool   `yaml:"use_tls" toml:"use_tls"`
	ScanInterval          int    `yaml:"scan_interval" toml:"scan_interval"`
	EnableNotifications   bool   `yaml:"enable_notifications" toml:"enable_notifications"`
	ExcludeUnknownDevices bool   `yaml:"exclude_unknown_devices" toml:"exclude_unknown_devices"`
}

// Load reads configuration from a YAML or TOML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults); ".toml" files use TOML, everything else YAML
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FINGBRIDGE_SECTION_KEY
// For example: FINGBRIDGE_DATABASE_PATH, FINGBRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/fingbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fingbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8099,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		HomeAssistant: HomeAssistantConfig{
			DiscoveryPrefix:  "homeassistant",
			BaseTopic:        "fing_ha",
			PublishDiscovery: true,
		},
		Fing: FingConfig{
			RequestTimeout:          30,
			MaxAttempts:             3,
			InitialBackoff:          1.0,
			BackoffFactor:           2.0,
			AssumeOnlineWhenUnknown: true,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FINGBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("FINGBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FINGBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FINGBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("FINGBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FINGBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FINGBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FINGBRIDGE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("FINGBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("FINGBRIDGE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Fing: the API key is applied to file entries that leave it empty, so the
	// key does not have to be written to disk.
	if v := os.Getenv("FINGBRIDGE_FING_API_KEY"); v != "" {
		for i := range cfg.Entries {
			if cfg.Entries[i].APIKey == "" {
				cfg.Entries[i].APIKey = v
			}
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.HomeAssistant.BaseTopic == "" {
		errs = append(errs, "homeassistant.base_topic is required")
	}
	if c.HomeAssistant.PublishDiscovery && c.HomeAssistant.DiscoveryPrefix == "" {
		errs = append(errs, "homeassistant.discovery_prefix is required when publish_discovery is enabled")
	}

	if c.Fing.MaxAttempts < 1 {
		errs = append(errs, "fing.max_attempts must be at least 1")
	}
	if c.Fing.RequestTimeout < 1 {
		errs = append(errs, "fing.request_timeout must be positive")
	}
	if c.Fing.InitialBackoff < 0 {
		errs = append(errs, "fing.initial_backoff cannot be negative")
	}
	if c.Fing.BackoffFactor < 1 {
		errs = append(errs, "fing.backoff_factor must be at least 1")
	}

	for i, e := range c.Entries {
		if e.Host == "" {
			errs = append(errs, fmt.Sprintf("entries[%d].host is required", i))
		}
		if e.APIKey == "" {
			errs = append(errs, fmt.Sprintf("entries[%d].api_key is required (or set FINGBRIDGE_FING_API_KEY)", i))
		}
		if e.Port < 0 || e.Port > 65535 {
			errs = append(errs, fmt.Sprintf("entries[%d].port must be between 1 and 65535", i))
		}
		if e.ScanInterval < 0 {
			errs = append(errs, fmt.Sprintf("entries[%d].scan_interval cannot be negative", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// RequestTimeoutDuration returns the per-attempt Fing request timeout as a Duration.
func (f FingConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(f.RequestTimeout) * time.Second
}

// InitialBackoffDuration returns the first retry delay as a Duration.
func (f FingConfig) InitialBackoffDuration() time.Duration {
	return time.Duration(f.InitialBackoff * float64(time.Second))
}
