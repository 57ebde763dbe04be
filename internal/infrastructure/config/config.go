package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Poll      PollConfig      `yaml:"poll"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Debug forces debug logging regardless of logging.level.
	Debug bool `yaml:"debug"`
}

// DeviceConfig identifies the purifier and how to reach it.
type DeviceConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// Type is the product type code: 455, 465 or 475.
	Type   string `yaml:"type"`
	Serial string `yaml:"serial"`
	// Password is the Wi-Fi password printed on the device sticker.
	Password string `yaml:"password"`
}

// PollConfig controls the update cycle.
type PollConfig struct {
	// Heartbeat is the tick period in seconds.
	Heartbeat int `yaml:"heartbeat"`
	// Interval is the number of heartbeats between update cycles.
	Interval int `yaml:"interval"`
	// ResponseTimeout bounds each wait for a device reply, in seconds.
	ResponseTimeout int `yaml:"response_timeout"`
	// EventBuffer bounds the transport event queue.
	EventBuffer int `yaml:"event_buffer"`
}

// MQTTConfig contains device broker connection settings.
type MQTTConfig struct {
	ClientIDPrefix    string `yaml:"client_id_prefix"`
	KeepAlive         int    `yaml:"keepalive"`
	ConnectTimeout    int    `yaml:"connect_timeout"`
	DisconnectTimeout int    `yaml:"disconnect_timeout"`
	TLS               bool   `yaml:"tls"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// AccessTokenTTL is in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is stdout, stderr or file.
	Output string `yaml:"output"`
	// File is the log path when Output is file.
	File string `yaml:"file"`
}

// envPrefix prefixes every environment override.
const envPrefix = "PURELINK_"

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// An empty path skips step 2, so a bridge can be configured from the
// environment alone.
//
// Environment variables follow the pattern: PURELINK_SECTION_KEY
// For example: PURELINK_DEVICE_PASSWORD, PURELINK_API_PORT
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Port: 1883,
			Type: "475",
		},
		Poll: PollConfig{
			Heartbeat:       10,
			Interval:        3,
			ResponseTimeout: 5,
			EventBuffer:     32,
		},
		MQTT: MQTTConfig{
			ClientIDPrefix:    "purelink",
			KeepAlive:         60,
			ConnectTimeout:    10,
			DisconnectTimeout: 5,
		},
		Database: DatabaseConfig{
			Path:        "./data/purelink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "purelink",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PURELINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"DEVICE_ADDRESS":  &cfg.Device.Address,
		"DEVICE_TYPE":     &cfg.Device.Type,
		"DEVICE_SERIAL":   &cfg.Device.Serial,
		"DEVICE_PASSWORD": &cfg.Device.Password,
		"MQTT_CLIENT_ID":  &cfg.MQTT.ClientIDPrefix,
		"DATABASE_PATH":   &cfg.Database.Path,
		"INFLUXDB_URL":    &cfg.InfluxDB.URL,
		"INFLUXDB_TOKEN":  &cfg.InfluxDB.Token,
		"INFLUXDB_ORG":    &cfg.InfluxDB.Org,
		"INFLUXDB_BUCKET": &cfg.InfluxDB.Bucket,
		"API_HOST":        &cfg.API.Host,
		"WEBSOCKET_PATH":  &cfg.WebSocket.Path,
		"JWT_SECRET":      &cfg.Security.JWT.Secret,
		"LOGGING_LEVEL":   &cfg.Logging.Level,
		"LOGGING_FORMAT":  &cfg.Logging.Format,
		"LOGGING_OUTPUT":  &cfg.Logging.Output,
		"LOGGING_FILE":    &cfg.Logging.File,
	}
	for key, dst := range strs {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DEVICE_PORT":           &cfg.Device.Port,
		"POLL_HEARTBEAT":        &cfg.Poll.Heartbeat,
		"POLL_INTERVAL":         &cfg.Poll.Interval,
		"POLL_RESPONSE_TIMEOUT": &cfg.Poll.ResponseTimeout,
		"API_PORT":              &cfg.API.Port,
	}
	for key, dst := range ints {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"DEBUG":            &cfg.Debug,
		"API_ENABLED":      &cfg.API.Enabled,
		"INFLUXDB_ENABLED": &cfg.InfluxDB.Enabled,
	}
	for key, dst := range bools {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", envPrefix, key, err)
		}
		*dst = b
	}
	return nil
}

// minJWTSecretLength is the shortest accepted signing secret.
const minJWTSecretLength = 32

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device
	if c.Device.Address == "" {
		errs = append(errs, "device.address is required")
	}
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		errs = append(errs, "device.port must be between 1 and 65535")
	}
	switch c.Device.Type {
	case "455", "465", "475":
	default:
		errs = append(errs, "device.type must be 455, 465 or 475")
	}
	if c.Device.Serial == "" {
		errs = append(errs, "device.serial is required")
	}
	if c.Device.Password == "" {
		errs = append(errs, "device.password is required (set PURELINK_DEVICE_PASSWORD environment variable)")
	}

	// Poll
	if c.Poll.Heartbeat < 1 {
		errs = append(errs, "poll.heartbeat must be at least 1 second")
	}
	if c.Poll.Interval < 1 {
		errs = append(errs, "poll.interval must be at least 1 heartbeat")
	}
	if c.Poll.ResponseTimeout < 1 {
		errs = append(errs, "poll.response_timeout must be at least 1 second")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// The API accepts commands that drive the device, so it needs a real secret.
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when the API is enabled (set PURELINK_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "stderr", "":
	case "file":
		if c.Logging.File == "" {
			errs = append(errs, "logging.file is required when logging.output is file")
		}
	default:
		errs = append(errs, "logging.output must be stdout, stderr or file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// LogLevel returns the effective log level, honouring the debug flag.
func (c *Config) LogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.Logging.Level
}

// HeartbeatPeriod returns poll.heartbeat as a Duration.
func (c *Config) HeartbeatPeriod() time.Duration {
	return time.Duration(c.Poll.Heartbeat) * time.Second
}

// ResponseTimeout returns poll.response_timeout as a Duration.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.Poll.ResponseTimeout) * time.Second
}

// ReadDuration returns the read timeout as a Duration.
func (t APITimeoutConfig) ReadDuration() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteDuration returns the write timeout as a Duration.
func (t APITimeoutConfig) WriteDuration() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleDuration returns the keep-alive idle timeout as a Duration.
func (t APITimeoutConfig) IdleDuration() time.Duration {
	return time.Duration(t.Idle) * time.Second
}

// AccessTokenTTL returns security.jwt.access_token_ttl as a Duration.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}
