// Package config loads and validates the agent configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/FFTY50/micromanager-pos-sub000/internal/bytesize"
	"github.com/FFTY50/micromanager-pos-sub000/internal/telemetry"
)

// Config is the agent configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (MM_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown,
	// including the final delivery drain.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Device identifies this agent and its register.
	Device DeviceConfig `mapstructure:"device" yaml:"device"`

	// Serial configures the printer tap.
	Serial SerialConfig `mapstructure:"serial" yaml:"serial"`

	// Upstream configures the HTTP intake endpoints.
	Upstream UpstreamConfig `mapstructure:"upstream" yaml:"upstream"`

	// NVR configures the video recorder coupling. Leave base_url empty to
	// run without video.
	NVR NVRConfig `mapstructure:"nvr" yaml:"nvr"`

	// Queue configures the durable outbound queue.
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`

	// Health configures the operator HTTP surface.
	Health HealthConfig `mapstructure:"health" yaml:"health"`

	// Metrics enables Prometheus collection on the health server.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// DeviceConfig identifies the agent.
type DeviceConfig struct {
	// IDOverride pins the device id instead of deriving it from the MAC
	// address and serial port. Override: MM_DEVICE_ID_OVERRIDE
	IDOverride string `mapstructure:"id_override" yaml:"id_override,omitempty"`

	// Name is the human-readable device name reported in payloads. Empty
	// falls back to the derived device id. Override: MM_DEVICE_NAME
	Name string `mapstructure:"name" yaml:"name"`

	// StoreID and DrawerID are defaults used until the receipt trailer
	// provides authoritative values.
	StoreID  string `mapstructure:"store_id" yaml:"store_id"`
	DrawerID string `mapstructure:"drawer_id" yaml:"drawer_id"`
}

// SerialConfig configures the printer tap.
type SerialConfig struct {
	// Port is the device node, e.g. /dev/ttyUSB0. Empty triggers /dev
	// autodetection. Override: MM_SERIAL_PORT
	Port string `mapstructure:"port" yaml:"port,omitempty"`

	// Baud is the line rate. The Commander printer port runs 9600.
	Baud int `mapstructure:"baud" validate:"omitempty,min=300" yaml:"baud"`

	// ReconnectDelay is the wait between open attempts after a failure.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
}

// UpstreamConfig configures the HTTP intake.
type UpstreamConfig struct {
	// LinesURL receives the batched per-line payload of each transaction.
	LinesURL string `mapstructure:"lines_url" validate:"required,url" yaml:"lines_url"`

	// TransactionsURL receives the per-transaction summary.
	TransactionsURL string `mapstructure:"transactions_url" validate:"required,url" yaml:"transactions_url"`

	// Headers are attached verbatim to every intake request, e.g. an
	// Authorization bearer token.
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`

	// BatchLines aggregates a whole transaction's line records into one
	// POST. When false, each line record is posted individually.
	// Defaults to true.
	BatchLines *bool `mapstructure:"batch_lines" yaml:"batch_lines,omitempty"`

	// RequestTimeout bounds each POST attempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// NVRConfig configures the video recorder coupling.
type NVRConfig struct {
	// BaseURL is the recorder root; empty disables video events.
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url" yaml:"base_url,omitempty"`

	Camera string `mapstructure:"camera" yaml:"camera"`
	Label  string `mapstructure:"label" yaml:"label"`

	// Duration is the requested event length in seconds.
	Duration int `mapstructure:"duration" validate:"omitempty,gt=0" yaml:"duration"`

	// Retain keeps the clip past the recorder's normal retention.
	Retain bool `mapstructure:"retain" yaml:"retain"`

	// RemoteRole is sent as the remote-role header for proxied recorders.
	RemoteRole string `mapstructure:"remote_role" yaml:"remote_role,omitempty"`
}

// QueueConfig configures the durable outbound queue.
type QueueConfig struct {
	// Path is the SQLite database file.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// MaxBytes caps the on-disk footprint.
	// Supports human-readable formats: "200MB", "1Gi"
	MaxBytes bytesize.ByteSize `mapstructure:"max_bytes" yaml:"max_bytes"`

	// MaxAge evicts jobs older than this.
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age"`

	// EvictionInterval is how often limits are enforced in the background,
	// in addition to opportunistic enforcement on push.
	EvictionInterval time.Duration `mapstructure:"eviction_interval" yaml:"eviction_interval"`
}

// HealthConfig configures the operator HTTP surface.
type HealthConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// MetricsConfig enables Prometheus collection.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configFileFound {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the file is
// missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  mmagent config init\n\n"+
				"Or specify a custom config file:\n"+
				"  mmagent <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  mmagent config init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the upstream headers may carry a bearer token.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the MM_ prefix and underscores.
	// Example: MM_SERIAL_PORT=/dev/ttyUSB1
	v.SetEnvPrefix("MM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// applyEnvOverrides applies the canonical MM_* environment variables on top
// of whatever the file provided. AutomaticEnv only resolves keys viper has
// already seen, so the canonical names are bound explicitly here and work
// with no config file at all.
func applyEnvOverrides(cfg *Config) {
	setString := func(env string, target *string) {
		if val := os.Getenv(env); val != "" {
			*target = val
		}
	}

	setString("MM_SERIAL_PORT", &cfg.Serial.Port)
	setString("MM_UPSTREAM_LINES_URL", &cfg.Upstream.LinesURL)
	setString("MM_UPSTREAM_TRANSACTIONS_URL", &cfg.Upstream.TransactionsURL)
	setString("MM_NVR_BASE_URL", &cfg.NVR.BaseURL)
	setString("MM_NVR_CAMERA", &cfg.NVR.Camera)
	setString("MM_NVR_LABEL", &cfg.NVR.Label)
	setString("MM_DEVICE_STORE_ID", &cfg.Device.StoreID)
	setString("MM_DEVICE_DRAWER_ID", &cfg.Device.DrawerID)
	setString("MM_DEVICE_ID_OVERRIDE", &cfg.Device.IDOverride)
	setString("MM_DEVICE_NAME", &cfg.Device.Name)
	setString("MM_QUEUE_PATH", &cfg.Queue.Path)
	setString("MM_HEALTH_HOST", &cfg.Health.Host)
	setString("MM_LOGGING_LEVEL", &cfg.Logging.Level)

	setInt := func(env string, target *int) {
		if val := os.Getenv(env); val != "" {
			var n int
			if _, err := fmt.Sscanf(val, "%d", &n); err == nil {
				*target = n
			}
		}
	}

	setInt("MM_SERIAL_BAUD", &cfg.Serial.Baud)
	setInt("MM_NVR_DURATION", &cfg.NVR.Duration)
	setInt("MM_HEALTH_PORT", &cfg.Health.Port)

	if val := os.Getenv("MM_QUEUE_MAX_BYTES"); val != "" {
		if size, err := bytesize.ParseByteSize(val); err == nil {
			cfg.Queue.MaxBytes = size
		}
	}
	if val := os.Getenv("MM_QUEUE_MAX_AGE_SECONDS"); val != "" {
		var n int64
		if _, err := fmt.Sscanf(val, "%d", &n); err == nil && n > 0 {
			cfg.Queue.MaxAge = time.Duration(n) * time.Second
		}
	}
	if val := os.Getenv("MM_METRICS_ENABLED"); val != "" {
		cfg.Metrics.Enabled = val == "true" || val == "1"
	}
	if val := os.Getenv("MM_UPSTREAM_BATCH_LINES"); val != "" {
		batch := val == "true" || val == "1"
		cfg.Upstream.BatchLines = &batch
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for ByteSize and
// time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize so
// config files can use human-readable sizes like "200MB" or "1Gi".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s", "5m", "72h" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if no home directory can be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "micromanager")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "micromanager")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
