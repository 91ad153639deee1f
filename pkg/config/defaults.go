package config

import (
	"strings"
	"time"

	"github.com/FFTY50/micromanager-pos-sub000/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(cfg)
	applyShutdownTimeoutDefaults(cfg)
	applyDeviceDefaults(&cfg.Device)
	applySerialDefaults(&cfg.Serial)
	applyUpstreamDefaults(&cfg.Upstream)
	applyNVRDefaults(&cfg.NVR)
	applyQueueDefaults(&cfg.Queue)
	applyHealthDefaults(&cfg.Health)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *Config) {
	// Enabled defaults to false (opt-in for telemetry)
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "mmagent"
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyDeviceDefaults(cfg *DeviceConfig) {
	// Name has no static default; when empty the agent falls back to the
	// derived device id.
	if cfg.StoreID == "" {
		cfg.StoreID = "1"
	}
	if cfg.DrawerID == "" {
		cfg.DrawerID = "1"
	}
}

func applySerialDefaults(cfg *SerialConfig) {
	// Port has no default; empty means autodetect.
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
}

func applyUpstreamDefaults(cfg *UpstreamConfig) {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.BatchLines == nil {
		batch := true
		cfg.BatchLines = &batch
	}
}

func applyNVRDefaults(cfg *NVRConfig) {
	if cfg.Camera == "" {
		cfg.Camera = "register"
	}
	if cfg.Label == "" {
		cfg.Label = "pos"
	}
	if cfg.Duration == 0 {
		cfg.Duration = 120
	}
}

func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.Path == "" {
		cfg.Path = "/var/lib/micromanager/queue.db"
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 200 * bytesize.MB
	}
	if cfg.MaxAge == 0 {
		// A week of outage fits comfortably inside the byte cap.
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.EvictionInterval == 0 {
		cfg.EvictionInterval = time.Minute
	}
}

func applyHealthDefaults(cfg *HealthConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8844
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Upstream: UpstreamConfig{
			LinesURL:        "http://localhost:8080/ingest/lines",
			TransactionsURL: "http://localhost:8080/ingest/transactions",
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
