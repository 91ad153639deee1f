package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FFTY50/micromanager-pos-sub000/internal/bytesize"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const minimalConfig = `
upstream:
  lines_url: http://intake.local/ingest/lines
  transactions_url: http://intake.local/ingest/transactions
queue:
  path: /tmp/mm-test/queue.db
`

func TestLoadMinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 9600, cfg.Serial.Baud)
	assert.Equal(t, 5*time.Second, cfg.Serial.ReconnectDelay)
	assert.Equal(t, 5*time.Second, cfg.Upstream.RequestTimeout)
	require.NotNil(t, cfg.Upstream.BatchLines)
	assert.True(t, *cfg.Upstream.BatchLines)
	assert.Equal(t, 200*bytesize.MB, cfg.Queue.MaxBytes)
	assert.Equal(t, 7*24*time.Hour, cfg.Queue.MaxAge)
	assert.Equal(t, time.Minute, cfg.Queue.EvictionInterval)
	assert.Equal(t, 8844, cfg.Health.Port)
	assert.Equal(t, "register", cfg.NVR.Camera)
	assert.Equal(t, 120, cfg.NVR.Duration)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
logging:
  level: debug
  format: json
shutdown_timeout: 45s
device:
  name: register-7
  store_id: "42"
  drawer_id: "2"
serial:
  port: /dev/ttyUSB1
  baud: 19200
  reconnect_delay: 10s
upstream:
  lines_url: http://intake.local/ingest/lines
  transactions_url: http://intake.local/ingest/transactions
  headers:
    Authorization: Bearer abc
  request_timeout: 3s
nvr:
  base_url: http://nvr.local:5000
  camera: register7
  label: pos
  duration: 90
  retain: true
queue:
  path: /var/lib/mm/queue.db
  max_bytes: 500MB
  max_age: 72h
health:
  host: 127.0.0.1
  port: 9000
metrics:
  enabled: true
`))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 45*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "register-7", cfg.Device.Name)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 19200, cfg.Serial.Baud)
	assert.Equal(t, 10*time.Second, cfg.Serial.ReconnectDelay)
	assert.Equal(t, "Bearer abc", cfg.Upstream.Headers["Authorization"])
	assert.Equal(t, 3*time.Second, cfg.Upstream.RequestTimeout)
	assert.Equal(t, "http://nvr.local:5000", cfg.NVR.BaseURL)
	assert.True(t, cfg.NVR.Retain)
	assert.Equal(t, 500*bytesize.MB, cfg.Queue.MaxBytes)
	assert.Equal(t, 72*time.Hour, cfg.Queue.MaxAge)
	assert.Equal(t, 9000, cfg.Health.Port)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("MM_SERIAL_PORT", "/dev/ttyACM3")
	t.Setenv("MM_SERIAL_BAUD", "38400")
	t.Setenv("MM_QUEUE_MAX_BYTES", "50MB")
	t.Setenv("MM_QUEUE_MAX_AGE_SECONDS", "3600")
	t.Setenv("MM_DEVICE_STORE_ID", "99")
	t.Setenv("MM_HEALTH_PORT", "7777")
	t.Setenv("MM_UPSTREAM_BATCH_LINES", "false")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM3", cfg.Serial.Port)
	assert.Equal(t, 38400, cfg.Serial.Baud)
	assert.Equal(t, 50*bytesize.MB, cfg.Queue.MaxBytes)
	assert.Equal(t, time.Hour, cfg.Queue.MaxAge)
	assert.Equal(t, "99", cfg.Device.StoreID)
	assert.Equal(t, 7777, cfg.Health.Port)
	require.NotNil(t, cfg.Upstream.BatchLines)
	assert.False(t, *cfg.Upstream.BatchLines)
}

func TestValidationRejectsBadURL(t *testing.T) {
	_, err := Load(writeConfig(t, `
upstream:
  lines_url: not-a-url
  transactions_url: http://intake.local/ingest/transactions
queue:
  path: /tmp/q.db
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lines_url")
}

func TestValidationRejectsMissingUpstream(t *testing.T) {
	_, err := Load(writeConfig(t, `
queue:
  path: /tmp/q.db
`))
	require.Error(t, err)
}

func TestNVRCrossFieldValidation(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.NVR.BaseURL = "http://nvr.local:5000"
	cfg.NVR.Camera = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nvr.camera")
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Device.Name = "register-3"
	cfg.Queue.Path = "/tmp/mm-roundtrip/queue.db"

	path := filepath.Join(t.TempDir(), "saved", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "register-3", loaded.Device.Name)
	assert.Equal(t, "/tmp/mm-roundtrip/queue.db", loaded.Queue.Path)
}

func TestGetDefaultConfigValidates(t *testing.T) {
	cfg := GetDefaultConfig()
	assert.NoError(t, Validate(cfg))
}

func TestMustLoadMissingFileHasGuidance(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mmagent config init")
}
