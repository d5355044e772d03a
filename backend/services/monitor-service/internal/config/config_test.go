package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packmon/backend/libs/lineproto"
	"packmon/backend/services/monitor-service/internal/link"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.HTTPAddress())
	assert.Equal(t, 16, cfg.Device.Cells)
	assert.False(t, cfg.Parameters.ValidateOrdering)
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.MQTTEnabled())
	assert.False(t, cfg.AuditEnabled())
	assert.False(t, cfg.AuthEnabled())

	ep := cfg.Endpoint()
	assert.Equal(t, link.KindSerial, ep.Kind)
	assert.Equal(t, "/dev/rfcomm0", ep.Address)
	assert.Equal(t, 115200, ep.BaudRate)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
device:
  id: bench-pack
  cells: 5
  transport: tcp
  address: 192.168.4.1:7000
  readTimeout: 500ms
reconnect:
  initialDelay: 2s
  maxDelay: 1m
parameters:
  validateOrdering: true
  underVoltage: 2.8
  overVoltage: 4.2
  underCurrent: -50
  overCurrent: 100
redis:
  addr: localhost:6379
`)
	t.Setenv("MONITOR_HTTP_PORT", ":9000")
	t.Setenv("MONITOR_DEVICE_CELLS", "6")
	t.Setenv("MONITOR_MQTT_BROKER", "tcp://broker:1883")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddress())
	assert.Equal(t, "bench-pack", cfg.Device.ID)
	assert.Equal(t, 6, cfg.Device.Cells)
	assert.Equal(t, 2*time.Second, cfg.Reconnect.InitialDelay)
	assert.True(t, cfg.Parameters.ValidateOrdering)
	assert.Equal(t, lineproto.Parameters{UnderVoltage: 2.8, OverVoltage: 4.2, UnderCurrent: -50, OverCurrent: 100}, cfg.InitialParameters())
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, "localhost:6379", cfg.RedisOptions().Addr)
	assert.True(t, cfg.MQTTEnabled())
	assert.Equal(t, "packmon/{device}/snapshot", cfg.MQTTOptions().Topic)

	ep := cfg.Endpoint()
	assert.Equal(t, link.KindTCP, ep.Kind)
	assert.Equal(t, 500*time.Millisecond, ep.Options.ReadTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no cells", mutate: func(c *Config) { c.Device.Cells = 0 }},
		{name: "too many cells", mutate: func(c *Config) { c.Device.Cells = maxCells + 1 }},
		{name: "bad transport", mutate: func(c *Config) { c.Device.Transport = "can" }},
		{name: "no address", mutate: func(c *Config) { c.Device.Address = " " }},
		{name: "no device id", mutate: func(c *Config) { c.Device.ID = "" }},
		{name: "backoff order", mutate: func(c *Config) { c.Reconnect.MaxDelay = time.Millisecond }},
		{name: "publish interval", mutate: func(c *Config) { c.Publish.Interval = 0 }},
		{name: "auth without hash", mutate: func(c *Config) { c.Auth.JWTSecret = "s" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := defaults()
	cfg.Auth.JWTSecret = "s"
	cfg.Auth.PasswordHash = "$2a$10$abc"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.AuthEnabled())
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("MONITOR_DEVICE_READ_TIMEOUT", "soon")
	_, err := LoadFrom("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONITOR_DEVICE_READ_TIMEOUT")
}
