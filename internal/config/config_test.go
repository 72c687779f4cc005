package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device-simulator.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	assert.Equal(t, "dev.rightech.io", cfg.Gateway.Host)
	assert.Equal(t, 1700, cfg.Gateway.Port)
	assert.Equal(t, "dev.rightech.io:1700", cfg.Gateway.ServerAddr())
	assert.Equal(t, "0000000000000000", cfg.Gateway.EUI)
	assert.Equal(t, 60000, cfg.Device.UplinkInterval)
	assert.Equal(t, time.Minute, cfg.Device.UplinkPeriod())
	assert.Equal(t, 1, cfg.Device.UplinkFPort)
	assert.Equal(t, "EU868", cfg.Device.FrequencyPlan)
	assert.Equal(t, 10*time.Second, cfg.Device.KeepaliveInterval)
	assert.Zero(t, cfg.Device.JoinRetryInterval)
	assert.Equal(t, BackendNone, cfg.Integration.Backend)
	assert.Equal(t, 10*time.Second, cfg.Integration.MQTT.ConnectTimeout)

	id, err := cfg.Device.Identity()
	require.NoError(t, err)
	assert.Equal(t, lorawan.EUI64{0, 0, 0, 0, 0, 0, 0, 1}, id.DevEUI)
	assert.Equal(t, lorawan.EUI64{0, 0, 0, 0, 0, 0, 0, 1}, id.AppEUI)
	assert.Equal(t, lorawan.AES128Key{}, id.AppKey)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
debug:
  udp: true
gateway:
  host: 127.0.0.1
  port: 1800
  eui: aa555a0000000001
device:
  dev_eui: 0102030405060708
  app_eui: 70b3d57ed0000001
  app_key: 2b7e151628aed2a6abf7158809cf4f3c
  uplink_interval: 5000
  uplink_fport: 10
  frequency_plan: as923-2
  keepalive_interval: 30s
  join_retry_interval: 1m
integration:
  backend: mqtt
  mqtt:
    qos: 1
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Debug.UDP)
	assert.Equal(t, "127.0.0.1:1800", cfg.Gateway.ServerAddr())
	assert.Equal(t, 5*time.Second, cfg.Device.UplinkPeriod())
	assert.Equal(t, 10, cfg.Device.UplinkFPort)
	assert.Equal(t, 30*time.Second, cfg.Device.KeepaliveInterval)
	assert.Equal(t, time.Minute, cfg.Device.JoinRetryInterval)
	assert.Equal(t, BackendMQTT, cfg.Integration.Backend)
	assert.Equal(t, byte(1), cfg.Integration.MQTT.QoS)

	cc, err := cfg.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, lorawan.EUI64{0xaa, 0x55, 0x5a, 0, 0, 0, 0, 1}, cc.GatewayEUI)
	assert.True(t, cc.DebugUDP)

	id, err := cfg.Device.Identity()
	require.NoError(t, err)
	assert.Equal(t, "2b7e151628aed2a6abf7158809cf4f3c", id.AppKey.String())
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
gateway:
  host: file.example.com
  port: 1700
device:
  uplink_interval: 5000
`)
	t.Setenv("GATEWAY_HOST", "env.example.com")
	t.Setenv("GATEWAY_PORT", "1701")
	t.Setenv("DEVICE_EUI", "00000000000000ff")
	t.Setenv("UPLINK_INTERVAL", "15000")
	t.Setenv("FREQUENCY_PLAN", "US915")
	t.Setenv("NATS_URL", "nats://broker:4222")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env.example.com:1701", cfg.Gateway.ServerAddr())
	assert.Equal(t, "00000000000000ff", cfg.Device.DevEUI)
	assert.Equal(t, 15000, cfg.Device.UplinkInterval)
	assert.Equal(t, "US915", cfg.Device.FrequencyPlan)
	assert.Equal(t, BackendNATS, cfg.Integration.Backend)
	assert.Equal(t, "nats://broker:4222", cfg.Integration.NATS.URL)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		err     error
	}{
		{
			name:    "invalid yaml",
			content: "gateway: [",
		},
		{
			name:    "short dev eui",
			content: "device:\n  dev_eui: 0102\n",
			err:     lorawan.ErrInvalidLength,
		},
		{
			name:    "bad app key",
			content: "device:\n  app_key: zz7e151628aed2a6abf7158809cf4f3c\n",
			err:     lorawan.ErrInvalidHex,
		},
		{
			name:    "unknown frequency plan",
			content: "device:\n  frequency_plan: XX123\n",
			err:     lorawan.ErrUnknownFrequencyPlan,
		},
		{
			name:    "reserved fport",
			content: "device:\n  uplink_fport: 224\n",
		},
		{
			name:    "negative interval",
			content: "device:\n  uplink_interval: -1\n",
		},
		{
			name:    "unknown backend",
			content: "integration:\n  backend: kafka\n",
		},
		{
			name: "bad port env",
			env:  map[string]string{"GATEWAY_PORT": "seventeen"},
		},
	}

	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			for k, v := range tst.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tst.content))
			require.Error(t, err)
			if tst.err != nil {
				assert.ErrorIs(t, err, tst.err)
			}
		})
	}
}

func TestLoadExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", DefaultFile))
	require.NoError(t, err)

	assert.Equal(t, "dev.rightech.io:1700", cfg.Gateway.ServerAddr())
	assert.Equal(t, BackendNone, cfg.Integration.Backend)
	assert.Equal(t, 168*time.Hour, cfg.API.JWT.RefreshTokenTTL)
	assert.Equal(t, "device-simulator", cfg.Integration.MQTT.ClientID)
	assert.Equal(t, 10*time.Second, cfg.Integration.MQTT.ConnectTimeout)
	assert.False(t, cfg.API.Enabled)
}
