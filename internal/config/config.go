package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/lorawan-server/lorawan-device-simulator/internal/device"
	"github.com/lorawan-server/lorawan-device-simulator/internal/gateway"
	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

// DefaultFile is used when no -config flag is given
const DefaultFile = "config/device-simulator.yml"

// Integration backends
const (
	BackendNone = "none"
	BackendNATS = "nats"
	BackendMQTT = "mqtt"
)

// Config represents the simulator configuration
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Debug       DebugConfig       `yaml:"debug"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Device      DeviceConfig      `yaml:"device"`
	API         APIConfig         `yaml:"api"`
	Storage     StorageConfig     `yaml:"storage"`
	Integration IntegrationConfig `yaml:"integration"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DebugConfig enables hex dumps of datagrams and frames
type DebugConfig struct {
	UDP  bool `yaml:"udp"`
	LoRa bool `yaml:"lora"`
}

// GatewayConfig is the simulated gateway and the network server it talks to
type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	EUI  string `yaml:"eui"`
	Bind string `yaml:"bind"`
}

// DeviceConfig holds the OTAA identity and the uplink schedule
type DeviceConfig struct {
	DevEUI string `yaml:"dev_eui"`
	AppEUI string `yaml:"app_eui"`
	AppKey string `yaml:"app_key"`

	// UplinkInterval in milliseconds
	UplinkInterval int    `yaml:"uplink_interval"`
	UplinkFPort    int    `yaml:"uplink_fport"`
	UplinkPayload  string `yaml:"uplink_payload"`
	FrequencyPlan  string `yaml:"frequency_plan"`

	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	// JoinRetryInterval of 0 disables automatic re-join
	JoinRetryInterval time.Duration `yaml:"join_retry_interval"`

	RSSI int     `yaml:"rssi"`
	LSNR float64 `yaml:"lsnr"`
}

// APIConfig represents the control API configuration
type APIConfig struct {
	Enabled      bool      `yaml:"enabled"`
	Bind         string    `yaml:"bind"`
	Username     string    `yaml:"username"`
	PasswordHash string    `yaml:"password_hash"`
	JWT          JWTConfig `yaml:"jwt"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// StorageConfig selects the frame log. An empty DSN keeps frames in memory.
type StorageConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MemoryFrames    int           `yaml:"memory_frames"`
}

// IntegrationConfig selects where device events are published
type IntegrationConfig struct {
	Backend string     `yaml:"backend"`
	NATS    NATSConfig `yaml:"nats"`
	MQTT    MQTTConfig `yaml:"mqtt"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	// Commands enables join, uplink and status requests on
	// <prefix>.device.<deveui>.command.*
	Commands bool `yaml:"commands"`
}

// MQTTConfig represents MQTT configuration
type MQTTConfig struct {
	Server         string        `yaml:"server"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ClientID       string        `yaml:"client_id"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Load reads filename, applies environment overrides and defaults and
// validates the result. A missing file is not an error.
func Load(filename string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("file", filename).Msg("config file not found, using defaults and environment")
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	if host := os.Getenv("GATEWAY_HOST"); host != "" {
		c.Gateway.Host = host
	}
	if port := os.Getenv("GATEWAY_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("GATEWAY_PORT: %w", err)
		}
		c.Gateway.Port = p
	}
	if eui := os.Getenv("GATEWAY_EUI"); eui != "" {
		c.Gateway.EUI = eui
	}

	if devEUI := os.Getenv("DEVICE_EUI"); devEUI != "" {
		c.Device.DevEUI = devEUI
	}
	if appEUI := os.Getenv("APP_EUI"); appEUI != "" {
		c.Device.AppEUI = appEUI
	}
	if appKey := os.Getenv("APP_KEY"); appKey != "" {
		c.Device.AppKey = appKey
	}
	if interval := os.Getenv("UPLINK_INTERVAL"); interval != "" {
		ms, err := strconv.Atoi(interval)
		if err != nil {
			return fmt.Errorf("UPLINK_INTERVAL: %w", err)
		}
		c.Device.UplinkInterval = ms
	}
	if fPort := os.Getenv("UPLINK_FPORT"); fPort != "" {
		p, err := strconv.Atoi(fPort)
		if err != nil {
			return fmt.Errorf("UPLINK_FPORT: %w", err)
		}
		c.Device.UplinkFPort = p
	}
	if plan := os.Getenv("FREQUENCY_PLAN"); plan != "" {
		c.Device.FrequencyPlan = plan
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Storage.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.Integration.NATS.URL = natsURL
		if c.Integration.Backend == "" {
			c.Integration.Backend = BackendNATS
		}
	}
	if mqttServer := os.Getenv("MQTT_SERVER"); mqttServer != "" {
		c.Integration.MQTT.Server = mqttServer
		if c.Integration.Backend == "" {
			c.Integration.Backend = BackendMQTT
		}
	}

	if jwtSecret := os.Getenv("API_JWT_SECRET"); jwtSecret != "" {
		c.API.JWT.Secret = jwtSecret
	}
	return nil
}

// setDefaults fills every unset value
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Gateway.Host == "" {
		c.Gateway.Host = "dev.rightech.io"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 1700
	}
	if c.Gateway.EUI == "" {
		c.Gateway.EUI = "0000000000000000"
	}
	if c.Gateway.Bind == "" {
		c.Gateway.Bind = ":0"
	}

	if c.Device.DevEUI == "" {
		c.Device.DevEUI = "0000000000000001"
	}
	if c.Device.AppEUI == "" {
		c.Device.AppEUI = "0000000000000001"
	}
	if c.Device.AppKey == "" {
		c.Device.AppKey = "00000000000000000000000000000000"
	}
	if c.Device.UplinkInterval == 0 {
		c.Device.UplinkInterval = 60000
	}
	if c.Device.UplinkFPort == 0 {
		c.Device.UplinkFPort = 1
	}
	if c.Device.FrequencyPlan == "" {
		c.Device.FrequencyPlan = "EU868"
	}
	if c.Device.KeepaliveInterval == 0 {
		c.Device.KeepaliveInterval = 10 * time.Second
	}
	if c.Device.RSSI == 0 {
		c.Device.RSSI = -100
	}
	if c.Device.LSNR == 0 {
		c.Device.LSNR = 5.0
	}

	if c.API.Bind == "" {
		c.API.Bind = ":8090"
	}
	if c.API.JWT.AccessTokenTTL == 0 {
		c.API.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.API.JWT.RefreshTokenTTL == 0 {
		c.API.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}

	if c.Storage.MaxOpenConns == 0 {
		c.Storage.MaxOpenConns = 5
	}
	if c.Storage.MaxIdleConns == 0 {
		c.Storage.MaxIdleConns = 2
	}
	if c.Storage.ConnMaxLifetime == 0 {
		c.Storage.ConnMaxLifetime = time.Hour
	}
	if c.Storage.MemoryFrames == 0 {
		c.Storage.MemoryFrames = 1000
	}

	if c.Integration.Backend == "" {
		c.Integration.Backend = BackendNone
	}
	if c.Integration.NATS.URL == "" {
		c.Integration.NATS.URL = "nats://localhost:4222"
	}
	if c.Integration.NATS.SubjectPrefix == "" {
		c.Integration.NATS.SubjectPrefix = "simulator"
	}
	if c.Integration.NATS.MaxReconnects == 0 {
		c.Integration.NATS.MaxReconnects = -1
	}
	if c.Integration.NATS.ReconnectInterval == 0 {
		c.Integration.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.Integration.MQTT.Server == "" {
		c.Integration.MQTT.Server = "tcp://localhost:1883"
	}
	if c.Integration.MQTT.TopicPrefix == "" {
		c.Integration.MQTT.TopicPrefix = "simulator"
	}
	if c.Integration.MQTT.ConnectTimeout == 0 {
		c.Integration.MQTT.ConnectTimeout = 10 * time.Second
	}
}

// Validate checks every value the simulator depends on at startup
func (c *Config) Validate() error {
	if c.Gateway.Host == "" {
		return errors.New("gateway.host is required")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	if _, err := c.Gateway.GatewayEUI(); err != nil {
		return err
	}

	if _, err := c.Device.Identity(); err != nil {
		return err
	}
	if c.Device.UplinkInterval <= 0 {
		return fmt.Errorf("device.uplink_interval must be positive, got %d", c.Device.UplinkInterval)
	}
	if c.Device.UplinkFPort < 1 || c.Device.UplinkFPort > device.MaxFPort {
		return fmt.Errorf("device.uplink_fport %d out of range 1..%d", c.Device.UplinkFPort, device.MaxFPort)
	}
	if c.Device.KeepaliveInterval <= 0 {
		return fmt.Errorf("device.keepalive_interval must be positive, got %s", c.Device.KeepaliveInterval)
	}
	if c.Device.JoinRetryInterval < 0 {
		return fmt.Errorf("device.join_retry_interval must not be negative, got %s", c.Device.JoinRetryInterval)
	}
	if _, err := lorawan.GetFrequencyPlan(c.Device.FrequencyPlan); err != nil {
		return err
	}

	switch c.Integration.Backend {
	case BackendNone, BackendNATS, BackendMQTT:
	default:
		return fmt.Errorf("integration.backend %q must be one of none, nats, mqtt", c.Integration.Backend)
	}
	if c.Integration.MQTT.QoS > 2 {
		return fmt.Errorf("integration.mqtt.qos %d out of range 0..2", c.Integration.MQTT.QoS)
	}

	if c.API.Enabled && c.API.Username != "" && c.API.PasswordHash == "" {
		return errors.New("api.password_hash is required when api.username is set")
	}
	return nil
}

// ServerAddr is the host:port of the network server
func (c GatewayConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GatewayEUI parses the configured EUI
func (c GatewayConfig) GatewayEUI() (lorawan.EUI64, error) {
	eui, err := lorawan.ParseEUI64(c.EUI)
	if err != nil {
		return eui, fmt.Errorf("gateway.eui: %w", err)
	}
	return eui, nil
}

// ClientConfig returns the packet-forwarder client settings
func (c *Config) ClientConfig() (gateway.Config, error) {
	eui, err := c.Gateway.GatewayEUI()
	if err != nil {
		return gateway.Config{}, err
	}
	return gateway.Config{
		Bind:       c.Gateway.Bind,
		Server:     c.Gateway.ServerAddr(),
		GatewayEUI: eui,
		DebugUDP:   c.Debug.UDP,
	}, nil
}

// Identity decodes the hex identifiers
func (c DeviceConfig) Identity() (device.Identity, error) {
	var (
		id  device.Identity
		err error
	)
	if id.DevEUI, err = lorawan.ParseEUI64(c.DevEUI); err != nil {
		return id, fmt.Errorf("device.dev_eui: %w", err)
	}
	if id.AppEUI, err = lorawan.ParseEUI64(c.AppEUI); err != nil {
		return id, fmt.Errorf("device.app_eui: %w", err)
	}
	if id.AppKey, err = lorawan.ParseAES128Key(c.AppKey); err != nil {
		return id, fmt.Errorf("device.app_key: %w", err)
	}
	return id, nil
}

// UplinkPeriod is the uplink interval as a duration
func (c DeviceConfig) UplinkPeriod() time.Duration {
	return time.Duration(c.UplinkInterval) * time.Millisecond
}

// PrintConfigSummary writes a human readable summary to stdout. Keys and
// secrets are not printed.
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== LoRaWAN Device Simulator Configuration ===\n")
	fmt.Printf("Gateway: %s -> %s (bind %s)\n", c.Gateway.EUI, c.Gateway.ServerAddr(), c.Gateway.Bind)
	fmt.Printf("Device: DevEUI=%s AppEUI=%s\n", c.Device.DevEUI, c.Device.AppEUI)

	if plan, err := lorawan.GetFrequencyPlan(c.Device.FrequencyPlan); err == nil {
		fmt.Printf("Frequency Plan: %s (%s)\n", plan.Name, plan.Description)
		fmt.Printf("  Uplink channels: %d, default %.3f MHz, %s\n",
			len(plan.UplinkChannels), lorawan.MHz(plan.DefaultUplinkChannel), plan.DefaultDataRate)
		fmt.Printf("  RX2: %.3f MHz\n", lorawan.MHz(plan.RX2Frequency))
	}

	fmt.Printf("Uplink: every %s on FPort %d\n", c.Device.UplinkPeriod(), c.Device.UplinkFPort)
	fmt.Printf("Keepalive: %s\n", c.Device.KeepaliveInterval)
	if c.Device.JoinRetryInterval > 0 {
		fmt.Printf("Join retry: %s\n", c.Device.JoinRetryInterval)
	} else {
		fmt.Printf("Join retry: disabled\n")
	}

	if c.Storage.DSN != "" {
		fmt.Printf("Frame log: postgres\n")
	} else {
		fmt.Printf("Frame log: memory (%d frames)\n", c.Storage.MemoryFrames)
	}
	fmt.Printf("Integration: %s\n", c.Integration.Backend)

	if c.API.Enabled {
		fmt.Printf("API: %s (auth: %t)\n", c.API.Bind, c.API.JWT.Secret != "")
	} else {
		fmt.Printf("API: disabled\n")
	}
	fmt.Printf("Log: %s/%s\n", c.Log.Level, c.Log.Format)
}
