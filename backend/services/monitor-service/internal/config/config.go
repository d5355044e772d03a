package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	libconfig "packmon/backend/libs/config"
	"packmon/backend/libs/lineproto"
	libredis "packmon/backend/libs/redis"
	"packmon/backend/services/monitor-service/internal/link"
	"packmon/backend/services/monitor-service/internal/publish"
)

const maxCells = 256

// Config defines monitor service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Device     DeviceConfig     `yaml:"device"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Parameters ParametersConfig `yaml:"parameters"`
	Publish    PublishConfig    `yaml:"publish"`
	Redis      RedisConfig      `yaml:"redis"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Port string `yaml:"port" env:"MONITOR_HTTP_PORT"`
}

// DeviceConfig describes the monitored pack and how to reach it.
type DeviceConfig struct {
	ID           string        `yaml:"id" env:"MONITOR_DEVICE_ID"`
	Cells        int           `yaml:"cells" env:"MONITOR_DEVICE_CELLS"`
	Transport    string        `yaml:"transport" env:"MONITOR_DEVICE_TRANSPORT"`
	Address      string        `yaml:"address" env:"MONITOR_DEVICE_ADDRESS"`
	BaudRate     int           `yaml:"baudRate" env:"MONITOR_DEVICE_BAUD_RATE"`
	ReadTimeout  time.Duration `yaml:"readTimeout" env:"MONITOR_DEVICE_READ_TIMEOUT"`
	IdlePoll     time.Duration `yaml:"idlePoll" env:"MONITOR_DEVICE_IDLE_POLL"`
	WriteTimeout time.Duration `yaml:"writeTimeout" env:"MONITOR_DEVICE_WRITE_TIMEOUT"`
	MaxLineBytes int           `yaml:"maxLineBytes" env:"MONITOR_DEVICE_MAX_LINE_BYTES"`
}

// ReconnectConfig bounds the redial backoff.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initialDelay" env:"MONITOR_RECONNECT_INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"maxDelay" env:"MONITOR_RECONNECT_MAX_DELAY"`
}

// ParametersConfig seeds the protection thresholds.
type ParametersConfig struct {
	ValidateOrdering bool    `yaml:"validateOrdering" env:"MONITOR_VALIDATE_ORDERING"`
	UnderVoltage     float64 `yaml:"underVoltage" env:"MONITOR_PARAM_UV"`
	OverVoltage      float64 `yaml:"overVoltage" env:"MONITOR_PARAM_OV"`
	UnderCurrent     float64 `yaml:"underCurrent" env:"MONITOR_PARAM_UC"`
	OverCurrent      float64 `yaml:"overCurrent" env:"MONITOR_PARAM_OC"`
}

// PublishConfig sets how often snapshots are pushed out.
type PublishConfig struct {
	Interval time.Duration `yaml:"interval" env:"MONITOR_PUBLISH_INTERVAL"`
}

// RedisConfig enables the latest-snapshot cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"MONITOR_REDIS_ADDR"`
	Password string        `yaml:"password" env:"MONITOR_REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"MONITOR_REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"MONITOR_REDIS_TTL"`
}

// MQTTConfig enables retained snapshot publishing when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"MONITOR_MQTT_BROKER"`
	ClientID string `yaml:"clientId" env:"MONITOR_MQTT_CLIENT_ID"`
	Username string `yaml:"username" env:"MONITOR_MQTT_USERNAME"`
	Password string `yaml:"password" env:"MONITOR_MQTT_PASSWORD"`
	Topic    string `yaml:"topic" env:"MONITOR_MQTT_TOPIC"`
}

// DatabaseConfig enables the link audit log when DSN is set.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"MONITOR_POSTGRES_DSN"`
}

// AuthConfig protects operator writes when JWTSecret is set.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwtSecret" env:"MONITOR_JWT_SECRET"`
	Operator     string        `yaml:"operator" env:"MONITOR_OPERATOR"`
	PasswordHash string        `yaml:"passwordHash" env:"MONITOR_OPERATOR_PASSWORD_HASH"`
	TokenTTL     time.Duration `yaml:"tokenTTL" env:"MONITOR_TOKEN_TTL"`
}

func defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{Port: "8090"},
		Device: DeviceConfig{
			ID:           "pack-1",
			Cells:        16,
			Transport:    string(link.KindSerial),
			Address:      "/dev/rfcomm0",
			BaudRate:     115200,
			ReadTimeout:  200 * time.Millisecond,
			IdlePoll:     20 * time.Millisecond,
			WriteTimeout: 2 * time.Second,
			MaxLineBytes: 4096,
		},
		Reconnect: ReconnectConfig{
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
		},
		Publish: PublishConfig{Interval: time.Second},
		Redis:   RedisConfig{TTL: time.Minute},
		MQTT: MQTTConfig{
			ClientID: "packmon-monitor",
			Topic:    "packmon/{device}/snapshot",
		},
		Auth: AuthConfig{
			Operator: "operator",
			TokenTTL: 12 * time.Hour,
		},
	}
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv(libconfig.FileEnv))
}

// LoadFrom reads configuration from an explicit YAML path (may be empty) and
// the environment.
func LoadFrom(path string) (*Config, error) {
	cfg := defaults()
	if err := libconfig.LoadConfigFrom(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.ID) == "" {
		return errors.New("config: device id required")
	}
	if c.Device.Cells < 1 || c.Device.Cells > maxCells {
		return fmt.Errorf("config: device cells must be between 1 and %d", maxCells)
	}
	switch link.Kind(c.Device.Transport) {
	case link.KindSerial, link.KindTCP, link.KindWebSocket:
	default:
		return fmt.Errorf("config: unknown device transport %q", c.Device.Transport)
	}
	if strings.TrimSpace(c.Device.Address) == "" {
		return errors.New("config: device address required")
	}
	if c.Reconnect.InitialDelay <= 0 {
		return errors.New("config: reconnect initial delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return errors.New("config: reconnect max delay must not be below initial delay")
	}
	if c.Publish.Interval <= 0 {
		return errors.New("config: publish interval must be positive")
	}
	if c.AuthEnabled() && (strings.TrimSpace(c.Auth.Operator) == "" || strings.TrimSpace(c.Auth.PasswordHash) == "") {
		return errors.New("config: auth operator and password hash required when jwt secret is set")
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8090"
	}
	if strings.Contains(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// Endpoint returns the link endpoint for the device.
func (c *Config) Endpoint() link.Endpoint {
	return link.Endpoint{
		Kind:     link.Kind(c.Device.Transport),
		Address:  strings.TrimSpace(c.Device.Address),
		BaudRate: c.Device.BaudRate,
		Options: link.Options{
			ReadTimeout:  c.Device.ReadTimeout,
			IdlePoll:     c.Device.IdlePoll,
			WriteTimeout: c.Device.WriteTimeout,
			MaxLineBytes: c.Device.MaxLineBytes,
		},
	}
}

// InitialParameters returns the thresholds the store starts with.
func (c *Config) InitialParameters() lineproto.Parameters {
	return lineproto.Parameters{
		UnderVoltage: c.Parameters.UnderVoltage,
		OverVoltage:  c.Parameters.OverVoltage,
		UnderCurrent: c.Parameters.UnderCurrent,
		OverCurrent:  c.Parameters.OverCurrent,
	}
}

// RedisEnabled reports whether the snapshot cache is configured.
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}

// RedisOptions returns client options for libs/redis.
func (c *Config) RedisOptions() libredis.Options {
	return libredis.Options{Addr: c.Redis.Addr, Password: c.Redis.Password, DB: c.Redis.DB}
}

// MQTTEnabled reports whether MQTT publishing is configured.
func (c *Config) MQTTEnabled() bool {
	return strings.TrimSpace(c.MQTT.Broker) != ""
}

// MQTTOptions returns publisher options.
func (c *Config) MQTTOptions() publish.MQTTOptions {
	return publish.MQTTOptions{
		Broker:   c.MQTT.Broker,
		ClientID: c.MQTT.ClientID,
		Username: c.MQTT.Username,
		Password: c.MQTT.Password,
		Topic:    c.MQTT.Topic,
	}
}

// AuditEnabled reports whether the Postgres link log is configured.
func (c *Config) AuditEnabled() bool {
	return strings.TrimSpace(c.Database.DSN) != ""
}

// AuthEnabled reports whether operator writes require a token.
func (c *Config) AuthEnabled() bool {
	return strings.TrimSpace(c.Auth.JWTSecret) != ""
}
