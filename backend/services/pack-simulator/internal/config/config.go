package config

import (
	"errors"
	"os"
	"strings"
	"time"

	libconfig "packmon/backend/libs/config"
)

// Config defines pack simulator configuration.
type Config struct {
	TCP  TCPConfig  `yaml:"tcp"`
	HTTP HTTPConfig `yaml:"http"`
	Pack PackConfig `yaml:"pack"`
}

// TCPConfig configures the raw line listener.
type TCPConfig struct {
	Addr string `yaml:"addr" env:"SIM_TCP_ADDR"`
}

// HTTPConfig configures the health and WebSocket listener.
type HTTPConfig struct {
	Port string `yaml:"port" env:"SIM_HTTP_PORT"`
}

// PackConfig shapes the simulated pack and its output.
type PackConfig struct {
	Cells    int           `yaml:"cells" env:"SIM_CELLS"`
	Interval time.Duration `yaml:"interval" env:"SIM_INTERVAL"`
	Fragment bool          `yaml:"fragment" env:"SIM_FRAGMENT"`
	Seed     int64         `yaml:"seed" env:"SIM_SEED"`
}

func defaults() *Config {
	return &Config{
		TCP:  TCPConfig{Addr: ":7000"},
		HTTP: HTTPConfig{Port: "7001"},
		Pack: PackConfig{
			Cells:    16,
			Interval: 500 * time.Millisecond,
			Fragment: true,
			Seed:     1,
		},
	}
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := defaults()
	if err := libconfig.LoadConfigFrom(os.Getenv(libconfig.FileEnv), cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the simulator cannot run with.
func (c *Config) Validate() error {
	if c.Pack.Cells < 1 || c.Pack.Cells > 256 {
		return errors.New("config: pack cells must be between 1 and 256")
	}
	if c.Pack.Interval <= 0 {
		return errors.New("config: pack interval must be positive")
	}
	return nil
}

// HTTPAddress returns the HTTP listen address.
func (c *Config) HTTPAddress() string {
	if strings.Contains(c.HTTP.Port, ":") {
		return c.HTTP.Port
	}
	return ":" + c.HTTP.Port
}
