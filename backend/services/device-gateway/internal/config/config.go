package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "solarcharge/backend/libs/config"
)

// Config defines device gateway configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"GATEWAY_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"GATEWAY_POSTGRES_DSN"`
	} `yaml:"database"`
	Devices struct {
		FreshnessSeconds    int `yaml:"freshnessSeconds" env:"GATEWAY_DEVICE_FRESHNESS"`
		PingIntervalSeconds int `yaml:"pingIntervalSeconds" env:"GATEWAY_PING_INTERVAL"`
		WriteTimeoutSeconds int `yaml:"writeTimeoutSeconds" env:"GATEWAY_WRITE_TIMEOUT"`
	} `yaml:"devices"`
	Commands struct {
		TimeoutSeconds int `yaml:"timeoutSeconds" env:"GATEWAY_COMMAND_TIMEOUT"`
		MaxAttempts    int `yaml:"maxAttempts" env:"GATEWAY_COMMAND_ATTEMPTS"`
	} `yaml:"commands"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8081"

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings; called by the config loader.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database dsn required")
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8081"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// Freshness returns how old a report may be before its ports read offline.
func (c *Config) Freshness() time.Duration {
	return secondsOr(c.Devices.FreshnessSeconds, 30*time.Second)
}

// PingInterval returns the websocket keepalive cadence.
func (c *Config) PingInterval() time.Duration {
	return secondsOr(c.Devices.PingIntervalSeconds, 30*time.Second)
}

// WriteTimeout bounds one websocket write.
func (c *Config) WriteTimeout() time.Duration {
	return secondsOr(c.Devices.WriteTimeoutSeconds, 10*time.Second)
}

// CommandTimeout bounds one relay command attempt.
func (c *Config) CommandTimeout() time.Duration {
	return secondsOr(c.Commands.TimeoutSeconds, 5*time.Second)
}

// CommandAttempts returns how many times a command is sent before giving up.
func (c *Config) CommandAttempts() int {
	if c.Commands.MaxAttempts <= 0 {
		return 2
	}
	return c.Commands.MaxAttempts
}

func secondsOr(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Second
}
