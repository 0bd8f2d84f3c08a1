package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "solarcharge/backend/libs/config"
)

// Config defines charging service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"CHARGING_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"CHARGING_POSTGRES_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"CHARGING_REDIS_ADDR"`
		Password string `yaml:"password" env:"CHARGING_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"CHARGING_REDIS_DB"`
		TTL      int    `yaml:"ttlSeconds" env:"CHARGING_REDIS_TTL"`
	} `yaml:"redis"`
	JWT struct {
		Secret string `yaml:"secret" env:"CHARGING_JWT_SECRET"`
	} `yaml:"jwt"`
	Services struct {
		GatewayURL     string `yaml:"gatewayUrl" env:"DEVICE_GATEWAY_URL"`
		GatewayFeedURL string `yaml:"gatewayFeedUrl" env:"DEVICE_GATEWAY_FEED_URL"`
		BillingURL     string `yaml:"billingUrl" env:"BILLING_SERVICE_URL"`
	} `yaml:"services"`
	HTTPClient struct {
		TimeoutSeconds int `yaml:"timeoutSeconds" env:"CHARGING_HTTP_TIMEOUT"`
	} `yaml:"httpClient"`
	Sync struct {
		StatusIntervalSeconds      int `yaml:"statusIntervalSeconds" env:"CHARGING_SYNC_STATUS_INTERVAL"`
		ConsumptionIntervalSeconds int `yaml:"consumptionIntervalSeconds" env:"CHARGING_SYNC_CONSUMPTION_INTERVAL"`
		SessionsIntervalSeconds    int `yaml:"sessionsIntervalSeconds" env:"CHARGING_SYNC_SESSIONS_INTERVAL"`
		DebounceMillis             int `yaml:"debounceMillis" env:"CHARGING_SYNC_DEBOUNCE_MS"`
		FreshnessSeconds           int `yaml:"freshnessSeconds" env:"CHARGING_SYNC_FRESHNESS"`
	} `yaml:"sync"`
	Session struct {
		CommandTimeoutSeconds  int `yaml:"commandTimeoutSeconds" env:"CHARGING_COMMAND_TIMEOUT"`
		JanitorIntervalSeconds int `yaml:"janitorIntervalSeconds" env:"CHARGING_JANITOR_INTERVAL"`
	} `yaml:"session"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.TTL = 86400

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
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("redis addr required")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("jwt secret required")
	}
	if strings.TrimSpace(c.Services.GatewayURL) == "" {
		return errors.New("device gateway url required")
	}
	if strings.TrimSpace(c.Services.BillingURL) == "" {
		return errors.New("billing service url required")
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// ActiveSessionTTL returns redis mirror ttl as duration.
func (c *Config) ActiveSessionTTL() time.Duration {
	if c.Redis.TTL <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Redis.TTL) * time.Second
}

// HTTPTimeout returns outbound http client timeout.
func (c *Config) HTTPTimeout() time.Duration {
	if c.HTTPClient.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.HTTPClient.TimeoutSeconds) * time.Second
}

// FeedURL returns the gateway change feed endpoint. When not set
// explicitly it is derived from the gateway URL by swapping the scheme.
func (c *Config) FeedURL() string {
	if feed := strings.TrimSpace(c.Services.GatewayFeedURL); feed != "" {
		return feed
	}
	base := strings.TrimRight(strings.TrimSpace(c.Services.GatewayURL), "/")
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/internal/feed"
}

// StatusInterval returns the device status poll cadence.
func (c *Config) StatusInterval() time.Duration {
	return secondsOr(c.Sync.StatusIntervalSeconds, 10*time.Second)
}

// ConsumptionInterval returns the consumption poll cadence.
func (c *Config) ConsumptionInterval() time.Duration {
	return secondsOr(c.Sync.ConsumptionIntervalSeconds, 30*time.Second)
}

// SessionsInterval returns the open-session poll cadence.
func (c *Config) SessionsInterval() time.Duration {
	return secondsOr(c.Sync.SessionsIntervalSeconds, 60*time.Second)
}

// DebounceWindow returns the push event coalescing window.
func (c *Config) DebounceWindow() time.Duration {
	if c.Sync.DebounceMillis <= 0 {
		return time.Second
	}
	return time.Duration(c.Sync.DebounceMillis) * time.Millisecond
}

// Freshness returns how old a device report may be before the port is
// treated as offline.
func (c *Config) Freshness() time.Duration {
	return secondsOr(c.Sync.FreshnessSeconds, 30*time.Second)
}

// CommandTimeout bounds the wait for hardware acknowledgment.
func (c *Config) CommandTimeout() time.Duration {
	return secondsOr(c.Session.CommandTimeoutSeconds, 15*time.Second)
}

// JanitorInterval returns the bookkeeping sweep cadence.
func (c *Config) JanitorInterval() time.Duration {
	return secondsOr(c.Session.JanitorIntervalSeconds, time.Minute)
}

func secondsOr(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Second
}
