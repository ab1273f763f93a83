package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode        string   `yaml:"mode"` // DRY_RUN or LIVE
	PollSeconds int      `yaml:"poll_seconds"`
	Universe    []string `yaml:"universe"`

	Gateway struct {
		Host                  string `yaml:"host"`
		Port                  int    `yaml:"port"`
		ClientID              int    `yaml:"client_id"`
		ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
		RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
		OrderTimeoutSeconds   int    `yaml:"order_timeout_seconds"`
		OrderIDWaitSeconds    int    `yaml:"order_id_wait_seconds"`
		MarketDataMode        int    `yaml:"market_data_mode"`
		AccountTag            string `yaml:"account_tag"`
		AccountCurrency       string `yaml:"account_currency"`
		IndexSymbol           string `yaml:"index_symbol"`
	} `yaml:"gateway"`

	Reconnect struct {
		BaseSeconds int `yaml:"base_seconds"`
		MaxSeconds  int `yaml:"max_seconds"`
	} `yaml:"reconnect"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logging"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if len(c.Universe) == 0 {
		return errors.New("universe cannot be empty")
	}
	if c.Gateway.Host == "" {
		return errors.New("gateway.host cannot be empty")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1-65535, got %d", c.Gateway.Port)
	}
	if c.Gateway.ClientID < 0 {
		return fmt.Errorf("gateway.client_id must not be negative, got %d", c.Gateway.ClientID)
	}
	if c.Reconnect.BaseSeconds <= 0 {
		return fmt.Errorf("reconnect.base_seconds must be positive, got %d", c.Reconnect.BaseSeconds)
	}
	if c.Reconnect.MaxSeconds < c.Reconnect.BaseSeconds {
		return fmt.Errorf("reconnect.max_seconds must be at least base_seconds, got %d < %d",
			c.Reconnect.MaxSeconds, c.Reconnect.BaseSeconds)
	}
	return nil
}

// RequestTimeout is the per-request deadline for quote and account calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeoutSeconds) * time.Second
}

// OrderTimeout is the order-acknowledgement deadline. Order round trips take
// longer than quotes, so it has its own knob.
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Gateway.OrderTimeoutSeconds) * time.Second
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Gateway.ConnectTimeoutSeconds) * time.Second
}

func (c *Config) OrderIDWait() time.Duration {
	return time.Duration(c.Gateway.OrderIDWaitSeconds) * time.Second
}

func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.Reconnect.BaseSeconds) * time.Second
}

func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.Reconnect.MaxSeconds) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.PollSeconds == 0 {
		c.PollSeconds = 15
	}
	if c.Gateway.ClientID == 0 {
		c.Gateway.ClientID = 1
	}
	if c.Gateway.ConnectTimeoutSeconds == 0 {
		c.Gateway.ConnectTimeoutSeconds = 10
	}
	if c.Gateway.RequestTimeoutSeconds == 0 {
		c.Gateway.RequestTimeoutSeconds = 5
	}
	if c.Gateway.OrderTimeoutSeconds == 0 {
		c.Gateway.OrderTimeoutSeconds = 30
	}
	if c.Gateway.OrderIDWaitSeconds == 0 {
		c.Gateway.OrderIDWaitSeconds = 10
	}
	if c.Gateway.AccountTag == "" {
		c.Gateway.AccountTag = "AvailableFunds"
	}
	if c.Gateway.IndexSymbol == "" {
		c.Gateway.IndexSymbol = "VIX"
	}
	if c.Reconnect.BaseSeconds == 0 {
		c.Reconnect.BaseSeconds = 2
	}
	if c.Reconnect.MaxSeconds == 0 {
		c.Reconnect.MaxSeconds = 60
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
