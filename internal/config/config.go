// Package config defines all configuration for the trading server.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via SKINTRADE_* environment variables. Every value has a boot
// default, so a missing config file yields a runnable server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Session SessionConfig `mapstructure:"session"`
	Trade   TradeConfig   `mapstructure:"trade"`
	Market  MarketConfig  `mapstructure:"market"`
	Unbox   UnboxConfig   `mapstructure:"unbox"`
	Live    LiveConfig    `mapstructure:"live"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig sets the TCP listener and worker pool dimensions.
type ServerConfig struct {
	Port          int `mapstructure:"port"`
	Workers       int `mapstructure:"workers"`
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// StoreConfig sets where the SQLite database lives.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// SessionConfig controls session idle expiry.
type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// TradeConfig controls offer expiry and the market trade lock.
//
//   - OfferTTL: pending offers expire this long after creation.
//   - LockTTL: market-acquired items stay non-tradable this long.
//   - ReapInterval: how often the reaper sweeps expired offers and locks.
type TradeConfig struct {
	OfferTTL     time.Duration `mapstructure:"offer_ttl"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// MarketConfig sets the sale fee taken out of the seller's payout.
type MarketConfig struct {
	FeeRate string `mapstructure:"fee_rate"` // decimal string, e.g. "0.15"
}

// UnboxConfig sets the case-opening economics.
type UnboxConfig struct {
	KeyPrice        string `mapstructure:"key_price"`        // decimal string
	StartingBalance string `mapstructure:"starting_balance"` // decimal string
}

// LiveConfig controls the observer WebSocket feed.
type LiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. A missing file
// is not an error; defaults cover every field.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SKINTRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8888)
	v.SetDefault("server.workers", 8)
	v.SetDefault("server.queue_capacity", 1000)
	v.SetDefault("store.path", "skintrade.db")
	v.SetDefault("session.ttl", time.Hour)
	v.SetDefault("trade.offer_ttl", 15*time.Minute)
	v.SetDefault("trade.lock_ttl", 7*24*time.Hour)
	v.SetDefault("trade.reap_interval", 30*time.Second)
	v.SetDefault("market.fee_rate", "0.15")
	v.SetDefault("unbox.key_price", "2.5")
	v.SetDefault("unbox.starting_balance", "100")
	v.SetDefault("live.enabled", false)
	v.SetDefault("live.port", 8889)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be > 0")
	}
	if c.Server.QueueCapacity <= 0 {
		return fmt.Errorf("server.queue_capacity must be > 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be > 0")
	}
	if c.Trade.OfferTTL <= 0 {
		return fmt.Errorf("trade.offer_ttl must be > 0")
	}
	if c.Trade.LockTTL <= 0 {
		return fmt.Errorf("trade.lock_ttl must be > 0")
	}
	return nil
}
