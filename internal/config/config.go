// Package config defines the server configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/polybet/internal/amm"
	"github.com/atmx/polybet/internal/factory"
)

// Config is the root configuration. Fields are populated from an optional
// TOML file and then overridden by POLYBET_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Platform PlatformConfig `toml:"platform"`
	LogLevel string         `toml:"log_level"`
}

type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RequestTimeout  duration `toml:"request_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// DatabaseConfig selects the read-model store. An empty URL means in-memory.
type DatabaseConfig struct {
	URL           string `toml:"url"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig enables the snapshot cache and the event stream. An empty URL
// disables both.
type RedisConfig struct {
	URL           string   `toml:"url"`
	CacheTTL      duration `toml:"cache_ttl"`
	EventsChannel string   `toml:"events_channel"`
	EventsStream  string   `toml:"events_stream"`
}

// PlatformConfig holds the identities and economics of the deployment.
type PlatformConfig struct {
	FactoryAddress  string   `toml:"factory_address"`
	RegistryAddress string   `toml:"registry_address"`
	Owner           string   `toml:"owner"`
	Oracle          string   `toml:"oracle"`
	FeeBps          uint64   `toml:"fee_bps"`
	MinDuration     duration `toml:"min_duration"`
	Categories      []string `toml:"categories"`
}

// duration supports TOML strings like "24h" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a configuration that runs a self-contained in-memory
// deployment. Owner and oracle still have to be supplied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"*"},
			RequestTimeout:  duration{30 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
		},
		Database: DatabaseConfig{
			RunMigrations: true,
		},
		Redis: RedisConfig{
			CacheTTL:      duration{30 * time.Second},
			EventsChannel: "polybet:events",
			EventsStream:  "polybet:stream",
		},
		Platform: PlatformConfig{
			FactoryAddress:  "0x00000000000000000000000000000000000FAC01",
			RegistryAddress: "0x00000000000000000000000000000000000AE601",
			FeeBps:          amm.DefaultFeeBps,
			MinDuration:     duration{factory.DefaultMinDuration},
			Categories:      append([]string(nil), factory.DefaultCategories...),
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks c for invalid or missing values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, "server: shutdown_timeout must be positive")
	}
	if c.Redis.URL != "" && c.Redis.CacheTTL.Duration <= 0 {
		errs = append(errs, "redis: cache_ttl must be positive")
	}

	for field, v := range map[string]string{
		"factory_address":  c.Platform.FactoryAddress,
		"registry_address": c.Platform.RegistryAddress,
		"owner":            c.Platform.Owner,
		"oracle":           c.Platform.Oracle,
	} {
		if !validAddress(v) {
			errs = append(errs, fmt.Sprintf("platform: %s %q is not a non-zero hex address", field, v))
		}
	}
	if c.Platform.FactoryAddress != "" && strings.EqualFold(c.Platform.FactoryAddress, c.Platform.RegistryAddress) {
		errs = append(errs, "platform: factory_address and registry_address must differ")
	}
	if _, err := amm.NewCurve(c.Platform.FeeBps); err != nil {
		errs = append(errs, fmt.Sprintf("platform: fee_bps %d must be below 10000", c.Platform.FeeBps))
	}
	if c.Platform.MinDuration.Duration <= 0 {
		errs = append(errs, "platform: min_duration must be positive")
	}
	for _, cat := range c.Platform.Categories {
		if _, err := factory.NormalizeCategory(cat); err != nil {
			errs = append(errs, fmt.Sprintf("platform: %v", err))
		}
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func validAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}

// FactoryConfig converts the platform section for factory.New. Call after
// Validate.
func (c *Config) FactoryConfig() factory.Config {
	return factory.Config{
		Owner:       common.HexToAddress(c.Platform.Owner),
		Oracle:      common.HexToAddress(c.Platform.Oracle),
		FeeBps:      c.Platform.FeeBps,
		MinDuration: c.Platform.MinDuration.Duration,
		Categories:  c.Platform.Categories,
	}
}
