package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults and applies environment
// overrides. A missing file is not an error, so the server can run from the
// environment alone. The result has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose POLYBET_* variable is set. The
// bare PORT, DATABASE_URL and REDIS_URL variables are honoured too.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "POLYBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYBET_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.RequestTimeout, "POLYBET_SERVER_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "POLYBET_SERVER_SHUTDOWN_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Database.URL, "POLYBET_DATABASE_URL")
	setBool(&cfg.Database.RunMigrations, "POLYBET_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.URL, "POLYBET_REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "POLYBET_REDIS_CACHE_TTL")
	setStr(&cfg.Redis.EventsChannel, "POLYBET_REDIS_EVENTS_CHANNEL")
	setStr(&cfg.Redis.EventsStream, "POLYBET_REDIS_EVENTS_STREAM")

	// ── Platform ──
	setStr(&cfg.Platform.FactoryAddress, "POLYBET_PLATFORM_FACTORY_ADDRESS")
	setStr(&cfg.Platform.RegistryAddress, "POLYBET_PLATFORM_REGISTRY_ADDRESS")
	setStr(&cfg.Platform.Owner, "POLYBET_PLATFORM_OWNER")
	setStr(&cfg.Platform.Oracle, "POLYBET_PLATFORM_ORACLE")
	setUint64(&cfg.Platform.FeeBps, "POLYBET_PLATFORM_FEE_BPS")
	setDuration(&cfg.Platform.MinDuration, "POLYBET_PLATFORM_MIN_DURATION")
	setStringSlice(&cfg.Platform.Categories, "POLYBET_PLATFORM_CATEGORIES")

	setStr(&cfg.LogLevel, "POLYBET_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
