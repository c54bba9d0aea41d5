package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	ownerHex  = "0x00000000000000000000000000000000000000f1"
	oracleHex = "0x00000000000000000000000000000000000000e1"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polybet.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeFile(t, `
log_level = "debug"

[server]
port = 9090

[redis]
cache_ttl = "1m"

[platform]
owner = "`+ownerHex+`"
oracle = "`+oracleHex+`"
fee_bps = 100
min_duration = "2h"
categories = ["crypto", "weather"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.LogLevel != "debug" {
		t.Errorf("file values not applied: %+v", cfg.Server)
	}
	if cfg.Redis.CacheTTL.Duration != time.Minute || cfg.Redis.EventsChannel != "polybet:events" {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Server.ShutdownTimeout.Duration != 5*time.Second {
		t.Error("unset fields should keep their defaults")
	}

	fc := cfg.FactoryConfig()
	if fc.Owner != common.HexToAddress(ownerHex) || fc.FeeBps != 100 || fc.MinDuration != 2*time.Hour {
		t.Errorf("unexpected factory config %+v", fc)
	}
	if len(fc.Categories) != 2 || fc.Categories[1] != "weather" {
		t.Errorf("unexpected categories %v", fc.Categories)
	}
}

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("DATABASE_URL", "postgres://localhost/polybet")
	t.Setenv("POLYBET_PLATFORM_OWNER", ownerHex)
	t.Setenv("POLYBET_PLATFORM_ORACLE", oracleHex)
	t.Setenv("POLYBET_PLATFORM_CATEGORIES", "crypto, sports ,")
	t.Setenv("POLYBET_PLATFORM_MIN_DURATION", "48h")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Server.Port != 7000 || cfg.Database.URL != "postgres://localhost/polybet" {
		t.Errorf("env overrides not applied: port=%d db=%q", cfg.Server.Port, cfg.Database.URL)
	}
	if got := cfg.Platform.Categories; len(got) != 2 || got[1] != "sports" {
		t.Errorf("unexpected categories %v", got)
	}
	if cfg.Platform.MinDuration.Duration != 48*time.Hour {
		t.Errorf("unexpected min duration %s", cfg.Platform.MinDuration)
	}
}

func TestLoad_PrefixedOverridesBareVariables(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("POLYBET_SERVER_PORT", "7001")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("expected POLYBET_SERVER_PORT to win, got %d", cfg.Server.Port)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	if _, err := Load(writeFile(t, "log_level = ")); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Platform.Owner = ownerHex
		cfg.Platform.Oracle = oracleHex
		return &cfg
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("defaults with roles should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"missing owner", func(c *Config) { c.Platform.Owner = "" }, "owner"},
		{"zero oracle", func(c *Config) { c.Platform.Oracle = "0x0000000000000000000000000000000000000000" }, "oracle"},
		{"same addresses", func(c *Config) { c.Platform.RegistryAddress = c.Platform.FactoryAddress }, "must differ"},
		{"fee", func(c *Config) { c.Platform.FeeBps = 10_000 }, "fee_bps"},
		{"duration", func(c *Config) { c.Platform.MinDuration.Duration = 0 }, "min_duration"},
		{"category", func(c *Config) { c.Platform.Categories = []string{"Bad Name"} }, "category"},
		{"cache ttl", func(c *Config) { c.Redis.URL = "redis://localhost"; c.Redis.CacheTTL.Duration = 0 }, "cache_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
