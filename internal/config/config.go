// SPDX-License-Identifier: MIT

// Package config loads gateway configuration from an optional static YAML
// file (gopkg.in/yaml.v2) with environment variables taking final
// precedence. An optional .env file (github.com/joho/godotenv) is loaded
// into the process environment, so its values count as environment
// variables and also override the YAML file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the gateway process's full runtime configuration.
type Config struct {
	ListenAddr           string        `yaml:"listen_addr"`
	MetricsAddr          string        `yaml:"metrics_addr"`
	BroadcastInterval    time.Duration `yaml:"-"`
	BroadcastIntervalMS  int           `yaml:"broadcast_interval_ms"`
	LargeUpdateAreaRatio float64       `yaml:"large_update_area_ratio"`
	JPEGQualityLarge     int           `yaml:"jpeg_quality_large"`
	JPEGQualityNormal    int           `yaml:"jpeg_quality_normal"`
	JPEGQualityFullFrame int           `yaml:"jpeg_quality_full_frame"`
	UpstreamAllowlist    []string      `yaml:"upstream_allowlist"`
}

// Default returns the gateway's built-in defaults, used as the base layer
// before YAML and environment overrides are applied.
func Default() Config {
	return Config{
		ListenAddr:           ":8080",
		MetricsAddr:          ":9090",
		BroadcastInterval:    33 * time.Millisecond,
		BroadcastIntervalMS:  33,
		LargeUpdateAreaRatio: 0.20,
		JPEGQualityLarge:     65,
		JPEGQualityNormal:    85,
		JPEGQualityFullFrame: 85,
		UpstreamAllowlist:    nil,
	}
}

// Load builds a Config by layering, in increasing precedence: built-in
// defaults, an optional YAML file at yamlPath, then environment variable
// overrides. The optional .env file at envPath is loaded into the process
// environment first (without replacing variables already set), so its
// values are applied as environment overrides, above the YAML file.
// Missing files are not errors; malformed files are.
func Load(envPath, yamlPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return Config{}, err
			}
		}
	}

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, err
			}
		}
	}

	applyEnvOverrides(&cfg)
	cfg.BroadcastInterval = time.Duration(cfg.BroadcastIntervalMS) * time.Millisecond

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RFBGATEWAY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("RFBGATEWAY_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("RFBGATEWAY_BROADCAST_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BroadcastIntervalMS = n
		}
	}
	if v := os.Getenv("RFBGATEWAY_LARGE_UPDATE_AREA_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LargeUpdateAreaRatio = f
		}
	}
	if v := os.Getenv("RFBGATEWAY_JPEG_QUALITY_LARGE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JPEGQualityLarge = n
		}
	}
	if v := os.Getenv("RFBGATEWAY_JPEG_QUALITY_NORMAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JPEGQualityNormal = n
		}
	}
	if v := os.Getenv("RFBGATEWAY_UPSTREAM_ALLOWLIST"); v != "" {
		cfg.UpstreamAllowlist = strings.Split(v, ",")
	}
}

// AllowsUpstream reports whether hostPort may be dialed. An empty
// allow-list means unrestricted.
func (c Config) AllowsUpstream(hostPort string) bool {
	if len(c.UpstreamAllowlist) == 0 {
		return true
	}
	for _, allowed := range c.UpstreamAllowlist {
		if allowed == hostPort {
			return true
		}
	}
	return false
}
