// Package bot assembles the dating bot application on top of the core
// runtime: configuration, infrastructure, services, and Telegram wiring.
package bot

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "github.com/m3rciful/meetbot/core/config"
	coredatabase "github.com/m3rciful/meetbot/core/database"
)

// RedisConfig holds connection settings for the optional Redis cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

// SearchConfig bounds candidate search.
type SearchConfig struct {
	DefaultRadiusKM int `yaml:"default_radius_km"`
	MaxRadiusKM     int `yaml:"max_radius_km"`
	MaxCandidates   int `yaml:"max_candidates"`
}

// PlacesConfig configures the Yandex place lookup.
type PlacesConfig struct {
	APIKey          string `yaml:"api_key" envconfig:"YANDEX_API_KEY"`
	BaseURL         string `yaml:"base_url"`
	Results         int    `yaml:"results"`
	CacheTTLMinutes int    `yaml:"cache_ttl_minutes"`
}

// CacheTTL returns the configured TTL as a duration.
func (p PlacesConfig) CacheTTL() time.Duration {
	return time.Duration(p.CacheTTLMinutes) * time.Minute
}

// Config aggregates core and bot-specific configuration.
type Config struct {
	Core     coreconfig.Config   `yaml:",inline"`
	Database coredatabase.Config `yaml:"database"`
	Redis    RedisConfig         `yaml:"redis"`
	Search   SearchConfig        `yaml:"search"`
	Places   PlacesConfig        `yaml:"places"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Core
}

// LoadConfig reads configuration from a YAML file and environment variables.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := coreconfig.Normalize(&cfg.Core); err != nil {
		return nil, err
	}
	return &cfg, nil
}
