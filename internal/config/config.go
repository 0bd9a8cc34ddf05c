// Package config loads and validates configuration at startup.
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. Fail-fast: a missing required value stops the process.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are probed in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml", "/etc/deal-service/config.yaml"}

// DefaultGatewayURL is the completion gateway used when GATEWAY_URL is unset.
const DefaultGatewayURL = "https://appifex-gateway.appifex-ai.workers.dev"

var schemaNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Config holds all runtime configuration for the deal service.
type Config struct {
	Port        string `koanf:"port"`
	GRPCPort    string `koanf:"grpc_port"`
	DatabaseURL string `koanf:"database_url"`
	SchemaName  string `koanf:"schema_name"`
	RedisURL    string `koanf:"redis_url"`

	// RecommendationTTL bounds how long a device's ranked list is cached.
	RecommendationTTL time.Duration `koanf:"recommendation_ttl"`

	Gateway GatewayConfig `koanf:"gateway"`
	Refresh RefreshConfig `koanf:"refresh"`
	HTTP    HTTPConfig    `koanf:"http"`
	Logging LoggingConfig `koanf:"logging"`
}

// GatewayConfig configures the outbound completion gateway client.
// An empty APIKey is allowed at startup; refreshes report it as a
// configuration error when they need it.
type GatewayConfig struct {
	URL         string        `koanf:"url"`
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
	RPS         float64       `koanf:"rps"`
	Burst       int           `koanf:"burst"`
}

// RefreshConfig drives the periodic background refresh.
type RefreshConfig struct {
	Enabled       bool          `koanf:"enabled"`
	IntervalHours int           `koanf:"interval_hours"`
	Query         string        `koanf:"query"`
	Categories    []string      `koanf:"categories"`
	Limit         int           `koanf:"limit"`
	Timeout       time.Duration `koanf:"timeout"`
}

// HTTPConfig holds transport settings for the REST API.
type HTTPConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Port:       "8080",
		GRPCPort:   "9090",
		SchemaName: "public",

		RecommendationTTL: 5 * time.Minute,
		Gateway: GatewayConfig{
			URL:         DefaultGatewayURL,
			Model:       "gpt-4o-mini",
			Temperature: 0.4,
			MaxTokens:   1600,
			Timeout:     35 * time.Second,
			RPS:         2,
			Burst:       4,
		},
		Refresh: RefreshConfig{
			Enabled:       true,
			IntervalHours: 6,
			Categories:    []string{},
			Limit:         18,
			Timeout:       60 * time.Second,
		},
		HTTP: HTTPConfig{
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
			ReadTimeout:       10 * time.Second,
			// refresh waits on the gateway, so writes get more room than reads
			WriteTimeout: 45 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// envMappings maps environment variable names (lower-cased) to config keys.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	"port":                    "port",
	"deals_port":              "port",
	"grpc_port":               "grpc_port",
	"database_url":            "database_url",
	"schema_name":             "schema_name",
	"redis_url":               "redis_url",
	"recommendation_ttl":      "recommendation_ttl",
	"gateway_url":             "gateway.url",
	"appifex_gateway_api_key": "gateway.api_key",
	"gateway_model":           "gateway.model",
	"gateway_timeout":         "gateway.timeout",
	"gateway_rps":             "gateway.rps",
	"gateway_burst":           "gateway.burst",
	"refresh_enabled":         "refresh.enabled",
	"refresh_interval_hours":  "refresh.interval_hours",
	"refresh_query":           "refresh.query",
	"refresh_categories":      "refresh.categories",
	"refresh_limit":           "refresh.limit",
	"cors_origins":            "http.cors_origins",
	"rate_limit_requests":     "http.rate_limit_requests",
	"rate_limit_window":       "http.rate_limit_window",
	"log_level":               "logging.level",
	"log_format":              "logging.format",
}

// sliceKeys arrive from the environment as comma-separated strings.
var sliceKeys = []string{"refresh.categories", "http.cors_origins"}

// Load reads defaults, the optional config file and the environment, and
// returns a validated Config.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSliceKeys(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envKey(name string) string {
	return envMappings[strings.ToLower(name)]
}

func findConfigFile() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func splitSliceKeys(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		s, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		parts := make([]string, 0)
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(key, parts); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if !schemaNamePattern.MatchString(c.SchemaName) {
		return fmt.Errorf("SCHEMA_NAME %q is not a valid schema identifier", c.SchemaName)
	}
	if c.Gateway.URL == "" {
		return errors.New("GATEWAY_URL must not be empty")
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", c.Gateway.Timeout)
	}
	if c.Refresh.IntervalHours < 1 {
		return fmt.Errorf("REFRESH_INTERVAL_HOURS must be a positive integer, got %d", c.Refresh.IntervalHours)
	}
	if c.Refresh.Limit < 3 || c.Refresh.Limit > 50 {
		return fmt.Errorf("REFRESH_LIMIT must be between 3 and 50, got %d", c.Refresh.Limit)
	}
	return nil
}
