// Package config loads the gateway's process configuration from a YAML file
// with environment-variable overrides, per the external interfaces defined
// for the gateway: http.{host,port}, providers.<name>.{api_key,endpoint},
// rate_limit.hourly, cost_control.{daily,monthly,total}, clickhouse.url,
// cors.origins. Precedence is env > file > defaults, matching the
// spec-mandated override order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the immutable snapshot captured at startup and threaded
	// explicitly through request handling rather than read from a process-wide
	// mutable singleton.
	Config struct {
		HTTP        HTTPConfig                `yaml:"http"`
		Providers   map[string]ProviderConfig `yaml:"providers"`
		RateLimit   RateLimitConfig           `yaml:"rate_limit"`
		CostControl CostControlConfig         `yaml:"cost_control"`
		ClickHouse  ClickHouseConfig          `yaml:"clickhouse"`
		CORS        CORSConfig                `yaml:"cors"`
	}

	// HTTPConfig configures the gateway's listening address.
	HTTPConfig struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	}

	// ProviderConfig carries per-provider credentials and an optional
	// endpoint override, used for OpenAI-compatible upstreams (DeepSeek,
	// TogetherAI, XAI) that share the OpenAI adapter against a different
	// base URL.
	ProviderConfig struct {
		APIKey   string `yaml:"api_key"`
		Endpoint string `yaml:"endpoint"`
	}

	// RateLimitConfig configures the limit gate's hourly request-count check.
	RateLimitConfig struct {
		Hourly int `yaml:"hourly"`
	}

	// CostControlConfig configures the limit gate's cost ceilings. Zero means
	// unconfigured (never denies).
	CostControlConfig struct {
		Daily   float64 `yaml:"daily"`
		Monthly float64 `yaml:"monthly"`
		Total   float64 `yaml:"total"`
	}

	// ClickHouseConfig configures the trace emitter's columnar sink endpoint.
	ClickHouseConfig struct {
		URL string `yaml:"url"`
	}

	// CORSConfig configures the HTTP surface's allowed origins.
	CORSConfig struct {
		Origins []string `yaml:"origins"`
	}
)

// envPrefix is the provider API key override convention: LANGDB_<PROVIDER>_API_KEY.
const envPrefix = "LANGDB_"

// Load reads path as YAML into a Config, applies environment-variable
// overrides, and returns the result. path may be empty, in which case only
// defaults and environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := &Config{Providers: map[string]ProviderConfig{}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides mutates cfg in place with the GATEWAY_* settings
// variables (HTTP host/port, hourly rate limit, cost ceilings, ClickHouse
// URL, CORS origins) and any LANGDB_<PROVIDER>_API_KEY variables, which take
// precedence over file values and defaults per the configuration precedence
// order.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_HTTP_HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if v := os.Getenv("GATEWAY_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = port
		}
	}
	if v := os.Getenv("GATEWAY_RATE_LIMIT_HOURLY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Hourly = n
		}
	}
	if v := os.Getenv("GATEWAY_COST_DAILY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CostControl.Daily = f
		}
	}
	if v := os.Getenv("GATEWAY_COST_MONTHLY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CostControl.Monthly = f
		}
	}
	if v := os.Getenv("GATEWAY_COST_TOTAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CostControl.Total = f
		}
	}
	if v := os.Getenv("GATEWAY_CLICKHOUSE_URL"); v != "" {
		cfg.ClickHouse.URL = v
	}
	if v := os.Getenv("GATEWAY_CORS_ORIGINS"); v != "" {
		cfg.CORS.Origins = strings.Split(v, ",")
	}

	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || value == "" || !strings.HasPrefix(name, envPrefix) || !strings.HasSuffix(name, "_API_KEY") {
			continue
		}
		provider := strings.TrimSuffix(strings.TrimPrefix(name, envPrefix), "_API_KEY")
		provider = strings.ToLower(provider)
		if provider == "" {
			continue
		}
		entry := cfg.Providers[provider]
		entry.APIKey = value
		cfg.Providers[provider] = entry
	}
}
