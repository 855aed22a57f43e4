// Package config loads and validates gateway configuration: server
// bind address, the ordered provider list, proxy settings, telemetry
// storage, and the tunable cache-analysis constants. YAML file plus
// LLMROUTER_-prefixed environment overrides, with ${VAR} interpolation
// in string values.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/howard-nolan/llmrouter/internal/cache"
)

// Config is the top-level configuration for the llmrouter gateway.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Providers []ProviderConfig `koanf:"providers"`
	Proxy     ProxyConfig      `koanf:"proxy"`
	Logging   LoggingConfig    `koanf:"logging"`
	Analysis  AnalysisConfig   `koanf:"analysis"`
}

// ServerConfig holds HTTP server bind settings.
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// MaxConnectionsPerProvider bounds each provider's HTTP client
	// connection pool.
	MaxConnectionsPerProvider int `koanf:"max_connections_per_provider"`
	// UpstreamTimeoutSeconds bounds each upstream call.
	UpstreamTimeoutSeconds int `koanf:"upstream_timeout_seconds"`
}

// ProviderConfig holds the settings for a single configured provider,
// in the order they appear in the config file — order matters for the
// router's "first provider of a given dialect" fallback, which is why
// Providers is a slice, not a map: koanf preserves array order, Go map
// iteration does not.
type ProviderConfig struct {
	Name        string `koanf:"name"`
	APIKey      string `koanf:"api_key"`
	BaseURL     string `koanf:"base_url"`
	DialectHint string `koanf:"dialect_hint"`
}

// ProxyConfig holds optional outbound proxy settings. The HTTP/SOCKS URL
// and the basic-auth pair are applied to every provider's HTTP client;
// TimeoutSeconds is loaded but not read anywhere — the upstream timeout
// comes from server.upstream_timeout_seconds.
type ProxyConfig struct {
	HTTPURL        string `koanf:"http_url"`
	SOCKSURL       string `koanf:"socks_url"`
	BasicAuthUser  string `koanf:"basic_auth_user"`
	BasicAuthPass  string `koanf:"basic_auth_pass"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

// LoggingConfig controls the telemetry store.
type LoggingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	StoragePath string `koanf:"storage_path"`
	// QueueCapacity bounds the telemetry writer's in-process queue.
	QueueCapacity int `koanf:"queue_capacity"`
	// Debug switches obslog to a human-readable development encoder.
	Debug bool `koanf:"debug"`
}

// AnalysisConfig controls cache-estimation feature flags and the
// tunable probability constants behind the history bucket. The
// constants are heuristic, so they live in configuration where an
// operator can adjust them against observed upstream hit rates.
type AnalysisConfig struct {
	CacheAnalysisEnabled bool               `koanf:"cache_analysis_enabled"`
	CacheProbabilities   CacheProbabilities `koanf:"cache_probabilities"`
}

// CacheProbabilities mirrors cache.Probabilities as a config-loadable
// struct; ToProbabilities converts it, falling back to
// cache.DefaultProbabilities field-by-field when a value was left at
// its zero value (so an empty `analysis.cache_probabilities:` block in
// the config file doesn't silently zero out the whole table).
type CacheProbabilities struct {
	Base                float64 `koanf:"base"`
	SystemRoleBonus     float64 `koanf:"system_role_bonus"`
	ShortContentBonus   float64 `koanf:"short_content_bonus"`
	MediumContentBonus  float64 `koanf:"medium_content_bonus"`
	RepetitiveBonus     float64 `koanf:"repetitive_bonus"`
	ShortContentLimit   int     `koanf:"short_content_limit"`
	MediumContentLimit  int     `koanf:"medium_content_limit"`
	RepetitiveMinTokens int     `koanf:"repetitive_min_tokens"`
}

// ToProbabilities converts the config-loaded table into
// cache.Probabilities, defaulting any field left at its zero value.
func (c CacheProbabilities) ToProbabilities() cache.Probabilities {
	d := cache.DefaultProbabilities
	p := cache.Probabilities{
		Base:                orDefault(c.Base, d.Base),
		SystemRoleBonus:     orDefault(c.SystemRoleBonus, d.SystemRoleBonus),
		ShortContentBonus:   orDefault(c.ShortContentBonus, d.ShortContentBonus),
		MediumContentBonus:  orDefault(c.MediumContentBonus, d.MediumContentBonus),
		RepetitiveBonus:     orDefault(c.RepetitiveBonus, d.RepetitiveBonus),
		ShortContentLimit:   orDefaultInt(c.ShortContentLimit, d.ShortContentLimit),
		MediumContentLimit:  orDefaultInt(c.MediumContentLimit, d.MediumContentLimit),
		RepetitiveMinTokens: orDefaultInt(c.RepetitiveMinTokens, d.RepetitiveMinTokens),
	}
	return p
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Load reads configuration from a YAML file, layers environment
// variable overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env into the process environment; ignored if not present.
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Any env var starting with LLMROUTER_ overrides a config value:
	// LLMROUTER_SERVER_PORT -> server.port.
	if err := k.Load(env.Provider("LLMROUTER_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "LLMROUTER_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandEnvInPlace(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvInPlace resolves ${VAR} placeholders at load time in these
// fields only: each provider's api_key and base_url, the proxy's
// http_url, socks_url, basic_auth_user and basic_auth_pass, and
// logging.storage_path. A field is replaced only when its whole value is
// one "${VAR}"; a placeholder embedded in a longer string is left as
// written, and other string fields are not expanded.
func expandEnvInPlace(cfg *Config) {
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = expandVar(cfg.Providers[i].APIKey)
		cfg.Providers[i].BaseURL = expandVar(cfg.Providers[i].BaseURL)
	}
	cfg.Proxy.HTTPURL = expandVar(cfg.Proxy.HTTPURL)
	cfg.Proxy.SOCKSURL = expandVar(cfg.Proxy.SOCKSURL)
	cfg.Proxy.BasicAuthUser = expandVar(cfg.Proxy.BasicAuthUser)
	cfg.Proxy.BasicAuthPass = expandVar(cfg.Proxy.BasicAuthPass)
	cfg.Logging.StoragePath = expandVar(cfg.Logging.StoragePath)
}

// expandVar resolves a single "${VAR_NAME}" placeholder via
// os.Getenv. Values not matching that exact shape pass through
// unchanged.
func expandVar(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

// validate rejects configurations the gateway cannot serve from.
func validate(cfg *Config) error {
	if len(cfg.Providers) == 0 {
		return &ConfigError{Reason: "no providers configured"}
	}
	seen := make(map[string]struct{}, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return &ConfigError{Reason: "provider entry missing name"}
		}
		if _, dup := seen[p.Name]; dup {
			return &ConfigError{Reason: fmt.Sprintf("duplicate provider name %q", p.Name)}
		}
		seen[p.Name] = struct{}{}
		if p.DialectHint != "openai_compatible" && p.DialectHint != "anthropic_compatible" {
			return &ConfigError{Reason: fmt.Sprintf("provider %q has invalid dialect_hint %q", p.Name, p.DialectHint)}
		}
		if p.BaseURL == "" {
			return &ConfigError{Reason: fmt.Sprintf("provider %q missing base_url", p.Name)}
		}
	}
	return nil
}

// applyDefaults fills in zero-valued fields the gateway needs a
// sensible default for, rather than requiring every config file to
// spell them out.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.MaxConnectionsPerProvider == 0 {
		cfg.Server.MaxConnectionsPerProvider = 10
	}
	if cfg.Server.UpstreamTimeoutSeconds == 0 {
		cfg.Server.UpstreamTimeoutSeconds = 30
	}
	if cfg.Logging.StoragePath == "" {
		cfg.Logging.StoragePath = "llmrouter.db"
	}
	if cfg.Logging.QueueCapacity == 0 {
		cfg.Logging.QueueCapacity = 1000
	}
}

// ConfigError means the gateway itself is misconfigured in a way that
// prevents serving. Fatal at startup; never returned from a request
// path.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Reason)
}
