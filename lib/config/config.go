// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/chatcore/lib/cache"
	"github.com/bureau-foundation/chatcore/lib/tier"
)

// EnvConfig names the environment variable holding the config path.
const EnvConfig = "CHATCORE_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Provider kinds.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config is the master configuration for chatcore.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Provider  ProviderConfig  `yaml:"provider"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Tiers     TiersConfig     `yaml:"tiers"`
	Auth      AuthConfig      `yaml:"auth"`
	Watch     WatchConfig     `yaml:"watch"`
}

// environmentSections holds the raw per-environment override
// sections. Each has the same shape as the base document and is
// decoded over it when Environment matches.
type environmentSections struct {
	Development yaml.Node `yaml:"development"`
	Staging     yaml.Node `yaml:"staging"`
	Production  yaml.Node `yaml:"production"`
}

// ServerConfig configures the HTTP listener and stream lifecycle.
type ServerConfig struct {
	// Address is the TCP listen address.
	Address string `yaml:"address"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// StreamTimeout is the total time a stream may run before a
	// timeout error frame is sent.
	StreamTimeout time.Duration `yaml:"stream_timeout"`

	// PingInterval is the keepalive period on idle streams.
	PingInterval time.Duration `yaml:"ping_interval"`

	// StreamBuffer is the number of events buffered between the
	// provider reader and the client writer.
	StreamBuffer int `yaml:"stream_buffer"`
}

// ModelConfig selects the active model.
type ModelConfig struct {
	// Active is a registry id. Unknown ids fall back to the registry
	// default with a warning.
	Active          string  `yaml:"active"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	Temperature     float64 `yaml:"temperature"`
}

// ProviderConfig configures the upstream LLM API.
type ProviderConfig struct {
	// Kind is "openai" or "anthropic".
	Kind string `yaml:"kind"`

	// BaseURL overrides the provider's public endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey is usually written as ${OPENAI_API_KEY}.
	APIKey string `yaml:"api_key"`

	// Timeout bounds the wait for response headers. Streamed bodies
	// are bounded by server.stream_timeout instead.
	Timeout time.Duration `yaml:"timeout"`

	MaxAttempts int             `yaml:"max_attempts"`
	Backoff     []time.Duration `yaml:"backoff"`
}

// RetrievalConfig configures the search service.
type RetrievalConfig struct {
	// Endpoint is the search service URL. Empty disables retrieval,
	// so every question gets the fallback answer.
	Endpoint     string        `yaml:"endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxChunks    int           `yaml:"max_chunks"`
	HistoryTurns int           `yaml:"history_turns"`
}

// StoreConfig selects the shared store backing the cache, rate
// limiter, usage tracker, and session history.
type StoreConfig struct {
	// Kind is "memory" or "sqlite".
	Kind     string `yaml:"kind"`
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`

	// SweepInterval is how often expired keys are removed.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`

	// Invalidation is "all" or "source".
	Invalidation string `yaml:"invalidation"`

	// Compression is "zstd", "lz4", or "none".
	Compression string `yaml:"compression"`

	// KeyWidth is the number of hex characters in a cache key.
	KeyWidth int `yaml:"key_width"`
}

// RateLimitConfig configures admission control. Per-minute and
// per-day rates come from the tier table.
type RateLimitConfig struct {
	PerUserHour int64 `yaml:"per_user_hour"`

	// FailOpen admits requests when the store is unreachable.
	FailOpen bool `yaml:"fail_open"`
}

// TiersConfig holds the allowances for each subscription tier.
type TiersConfig struct {
	Basic      tier.Limits `yaml:"basic"`
	Pro        tier.Limits `yaml:"pro"`
	Enterprise tier.Limits `yaml:"enterprise"`
}

// Table converts the configured tiers into a lookup table.
func (t TiersConfig) Table() tier.Table {
	return tier.Table{
		tier.Basic:      t.Basic,
		tier.Pro:        t.Pro,
		tier.Enterprise: t.Enterprise,
	}
}

// AuthConfig configures bearer-token authentication.
type AuthConfig struct {
	// JWTSecret signs and verifies HS256 tokens. Empty disables
	// authentication and trusts the identity in request bodies.
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// WatchConfig configures transcript-directory watching for cache
// invalidation.
type WatchConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Directory string        `yaml:"directory"`
	Debounce  time.Duration `yaml:"debounce"`
}

// Default returns the default configuration. The config file is
// decoded over it, so any option the file omits keeps these values.
func Default() *Config {
	defaults := tier.Defaults()
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Address:         ":8080",
			ShutdownTimeout: 10 * time.Second,
			StreamTimeout:   120 * time.Second,
			PingInterval:    30 * time.Second,
			StreamBuffer:    16,
		},
		Model: ModelConfig{
			Active:          "gpt-4o-mini",
			MaxOutputTokens: 1024,
			Temperature:     0.3,
		},
		Provider: ProviderConfig{
			Kind:        ProviderOpenAI,
			Timeout:     60 * time.Second,
			MaxAttempts: 3,
			Backoff:     []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		},
		Retrieval: RetrievalConfig{
			Timeout:      10 * time.Second,
			MaxChunks:    5,
			HistoryTurns: 6,
		},
		Store: StoreConfig{
			Kind:          StoreMemory,
			Path:          "${CHATCORE_ROOT:-./data}/chatcore.db",
			PoolSize:      4,
			SweepInterval: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:      true,
			TTL:          7 * 24 * time.Hour,
			Invalidation: string(cache.InvalidationAll),
			Compression:  cache.CompressionZstd.String(),
			KeyWidth:     cache.DefaultKeyWidth,
		},
		RateLimit: RateLimitConfig{
			PerUserHour: 100,
			FailOpen:    true,
		},
		Tiers: TiersConfig{
			Basic:      defaults[tier.Basic],
			Pro:        defaults[tier.Pro],
			Enterprise: defaults[tier.Enterprise],
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Load loads configuration from the file named by CHATCORE_CONFIG.
//
// There is no discovery: if the variable is unset, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvConfig)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your chatcore.yaml config file, or use --config flag", EnvConfig)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path. Files ending in .json or
// .jsonc may contain comments and trailing commas.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML (or JSON) document over the defaults, applies
// the matching environment section, and expands variables.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	var sections environmentSections
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvironmentOverrides(&sections); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides decodes the section matching Environment
// over the base values. A missing section leaves the node zero.
func (c *Config) applyEnvironmentOverrides(sections *environmentSections) error {
	var overrides *yaml.Node
	switch c.Environment {
	case Development:
		overrides = &sections.Development
	case Staging:
		overrides = &sections.Staging
	case Production:
		overrides = &sections.Production
	}
	if overrides == nil || overrides.Kind == 0 || overrides.ShortTag() == "!!null" {
		return nil
	}
	if overrides.Kind != yaml.MappingNode {
		return fmt.Errorf("%s overrides: section must be a mapping", c.Environment)
	}

	environment := c.Environment
	if err := overrides.Decode(c); err != nil {
		return fmt.Errorf("%s overrides: %w", environment, err)
	}
	// An override section cannot move the config to another
	// environment.
	c.Environment = environment
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in fields that
// name endpoints, paths, and credentials.
func (c *Config) expandVariables() {
	for _, field := range []*string{
		&c.Provider.BaseURL,
		&c.Provider.APIKey,
		&c.Retrieval.Endpoint,
		&c.Store.Path,
		&c.Auth.JWTSecret,
		&c.Auth.Issuer,
		&c.Watch.Directory,
	} {
		*field = expandVars(*field)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the process
// environment. An unset or empty variable takes the default.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration and reports every problem at
// once.
func (c *Config) Validate() error {
	var errs []error
	problem := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Environment {
	case Development, Staging, Production:
	default:
		problem("invalid environment: %s", c.Environment)
	}

	if c.Server.Address == "" {
		problem("server.address is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		problem("server.shutdown_timeout must be positive")
	}
	if c.Server.PingInterval <= 0 {
		problem("server.ping_interval must be positive")
	}
	if c.Server.StreamBuffer < 1 {
		problem("server.stream_buffer must be at least 1")
	}

	if c.Model.Active == "" {
		problem("model.active is required")
	}
	if c.Model.MaxOutputTokens < 1 {
		problem("model.max_output_tokens must be at least 1")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		problem("model.temperature must be between 0 and 2")
	}

	switch c.Provider.Kind {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		problem("provider.kind must be one of: %v", []string{ProviderOpenAI, ProviderAnthropic})
	}
	if c.Provider.MaxAttempts < 1 {
		problem("provider.max_attempts must be at least 1")
	}
	if len(c.Provider.Backoff) == 0 {
		problem("provider.backoff must list at least one delay")
	}
	for _, delay := range c.Provider.Backoff {
		if delay < 0 {
			problem("provider.backoff delays must not be negative")
			break
		}
	}
	if c.Environment == Production && c.Provider.APIKey == "" {
		problem("provider.api_key is required in production")
	}

	if c.Retrieval.MaxChunks < 1 {
		problem("retrieval.max_chunks must be at least 1")
	}
	if c.Retrieval.HistoryTurns < 0 {
		problem("retrieval.history_turns must not be negative")
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			problem("store.path is required for the sqlite store")
		}
		if c.Store.PoolSize < 1 {
			problem("store.pool_size must be at least 1")
		}
	default:
		problem("store.kind must be one of: %v", []string{StoreMemory, StoreSQLite})
	}

	if c.Cache.Enabled {
		if c.Cache.TTL <= 0 {
			problem("cache.ttl must be positive")
		}
		switch cache.Invalidation(c.Cache.Invalidation) {
		case cache.InvalidationAll, cache.InvalidationSource:
		default:
			problem("cache.invalidation must be one of: %v", []string{string(cache.InvalidationAll), string(cache.InvalidationSource)})
		}
		if _, err := cache.ParseCompression(c.Cache.Compression); err != nil {
			problem("cache.compression: %w", err)
		}
		if c.Cache.KeyWidth < cache.MinKeyWidth || c.Cache.KeyWidth > cache.MaxKeyWidth {
			problem("cache.key_width must be between %d and %d", cache.MinKeyWidth, cache.MaxKeyWidth)
		}
	}

	if c.RateLimit.PerUserHour < 1 {
		problem("rate_limit.per_user_hour must be at least 1")
	}
	if err := c.Tiers.Table().Validate(); err != nil {
		problem("tiers: %w", err)
	}

	if c.Watch.Enabled && c.Watch.Directory == "" {
		problem("watch.directory is required when watching is enabled")
	}

	return errors.Join(errs...)
}
