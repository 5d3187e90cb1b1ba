package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type TransportConfig struct {
	Type string `mapstructure:"type"` // "stdio" or "sse"
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type HTTPConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORS         CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

type CardsConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst      int           `mapstructure:"rate_burst"`
}

type CardCacheConfig struct {
	Enabled   bool                     `mapstructure:"enabled"`
	MaxSize   int                      `mapstructure:"max_size"`
	TTL       time.Duration            `mapstructure:"ttl"`
	TTLByType map[string]time.Duration `mapstructure:"ttl_by_type"`
}

// TTLFor returns the cache lifetime of a card type.
func (c CardCacheConfig) TTLFor(cardType string) time.Duration {
	if ttl, ok := c.TTLByType[cardType]; ok && ttl > 0 {
		return ttl
	}
	return c.TTL
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
	Jitter         float64       `mapstructure:"jitter"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

type ReplayConfig struct {
	Backend      string        `mapstructure:"backend"` // "memory", "postgres" or "redis"
	TTL          time.Duration `mapstructure:"ttl"`
	ClaimTTL     time.Duration `mapstructure:"claim_ttl"` // lifetime of a claim whose owner never stored a result
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PostgresDSN  string        `mapstructure:"postgres_dsn"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	RedisDB      int           `mapstructure:"redis_db"`
	RedisPrefix  string        `mapstructure:"redis_prefix"`
}

type CostsConfig struct {
	EnvPrefix string             `mapstructure:"env_prefix"`
	Overrides map[string]float64 `mapstructure:"overrides"`
}

type WorkflowsConfig struct {
	CatalogPath   string `mapstructure:"catalog_path"`
	BodyRunnerURL string `mapstructure:"body_runner_url"`
}

type DeprecationConfig struct {
	MigrationGuideURL string `mapstructure:"migration_guide_url"`
}

type PluginsConfig struct {
	Disabled     []string      `mapstructure:"disabled"`
	SyncInterval time.Duration `mapstructure:"sync_interval"` // 0 checks backend capabilities once at startup
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

type ServerConfig struct {
	Transport   TransportConfig   `mapstructure:"transport"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	LogLevel    string            `mapstructure:"log_level"`
	LogFormat   string            `mapstructure:"log_format"`
	LogBuffer   int               `mapstructure:"log_buffer"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Cards       CardsConfig       `mapstructure:"cards"`
	CardCache   CardCacheConfig   `mapstructure:"card_cache"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Replay      ReplayConfig      `mapstructure:"replay"`
	Costs       CostsConfig       `mapstructure:"costs"`
	Workflows   WorkflowsConfig   `mapstructure:"workflows"`
	Deprecation DeprecationConfig `mapstructure:"deprecation"`
	Plugins     PluginsConfig     `mapstructure:"plugins"`
}

func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Transport: TransportConfig{
			Type: "stdio",
			Host: "localhost",
			Port: 8080,
		},
		HTTP: HTTPConfig{
			Enabled:      false,
			Host:         "0.0.0.0",
			Port:         8090,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Tenant-ID", "X-Trace-ID", "X-Session-ID", "Idempotency-Key"},
			},
		},
		LogLevel:  "info",
		LogFormat: "json",
		LogBuffer: 1000,
		Timeout:   30 * time.Second,
		Cards: CardsConfig{
			BaseURL:        "http://localhost:8001",
			RequestTimeout: time.Second,
			BatchSize:      50,
			MaxConcurrency: 4,
			RateLimit:      50,
			RateBurst:      10,
		},
		CardCache: CardCacheConfig{
			Enabled: true,
			MaxSize: 1000,
			TTL:     time.Hour,
			TTLByType: map[string]time.Duration{
				"voice":    2 * time.Hour,
				"company":  time.Hour,
				"audience": time.Hour,
				"insight":  30 * time.Minute,
			},
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2.0,
			Jitter:         0.5,
			AttemptTimeout: time.Second,
		},
		Replay: ReplayConfig{
			Backend:      "memory",
			TTL:          24 * time.Hour,
			ClaimTTL:     5 * time.Minute,
			PollInterval: 200 * time.Millisecond,
			RedisAddr:    "localhost:6379",
			RedisPrefix:  "workflow-mcp:replay:",
		},
		Costs: CostsConfig{
			EnvPrefix: "TOOL_COST_",
			Overrides: map[string]float64{},
		},
		Workflows: WorkflowsConfig{
			BodyRunnerURL: "http://localhost:8002",
		},
		Deprecation: DeprecationConfig{
			MigrationGuideURL: "https://docs.fylle.ai/migration/context-to-cards",
		},
		Plugins: PluginsConfig{
			Disabled:     []string{},
			SyncInterval: time.Minute,
			ProbeTimeout: 5 * time.Second,
		},
	}
}

func LoadConfig() (*ServerConfig, error) {
	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/workflow-mcp/")
	viper.AddConfigPath("$HOME/.workflow-mcp/")

	viper.SetEnvPrefix("WORKFLOW_MCP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(config)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults(config *ServerConfig) {
	viper.SetDefault("transport.type", config.Transport.Type)
	viper.SetDefault("transport.host", config.Transport.Host)
	viper.SetDefault("transport.port", config.Transport.Port)
	viper.SetDefault("log_level", config.LogLevel)
	viper.SetDefault("log_format", config.LogFormat)
	viper.SetDefault("log_buffer", config.LogBuffer)
	viper.SetDefault("timeout", config.Timeout)

	viper.SetDefault("http.enabled", config.HTTP.Enabled)
	viper.SetDefault("http.host", config.HTTP.Host)
	viper.SetDefault("http.port", config.HTTP.Port)
	viper.SetDefault("http.read_timeout", config.HTTP.ReadTimeout)
	viper.SetDefault("http.write_timeout", config.HTTP.WriteTimeout)
	viper.SetDefault("http.cors.enabled", config.HTTP.CORS.Enabled)
	viper.SetDefault("http.cors.allowed_origins", config.HTTP.CORS.AllowedOrigins)
	viper.SetDefault("http.cors.allowed_methods", config.HTTP.CORS.AllowedMethods)
	viper.SetDefault("http.cors.allowed_headers", config.HTTP.CORS.AllowedHeaders)
	viper.SetDefault("http.cors.max_age", config.HTTP.CORS.MaxAge)

	// Card store defaults
	viper.SetDefault("cards.base_url", config.Cards.BaseURL)
	viper.SetDefault("cards.request_timeout", config.Cards.RequestTimeout)
	viper.SetDefault("cards.batch_size", config.Cards.BatchSize)
	viper.SetDefault("cards.max_concurrency", config.Cards.MaxConcurrency)
	viper.SetDefault("cards.rate_limit", config.Cards.RateLimit)
	viper.SetDefault("cards.rate_burst", config.Cards.RateBurst)
	viper.SetDefault("card_cache.enabled", config.CardCache.Enabled)
	viper.SetDefault("card_cache.max_size", config.CardCache.MaxSize)
	viper.SetDefault("card_cache.ttl", config.CardCache.TTL)
	viper.SetDefault("card_cache.ttl_by_type", config.CardCache.TTLByType)

	viper.SetDefault("retry.max_attempts", config.Retry.MaxAttempts)
	viper.SetDefault("retry.initial_backoff", config.Retry.InitialBackoff)
	viper.SetDefault("retry.max_backoff", config.Retry.MaxBackoff)
	viper.SetDefault("retry.multiplier", config.Retry.Multiplier)
	viper.SetDefault("retry.jitter", config.Retry.Jitter)
	viper.SetDefault("retry.attempt_timeout", config.Retry.AttemptTimeout)

	// Replay store defaults
	viper.SetDefault("replay.backend", config.Replay.Backend)
	viper.SetDefault("replay.ttl", config.Replay.TTL)
	viper.SetDefault("replay.claim_ttl", config.Replay.ClaimTTL)
	viper.SetDefault("replay.poll_interval", config.Replay.PollInterval)
	viper.SetDefault("replay.postgres_dsn", config.Replay.PostgresDSN)
	viper.SetDefault("replay.redis_addr", config.Replay.RedisAddr)
	viper.SetDefault("replay.redis_db", config.Replay.RedisDB)
	viper.SetDefault("replay.redis_prefix", config.Replay.RedisPrefix)

	viper.SetDefault("costs.env_prefix", config.Costs.EnvPrefix)
	viper.SetDefault("costs.overrides", config.Costs.Overrides)

	viper.SetDefault("workflows.catalog_path", config.Workflows.CatalogPath)
	viper.SetDefault("workflows.body_runner_url", config.Workflows.BodyRunnerURL)
	viper.SetDefault("deprecation.migration_guide_url", config.Deprecation.MigrationGuideURL)
	viper.SetDefault("plugins.disabled", config.Plugins.Disabled)
	viper.SetDefault("plugins.sync_interval", config.Plugins.SyncInterval)
	viper.SetDefault("plugins.probe_timeout", config.Plugins.ProbeTimeout)
}

func validateConfig(config *ServerConfig) error {
	validTransports := map[string]bool{"stdio": true, "sse": true}
	if !validTransports[config.Transport.Type] {
		return fmt.Errorf("invalid transport type: %s", config.Transport.Type)
	}

	if config.Transport.Type == "sse" && (config.Transport.Port <= 0 || config.Transport.Port > 65535) {
		return fmt.Errorf("the transport port must be between 1 and 65535")
	}

	if config.HTTP.Enabled && (config.HTTP.Port <= 0 || config.HTTP.Port > 65535) {
		return fmt.Errorf("the HTTP port must be between 1 and 65535")
	}

	if config.Timeout <= 0 {
		return fmt.Errorf("the timeout must be positive")
	}

	if _, err := url.ParseRequestURI(config.Cards.BaseURL); err != nil {
		return fmt.Errorf("invalid cards base URL %q: %w", config.Cards.BaseURL, err)
	}

	if config.Cards.BatchSize <= 0 {
		return fmt.Errorf("the cards batch size must be positive")
	}

	if config.Cards.MaxConcurrency <= 0 {
		return fmt.Errorf("the cards max concurrency must be positive")
	}

	if config.CardCache.Enabled && config.CardCache.MaxSize <= 0 {
		return fmt.Errorf("the card cache size must be positive when caching is enabled")
	}

	if config.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}

	if config.Retry.MaxBackoff < config.Retry.InitialBackoff {
		return fmt.Errorf("retry max backoff must not be lower than the initial backoff")
	}

	if config.Retry.Jitter < 0 || config.Retry.Jitter > 1 {
		return fmt.Errorf("retry jitter must be between 0 and 1")
	}

	switch config.Replay.Backend {
	case "memory":
	case "postgres":
		if config.Replay.PostgresDSN == "" {
			return fmt.Errorf("the postgres DSN cannot be empty with the postgres replay backend")
		}
	case "redis":
		if config.Replay.RedisAddr == "" {
			return fmt.Errorf("the redis address cannot be empty with the redis replay backend")
		}
	default:
		return fmt.Errorf("invalid replay backend: %s", config.Replay.Backend)
	}

	if config.Plugins.SyncInterval < 0 || config.Plugins.ProbeTimeout <= 0 {
		return fmt.Errorf("the plugin sync interval must not be negative and the probe timeout must be positive")
	}

	if config.Replay.TTL <= 0 {
		return fmt.Errorf("the replay TTL must be positive")
	}

	if config.Replay.ClaimTTL <= 0 || config.Replay.ClaimTTL > config.Replay.TTL {
		return fmt.Errorf("the replay claim TTL must be positive and not exceed the replay TTL")
	}

	for tool, rate := range config.Costs.Overrides {
		if rate < 0 {
			return fmt.Errorf("cost override for %s must not be negative", tool)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validLogFormats[config.LogFormat] {
		return fmt.Errorf("invalid log format: %s", config.LogFormat)
	}

	return nil
}
