package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Classifier providers understood by the add-interest gateway.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderStub      = "stub"
)

// Config holds all configuration for ekaya-identity.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3460"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// MigrationsPath is the directory holding the SQL migration files.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Engine     EngineConfig     `yaml:"engine"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_identity"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the optional summary cache backend.
// An empty host disables Redis and the in-process cache is used instead.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// ClassifierConfig configures the free-text categorization collaborator.
type ClassifierConfig struct {
	// Provider is one of "openai", "anthropic" or "stub".
	Provider string `yaml:"provider" env:"CLASSIFIER_PROVIDER" env-default:"stub"`
	// Endpoint is the OpenAI-compatible base URL. Ignored for anthropic and stub.
	Endpoint string `yaml:"endpoint" env:"CLASSIFIER_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"CLASSIFIER_MODEL" env-default:"gpt-4o-mini"`
	APIKey   string `yaml:"-" env:"CLASSIFIER_API_KEY"` // Secret - not in YAML

	// StubRulesPath optionally points the stub provider at a YAML keyword table.
	StubRulesPath string `yaml:"stub_rules_path" env:"CLASSIFIER_STUB_RULES_PATH"`

	// MaxTokens caps each classifier reply.
	MaxTokens int `yaml:"max_tokens" env:"CLASSIFIER_MAX_TOKENS" env-default:"1024"`
	// DisableJSONMode stops requesting response_format=json_object, for
	// OpenAI-compatible servers that reject it.
	DisableJSONMode bool `yaml:"disable_json_mode" env:"CLASSIFIER_DISABLE_JSON_MODE"`

	TimeoutSeconds      int `yaml:"timeout_seconds" env:"CLASSIFIER_TIMEOUT_SECONDS" env-default:"15"`
	CircuitThreshold    int `yaml:"circuit_threshold" env:"CLASSIFIER_CIRCUIT_THRESHOLD" env-default:"5"`
	CircuitResetSeconds int `yaml:"circuit_reset_seconds" env:"CLASSIFIER_CIRCUIT_RESET_SECONDS" env-default:"30"`
}

// Timeout returns the bounded wait for a single classifier call.
func (c *ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CircuitReset returns how long an open circuit stays open.
func (c *ClassifierConfig) CircuitReset() time.Duration {
	return time.Duration(c.CircuitResetSeconds) * time.Second
}

// EngineConfig holds preference engine tunables.
type EngineConfig struct {
	// ServingThreshold is the alignment at or above which an influence is served.
	ServingThreshold float64 `yaml:"serving_threshold" env:"ENGINE_SERVING_THRESHOLD" env-default:"60"`
	// MaxDepth bounds category nesting. Roots are level 1.
	MaxDepth int `yaml:"max_depth" env:"ENGINE_MAX_DEPTH" env-default:"10"`
	// SummaryCacheTTLSeconds bounds how long a cached summary may live even if its key is unchanged.
	SummaryCacheTTLSeconds int `yaml:"summary_cache_ttl_seconds" env:"ENGINE_SUMMARY_CACHE_TTL_SECONDS" env-default:"3600"`
}

// SummaryCacheTTL returns the summary cache entry lifetime.
func (c *EngineConfig) SummaryCacheTTL() time.Duration {
	return time.Duration(c.SummaryCacheTTLSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.resolveDockerHosts()

	return cfg, nil
}

// Validate checks value ranges that would otherwise surface as confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Engine.ServingThreshold < 0 || c.Engine.ServingThreshold > 100 {
		return fmt.Errorf("engine.serving_threshold must be within [0,100], got %v", c.Engine.ServingThreshold)
	}
	if c.Engine.MaxDepth < 1 {
		return fmt.Errorf("engine.max_depth must be at least 1, got %d", c.Engine.MaxDepth)
	}

	switch c.Classifier.Provider {
	case ProviderOpenAI, ProviderAnthropic:
		if c.Classifier.Model == "" {
			return fmt.Errorf("classifier.model is required for provider %q", c.Classifier.Provider)
		}
	case ProviderStub:
	default:
		return fmt.Errorf("unknown classifier.provider %q", c.Classifier.Provider)
	}

	if c.Classifier.TimeoutSeconds <= 0 {
		return fmt.Errorf("classifier.timeout_seconds must be positive")
	}
	if c.Classifier.MaxTokens < 0 {
		return fmt.Errorf("classifier.max_tokens must not be negative")
	}

	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection as a postgres:// URL, the form golang-migrate expects.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Addr returns host:port for the Redis client.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
