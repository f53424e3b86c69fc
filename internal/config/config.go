package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variable overrides. Nested keys are
// separated by a double underscore: ASKDB_LLM__MODEL -> llm.model.
const EnvPrefix = "ASKDB_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (ASKDB_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validProviders = map[ProviderType]bool{
	ProviderOpenAI:     true,
	ProviderAnthropic:  true,
	ProviderOllama:     true,
	ProviderOpenRouter: true,
}

var validEmbeddingProviders = map[ProviderType]bool{
	ProviderOpenAI: true,
	ProviderOllama: true,
}

var validDrivers = map[Driver]bool{
	DriverSQLite:    true,
	DriverPostgres:  true,
	DriverMySQL:     true,
	DriverSQLServer: true,
}

var validDialects = map[string]bool{
	"":          true,
	"mysql":     true,
	"postgres":  true,
	"sqlite":    true,
	"sqlserver": true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("invalid llm.provider %q: must be one of openai, anthropic, ollama, openrouter", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must be non-negative")
	}

	if !validEmbeddingProviders[c.Embedding.Provider] {
		return fmt.Errorf("invalid embedding.provider %q: must be one of openai, ollama", c.Embedding.Provider)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}

	vs := c.VectorStore
	if vs.NResultsSQL < 0 || vs.NResultsDDL < 0 || vs.NResultsDocumentation < 0 {
		return fmt.Errorf("vector_store n_results values must be non-negative")
	}
	if vs.RelevanceCutoff <= 0 {
		return fmt.Errorf("vector_store.relevance_cutoff must be positive")
	}
	if vs.MaxExamples < 0 {
		return fmt.Errorf("vector_store.max_examples must be non-negative")
	}

	if c.Synthesis.MaxAttempts < 1 {
		return fmt.Errorf("synthesis.max_attempts must be at least 1")
	}
	if c.Synthesis.MaxPromptTokens <= 0 {
		return fmt.Errorf("synthesis.max_prompt_tokens must be positive")
	}
	if !validDialects[c.Synthesis.Dialect] {
		return fmt.Errorf("invalid synthesis.dialect %q", c.Synthesis.Dialect)
	}

	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("execution.max_retries must be non-negative")
	}

	if c.Database.Driver != "" && !validDrivers[c.Database.Driver] {
		return fmt.Errorf("invalid database.driver %q: must be one of sqlite, postgres, mysql, sqlserver", c.Database.Driver)
	}

	switch c.Session.Backend {
	case SessionMemory, "":
	case SessionRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid session.backend %q: must be memory or redis", c.Session.Backend)
	}

	if c.Server.MaxConcurrency < 0 {
		return fmt.Errorf("server.max_concurrency must be non-negative")
	}

	return nil
}

// SQLDialect returns the configured dialect, or the one implied by the
// database driver when none is set.
func (c *Config) SQLDialect() string {
	if c.Synthesis.Dialect != "" {
		return c.Synthesis.Dialect
	}
	return DialectForDriver(c.Database.Driver)
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	default:
		return ""
	}
}
