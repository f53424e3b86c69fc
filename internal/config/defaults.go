package config

import "time"

// modelDefaults maps each chat provider to its default chat and embedding models.
var modelDefaults = map[ProviderType]struct {
	Model          string
	EmbeddingModel string
}{
	ProviderOpenAI:     {Model: "gpt-4o-mini", EmbeddingModel: "text-embedding-3-small"},
	ProviderAnthropic:  {Model: "claude-sonnet-4-5-20250929", EmbeddingModel: "text-embedding-3-small"},
	ProviderOllama:     {Model: "qwen2.5-coder:7b", EmbeddingModel: "nomic-embed-text"},
	ProviderOpenRouter: {Model: "openai/gpt-4o-mini", EmbeddingModel: "text-embedding-3-small"},
}

// DefaultConfig returns a Config with the retrieval and retry budgets the
// engine was tuned with: cutoff 0.9, five examples, three synthesis attempts
// and two execution retries.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    ProviderOllama,
			Model:       modelDefaults[ProviderOllama].Model,
			Temperature: 0.0,
			MaxTokens:   2048,
		},
		Embedding: EmbeddingConfig{
			Provider:   ProviderOllama,
			Model:      modelDefaults[ProviderOllama].EmbeddingModel,
			Dimensions: 768,
		},
		VectorStore: VectorStoreConfig{
			Dir:                   ".askdb/vectordb",
			NResultsSQL:           10,
			NResultsDDL:           10,
			NResultsDocumentation: 10,
			RelevanceCutoff:       0.9,
			MaxExamples:           5,
			FilterExamples:        true,
		},
		Synthesis: SynthesisConfig{
			MaxAttempts:     3,
			MaxPromptTokens: 14000,
		},
		Execution: ExecutionConfig{
			MaxRetries:     2,
			QueryTimeout:   60 * time.Second,
			MaxRowsPreview: 10,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    ".askdb/sample.db",
		},
		Session: SessionConfig{
			Backend:     SessionMemory,
			RedisPrefix: "askdb:session:",
			TTL:         24 * time.Hour,
		},
		Server: ServerConfig{
			Port:           8000,
			MaxConcurrency: 4,
			DataDir:        ".askdb",
		},
		Log: LogConfig{
			Mode:  "development",
			Level: "info",
		},
	}
}

// DefaultModels returns the default chat and embedding model for a provider.
// Unknown providers fall back to the Ollama defaults.
func DefaultModels(provider ProviderType) (model, embeddingModel string) {
	if d, ok := modelDefaults[provider]; ok {
		return d.Model, d.EmbeddingModel
	}
	d := modelDefaults[ProviderOllama]
	return d.Model, d.EmbeddingModel
}

// DialectForDriver returns the SQL dialect name the prompts should target
// for the given database driver.
func DialectForDriver(d Driver) string {
	switch d {
	case DriverPostgres:
		return "postgres"
	case DriverSQLServer:
		return "sqlserver"
	case DriverSQLite:
		return "sqlite"
	default:
		return "mysql"
	}
}

// DialectNote describes what a dialect accepts beyond the MySQL rules, for
// display after setup. It is empty for mysql.
func DialectNote(dialect string) string {
	switch dialect {
	case "sqlite":
		return "The sqlite dialect accepts [bracketed] identifiers and LIMIT n OFFSET m. Set synthesis.dialect: mysql to reject them."
	case "postgres":
		return "The postgres dialect accepts LIMIT n OFFSET m."
	case "sqlserver":
		return "The sqlserver dialect accepts TOP n and [bracketed] identifiers."
	default:
		return ""
	}
}
