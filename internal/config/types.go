package config

import "time"

// ProviderType identifies an LLM or embedding provider.
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderOllama     ProviderType = "ollama"
	ProviderOpenRouter ProviderType = "openrouter"
)

// Driver identifies the relational database the generated SQL runs against.
type Driver string

const (
	DriverSQLite    Driver = "sqlite"
	DriverPostgres  Driver = "postgres"
	DriverMySQL     Driver = "mysql"
	DriverSQLServer Driver = "sqlserver"
)

// SessionBackend selects where request-scoped pipeline state lives.
type SessionBackend string

const (
	SessionMemory SessionBackend = "memory"
	SessionRedis  SessionBackend = "redis"
)

// Config is the top-level askdb configuration, corresponding to .askdb.yml.
type Config struct {
	LLM         LLMConfig         `yaml:"llm" koanf:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding" koanf:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store" koanf:"vector_store"`
	Synthesis   SynthesisConfig   `yaml:"synthesis" koanf:"synthesis"`
	Execution   ExecutionConfig   `yaml:"execution" koanf:"execution"`
	Database    DatabaseConfig    `yaml:"database" koanf:"database"`
	Session     SessionConfig     `yaml:"session" koanf:"session"`
	Server      ServerConfig      `yaml:"server" koanf:"server"`
	Log         LogConfig         `yaml:"log" koanf:"log"`
}

// LLMConfig selects the chat model used for synthesis and correction.
type LLMConfig struct {
	Provider          ProviderType `yaml:"provider" koanf:"provider"`
	Model             string       `yaml:"model" koanf:"model"`
	Host              string       `yaml:"host,omitempty" koanf:"host"`
	Temperature       float64      `yaml:"temperature" koanf:"temperature"`
	MaxTokens         int          `yaml:"max_tokens" koanf:"max_tokens"`
	RequestsPerMinute int          `yaml:"requests_per_minute" koanf:"requests_per_minute"`
}

// EmbeddingConfig selects the embedding model backing the vector store.
type EmbeddingConfig struct {
	Provider   ProviderType `yaml:"provider" koanf:"provider"`
	Model      string       `yaml:"model" koanf:"model"`
	Dimensions int          `yaml:"dimensions" koanf:"dimensions"`
	Host       string       `yaml:"host,omitempty" koanf:"host"`
}

// VectorStoreConfig controls retrieval depth and the example relevance filter.
type VectorStoreConfig struct {
	Dir                   string  `yaml:"dir" koanf:"dir"`
	NResultsSQL           int     `yaml:"n_results_sql" koanf:"n_results_sql"`
	NResultsDDL           int     `yaml:"n_results_ddl" koanf:"n_results_ddl"`
	NResultsDocumentation int     `yaml:"n_results_documentation" koanf:"n_results_documentation"`
	RelevanceCutoff       float64 `yaml:"relevance_cutoff" koanf:"relevance_cutoff"`
	MaxExamples           int     `yaml:"max_examples" koanf:"max_examples"`
	FilterExamples        bool    `yaml:"filter_examples" koanf:"filter_examples"`
}

// SynthesisConfig bounds the generate/validate loop.
type SynthesisConfig struct {
	MaxAttempts     int    `yaml:"max_attempts" koanf:"max_attempts"`
	MaxPromptTokens int    `yaml:"max_prompt_tokens" koanf:"max_prompt_tokens"`
	InitialPrompt   string `yaml:"initial_prompt,omitempty" koanf:"initial_prompt"`
	Dialect         string `yaml:"dialect" koanf:"dialect"`
}

// ExecutionConfig bounds the execute/correct loop.
type ExecutionConfig struct {
	MaxRetries     int           `yaml:"max_retries" koanf:"max_retries"`
	QueryTimeout   time.Duration `yaml:"query_timeout" koanf:"query_timeout"`
	MaxRowsPreview int           `yaml:"max_rows_preview" koanf:"max_rows_preview"`
}

// DatabaseConfig points at the database that generated SQL is run against.
type DatabaseConfig struct {
	Driver Driver `yaml:"driver" koanf:"driver"`
	DSN    string `yaml:"dsn" koanf:"dsn"`
}

// SessionConfig selects the session cache backend.
type SessionConfig struct {
	Backend     SessionBackend `yaml:"backend" koanf:"backend"`
	RedisAddr   string         `yaml:"redis_addr,omitempty" koanf:"redis_addr"`
	RedisPrefix string         `yaml:"redis_prefix,omitempty" koanf:"redis_prefix"`
	TTL         time.Duration  `yaml:"ttl" koanf:"ttl"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port              int    `yaml:"port" koanf:"port"`
	AllowAllOrigins   bool   `yaml:"allow_all_origins" koanf:"allow_all_origins"`
	AllowLLMToSeeData bool   `yaml:"allow_llm_to_see_data" koanf:"allow_llm_to_see_data"`
	MaxConcurrency    int    `yaml:"max_concurrency" koanf:"max_concurrency"`
	DataDir           string `yaml:"data_dir" koanf:"data_dir"`
}

// LogConfig selects the zap preset and level.
type LogConfig struct {
	Mode  string `yaml:"mode" koanf:"mode"`
	Level string `yaml:"level" koanf:"level"`
}
