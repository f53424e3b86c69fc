package llm

import (
	"fmt"
	"os"

	"github.com/ziadkadry99/askdb/internal/config"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// NewProvider creates the provider selected by cfg, reading API keys from the
// environment. A positive RequestsPerMinute wraps it in a rate limiter.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	var p Provider

	switch cfg.Provider {
	case config.ProviderAnthropic:
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		p = NewAnthropicProvider(apiKey, cfg.Model)

	case config.ProviderOpenAI:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
		}
		p = NewOpenAIProvider(apiKey, cfg.Model, cfg.Host)

	case config.ProviderOpenRouter:
		apiKey := os.Getenv("OPENROUTER_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY environment variable is not set")
		}
		host := cfg.Host
		if host == "" {
			host = openRouterBaseURL
		}
		op := NewOpenAIProvider(apiKey, cfg.Model, host)
		op.name = "openrouter"
		p = op

	case config.ProviderOllama:
		host := cfg.Host
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		if host == "" {
			host = "http://localhost:11434"
		}
		p = NewOllamaProvider(host, cfg.Model)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Provider)
	}

	if cfg.RequestsPerMinute > 0 {
		p = NewRateLimitedProvider(p, cfg.RequestsPerMinute)
	}
	return p, nil
}
