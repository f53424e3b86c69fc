package embeddings

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/ziadkadry99/askdb/internal/config"
)

// Embedder turns training content and questions into vectors. Re-embedding
// the same text within one indexing session must give the same vector.
type Embedder interface {
	// Embed generates embeddings for one or more texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int
	// Name returns the name/identifier of the embedding model.
	Name() string
}

// New builds the embedder selected by cfg.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		apiKey := os.Getenv(config.APIKeyEnvVar(config.ProviderOpenAI))
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required for OpenAI embeddings")
		}
		return NewOpenAIEmbedder(apiKey, OpenAIModel(cfg.Model)), nil
	case config.ProviderOllama:
		host := cfg.Host
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		return NewOllamaEmbedder(cfg.Model, cfg.Dimensions, host), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// normalize scales v to unit length in place. Zero vectors are left alone.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
