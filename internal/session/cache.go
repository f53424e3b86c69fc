// Package session correlates the stages of one question (generate, run,
// summarise) across separate requests through a generated id.
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ziadkadry99/askdb/internal/config"
)

// Field names written by the pipeline stages.
const (
	FieldQuestion            = "question"
	FieldSQL                 = "sql"
	FieldValid               = "sql_valid"
	FieldResultSet           = "result_set"
	FieldChartCode           = "chart_code"
	FieldChartFigure         = "chart_figure"
	FieldSummary             = "summary"
	FieldErrorHistory        = "error_history"
	FieldFollowups           = "followup_questions"
	FieldSQLCorrected        = "sql_corrected"
	FieldCorrectionAttempts  = "correction_attempts"
	FieldEnhancedQuestion    = "enhanced_question"
	FieldConversationContext = "conversation_context"
)

// Entry is every requested field stored for one id.
type Entry struct {
	ID     string
	Fields map[string][]byte
}

// Cache is a concurrency-safe id -> field -> value store. Values are opaque
// bytes; Store and Load add JSON encoding on top.
type Cache interface {
	// GenerateID returns a fresh request id.
	GenerateID() string
	// Set writes one field. Writes to different fields of the same id never
	// overwrite each other.
	Set(ctx context.Context, id, field string, value []byte) error
	// Get reads one field. A missing id or field is (nil, false, nil).
	Get(ctx context.Context, id, field string) ([]byte, bool, error)
	// Fields returns every field stored for id.
	Fields(ctx context.Context, id string) (map[string][]byte, bool, error)
	// GetAll returns, for every id, the listed fields it has.
	GetAll(ctx context.Context, fields []string) ([]Entry, error)
	// Delete evicts id and all its fields.
	Delete(ctx context.Context, id string) error
}

// Store JSON-encodes v into field.
func Store[T any](ctx context.Context, c Cache, id, field string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", field, err)
	}
	return c.Set(ctx, id, field, data)
}

// Load decodes field into a T. ok is false when the field is absent.
func Load[T any](ctx context.Context, c Cache, id, field string) (v T, ok bool, err error) {
	data, ok, err := c.Get(ctx, id, field)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", field, err)
	}
	return v, true, nil
}

// New builds the backend selected by cfg. The returned close function
// releases its connections.
func New(ctx context.Context, cfg config.SessionConfig) (Cache, func() error, error) {
	switch cfg.Backend {
	case config.SessionRedis:
		client, err := NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisCache(client, cfg.RedisPrefix, cfg.TTL), client.Close, nil
	case config.SessionMemory, "":
		return NewMemoryCache(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session backend: %s", cfg.Backend)
	}
}
