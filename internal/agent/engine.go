// Package agent is the text-to-SQL engine: it retrieves context for a
// question, has the language model write SQL, validates it, runs it with
// bounded self-correction, and keeps per-request state in a session cache.
package agent

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ziadkadry99/askdb/internal/audit"
	"github.com/ziadkadry99/askdb/internal/config"
	"github.com/ziadkadry99/askdb/internal/datasource"
	"github.com/ziadkadry99/askdb/internal/llm"
	"github.com/ziadkadry99/askdb/internal/logging"
	"github.com/ziadkadry99/askdb/internal/retrieval"
	"github.com/ziadkadry99/askdb/internal/session"
	"github.com/ziadkadry99/askdb/internal/sqlgen"
	"github.com/ziadkadry99/askdb/internal/vectordb"
)

// Retriever supplies context for synthesis. *retrieval.Assembler
// implements it.
type Retriever interface {
	ExactSQL(ctx context.Context, question string) (string, bool)
	Assemble(ctx context.Context, question string, maxTokens int) (*retrieval.PromptContext, error)
	RelatedSQL(ctx context.Context, question string) ([]retrieval.Example, error)
}

// Synthesizer turns a conversation into a single text completion.
type Synthesizer interface {
	Submit(ctx context.Context, msgs []llm.Message) (string, error)
}

// AuditLog receives one entry per notable engine action. *audit.Store
// implements it.
type AuditLog interface {
	Log(ctx context.Context, entry audit.Entry) error
}

// LLMSynthesizer is a Synthesizer over an llm.Provider.
type LLMSynthesizer struct {
	provider llm.Provider
	opts     llm.CompletionRequest
}

// NewSynthesizer wraps p with the model settings in cfg.
func NewSynthesizer(p llm.Provider, cfg config.LLMConfig) *LLMSynthesizer {
	return &LLMSynthesizer{
		provider: p,
		opts: llm.CompletionRequest{
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		},
	}
}

func (s *LLMSynthesizer) Submit(ctx context.Context, msgs []llm.Message) (string, error) {
	return llm.Submit(ctx, s.provider, msgs, s.opts)
}

// Options are the engine's budgets and feature gates.
type Options struct {
	Dialect           string
	MaxAttempts       int
	MaxRetries        int
	MaxPromptTokens   int
	MaxRowsPreview    int
	AllowLLMToSeeData bool
	MaxConcurrency    int
	// PersistDir, when set, receives the vector store after every change
	// to the training data.
	PersistDir string
}

// DefaultOptions mirrors config.DefaultConfig.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig())
}

// OptionsFromConfig extracts the engine settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dialect:           cfg.SQLDialect(),
		MaxAttempts:       cfg.Synthesis.MaxAttempts,
		MaxRetries:        cfg.Execution.MaxRetries,
		MaxPromptTokens:   cfg.Synthesis.MaxPromptTokens,
		MaxRowsPreview:    cfg.Execution.MaxRowsPreview,
		AllowLLMToSeeData: cfg.Server.AllowLLMToSeeData,
		MaxConcurrency:    cfg.Server.MaxConcurrency,
		PersistDir:        cfg.VectorStore.Dir,
	}
}

// Deps are the engine's collaborators. Executor and Audit are optional.
type Deps struct {
	Store       vectordb.Store
	Retriever   Retriever
	Synthesizer Synthesizer
	Executor    datasource.Executor
	Sessions    session.Cache
	Audit       AuditLog
	Logger      *zap.Logger
}

// Engine composes retrieval, synthesis, validation and execution.
type Engine struct {
	store     vectordb.Store
	retriever Retriever
	synth     Synthesizer
	executor  datasource.Executor
	sessions  session.Cache
	audit     AuditLog
	validator *sqlgen.Validator
	sem       *semaphore.Weighted
	opts      Options
	logger    *zap.Logger
}

// New builds an Engine. A nil session cache is replaced by an in-memory one.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Store == nil || deps.Retriever == nil || deps.Synthesizer == nil {
		return nil, errors.New("agent: store, retriever and synthesizer are required")
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewMemoryCache()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 4
	}
	if opts.MaxRowsPreview <= 0 {
		opts.MaxRowsPreview = 10
	}

	validator := sqlgen.NewValidator(opts.Dialect)
	opts.Dialect = validator.Dialect()

	return &Engine{
		store:     deps.Store,
		retriever: deps.Retriever,
		synth:     deps.Synthesizer,
		executor:  deps.Executor,
		sessions:  deps.Sessions,
		audit:     deps.Audit,
		validator: validator,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		opts:      opts,
		logger:    logging.OrNop(deps.Logger).Named("agent"),
	}, nil
}

// Options returns the engine's effective settings.
func (e *Engine) Options() Options { return e.opts }

// Sessions returns the session cache.
func (e *Engine) Sessions() session.Cache { return e.sessions }

// CanExecute reports whether a database is connected.
func (e *Engine) CanExecute() bool { return e.executor != nil }

// IsValid runs static validation for the engine's dialect.
func (e *Engine) IsValid(sql string) bool { return e.validator.IsValid(sql) }

// acquire admits one blocking model or database call.
func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { e.sem.Release(1) }, nil
}

func (e *Engine) submit(ctx context.Context, msgs []llm.Message) (string, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return e.synth.Submit(ctx, msgs)
}

func (e *Engine) execute(ctx context.Context, sql string) (*datasource.ResultSet, error) {
	if e.executor == nil {
		return nil, ErrDatabaseNotConfigured
	}
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return e.executor.Execute(ctx, sql)
}

// record writes an audit entry. Audit failures are logged, never returned.
func (e *Engine) record(ctx context.Context, entry audit.Entry) {
	if e.audit == nil {
		return
	}
	if entry.RequestID == "" {
		entry.RequestID = RequestID(ctx)
	}
	if err := e.audit.Log(ctx, entry); err != nil {
		e.logger.Warn("audit log failed", zap.String("action", string(entry.Action)), zap.Error(err))
	}
}

type requestIDKey struct{}

// WithRequestID tags ctx with the session id the work belongs to, so audit
// entries can be correlated.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
