package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ziadkadry99/askdb/internal/agent"
	"github.com/ziadkadry99/askdb/internal/audit"
	"github.com/ziadkadry99/askdb/internal/config"
	"github.com/ziadkadry99/askdb/internal/datasource"
	"github.com/ziadkadry99/askdb/internal/db"
	"github.com/ziadkadry99/askdb/internal/embeddings"
	"github.com/ziadkadry99/askdb/internal/llm"
	"github.com/ziadkadry99/askdb/internal/logging"
	"github.com/ziadkadry99/askdb/internal/retrieval"
	"github.com/ziadkadry99/askdb/internal/session"
	"github.com/ziadkadry99/askdb/internal/vectordb"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `askdb init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return logging.New(cfg.Log.Mode, level)
}

// app is the wired engine and everything it owns.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *vectordb.ChromemStore
	engine   *agent.Engine
	executor *datasource.SQLExecutor
	audit    *audit.Store
	closers  []func() error
}

// appOptions selects the optional parts of the app.
type appOptions struct {
	// database connects the target database; a missing DSN is not an error.
	database bool
	// audit opens the audit database in server.data_dir.
	audit bool
	// llm creates the chat model; commands that only manage training data
	// skip it.
	llm bool
	// batch turns off the per-change save of the vector store; the caller
	// saves once with app.persist.
	batch bool
}

// newApp wires config, logging, embeddings, the vector store, the model,
// sessions, the target database and the audit store into an engine.
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() error { _ = logger.Sync(); return nil })

	embedder, err := embeddings.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	a.store, err = vectordb.NewChromemStore(embedder)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}
	if _, err := os.Stat(cfg.VectorStore.Dir); err == nil {
		if err := a.store.Load(ctx, cfg.VectorStore.Dir); err != nil {
			logger.Warn("could not load vector store, starting empty", zap.String("dir", cfg.VectorStore.Dir), zap.Error(err))
		} else {
			logger.Debug("vector store loaded", zap.String("dir", cfg.VectorStore.Dir), zap.Int("documents", a.store.Count()))
		}
	}

	var synth agent.Synthesizer = unavailableSynthesizer{}
	if opts.llm {
		provider, err := llm.NewProvider(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("creating LLM provider: %w", err)
		}
		synth = agent.NewSynthesizer(provider, cfg.LLM)
	}

	sessions, closeSessions, err := session.New(ctx, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("creating session cache: %w", err)
	}
	a.closers = append(a.closers, closeSessions)

	deps := agent.Deps{
		Store:       a.store,
		Retriever:   retrieval.NewAssembler(a.store, retrieval.OptionsFromConfig(cfg), logger),
		Synthesizer: synth,
		Sessions:    sessions,
		Logger:      logger,
	}

	if opts.database {
		exec, err := datasource.Open(ctx, cfg.Database, cfg.Execution.QueryTimeout, logger)
		switch {
		case errors.Is(err, datasource.ErrNotConfigured):
			logger.Info("no database configured, SQL will be generated but not run")
		case err != nil:
			a.Close()
			return nil, err
		default:
			a.executor = exec
			a.closers = append(a.closers, exec.Close)
			deps.Executor = exec
		}
	}

	if opts.audit {
		database, err := db.Open(filepath.Join(cfg.Server.DataDir, db.FileName))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening audit database: %w", err)
		}
		a.closers = append(a.closers, database.Close)
		a.audit = audit.NewStore(database)
		deps.Audit = a.audit
	}

	engineOpts := agent.OptionsFromConfig(cfg)
	if opts.batch {
		engineOpts.PersistDir = ""
	}
	a.engine, err = agent.New(deps, engineOpts)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// persist saves the vector store to vector_store.dir.
func (a *app) persist(ctx context.Context) error {
	if err := a.store.Persist(ctx, a.cfg.VectorStore.Dir); err != nil {
		return fmt.Errorf("saving vector store: %w", err)
	}
	a.logger.Debug("vector store saved", zap.String("dir", a.cfg.VectorStore.Dir), zap.Int("documents", a.store.Count()))
	return nil
}

// Close releases everything the app opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

// unavailableSynthesizer stands in when a command runs without a model.
type unavailableSynthesizer struct{}

func (unavailableSynthesizer) Submit(context.Context, []llm.Message) (string, error) {
	return "", errors.New("no language model configured for this command")
}
