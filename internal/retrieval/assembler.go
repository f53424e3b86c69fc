// Package retrieval pulls related training data for a question and packs it
// into a token-bounded prompt.
package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/askdb/internal/config"
	"github.com/ziadkadry99/askdb/internal/llm"
	"github.com/ziadkadry99/askdb/internal/logging"
	"github.com/ziadkadry99/askdb/internal/vectordb"
)

// Options tune how much context is retrieved and kept.
type Options struct {
	NResultsSQL           int
	NResultsDDL           int
	NResultsDocumentation int
	RelevanceCutoff       float32
	MaxExamples           int
	FilterExamples        bool
	MaxTokens             int
	Dialect               string
	InitialPrompt         string
}

// DefaultOptions mirrors config.DefaultConfig.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig())
}

// OptionsFromConfig extracts the retrieval settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		NResultsSQL:           cfg.VectorStore.NResultsSQL,
		NResultsDDL:           cfg.VectorStore.NResultsDDL,
		NResultsDocumentation: cfg.VectorStore.NResultsDocumentation,
		RelevanceCutoff:       float32(cfg.VectorStore.RelevanceCutoff),
		MaxExamples:           cfg.VectorStore.MaxExamples,
		FilterExamples:        cfg.VectorStore.FilterExamples,
		MaxTokens:             cfg.Synthesis.MaxPromptTokens,
		Dialect:               cfg.SQLDialect(),
		InitialPrompt:         cfg.Synthesis.InitialPrompt,
	}
}

// Assembler builds PromptContexts from a vectordb.Store.
type Assembler struct {
	store  vectordb.Store
	opts   Options
	logger *zap.Logger
}

// NewAssembler creates an Assembler. A nil logger discards output.
func NewAssembler(store vectordb.Store, opts Options, logger *zap.Logger) *Assembler {
	return &Assembler{
		store:  store,
		opts:   opts,
		logger: logging.OrNop(logger).Named("retrieval"),
	}
}

// Dialect returns the SQL dialect prompts are written for.
func (a *Assembler) Dialect() string { return a.opts.Dialect }

// ExactSQL is the exact-match fast path: stored SQL for a question that
// was asked before, compared case- and whitespace-insensitively.
func (a *Assembler) ExactSQL(ctx context.Context, question string) (string, bool) {
	return a.store.GetExactQuestionSQL(ctx, question)
}

type neighbours struct {
	sql, ddl, docs []vectordb.RetrievalResult
}

// retrieve queries the three collections concurrently.
func (a *Assembler) retrieve(ctx context.Context, question string) (neighbours, error) {
	var n neighbours
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := a.store.Query(gctx, vectordb.KindSQL, question, a.opts.NResultsSQL)
		n.sql = res
		return err
	})
	g.Go(func() error {
		res, err := a.store.Query(gctx, vectordb.KindDDL, question, a.opts.NResultsDDL)
		n.ddl = res
		return err
	})
	g.Go(func() error {
		res, err := a.store.Query(gctx, vectordb.KindDocumentation, question, a.opts.NResultsDocumentation)
		n.docs = res
		return err
	})

	if err := g.Wait(); err != nil {
		return neighbours{}, fmt.Errorf("query training data: %w", err)
	}
	return n, nil
}

// Assemble retrieves context for question and packs it into at most
// maxTokens estimated tokens. A non-positive maxTokens uses the configured
// budget. Fragments that would overflow the budget are skipped whole.
func (a *Assembler) Assemble(ctx context.Context, question string, maxTokens int) (*PromptContext, error) {
	if maxTokens <= 0 {
		maxTokens = a.opts.MaxTokens
	}

	n, err := a.retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	preamble := a.opts.InitialPrompt
	if preamble == "" {
		preamble = Preamble(a.opts.Dialect)
	}

	pc := &PromptContext{
		SystemPreamble: preamble,
		Question:       question,
		TokenBudget:    maxTokens,
	}

	used := llm.EstimateTokens(preamble) +
		llm.EstimateTokens(ResponseGuidelines(a.opts.Dialect)) +
		llm.EstimateTokens(question)
	// A section header is charged with the first fragment that fits in it.
	fits := func(header string, added int, text string) bool {
		cost := llm.EstimateTokens(text)
		if added == 0 {
			cost += llm.EstimateTokens(header)
		}
		if used+cost > maxTokens {
			pc.Skipped++
			return false
		}
		used += cost
		return true
	}

	for _, r := range n.ddl {
		if fits(tablesHeader, len(pc.SchemaFragments), r.Content) {
			pc.SchemaFragments = append(pc.SchemaFragments, r.Content)
		}
	}
	for _, r := range n.docs {
		if fits(contextHeader, len(pc.Docs), r.Content) {
			pc.Docs = append(pc.Docs, r.Content)
		}
	}

	sqlHits := n.sql
	if a.opts.FilterExamples {
		sqlHits = vectordb.FilterRelevant(sqlHits, a.opts.RelevanceCutoff, a.opts.MaxExamples)
	}
	for _, r := range sqlHits {
		qs, err := vectordb.DecodeQuestionSQL(r.Content)
		if err != nil {
			a.logger.Warn("skipping undecodable example", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		if fits("", len(pc.Examples), qs.Question+qs.SQL) {
			pc.Examples = append(pc.Examples, Example{Question: qs.Question, SQL: qs.SQL})
		}
	}

	a.logger.Debug("assembled prompt",
		zap.Int("ddl", len(pc.SchemaFragments)),
		zap.Int("docs", len(pc.Docs)),
		zap.Int("examples", len(pc.Examples)),
		zap.Int("skipped", pc.Skipped),
		zap.Int("estimated_tokens", used),
		zap.Int("budget", maxTokens),
	)
	return pc, nil
}

// RelatedSQL returns relevant stored question/SQL pairs for question.
func (a *Assembler) RelatedSQL(ctx context.Context, question string) ([]Example, error) {
	res, err := a.store.Query(ctx, vectordb.KindSQL, question, a.opts.NResultsSQL)
	if err != nil {
		return nil, fmt.Errorf("query sql examples: %w", err)
	}
	if a.opts.FilterExamples {
		res = vectordb.FilterRelevant(res, a.opts.RelevanceCutoff, a.opts.MaxExamples)
	}
	out := make([]Example, 0, len(res))
	for _, r := range res {
		if qs, err := vectordb.DecodeQuestionSQL(r.Content); err == nil {
			out = append(out, Example{Question: qs.Question, SQL: qs.SQL})
		}
	}
	return out, nil
}
