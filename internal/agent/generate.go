package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ziadkadry99/askdb/internal/audit"
	"github.com/ziadkadry99/askdb/internal/sqlgen"
)

// Generation is the outcome of GenerateSQL. When the attempt budget runs
// out the last SQL is still returned with Valid false, so callers must
// check Valid (or Err) before trusting it.
type Generation struct {
	SQL        string `json:"sql"`
	Attempts   int    `json:"attempts"`
	Valid      bool   `json:"valid"`
	ExactMatch bool   `json:"exact_match"`
	Reason     string `json:"reason,omitempty"`
}

// Err returns a *ValidationError when the SQL did not pass validation.
func (g *Generation) Err() error {
	if g.Valid {
		return nil
	}
	return &ValidationError{SQL: g.SQL, Reason: g.Reason}
}

// intermediateMarker tags SQL the model wants to run to inspect column
// values before answering.
const intermediateMarker = "intermediate_sql"

// GenerateSQL answers question with SQL. A stored pair whose question
// matches exactly is returned without calling the model. Otherwise the
// model gets up to MaxAttempts tries, each retry carrying an instruction
// that names why the previous SQL was rejected.
func (e *Engine) GenerateSQL(ctx context.Context, question string) (*Generation, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrNoQuestion
	}
	e.screen(ctx, question)

	if sql, ok := e.retriever.ExactSQL(ctx, question); ok {
		res := e.validator.Validate(sql)
		e.logger.Info("exact match", zap.String("question", question))
		e.record(ctx, audit.Entry{Action: audit.ActionExactMatch, Question: question, SQL: sql, Success: true})
		return &Generation{SQL: sql, Valid: res.Valid, ExactMatch: true, Reason: res.Reason}, nil
	}

	pc, err := e.retriever.Assemble(ctx, question, e.opts.MaxPromptTokens)
	if err != nil {
		return nil, &RetrievalError{Err: err}
	}

	var (
		gen         Generation
		instruction string
		explored    bool
	)
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		resp, err := e.submit(ctx, pc.Messages(e.opts.Dialect, instruction))
		if err != nil {
			return nil, &SynthesisError{Attempt: attempt, Err: err}
		}

		if !explored && e.canExplore(resp) {
			explored = true
			if doc, ok := e.explore(ctx, sqlgen.Extract(resp)); ok {
				pc.Docs = append(pc.Docs, doc)
				resp, err = e.submit(ctx, pc.Messages(e.opts.Dialect, instruction))
				if err != nil {
					return nil, &SynthesisError{Attempt: attempt, Err: err}
				}
			}
		}

		sql := sqlgen.Extract(resp)
		res := e.validator.Validate(sql)
		gen = Generation{SQL: sql, Attempts: attempt, Valid: res.Valid, Reason: res.Reason}
		if res.Valid {
			break
		}

		e.logger.Warn("generated SQL rejected",
			zap.Int("attempt", attempt),
			zap.String("reason", res.Reason),
			zap.String("sql", sql))
		instruction = sqlgen.CorrectiveInstruction(e.opts.Dialect, res)
	}

	if !gen.Valid {
		e.logger.Warn("synthesis attempts exhausted, returning last SQL",
			zap.Int("attempts", gen.Attempts),
			zap.String("question", question))
	}
	e.record(ctx, audit.Entry{
		Action:   audit.ActionSQLGenerated,
		Question: question,
		SQL:      gen.SQL,
		Detail:   gen.Reason,
		Attempts: gen.Attempts,
		Success:  gen.Valid,
	})
	return &gen, nil
}

func (e *Engine) canExplore(resp string) bool {
	return e.opts.AllowLLMToSeeData && e.executor != nil && strings.Contains(resp, intermediateMarker)
}

// explore runs an intermediate read query and renders its rows as additional
// context for the next synthesis call.
func (e *Engine) explore(ctx context.Context, sql string) (string, bool) {
	sql, res := e.validator.ValidateQuery(sql)
	if !res.Valid {
		e.logger.Warn("intermediate SQL rejected", zap.String("sql", sql), zap.String("reason", res.Reason))
		return "", false
	}
	rs, err := e.execute(ctx, sql)
	if err != nil {
		e.logger.Warn("intermediate SQL failed", zap.String("sql", sql), zap.Error(err))
		return "", false
	}
	return fmt.Sprintf("The following is a table with the results of the intermediate SQL query %s: \n%s",
		sql, rs.Markdown(e.opts.MaxRowsPreview)), true
}

// screen flags injection-shaped questions. Questions are never executed
// directly, so the question is still answered.
func (e *Engine) screen(ctx context.Context, question string) {
	check := sqlgen.ScreenQuestion(question)
	if !check.Suspicious {
		return
	}
	e.logger.Warn("question looks like SQL injection",
		zap.String("fingerprint", check.Fingerprint),
		zap.String("question", question))
	e.record(ctx, audit.Entry{
		Action:   audit.ActionInjectionFlagged,
		Question: question,
		Detail:   check.Fingerprint,
		Success:  false,
	})
}
