package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ziadkadry99/askdb/internal/audit"
	"github.com/ziadkadry99/askdb/internal/datasource"
	"github.com/ziadkadry99/askdb/internal/llm"
	"github.com/ziadkadry99/askdb/internal/retrieval"
	"github.com/ziadkadry99/askdb/internal/sqlgen"
)

// CorrectionRecord is one failed run and the rewrite the model offered
// for it.
type CorrectionRecord struct {
	Attempt       int    `json:"attempt"`
	SQL           string `json:"sql"`
	DatabaseError string `json:"database_error"`
	CorrectedSQL  string `json:"corrected_sql,omitempty"`
	Explanation   string `json:"explanation,omitempty"`
}

// Execution is the outcome of RunWithRetry. Result is nil when every
// attempt failed; LastError then holds the final database error.
type Execution struct {
	Result    *datasource.ResultSet `json:"-"`
	FinalSQL  string                `json:"final_sql"`
	History   []CorrectionRecord    `json:"error_history"`
	LastError string                `json:"last_error,omitempty"`
}

// Succeeded reports whether some statement ran.
func (x *Execution) Succeeded() bool { return x.Result != nil }

// Corrected reports whether the statement that ran differs from the one
// submitted.
func (x *Execution) Corrected() bool { return x.Succeeded() && len(x.History) > 0 }

// Err returns an *ExecutionError when no statement ran.
func (x *Execution) Err() error {
	if x.Succeeded() {
		return nil
	}
	return &ExecutionError{SQL: x.FinalSQL, Attempts: len(x.History) + 1, Err: fmt.Errorf("%s", x.LastError)}
}

// RunWithRetry runs sql and, while it fails and retries remain, asks the
// model to rewrite it from the database error. Rewrites are validated
// before they run; a rejected rewrite counts as a failed run. History gets
// one record per rewrite requested, so it never exceeds maxRetries.
//
// A model transport failure stops the loop and is returned as a
// *SynthesisError together with the history gathered so far.
func (e *Engine) RunWithRetry(ctx context.Context, sql string, maxRetries int, question string) (*Execution, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, ErrNoSQL
	}
	if e.executor == nil {
		return nil, ErrDatabaseNotConfigured
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	x := &Execution{FinalSQL: sql, History: []CorrectionRecord{}}
	current := sql
	var rejected error

	for attempt := 1; ; attempt++ {
		var (
			rs      *datasource.ResultSet
			execErr = rejected
		)
		if execErr == nil {
			rs, execErr = e.execute(ctx, current)
		}
		x.FinalSQL = current

		if execErr == nil {
			x.Result = rs
			x.LastError = ""
			e.recordExecution(ctx, question, x)
			return x, nil
		}
		if err := ctx.Err(); err != nil {
			return x, err
		}

		x.LastError = execErr.Error()
		e.logger.Warn("SQL execution failed",
			zap.Int("attempt", attempt),
			zap.String("sql", current),
			zap.Error(execErr))

		if attempt > maxRetries {
			e.recordExecution(ctx, question, x)
			return x, nil
		}

		rec := CorrectionRecord{Attempt: attempt, SQL: current, DatabaseError: execErr.Error()}
		corrected, explanation, err := e.correct(ctx, question, current, execErr.Error())
		if err != nil {
			x.History = append(x.History, rec)
			return x, &SynthesisError{Attempt: attempt, Err: err}
		}
		rec.CorrectedSQL = corrected
		rec.Explanation = explanation
		x.History = append(x.History, rec)

		rejected = nil
		if res := e.validator.Validate(corrected); !res.Valid {
			rejected = &ValidationError{SQL: corrected, Reason: res.Reason}
		}
		current = corrected
	}
}

func (e *Engine) recordExecution(ctx context.Context, question string, x *Execution) {
	entry := audit.Entry{
		Question: question,
		SQL:      x.FinalSQL,
		Attempts: len(x.History) + 1,
		Success:  x.Succeeded(),
	}
	switch {
	case x.Corrected():
		entry.Action = audit.ActionSQLCorrected
	case x.Succeeded():
		entry.Action = audit.ActionSQLExecuted
	default:
		entry.Action = audit.ActionExecutionFailed
		entry.Detail = x.LastError
	}
	e.record(ctx, entry)
}

// correct asks the model for a rewrite of sql that avoids dbErr. Schema
// context for the question is included when it can be retrieved.
func (e *Engine) correct(ctx context.Context, question, sql, dbErr string) (string, string, error) {
	prompt := correctionPrompt(question, sql, dbErr)

	var msgs []llm.Message
	pc, err := e.retriever.Assemble(ctx, question, e.opts.MaxPromptTokens)
	if err != nil {
		e.logger.Warn("no context for correction", zap.Error(err))
		msgs = []llm.Message{
			llm.SystemMessage(retrieval.Preamble(e.opts.Dialect) + retrieval.ResponseGuidelines(e.opts.Dialect)),
			llm.UserMessage(prompt),
		}
	} else {
		pc.Question = prompt
		msgs = pc.Messages(e.opts.Dialect, "")
	}

	resp, err := e.submit(ctx, msgs)
	if err != nil {
		return "", "", err
	}
	corrected := sqlgen.Extract(resp)
	return corrected, sqlgen.Explanation(resp, corrected), nil
}

func correctionPrompt(question, sql, dbErr string) string {
	if question == "" {
		question = "(unknown)"
	}
	return fmt.Sprintf("I have an error: %s\n\n"+
		"Here is the SQL I tried to run: %s\n\n"+
		"This is the question I was trying to answer: %s\n\n"+
		"Can you rewrite the SQL to fix the error? Respond with the corrected SQL only.",
		dbErr, sql, question)
}
