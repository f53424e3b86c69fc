package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ziadkadry99/askdb/internal/audit"
	"github.com/ziadkadry99/askdb/internal/vectordb"
)

// TrainRequest adds one training item: a question/SQL pair, a DDL
// statement, or a piece of documentation.
type TrainRequest struct {
	Question      string `json:"question,omitempty"`
	SQL           string `json:"sql,omitempty"`
	DDL           string `json:"ddl,omitempty"`
	Documentation string `json:"documentation,omitempty"`
}

func (r TrainRequest) kind() (vectordb.Kind, string, error) {
	question := strings.TrimSpace(r.Question)
	sql := strings.TrimSpace(r.SQL)
	ddl := strings.TrimSpace(r.DDL)
	doc := strings.TrimSpace(r.Documentation)

	if question != "" && sql == "" {
		return "", "", fmt.Errorf("%w: a question needs its SQL", ErrInvalidTraining)
	}

	set := 0
	for _, v := range []string{sql, ddl, doc} {
		if v != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return "", "", fmt.Errorf("%w: provide sql, ddl or documentation", ErrInvalidTraining)
	case set > 1:
		return "", "", fmt.Errorf("%w: provide only one of sql, ddl or documentation", ErrInvalidTraining)
	case sql != "":
		return vectordb.KindSQL, sql, nil
	case ddl != "":
		return vectordb.KindDDL, ddl, nil
	default:
		return vectordb.KindDocumentation, doc, nil
	}
}

// Train stores one training item and returns its id. Training the same
// content twice returns the same id.
func (e *Engine) Train(ctx context.Context, req TrainRequest) (string, error) {
	kind, content, err := req.kind()
	if err != nil {
		return "", err
	}

	id, err := e.store.Add(ctx, kind, content, strings.TrimSpace(req.Question))
	if err != nil {
		return "", &RetrievalError{Err: err}
	}

	e.logger.Info("training data added", zap.String("id", id), zap.String("kind", string(kind)))
	e.persist(ctx)
	e.record(ctx, audit.Entry{
		Action:   audit.ActionTrainingAdded,
		Question: req.Question,
		SQL:      req.SQL,
		Detail:   id,
		Success:  true,
	})
	return id, nil
}

// ListTraining returns every stored training item.
func (e *Engine) ListTraining(ctx context.Context) []vectordb.TrainingItem {
	return e.store.ListTraining(ctx)
}

// RemoveTraining deletes one item by id. Ids without a known kind suffix
// report false.
func (e *Engine) RemoveTraining(ctx context.Context, id string) (bool, error) {
	ok, err := e.store.Remove(ctx, id)
	if err != nil {
		return false, &RetrievalError{Err: err}
	}
	if ok {
		e.persist(ctx)
		e.record(ctx, audit.Entry{Action: audit.ActionTrainingRemoved, Detail: id, Success: true})
	}
	return ok, nil
}

// ResetCollection empties the named collection (sql, ddl or
// documentation). Unknown names report false.
func (e *Engine) ResetCollection(ctx context.Context, name string) (bool, error) {
	kind, ok := vectordb.ParseKind(name)
	if !ok {
		return false, nil
	}
	if err := e.store.Reset(ctx, kind); err != nil {
		return false, &RetrievalError{Err: err}
	}
	e.logger.Info("collection reset", zap.String("collection", string(kind)))
	e.persist(ctx)
	e.record(ctx, audit.Entry{Action: audit.ActionCollectionReset, Detail: string(kind), Success: true})
	return true, nil
}

// GenerateQuestions returns up to five questions from stored pairs, used to
// suggest starting points.
func (e *Engine) GenerateQuestions(ctx context.Context) []string {
	const limit = 5
	questions := []string{}
	for _, item := range e.store.ListTraining(ctx) {
		if item.Kind != vectordb.KindSQL || item.Question == "" {
			continue
		}
		questions = append(questions, item.Question)
		if len(questions) == limit {
			break
		}
	}
	return questions
}

// persist saves the store when a persist directory is configured. Failures
// are logged; the in-memory change stands.
func (e *Engine) persist(ctx context.Context) {
	if e.opts.PersistDir == "" {
		return
	}
	if err := e.store.Persist(ctx, e.opts.PersistDir); err != nil {
		e.logger.Error("persisting training data failed", zap.String("dir", e.opts.PersistDir), zap.Error(err))
	}
}
