package agent

import "context"

// Answer is a question taken through generation and, optionally, execution.
type Answer struct {
	ID         string      `json:"id"`
	Question   string      `json:"question"`
	Generation *Generation `json:"generation"`
	Run        *RunResult  `json:"run,omitempty"`
}

// Ask generates SQL for question and, when run is set and a database is
// connected, executes it with self-correction. Invalid SQL is not run.
func (e *Engine) Ask(ctx context.Context, question string, run bool) (*Answer, error) {
	id, gen, err := e.StartQuestion(ctx, question)
	if err != nil {
		return nil, err
	}

	ans := &Answer{ID: id, Question: question, Generation: gen}
	if !run || !gen.Valid {
		return ans, nil
	}

	res, err := e.RunSQL(ctx, id)
	if err != nil {
		return ans, err
	}
	ans.Run = res
	return ans, nil
}
