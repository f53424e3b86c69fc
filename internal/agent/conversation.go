package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ziadkadry99/askdb/internal/datasource"
	"github.com/ziadkadry99/askdb/internal/llm"
	"github.com/ziadkadry99/askdb/internal/session"
)

const maxFollowups = 5

// Result types reported by RunSQL.
const (
	RunTypeDF            = "df"
	RunTypeClarification = "clarification"
)

// StartQuestion generates SQL for question and opens a session for it.
// The returned id carries the conversation through later calls.
func (e *Engine) StartQuestion(ctx context.Context, question string) (string, *Generation, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", nil, ErrNoQuestion
	}

	id := e.sessions.GenerateID()
	ctx = WithRequestID(ctx, id)

	gen, err := e.GenerateSQL(ctx, question)
	if err != nil {
		return "", nil, err
	}

	if err := e.storeAll(ctx, id, map[string]any{
		session.FieldQuestion: question,
		session.FieldSQL:      gen.SQL,
		session.FieldValid:    gen.Valid,
	}); err != nil {
		return "", nil, err
	}
	return id, gen, nil
}

// RunResult is the outcome of RunSQL.
type RunResult struct {
	Type               string             `json:"type"`
	ID                 string             `json:"id"`
	DF                 []map[string]any   `json:"df,omitempty"`
	SQL                string             `json:"sql,omitempty"`
	SQLCorrected       bool               `json:"sql_corrected"`
	CorrectionAttempts int                `json:"correction_attempts"`
	Text               string             `json:"text,omitempty"`
	ErrorHistory       []CorrectionRecord `json:"error_history,omitempty"`
}

// RunSQL executes the session's SQL with self-correction. On success the
// result and any corrected SQL are stored; when every attempt fails the
// caller gets a clarification request and the history of attempts.
func (e *Engine) RunSQL(ctx context.Context, id string) (*RunResult, error) {
	sql, ok, err := session.Load[string](ctx, e.sessions, id, session.FieldSQL)
	if err != nil {
		return nil, err
	}
	if !ok || sql == "" {
		return nil, ErrNoSQL
	}
	if e.executor == nil {
		return nil, ErrDatabaseNotConfigured
	}

	question, _, err := session.Load[string](ctx, e.sessions, id, session.FieldQuestion)
	if err != nil {
		return nil, err
	}

	ctx = WithRequestID(ctx, id)
	x, runErr := e.RunWithRetry(ctx, sql, e.opts.MaxRetries, question)
	if x == nil {
		return nil, runErr
	}
	if len(x.History) > 0 {
		if err := session.Store(ctx, e.sessions, id, session.FieldErrorHistory, x.History); err != nil {
			return nil, err
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	if !x.Succeeded() {
		if question == "" {
			question = "your question"
		}
		return &RunResult{
			Type: RunTypeClarification,
			ID:   id,
			Text: fmt.Sprintf("I'm having trouble generating the right SQL for '%s'. Could you provide more context "+
				"or clarify what specific information you're looking for? This will help me understand your request better.", question),
			SQL:                x.FinalSQL,
			CorrectionAttempts: len(x.History),
			ErrorHistory:       x.History,
		}, nil
	}

	if err := e.storeAll(ctx, id, map[string]any{
		session.FieldResultSet:          x.Result,
		session.FieldSQL:                x.FinalSQL,
		session.FieldSQLCorrected:       x.Corrected(),
		session.FieldCorrectionAttempts: len(x.History),
	}); err != nil {
		return nil, err
	}

	return &RunResult{
		Type:               RunTypeDF,
		ID:                 id,
		DF:                 x.Result.Preview(e.opts.MaxRowsPreview).Records(),
		SQL:                x.FinalSQL,
		SQLCorrected:       x.Corrected(),
		CorrectionAttempts: len(x.History),
	}, nil
}

// FixSQL regenerates the session's SQL from a user-reported error.
func (e *Engine) FixSQL(ctx context.Context, id, errText string) (*Generation, error) {
	question, sql, err := e.questionAndSQL(ctx, id)
	if err != nil {
		return nil, err
	}

	fix := fmt.Sprintf("I have an error: %s\n\nHere is the SQL I tried to run: %s\n\n"+
		"This is the question I was trying to answer: %s\n\nCan you rewrite the SQL to fix the error?",
		errText, sql, question)

	gen, err := e.GenerateSQL(WithRequestID(ctx, id), fix)
	if err != nil {
		return nil, err
	}
	if err := e.storeAll(ctx, id, map[string]any{
		session.FieldSQL:   gen.SQL,
		session.FieldValid: gen.Valid,
	}); err != nil {
		return nil, err
	}
	return gen, nil
}

// UpdateSQL replaces the session's SQL with a manual edit and reports
// whether it passes validation.
func (e *Engine) UpdateSQL(ctx context.Context, id, sql string) (bool, error) {
	if strings.TrimSpace(sql) == "" {
		return false, ErrNoSQL
	}
	valid := e.validator.IsValid(sql)
	return valid, e.storeAll(ctx, id, map[string]any{
		session.FieldSQL:   sql,
		session.FieldValid: valid,
	})
}

// GenerateRewrittenQuestion merges a follow-up with the previous question
// when they are related, otherwise returns the new question.
func (e *Engine) GenerateRewrittenQuestion(ctx context.Context, last, next string) (string, error) {
	if strings.TrimSpace(last) == "" {
		return next, nil
	}
	msgs := []llm.Message{
		llm.SystemMessage("Your goal is to combine a sequence of questions into a singular question if they are related. " +
			"If the second question does not relate to the first question and is fully self-contained, return the second question. " +
			"Return just the new combined question with no additional explanations. " +
			"The question should theoretically be answerable with a single SQL statement."),
		llm.UserMessage("First question: " + last + "\nSecond question: " + next),
	}
	resp, err := e.submit(ctx, msgs)
	if err != nil {
		return "", &SynthesisError{Attempt: 1, Err: err}
	}
	return strings.TrimSpace(resp), nil
}

// Enhancement is the rewritten question produced by AnswerConversation.
type Enhancement struct {
	ID               string `json:"id"`
	OriginalQuestion string `json:"original_question"`
	EnhancedQuestion string `json:"enhanced_question"`
}

// AnswerConversation folds the user's answers to clarifying questions into
// a more specific version of the session's question.
func (e *Engine) AnswerConversation(ctx context.Context, id string, answers map[string]string) (*Enhancement, error) {
	original, ok, err := session.Load[string](ctx, e.sessions, id, session.FieldQuestion)
	if err != nil {
		return nil, err
	}
	if !ok || original == "" {
		return nil, ErrNoQuestion
	}

	asked := make([]string, 0, len(answers))
	for q := range answers {
		asked = append(asked, q)
	}
	sort.Strings(asked)

	var parts []string
	for _, q := range asked {
		if a := strings.TrimSpace(answers[q]); a != "" {
			parts = append(parts, fmt.Sprintf("Q: %s\nA: %s", q, a))
		}
	}

	prompt := fmt.Sprintf("Based on the user's original question and their additional context, generate a more specific "+
		"and clear question that better captures what they want.\n\n"+
		"Original Question: %s\n\nAdditional Context from User:\n%s\n\n"+
		"Generate a rewritten question that:\n"+
		"1. Incorporates the additional context provided\n"+
		"2. Is more specific about what data they want\n"+
		"3. Includes relevant filters, timeframes, or conditions mentioned\n"+
		"4. Is clear enough to generate accurate SQL\n\n"+
		"Return only the rewritten question, nothing else.", original, strings.Join(parts, "\n\n"))

	resp, err := e.submit(ctx, []llm.Message{
		llm.SystemMessage("You are a helpful AI assistant that rewrites questions to be more specific and clear based on additional context. Always respond with just the rewritten question."),
		llm.UserMessage(prompt),
	})
	if err != nil {
		return nil, &SynthesisError{Attempt: 1, Err: err}
	}
	enhanced := strings.TrimSpace(resp)

	if err := e.storeAll(ctx, id, map[string]any{
		session.FieldEnhancedQuestion:    enhanced,
		session.FieldConversationContext: answers,
	}); err != nil {
		return nil, err
	}
	return &Enhancement{ID: id, OriginalQuestion: original, EnhancedQuestion: enhanced}, nil
}

var listMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)

// GenerateFollowupQuestions suggests at most five follow-ups from the
// session's results. It needs AllowLLMToSeeData; when that is off it stores
// and returns an empty list with enabled false.
func (e *Engine) GenerateFollowupQuestions(ctx context.Context, id string) (questions []string, enabled bool, err error) {
	question, sql, rs, err := e.ranSession(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if !e.opts.AllowLLMToSeeData {
		return []string{}, false, session.Store(ctx, e.sessions, id, session.FieldFollowups, []string{})
	}

	msgs := []llm.Message{
		llm.SystemMessage(fmt.Sprintf("You are a helpful data assistant. The user asked the question: '%s'\n\n"+
			"The SQL query for this question was: %s\n\n"+
			"The following is a table with the results of the query: \n%s\n\n", question, sql, rs.Markdown(25))),
		llm.UserMessage(fmt.Sprintf("Generate a list of %d followup questions that the user might ask about this data. "+
			"Respond with a list of questions, one per line. Do not answer with any explanations -- just the questions. "+
			"Remember that there should be an unambiguous SQL query that can be generated from the question. "+
			"Prefer questions that are slight modifications of the SQL query that was generated that allow digging deeper into the data.",
			maxFollowups)),
	}
	resp, err := e.submit(ctx, msgs)
	if err != nil {
		return nil, true, &SynthesisError{Attempt: 1, Err: err}
	}

	questions = []string{}
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		questions = append(questions, line)
		if len(questions) == maxFollowups {
			break
		}
	}
	return questions, true, session.Store(ctx, e.sessions, id, session.FieldFollowups, questions)
}

// GenerateSummary summarises the session's results. It needs
// AllowLLMToSeeData; enabled is false when that is off.
func (e *Engine) GenerateSummary(ctx context.Context, id string) (summary string, enabled bool, err error) {
	question, _, rs, err := e.ranSession(ctx, id)
	if err != nil {
		return "", false, err
	}
	if !e.opts.AllowLLMToSeeData {
		return "", false, nil
	}

	msgs := []llm.Message{
		llm.SystemMessage(fmt.Sprintf("You are a helpful data assistant. The user asked the question: '%s'\n\n"+
			"The following is a table with the results of the query: \n%s\n\n", question, rs.Markdown(e.opts.MaxRowsPreview*10))),
		llm.UserMessage("Briefly summarize the data based on the question that was asked. " +
			"Do not respond with any additional explanation beyond the summary."),
	}
	resp, err := e.submit(ctx, msgs)
	if err != nil {
		return "", true, &SynthesisError{Attempt: 1, Err: err}
	}
	summary = strings.TrimSpace(resp)
	return summary, true, session.Store(ctx, e.sessions, id, session.FieldSummary, summary)
}

// LoadedQuestion is everything stored for a session. Only Question and SQL
// are guaranteed.
type LoadedQuestion struct {
	ID       string           `json:"id"`
	Question string           `json:"question"`
	SQL      string           `json:"sql"`
	DF       []map[string]any `json:"df"`
	Figure   json.RawMessage  `json:"fig,omitempty"`
	Summary  string           `json:"summary,omitempty"`
}

// LoadQuestion returns a stored session for display.
func (e *Engine) LoadQuestion(ctx context.Context, id string) (*LoadedQuestion, error) {
	question, sql, err := e.questionAndSQL(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &LoadedQuestion{ID: id, Question: question, SQL: sql, DF: []map[string]any{}}

	if rs, ok, err := session.Load[*datasource.ResultSet](ctx, e.sessions, id, session.FieldResultSet); err != nil {
		e.logger.Warn("stored result set unreadable", zap.String("id", id), zap.Error(err))
	} else if ok {
		out.DF = rs.Preview(e.opts.MaxRowsPreview).Records()
	}
	if summary, ok, _ := session.Load[string](ctx, e.sessions, id, session.FieldSummary); ok {
		out.Summary = summary
	}
	if fig, ok, _ := e.sessions.Get(ctx, id, session.FieldChartFigure); ok && json.Valid(fig) {
		out.Figure = fig
	}
	return out, nil
}

// HistoryItem is one asked question.
type HistoryItem struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

// QuestionHistory lists every session's question in creation order.
func (e *Engine) QuestionHistory(ctx context.Context) ([]HistoryItem, error) {
	entries, err := e.sessions.GetAll(ctx, []string{session.FieldQuestion})
	if err != nil {
		return nil, err
	}
	out := []HistoryItem{}
	for _, entry := range entries {
		raw, ok := entry.Fields[session.FieldQuestion]
		if !ok {
			continue
		}
		var q string
		if err := json.Unmarshal(raw, &q); err != nil {
			continue
		}
		out = append(out, HistoryItem{ID: entry.ID, Question: q})
	}
	return out, nil
}

// ErrorHistory returns the correction records stored for a session, or an
// empty list.
func (e *Engine) ErrorHistory(ctx context.Context, id string) ([]CorrectionRecord, error) {
	history, ok, err := session.Load[[]CorrectionRecord](ctx, e.sessions, id, session.FieldErrorHistory)
	if err != nil {
		return nil, err
	}
	if !ok || history == nil {
		return []CorrectionRecord{}, nil
	}
	return history, nil
}

// FieldStatus describes one cached field for debugging.
type FieldStatus struct {
	Exists  bool   `json:"exists"`
	Type    string `json:"type"`
	Preview string `json:"preview"`
}

var debugFields = []string{
	session.FieldQuestion,
	session.FieldSQL,
	session.FieldValid,
	session.FieldResultSet,
	session.FieldChartFigure,
	session.FieldSummary,
	session.FieldErrorHistory,
	session.FieldFollowups,
}

// DebugCache reports which fields a session holds, with a short preview of
// each.
func (e *Engine) DebugCache(ctx context.Context, id string) (map[string]FieldStatus, error) {
	fields, _, err := e.sessions.Fields(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make(map[string]FieldStatus, len(debugFields))
	for _, name := range debugFields {
		raw, ok := fields[name]
		if !ok {
			out[name] = FieldStatus{Type: "None", Preview: "None"}
			continue
		}
		preview := string(raw)
		if runes := []rune(preview); len(runes) > 100 {
			preview = string(runes[:100]) + "..."
		}
		out[name] = FieldStatus{Exists: true, Type: jsonKind(raw), Preview: preview}
	}
	return out, nil
}

func jsonKind(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "bytes"
	}
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "null"
	}
}

func (e *Engine) questionAndSQL(ctx context.Context, id string) (string, string, error) {
	question, ok, err := session.Load[string](ctx, e.sessions, id, session.FieldQuestion)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", ErrNoQuestion
	}
	sql, ok, err := session.Load[string](ctx, e.sessions, id, session.FieldSQL)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", ErrNoSQL
	}
	return question, sql, nil
}

// ranSession loads a session that has been run.
func (e *Engine) ranSession(ctx context.Context, id string) (string, string, *datasource.ResultSet, error) {
	question, sql, err := e.questionAndSQL(ctx, id)
	if err != nil {
		return "", "", nil, err
	}
	rs, ok, err := session.Load[*datasource.ResultSet](ctx, e.sessions, id, session.FieldResultSet)
	if err != nil {
		return "", "", nil, err
	}
	if !ok || rs == nil {
		return "", "", nil, ErrNoResults
	}
	return question, sql, rs, nil
}

func (e *Engine) storeAll(ctx context.Context, id string, fields map[string]any) error {
	for field, v := range fields {
		if err := session.Store(ctx, e.sessions, id, field, v); err != nil {
			return err
		}
	}
	return nil
}
