package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ziadkadry99/askdb/internal/audit"
	"github.com/ziadkadry99/askdb/internal/config"
	"github.com/ziadkadry99/askdb/internal/datasource"
	"github.com/ziadkadry99/askdb/internal/llm"
	"github.com/ziadkadry99/askdb/internal/llm/llmtest"
	"github.com/ziadkadry99/askdb/internal/retrieval"
	"github.com/ziadkadry99/askdb/internal/session"
	"github.com/ziadkadry99/askdb/internal/vectordb"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// hashEmbedder maps text to a normalized character histogram.
type hashEmbedder struct{ dims int }

func (h hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, h.dims)
		for j, ch := range text {
			vec[(int(ch)+j)%h.dims]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		norm = math.Sqrt(norm)
		for k := range vec {
			if norm > 0 {
				vec[k] = float32(float64(vec[k]) / norm)
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (h hashEmbedder) Dimensions() int { return h.dims }
func (h hashEmbedder) Name() string    { return "hash" }

// scriptedExecutor fails with each of failures in turn, then returns result.
type scriptedExecutor struct {
	mu       sync.Mutex
	failures []error
	always   error
	result   *datasource.ResultSet
	queries  []string
}

func (s *scriptedExecutor) Execute(_ context.Context, query string) (*datasource.ResultSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if s.always != nil {
		return nil, s.always
	}
	if n := len(s.queries); n <= len(s.failures) {
		return nil, s.failures[n-1]
	}
	return s.result, nil
}

func (s *scriptedExecutor) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Log(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingAudit) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Action, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

type testEnv struct {
	engine   *Engine
	store    *vectordb.ChromemStore
	provider *llmtest.Provider
	exec     *scriptedExecutor
	audit    *recordingAudit
}

func newEnv(t *testing.T, provider *llmtest.Provider, exec *scriptedExecutor, tweak ...func(*Options)) *testEnv {
	t.Helper()
	store, err := vectordb.NewChromemStore(hashEmbedder{dims: 32})
	require.NoError(t, err)

	ropts := retrieval.DefaultOptions()
	ropts.Dialect = "mysql"

	opts := DefaultOptions()
	opts.Dialect = "mysql"
	opts.PersistDir = ""
	for _, f := range tweak {
		f(&opts)
	}

	rec := &recordingAudit{}
	deps := Deps{
		Store:       store,
		Retriever:   retrieval.NewAssembler(store, ropts, nil),
		Synthesizer: NewSynthesizer(provider, config.LLMConfig{Model: "test"}),
		Sessions:    session.NewMemoryCache(),
		Audit:       rec,
	}
	if exec != nil {
		deps.Executor = exec
	}

	e, err := New(deps, opts)
	require.NoError(t, err)
	return &testEnv{engine: e, store: store, provider: provider, exec: exec, audit: rec}
}

func oneRow() *datasource.ResultSet {
	return &datasource.ResultSet{Columns: []string{"COUNT(*)"}, Rows: [][]any{{int64(42)}}}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, DefaultOptions())
	assert.Error(t, err)
}

func TestExactMatchSkipsModel(t *testing.T) {
	env := newEnv(t, llmtest.New("SELECT 1"), nil)
	ctx := context.Background()

	stored := "SELECT name FROM customers ORDER BY total DESC LIMIT 10"
	_, err := env.engine.Train(ctx, TrainRequest{Question: "Find top customers", SQL: stored})
	require.NoError(t, err)

	gen, err := env.engine.GenerateSQL(ctx, "find top customers ")
	require.NoError(t, err)
	assert.Equal(t, stored, gen.SQL)
	assert.True(t, gen.ExactMatch)
	assert.Equal(t, 0, gen.Attempts)
	assert.True(t, gen.Valid)
	assert.Zero(t, env.provider.CallCount(), "the model must not be called on an exact match")
	assert.Contains(t, env.audit.actions(), audit.ActionExactMatch)
}

func TestGenerateSQLEmptyQuestion(t *testing.T) {
	env := newEnv(t, llmtest.New(), nil)
	_, err := env.engine.GenerateSQL(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNoQuestion)
}

func TestGenerateSQLBoundedRetry(t *testing.T) {
	env := newEnv(t, llmtest.New("SELECT TOP 10 * FROM t"), nil)

	gen, err := env.engine.GenerateSQL(context.Background(), "show ten rows of t")
	require.NoError(t, err, "exhausting attempts degrades instead of failing")
	assert.Equal(t, 3, env.provider.CallCount())
	assert.Equal(t, 3, gen.Attempts)
	assert.False(t, gen.Valid)
	assert.Equal(t, "SELECT TOP 10 * FROM t", gen.SQL)

	var verr *ValidationError
	require.ErrorAs(t, gen.Err(), &verr)
	assert.Contains(t, verr.Reason, "TOP")

	msgs := env.provider.LastMessages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Contains(t, last.Content, "show ten rows of t")
	assert.Contains(t, last.Content, "rejected", "retries carry a corrective instruction")
}

func TestGenerateSQLRecoversAfterInvalidAttempt(t *testing.T) {
	env := newEnv(t, llmtest.New(
		"SELECT TOP 5 name FROM t",
		"```sql\nSELECT name FROM t LIMIT 5\n```",
	), nil)

	gen, err := env.engine.GenerateSQL(context.Background(), "five names from t")
	require.NoError(t, err)
	assert.True(t, gen.Valid)
	assert.Equal(t, 2, gen.Attempts)
	assert.Equal(t, "SELECT name FROM t LIMIT 5", gen.SQL)
	assert.NoError(t, gen.Err())
}

func TestGenerateSQLTransportErrorIsNotRetried(t *testing.T) {
	p := llmtest.New()
	p.Err = errors.New("dial tcp 127.0.0.1:11434: connection refused")
	env := newEnv(t, p, nil)

	_, err := env.engine.GenerateSQL(context.Background(), "how many orders?")
	var serr *SynthesisError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 1, serr.Attempt)
	assert.Equal(t, 1, p.CallCount())

	var lerr *llm.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, llm.ErrorTypeEndpoint, lerr.Type)
}

type failingRetriever struct{}

func (failingRetriever) ExactSQL(context.Context, string) (string, bool) { return "", false }
func (failingRetriever) Assemble(context.Context, string, int) (*retrieval.PromptContext, error) {
	return nil, errors.New("embedding endpoint unreachable")
}
func (failingRetriever) RelatedSQL(context.Context, string) ([]retrieval.Example, error) {
	return nil, errors.New("embedding endpoint unreachable")
}

func TestGenerateSQLRetrievalError(t *testing.T) {
	store, err := vectordb.NewChromemStore(hashEmbedder{dims: 8})
	require.NoError(t, err)
	p := llmtest.New("SELECT 1")
	e, err := New(Deps{
		Store:       store,
		Retriever:   failingRetriever{},
		Synthesizer: NewSynthesizer(p, config.LLMConfig{}),
	}, Options{Dialect: "mysql", MaxAttempts: 3})
	require.NoError(t, err)

	_, err = e.GenerateSQL(context.Background(), "anything")
	var rerr *RetrievalError
	assert.ErrorAs(t, err, &rerr)
	assert.Zero(t, p.CallCount())
}

func TestGenerateSQLUsesIntermediateQuery(t *testing.T) {
	exec := &scriptedExecutor{result: &datasource.ResultSet{Columns: []string{"status"}, Rows: [][]any{{"shipped"}, {"pending"}}}}
	env := newEnv(t, llmtest.New(
		"```sql\n-- intermediate_sql\nSELECT DISTINCT status FROM orders\n```",
		"```sql\nSELECT COUNT(*) FROM orders WHERE status = 'shipped'\n```",
	), exec, func(o *Options) { o.AllowLLMToSeeData = true })

	gen, err := env.engine.GenerateSQL(context.Background(), "how many orders shipped?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM orders WHERE status = 'shipped'", gen.SQL)
	assert.Equal(t, 1, gen.Attempts)
	assert.Equal(t, 2, env.provider.CallCount())
	assert.Len(t, exec.Queries(), 1)
	assert.Contains(t, env.provider.LastMessages()[0].Content, "shipped", "intermediate rows are added to the context")
}

func TestRunWithRetryCorrectsFailures(t *testing.T) {
	exec := &scriptedExecutor{
		failures: []error{errors.New("no such table: tt"), errors.New("no such column: cnt")},
		result:   oneRow(),
	}
	env := newEnv(t, llmtest.New(
		"```sql\nSELECT cnt FROM t\n```",
		"The column is missing.\n```sql\nSELECT COUNT(*) FROM t\n```",
	), exec)

	x, err := env.engine.RunWithRetry(context.Background(), "SELECT COUNT(*) FROM tt", 2, "Count total records in t")
	require.NoError(t, err)
	require.True(t, x.Succeeded())
	assert.True(t, x.Corrected())
	assert.Equal(t, "SELECT COUNT(*) FROM t", x.FinalSQL)
	require.Len(t, x.History, 2)

	assert.Equal(t, 1, x.History[0].Attempt)
	assert.Equal(t, "SELECT COUNT(*) FROM tt", x.History[0].SQL)
	assert.Equal(t, "no such table: tt", x.History[0].DatabaseError)
	assert.Equal(t, "SELECT cnt FROM t", x.History[0].CorrectedSQL)
	assert.Equal(t, "SELECT cnt FROM t", x.History[1].SQL)
	assert.Equal(t, "The column is missing.", x.History[1].Explanation)

	assert.Equal(t, []string{"SELECT COUNT(*) FROM tt", "SELECT cnt FROM t", "SELECT COUNT(*) FROM t"}, exec.Queries())
	assert.Contains(t, env.audit.actions(), audit.ActionSQLCorrected)
	assert.NoError(t, x.Err())
}

func TestRunWithRetryFirstTrySucceeds(t *testing.T) {
	exec := &scriptedExecutor{result: oneRow()}
	env := newEnv(t, llmtest.New(), exec)

	x, err := env.engine.RunWithRetry(context.Background(), "SELECT COUNT(*) FROM t", 2, "q")
	require.NoError(t, err)
	assert.True(t, x.Succeeded())
	assert.False(t, x.Corrected())
	assert.Empty(t, x.History)
	assert.Zero(t, env.provider.CallCount())
}

func TestRunWithRetryExhausted(t *testing.T) {
	exec := &scriptedExecutor{always: errors.New("access denied")}
	env := newEnv(t, llmtest.New("SELECT 1 FROM t"), exec)

	x, err := env.engine.RunWithRetry(context.Background(), "SELECT * FROM t", 2, "q")
	require.NoError(t, err)
	assert.False(t, x.Succeeded())
	assert.Nil(t, x.Result)
	assert.Len(t, x.History, 2, "history never exceeds max retries")
	assert.Len(t, exec.Queries(), 3)
	assert.Equal(t, "access denied", x.LastError)
	assert.Equal(t, "SELECT 1 FROM t", x.FinalSQL)

	var eerr *ExecutionError
	require.ErrorAs(t, x.Err(), &eerr)
	assert.Equal(t, 3, eerr.Attempts)
	assert.Contains(t, env.audit.actions(), audit.ActionExecutionFailed)
}

func TestRunWithRetryZeroRetries(t *testing.T) {
	exec := &scriptedExecutor{always: errors.New("boom")}
	env := newEnv(t, llmtest.New("SELECT 1"), exec)

	x, err := env.engine.RunWithRetry(context.Background(), "SELECT 2", 0, "q")
	require.NoError(t, err)
	assert.Empty(t, x.History)
	assert.Len(t, exec.Queries(), 1)
	assert.Zero(t, env.provider.CallCount())
}

func TestRunWithRetryRejectsInvalidRewrite(t *testing.T) {
	exec := &scriptedExecutor{failures: []error{errors.New("syntax error")}, result: oneRow()}
	env := newEnv(t, llmtest.New(
		"SELECT TOP 1 * FROM t",
		"```sql\nSELECT * FROM t LIMIT 1\n```",
	), exec)

	x, err := env.engine.RunWithRetry(context.Background(), "SELEC * FROM t", 2, "first row of t")
	require.NoError(t, err)
	require.True(t, x.Succeeded())
	assert.Equal(t, "SELECT * FROM t LIMIT 1", x.FinalSQL)
	assert.Equal(t, []string{"SELEC * FROM t", "SELECT * FROM t LIMIT 1"}, exec.Queries(), "invalid rewrites never reach the database")
	require.Len(t, x.History, 2)
	assert.Contains(t, x.History[1].DatabaseError, "invalid SQL")
}

func TestRunWithRetryTransportError(t *testing.T) {
	exec := &scriptedExecutor{always: errors.New("no such table")}
	p := llmtest.New()
	p.Err = errors.New("401 unauthorized")
	env := newEnv(t, p, exec)

	x, err := env.engine.RunWithRetry(context.Background(), "SELECT * FROM t", 2, "q")
	var serr *SynthesisError
	require.ErrorAs(t, err, &serr)
	require.NotNil(t, x)
	assert.Len(t, x.History, 1)
	assert.Len(t, exec.Queries(), 1)
}

func TestRunWithRetryWithoutDatabase(t *testing.T) {
	env := newEnv(t, llmtest.New(), nil)
	_, err := env.engine.RunWithRetry(context.Background(), "SELECT 1", 2, "q")
	assert.ErrorIs(t, err, ErrDatabaseNotConfigured)
	assert.True(t, IsInputError(err))

	_, err = env.engine.RunWithRetry(context.Background(), " ", 2, "q")
	assert.ErrorIs(t, err, ErrNoSQL)
}

func TestEndToEnd(t *testing.T) {
	exec := &scriptedExecutor{result: oneRow()}
	env := newEnv(t, llmtest.New("```sql\nSELECT COUNT(*) FROM t\n```"), exec)
	ctx := context.Background()

	ans, err := env.engine.Ask(ctx, "Count total records in t", true)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM t", ans.Generation.SQL)
	assert.True(t, ans.Generation.Valid)

	require.NotNil(t, ans.Run)
	assert.Equal(t, RunTypeDF, ans.Run.Type)
	require.Len(t, ans.Run.DF, 1)
	assert.Len(t, ans.Run.DF[0], 1)
	assert.False(t, ans.Run.SQLCorrected)
	assert.Zero(t, ans.Run.CorrectionAttempts)

	history, err := env.engine.ErrorHistory(ctx, ans.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAskWithoutRunDoesNotExecute(t *testing.T) {
	exec := &scriptedExecutor{result: oneRow()}
	env := newEnv(t, llmtest.New("SELECT COUNT(*) FROM t"), exec)

	ans, err := env.engine.Ask(context.Background(), "count t", false)
	require.NoError(t, err)
	assert.Nil(t, ans.Run)
	assert.Empty(t, exec.Queries())
}

func TestRunSQLClarificationAfterExhaustion(t *testing.T) {
	exec := &scriptedExecutor{always: errors.New("Unknown column 'x'")}
	env := newEnv(t, llmtest.New("SELECT y FROM t"), exec)
	ctx := context.Background()

	id, _, err := env.engine.StartQuestion(ctx, "what is x?")
	require.NoError(t, err)

	res, err := env.engine.RunSQL(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunTypeClarification, res.Type)
	assert.Contains(t, res.Text, "what is x?")
	assert.Len(t, res.ErrorHistory, 2)

	history, err := env.engine.ErrorHistory(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, "Unknown column 'x'", history[0].DatabaseError)

	_, _, err = env.engine.GenerateSummary(ctx, id)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestRunSQLStoresCorrectedSQL(t *testing.T) {
	exec := &scriptedExecutor{failures: []error{errors.New("no such table: t")}, result: oneRow()}
	env := newEnv(t, llmtest.New("SELECT COUNT(*) FROM tt", "SELECT COUNT(*) FROM records"), exec)
	ctx := context.Background()

	id, gen, err := env.engine.StartQuestion(ctx, "how many records?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM tt", gen.SQL)

	res, err := env.engine.RunSQL(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunTypeDF, res.Type)
	assert.True(t, res.SQLCorrected)
	assert.Equal(t, 1, res.CorrectionAttempts)

	loaded, err := env.engine.LoadQuestion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM records", loaded.SQL)
	assert.Len(t, loaded.DF, 1)
}

func TestRunSQLUnknownID(t *testing.T) {
	env := newEnv(t, llmtest.New(), &scriptedExecutor{result: oneRow()})
	_, err := env.engine.RunSQL(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoSQL)
}

func TestFollowupsAndSummaryGated(t *testing.T) {
	exec := &scriptedExecutor{result: oneRow()}
	env := newEnv(t, llmtest.New("SELECT COUNT(*) FROM t"), exec)
	ctx := context.Background()

	ans, err := env.engine.Ask(ctx, "count t", true)
	require.NoError(t, err)
	calls := env.provider.CallCount()

	questions, enabled, err := env.engine.GenerateFollowupQuestions(ctx, ans.ID)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Empty(t, questions)

	stored, ok, err := session.Load[[]string](ctx, env.engine.Sessions(), ans.ID, session.FieldFollowups)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, stored)

	_, enabled, err = env.engine.GenerateSummary(ctx, ans.ID)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Equal(t, calls, env.provider.CallCount(), "gated features never call the model")
}

func TestFollowupsCappedAtFive(t *testing.T) {
	exec := &scriptedExecutor{result: oneRow()}
	env := newEnv(t, llmtest.New(
		"SELECT COUNT(*) FROM t",
		"1. one?\n2. two?\n\n3. three?\n- four?\n5) five?\n6. six?\n7. seven?",
		"There are 42 rows.",
	), exec, func(o *Options) { o.AllowLLMToSeeData = true })
	ctx := context.Background()

	ans, err := env.engine.Ask(ctx, "count t", true)
	require.NoError(t, err)

	questions, enabled, err := env.engine.GenerateFollowupQuestions(ctx, ans.ID)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, []string{"one?", "two?", "three?", "four?", "five?"}, questions)

	summary, enabled, err := env.engine.GenerateSummary(ctx, ans.ID)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "There are 42 rows.", summary)

	loaded, err := env.engine.LoadQuestion(ctx, ans.ID)
	require.NoError(t, err)
	assert.Equal(t, "There are 42 rows.", loaded.Summary)
}

func TestFixAndUpdateSQL(t *testing.T) {
	env := newEnv(t, llmtest.New("SELECT nme FROM users", "SELECT name FROM users"), nil)
	ctx := context.Background()

	id, _, err := env.engine.StartQuestion(ctx, "list user names")
	require.NoError(t, err)

	gen, err := env.engine.FixSQL(ctx, id, "Unknown column 'nme'")
	require.NoError(t, err)
	assert.Equal(t, "SELECT name FROM users", gen.SQL)
	last := env.provider.LastMessages()
	assert.Contains(t, last[len(last)-1].Content, "Unknown column 'nme'")
	assert.Contains(t, last[len(last)-1].Content, "SELECT nme FROM users")

	valid, err := env.engine.UpdateSQL(ctx, id, "SELECT TOP 1 name FROM users")
	require.NoError(t, err)
	assert.False(t, valid)

	loaded, err := env.engine.LoadQuestion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "SELECT TOP 1 name FROM users", loaded.SQL)
	assert.Empty(t, loaded.DF)

	_, err = env.engine.FixSQL(ctx, "missing", "error")
	assert.ErrorIs(t, err, ErrNoQuestion)
	_, err = env.engine.UpdateSQL(ctx, id, "")
	assert.ErrorIs(t, err, ErrNoSQL)
}

func TestConversationRewrites(t *testing.T) {
	env := newEnv(t, llmtest.New(
		"SELECT * FROM orders",
		"  How many orders were placed in Berlin in 2024?  ",
		"Which customers ordered in March 2024?",
	), nil)
	ctx := context.Background()

	id, _, err := env.engine.StartQuestion(ctx, "show orders")
	require.NoError(t, err)

	enh, err := env.engine.AnswerConversation(ctx, id, map[string]string{
		"Which city?": "Berlin",
		"Which year?": "2024",
		"Any status?": " ",
	})
	require.NoError(t, err)
	assert.Equal(t, "show orders", enh.OriginalQuestion)
	assert.Equal(t, "How many orders were placed in Berlin in 2024?", enh.EnhancedQuestion)

	prompt := env.provider.LastMessages()[1].Content
	assert.Contains(t, prompt, "Q: Which city?\nA: Berlin")
	assert.NotContains(t, prompt, "Any status?", "blank answers are dropped")

	stored, ok, err := session.Load[string](ctx, env.engine.Sessions(), id, session.FieldEnhancedQuestion)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, enh.EnhancedQuestion, stored)

	rewritten, err := env.engine.GenerateRewrittenQuestion(ctx, "orders in March 2024", "which customers?")
	require.NoError(t, err)
	assert.Equal(t, "Which customers ordered in March 2024?", rewritten)

	same, err := env.engine.GenerateRewrittenQuestion(ctx, "", "standalone?")
	require.NoError(t, err)
	assert.Equal(t, "standalone?", same)

	_, err = env.engine.AnswerConversation(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrNoQuestion)
}

func TestQuestionHistoryAndDebugCache(t *testing.T) {
	env := newEnv(t, llmtest.New("SELECT 1"), nil)
	ctx := context.Background()

	first, _, err := env.engine.StartQuestion(ctx, "first question")
	require.NoError(t, err)
	second, _, err := env.engine.StartQuestion(ctx, "second question")
	require.NoError(t, err)

	history, err := env.engine.QuestionHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, []HistoryItem{{ID: first, Question: "first question"}, {ID: second, Question: "second question"}}, history)

	debug, err := env.engine.DebugCache(ctx, first)
	require.NoError(t, err)
	assert.True(t, debug[session.FieldQuestion].Exists)
	assert.Equal(t, "string", debug[session.FieldQuestion].Type)
	assert.Equal(t, "bool", debug[session.FieldValid].Type)
	assert.False(t, debug[session.FieldSummary].Exists)

	long := strings.Repeat("x", 150)
	_, err = env.engine.UpdateSQL(ctx, first, long)
	require.NoError(t, err)
	debug, err = env.engine.DebugCache(ctx, first)
	require.NoError(t, err)
	assert.Len(t, debug[session.FieldSQL].Preview, 103)

	accented := "SELECT '" + strings.Repeat("é", 150) + "'"
	_, err = env.engine.UpdateSQL(ctx, first, accented)
	require.NoError(t, err)
	debug, err = env.engine.DebugCache(ctx, first)
	require.NoError(t, err)
	preview := debug[session.FieldSQL].Preview
	assert.True(t, utf8.ValidString(preview), "preview is cut on a character boundary")
	assert.Equal(t, 103, utf8.RuneCountInString(preview))
}

func TestTrainingLifecycle(t *testing.T) {
	env := newEnv(t, llmtest.New(), nil)
	ctx := context.Background()

	_, err := env.engine.Train(ctx, TrainRequest{Question: "orphan question"})
	assert.ErrorIs(t, err, ErrInvalidTraining)
	_, err = env.engine.Train(ctx, TrainRequest{DDL: "CREATE TABLE t (id INT)", Documentation: "t holds things"})
	assert.ErrorIs(t, err, ErrInvalidTraining)
	_, err = env.engine.Train(ctx, TrainRequest{})
	assert.ErrorIs(t, err, ErrInvalidTraining)

	pairID, err := env.engine.Train(ctx, TrainRequest{Question: "How many rows?", SQL: "SELECT COUNT(*) FROM t"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(pairID, "-sql"))

	again, err := env.engine.Train(ctx, TrainRequest{Question: "How many rows?", SQL: "SELECT COUNT(*) FROM t"})
	require.NoError(t, err)
	assert.Equal(t, pairID, again)

	ddlID, err := env.engine.Train(ctx, TrainRequest{DDL: "CREATE TABLE t (id INT)"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ddlID, "-ddl"))

	docID, err := env.engine.Train(ctx, TrainRequest{Documentation: "t holds one row per thing"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(docID, "-doc"))

	assert.Len(t, env.engine.ListTraining(ctx), 3)
	assert.Equal(t, []string{"How many rows?"}, env.engine.GenerateQuestions(ctx))

	ok, err := env.engine.RemoveTraining(ctx, docID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = env.engine.RemoveTraining(ctx, "no-suffix")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.engine.ResetCollection(ctx, "sql")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = env.engine.ResetCollection(ctx, "tables")
	require.NoError(t, err)
	assert.False(t, ok)

	items := env.engine.ListTraining(ctx)
	require.Len(t, items, 1)
	assert.Equal(t, ddlID, items[0].ID)

	assert.Contains(t, env.audit.actions(), audit.ActionTrainingRemoved)
	assert.Contains(t, env.audit.actions(), audit.ActionCollectionReset)
}

func TestTrainingPersists(t *testing.T) {
	dir := t.TempDir()
	env := newEnv(t, llmtest.New(), nil, func(o *Options) { o.PersistDir = dir })
	ctx := context.Background()

	_, err := env.engine.Train(ctx, TrainRequest{Documentation: "revenue is in cents"})
	require.NoError(t, err)

	reloaded, err := vectordb.NewChromemStore(hashEmbedder{dims: 32})
	require.NoError(t, err)
	require.NoError(t, reloaded.Load(ctx, dir))
	assert.Equal(t, 1, reloaded.Count())
}

func TestInjectionShapedQuestionIsFlagged(t *testing.T) {
	env := newEnv(t, llmtest.New("SELECT name FROM users"), nil)

	_, err := env.engine.GenerateSQL(context.Background(), "' OR '1'='1")
	require.NoError(t, err)
	assert.Contains(t, env.audit.actions(), audit.ActionInjectionFlagged)
}

// gateSynth records the highest number of concurrent Submit calls.
type gateSynth struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (g *gateSynth) Submit(ctx context.Context, _ []llm.Message) (string, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(10 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "SELECT 1", nil
}

func TestConcurrencyIsBounded(t *testing.T) {
	store, err := vectordb.NewChromemStore(hashEmbedder{dims: 8})
	require.NoError(t, err)
	ropts := retrieval.DefaultOptions()
	ropts.Dialect = "mysql"
	synth := &gateSynth{}

	e, err := New(Deps{
		Store:       store,
		Retriever:   retrieval.NewAssembler(store, ropts, nil),
		Synthesizer: synth,
	}, Options{Dialect: "mysql", MaxAttempts: 1, MaxConcurrency: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := e.StartQuestion(context.Background(), fmt.Sprintf("question %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, synth.peak.Load(), int32(2))
	history, err := e.QuestionHistory(context.Background())
	require.NoError(t, err)
	assert.Len(t, history, 10)
}

func TestStoredResultsKeepIntegers(t *testing.T) {
	exec := &scriptedExecutor{result: &datasource.ResultSet{
		Columns: []string{"total", "id"},
		Rows:    [][]any{{int64(1234567), int64(9007199254740993)}},
	}}
	env := newEnv(t, llmtest.New(
		"SELECT SUM(total) AS total, MAX(id) AS id FROM orders",
		"Orders total 1234567.",
	), exec, func(o *Options) { o.AllowLLMToSeeData = true })
	ctx := context.Background()

	ans, err := env.engine.Ask(ctx, "total of all orders", true)
	require.NoError(t, err)

	loaded, err := env.engine.LoadQuestion(ctx, ans.ID)
	require.NoError(t, err)
	require.Len(t, loaded.DF, 1)
	assert.Equal(t, int64(1234567), loaded.DF[0]["total"])
	assert.Equal(t, int64(9007199254740993), loaded.DF[0]["id"])

	_, enabled, err := env.engine.GenerateSummary(ctx, ans.ID)
	require.NoError(t, err)
	require.True(t, enabled)
	prompt := env.provider.LastMessages()[0].Content
	assert.Contains(t, prompt, "| 1234567 | 9007199254740993 |")
	assert.NotContains(t, prompt, "e+06")
}

func TestIntermediateWriteNeverReachesDatabase(t *testing.T) {
	exec := &scriptedExecutor{result: oneRow()}
	env := newEnv(t, llmtest.New(
		"-- intermediate_sql\nDROP TABLE orders",
		"```sql\nSELECT COUNT(*) FROM orders\n```",
	), exec, func(o *Options) { o.AllowLLMToSeeData = true })

	gen, err := env.engine.GenerateSQL(context.Background(), "how many orders?")
	require.NoError(t, err)
	assert.Empty(t, exec.Queries(), "a rejected intermediate statement is not executed")
	assert.True(t, gen.Valid)
	assert.Equal(t, "SELECT COUNT(*) FROM orders", gen.SQL)
	assert.Equal(t, 2, gen.Attempts)
}
