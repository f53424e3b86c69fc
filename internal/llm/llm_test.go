package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ziadkadry99/askdb/internal/config"
)

// MockProvider is a test provider that records calls and returns canned responses.
type MockProvider struct {
	mu       sync.Mutex
	Calls    []CompletionRequest
	Response *CompletionResponse
	Err      error
	ProvName string
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		ProvName: name,
		Response: &CompletionResponse{
			Content:      "SELECT 1",
			InputTokens:  10,
			OutputTokens: 20,
			Model:        "mock-model",
			FinishReason: "stop",
		},
	}
}

func (m *MockProvider) Name() string {
	return m.ProvName
}

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func TestSubmitReturnsContent(t *testing.T) {
	mock := NewMockProvider("test")

	got, err := Submit(context.Background(), mock, []Message{SystemMessage("sys"), UserMessage("q")}, CompletionRequest{Temperature: 0.2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "SELECT 1" {
		t.Errorf("expected 'SELECT 1', got %q", got)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected 1 call, got %d", mock.CallCount())
	}
	if len(mock.Calls[0].Messages) != 2 || mock.Calls[0].Temperature != 0.2 {
		t.Errorf("request not forwarded intact: %+v", mock.Calls[0])
	}
}

func TestSubmitClassifiesTransportErrors(t *testing.T) {
	mock := NewMockProvider("test")
	mock.Err = fmt.Errorf("dial tcp: connection refused")

	_, err := Submit(context.Background(), mock, []Message{UserMessage("q")}, CompletionRequest{})
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if llmErr.Type != ErrorTypeEndpoint {
		t.Errorf("expected endpoint error, got %s", llmErr.Type)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err       error
		want      ErrorType
		retryable bool
	}{
		{context.DeadlineExceeded, ErrorTypeTimeout, true},
		{errors.New("status 401: unauthorized"), ErrorTypeAuth, false},
		{errors.New("429 too many requests"), ErrorTypeRateLimit, true},
		{errors.New("model \"llama9\" not found"), ErrorTypeModel, false},
		{errors.New("returned status 404"), ErrorTypeEndpoint, false},
		{errors.New("returned status 503"), ErrorTypeServer, true},
		{errors.New("something odd"), ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		got := ClassifyError(tt.err)
		if got.Type != tt.want {
			t.Errorf("ClassifyError(%v).Type = %s, want %s", tt.err, got.Type, tt.want)
		}
		if got.Retryable != tt.retryable {
			t.Errorf("ClassifyError(%v).Retryable = %v, want %v", tt.err, got.Retryable, tt.retryable)
		}
		if !errors.Is(got, tt.err) {
			t.Errorf("ClassifyError(%v) should unwrap to its cause", tt.err)
		}
	}

	if ClassifyError(nil) != nil {
		t.Error("ClassifyError(nil) should be nil")
	}

	already := NewError(ErrorTypeAuth, "x", false, nil)
	if ClassifyError(fmt.Errorf("wrapped: %w", already)) != already {
		t.Error("already classified errors should pass through")
	}
}

func TestFactoryReturnsErrorForMissingAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")

	for _, p := range []config.ProviderType{config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderOpenRouter} {
		if _, err := NewProvider(config.LLMConfig{Provider: p, Model: "m"}); err == nil {
			t.Errorf("expected error for provider %q with missing API key", p)
		}
	}
}

func TestFactoryReturnsErrorForUnknownProvider(t *testing.T) {
	if _, err := NewProvider(config.LLMConfig{Provider: "unknown", Model: "m"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestFactoryCreatesOllamaWithDefaultHost(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	provider, err := NewProvider(config.LLMConfig{Provider: config.ProviderOllama, Model: "llama3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ollamaP, ok := provider.(*OllamaProvider)
	if !ok {
		t.Fatalf("expected *OllamaProvider, got %T", provider)
	}
	if ollamaP.baseURL != "http://localhost:11434" {
		t.Errorf("expected default host, got %q", ollamaP.baseURL)
	}
}

func TestFactoryNamesProviders(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENROUTER_API_KEY", "test-key")

	for _, p := range []config.ProviderType{config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderOpenRouter} {
		provider, err := NewProvider(config.LLMConfig{Provider: p, Model: "m"})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", p, err)
		}
		if provider.Name() != string(p) {
			t.Errorf("expected name %q, got %q", p, provider.Name())
		}
	}
}

func TestFactoryWrapsRateLimiter(t *testing.T) {
	provider, err := NewProvider(config.LLMConfig{Provider: config.ProviderOllama, Model: "llama3", RequestsPerMinute: 30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := provider.(*RateLimitedProvider); !ok {
		t.Errorf("expected *RateLimitedProvider, got %T", provider)
	}
}

func TestOllamaProviderStripsThinking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message:    ollamaMessage{Role: "assistant", Content: "<think>plan the join</think>\nSELECT 1"},
			Model:      req.Model,
			DoneReason: "stop",
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "qwen")
	resp, err := p.Complete(context.Background(), CompletionRequest{Messages: []Message{UserMessage("q")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "SELECT 1" {
		t.Errorf("expected thinking stripped, got %q", resp.Content)
	}
}

func TestOllamaProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model 'nope' not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "nope").Complete(context.Background(), CompletionRequest{})
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if llmErr.Type != ErrorTypeModel || llmErr.StatusCode != http.StatusNotFound {
		t.Errorf("unexpected classification: %+v", llmErr)
	}
}

func TestRateLimiterPassesThrough(t *testing.T) {
	mock := NewMockProvider("test")
	rl := NewRateLimitedProvider(mock, 60)

	resp, err := rl.Complete(context.Background(), CompletionRequest{Messages: []Message{UserMessage("hello")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "SELECT 1" {
		t.Errorf("expected 'SELECT 1', got %q", resp.Content)
	}
	if rl.Name() != "test" {
		t.Errorf("expected name 'test', got %q", rl.Name())
	}
}

func TestRateLimiterLimitsRequests(t *testing.T) {
	mock := NewMockProvider("test")
	rl := NewRateLimitedProvider(mock, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	req := CompletionRequest{Messages: []Message{UserMessage("hello")}}
	for i := 0; i < 2; i++ {
		if _, err := rl.Complete(ctx, req); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}

	_, err := rl.Complete(ctx, req)
	if err == nil {
		t.Fatal("expected error due to rate limiting + context timeout")
	}
	var llmErr *Error
	if !errors.As(err, &llmErr) || llmErr.Type != ErrorTypeRateLimit {
		t.Errorf("expected rate_limit error, got %v", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hi", 1},
		{"hello world!!", 3},
		{"a longer piece of text that has more characters", 11},
	}

	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}

	msgs := []Message{UserMessage("12345678"), AssistantMessage("1234")}
	if got := EstimateMessagesTokens(msgs); got != 3 {
		t.Errorf("EstimateMessagesTokens = %d, want 3", got)
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]Message{
		SystemMessage("a"),
		UserMessage("q"),
		SystemMessage("b"),
		AssistantMessage("sql"),
	})
	if system != "a\n\nb" {
		t.Errorf("system = %q", system)
	}
	if len(rest) != 2 || rest[0].Role != RoleUser || rest[1].Role != RoleAssistant {
		t.Errorf("unexpected turns: %+v", rest)
	}
}
