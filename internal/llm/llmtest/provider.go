// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/ziadkadry99/askdb/internal/llm"
)

// Provider records every request and replies from a script. When the script
// runs out the last reply is repeated. Err, when set, is returned instead.
type Provider struct {
	mu      sync.Mutex
	Calls   []llm.CompletionRequest
	Replies []string
	Err     error
}

// New returns a Provider that answers with replies in order.
func New(replies ...string) *Provider {
	return &Provider{Replies: replies}
}

func (p *Provider) Name() string { return "scripted" }

func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return nil, p.Err
	}

	var content string
	if n := len(p.Replies); n > 0 {
		idx := len(p.Calls) - 1
		if idx >= n {
			idx = n - 1
		}
		content = p.Replies[idx]
	}
	return &llm.CompletionResponse{Content: content, Model: "scripted", FinishReason: "stop"}, nil
}

// CallCount returns how many completions were requested.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastMessages returns the messages of the most recent request.
func (p *Provider) LastMessages() []llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return nil
	}
	return p.Calls[len(p.Calls)-1].Messages
}
