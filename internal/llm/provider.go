package llm

import "context"

// Provider is the language model endpoint: it takes a system/user/assistant
// conversation and returns a single text completion.
type Provider interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Name returns the name of this provider.
	Name() string
}

// Submit sends msgs to p and returns only the completion text. Transport
// failures come back classified as *Error.
func Submit(ctx context.Context, p Provider, msgs []Message, opts CompletionRequest) (string, error) {
	opts.Messages = msgs
	resp, err := p.Complete(ctx, opts)
	if err != nil {
		return "", ClassifyError(err)
	}
	return resp.Content, nil
}
