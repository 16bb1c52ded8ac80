package mock

import (
	"context"

	"github.com/loopsmith/loopsmith/internal/llm"
)

// Provider is a test double implementing llm.Provider.
type Provider struct {
	NameValue string
	ChatFn    func(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)

	// Responses, when set and ChatFn is nil, are returned in order; the last
	// one repeats once exhausted.
	Responses []llm.ChatResponse
	calls     int
}

func (p *Provider) Name() string {
	if p.NameValue != "" {
		return p.NameValue
	}
	return "mock"
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if p.ChatFn != nil {
		return p.ChatFn(ctx, req)
	}
	if len(p.Responses) > 0 {
		idx := p.calls
		if idx >= len(p.Responses) {
			idx = len(p.Responses) - 1
		}
		p.calls++
		return p.Responses[idx], nil
	}
	return llm.ChatResponse{
		Message: llm.ChatMessage{
			Role:    llm.RoleAssistant,
			Content: "mock",
		},
	}, nil
}

// Calls reports how many times Chat was invoked via the Responses path.
func (p *Provider) Calls() int { return p.calls }
