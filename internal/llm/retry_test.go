package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type flakyProvider struct {
	failures int
	calls    int
	err      error
}

func (p *flakyProvider) Name() string { return "flaky" }

func (p *flakyProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	p.calls++
	if p.calls <= p.failures {
		return ChatResponse{}, p.err
	}
	return ChatResponse{Message: ChatMessage{Role: RoleAssistant, Content: "recovered"}}, nil
}

func TestChatWithRetryRecoversFromTransient(t *testing.T) {
	p := &flakyProvider{failures: 2, err: Transient(errors.New("connection reset"))}
	b := Backoff{Attempts: 3, InitialDelay: time.Millisecond}

	resp, err := ChatWithRetry(context.Background(), p, ChatRequest{Model: "m"}, b, nil)
	require.NoError(t, err)
	require.Equal(t, "recovered", resp.Message.Content)
	require.Equal(t, 3, p.calls)
}

func TestChatWithRetryExhaustsAttempts(t *testing.T) {
	p := &flakyProvider{failures: 10, err: Transient(errors.New("gateway timeout"))}
	b := Backoff{Attempts: 3, InitialDelay: time.Millisecond}

	_, err := ChatWithRetry(context.Background(), p, ChatRequest{Model: "m"}, b, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 3 attempts")
	require.Equal(t, 3, p.calls)
}

func TestChatWithRetryStopsOnPermanentError(t *testing.T) {
	p := &flakyProvider{failures: 10, err: errors.New("invalid api key")}
	b := Backoff{Attempts: 3, InitialDelay: time.Millisecond}

	_, err := ChatWithRetry(context.Background(), p, ChatRequest{Model: "m"}, b, nil)
	require.Error(t, err)
	require.Equal(t, 1, p.calls, "permanent errors should not be retried")
}

func TestChatWithRetryHonoursCancellation(t *testing.T) {
	p := &flakyProvider{failures: 10, err: Transient(errors.New("slow upstream"))}
	b := Backoff{Attempts: 5, InitialDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ChatWithRetry(ctx, p, ChatRequest{Model: "m"}, b, nil)
	require.ErrorIs(t, err, context.Canceled)
}
