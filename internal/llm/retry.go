package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backoff controls retry behaviour for transient backend failures.
type Backoff struct {
	Attempts     int           // total attempts including the first
	InitialDelay time.Duration // delay before the second attempt; doubles each retry
	OnRetry      func()        // invoked once per retry, for instrumentation
}

// DefaultBackoff matches the runtime defaults (3 attempts, 500ms initial delay).
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 3, InitialDelay: 500 * time.Millisecond}
}

// ChatWithRetry calls the provider, retrying on TransientError with exponential
// backoff. Non-transient errors and context cancellation return immediately.
func ChatWithRetry(ctx context.Context, p Provider, req ChatRequest, b Backoff, logger *zap.Logger) (ChatResponse, error) {
	if p == nil {
		return ChatResponse{}, errors.New("provider is required")
	}
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := b.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var transient *TransientError
		if !errors.As(err, &transient) {
			return ChatResponse{}, err
		}
		if attempt == attempts {
			break
		}

		if b.OnRetry != nil {
			b.OnRetry()
		}
		if logger != nil {
			logger.Warn("model backend transient failure, retrying",
				zap.String("provider", p.Name()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ChatResponse{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return ChatResponse{}, fmt.Errorf("model backend failed after %d attempts: %w", attempts, lastErr)
}
