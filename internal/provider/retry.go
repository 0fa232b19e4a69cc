package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/fathomlabs/fathom/internal/logging"
)

// RetryingProvider wraps a Provider with bounded retry and exponential
// backoff. When all attempts fail the error wraps ErrDelegateUnavailable,
// which is fatal to the run.
type RetryingProvider struct {
	inner     Provider
	attempts  int
	baseDelay time.Duration
	logger    *logging.Logger

	// sleep is overridable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps a provider with up to attempts tries per Chat call.
func NewRetrying(inner Provider, attempts int, baseDelay time.Duration) *RetryingProvider {
	if attempts < 1 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &RetryingProvider{
		inner:     inner,
		attempts:  attempts,
		baseDelay: baseDelay,
		logger:    logging.GetLogger("provider.retry"),
		sleep:     sleepCtx,
	}
}

// Chat implements Provider.Chat with retry.
func (r *RetryingProvider) Chat(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition) (*Response, error) {
	var lastErr error
	delay := r.baseDelay

	for attempt := 1; attempt <= r.attempts; attempt++ {
		resp, err := r.inner.Chat(ctx, systemPrompt, messages, tools)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}

		if attempt < r.attempts {
			r.logger.WarnWithFields("delegate call failed, retrying",
				logging.Field("attempt", attempt),
				logging.Field("max_attempts", r.attempts),
				logging.Field("backoff", delay.String()),
				logging.Field("error", err.Error()),
			)
			if err := r.sleep(ctx, delay); err != nil {
				break
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("%w: %d attempts failed: %v", ErrDelegateUnavailable, r.attempts, lastErr)
}

// Name implements Provider.Name.
func (r *RetryingProvider) Name() string { return r.inner.Name() }

// Model implements Provider.Model.
func (r *RetryingProvider) Model() string { return r.inner.Model() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
