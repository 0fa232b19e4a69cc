package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyProvider struct {
	failures int
	calls    int
}

func (f *flakyProvider) Chat(_ context.Context, _ string, _ []Message, _ []ToolDefinition) (*Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return &Response{Content: "ok", StopReason: StopReasonEndTurn}, nil
}

func (f *flakyProvider) Name() string  { return "flaky" }
func (f *flakyProvider) Model() string { return "flaky-model" }

func newTestRetrying(inner Provider, attempts int) *RetryingProvider {
	r := NewRetrying(inner, attempts, time.Millisecond)
	r.sleep = func(_ context.Context, _ time.Duration) error { return nil }
	return r
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	inner := &flakyProvider{failures: 2}
	r := newTestRetrying(inner, 3)

	resp, err := r.Chat(context.Background(), "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryExhaustionIsDelegateUnavailable(t *testing.T) {
	inner := &flakyProvider{failures: 10}
	r := newTestRetrying(inner, 3)

	_, err := r.Chat(context.Background(), "", nil, nil)
	assert.ErrorIs(t, err, ErrDelegateUnavailable)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	inner := &flakyProvider{failures: 10}
	r := newTestRetrying(inner, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Chat(ctx, "", nil, nil)
	assert.ErrorIs(t, err, ErrDelegateUnavailable)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryDelegatesNameAndModel(t *testing.T) {
	r := newTestRetrying(&flakyProvider{}, 1)
	assert.Equal(t, "flaky", r.Name())
	assert.Equal(t, "flaky-model", r.Model())
}
