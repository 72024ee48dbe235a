package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/consult-gateway/internal/resilience"
)

type fakeProvider struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int32) (string, error)
}

func (f *fakeProvider) Complete(ctx context.Context, _ Prompt) (string, error) {
	return f.fn(ctx, f.calls.Add(1))
}

func TestResilient_RetriesOnce(t *testing.T) {
	p := &fakeProvider{fn: func(_ context.Context, call int32) (string, error) {
		if call == 1 {
			return "", errors.New("connection reset")
		}
		return `{"ok":true}`, nil
	}}
	r := NewResilient(p, time.Second, nil)

	out, err := r.Complete(context.Background(), Prompt{Purpose: "test", User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestResilient_GivesUpAfterSecondFailure(t *testing.T) {
	p := &fakeProvider{fn: func(context.Context, int32) (string, error) {
		return "", errors.New("503 service unavailable")
	}}
	r := NewResilient(p, time.Second, nil)

	_, err := r.Complete(context.Background(), Prompt{Purpose: "test"})
	assert.Error(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestResilient_TimeoutBoundsEachCall(t *testing.T) {
	p := &fakeProvider{fn: func(ctx context.Context, _ int32) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	r := NewResilient(p, 20*time.Millisecond, nil)

	start := time.Now()
	_, err := r.Complete(context.Background(), Prompt{Purpose: "test"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestResilient_EmptyCompletionIsAnError(t *testing.T) {
	p := &fakeProvider{fn: func(context.Context, int32) (string, error) { return "", nil }}
	r := NewResilient(p, time.Second, nil)

	_, err := r.Complete(context.Background(), Prompt{Purpose: "test"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestResilient_OpenBreakerShortCircuits(t *testing.T) {
	p := &fakeProvider{fn: func(context.Context, int32) (string, error) {
		return "", errors.New("boom")
	}}
	cb := resilience.NewCircuitBreaker("llm-test", 1, time.Minute)
	r := NewResilient(p, time.Second, cb)

	_, err := r.Complete(context.Background(), Prompt{Purpose: "test"})
	require.Error(t, err)
	assert.Equal(t, int32(1), p.calls.Load(), "breaker opened after the first failure, retry is refused")

	_, err = r.Complete(context.Background(), Prompt{Purpose: "test"})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(1), p.calls.Load())
}
