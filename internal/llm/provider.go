// Package llm wraps the language model used for context analysis and
// suggestion generation.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/lexiqai/consult-gateway/internal/observability"
	"github.com/lexiqai/consult-gateway/internal/resilience"
)

// ErrEmptyCompletion is returned when the model answers with no text
var ErrEmptyCompletion = errors.New("empty completion")

// Prompt is a single-turn request. Purpose labels metrics and logs.
type Prompt struct {
	Purpose string
	System  string
	User    string
}

// Provider completes prompts. The returned text is untrusted: it is
// expected to carry a JSON payload but may be malformed.
type Provider interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Resilient bounds every call with a timeout and a circuit breaker and
// retries once immediately. It never retries indefinitely.
type Resilient struct {
	inner   Provider
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
}

// NewResilient wraps inner
func NewResilient(inner Provider, timeout time.Duration, breaker *resilience.CircuitBreaker) *Resilient {
	return &Resilient{
		inner:   inner,
		timeout: timeout,
		breaker: breaker,
		retry:   resilience.RetryOnceImmediately(),
	}
}

// Complete implements Provider
func (r *Resilient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	start := time.Now()
	text, err := resilience.RetryWithResult(ctx, r.retry, retryable, func(ctx context.Context) (string, error) {
		call := func() (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			out, err := r.inner.Complete(callCtx, prompt)
			if err == nil && out == "" {
				err = ErrEmptyCompletion
			}
			return out, err
		}
		if r.breaker == nil {
			return call()
		}
		return resilience.Execute(r.breaker, call)
	})
	observability.ObserveLLM(prompt.Purpose, start, err == nil)
	return text, err
}

func retryable(err error) bool {
	return !errors.Is(err, resilience.ErrCircuitOpen) && !errors.Is(err, context.Canceled)
}
