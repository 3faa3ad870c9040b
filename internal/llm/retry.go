package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy controls how provider calls are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first (default: 3).
	MaxAttempts int

	// BaseDelay is the delay before the second attempt. Attempt n waits
	// BaseDelay * 2^n (default: 1s).
	BaseDelay time.Duration

	// Logger receives a warning for every failed attempt. Nil means slog.Default().
	Logger *slog.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns 3 attempts with a 1s base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retry runs fn until it succeeds, the attempts are exhausted, ctx is done,
// or the error is not retryable.
// The last error is returned wrapped with the attempt count.
func retry[T any](ctx context.Context, p RetryPolicy, op string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) {
			return zero, fmt.Errorf("%s failed: %w", op, err)
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := p.BaseDelay * time.Duration(1<<attempt)
		p.Logger.Warn("provider call failed, retrying",
			"op", op,
			"attempt", attempt+1,
			"max_attempts", p.MaxAttempts,
			"delay", delay,
			"error", err)
		if err := p.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, p.MaxAttempts, lastErr)
}

// retryable reports whether err may be transient. An open circuit and 4xx
// responses other than 429 are returned at once.
func retryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

type retryingTextGenerator struct {
	next   TextGenerator
	policy RetryPolicy
}

// WithRetry wraps a TextGenerator so that every completion is retried with
// exponential backoff.
func WithRetry(next TextGenerator, policy RetryPolicy) TextGenerator {
	return &retryingTextGenerator{next: next, policy: policy.normalized()}
}

func (r *retryingTextGenerator) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return retry(ctx, r.policy, "completion", func() (string, error) {
		return r.next.Complete(ctx, systemPrompt, userPrompt)
	})
}

func (r *retryingTextGenerator) GetModel() string { return r.next.GetModel() }

type retryingEmbeddingGenerator struct {
	next   EmbeddingGenerator
	policy RetryPolicy
}

// WithEmbeddingRetry is WithRetry for embedding providers.
func WithEmbeddingRetry(next EmbeddingGenerator, policy RetryPolicy) EmbeddingGenerator {
	return &retryingEmbeddingGenerator{next: next, policy: policy.normalized()}
}

func (r *retryingEmbeddingGenerator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return retry(ctx, r.policy, "embedding", func() ([][]float32, error) {
		return r.next.Embed(ctx, texts)
	})
}

func (r *retryingEmbeddingGenerator) GetModel() string { return r.next.GetModel() }
func (r *retryingEmbeddingGenerator) Dimension() int   { return r.next.Dimension() }
