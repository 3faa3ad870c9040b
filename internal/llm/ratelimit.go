package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// NewLimiter creates a token bucket allowing reqPerSec sustained requests with
// the given burst. A non-positive rate disables limiting and returns nil.
func NewLimiter(reqPerSec float64, burst int) *rate.Limiter {
	if reqPerSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(reqPerSec), burst)
}

type rateLimitedTextGenerator struct {
	next    TextGenerator
	limiter *rate.Limiter
}

// WithRateLimit makes every completion wait for a token from limiter.
// A nil limiter returns next unchanged.
func WithRateLimit(next TextGenerator, limiter *rate.Limiter) TextGenerator {
	if limiter == nil {
		return next
	}
	return &rateLimitedTextGenerator{next: next, limiter: limiter}
}

func (r *rateLimitedTextGenerator) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return r.next.Complete(ctx, systemPrompt, userPrompt)
}

func (r *rateLimitedTextGenerator) GetModel() string { return r.next.GetModel() }

type rateLimitedEmbeddingGenerator struct {
	next    EmbeddingGenerator
	limiter *rate.Limiter
}

// WithEmbeddingRateLimit is WithRateLimit for embedding providers.
func WithEmbeddingRateLimit(next EmbeddingGenerator, limiter *rate.Limiter) EmbeddingGenerator {
	if limiter == nil {
		return next
	}
	return &rateLimitedEmbeddingGenerator{next: next, limiter: limiter}
}

func (r *rateLimitedEmbeddingGenerator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return r.next.Embed(ctx, texts)
}

func (r *rateLimitedEmbeddingGenerator) GetModel() string { return r.next.GetModel() }
func (r *rateLimitedEmbeddingGenerator) Dimension() int   { return r.next.Dimension() }
