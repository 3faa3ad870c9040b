package llm

import (
	"context"
	"fmt"
	"strings"
)

// DefaultEmbeddingBatchSize is the number of texts sent per embedding request.
const DefaultEmbeddingBatchSize = 100

type batchingEmbeddingGenerator struct {
	next EmbeddingGenerator
	size int
}

// WithBatching splits Embed calls into requests of at most size texts and
// replaces newlines with spaces. It should wrap the retry layer so that a
// failing batch is retried on its own.
func WithBatching(next EmbeddingGenerator, size int) EmbeddingGenerator {
	if size <= 0 {
		size = DefaultEmbeddingBatchSize
	}
	return &batchingEmbeddingGenerator{next: next, size: size}
}

func (b *batchingEmbeddingGenerator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.size {
		end := min(start+b.size, len(texts))
		batch := make([]string, end-start)
		for i, t := range texts[start:end] {
			batch[i] = strings.ReplaceAll(t, "\n", " ")
		}
		vecs, err := b.next.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedding batch %d-%d: got %d vectors for %d texts", start, end-1, len(vecs), len(batch))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (b *batchingEmbeddingGenerator) GetModel() string { return b.next.GetModel() }
func (b *batchingEmbeddingGenerator) Dimension() int   { return b.next.Dimension() }
