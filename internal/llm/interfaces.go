// Package llm provides the text-completion and embedding collaborators used by
// the memory pipeline, together with the retry, rate-limit, batching and
// circuit-breaker layers that wrap every provider call.
package llm

import "context"

// TextGenerator is the interface for LLM text completion.
// Every pipeline prompt is a (system, user) pair.
type TextGenerator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
// Embed returns one vector per input text, in input order.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	GetModel() string
	Dimension() int
}

// DimensionForModel returns the known output dimension of an embedding model.
// Unknown models report 1536.
func DimensionForModel(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "nomic-embed-text":
		return 768
	default:
		return 1536
	}
}
