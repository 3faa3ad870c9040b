// Package llmtest provides deterministic stand-ins for the llm collaborators.
package llmtest

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/YimingShu-teay/TraceMem/internal/llm"
)

// Responder produces a completion for a user prompt.
type Responder func(userPrompt string) (string, error)

// Call records one Complete invocation.
type Call struct {
	System string
	User   string
}

// ScriptedGenerator answers completions by looking up the system prompt.
// Queued replies are consumed first; after that the responder, if any, is used.
type ScriptedGenerator struct {
	mu         sync.Mutex
	queues     map[string][]string
	responders map[string]Responder
	calls      []Call
}

// NewScriptedGenerator creates an empty script.
func NewScriptedGenerator() *ScriptedGenerator {
	return &ScriptedGenerator{
		queues:     make(map[string][]string),
		responders: make(map[string]Responder),
	}
}

// On registers fn for every completion with the given system prompt.
func (g *ScriptedGenerator) On(system string, fn Responder) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responders[system] = fn
	return g
}

// Always is On with a constant reply.
func (g *ScriptedGenerator) Always(system, reply string) *ScriptedGenerator {
	return g.On(system, func(string) (string, error) { return reply, nil })
}

// Queue appends replies that are returned in order for the given system prompt.
func (g *ScriptedGenerator) Queue(system string, replies ...string) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queues[system] = append(g.queues[system], replies...)
	return g
}

// Complete implements llm.TextGenerator.
func (g *ScriptedGenerator) Complete(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	g.calls = append(g.calls, Call{System: system, User: user})
	if q := g.queues[system]; len(q) > 0 {
		g.queues[system] = q[1:]
		g.mu.Unlock()
		return q[0], nil
	}
	fn := g.responders[system]
	g.mu.Unlock()

	if fn == nil {
		return "", fmt.Errorf("llmtest: no scripted reply for system prompt %q", llm.Truncate(system, 40))
	}
	return fn(user)
}

// GetModel implements llm.TextGenerator.
func (g *ScriptedGenerator) GetModel() string { return "scripted" }

// Calls returns a copy of every recorded call.
func (g *ScriptedGenerator) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallsFor returns the user prompts sent with the given system prompt.
func (g *ScriptedGenerator) CallsFor(system string) []string {
	var out []string
	for _, c := range g.Calls() {
		if c.System == system {
			out = append(out, c.User)
		}
	}
	return out
}

// HashEmbedder is a deterministic bag-of-words embedder. Texts that share
// words get similar vectors, which is enough for retrieval tests.
type HashEmbedder struct {
	Dim int

	mu    sync.Mutex
	calls int
	// Fail, when set, is returned by every Embed call.
	Fail error
}

// NewHashEmbedder creates a HashEmbedder of the given dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim}
}

// Embed implements llm.EmbeddingGenerator.
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.calls++
	fail := h.Fail
	h.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

// EmbedCalls returns how many times Embed was called.
func (h *HashEmbedder) EmbedCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		v[int(f.Sum32()%uint32(h.Dim))] += 1
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

// GetModel implements llm.EmbeddingGenerator.
func (h *HashEmbedder) GetModel() string { return "hash" }

// Dimension implements llm.EmbeddingGenerator.
func (h *HashEmbedder) Dimension() int { return h.Dim }

var (
	_ llm.TextGenerator      = (*ScriptedGenerator)(nil)
	_ llm.EmbeddingGenerator = (*HashEmbedder)(nil)
)
