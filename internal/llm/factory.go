package llm

import (
	"fmt"
	"log/slog"

	"github.com/YimingShu-teay/TraceMem/internal/config"
)

// NewTextGenerator builds the completion provider named by cfg and wraps it
// in rate limiting and retry. The provider itself carries the circuit breaker.
func NewTextGenerator(cfg config.LLMConfig, logger *slog.Logger) (TextGenerator, error) {
	var base TextGenerator
	switch cfg.Provider {
	case "openai":
		base = NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
		})
	case "anthropic":
		base = NewAnthropicClient(AnthropicConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
		})
	case "ollama":
		base = NewOllamaClient(OllamaConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}

	limited := WithRateLimit(base, NewLimiter(cfg.RequestsPerSecond, 1))
	return WithRetry(limited, retryPolicy(cfg, logger)), nil
}

// NewEmbeddingGenerator builds the embedding provider named by
// cfg.EmbeddingProvider. The stack, outermost first, is batching, retry,
// rate limiting, then the provider with its circuit breaker.
func NewEmbeddingGenerator(cfg config.LLMConfig, logger *slog.Logger) (EmbeddingGenerator, error) {
	var base EmbeddingGenerator
	switch cfg.EmbeddingProvider {
	case "openai", "":
		base = NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:    cfg.EmbeddingAPIKey,
			Model:     cfg.EmbeddingModel,
			BaseURL:   embeddingBaseURL(cfg, "openai"),
			Dimension: cfg.EmbeddingDimension,
		})
	case "ollama":
		model := cfg.EmbeddingModel
		if model == "" || model == "text-embedding-3-small" {
			model = "nomic-embed-text"
		}
		base = NewOllamaClient(OllamaConfig{
			BaseURL:   embeddingBaseURL(cfg, "ollama"),
			Model:     model,
			Dimension: cfg.EmbeddingDimension,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.EmbeddingProvider)
	}

	limited := WithEmbeddingRateLimit(base, NewLimiter(cfg.RequestsPerSecond, 1))
	retried := WithEmbeddingRetry(limited, retryPolicy(cfg, logger))
	return WithBatching(retried, cfg.EmbeddingBatchSize), nil
}

// embeddingBaseURL reuses BaseURL only when completions and embeddings share a provider.
func embeddingBaseURL(cfg config.LLMConfig, provider string) string {
	if cfg.Provider == provider {
		return cfg.BaseURL
	}
	return ""
}

func retryPolicy(cfg config.LLMConfig, logger *slog.Logger) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryDelay,
		Logger:      logger,
	}
}
