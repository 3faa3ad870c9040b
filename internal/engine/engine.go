package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/YimingShu-teay/TraceMem/internal/card"
	"github.com/YimingShu-teay/TraceMem/internal/dataset"
	"github.com/YimingShu-teay/TraceMem/internal/router"
	"github.com/YimingShu-teay/TraceMem/pkg/types"
)

// Engine runs the ingest, build and answer stages over datasets.
type Engine struct {
	config   Config
	pipeline *Pipeline
	builder  *card.Builder
	router   *router.Router
	pool     *Pool
	logger   *slog.Logger
}

// New creates an Engine. Use DefaultConfig() for sensible defaults.
func New(pipeline *Pipeline, builder *card.Builder, r *router.Router, cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:   cfg,
		pipeline: pipeline,
		builder:  builder,
		router:   r,
		pool:     NewPool(cfg.Workers, logger),
		logger:   logger,
	}, nil
}

// Router returns the question router, for answering single questions.
func (e *Engine) Router() *router.Router { return e.router }

// Ingest writes every sample into memory, one conversation per task. It
// returns the per-conversation report and the per-span report.
func (e *Engine) Ingest(ctx context.Context, samples []dataset.Sample) (conversations, spans *Report) {
	spans = &Report{}
	tasks := make([]Task, len(samples))
	for i := range samples {
		s := &samples[i]
		tasks[i] = Task{Name: s.Name(), Run: func(ctx context.Context) error {
			return e.pipeline.Ingest(ctx, s, spans)
		}}
	}
	return e.pool.Run(ctx, tasks), spans
}

// BuildCards builds the cards of both speakers of a pair, speaker B first.
// A speaker without experiences is skipped with a warning.
func (e *Engine) BuildCards(ctx context.Context, pair router.Pair) ([]*types.Card, error) {
	roles := pair.Roles()
	var (
		cards []*types.Card
		errs  []error
	)
	for _, speaker := range []string{pair.B, pair.A} {
		c, _, err := e.builder.Build(ctx, roles, speaker)
		switch {
		case errors.Is(err, card.ErrEmptyCollection):
			e.logger.Warn("no experiences, skipping card", "roles", roles, "speaker", speaker)
		case err != nil:
			errs = append(errs, fmt.Errorf("failed to build card for %s: %w", speaker, err))
		default:
			cards = append(cards, c)
		}
	}
	return cards, errors.Join(errs...)
}

// Build builds both cards of every sample, one conversation per task.
func (e *Engine) Build(ctx context.Context, samples []dataset.Sample) *Report {
	tasks := make([]Task, len(samples))
	for i := range samples {
		s := &samples[i]
		tasks[i] = Task{Name: s.Name(), Run: func(ctx context.Context) error {
			cards, err := e.BuildCards(ctx, router.Pair{A: s.SpeakerA, B: s.SpeakerB})
			if err == nil {
				e.logger.Info("cards built", "roles", s.Roles(), "cards", len(cards))
			}
			return err
		}}
	}
	return e.pool.Run(ctx, tasks)
}

// AnswerSample answers every non-adversarial question of a sample. A failed
// question is recorded in questions and its answer holds the error text.
func (e *Engine) AnswerSample(ctx context.Context, s *dataset.Sample, questions *Report) []dataset.ResultItem {
	pair := router.Pair{A: s.SpeakerA, B: s.SpeakerB}
	items := []dataset.ResultItem{}
	for i, qa := range s.QA {
		if qa.Category == dataset.AdversarialCategory {
			continue
		}
		unit := fmt.Sprintf("%s/q%d", s.Name(), i)
		item := dataset.ResultItem{
			Question: qa.Question,
			GTAnswer: qa.Answer,
			Category: qa.Category,
			Evidence: qa.Evidence,
		}
		ans, err := e.router.Answer(ctx, qa.Question, pair)
		if err != nil {
			e.logger.Error("failed to answer question", "unit", unit, "error", err)
			item.TraceMemAnswer = fmt.Sprintf("Error: %v", err)
			questions.Fail(unit, err)
		} else {
			item.TraceMemAnswer = ans.Text
			questions.Success(unit)
		}
		if item.Evidence == nil {
			item.Evidence = []string{}
		}
		items = append(items, item)
	}
	return items
}

// Answer answers every sample and saves results after each conversation.
// It returns the per-conversation and per-question reports.
func (e *Engine) Answer(ctx context.Context, samples []dataset.Sample, results *dataset.Results) (conversations, questions *Report) {
	questions = &Report{}
	tasks := make([]Task, len(samples))
	for i := range samples {
		s := &samples[i]
		tasks[i] = Task{Name: s.Name(), Run: func(ctx context.Context) error {
			results.Set(s.Index, e.AnswerSample(ctx, s, questions))
			if err := results.Save(); err != nil {
				return err
			}
			return ctx.Err()
		}}
	}
	return e.pool.Run(ctx, tasks), questions
}
