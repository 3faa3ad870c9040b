package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/YimingShu-teay/TraceMem/internal/dataset"
	"github.com/YimingShu-teay/TraceMem/internal/extract"
	"github.com/YimingShu-teay/TraceMem/internal/memory"
	"github.com/YimingShu-teay/TraceMem/internal/segment"
	"github.com/YimingShu-teay/TraceMem/pkg/types"
)

// Pipeline ingests conversations: segment each session, extract records per
// topic span and write them to memory.
type Pipeline struct {
	segmenter *segment.Segmenter
	extractor *extract.Extractor
	mem       *memory.Store
	logger    *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(seg *segment.Segmenter, ext *extract.Extractor, mem *memory.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{segmenter: seg, extractor: ext, mem: mem, logger: logger}
}

// Ingest writes every session of the sample to memory. Each span is a unit in
// spans; a failed span is recorded and its siblings continue. The returned
// error is non-nil when the context was cancelled or any unit failed.
func (p *Pipeline) Ingest(ctx context.Context, sample *dataset.Sample, spans *Report) error {
	roles := sample.Roles()
	failed := 0
	for _, session := range sample.Sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.IngestSession(ctx, roles, session, spans)
		if err != nil {
			p.logger.Error("failed to segment session", "roles", roles, "session", session.Name, "error", err)
			spans.Fail(fmt.Sprintf("%s/%s", roles, session.Name), err)
			failed++
			continue
		}
		failed += n
	}
	if failed > 0 {
		return fmt.Errorf("%d units of %s failed", failed, roles)
	}
	p.logger.Info("conversation ingested", "roles", roles, "sessions", len(sample.Sessions))
	return nil
}

// IngestSession segments one session and writes each span's records. It
// returns the number of failed spans; the error is reserved for a failed
// segmentation call, which loses the whole session.
func (p *Pipeline) IngestSession(ctx context.Context, roles string, session types.Session, spans *Report) (int, error) {
	topicSpans, err := p.segmenter.Segment(ctx, session)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, span := range topicSpans {
		unit := fmt.Sprintf("%s/%s[%d-%d]", roles, session.Name, span.Start, span.End)
		added, err := p.ingestSpan(ctx, roles, session, span)
		if err != nil {
			p.logger.Error("failed to ingest span", "unit", unit, "error", err)
			spans.Fail(unit, err)
			failed++
			continue
		}
		p.logger.Debug("span ingested", "unit", unit, "records", added)
		spans.Success(unit)
	}
	return failed, nil
}

func (p *Pipeline) ingestSpan(ctx context.Context, roles string, session types.Session, span types.TopicSpan) (int, error) {
	recs, err := p.extractor.Process(ctx, roles, session, span)
	if err != nil {
		return 0, err
	}
	added, err := p.mem.AddAll(ctx, recs.Records())
	if err != nil {
		return 0, fmt.Errorf("failed to store span records: %w", err)
	}
	return added, nil
}
