// Package segment splits a conversation session into topic spans.
//
// One completion labels every utterance as opening a new topic or developing
// the current one and extracts the semantic facts it carries. The labels are
// then folded left to right into contiguous, covering spans.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/YimingShu-teay/TraceMem/internal/llm"
	"github.com/YimingShu-teay/TraceMem/pkg/types"
)

// Segmenter labels sessions through a TextGenerator.
type Segmenter struct {
	llm    llm.TextGenerator
	logger *slog.Logger
}

// New creates a Segmenter.
func New(gen llm.TextGenerator, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{llm: gen, logger: logger}
}

// Prompt renders the segmentation input for session. Utterances with nothing
// to display are left out but keep their position number.
func Prompt(session types.Session) string {
	lines := []string{"Current Time: " + session.Timestamp()}
	for i, u := range session.Utterances {
		display := u.Display()
		if display == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("<D%d>%s: %s</D%d>", i+1, u.Speaker, display, i+1))
	}
	return strings.Join(lines, "\n")
}

// Segment returns the topic spans of session. A provider error fails the
// session. A reply that cannot be parsed is logged and the whole session
// becomes one span without facts.
func (s *Segmenter) Segment(ctx context.Context, session types.Session) ([]types.TopicSpan, error) {
	n := len(session.Utterances)
	if n == 0 {
		return nil, nil
	}

	raw, err := s.llm.Complete(ctx, llm.SegmentSystemPrompt, Prompt(session))
	if err != nil {
		return nil, fmt.Errorf("failed to segment %s: %w", session.Name, err)
	}

	labels, err := llm.ParseSegmentation(raw, n)
	if err != nil {
		var pe *llm.ParseError
		if !errors.As(err, &pe) {
			return nil, err
		}
		s.logger.Warn("segment: unparsable reply, keeping session as one topic",
			"session", session.Name, "error", err)
		labels = nil
	}

	spans := Fold(session.Utterances, labels)
	s.logger.Debug("segment: session segmented", "session", session.Name, "utterances", n, "spans", len(spans))
	return spans, nil
}

// span accumulates the open topic while folding.
type span struct {
	start int
	facts []types.SpeakerFacts
}

func (a *span) addFact(speaker, fact string) {
	for i := range a.facts {
		if a.facts[i].Speaker == speaker {
			a.facts[i].Facts = append(a.facts[i].Facts, fact)
			return
		}
	}
	a.facts = append(a.facts, types.SpeakerFacts{Speaker: speaker, Facts: []string{fact}})
}

func (a *span) close(end int) types.TopicSpan {
	return types.TopicSpan{Start: a.start, End: end, Facts: a.facts}
}

// Fold turns per-position labels into spans. Positions without a label
// develop the current topic. A topic change at position i > start closes
// [start, i-1] and opens a new span at i; the last span ends at the final
// utterance. The result is sorted, non-overlapping and covers every position.
func Fold(utterances []types.Utterance, labels map[int]llm.SegmentLabel) []types.TopicSpan {
	n := len(utterances)
	if n == 0 {
		return nil
	}

	var spans []types.TopicSpan
	acc := &span{start: 0}
	for i := 0; i < n; i++ {
		label, ok := labels[i]
		if ok && label.Intent == llm.IntentChangeTopic && i > acc.start {
			spans = append(spans, acc.close(i-1))
			acc = &span{start: i}
		}
		if ok && label.Semantic != "" {
			acc.addFact(utterances[i].Speaker, label.Semantic)
		}
	}
	return append(spans, acc.close(n-1))
}
