// Package extract turns topic spans into typed memory records: one episode
// summary per span, the span's semantic facts, and a first-person experience
// for each speaker that contributed facts.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/YimingShu-teay/TraceMem/internal/llm"
	"github.com/YimingShu-teay/TraceMem/pkg/types"
)

// SpanRecords are the records derived from one topic span.
type SpanRecords struct {
	Episode     *types.Episode
	Facts       []*types.SemanticFact
	Experiences []*types.Experience
}

// Records returns every record, episode first.
func (r SpanRecords) Records() []types.Record {
	out := make([]types.Record, 0, 1+len(r.Facts)+len(r.Experiences))
	if r.Episode != nil {
		out = append(out, r.Episode)
	}
	for _, f := range r.Facts {
		out = append(out, f)
	}
	for _, x := range r.Experiences {
		out = append(out, x)
	}
	return out
}

// SpeakerExperience is the raw experience text extracted for one speaker.
type SpeakerExperience struct {
	Speaker    string
	Experience string
}

// Extractor calls the completion provider for summaries and experiences.
type Extractor struct {
	llm    llm.TextGenerator
	logger *slog.Logger
}

// New creates an Extractor.
func New(gen llm.TextGenerator, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llm: gen, logger: logger}
}

// SummaryPrompt renders the episode prompt for the utterances of a span.
func SummaryPrompt(timestamp string, utterances []types.Utterance) string {
	if timestamp == "" {
		timestamp = "Unknown"
	}
	lines := []string{"Current Time: " + timestamp}
	for _, u := range utterances {
		lines = append(lines, u.Speaker+": "+u.Content())
	}
	return strings.Join(lines, "\n")
}

// Summarize writes the episode summary of span. An empty reply is an error.
func (e *Extractor) Summarize(ctx context.Context, session types.Session, span types.TopicSpan) (string, error) {
	if span.Start < 0 || span.End >= len(session.Utterances) || span.Start > span.End {
		return "", fmt.Errorf("span [%d, %d] is outside %s", span.Start, span.End, session.Name)
	}
	prompt := SummaryPrompt(session.RawTimestamp, session.Utterances[span.Start:span.End+1])
	summary, err := e.llm.Complete(ctx, llm.EpisodeSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to summarize span [%d, %d]: %w", span.Start, span.End, err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("empty summary for span [%d, %d]", span.Start, span.End)
	}
	return summary, nil
}

// ExtractFacts builds one semantic fact per extracted statement, owned by the
// pair-scoped speaker and linked to episode.
func ExtractFacts(roles string, span types.TopicSpan, episode *types.Episode) []*types.SemanticFact {
	var facts []*types.SemanticFact
	for _, sf := range span.Facts {
		owner := types.SpeakerOwner(roles, sf.Speaker)
		for _, content := range sf.Facts {
			facts = append(facts, types.NewSemanticFact(owner, content, episode.ID, episode.Timestamp))
		}
	}
	return facts
}

// ExperiencePrompt renders the persona prompt for one speaker of a span.
func ExperiencePrompt(speaker, summary string, facts []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Speaker: %s\n**Episode Summary**: %s\n**Labeled Semantic Memories**:", speaker, summary)
	for _, f := range facts {
		fmt.Fprintf(&sb, "\n - %s: %s", speaker, f)
	}
	return sb.String()
}

// ExtractExperiences asks for the experience of every speaker with facts in
// span, in first-fact order. A reply that cannot be parsed counts as the
// sentinel; a provider error fails the span.
func (e *Extractor) ExtractExperiences(ctx context.Context, span types.TopicSpan, summary string) ([]SpeakerExperience, error) {
	out := make([]SpeakerExperience, 0, len(span.Facts))
	for _, sf := range span.Facts {
		if len(sf.Facts) == 0 {
			continue
		}
		raw, err := e.llm.Complete(ctx, llm.ExperienceSystemPrompt, ExperiencePrompt(sf.Speaker, summary, sf.Facts))
		if err != nil {
			return nil, fmt.Errorf("failed to extract experience for %s: %w", sf.Speaker, err)
		}
		experience, err := llm.ParseExperience(raw)
		if err != nil {
			var pe *llm.ParseError
			if !errors.As(err, &pe) {
				return nil, err
			}
			e.logger.Warn("extract: unparsable experience, treating as N/A", "speaker", sf.Speaker, "error", err)
			experience = types.ExperienceSentinel
		}
		out = append(out, SpeakerExperience{Speaker: sf.Speaker, Experience: experience})
	}
	return out, nil
}

// Assemble builds the records of a span. Sentinel and empty experiences are dropped.
func Assemble(roles, timestamp string, span types.TopicSpan, summary string, experiences []SpeakerExperience) SpanRecords {
	episode := types.NewEpisode(roles, summary, timestamp)
	recs := SpanRecords{
		Episode: episode,
		Facts:   ExtractFacts(roles, span, episode),
	}
	for _, x := range experiences {
		content := strings.TrimSpace(x.Experience)
		if content == "" || content == types.ExperienceSentinel {
			continue
		}
		owner := types.SpeakerOwner(roles, x.Speaker)
		recs.Experiences = append(recs.Experiences, types.NewExperience(owner, content, episode.ID, timestamp))
	}
	return recs
}

// Process runs Summarize, ExtractExperiences and Assemble for one span.
func (e *Extractor) Process(ctx context.Context, roles string, session types.Session, span types.TopicSpan) (SpanRecords, error) {
	summary, err := e.Summarize(ctx, session, span)
	if err != nil {
		return SpanRecords{}, err
	}
	experiences, err := e.ExtractExperiences(ctx, span, summary)
	if err != nil {
		return SpanRecords{}, err
	}
	return Assemble(roles, session.RawTimestamp, span, summary, experiences), nil
}
