// Package router answers questions against built memory.
//
// Routing runs in two stages. The model first picks whose cards a question
// needs, then picks threads from those cards. The chosen threads and the
// nearest episodes of the pair form the context for the final answer.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/YimingShu-teay/TraceMem/internal/card"
	"github.com/YimingShu-teay/TraceMem/internal/llm"
	"github.com/YimingShu-teay/TraceMem/internal/memory"
	"github.com/YimingShu-teay/TraceMem/pkg/types"
)

const (
	// DefaultEpisodeTopK is the number of episodes retrieved per question.
	DefaultEpisodeTopK = 20

	// maxThreadsPerSpeaker caps the threads kept from one search reply.
	maxThreadsPerSpeaker = 10
)

// Pair is the two speakers of a conversation, in dataset order.
type Pair struct {
	A, B string
}

// Roles returns the pair's owner id.
func (p Pair) Roles() string { return types.Roles(p.A, p.B) }

// Speakers returns both speakers.
func (p Pair) Speakers() []string { return []string{p.A, p.B} }

// Answer is the result of one question.
type Answer struct {
	Text      string
	Speakers  []string            // Speakers whose cards were consulted
	ThreadIDs map[string][]string // Threads used per speaker
	Episodes  []string            // Episode summaries used as grounding
}

// Options tunes retrieval.
type Options struct {
	EpisodeTopK    int  // Episodes per question; zero means DefaultEpisodeTopK
	HybridEpisodes bool // Fuse keyword and vector ranking for episodes
}

// Router answers questions for speaker pairs.
type Router struct {
	llm    llm.TextGenerator
	mem    *memory.Store
	cards  *card.FileStore
	opts   Options
	logger *slog.Logger
}

// New creates a Router.
func New(gen llm.TextGenerator, mem *memory.Store, cards *card.FileStore, opts Options, logger *slog.Logger) *Router {
	if opts.EpisodeTopK <= 0 {
		opts.EpisodeTopK = DefaultEpisodeTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{llm: gen, mem: mem, cards: cards, opts: opts, logger: logger}
}

// Answer routes question through the pair's cards and synthesises an answer.
func (r *Router) Answer(ctx context.Context, question string, pair Pair) (*Answer, error) {
	selected, err := r.ChooseSpeakers(ctx, question, pair)
	if err != nil {
		return nil, err
	}

	cards := make(map[string]*types.Card, len(selected))
	var loaded []string
	for _, speaker := range selected {
		c, err := r.cards.LoadCard(pair.Roles(), speaker)
		if err != nil {
			r.logger.Warn("router: card unavailable, skipping", "roles", pair.Roles(), "speaker", speaker, "error", err)
			continue
		}
		cards[speaker] = c
		loaded = append(loaded, speaker)
	}

	threadIDs, err := r.SelectThreads(ctx, question, loaded, cards)
	if err != nil {
		return nil, err
	}

	episodes := r.groundEpisodes(ctx, question, pair.Roles())

	contents := llm.AnswerContents{Episodes: episodes, Threads: make(map[string][]string)}
	for _, speaker := range loaded {
		ids := threadIDs[speaker]
		if len(ids) == 0 {
			continue
		}
		recs, err := r.mem.GetByIDs(ctx, types.KindThread, types.SpeakerOwner(pair.Roles(), speaker), ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load threads for %s: %w", speaker, err)
		}
		docs := make([]string, len(recs))
		for i, rec := range recs {
			docs[i] = rec.Document()
		}
		contents.Speakers = append(contents.Speakers, speaker)
		contents.Threads[speaker] = docs
	}

	text, err := r.llm.Complete(ctx, llm.AnswerSystemPrompt, llm.AnswerPrompt(question, contents))
	if err != nil {
		return nil, fmt.Errorf("failed to answer: %w", err)
	}
	return &Answer{Text: strings.TrimSpace(text), Speakers: loaded, ThreadIDs: threadIDs, Episodes: episodes}, nil
}

// ChooseSpeakers asks which speakers' cards the question needs. The reply is
// restricted to the pair and de-duplicated; an empty or unparsable reply
// selects both speakers.
func (r *Router) ChooseSpeakers(ctx context.Context, question string, pair Pair) ([]string, error) {
	raw, err := r.llm.Complete(ctx, llm.UserSystemPrompt, llm.UserChoicePrompt(question, pair.Speakers()))
	if err != nil {
		return nil, fmt.Errorf("failed to choose cards: %w", err)
	}
	choice, err := llm.ParseChoice(raw)
	if err != nil {
		var pe *llm.ParseError
		if !errors.As(err, &pe) {
			return nil, err
		}
		r.logger.Warn("router: unparsable card choice, using both speakers", "error", err)
		return pair.Speakers(), nil
	}

	var out []string
	for _, c := range choice {
		if (c == pair.A || c == pair.B) && !contains(out, c) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return pair.Speakers(), nil
	}
	return out, nil
}

// cardView is the part of a card shown to the model.
type cardView struct {
	ThemeTitle string        `json:"theme_title,omitempty"`
	Topics     []types.Topic `json:"topics"`
}

// RenderCards formats cards for the thread-search prompt.
func RenderCards(speakers []string, cards map[string]*types.Card) (string, error) {
	var sb strings.Builder
	for _, s := range speakers {
		c := cards[s]
		data, err := json.Marshal(cardView{ThemeTitle: c.ThemeTitle, Topics: c.Topics})
		if err != nil {
			return "", fmt.Errorf("failed to render card for %s: %w", s, err)
		}
		fmt.Fprintf(&sb, "user name:%s\n%s\n", s, data)
	}
	return sb.String(), nil
}

// SelectThreads asks the model for the threads relevant to question. Ids are
// kept only for the given speakers and only if their card holds them, in
// reply order without duplicates and at most ten per speaker. A speaker left
// with no ids, or any unparsable reply, falls back to all of that speaker's
// card threads.
func (r *Router) SelectThreads(ctx context.Context, question string, speakers []string, cards map[string]*types.Card) (map[string][]string, error) {
	out := make(map[string][]string, len(speakers))
	if len(speakers) == 0 {
		return out, nil
	}

	contents, err := RenderCards(speakers, cards)
	if err != nil {
		return nil, err
	}
	raw, err := r.llm.Complete(ctx, llm.SearchSystemPrompt, llm.ThreadSearchPrompt(question, contents))
	if err != nil {
		return nil, fmt.Errorf("failed to search threads: %w", err)
	}

	result, err := llm.ParseThreadSearch(raw)
	if err != nil {
		var pe *llm.ParseError
		if !errors.As(err, &pe) {
			return nil, err
		}
		r.logger.Warn("router: unparsable thread search, using full cards", "error", err)
	}

	for _, st := range result.Results {
		c, ok := cards[st.Speaker]
		if !ok || !contains(speakers, st.Speaker) {
			continue
		}
		for _, id := range st.ThreadIDs {
			if len(out[st.Speaker]) >= maxThreadsPerSpeaker {
				break
			}
			if c.HasThread(id) && !contains(out[st.Speaker], id) {
				out[st.Speaker] = append(out[st.Speaker], id)
			}
		}
	}

	for _, s := range speakers {
		if len(out[s]) == 0 {
			out[s] = cards[s].ThreadIDs()
		}
	}
	return out, nil
}

// groundEpisodes returns the summaries of the episodes nearest to question.
// Keyword search is used if the vector search fails.
func (r *Router) groundEpisodes(ctx context.Context, question, roles string) []string {
	search := r.mem.Search
	if r.opts.HybridEpisodes {
		search = r.mem.HybridSearch
	}
	results, err := search(ctx, types.KindEpisode, roles, question, r.opts.EpisodeTopK)
	if err != nil {
		r.logger.Warn("router: episode search failed, using keyword search", "roles", roles, "error", err)
		results, err = r.mem.KeywordSearch(ctx, types.KindEpisode, roles, question, r.opts.EpisodeTopK)
		if err != nil {
			r.logger.Warn("router: keyword episode search failed", "roles", roles, "error", err)
			return nil
		}
	}

	out := make([]string, len(results))
	for i, res := range results {
		out[i] = res.Record.Document()
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
