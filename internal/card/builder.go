// Package card builds and stores per-speaker memory cards.
//
// A card is a two-level hierarchy over one speaker's experiences: topics
// found by a coarse clustering pass, each split into threads by a fine pass.
// Threads are persisted as records so answers can cite their full content;
// the card itself only carries titles, summaries and thread ids.
package card

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/YimingShu-teay/TraceMem/internal/cluster"
	"github.com/YimingShu-teay/TraceMem/internal/llm"
	"github.com/YimingShu-teay/TraceMem/internal/memory"
	"github.com/YimingShu-teay/TraceMem/pkg/types"
)

// ErrEmptyCollection is returned when a speaker has no experiences to cluster.
var ErrEmptyCollection = errors.New("card: experience collection is empty")

// Builder clusters experiences into cards.
type Builder struct {
	mem          *memory.Store
	llm          llm.TextGenerator
	files        *FileStore
	topicParams  cluster.Params
	threadParams cluster.Params
	logger       *slog.Logger
}

// NewBuilder creates a Builder. A zero seed uses cluster.DefaultSeed.
func NewBuilder(mem *memory.Store, gen llm.TextGenerator, files *FileStore, seed int64, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		mem:          mem,
		llm:          gen,
		files:        files,
		topicParams:  cluster.TopicParams.WithSeed(seed),
		threadParams: cluster.ThreadParams.WithSeed(seed),
		logger:       logger,
	}
}

// Build clusters the experiences of speaker, replaces the speaker's threads,
// and writes the card and its thread map. Titles the model fails to produce
// in the expected format are left empty.
//
// The previous threads stay in place until the new card is saved, so a
// failed build leaves the previous card resolvable. Threads written by a
// failed build are removed again.
func (b *Builder) Build(ctx context.Context, roles, speaker string) (_ *types.Card, _ types.ThreadMap, err error) {
	owner := types.SpeakerOwner(roles, speaker)
	entries, err := b.mem.Entries(ctx, types.KindExperience, owner)
	if err != nil {
		return nil, nil, err
	}
	if len(entries) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrEmptyCollection, owner)
	}

	previous, err := b.mem.Entries(ctx, types.KindThread, owner)
	if err != nil {
		return nil, nil, err
	}
	stale := make([]string, len(previous))
	for i, e := range previous {
		stale[i] = e.Record.RecordID()
	}

	var written []string
	committed := false
	defer func() {
		if err != nil && !committed {
			b.discard(ctx, owner, written)
		}
	}()

	topicRes, err := cluster.Run(embeddings(entries), b.topicParams)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to cluster topics for %s: %w", owner, err)
	}
	b.logger.Info("card: topics clustered", "owner", owner, "experiences", len(entries), "topics", len(topicRes.Groups))

	card := &types.Card{Speaker: speaker, Roles: roles, Topics: make([]types.Topic, len(topicRes.Groups))}
	for i, group := range topicRes.Groups {
		title, err := b.topicTitle(ctx, pick(entries, group))
		if err != nil {
			return nil, nil, err
		}
		card.Topics[i].TopicTitle = title
	}
	if card.ThemeTitle, err = b.themeTitle(ctx, card.Topics); err != nil {
		return nil, nil, err
	}

	threadMap := types.ThreadMap{}
	for i, group := range topicRes.Groups {
		members := pick(entries, group)
		threadRes, err := cluster.Run(embeddings(members), b.threadParams)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to cluster threads for %s: %w", owner, err)
		}
		for _, tg := range threadRes.Groups {
			summary, ref, err := b.buildThread(ctx, owner, pick(members, tg), &written)
			if err != nil {
				return nil, nil, err
			}
			ref.TopicTitle = card.Topics[i].TopicTitle
			card.Topics[i].Threads = append(card.Topics[i].Threads, summary)
			threadMap[summary.ThreadID] = ref
		}
	}

	if err := b.Verify(ctx, card); err != nil {
		return nil, nil, err
	}
	if err := b.files.SaveCard(card); err != nil {
		return nil, nil, err
	}
	committed = true

	if err := b.mem.Delete(ctx, types.KindThread, owner, stale); err != nil {
		// Left for the next build, which sees them as previous threads.
		b.logger.Warn("card: failed to remove replaced threads", "owner", owner, "threads", len(stale), "error", err)
	}
	if err := b.files.SaveThreadMap(roles, speaker, threadMap); err != nil {
		return nil, nil, err
	}
	b.logger.Info("card: built", "owner", owner, "topics", len(card.Topics), "threads", len(threadMap), "replaced", len(stale))
	return card, threadMap, nil
}

// discard removes threads written by a build that did not complete.
func (b *Builder) discard(ctx context.Context, owner string, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := b.mem.Delete(context.WithoutCancel(ctx), types.KindThread, owner, ids); err != nil {
		b.logger.Warn("card: failed to remove threads of failed build", "owner", owner, "threads", len(ids), "error", err)
		return
	}
	b.logger.Info("card: removed threads of failed build", "owner", owner, "threads", len(ids))
}

// buildThread persists one thread record, appending its id to written, then
// asks for its title and summary.
func (b *Builder) buildThread(ctx context.Context, owner string, members []memory.Entry, written *[]string) (types.ThreadSummary, types.ThreadRef, error) {
	docs := make([]string, len(members))
	ids := make([]string, len(members))
	var episodes []string
	seen := make(map[string]bool)
	for i, m := range members {
		docs[i] = m.Record.Document()
		ids[i] = m.Record.RecordID()
		if x, ok := m.Record.(*types.Experience); ok && x.SourceEpisode != "" && !seen[x.SourceEpisode] {
			seen[x.SourceEpisode] = true
			episodes = append(episodes, x.SourceEpisode)
		}
	}

	thread := types.NewThread(owner, strings.Join(docs, " "), episodes)
	if _, err := b.mem.Add(ctx, thread); err != nil {
		return types.ThreadSummary{}, types.ThreadRef{}, fmt.Errorf("failed to store thread: %w", err)
	}
	*written = append(*written, thread.ID)

	raw, err := b.llm.Complete(ctx, llm.ThreadSystemPrompt, strings.Join(docs, "\n"))
	if err != nil {
		return types.ThreadSummary{}, types.ThreadRef{}, fmt.Errorf("failed to summarize thread: %w", err)
	}
	title, summary, err := llm.ParseThreadSummary(raw)
	if err != nil {
		b.logger.Warn("card: unparsable thread summary", "owner", owner, "thread_id", thread.ID, "error", err)
	}

	return types.ThreadSummary{ThreadTitle: title, Summary: summary, ThreadID: thread.ID},
		types.ThreadRef{ThreadTitle: title, SourceEpisodes: episodes, Members: ids},
		nil
}

func (b *Builder) topicTitle(ctx context.Context, members []memory.Entry) (string, error) {
	docs := make([]string, len(members))
	for i, m := range members {
		docs[i] = m.Record.Document()
	}
	raw, err := b.llm.Complete(ctx, llm.TopicSystemPrompt, strings.Join(docs, "\n"))
	if err != nil {
		return "", fmt.Errorf("failed to name topic: %w", err)
	}
	title, err := llm.ParseTopicTitle(raw)
	if err != nil {
		b.logger.Warn("card: unparsable topic title", "error", err)
		return "", nil
	}
	return title, nil
}

func (b *Builder) themeTitle(ctx context.Context, topics []types.Topic) (string, error) {
	type titleOnly struct {
		TopicTitle string `json:"topic_title"`
	}
	input := struct {
		Topics []titleOnly `json:"topics"`
	}{Topics: make([]titleOnly, len(topics))}
	for i, t := range topics {
		input.Topics[i].TopicTitle = t.TopicTitle
	}
	data, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", err
	}

	raw, err := b.llm.Complete(ctx, llm.ThemeSystemPrompt, string(data))
	if err != nil {
		return "", fmt.Errorf("failed to name theme: %w", err)
	}
	title, err := llm.ParseThemeTitle(raw)
	if err != nil {
		b.logger.Warn("card: unparsable theme title", "error", err)
		return "", nil
	}
	return title, nil
}

// Verify checks that every thread id on card resolves to a stored thread.
func (b *Builder) Verify(ctx context.Context, card *types.Card) error {
	owner := types.SpeakerOwner(card.Roles, card.Speaker)
	ids := card.ThreadIDs()
	found, err := b.mem.GetByIDs(ctx, types.KindThread, owner, ids)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(found))
	for _, r := range found {
		present[r.RecordID()] = true
	}
	var missing []string
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("card %s: %d of %d threads missing: %s", owner, len(missing), len(ids), strings.Join(missing, ", "))
	}
	return nil
}

func embeddings(entries []memory.Entry) [][]float32 {
	out := make([][]float32, len(entries))
	for i, e := range entries {
		out[i] = e.Embedding
	}
	return out
}

func pick(entries []memory.Entry, idx []int) []memory.Entry {
	out := make([]memory.Entry, len(idx))
	for i, j := range idx {
		out[i] = entries[j]
	}
	return out
}
