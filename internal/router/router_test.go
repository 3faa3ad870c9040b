package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/YimingShu-teay/TraceMem/internal/card"
	"github.com/YimingShu-teay/TraceMem/internal/llm"
	"github.com/YimingShu-teay/TraceMem/internal/llm/llmtest"
	"github.com/YimingShu-teay/TraceMem/internal/memory"
	"github.com/YimingShu-teay/TraceMem/internal/storage/sqlite"
	"github.com/YimingShu-teay/TraceMem/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pair = Pair{A: "Amy", B: "Mike"}

type fixture struct {
	mem      *memory.Store
	embedder *llmtest.HashEmbedder
	gen      *llmtest.ScriptedGenerator
	files    *card.FileStore
	threads  map[string][]string // speaker -> thread ids on the card
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	backend, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	emb := llmtest.NewHashEmbedder(32)
	f := &fixture{
		mem:      memory.NewStore(backend, emb, "", nil),
		embedder: emb,
		gen:      llmtest.NewScriptedGenerator().Always(llm.AnswerSystemPrompt, "  They adopted a cat.  "),
		files:    card.NewFileStore(t.TempDir(), nil),
		threads:  make(map[string][]string),
	}

	_, err = f.mem.AddAll(ctx, []types.Record{
		types.NewEpisode(pair.Roles(), "Amy tells Mike she adopted a cat named Miso.", "ts"),
		types.NewEpisode(pair.Roles(), "Mike ran a marathon in the rain.", "ts"),
	})
	require.NoError(t, err)

	for _, speaker := range pair.Speakers() {
		owner := types.SpeakerOwner(pair.Roles(), speaker)
		c := &types.Card{Speaker: speaker, Roles: pair.Roles(), ThemeTitle: "Life"}
		var summaries []types.ThreadSummary
		for i := 0; i < 3; i++ {
			th := types.NewThread(owner, fmt.Sprintf("%s thread %d", speaker, i), nil)
			_, err := f.mem.Add(ctx, th)
			require.NoError(t, err)
			summaries = append(summaries, types.ThreadSummary{ThreadTitle: fmt.Sprintf("t%d", i), ThreadID: th.ID})
			f.threads[speaker] = append(f.threads[speaker], th.ID)
		}
		c.Topics = []types.Topic{{TopicTitle: "Topic", Threads: summaries}}
		require.NoError(t, f.files.SaveCard(c))
	}
	return f
}

func (f *fixture) router(opts Options) *Router {
	return New(f.gen, f.mem, f.files, opts, nil)
}

func searchReply(results map[string][]string) string {
	var parts []string
	for speaker, ids := range results {
		var refs []string
		for _, id := range ids {
			refs = append(refs, fmt.Sprintf(`{"thread_id": %q}`, id))
		}
		parts = append(parts, fmt.Sprintf(`{%q: [%s]}`, speaker, strings.Join(refs, ",")))
	}
	return fmt.Sprintf(`{"reason": "r", "results": [%s]}`, strings.Join(parts, ","))
}

func TestChooseSpeakers(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{"single speaker", `{"choice": ["Mike"]}`, []string{"Mike"}},
		{"outsiders and duplicates dropped", `{"choice": ["Bob", "Amy", "Amy"]}`, []string{"Amy"}},
		{"only outsiders", `{"choice": ["Bob"]}`, []string{"Amy", "Mike"}},
		{"empty choice", `{"choice": []}`, []string{"Amy", "Mike"}},
		{"unparsable", `Amy, I think`, []string{"Amy", "Mike"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gen.Always(llm.UserSystemPrompt, tt.reply)
			got, err := f.router(Options{}).ChooseSpeakers(context.Background(), "q", pair)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChooseSpeakers_ProviderError(t *testing.T) {
	f := newFixture(t)
	f.gen.On(llm.UserSystemPrompt, func(string) (string, error) { return "", errors.New("boom") })
	_, err := f.router(Options{}).ChooseSpeakers(context.Background(), "q", pair)
	assert.Error(t, err)
}

func TestAnswer_RoutesThroughChosenCard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	amy := f.threads["Amy"]
	f.gen.Always(llm.UserSystemPrompt, `{"choice": ["Amy"]}`)
	f.gen.Always(llm.SearchSystemPrompt, searchReply(map[string][]string{
		"Amy":  {amy[1], "unknown", amy[1], amy[0]},
		"Mike": {f.threads["Mike"][0]},
	}))

	ans, err := f.router(Options{}).Answer(ctx, "What is the name of Amy's cat?", pair)
	require.NoError(t, err)

	assert.Equal(t, "They adopted a cat.", ans.Text)
	assert.Equal(t, []string{"Amy"}, ans.Speakers)
	assert.Equal(t, map[string][]string{"Amy": {amy[1], amy[0]}}, ans.ThreadIDs)
	assert.Len(t, ans.Episodes, 2)

	search := f.gen.CallsFor(llm.SearchSystemPrompt)
	require.Len(t, search, 1)
	assert.True(t, strings.HasPrefix(search[0], "question:What is the name of Amy's cat?\nContents:user name:Amy\n"))
	assert.NotContains(t, search[0], "user name:Mike")

	prompts := f.gen.CallsFor(llm.AnswerSystemPrompt)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Amy threads:\nAmy thread 1\nAmy thread 0\n\n")
	assert.NotContains(t, prompts[0], "Mike threads:")
	assert.Contains(t, prompts[0], "adopted a cat named Miso")
}

func TestSelectThreads_FallsBackToFullCard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.router(Options{})
	cards := map[string]*types.Card{}
	for _, s := range pair.Speakers() {
		c, err := f.files.LoadCard(pair.Roles(), s)
		require.NoError(t, err)
		cards[s] = c
	}

	t.Run("empty list for one speaker", func(t *testing.T) {
		f.gen.Queue(llm.SearchSystemPrompt, searchReply(map[string][]string{
			"Amy":  {f.threads["Amy"][2]},
			"Mike": {},
		}))
		got, err := r.SelectThreads(ctx, "q", pair.Speakers(), cards)
		require.NoError(t, err)
		assert.Equal(t, []string{f.threads["Amy"][2]}, got["Amy"])
		assert.Equal(t, f.threads["Mike"], got["Mike"])
	})

	t.Run("unparsable reply", func(t *testing.T) {
		f.gen.Queue(llm.SearchSystemPrompt, "no idea")
		got, err := r.SelectThreads(ctx, "q", pair.Speakers(), cards)
		require.NoError(t, err)
		assert.Equal(t, f.threads["Amy"], got["Amy"])
		assert.Equal(t, f.threads["Mike"], got["Mike"])
	})

	t.Run("no cards makes no call", func(t *testing.T) {
		before := len(f.gen.CallsFor(llm.SearchSystemPrompt))
		got, err := r.SelectThreads(ctx, "q", nil, cards)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Len(t, f.gen.CallsFor(llm.SearchSystemPrompt), before)
	})
}

func TestSelectThreads_CapsPerSpeaker(t *testing.T) {
	f := newFixture(t)
	c := &types.Card{Speaker: "Amy", Roles: pair.Roles()}
	var ids []string
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("id-%02d", i)
		ids = append(ids, id)
		c.Topics = append(c.Topics, types.Topic{Threads: []types.ThreadSummary{{ThreadID: id}}})
	}
	f.gen.Always(llm.SearchSystemPrompt, searchReply(map[string][]string{"Amy": ids}))

	got, err := f.router(Options{}).SelectThreads(context.Background(), "q", []string{"Amy"}, map[string]*types.Card{"Amy": c})
	require.NoError(t, err)
	assert.Equal(t, ids[:10], got["Amy"])
}

func TestAnswer_MissingCardIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gen.Always(llm.UserSystemPrompt, `{"choice": ["Amy", "Mike"]}`)
	f.gen.Always(llm.SearchSystemPrompt, searchReply(map[string][]string{"Amy": {f.threads["Amy"][0]}}))

	other := Pair{A: "Amy", B: "Zoe"}
	ans, err := f.router(Options{}).Answer(ctx, "q", other)
	require.NoError(t, err)
	assert.Empty(t, ans.Speakers, "no card exists for the Amy_Zoe pair")
	assert.Empty(t, f.gen.CallsFor(llm.SearchSystemPrompt))
	assert.Len(t, f.gen.CallsFor(llm.AnswerSystemPrompt), 1)
}

func TestAnswer_EpisodesFallBackToKeywordSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gen.Always(llm.UserSystemPrompt, `{"choice": ["Mike"]}`)
	f.gen.Always(llm.SearchSystemPrompt, searchReply(map[string][]string{"Mike": {f.threads["Mike"][0]}}))
	f.embedder.Fail = errors.New("embedding service down")

	for _, hybrid := range []bool{false, true} {
		ans, err := f.router(Options{HybridEpisodes: hybrid, EpisodeTopK: 5}).Answer(ctx, "Who ran a marathon?", pair)
		require.NoError(t, err)
		require.NotEmpty(t, ans.Episodes, "hybrid=%v", hybrid)
		assert.Equal(t, "Mike ran a marathon in the rain.", ans.Episodes[0])
	}
}
