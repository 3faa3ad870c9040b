package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/YimingShu-teay/TraceMem/internal/llm/llmtest"
	"github.com/YimingShu-teay/TraceMem/internal/memory"
	"github.com/YimingShu-teay/TraceMem/internal/storage/sqlite"
	"github.com/YimingShu-teay/TraceMem/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roles = "Amy_Mike"

func newTestStore(t *testing.T) (*memory.Store, *llmtest.HashEmbedder) {
	t.Helper()
	backend, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	emb := llmtest.NewHashEmbedder(64)
	return memory.NewStore(backend, emb, "", nil), emb
}

func TestStore_CollectionNaming(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Equal(t, "tracemem_Amy_Mike_episodes", s.Collection(types.KindEpisode, roles))
	assert.Equal(t, "tracemem_Amy_Mike_Amy_thread", s.Collection(types.KindThread, types.SpeakerOwner(roles, "Amy")))
}

func TestStore_AddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	ep := types.NewEpisode(roles, "Amy adopted a cat named Miso.", "1:56 pm on 8 May, 2023")
	added, err := s.Add(ctx, ep)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Add(ctx, ep)
	require.NoError(t, err)
	assert.False(t, added, "duplicate id is a silent no-op")

	n, err := s.Count(ctx, types.KindEpisode, roles)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_ConcurrentAddsOfSameRecordWriteOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	fact := types.NewSemanticFact(types.SpeakerOwner(roles, "Amy"), "Amy likes hiking.", "ep-1", "")

	var wg sync.WaitGroup
	var mu sync.Mutex
	writes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := s.Add(ctx, fact)
			assert.NoError(t, err)
			if added {
				mu.Lock()
				writes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, writes)
	n, err := s.Count(ctx, types.KindSemantic, fact.Owner())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_AddAllGroupsAndSkipsExisting(t *testing.T) {
	ctx := context.Background()
	s, emb := newTestStore(t)
	owner := types.SpeakerOwner(roles, "Amy")

	ep := types.NewEpisode(roles, "Amy talks about her cat.", "ts")
	f1 := types.NewSemanticFact(owner, "Amy has a cat.", ep.ID, "ts")
	f2 := types.NewSemanticFact(owner, "The cat is called Miso.", ep.ID, "ts")
	x := types.NewExperience(owner, "As of 8 May, 2023, Amy adopted Miso.", ep.ID, "ts")

	n, err := s.AddAll(ctx, []types.Record{ep, f1, f2, x, f1})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 3, emb.EmbedCalls(), "one embedding call per collection")

	n, err = s.AddAll(ctx, []types.Record{ep, f1, f2, x})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 3, emb.EmbedCalls(), "nothing new to embed")
}

func TestStore_AddEmbedFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, emb := newTestStore(t)
	emb.Fail = errors.New("provider down")

	_, err := s.Add(ctx, types.NewEpisode(roles, "x", "ts"))
	require.Error(t, err)

	n, err := s.Count(ctx, types.KindEpisode, roles)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_GetByIDsPreservesOrderAndType(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	owner := types.SpeakerOwner(roles, "Mike")

	a := types.NewExperience(owner, "Mike ran a marathon.", "ep-1", "ts1")
	b := types.NewExperience(owner, "Mike bought new shoes.", "ep-2", "ts2")
	_, err := s.AddAll(ctx, []types.Record{a, b})
	require.NoError(t, err)

	got, err := s.GetByIDs(ctx, types.KindExperience, owner, []string{b.ID, "missing", a.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)

	first, ok := got[0].(*types.Experience)
	require.True(t, ok)
	assert.Equal(t, b.ID, first.ID)
	assert.Equal(t, "ep-2", first.SourceEpisode)
	assert.Equal(t, a.ID, got[1].RecordID())
}

func TestStore_SearchModes(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	cat := types.NewEpisode(roles, "Amy adopted a grey cat named Miso from the shelter.", "ts")
	run := types.NewEpisode(roles, "Mike trained for the city marathon every Sunday.", "ts")
	cook := types.NewEpisode(roles, "Amy cooked ramen with Mike on Friday.", "ts")
	_, err := s.AddAll(ctx, []types.Record{cat, run, cook})
	require.NoError(t, err)

	res, err := s.Search(ctx, types.KindEpisode, roles, "grey cat named Miso", 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, cat.ID, res[0].Record.RecordID())
	assert.Greater(t, res[0].Score, res[1].Score)

	res, err = s.KeywordSearch(ctx, types.KindEpisode, roles, "marathon", 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, run.ID, res[0].Record.RecordID())

	res, err = s.HybridSearch(ctx, types.KindEpisode, roles, "Miso the cat", 3)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, cat.ID, res[0].Record.RecordID(), "ranked first by both sources")
	assert.LessOrEqual(t, len(res), 3)
}

func TestStore_HybridFallsBackToKeywordsWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	s, emb := newTestStore(t)
	ep := types.NewEpisode(roles, "Mike trained for the marathon.", "ts")
	_, err := s.Add(ctx, ep)
	require.NoError(t, err)

	emb.Fail = errors.New("rate limited")
	res, err := s.HybridSearch(ctx, types.KindEpisode, roles, "marathon", 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, ep.ID, res[0].Record.RecordID())
}

func TestStore_EntriesAndReset(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	owner := types.SpeakerOwner(roles, "Amy")

	th := types.NewThread(owner, "Amy adopted Miso. Miso likes boxes.", []string{"ep-1"})
	_, err := s.Add(ctx, th)
	require.NoError(t, err)

	entries, err := s.Entries(ctx, types.KindThread, owner)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Embedding, 64)
	got := entries[0].Record.(*types.Thread)
	assert.Equal(t, []string{"ep-1"}, got.SourceEpisodes)

	cols, err := s.Collections(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "tracemem_Amy_Mike_Amy_thread", cols[0].Name)

	require.NoError(t, s.Reset(ctx, types.KindThread, owner))
	n, err := s.Count(ctx, types.KindThread, owner)
	require.NoError(t, err)
	assert.Zero(t, n)
}
