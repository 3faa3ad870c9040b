package types_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YimingShu-teay/TraceMem/pkg/types"
)

func TestDecodeRecord_RoundTripsEveryKind(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	records := []types.Record{
		&types.Episode{ID: "e1", UserID: "Amy_Mike", Summary: "They talked.", Timestamp: "1:56 pm on 8 May, 2023", CreatedAt: now},
		&types.SemanticFact{ID: "f1", UserID: "Amy_Mike_Amy", Content: "Amy paints.", SourceEpisode: "e1", Timestamp: "t", RevisionCount: 2, CreatedAt: now},
		&types.Experience{ID: "x1", UserID: "Amy_Mike_Amy", Content: "Amy painted a lake.", SourceEpisode: "e1", Timestamp: "t", CreatedAt: now},
		&types.Thread{ID: "t1", UserID: "Amy_Mike_Amy", Content: "painting", SourceEpisodes: []string{"e1", "e2"}, CreatedAt: now},
	}

	for _, rec := range records {
		t.Run(string(rec.Kind()), func(t *testing.T) {
			got, err := types.DecodeRecord(rec.Kind(), rec.RecordID(), rec.Document(), rec.Meta())
			require.NoError(t, err)
			assert.Equal(t, rec, got)
		})
	}
}

func TestDecodeRecord_UnknownKind(t *testing.T) {
	_, err := types.DecodeRecord("bogus", "id", "content", types.Metadata{})
	assert.Error(t, err)
}

func TestExperience_EmbedTextHasKeywordsPrefix(t *testing.T) {
	x := types.NewExperience("Amy_Mike_Amy", "Amy ran a marathon.", "e1", "t")
	assert.Equal(t, "Keywords:Amy ran a marathon.", x.EmbedText())
	assert.Equal(t, "Amy ran a marathon.", x.Document())
	assert.NotEmpty(t, x.ID)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]types.Kind{
		"episode": types.KindEpisode, "facts": types.KindSemantic,
		"experiences": types.KindExperience, "thread": types.KindThread,
	} {
		got, err := types.ParseKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := types.ParseKind("cards")
	assert.Error(t, err)
}

func TestUtterance_DisplayAndContent(t *testing.T) {
	u := types.Utterance{Speaker: "Amy", Text: "Look at this! [shares photo]", ImageCaption: "a red bike", SearchQuery: "bike"}
	assert.Equal(t, "Look at this! Image: a red bike", u.Display())
	assert.Equal(t, "Look at this! [shares photo] [Image: a red bike] [Search: bike]", u.Content())

	empty := types.Utterance{Speaker: "Amy", Text: "[shares photo]"}
	assert.Equal(t, "", empty.Display())
}

func TestCard_ThreadLookup(t *testing.T) {
	card := types.Card{Topics: []types.Topic{
		{TopicTitle: "art", Threads: []types.ThreadSummary{{ThreadID: "a"}, {ThreadID: "b"}}},
		{TopicTitle: "sport", Threads: []types.ThreadSummary{{ThreadID: "c"}}},
	}}
	assert.Equal(t, []string{"a", "b", "c"}, card.ThreadIDs())
	assert.True(t, card.HasThread("c"))
	assert.False(t, card.HasThread("d"))
}
