package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingRoundTrip(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := DecodeEmbedding(EncodeEmbedding(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestSortMatches_StableAndTruncated(t *testing.T) {
	ms := []Match{
		{Entry: Entry{ID: "a"}, Score: 0.5},
		{Entry: Entry{ID: "b"}, Score: 0.9},
		{Entry: Entry{ID: "c"}, Score: 0.5},
	}
	got := SortMatches(ms, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"amy", "cat", "miso"}, Terms("What is Amy's cat, Miso? The cat!"))
	assert.Empty(t, Terms("a I it"))
}
