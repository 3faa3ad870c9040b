package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/YimingShu-teay/TraceMem/internal/storage"
	"github.com/YimingShu-teay/TraceMem/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(postgresTestDSN(t), nil)
	require.NoError(t, err)
	require.NoError(t, s.truncateForTest(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(id, doc string, vec ...float32) storage.Entry {
	return storage.Entry{ID: id, Document: doc, Metadata: types.Metadata{Type: types.KindThread, UserID: "Amy_Mike_Amy"}, Embedding: vec}
}

func TestTSQuery(t *testing.T) {
	assert.Equal(t, "amy:* | cat:*", tsQuery("Where is Amy's cat?"))
	assert.Equal(t, "", tsQuery("is it"))
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, "t", []storage.Entry{
		entry("a", "Amy adopted a cat named Miso", 1, 0),
		entry("b", "Mike trains for a marathon", 0, 1),
	}))

	found, err := s.Exists(ctx, "t", []string{"a", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true}, found)

	got, err := s.Get(ctx, "t", []string{"b", "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "Amy_Mike_Amy", got[1].Metadata.UserID)

	matches, err := s.Query(ctx, "t", []float32{1, 0.1}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)

	hits, err := s.Search(ctx, "t", "marathon training", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "b", hits[0].ID)

	cols, err := s.Collections(ctx)
	require.NoError(t, err)
	assert.Contains(t, cols, storage.CollectionInfo{Name: "t", Count: 2})

	require.NoError(t, s.Delete(ctx, "t", []string{"a"}))
	n, err := s.Count(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DropCollection(ctx, "t"))
	n, err = s.Count(ctx, "t")
	require.NoError(t, err)
	assert.Zero(t, n)
}
