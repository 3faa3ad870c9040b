package card

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/YimingShu-teay/TraceMem/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCard(theme string) *types.Card {
	return &types.Card{
		Speaker:    "Amy",
		Roles:      roles,
		ThemeTitle: theme,
		Topics: []types.Topic{{
			TopicTitle: "Pets",
			Threads:    []types.ThreadSummary{{ThreadTitle: "Miso", Summary: "Amy's cat.", ThreadID: "t-1"}},
		}},
	}
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	s := NewFileStore(t.TempDir(), nil)
	require.NoError(t, s.SaveCard(testCard("Life")))

	fresh := NewFileStore(s.Dir(), nil)
	got, err := fresh.LoadCard(roles, "Amy")
	require.NoError(t, err)
	assert.Equal(t, testCard("Life"), got)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_MissingCard(t *testing.T) {
	s := NewFileStore(t.TempDir(), nil)
	_, err := s.LoadCard(roles, "Amy")
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestFileStore_LegacyCardGetsOwnerFields(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"theme_title": "Life", "topics": [{"topic_title": "Pets", "threads": [{"thread_id": "t-9"}]}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Amy_Mike_Amy.json"), []byte(legacy), 0o644))

	got, err := NewFileStore(dir, nil).LoadCard(roles, "Amy")
	require.NoError(t, err)
	assert.Equal(t, "Amy", got.Speaker)
	assert.Equal(t, roles, got.Roles)
	assert.True(t, got.HasThread("t-9"))
}

func TestFileStore_WatcherInvalidatesCache(t *testing.T) {
	s := NewFileStore(t.TempDir(), nil)
	require.NoError(t, s.SaveCard(testCard("Before")))

	w, err := s.Watch()
	require.NoError(t, err)
	defer w.Stop()

	got, err := s.LoadCard(roles, "Amy")
	require.NoError(t, err)
	assert.Equal(t, "Before", got.ThemeTitle)

	// Rewrite the file behind the store's back.
	other := NewFileStore(s.Dir(), nil)
	require.NoError(t, other.SaveCard(testCard("After")))

	require.Eventually(t, func() bool {
		c, err := s.LoadCard(roles, "Amy")
		return err == nil && c.ThemeTitle == "After"
	}, 2*time.Second, 20*time.Millisecond)
}
