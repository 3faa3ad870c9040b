package card

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/YimingShu-teay/TraceMem/pkg/types"
)

// ErrCardNotFound is returned when no card file exists for a speaker.
var ErrCardNotFound = errors.New("card not found")

// CardFileName is the file name of a speaker's card.
func CardFileName(roles, speaker string) string {
	return types.SpeakerOwner(roles, speaker) + ".json"
}

// ThreadMapFileName is the file name of a speaker's thread map.
func ThreadMapFileName(roles, speaker string) string {
	return types.SpeakerOwner(roles, speaker) + "_thread_map.json"
}

// FileStore reads and writes card files in one directory. Loaded cards are
// cached until Invalidate is called for their file.
type FileStore struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	cards map[string]*types.Card // keyed by file name
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{dir: dir, logger: logger, cards: make(map[string]*types.Card)}
}

// Dir returns the cards directory.
func (s *FileStore) Dir() string { return s.dir }

// SaveCard writes card atomically and caches it.
func (s *FileStore) SaveCard(card *types.Card) error {
	name := CardFileName(card.Roles, card.Speaker)
	if err := s.writeJSON(name, card); err != nil {
		return err
	}
	s.mu.Lock()
	s.cards[name] = card
	s.mu.Unlock()
	return nil
}

// SaveThreadMap writes the thread map of a speaker atomically.
func (s *FileStore) SaveThreadMap(roles, speaker string, m types.ThreadMap) error {
	return s.writeJSON(ThreadMapFileName(roles, speaker), m)
}

// LoadCard returns the card of speaker, from cache when possible.
func (s *FileStore) LoadCard(roles, speaker string) (*types.Card, error) {
	name := CardFileName(roles, speaker)
	s.mu.RLock()
	card, ok := s.cards[name]
	s.mu.RUnlock()
	if ok {
		return card, nil
	}

	card = &types.Card{}
	if err := s.readJSON(name, card); err != nil {
		return nil, err
	}
	// Older card files carry only theme and topics.
	if card.Roles == "" {
		card.Roles = roles
	}
	if card.Speaker == "" {
		card.Speaker = speaker
	}

	s.mu.Lock()
	s.cards[name] = card
	s.mu.Unlock()
	return card, nil
}

// LoadThreadMap reads the thread map of a speaker.
func (s *FileStore) LoadThreadMap(roles, speaker string) (types.ThreadMap, error) {
	m := types.ThreadMap{}
	if err := s.readJSON(ThreadMapFileName(roles, speaker), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Invalidate drops the cached card stored at path, if any.
func (s *FileStore) Invalidate(path string) {
	name := filepath.Base(path)
	s.mu.Lock()
	_, ok := s.cards[name]
	delete(s.cards, name)
	s.mu.Unlock()
	if ok {
		s.logger.Debug("card: cache invalidated", "file", name)
	}
}

// Watch starts a watcher that invalidates cached cards when their files
// change on disk. Stop the returned watcher when done.
func (s *FileStore) Watch() (*Watcher, error) {
	w := NewWatcher(s.dir, s.Invalidate, s.logger)
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *FileStore) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrCardNotFound, name)
		}
		return fmt.Errorf("card: failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("card: invalid JSON in %s: %w", name, err)
	}
	return nil
}

// writeJSON writes v to a temp file in the cards directory and renames it
// into place, so readers never see a partial file.
func (s *FileStore) writeJSON(name string, v any) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("card: mkdir %s: %w", s.dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("card: failed to encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("card: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("card: failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("card: failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("card: failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("card: failed to replace %s: %w", name, err)
	}
	return nil
}
