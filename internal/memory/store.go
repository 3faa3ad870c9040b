// Package memory persists typed records into per-owner collections and
// serves the similarity, keyword and hybrid reads used by card building and
// question answering.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/YimingShu-teay/TraceMem/internal/llm"
	"github.com/YimingShu-teay/TraceMem/internal/storage"
	"github.com/YimingShu-teay/TraceMem/pkg/types"
)

// DefaultPrefix is the collection name prefix used when none is configured.
const DefaultPrefix = "tracemem"

// rrfK is the Reciprocal Rank Fusion constant used by HybridSearch.
const rrfK = 60.0

// Store writes records idempotently and reads them back as typed records.
// Writers to the same collection are serialised; reads take no lock.
type Store struct {
	backend  storage.Backend
	embedder llm.EmbeddingGenerator
	prefix   string
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store over backend. An empty prefix uses DefaultPrefix.
func NewStore(backend storage.Backend, embedder llm.EmbeddingGenerator, prefix string, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:  backend,
		embedder: embedder,
		prefix:   prefix,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Collection returns the collection name for kind and owner.
func (s *Store) Collection(kind types.Kind, owner string) string {
	return fmt.Sprintf("%s_%s_%s", s.prefix, owner, kind)
}

// Result is a record returned by a read together with its relevance.
type Result struct {
	Record types.Record
	Score  float64
}

// Entry is a stored record with its embedding.
type Entry struct {
	Record    types.Record
	Embedding []float32
}

func (s *Store) lock(collection string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[collection]
	if !ok {
		l = &sync.Mutex{}
		s.locks[collection] = l
	}
	return l
}

// Add persists rec unless its id is already stored in its collection.
// It reports whether the record was written.
func (s *Store) Add(ctx context.Context, rec types.Record) (bool, error) {
	n, err := s.addToCollection(ctx, s.Collection(rec.Kind(), rec.Owner()), []types.Record{rec})
	return n == 1, err
}

// AddAll persists records grouped by collection, holding each collection's
// lock once. Already stored ids are skipped. It returns how many were written.
func (s *Store) AddAll(ctx context.Context, records []types.Record) (int, error) {
	var order []string
	groups := make(map[string][]types.Record)
	for _, rec := range records {
		if rec == nil {
			continue
		}
		name := s.Collection(rec.Kind(), rec.Owner())
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], rec)
	}

	total := 0
	for _, name := range order {
		n, err := s.addToCollection(ctx, name, groups[name])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Store) addToCollection(ctx context.Context, collection string, records []types.Record) (int, error) {
	l := s.lock(collection)
	l.Lock()
	defer l.Unlock()

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.RecordID()
	}
	existing, err := s.backend.Exists(ctx, collection, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing ids in %s: %w", collection, err)
	}

	var pending []types.Record
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		id := rec.RecordID()
		if existing[id] || seen[id] {
			continue
		}
		seen[id] = true
		pending = append(pending, rec)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, rec := range pending {
		texts[i] = rec.EmbedText()
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %d records for %s: %w", len(pending), collection, err)
	}
	if len(vectors) != len(pending) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d records", len(vectors), len(pending))
	}

	entries := make([]storage.Entry, len(pending))
	for i, rec := range pending {
		entries[i] = storage.Entry{
			ID:        rec.RecordID(),
			Document:  rec.Document(),
			Metadata:  rec.Meta(),
			Embedding: vectors[i],
		}
	}
	if err := s.backend.Upsert(ctx, collection, entries); err != nil {
		return 0, fmt.Errorf("failed to store records in %s: %w", collection, err)
	}

	s.logger.Debug("memory: stored records", "collection", collection, "added", len(entries), "skipped", len(records)-len(entries))
	return len(entries), nil
}

// GetByIDs returns the records for ids in request order. Unknown ids are skipped.
func (s *Store) GetByIDs(ctx context.Context, kind types.Kind, owner string, ids []string) ([]types.Record, error) {
	collection := s.Collection(kind, owner)
	entries, err := s.backend.Get(ctx, collection, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get records from %s: %w", collection, err)
	}
	out := make([]types.Record, 0, len(entries))
	for _, e := range entries {
		rec, err := types.DecodeRecord(kind, e.ID, e.Document, e.Metadata)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Search returns the topK records closest to query by embedding similarity.
func (s *Store) Search(ctx context.Context, kind types.Kind, owner, query string, topK int) ([]Result, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}

	collection := s.Collection(kind, owner)
	matches, err := s.backend.Query(ctx, collection, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("vector search in %s failed: %w", collection, err)
	}
	return decodeMatches(kind, matches)
}

// KeywordSearch returns the topK records ranked by BM25 against query.
func (s *Store) KeywordSearch(ctx context.Context, kind types.Kind, owner, query string, topK int) ([]Result, error) {
	collection := s.Collection(kind, owner)
	matches, err := s.backend.Search(ctx, collection, query, topK)
	if err != nil {
		return nil, fmt.Errorf("keyword search in %s failed: %w", collection, err)
	}
	return decodeMatches(kind, matches)
}

// HybridSearch merges vector and keyword results with Reciprocal Rank Fusion.
// If the vector side fails, keyword results are returned alone.
func (s *Store) HybridSearch(ctx context.Context, kind types.Kind, owner, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 10
	}
	// Fetch more candidates for merging (3x requested limit for each source)
	candidates := topK * 3
	if candidates < 30 {
		candidates = 30
	}

	keyword, err := s.KeywordSearch(ctx, kind, owner, query, candidates)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	vector, err := s.Search(ctx, kind, owner, query, candidates)
	if err != nil {
		s.logger.Warn("memory: hybrid search falling back to keywords", "owner", owner, "kind", kind, "error", err)
		if len(keyword) > topK {
			keyword = keyword[:topK]
		}
		return keyword, nil
	}

	type scored struct {
		rec   types.Record
		score float64
		first int
	}
	byID := make(map[string]*scored)
	add := func(results []Result, offset int) {
		for rank, r := range results {
			id := r.Record.RecordID()
			sc, ok := byID[id]
			if !ok {
				sc = &scored{rec: r.Record, first: offset + rank}
				byID[id] = sc
			}
			sc.score += 1.0 / (rrfK + float64(rank+1))
		}
	}
	add(vector, 0)
	add(keyword, len(vector))

	ranked := make([]*scored, 0, len(byID))
	for _, sc := range byID {
		ranked = append(ranked, sc)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].first < ranked[j].first
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	out := make([]Result, len(ranked))
	for i, sc := range ranked {
		out[i] = Result{Record: sc.rec, Score: sc.score}
	}
	return out, nil
}

// Count returns the number of records of kind owned by owner.
func (s *Store) Count(ctx context.Context, kind types.Kind, owner string) (int, error) {
	return s.backend.Count(ctx, s.Collection(kind, owner))
}

// Entries returns every record of kind owned by owner, with embeddings, in
// insertion order.
func (s *Store) Entries(ctx context.Context, kind types.Kind, owner string) ([]Entry, error) {
	collection := s.Collection(kind, owner)
	stored, err := s.backend.All(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	out := make([]Entry, 0, len(stored))
	for _, e := range stored {
		rec, err := types.DecodeRecord(kind, e.ID, e.Document, e.Metadata)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Record: rec, Embedding: e.Embedding})
	}
	return out, nil
}

// Delete removes the records with ids of kind owned by owner. Unknown ids
// are ignored.
func (s *Store) Delete(ctx context.Context, kind types.Kind, owner string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	collection := s.Collection(kind, owner)
	l := s.lock(collection)
	l.Lock()
	defer l.Unlock()
	if err := s.backend.Delete(ctx, collection, ids); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", collection, err)
	}
	return nil
}

// Reset drops the collection of kind owned by owner.
func (s *Store) Reset(ctx context.Context, kind types.Kind, owner string) error {
	collection := s.Collection(kind, owner)
	l := s.lock(collection)
	l.Lock()
	defer l.Unlock()
	if err := s.backend.DropCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to reset %s: %w", collection, err)
	}
	s.logger.Info("memory: reset collection", "collection", collection)
	return nil
}

// Collections lists every stored collection with its record count.
func (s *Store) Collections(ctx context.Context) ([]storage.CollectionInfo, error) {
	return s.backend.Collections(ctx)
}

func decodeMatches(kind types.Kind, matches []storage.Match) ([]Result, error) {
	out := make([]Result, 0, len(matches))
	for _, m := range matches {
		rec, err := types.DecodeRecord(kind, m.ID, m.Document, m.Metadata)
		if err != nil {
			return nil, err
		}
		out = append(out, Result{Record: rec, Score: m.Score})
	}
	return out, nil
}
