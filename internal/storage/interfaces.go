// Package storage defines the index interfaces behind the memory store.
//
// A backend keeps named collections of entries. Each entry carries its stored
// document, typed metadata and an embedding. The vector index answers nearest
// neighbour queries by cosine distance; the lexical index answers BM25-style
// keyword queries over the same documents.
package storage

import "context"

// VectorIndex stores entries per collection and answers similarity queries.
// Collections are created on first write.
type VectorIndex interface {
	// Exists reports which of ids are already stored in collection.
	Exists(ctx context.Context, collection string, ids []string) (map[string]bool, error)

	// Upsert writes entries. An existing id is replaced.
	Upsert(ctx context.Context, collection string, entries []Entry) error

	// Get returns the entries for ids in request order. Unknown ids are skipped.
	Get(ctx context.Context, collection string, ids []string) ([]Entry, error)

	// All returns every entry in insertion order, embeddings included.
	All(ctx context.Context, collection string) ([]Entry, error)

	// Query returns the k entries closest to vector, best first, with
	// Score = 1 - cosine distance.
	Query(ctx context.Context, collection string, vector []float32, k int) ([]Match, error)

	// Count returns the number of entries in collection (0 if it does not exist).
	Count(ctx context.Context, collection string) (int, error)

	// Collections lists every non-empty collection with its size, sorted by name.
	Collections(ctx context.Context) ([]CollectionInfo, error)

	// Delete removes ids from collection. Unknown ids are ignored.
	Delete(ctx context.Context, collection string, ids []string) error

	// DropCollection removes a collection and all its entries.
	DropCollection(ctx context.Context, collection string) error

	// Close releases any resources held by the index.
	Close() error
}

// LexicalIndex answers keyword queries with BM25-style ranking.
type LexicalIndex interface {
	// Search returns at most k matches for query, best first. Higher scores
	// are better. A query with no usable terms returns no matches.
	Search(ctx context.Context, collection, query string, k int) ([]Match, error)
}

// Backend is a store that serves both index kinds.
type Backend interface {
	VectorIndex
	LexicalIndex
}
