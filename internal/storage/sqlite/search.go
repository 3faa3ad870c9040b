package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/YimingShu-teay/TraceMem/internal/storage"
)

// Search runs a BM25-ranked FTS5 match restricted to collection.
//
// FTS5's bm25() is negative with more negative meaning a better match, so the
// score is negated to keep "higher is better" like vector scores. Term
// statistics are shared by all collections in the database.
func (s *Store) Search(ctx context.Context, collection, query string, k int) ([]storage.Match, error) {
	ftsQuery := ftsMatchQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}

	const querySQL = `
		SELECT r.id, r.document, r.metadata, r.embedding, bm25(records_fts) AS bm25_score
		FROM records_fts
		JOIN records r ON r.seq = records_fts.rowid
		WHERE records_fts MATCH ? AND r.collection = ?
		ORDER BY bm25_score
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, querySQL, ftsQuery, collection, k)
	if err != nil {
		return nil, fmt.Errorf("sqlite: keyword search MATCH %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.Match
	for rows.Next() {
		var (
			m    storage.Match
			meta string
			blob []byte
			rank float64
		)
		if err := rows.Scan(&m.ID, &m.Document, &meta, &blob, &rank); err != nil {
			return nil, fmt.Errorf("sqlite: keyword search scan: %w", err)
		}
		entry, err := decodeEntry(m.ID, m.Document, meta, blob)
		if err != nil {
			return nil, fmt.Errorf("sqlite: keyword search: %w", err)
		}
		m.Entry = entry
		m.Score = -rank
		out = append(out, m)
	}
	return out, rows.Err()
}

// ftsMatchQuery converts free-form text into a safe FTS5 MATCH expression:
// each remaining term is quoted, prefix-matched and OR-joined.
//
// Example: "What did Amy adopt?" → "amy"* OR "adopt"*
func ftsMatchQuery(query string) string {
	terms := storage.Terms(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"*`
	}
	return strings.Join(quoted, " OR ")
}
