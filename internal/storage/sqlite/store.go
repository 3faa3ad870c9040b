// Package sqlite implements the storage indexes on an embedded SQLite
// database. Embeddings are stored as float32 blobs and ranked in Go; keyword
// search uses an FTS5 table kept in sync by triggers.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/YimingShu-teay/TraceMem/internal/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// maxInParams bounds the number of bind parameters used in one IN (...) list.
const maxInParams = 500

// Store implements storage.Backend using SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Compile-time assertion.
var _ storage.Backend = (*Store)(nil)

// New opens (or creates) the database at path. ":memory:" opens a private
// in-memory database. If the first open fails because of stale WAL files
// left by a crashed process, they are removed and the open is retried once.
func New(path string) (*Store, error) {
	if path != ":memory:" && path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: failed to create data directory: %w", err)
			}
		}
	}

	store, err := open(path)
	if err == nil {
		return store, nil
	}
	if !isRecoverableWALError(err) || path == ":memory:" || !isWALStale(path) {
		return nil, err
	}

	removeStaleWAL(path)
	store, retryErr := open(path)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	slog.Warn("sqlite: recovered from stale WAL files", "path", path)
	return store, nil
}

// open opens a SQLite database, configures WAL mode, and applies migrations.
func open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: failed to apply %q: %w", p, err)
		}
	}

	files, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: failed to load migrations: %w", err)
	}
	mgr, err := storage.NewMigrationManager(db, files, "?")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	if _, err := mgr.Up(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Exists reports which of ids are stored in collection.
func (s *Store) Exists(ctx context.Context, collection string, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	err := forChunks(ids, func(chunk []string) error {
		args := append([]any{collection}, toAny(chunk)...)
		rows, err := s.db.QueryContext(ctx,
			"SELECT id FROM records WHERE collection = ? AND id IN ("+placeholders(len(chunk))+")", args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			found[id] = true
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: exists %s: %w", collection, err)
	}
	return found, nil
}

// Upsert writes entries in one transaction. Re-written ids keep their
// original insertion position.
func (s *Store) Upsert(ctx context.Context, collection string, entries []storage.Entry) error {
	if collection == "" {
		return fmt.Errorf("%w: collection is required", storage.ErrInvalidInput)
	}
	if len(entries) == 0 {
		return nil
	}
	if err := storage.ValidateEntries(entries); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (collection, id, document, metadata, embedding, dimension)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			document = excluded.document,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			dimension = excluded.dimension
	`)
	if err != nil {
		return fmt.Errorf("sqlite: failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal metadata for %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, collection, e.ID, e.Document, string(meta),
			storage.EncodeEmbedding(e.Embedding), len(e.Embedding)); err != nil {
			return fmt.Errorf("sqlite: failed to upsert %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit upsert: %w", err)
	}
	return nil
}

// Get returns entries for ids in request order, skipping unknown ids.
func (s *Store) Get(ctx context.Context, collection string, ids []string) ([]storage.Entry, error) {
	byID := make(map[string]storage.Entry, len(ids))
	err := forChunks(ids, func(chunk []string) error {
		args := append([]any{collection}, toAny(chunk)...)
		rows, err := s.db.QueryContext(ctx,
			"SELECT id, document, metadata, embedding FROM records WHERE collection = ? AND id IN ("+placeholders(len(chunk))+")", args...)
		if err != nil {
			return err
		}
		entries, err := scanEntries(rows)
		if err != nil {
			return err
		}
		for _, e := range entries {
			byID[e.ID] = e
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s: %w", collection, err)
	}

	out := make([]storage.Entry, 0, len(byID))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns every entry of collection in insertion order.
func (s *Store) All(ctx context.Context, collection string) ([]storage.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, document, metadata, embedding FROM records WHERE collection = ? ORDER BY seq", collection)
	if err != nil {
		return nil, fmt.Errorf("sqlite: all %s: %w", collection, err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: all %s: %w", collection, err)
	}
	return entries, nil
}

// Query ranks every entry of collection by cosine similarity in Go.
// Collections here are per speaker pair and stay small, so a full scan is
// cheaper than maintaining an ANN index.
func (s *Store) Query(ctx context.Context, collection string, vector []float32, k int) ([]storage.Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", storage.ErrInvalidInput)
	}
	entries, err := s.All(ctx, collection)
	if err != nil {
		return nil, err
	}
	return storage.RankByCosine(entries, vector, k), nil
}

// Count returns the number of entries in collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE collection = ?", collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", collection, err)
	}
	return n, nil
}

// Collections lists stored collections with their sizes.
func (s *Store) Collections(ctx context.Context) ([]storage.CollectionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT collection, COUNT(*) FROM records GROUP BY collection ORDER BY collection")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.CollectionInfo
	for rows.Next() {
		var ci storage.CollectionInfo
		if err := rows.Scan(&ci.Name, &ci.Count); err != nil {
			return nil, fmt.Errorf("sqlite: list collections: %w", err)
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

// Delete removes ids from collection in one transaction.
func (s *Store) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = forChunks(ids, func(chunk []string) error {
		args := append([]any{collection}, toAny(chunk)...)
		_, err := tx.ExecContext(ctx,
			"DELETE FROM records WHERE collection = ? AND id IN ("+placeholders(len(chunk))+")", args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("sqlite: delete from %s: %w", collection, err)
	}
	return tx.Commit()
}

// DropCollection deletes every entry of collection.
func (s *Store) DropCollection(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE collection = ?", collection); err != nil {
		return fmt.Errorf("sqlite: drop %s: %w", collection, err)
	}
	return nil
}

// scanEntries reads (id, document, metadata, embedding) rows and closes rows.
func scanEntries(rows *sql.Rows) ([]storage.Entry, error) {
	defer func() { _ = rows.Close() }()
	var out []storage.Entry
	for rows.Next() {
		var (
			id, doc, meta string
			blob          []byte
		)
		if err := rows.Scan(&id, &doc, &meta, &blob); err != nil {
			return nil, err
		}
		e, err := decodeEntry(id, doc, meta, blob)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func decodeEntry(id, doc, meta string, blob []byte) (storage.Entry, error) {
	e := storage.Entry{ID: id, Document: doc}
	if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
		return e, fmt.Errorf("corrupt metadata for %s: %w", id, err)
	}
	vec, err := storage.DecodeEmbedding(blob)
	if err != nil {
		return e, fmt.Errorf("corrupt embedding for %s: %w", id, err)
	}
	e.Embedding = vec
	return e, nil
}

func forChunks(ids []string, fn func([]string) error) error {
	for start := 0; start < len(ids); start += maxInParams {
		end := min(start+maxInParams, len(ids))
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
