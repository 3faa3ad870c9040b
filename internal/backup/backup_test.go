package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/YimingShu-teay/TraceMem/internal/storage"
	"github.com/YimingShu-teay/TraceMem/internal/storage/sqlite"
	"github.com/YimingShu-teay/TraceMem/pkg/types"
)

// seedDatabase creates a store file with one record and closes it.
func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	store, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	err = store.Upsert(context.Background(), "tracemem_Amy_Mike_episodes", []storage.Entry{{
		ID:        "ep-1",
		Document:  "Amy adopted a cat.",
		Metadata:  types.Metadata{UserID: "Amy_Mike"},
		Embedding: []float32{1, 0, 0},
	}})
	if err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
	return path
}

func newTestService(t *testing.T, dbPath string, keep int) *Service {
	t.Helper()
	svc, err := NewService(Config{DBPath: dbPath, Dir: filepath.Join(t.TempDir(), "snapshots"), Keep: keep, Verify: true}, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return svc
}

func TestNewServiceRejectsInMemoryDatabase(t *testing.T) {
	if _, err := NewService(Config{DBPath: ":memory:", Dir: t.TempDir()}, nil); err == nil {
		t.Fatal("expected error for :memory: database")
	}
	if _, err := NewService(Config{DBPath: "x.db"}, nil); err == nil {
		t.Fatal("expected error for missing snapshot directory")
	}
}

func TestSnapshotIsVerifiedAndReadable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, seedDatabase(t), 3)

	result, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !result.Verified {
		t.Error("expected snapshot to be verified")
	}
	if result.Size == 0 {
		t.Error("expected non-empty snapshot")
	}
	if filepath.Base(result.Path) != "tracemem-20240101-000100.000.db" {
		t.Errorf("unexpected snapshot name %s", filepath.Base(result.Path))
	}

	snap, err := sqlite.New(result.Path)
	if err != nil {
		t.Fatalf("failed to open snapshot: %v", err)
	}
	defer func() { _ = snap.Close() }()
	n, err := snap.Count(ctx, "tracemem_Amy_Mike_episodes")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 record in snapshot, got %d", n)
	}
}

func TestSnapshotPrunesBeyondKeep(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, seedDatabase(t), 2)

	var paths []string
	for i := 0; i < 4; i++ {
		result, err := svc.Snapshot(ctx)
		if err != nil {
			t.Fatalf("Snapshot %d: %v", i, err)
		}
		paths = append(paths, result.Path)
	}

	snapshots, err := List(svc.Dir())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snapshots))
	}
	if snapshots[0].Path != paths[3] || snapshots[1].Path != paths[2] {
		t.Errorf("expected the two newest snapshots, got %s and %s", snapshots[0].Path, snapshots[1].Path)
	}

	usage, err := DiskUsage(svc.Dir())
	if err != nil {
		t.Fatalf("DiskUsage: %v", err)
	}
	if usage != snapshots[0].Size+snapshots[1].Size {
		t.Errorf("unexpected disk usage %d", usage)
	}
}

func TestRestoreReplacesDatabase(t *testing.T) {
	ctx := context.Background()
	dbPath := seedDatabase(t)
	svc := newTestService(t, dbPath, 2)

	result, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	store, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.DropCollection(ctx, "tracemem_Amy_Mike_episodes"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}
	_ = store.Close()

	if err := svc.Restore(ctx, result.Path); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	store, err = sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = store.Close() }()
	n, err := store.Count(ctx, "tracemem_Amy_Mike_episodes")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected restored record, got count %d", n)
	}
}

func TestListIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"readme.txt", "tracemem-20240101-000000.000.db", "manual.db"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.db"), 0o755); err != nil {
		t.Fatal(err)
	}

	snapshots, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snapshots))
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range snapshots {
		if filepath.Base(s.Path) == "tracemem-20240101-000000.000.db" && !s.Timestamp.Equal(want) {
			t.Errorf("expected timestamp from name, got %v", s.Timestamp)
		}
	}

	if _, err := List(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
	if _, err := Prune(dir, 0); err == nil {
		t.Error("expected error for keep < 1")
	}
}
