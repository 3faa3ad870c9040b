package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Service takes snapshots of one database file.
type Service struct {
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewService creates a snapshot service and its directory.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if cfg.DBPath == "" || cfg.DBPath == ":memory:" {
		return nil, fmt.Errorf("a database file path is required, got %q", cfg.DBPath)
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, logger: logger, now: time.Now}, nil
}

// Dir returns the snapshot directory.
func (s *Service) Dir() string { return s.cfg.Dir }

// Snapshot writes a new snapshot, verifies it when configured and prunes
// older snapshots beyond the retention count. A snapshot that fails
// verification is removed.
func (s *Service) Snapshot(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	path := filepath.Join(s.cfg.Dir, fileName(start))
	if err := snapshotSQLite(ctx, s.cfg.DBPath, path); err != nil {
		return nil, err
	}

	result := &Result{Path: path}
	if s.cfg.Verify {
		if err := verifySnapshot(ctx, path); err != nil {
			_ = os.Remove(path)
			return nil, fmt.Errorf("snapshot %s failed verification: %w", path, err)
		}
		result.Verified = true
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	result.Size = info.Size()
	result.Duration = time.Since(start)

	pruned, err := Prune(s.cfg.Dir, s.cfg.Keep)
	result.Pruned = pruned
	if err != nil {
		s.logger.Warn("backup: retention incomplete", "dir", s.cfg.Dir, "error", err)
	}

	s.logger.Info("backup: snapshot written",
		"path", path, "size", result.Size, "duration", result.Duration,
		"verified", result.Verified, "pruned", len(pruned))
	return result, nil
}

// Restore replaces the database file with a snapshot. The store must be
// closed while this runs.
func (s *Service) Restore(ctx context.Context, snapshotPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := restoreSQLite(ctx, snapshotPath, s.cfg.DBPath); err != nil {
		return err
	}
	s.logger.Info("backup: database restored", "from", snapshotPath, "to", s.cfg.DBPath)
	return nil
}
