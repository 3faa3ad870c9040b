package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/YimingShu-teay/TraceMem/internal/backup"
	"github.com/YimingShu-teay/TraceMem/internal/card"
	"github.com/YimingShu-teay/TraceMem/internal/config"
	"github.com/YimingShu-teay/TraceMem/internal/engine"
	"github.com/YimingShu-teay/TraceMem/internal/extract"
	"github.com/YimingShu-teay/TraceMem/internal/llm"
	"github.com/YimingShu-teay/TraceMem/internal/memory"
	"github.com/YimingShu-teay/TraceMem/internal/router"
	"github.com/YimingShu-teay/TraceMem/internal/segment"
	"github.com/YimingShu-teay/TraceMem/internal/storage"
	"github.com/YimingShu-teay/TraceMem/internal/storage/postgres"
	"github.com/YimingShu-teay/TraceMem/internal/storage/sqlite"
)

// app is the composition root. Components are created on first use so that
// commands which never call a provider do not need provider credentials.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error

	backend  storage.Backend
	embedder llm.EmbeddingGenerator
	gen      llm.TextGenerator
	mem      *memory.Store
	files    *card.FileStore
}

func newApp(cfg *config.Config, logger *slog.Logger, closeLog func() error) *app {
	return &app{cfg: cfg, logger: logger, closeLog: closeLog}
}

// Close releases the backend and the log file.
func (a *app) Close() error {
	var errs []error
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
		a.backend = nil
	}
	if a.closeLog != nil {
		errs = append(errs, a.closeLog())
		a.closeLog = nil
	}
	return errors.Join(errs...)
}

// openBackend connects the configured storage engine once.
func (a *app) openBackend() (storage.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	if err := a.cfg.ValidateStorage(); err != nil {
		return nil, err
	}

	var (
		backend storage.Backend
		err     error
	)
	switch a.cfg.Storage.Engine {
	case "postgres":
		backend, err = postgres.New(a.cfg.Storage.PostgresDSN, a.logger)
	default:
		backend, err = sqlite.New(a.cfg.Storage.SQLitePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", a.cfg.Storage.Engine, err)
	}
	a.logger.Debug("storage opened", "engine", a.cfg.Storage.Engine)
	a.backend = backend
	return backend, nil
}

// memory returns the memory store. With providers set, the LLM settings are
// validated and the embedder is attached; without, only reads that need no
// embedding work. The first call decides.
func (a *app) memory(providers bool) (*memory.Store, error) {
	if providers {
		if err := a.initProviders(); err != nil {
			return nil, err
		}
	}
	if a.mem != nil {
		return a.mem, nil
	}
	backend, err := a.openBackend()
	if err != nil {
		return nil, err
	}
	a.mem = memory.NewStore(backend, a.embedder, a.cfg.Storage.CollectionPrefix, a.logger)
	return a.mem, nil
}

func (a *app) initProviders() error {
	if a.gen != nil {
		return nil
	}
	if err := a.cfg.ValidateLLM(); err != nil {
		return err
	}
	gen, err := llm.NewTextGenerator(a.cfg.LLM, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	emb, err := llm.NewEmbeddingGenerator(a.cfg.LLM, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create embedding client: %w", err)
	}
	a.gen, a.embedder = gen, emb
	a.logger.Debug("providers ready", "llm", gen.GetModel(), "embedding", emb.GetModel())
	return nil
}

// cards returns the card file store, creating its directory.
func (a *app) cards() (*card.FileStore, error) {
	if a.files != nil {
		return a.files, nil
	}
	if err := os.MkdirAll(a.cfg.Paths.CardsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cards directory: %w", err)
	}
	a.files = card.NewFileStore(a.cfg.Paths.CardsDir, a.logger)
	return a.files, nil
}

// engine wires every stage for a dataset command.
func (a *app) engine(workers int) (*engine.Engine, error) {
	mem, err := a.memory(true)
	if err != nil {
		return nil, err
	}
	files, err := a.cards()
	if err != nil {
		return nil, err
	}

	pipeline := engine.NewPipeline(segment.New(a.gen, a.logger), extract.New(a.gen, a.logger), mem, a.logger)
	builder := card.NewBuilder(mem, a.gen, files, a.cfg.Pipeline.ClusterSeed, a.logger)
	r := router.New(a.gen, mem, files, router.Options{
		EpisodeTopK:    a.cfg.Pipeline.EpisodeTopK,
		HybridEpisodes: a.cfg.Pipeline.HybridEpisodes,
	}, a.logger)

	return engine.New(pipeline, builder, r, engine.Config{Workers: workers}, a.logger)
}

// snapshots returns the snapshot service for the SQLite store.
func (a *app) snapshots() (*backup.Service, error) {
	if a.cfg.Storage.Engine != "sqlite" {
		return nil, fmt.Errorf("snapshots are only supported for sqlite storage, not %q", a.cfg.Storage.Engine)
	}
	return backup.NewService(backup.Config{
		DBPath: a.cfg.Storage.SQLitePath,
		Dir:    a.cfg.Backup.SnapshotDir,
		Keep:   a.cfg.Backup.Keep,
		Verify: true,
	}, a.logger)
}

// snapshot takes a snapshot, logging instead of failing for non-SQLite stores.
func (a *app) snapshot(ctx context.Context) error {
	svc, err := a.snapshots()
	if err != nil {
		a.logger.Warn("snapshot skipped", "error", err)
		return nil
	}
	result, err := svc.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	fmt.Printf("Snapshot written: %s (%d bytes)\n", result.Path, result.Size)
	return nil
}
