// Package app assembles the store, providers and domain services from config.
// Both the HTTP service and the operator CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/reelforge/internal/approval"
	"github.com/jo-hoe/reelforge/internal/batch"
	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/dispatch"
	"github.com/jo-hoe/reelforge/internal/jobs"
	"github.com/jo-hoe/reelforge/internal/lock/redislock"
	"github.com/jo-hoe/reelforge/internal/narration"
	"github.com/jo-hoe/reelforge/internal/provider"
	"github.com/jo-hoe/reelforge/internal/provider/gemini"
	mockvideo "github.com/jo-hoe/reelforge/internal/provider/mock"
	"github.com/jo-hoe/reelforge/internal/provider/openai"
	"github.com/jo-hoe/reelforge/internal/publish"
	"github.com/jo-hoe/reelforge/internal/publish/postbridge"
	"github.com/jo-hoe/reelforge/internal/storage"
)

// App holds the wired services. Close releases the store and any lock backend.
type App struct {
	Cfg        *config.Config
	Store      jobs.Store
	Blobs      storage.Blob
	Videos     *provider.Registry
	Narrator   narration.Synthesizer
	Publisher  publish.Scheduler
	Dispatcher *dispatch.Dispatcher
	Batches    *batch.Factory
	Approvals  *approval.Gate
	// Files is set when artifacts are written to the local filesystem.
	Files http.Handler

	closers []func() error
}

// New opens the configured store and builds every service on top of it.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config) (*App, error) {
	a := &App{Cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.Blobs = blobs
	if fs, isFS := blobs.(*storage.FS); isFS {
		a.Files = fs.Handler()
	}

	a.Videos = provider.NewRegistry()
	a.Videos.Add(openai.New(cfg.Video.OpenAI, blobs))
	a.Videos.Add(gemini.New(cfg.Video.Gemini, blobs))
	if cfg.Video.Mock.Enabled {
		a.Videos.Add(mockvideo.New(cfg.Video.Mock))
	}

	if a.Narrator, err = narration.New(cfg.Narration, blobs); err != nil {
		return nil, fmt.Errorf("init narration: %w", err)
	}

	if cfg.Publish.PostBridge.Enabled {
		a.Publisher = postbridge.New(cfg.Publish.PostBridge)
	}

	a.Dispatcher = dispatch.New(log, cfg, store, a.Videos, a.Narrator, blobs)
	if cfg.Worker.LockBackend == "redis" {
		locker, err := redislock.Dial(ctx, cfg.Worker.Redis, cfg.Worker.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("init redis lock: %w", err)
		}
		a.Dispatcher.Locker = locker
		a.closers = append(a.closers, locker.Close)
	}

	a.Batches = batch.New(log, cfg.Batch, store)
	a.Approvals = approval.New(log, store)

	log.Info("services ready",
		"database", cfg.Database.Driver,
		"storage", cfg.Storage.Backend,
		"video_providers", a.Videos.Names(),
		"narration", cfg.Narration.Provider,
		"lock", cfg.Worker.LockBackend,
		"publish", a.Publisher != nil)
	ok = true
	return a, nil
}

// OpenStore opens and migrates the configured database.
func OpenStore(ctx context.Context, cfg *config.Config) (jobs.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		s, err := jobs.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	default:
		s, err := jobs.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s.WithLockTTL(cfg.Worker.LockTTL), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
