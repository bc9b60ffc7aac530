package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/lock"
	"github.com/jo-hoe/reelforge/internal/lock/redislock"
	"github.com/jo-hoe/reelforge/internal/provider"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func parse(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func TestNew_DefaultsWithMockAndFS(t *testing.T) {
	dir := t.TempDir()
	cfg := parse(t, `
database:
  path: `+filepath.Join(dir, "app.db")+`
storage:
  backend: fs
  dir: `+filepath.Join(dir, "files")+`
video:
  mock:
    enabled: true
narration:
  provider: mock
`)
	a, err := New(context.Background(), discard(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if _, ok := a.Videos.Get(provider.Mock); !ok {
		t.Fatalf("mock provider should be registered")
	}
	if a.Files == nil {
		t.Fatalf("fs storage should expose a file handler")
	}
	if a.Narrator == nil {
		t.Fatalf("mock narrator should be configured")
	}
	if a.Publisher != nil {
		t.Fatalf("publisher should be nil when post bridge is disabled")
	}
	if _, ok := a.Dispatcher.Locker.(lock.StoreLocker); !ok {
		t.Fatalf("default locker = %T, want lock.StoreLocker", a.Dispatcher.Locker)
	}

	res, err := a.Dispatcher.RunPass(context.Background())
	if err != nil || res.Skipped || res.Processed != 0 {
		t.Fatalf("empty pass = %+v, %v", res, err)
	}
}

func TestNew_RedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	cfg := parse(t, `
database:
  path: `+filepath.Join(dir, "app.db")+`
worker:
  lockBackend: redis
  redis:
    addr: `+mr.Addr()+`
publish:
  postBridge:
    enabled: true
    apiKey: pb-key
    workspaceId: ws-1
`)
	a, err := New(context.Background(), discard(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := a.Dispatcher.Locker.(*redislock.Locker); !ok {
		t.Fatalf("locker = %T, want *redislock.Locker", a.Dispatcher.Locker)
	}
	if a.Publisher == nil {
		t.Fatalf("post bridge publisher should be configured")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNew_RedisUnavailable(t *testing.T) {
	dir := t.TempDir()
	cfg := parse(t, `
database:
  path: `+filepath.Join(dir, "app.db")+`
worker:
  lockBackend: redis
  redis:
    addr: 127.0.0.1:1
`)
	if _, err := New(context.Background(), discard(), cfg); err == nil {
		t.Fatalf("expected error when redis is unreachable")
	}
}
