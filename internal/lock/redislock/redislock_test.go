package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jo-hoe/reelforge/internal/config"
)

func newPair(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *Locker, *Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	a := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
	b := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return mr, a, b
}

func TestLocker_Exclusive(t *testing.T) {
	_, a, b := newPair(t, time.Minute)
	ctx := context.Background()

	ok, err := a.TryAcquire(ctx, "main-worker")
	if err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	ok, err = b.TryAcquire(ctx, "main-worker")
	if err != nil || ok {
		t.Fatalf("second acquire should fail: %v %v", ok, err)
	}
	// a release by the non-holder must not free the lock
	if err := b.Release(ctx, "main-worker"); err != nil {
		t.Fatalf("release by other: %v", err)
	}
	if ok, _ := b.TryAcquire(ctx, "main-worker"); ok {
		t.Fatalf("lock was released by a non-holder")
	}
	if err := a.Release(ctx, "main-worker"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := b.TryAcquire(ctx, "main-worker"); !ok {
		t.Fatalf("lock not acquirable after release")
	}
}

func TestLocker_ExpiresAfterTTL(t *testing.T) {
	mr, a, b := newPair(t, 5*time.Second)
	ctx := context.Background()
	if ok, _ := a.TryAcquire(ctx, "main-worker"); !ok {
		t.Fatalf("acquire failed")
	}
	mr.FastForward(6 * time.Second)
	if ok, _ := b.TryAcquire(ctx, "main-worker"); !ok {
		t.Fatalf("expired lock was not taken over")
	}
}

func TestLocker_StaleReleaseKeepsTakeover(t *testing.T) {
	mr, a, b := newPair(t, 5*time.Second)
	ctx := context.Background()
	if ok, _ := a.TryAcquire(ctx, "main-worker"); !ok {
		t.Fatalf("acquire failed")
	}
	mr.FastForward(6 * time.Second)
	if ok, _ := a.TryAcquire(ctx, "main-worker"); ok {
		t.Fatalf("a started a second hold before releasing the first")
	}
	if ok, _ := b.TryAcquire(ctx, "main-worker"); !ok {
		t.Fatalf("b takeover failed")
	}
	if err := a.Release(ctx, "main-worker"); err != nil {
		t.Fatalf("a release: %v", err)
	}
	if !mr.Exists(keyPrefix + "main-worker") {
		t.Fatalf("a released the key b holds")
	}
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := Dial(context.Background(), config.RedisSettings{Addr: mr.Addr()}, 0)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = l.Close() }()
	if l.ttl != 10*time.Minute {
		t.Fatalf("default ttl = %v", l.ttl)
	}
	if _, err := Dial(context.Background(), config.RedisSettings{Addr: "127.0.0.1:1"}, 0); err == nil {
		t.Fatalf("expected dial error")
	}
}
