package lock

import (
	"context"

	"github.com/jo-hoe/reelforge/internal/jobs"
)

// Locker is a named, non-blocking mutual exclusion primitive shared across processes.
type Locker interface {
	TryAcquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

// StoreLocker uses the lock implementation built into a jobs.Store.
type StoreLocker struct {
	Store jobs.Store
}

var _ Locker = StoreLocker{}

func (l StoreLocker) TryAcquire(ctx context.Context, name string) (bool, error) {
	return l.Store.TryAcquireLock(ctx, name)
}

func (l StoreLocker) Release(ctx context.Context, name string) error {
	return l.Store.ReleaseLock(ctx, name)
}
