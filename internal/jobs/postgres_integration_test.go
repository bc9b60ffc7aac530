package jobs

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPostgresStoreIntegrationClaimAndRollup(t *testing.T) {
	dsn := os.Getenv("REELFORGE_POSTGRES_DSN_INTEGRATION")
	if dsn == "" {
		t.Skip("set REELFORGE_POSTGRES_DSN_INTEGRATION to run Postgres integration tests")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	defer store.Close()

	jobID := "job-int-" + time.Now().UTC().Format("20060102150405.000000")
	_, items := seedBatch(t, store, jobID, ModeA, ModeB)

	claimed, err := store.ClaimJobItems(ctx, 1000)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	mine := map[string]*Item{}
	for _, it := range claimed {
		if it.JobID == jobID {
			mine[it.ID] = it
		}
	}
	if len(mine) != 2 {
		t.Fatalf("expected both items claimed, got %d", len(mine))
	}
	if mine[items[0].ID].Status != ItemProcessing {
		t.Fatalf("claimed item not processing: %+v", mine[items[0].ID])
	}

	if err := store.SetJobItemStatus(ctx, items[0].ID, ItemCompleted, nil); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := store.SetJobItemStatus(ctx, items[1].ID, ItemFailed, strPtr("boom")); err != nil {
		t.Fatalf("set status: %v", err)
	}
	st, err := store.RefreshJobStatus(ctx, jobID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if st != JobPartialFailed {
		t.Fatalf("status = %s, want partial_failed", st)
	}
}

func TestPostgresStoreIntegrationAdvisoryLock(t *testing.T) {
	dsn := os.Getenv("REELFORGE_POSTGRES_DSN_INTEGRATION")
	if dsn == "" {
		t.Skip("set REELFORGE_POSTGRES_DSN_INTEGRATION to run Postgres integration tests")
	}
	ctx := context.Background()
	a, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("store a: %v", err)
	}
	defer a.Close()
	b, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("store b: %v", err)
	}
	defer b.Close()

	name := "itest-lock-" + time.Now().UTC().Format("150405.000000")
	if ok, err := a.TryAcquireLock(ctx, name); err != nil || !ok {
		t.Fatalf("a acquire: %v %v", ok, err)
	}
	if ok, err := b.TryAcquireLock(ctx, name); err != nil || ok {
		t.Fatalf("b acquire while held: %v %v", ok, err)
	}
	if err := a.ReleaseLock(ctx, name); err != nil {
		t.Fatalf("a release: %v", err)
	}
	if ok, err := b.TryAcquireLock(ctx, name); err != nil || !ok {
		t.Fatalf("b acquire after release: %v %v", ok, err)
	}
	_ = b.ReleaseLock(ctx, name)
}
