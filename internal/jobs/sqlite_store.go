package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jo-hoe/reelforge/internal/jobs/migrations"
)

// DefaultLockTTL bounds how long a crashed holder can keep the dispatch lock in SQLite.
const DefaultLockTTL = 10 * time.Minute

// SQLiteStore is the embedded Store used for single-node deployments and tests.
type SQLiteStore struct {
	*sqlStore
	lockTTL time.Duration

	mu sync.Mutex
	// held maps a lock name to the owner token of the acquisition this store made.
	held map[string]string
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access; immediate transactions
	// take the write lock up front so claim and rollup never upgrade mid-flight.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	s := &SQLiteStore{
		sqlStore: &sqlStore{db: db, dialect: dialectSQLite},
		lockTTL:  DefaultLockTTL,
		held:     map[string]string{},
	}
	if err := s.migrate(context.Background(), migrations.SQLite()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

// WithLockTTL overrides how long an unreleased lock is honored before it may be taken over.
func (s *SQLiteStore) WithLockTTL(ttl time.Duration) *SQLiteStore {
	if ttl > 0 {
		s.lockTTL = ttl
	}
	return s
}

func (s *SQLiteStore) ClaimJobItems(ctx context.Context, limit int) ([]*Item, error) {
	if limit <= 0 {
		return []*Item{}, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `UPDATE job_items
		SET status = CASE WHEN status = ? THEN ? ELSE status END,
		    updated_at = CASE WHEN status = ? THEN ? ELSE updated_at END
		WHERE id IN (
			SELECT id FROM job_items
			WHERE status IN (?, ?)
			ORDER BY created_at ASC, rowid ASC
			LIMIT ?
		)
		RETURNING `+itemColumns,
		string(ItemQueued), string(ItemProcessing),
		string(ItemQueued), s.ts(s.timestamp()),
		string(ItemQueued), string(ItemAwaitingRemote),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim job items: %w", err)
	}
	items, err := collectItems(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	// RETURNING order is unspecified.
	slices.SortStableFunc(items, func(a, b *Item) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return items, nil
}

func (s *SQLiteStore) RefreshJobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	return s.refreshJobStatus(ctx, jobID, "")
}

// TryAcquireLock inserts a row into worker_locks under a fresh owner token.
// Expired rows left behind by a crashed holder are removed first. While this
// store still holds name, further acquisitions fail even after the row expired.
func (s *SQLiteStore) TryAcquireLock(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.held[name]; ok {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin lock: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.timestamp()
	if _, err := tx.ExecContext(ctx, `DELETE FROM worker_locks WHERE key = ? AND expires_at < ?`, name, s.ts(now)); err != nil {
		return false, fmt.Errorf("expire lock: %w", err)
	}
	token := uuid.NewString()
	res, err := tx.ExecContext(ctx, `INSERT INTO worker_locks (key, owner, acquired_at, expires_at)
		VALUES (?, ?, ?, ?) ON CONFLICT(key) DO NOTHING`,
		name, token, s.ts(now), s.ts(now.Add(s.lockTTL)))
	if err != nil {
		return false, fmt.Errorf("insert lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit lock: %w", err)
	}
	if n != 1 {
		return false, nil
	}
	s.held[name] = token
	return true, nil
}

// ReleaseLock removes the row only while it still carries this store's token,
// so a holder whose lock expired and was taken over cannot free the new holder.
// Releasing a lock that is not held is a no-op.
func (s *SQLiteStore) ReleaseLock(ctx context.Context, name string) error {
	s.mu.Lock()
	token, ok := s.held[name]
	delete(s.held, name)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM worker_locks WHERE key = ? AND owner = ?`, name, token); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
