package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"

	_ "github.com/lib/pq"

	"github.com/jo-hoe/reelforge/internal/jobs/migrations"
)

// PostgresStore is the Store for multi-process deployments. The dispatch lock is a
// session-level advisory lock held on a pinned connection.
type PostgresStore struct {
	*sqlStore

	mu    sync.Mutex
	locks map[string]*sql.Conn
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{
		sqlStore: &sqlStore{db: db, dialect: dialectPostgres},
		locks:    map[string]*sql.Conn{},
	}
	if err := s.migrate(ctx, migrations.Postgres()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ClaimJobItems(ctx context.Context, limit int) ([]*Item, error) {
	if limit <= 0 {
		return []*Item{}, nil
	}
	now := s.ts(s.timestamp())
	rows, err := s.db.QueryContext(ctx, s.rebind(`WITH picked AS (
			SELECT id FROM job_items
			WHERE status IN (?, ?)
			ORDER BY created_at ASC, id ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		UPDATE job_items ji
		SET status = CASE WHEN ji.status = ? THEN ? ELSE ji.status END,
		    updated_at = CASE WHEN ji.status = ? THEN ? ELSE ji.updated_at END
		FROM picked
		WHERE ji.id = picked.id
		RETURNING ji.id, ji.job_id, ji.mode, ji.status, ji.concept_json, ji.remote_task_id, ji.approval_status,
			ji.approval_note, ji.quality_score, ji.quality_json, ji.estimated_cost_usd, ji.error,
			ji.created_at, ji.updated_at`),
		string(ItemQueued), string(ItemAwaitingRemote), limit,
		string(ItemQueued), string(ItemProcessing),
		string(ItemQueued), now,
	)
	if err != nil {
		return nil, fmt.Errorf("claim job items: %w", err)
	}
	defer rows.Close()
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(items, func(a, b *Item) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return items, nil
}

func (s *PostgresStore) RefreshJobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	return s.refreshJobStatus(ctx, jobID, " FOR UPDATE")
}

// TryAcquireLock takes pg_try_advisory_lock on a dedicated connection and keeps
// that connection until ReleaseLock.
func (s *PostgresStore) TryAcquireLock(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[name]; held {
		return false, nil
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("pin lock connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&ok); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return false, nil
	}
	s.locks[name] = conn
	return true, nil
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, name string) error {
	s.mu.Lock()
	conn, held := s.locks[name]
	delete(s.locks, name)
	s.mu.Unlock()
	if !held {
		return nil
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, name); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	for name, conn := range s.locks {
		_ = conn.Close()
		delete(s.locks, name)
	}
	s.mu.Unlock()
	return s.db.Close()
}
