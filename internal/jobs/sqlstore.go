package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Fixed-width so text timestamps in SQLite sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const itemColumns = `id, job_id, mode, status, concept_json, remote_task_id, approval_status, approval_note,
	quality_score, quality_json, estimated_cost_usd, error, created_at, updated_at`

const jobColumns = `id, status, requested_count, a_count, b_count, workflow_mode, voice_profile_id, settings_json,
	created_at, updated_at`

const outputColumns = `id, job_item_id, type, blob_url, meta_json, created_at`

const voiceColumns = `id, name, provider, external_voice_id, is_default, settings_json, created_at, updated_at`

const publishColumns = `id, output_id, channel, scheduled_for, status, external_post_id, payload_json, error,
	created_at, updated_at`

// sqlStore holds the database/sql logic shared by the SQLite and PostgreSQL stores.
// Queries are written with ? placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) ts(t time.Time) any {
	t = t.UTC()
	if s.dialect == dialectSQLite {
		return t.Format(timeLayout)
	}
	return t
}

func (s *sqlStore) timestamp() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

// migrate applies every *.sql file in migFS not yet recorded in schema_migrations.
func (s *sqlStore) migrate(ctx context.Context, migFS fs.FS) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		var exists int
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(1) FROM schema_migrations WHERE version = ?`), file).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if exists > 0 {
			continue
		}
		body, err := fs.ReadFile(migFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`),
			file, s.timestamp().Format(timeLayout)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

func (s *sqlStore) CreateJob(ctx context.Context, job *Job) error {
	if err := validateJob(job); err != nil {
		return err
	}
	return s.insertJob(ctx, s.db, job)
}

func (s *sqlStore) CreateJobItem(ctx context.Context, item *Item) error {
	if err := validateItem(item); err != nil {
		return err
	}
	return s.insertItem(ctx, s.db, item)
}

func (s *sqlStore) CreateBatch(ctx context.Context, job *Job, items []*Item) error {
	if err := validateJob(job); err != nil {
		return err
	}
	for _, it := range items {
		if err := validateItem(it); err != nil {
			return err
		}
		if it.JobID != job.ID {
			return Invalid("job_id", "item %s belongs to %s, not %s", it.ID, it.JobID, job.ID)
		}
	}
	// Strictly increasing timestamps keep claim order equal to insertion order.
	base := s.timestamp()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = base
	}
	for i, it := range items {
		if it.CreatedAt.IsZero() {
			it.CreatedAt = base.Add(time.Duration(i) * time.Microsecond)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertJob(ctx, tx, job); err != nil {
		return err
	}
	for _, it := range items {
		if err := s.insertItem(ctx, tx, it); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *sqlStore) insertJob(ctx context.Context, ex execer, job *Job) error {
	now := s.timestamp()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	settings, err := encodeJSON(job.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = ex.ExecContext(ctx, s.rebind(`INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID, string(job.Status), job.RequestedCount, job.ACount, job.BCount, string(job.WorkflowMode),
		nullString(job.VoiceProfileID), settings, s.ts(job.CreatedAt), s.ts(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *sqlStore) insertItem(ctx context.Context, ex execer, item *Item) error {
	now := s.timestamp()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = item.CreatedAt
	concept, err := encodeJSON(item.Concept)
	if err != nil {
		return fmt.Errorf("marshal concept: %w", err)
	}
	quality, err := encodeJSON(item.Quality)
	if err != nil {
		return fmt.Errorf("marshal quality: %w", err)
	}
	_, err = ex.ExecContext(ctx, s.rebind(`INSERT INTO job_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		item.ID, item.JobID, string(item.Mode), string(item.Status), concept, nullString(item.RemoteTaskID),
		string(item.ApprovalStatus), nullString(item.ApprovalNote), nullFloat(item.QualityScore), quality,
		nullFloat(item.EstimatedCostUSD), nullString(item.Error), s.ts(item.CreatedAt), s.ts(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job item: %w", err)
	}
	return nil
}

func (s *sqlStore) SetJobItemStatus(ctx context.Context, id string, status ItemStatus, errMsg *string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE job_items SET status = ?, error = ?, updated_at = ? WHERE id = ?`),
		string(status), nullString(errMsg), s.ts(s.timestamp()), id)
	if err != nil {
		return fmt.Errorf("update item status: %w", err)
	}
	return expectRow(res, "job item", id)
}

func (s *sqlStore) SetJobItemRemoteTask(ctx context.Context, id string, taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return Invalid("remote_task_id", "is required")
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE job_items
		SET remote_task_id = ?, status = ?, updated_at = ?
		WHERE id = ? AND (remote_task_id IS NULL OR remote_task_id = ?)`),
		taskID, string(ItemAwaitingRemote), s.ts(s.timestamp()), id, taskID)
	if err != nil {
		return fmt.Errorf("update item remote task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetJobItem(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("job item %s: %w", id, ErrRemoteTaskConflict)
}

func (s *sqlStore) SetJobItemApproval(ctx context.Context, id string, approval ApprovalStatus, status ItemStatus, note *string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE job_items
		SET approval_status = ?, status = ?, approval_note = ?, updated_at = ?
		WHERE id = ? AND approval_status = ? AND status = ?`),
		string(approval), string(status), nullString(note), s.ts(s.timestamp()), id,
		string(ApprovalPending), string(ItemAwaitingApproval))
	if err != nil {
		return fmt.Errorf("update item approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetJobItem(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("job item %s: %w", id, ErrNotPending)
}

func (s *sqlStore) InsertOutput(ctx context.Context, out *Output) error {
	if out == nil || out.ID == "" || out.ItemID == "" {
		return Invalid("output", "id and item id are required")
	}
	if strings.TrimSpace(out.URL) == "" {
		return Invalid("blob_url", "is required")
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = s.timestamp()
	}
	meta, err := encodeJSON(out.Meta)
	if err != nil {
		return fmt.Errorf("marshal output meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO outputs (`+outputColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		out.ID, out.ItemID, string(out.Type), out.URL, meta, s.ts(out.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert output: %w", err)
	}
	return nil
}

// refreshJobStatus recomputes the job status from scratch inside tx. lockJob is
// appended to the job lookup so concurrent refreshes of one job serialize.
func (s *sqlStore) refreshJobStatus(ctx context.Context, jobID string, lockJob string) (JobStatus, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin refresh: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM jobs WHERE id = ?`+lockJob), jobID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return "", fmt.Errorf("lookup job: %w", err)
	}

	rows, err := tx.QueryContext(ctx, s.rebind(`SELECT status FROM job_items WHERE job_id = ?`), jobID)
	if err != nil {
		return "", fmt.Errorf("list item statuses: %w", err)
	}
	statuses := make([]ItemStatus, 0, 16)
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			_ = rows.Close()
			return "", fmt.Errorf("scan item status: %w", err)
		}
		statuses = append(statuses, ItemStatus(st))
	}
	if err := rows.Close(); err != nil {
		return "", fmt.Errorf("close item statuses: %w", err)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate item statuses: %w", err)
	}

	status := Rollup(statuses)
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), s.ts(s.timestamp()), jobID); err != nil {
		return "", fmt.Errorf("update job status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit refresh: %w", err)
	}
	return status, nil
}

func (s *sqlStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

func (s *sqlStore) GetJobItem(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+itemColumns+` FROM job_items WHERE id = ?`), id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job item %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan job item: %w", err)
	}
	return item, nil
}

func (s *sqlStore) GetJobDetails(ctx context.Context, id string) (*JobDetails, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.queryItems(ctx, `SELECT `+itemColumns+` FROM job_items WHERE job_id = ? ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT o.id, o.job_item_id, o.type, o.blob_url, o.meta_json, o.created_at
		FROM outputs o
		INNER JOIN job_items ji ON ji.id = o.job_item_id
		WHERE ji.job_id = ?
		ORDER BY o.created_at ASC, o.id ASC`), id)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	defer rows.Close()
	outputs := make([]*Output, 0, len(items))
	for rows.Next() {
		o, err := scanOutput(rows)
		if err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		outputs = append(outputs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outputs: %w", err)
	}
	return &JobDetails{Job: job, Items: items, Outputs: outputs}, nil
}

func (s *sqlStore) GetOutput(ctx context.Context, id string) (*Output, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+outputColumns+` FROM outputs WHERE id = ?`), id)
	o, err := scanOutput(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("output %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan output: %w", err)
	}
	return o, nil
}

func (s *sqlStore) queryItems(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list job items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	out := make([]*Item, 0, 16)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job item: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job items: %w", err)
	}
	return out, nil
}

func (s *sqlStore) CreateVoiceProfile(ctx context.Context, p *VoiceProfile) error {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return Invalid("id", "is required")
	}
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.ExternalVoiceID) == "" {
		return Invalid("voice_profile", "name and external voice id are required")
	}
	if p.Provider == "" {
		p.Provider = "elevenlabs"
	}
	now := s.timestamp()
	p.CreatedAt, p.UpdatedAt = now, now
	settings, err := encodeJSON(p.Settings)
	if err != nil {
		return fmt.Errorf("marshal voice settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin voice profile: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if p.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE voice_profiles SET is_default = FALSE WHERE is_default = TRUE`); err != nil {
			return fmt.Errorf("clear default voice: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO voice_profiles (`+voiceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.Name, p.Provider, p.ExternalVoiceID, p.IsDefault, settings, s.ts(now), s.ts(now)); err != nil {
		return fmt.Errorf("insert voice profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit voice profile: %w", err)
	}
	return nil
}

func (s *sqlStore) UpdateVoiceProfile(ctx context.Context, id string, upd VoiceProfileUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{s.ts(s.timestamp())}
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.ExternalVoiceID != nil {
		sets = append(sets, "external_voice_id = ?")
		args = append(args, *upd.ExternalVoiceID)
	}
	if upd.IsDefault != nil {
		sets = append(sets, "is_default = ?")
		args = append(args, *upd.IsDefault)
	}
	if upd.Settings != nil {
		settings, err := encodeJSON(upd.Settings)
		if err != nil {
			return fmt.Errorf("marshal voice settings: %w", err)
		}
		sets = append(sets, "settings_json = ?")
		args = append(args, settings)
	}
	args = append(args, id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin voice update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if upd.IsDefault != nil && *upd.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE voice_profiles SET is_default = FALSE WHERE is_default = TRUE`); err != nil {
			return fmt.Errorf("clear default voice: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE voice_profiles SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return fmt.Errorf("update voice profile: %w", err)
	}
	if err := expectRow(res, "voice profile", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit voice update: %w", err)
	}
	return nil
}

func (s *sqlStore) GetVoiceProfile(ctx context.Context, id string) (*VoiceProfile, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+voiceColumns+` FROM voice_profiles WHERE id = ?`), id)
	p, err := scanVoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("voice profile %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan voice profile: %w", err)
	}
	return p, nil
}

func (s *sqlStore) GetDefaultVoiceProfile(ctx context.Context) (*VoiceProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+voiceColumns+` FROM voice_profiles
		WHERE is_default = TRUE ORDER BY updated_at DESC LIMIT 1`)
	p, err := scanVoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("default voice profile: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan voice profile: %w", err)
	}
	return p, nil
}

func (s *sqlStore) ListVoiceProfiles(ctx context.Context) ([]*VoiceProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+voiceColumns+` FROM voice_profiles ORDER BY is_default DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list voice profiles: %w", err)
	}
	defer rows.Close()
	out := make([]*VoiceProfile, 0, 8)
	for rows.Next() {
		p, err := scanVoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voice profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqlStore) CreatePublishEntry(ctx context.Context, e *PublishEntry) error {
	if e == nil || e.ID == "" || e.OutputID == "" {
		return Invalid("publish_entry", "id and output id are required")
	}
	now := s.timestamp()
	e.CreatedAt, e.UpdatedAt = now, now
	payload, err := encodeJSON(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal publish payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO publish_queue (`+publishColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.OutputID, e.Channel, s.ts(e.ScheduledFor), e.Status, nullString(e.ExternalPostID), payload,
		nullString(e.Error), s.ts(now), s.ts(now))
	if err != nil {
		return fmt.Errorf("insert publish entry: %w", err)
	}
	return nil
}

func (s *sqlStore) GetPublishEntry(ctx context.Context, id string) (*PublishEntry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+publishColumns+` FROM publish_queue WHERE id = ?`), id)
	var e PublishEntry
	var ext, errMsg sql.NullString
	var payload []byte
	var scheduled, created, updated dbTime
	if err := row.Scan(&e.ID, &e.OutputID, &e.Channel, &scheduled, &e.Status, &ext, &payload, &errMsg, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("publish entry %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan publish entry: %w", err)
	}
	e.ScheduledFor, e.CreatedAt, e.UpdatedAt = scheduled.t, created.t, updated.t
	e.ExternalPostID = ptrString(ext)
	e.Error = ptrString(errMsg)
	e.Payload = decodeJSON(payload)
	return &e, nil
}

func (s *sqlStore) UpdatePublishStatus(ctx context.Context, id string, status string, errMsg *string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE publish_queue SET status = ?, error = ?, updated_at = ? WHERE id = ?`),
		status, nullString(errMsg), s.ts(s.timestamp()), id)
	if err != nil {
		return fmt.Errorf("update publish status: %w", err)
	}
	return expectRow(res, "publish entry", id)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func scanJob(sc scanner) (*Job, error) {
	var job Job
	var status, mode string
	var voice sql.NullString
	var settings []byte
	var created, updated dbTime
	if err := sc.Scan(&job.ID, &status, &job.RequestedCount, &job.ACount, &job.BCount, &mode, &voice, &settings,
		&created, &updated); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.WorkflowMode = WorkflowMode(mode)
	job.VoiceProfileID = ptrString(voice)
	job.Settings = decodeJSON(settings)
	job.CreatedAt, job.UpdatedAt = created.t, updated.t
	return &job, nil
}

func scanItem(sc scanner) (*Item, error) {
	var it Item
	var mode, status, approval string
	var concept, quality []byte
	var remote, note, errMsg sql.NullString
	var score, cost sql.NullFloat64
	var created, updated dbTime
	if err := sc.Scan(&it.ID, &it.JobID, &mode, &status, &concept, &remote, &approval, &note,
		&score, &quality, &cost, &errMsg, &created, &updated); err != nil {
		return nil, err
	}
	it.Mode = Mode(mode)
	it.Status = ItemStatus(status)
	it.ApprovalStatus = ApprovalStatus(approval)
	it.Concept = Concept(decodeJSON(concept))
	it.Quality = decodeJSON(quality)
	it.RemoteTaskID = ptrString(remote)
	it.ApprovalNote = ptrString(note)
	it.Error = ptrString(errMsg)
	it.QualityScore = ptrFloat(score)
	it.EstimatedCostUSD = ptrFloat(cost)
	it.CreatedAt, it.UpdatedAt = created.t, updated.t
	return &it, nil
}

func scanOutput(sc scanner) (*Output, error) {
	var o Output
	var typ string
	var meta []byte
	var created dbTime
	if err := sc.Scan(&o.ID, &o.ItemID, &typ, &o.URL, &meta, &created); err != nil {
		return nil, err
	}
	o.Type = OutputType(typ)
	o.Meta = decodeJSON(meta)
	o.CreatedAt = created.t
	return &o, nil
}

func scanVoice(sc scanner) (*VoiceProfile, error) {
	var p VoiceProfile
	var settings []byte
	var created, updated dbTime
	if err := sc.Scan(&p.ID, &p.Name, &p.Provider, &p.ExternalVoiceID, &p.IsDefault, &settings, &created, &updated); err != nil {
		return nil, err
	}
	p.Settings = decodeJSON(settings)
	p.CreatedAt, p.UpdatedAt = created.t, updated.t
	return &p, nil
}

// dbTime scans timestamps stored as TIMESTAMPTZ (PostgreSQL) or fixed-width text (SQLite).
type dbTime struct {
	t     time.Time
	valid bool
}

func (d *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.t, d.valid = time.Time{}, false
		return nil
	case time.Time:
		d.t, d.valid = v.UTC(), true
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
}

func (d *dbTime) parse(s string) error {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse time %q: %w", s, err)
		}
	}
	d.t, d.valid = t.UTC(), true
	return nil
}

func encodeJSON(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeJSON leaves the map empty on malformed input rather than failing the read.
func decodeJSON(b []byte) map[string]any {
	m := map[string]any{}
	if len(b) == 0 {
		return m
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptrString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func ptrFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}
