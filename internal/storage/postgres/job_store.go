// Package postgres provides Postgres-backed job history.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for job rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobStore persists job records. Rows are history only; nothing resumes work from them.
type JobStore struct {
	pool  pool
	table string
	now   func() time.Time
}

// NewJobStore connects to Postgres using cfg.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewJobStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, table string) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "archive_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{
		pool:  p,
		table: table,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the job table when it does not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	source       TEXT NOT NULL,
	archive_name TEXT NOT NULL,
	chapters     INTEGER NOT NULL,
	status       TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	error_text   TEXT,
	delivery_id  TEXT,
	counters     JSONB NOT NULL DEFAULT '{}'
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create job table: %w", err)
	}
	return nil
}

// CreateJob inserts a queued job row.
func (s *JobStore) CreateJob(ctx context.Context, record archiver.JobRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	counters, err := json.Marshal(record.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	owner_id,
	source,
	archive_name,
	chapters,
	status,
	submitted_at,
	counters
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)
	args := []any{
		record.ID,
		record.OwnerID,
		record.SourceName,
		record.ArchiveName,
		record.Chapters,
		string(record.Status),
		record.Submitted,
		counters,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus moves a non-terminal job to status.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status archiver.JobStatus,
	errText string,
	counters archiver.JobCounters,
) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	var started, finished *time.Time
	now := s.now()
	if status == archiver.JobStatusRunning {
		started = &now
	}
	if status.Terminal() {
		finished = &now
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	counters = $4,
	started_at = COALESCE(started_at, $5),
	finished_at = COALESCE($6, finished_at)
WHERE id = $1 AND status NOT IN ('completed', 'failed', 'canceled')`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), errText, countersJSON, started, finished)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", jobID, archiver.ErrJobNotFound)
	}
	return nil
}

// RecordDelivery stores the delivery ID for a job.
func (s *JobStore) RecordDelivery(ctx context.Context, jobID string, deliveryID string) error {
	query := fmt.Sprintf(`UPDATE %s SET delivery_id = $2 WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, deliveryID)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record delivery %s: %w", jobID, archiver.ErrJobNotFound)
	}
	return nil
}

// GetJob loads one job row.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (archiver.JobRecord, error) {
	query := fmt.Sprintf(`
SELECT
	id,
	owner_id,
	source,
	archive_name,
	chapters,
	status,
	submitted_at,
	started_at,
	finished_at,
	COALESCE(error_text, ''),
	COALESCE(delivery_id, ''),
	counters
FROM %s WHERE id = $1`, s.table)

	var (
		rec      archiver.JobRecord
		status   string
		counters []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.SourceName,
		&rec.ArchiveName,
		&rec.Chapters,
		&status,
		&rec.Submitted,
		&rec.Started,
		&rec.Finished,
		&rec.ErrorText,
		&rec.DeliveryID,
		&counters,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return archiver.JobRecord{}, archiver.ErrJobNotFound
	}
	if err != nil {
		return archiver.JobRecord{}, fmt.Errorf("select job: %w", err)
	}
	rec.Status = archiver.JobStatus(status)
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &rec.Counters); err != nil {
			return archiver.JobRecord{}, fmt.Errorf("unmarshal counters: %w", err)
		}
	}
	return rec, nil
}
