package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5. Transitions
// lock the job row with SELECT ... FOR UPDATE. Evicted rows are kept with
// evicted_at set so their ids stay reserved.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

const jobColumns = `id, status, prompt, history, result, error, started_at, completed_at, heartbeat_at, created_at, updated_at`

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Create(ctx context.Context, id string, payload models.Payload) (*models.Job, error) {
	if id == "" {
		id = NewID()
	}
	job := newJob(id, payload.Clone(), time.Now().UTC())

	history := job.Payload.History
	if history == nil {
		history = []models.Turn{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create job: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO jobs (id, status, prompt, history, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, string(job.Status), job.Payload.Prompt, history, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateID
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	if len(job.Payload.Attachments) > 0 {
		rows := make([][]any, len(job.Payload.Attachments))
		for i, a := range job.Payload.Attachments {
			rows[i] = []any{job.ID, i, a.Name, a.MediaType, a.Data}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"job_attachments"},
			[]string{"job_id", "position", "name", "media_type", "data"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return nil, fmt.Errorf("store attachments: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create job: %w", err)
	}
	return job.Clone(), nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND evicted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	if err := s.loadAttachments(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, status models.Status, opts ...UpdateOption) error {
	params := collectParams(opts)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update job: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND evicted_at IS NULL FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock job: %w", err)
	}

	if err := checkUpdate(job, status, params); err != nil {
		return err
	}
	applyUpdate(job, status, params, time.Now().UTC())

	_, err = tx.Exec(ctx,
		`UPDATE jobs SET status = $2, result = $3, error = $4, started_at = $5,
		   completed_at = $6, heartbeat_at = $7, updated_at = $8
		 WHERE id = $1`,
		job.ID, string(job.Status), job.Result, job.Error, job.StartedAt,
		job.CompletedAt, job.HeartbeatAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Heartbeat(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET heartbeat_at = $2
		 WHERE id = $1 AND status = 'processing' AND evicted_at IS NULL`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx,
		`SELECT status FROM jobs WHERE id = $1 AND evicted_at IS NULL`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	return heartbeatError(&models.Job{ID: id, Status: models.Status(status)})
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.Status, activeBefore time.Time) ([]*models.Job, error) {
	var cutoff *time.Time
	if !activeBefore.IsZero() {
		cutoff = &activeBefore
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = $1 AND evicted_at IS NULL
		   AND ($2::timestamptz IS NULL OR COALESCE(heartbeat_at, updated_at) < $2)
		 ORDER BY created_at`, string(status), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", status, err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", status, err)
	}

	for _, job := range jobs {
		if err := s.loadAttachments(ctx, job); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (s *PostgresStore) Evict(ctx context.Context, finishedBefore time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin evict: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx,
		`UPDATE jobs SET evicted_at = $2, prompt = '', history = '[]'::jsonb, result = NULL, error = NULL
		 WHERE evicted_at IS NULL AND status IN ('completed', 'failed') AND completed_at < $1
		 RETURNING id`, finishedBefore, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("evict jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, fmt.Errorf("evict jobs: %w", err)
	}

	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM job_attachments WHERE job_id = ANY($1)`, ids); err != nil {
			return 0, fmt.Errorf("evict attachments: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit evict: %w", err)
	}
	return len(ids), nil
}

func (s *PostgresStore) loadAttachments(ctx context.Context, job *models.Job) error {
	rows, err := s.pool.Query(ctx,
		`SELECT name, media_type, data FROM job_attachments WHERE job_id = $1 ORDER BY position`, job.ID)
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.Name, &a.MediaType, &a.Data); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		job.Payload.Attachments = append(job.Payload.Attachments, a)
	}
	return rows.Err()
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j      models.Job
		status string
	)
	err := row.Scan(&j.ID, &status, &j.Payload.Prompt, &j.Payload.History, &j.Result, &j.Error,
		&j.StartedAt, &j.CompletedAt, &j.HeartbeatAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = models.Status(status)
	if len(j.Payload.History) == 0 {
		j.Payload.History = nil
	}
	return &j, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
