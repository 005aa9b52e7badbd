package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const jobColumns = `id, kind, source_ref, config, status, created_at, last_attempt_at,
	attempt_count, error_kind, error_message, user_message, result_count, failed_count`

func (r *PostgresRepo) Create(ctx context.Context, j *Job) error {
	cfg, err := json.Marshal(j.Config)
	if err != nil {
		return err
	}
	query := `INSERT INTO jobs (kind, source_ref, config, status)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, j.Kind, j.SourceRef, cfg, j.Status).
		Scan(&j.ID, &j.CreatedAt)
}

// ClaimNext atomically moves the oldest claimable queued job to processing.
// A job is not claimable while another job for the same source_ref is being
// processed, and SKIP LOCKED keeps concurrent workers from double-claiming.
func (r *PostgresRepo) ClaimNext(ctx context.Context) (*Job, error) {
	query := fmt.Sprintf(`UPDATE jobs SET status = 'processing',
			attempt_count = attempt_count + 1, last_attempt_at = NOW()
		WHERE id = (
			SELECT j.id FROM jobs j
			WHERE j.status = 'queued'
			  AND NOT EXISTS (
				SELECT 1 FROM jobs p
				WHERE p.source_ref = j.source_ref AND p.status = 'processing'
			  )
			ORDER BY j.created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, jobColumns)

	j, err := scanJob(r.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// RequeueStale recovers jobs whose worker died mid-processing: anything still
// processing past the lease goes back to queued, or to failed once it is out
// of attempts. Returns the number of jobs requeued.
func (r *PostgresRepo) RequeueStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (int, error) {
	seconds := olderThan.Seconds()

	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET status = 'failed',
			error_kind = 'internal', error_message = 'worker lost mid-processing',
			user_message = 'Something went wrong while processing this source. Please try again.'
		WHERE status = 'processing'
		  AND last_attempt_at < NOW() - ($1 * interval '1 second')
		  AND attempt_count >= $2`, seconds, maxAttempts)
	if err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, `UPDATE jobs SET status = 'queued'
		WHERE status = 'processing'
		  AND last_attempt_at < NOW() - ($1 * interval '1 second')
		  AND attempt_count < $2`, seconds, maxAttempts)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostgresRepo) Update(ctx context.Context, j *Job) error {
	query := `UPDATE jobs SET status = $1, error_kind = $2, error_message = $3,
			user_message = $4, result_count = $5, failed_count = $6
		WHERE id = $7`
	res, err := r.db.ExecContext(ctx, query, j.Status, j.ErrorKind, j.ErrorMessage,
		j.UserMessage, j.ResultCount, j.FailedCount, j.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)
	return scanJob(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Job, error) {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = ANY($1)`, jobColumns)
	return r.queryJobs(ctx, query, pq.Array(raw))
}

func (r *PostgresRepo) ListBySourceRef(ctx context.Context, ref string) ([]Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE source_ref = $1 ORDER BY created_at DESC`, jobColumns)
	return r.queryJobs(ctx, query, ref)
}

func (r *PostgresRepo) ListBySourceRefPrefix(ctx context.Context, prefix string) ([]Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs
		WHERE source_ref LIKE $1 || '%%' ORDER BY created_at DESC`, jobColumns)
	return r.queryJobs(ctx, query, prefix)
}

func (r *PostgresRepo) HasActive(ctx context.Context, ref string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM jobs
		WHERE source_ref = $1 AND status IN ('queued', 'processing'))`
	err := r.db.QueryRowContext(ctx, query, ref).Scan(&exists)
	return exists, err
}

func (r *PostgresRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) BulkCreatePages(ctx context.Context, pages []Page) error {
	if len(pages) == 0 {
		return nil
	}
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	query := `INSERT INTO job_pages (job_id, url, depth, status, error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id, url) DO NOTHING`
	for _, p := range pages {
		if _, err := txn.ExecContext(ctx, query, p.JobID, p.URL, p.Depth, p.Status, p.Error); err != nil {
			return err
		}
	}
	return txn.Commit()
}

func (r *PostgresRepo) UpdatePageStatus(ctx context.Context, jobID uuid.UUID, url, status, pageErr string) error {
	query := `UPDATE job_pages SET status = $1, error = $2 WHERE job_id = $3 AND url = $4`
	_, err := r.db.ExecContext(ctx, query, status, pageErr, jobID, url)
	return err
}

func (r *PostgresRepo) ListPages(ctx context.Context, jobID uuid.UUID) ([]Page, error) {
	query := `SELECT job_id, url, depth, status, error, created_at
		FROM job_pages WHERE job_id = $1 ORDER BY created_at, url`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.JobID, &p.URL, &p.Depth, &p.Status, &p.Error, &p.CreatedAt); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (r *PostgresRepo) DeletePages(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM job_pages WHERE job_id = $1`, jobID)
	return err
}

func (r *PostgresRepo) queryJobs(ctx context.Context, query string, args ...interface{}) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row *sql.Row) (*Job, error) {
	return scanJobRow(row)
}

func scanJobRow(row rowScanner) (*Job, error) {
	j := &Job{}
	var cfg []byte
	var lastAttempt sql.NullTime
	var errorKind, errorMessage, userMessage sql.NullString

	err := row.Scan(&j.ID, &j.Kind, &j.SourceRef, &cfg, &j.Status, &j.CreatedAt,
		&lastAttempt, &j.AttemptCount, &errorKind, &errorMessage, &userMessage,
		&j.ResultCount, &j.FailedCount)
	if err != nil {
		return nil, err
	}

	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &j.Config); err != nil {
			return nil, err
		}
	}
	if lastAttempt.Valid {
		j.LastAttemptAt = &lastAttempt.Time
	}
	j.ErrorKind = errorKind.String
	j.ErrorMessage = errorMessage.String
	j.UserMessage = userMessage.String
	return j, nil
}
