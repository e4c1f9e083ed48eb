package db

import (
	"context"
	"time"

	"finpulse/internal/types"
)

// ============================================================
// JobLockRepository
// ============================================================

// JobLockRepository provides distributed locking via the job_locks table.
// The locking mechanism uses INSERT ... ON CONFLICT DO UPDATE to atomically
// acquire a lock, ensuring only one engine instance runs a given scheduled
// task within a time window.
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a new JobLockRepository backed by the given
// database connection (pool or transaction).
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire attempts to insert a lock row. Returns true if acquired, false if
// the lock already exists and has not expired. The lockID is typically
// "task_type:timestamp_hour" (e.g., "catchup_sweep:2024-04-15T10").
//
// The locked_at and expires_at values are computed as time.Time in Go to
// avoid PostgreSQL interval parsing incompatibilities with Go's duration
// format ("15m0s" is not a valid PG interval).
//
// If the existing row has expired (expires_at < current time), the UPDATE
// succeeds and the caller acquires the lock. If the row is still active,
// the ON CONFLICT WHERE clause prevents the update, and zero rows are
// affected.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}

	// RowsAffected is 1 if the INSERT succeeded (new row) or if the
	// ON CONFLICT UPDATE matched (expired lock reclaimed). It is 0 if
	// the lock exists and has not expired (another worker holds it).
	return tag.RowsAffected() > 0, nil
}

// PruneExpired deletes lock rows that expired before the cutoff. Run by the
// lock_prune maintenance task; acquisition correctness never depends on it.
func (r *JobLockRepository) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM job_locks WHERE expires_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune expired locks", err)
	}
	return tag.RowsAffected(), nil
}

// ============================================================
// JobHistoryRepository
// ============================================================

// JobHistoryRepository provides data access for the job_history table.
// Job history entries track scheduled task executions for operational
// visibility; rows past the retention window are compressed to archive
// files and deleted by the history_archive task.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a new JobHistoryRepository backed by the
// given database connection (pool or transaction).
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start inserts a new job_history row with status 'running' and returns
// the auto-generated BIGSERIAL ID. The caller uses this ID to later call
// Finish with the outcome.
func (r *JobHistoryRepository) Start(ctx context.Context, jobType string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_type, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		jobType,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish updates the job_history row with the final status, item count,
// and optional error message. The status should be 'success' or 'failed'.
// If jobErr is non-nil, its message is stored in the error column.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, jobErr error) error {
	var errMsg *string
	if jobErr != nil {
		s := jobErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = NOW(), status = $2, items_count = $3, error = $4
		 WHERE id = $1`,
		id,
		status,
		items,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}

// ListFinishedBefore returns up to limit finished runs older than the
// cutoff, oldest first. The history_archive task drains the table in
// batches through this.
func (r *JobHistoryRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.JobRun, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, job_type, started_at, finished_at, status, items_count, COALESCE(error, '')
		 FROM job_history
		 WHERE finished_at IS NOT NULL AND finished_at < $1
		 ORDER BY finished_at ASC
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list archivable job history", err)
	}
	defer rows.Close()

	var runs []types.JobRun
	for rows.Next() {
		var run types.JobRun
		if err := rows.Scan(
			&run.ID,
			&run.JobType,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ItemsCount,
			&run.Error,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job history entry", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating job history", err)
	}
	return runs, nil
}

// DeleteByIDs removes archived history rows. Called only after the archive
// file for these rows has been written and synced.
func (r *JobHistoryRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM job_history WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived job history", err)
	}
	return tag.RowsAffected(), nil
}
