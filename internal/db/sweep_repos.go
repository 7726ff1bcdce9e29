package db

import (
	"context"
	"time"

	"crewbook/internal/types"
)

// ============================================================
// SweepLockRepository
// ============================================================

// SweepLockRepository provides distributed locking via the sweep_locks table
// so only one worker runs a given maintenance task per window. The locking
// mechanism uses INSERT ... ON CONFLICT DO UPDATE to atomically acquire a
// lock row.
type SweepLockRepository struct {
	db DBTX
}

// NewSweepLockRepository creates a new SweepLockRepository backed by the
// given database connection (pool or transaction).
func NewSweepLockRepository(db DBTX) *SweepLockRepository {
	return &SweepLockRepository{db: db}
}

// Acquire attempts to insert a lock row. Returns true if acquired, false if
// the lock already exists and has not expired. The lockID is typically
// "task:timestamp_hour" (e.g., "reschedule_sweep:2025-06-02T06").
//
// The locked_at and expires_at values are computed as time.Time values in Go
// to avoid PostgreSQL interval parsing incompatibilities with Go's duration
// format. If the existing row has expired, the ON CONFLICT UPDATE succeeds
// and the caller reclaims the lock; if it is still active, the WHERE clause
// prevents the update and zero rows are affected.
func (r *SweepLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO sweep_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE sweep_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire sweep lock", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ============================================================
// SweepHistoryRepository
// ============================================================

// SweepHistoryRepository records maintenance task executions in the
// sweep_history table for operational visibility and debugging.
type SweepHistoryRepository struct {
	db DBTX
}

// NewSweepHistoryRepository creates a new SweepHistoryRepository backed by
// the given database connection (pool or transaction).
func NewSweepHistoryRepository(db DBTX) *SweepHistoryRepository {
	return &SweepHistoryRepository{db: db}
}

// Start inserts a new sweep_history row with status 'running' and returns
// the auto-generated BIGSERIAL ID. The caller uses this ID to later call
// Finish with the outcome.
func (r *SweepHistoryRepository) Start(ctx context.Context, task string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO sweep_history (task, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		task,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start sweep history entry", err)
	}
	return id, nil
}

// Finish updates the sweep_history row with the final status, the number of
// visits moved, and an optional error message. The status should be 'success'
// or 'failed'.
func (r *SweepHistoryRepository) Finish(ctx context.Context, id int64, status string, moves int, taskErr error) error {
	var errMsg *string
	if taskErr != nil {
		s := taskErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE sweep_history
		 SET finished_at = NOW(), status = $2, moves_count = $3, error = $4
		 WHERE id = $1`,
		id,
		status,
		moves,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish sweep history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "sweep history entry not found", nil)
	}
	return nil
}
