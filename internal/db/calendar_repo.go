package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"crewbook/internal/types"
)

// CalendarRepository provides data access for the visits and jobs tables and
// implements the types.CalendarStore interface. Overlap detection is done at
// the SQL level against the grace-expanded interval of the candidate write,
// so two writers racing for the same crew day cannot both commit: the loser
// sees ErrCodeConflictCalendarWrite, re-reads busy intervals, and retries.
type CalendarRepository struct {
	db    DBTX
	grace time.Duration
}

// NewCalendarRepository creates a new CalendarRepository backed by the given
// database connection (pool or transaction). The grace duration is the travel
// buffer enforced between consecutive visits of the same crew.
func NewCalendarRepository(db DBTX, grace time.Duration) *CalendarRepository {
	return &CalendarRepository{db: db, grace: grace}
}

var _ types.CalendarStore = (*CalendarRepository)(nil)

// ListVisits returns all visits for the crew intersecting [from, to), in
// chronological order, including cancelled ones.
func (r *CalendarRepository) ListVisits(ctx context.Context, crewID string, from, to time.Time) ([]types.Visit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, job_id, crew_id, start_at, end_at, status, city, movable, confidence
		 FROM visits
		 WHERE crew_id = $1 AND start_at < $3 AND end_at > $2
		 ORDER BY start_at`,
		crewID,
		from,
		to,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query visits", err)
	}
	defer rows.Close()

	var visits []types.Visit
	for rows.Next() {
		var v types.Visit
		if err := rows.Scan(
			&v.ID,
			&v.JobID,
			&v.CrewID,
			&v.StartAt,
			&v.EndAt,
			&v.Status,
			&v.City,
			&v.Movable,
			&v.Confidence,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan visit", err)
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating visits", err)
	}

	return visits, nil
}

// GetVisit returns a single visit by ID.
func (r *CalendarRepository) GetVisit(ctx context.Context, visitID string) (types.Visit, error) {
	var v types.Visit
	err := r.db.QueryRow(ctx,
		`SELECT id, job_id, crew_id, start_at, end_at, status, city, movable, confidence
		 FROM visits
		 WHERE id = $1`,
		visitID,
	).Scan(
		&v.ID,
		&v.JobID,
		&v.CrewID,
		&v.StartAt,
		&v.EndAt,
		&v.Status,
		&v.City,
		&v.Movable,
		&v.Confidence,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Visit{}, types.NewAppError(types.ErrCodeNotFoundVisit, "visit not found", err)
		}
		return types.Visit{}, types.NewAppError(types.ErrCodeInternalDB, "failed to get visit", err)
	}
	return v, nil
}

// CreateJob persists a job record.
func (r *CalendarRepository) CreateJob(ctx context.Context, job types.Job) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO jobs (id, quote_id, tag, crew_id, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		job.ID,
		job.QuoteID,
		job.Tag,
		job.CrewID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create job", err)
	}
	return nil
}

// CreateVisit inserts a new visit unless its grace-expanded interval overlaps
// an active visit for the same crew. The conditional INSERT ... SELECT makes
// the conflict check and the write a single atomic statement.
func (r *CalendarRepository) CreateVisit(ctx context.Context, visit types.Visit) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO visits (id, job_id, crew_id, start_at, end_at, status, city, movable, confidence, created_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, NOW()
		 WHERE NOT EXISTS (
		   SELECT 1 FROM visits
		   WHERE crew_id = $3 AND status <> 'cancelled'
		     AND start_at < $11 AND end_at > $10
		 )`,
		visit.ID,
		visit.JobID,
		visit.CrewID,
		visit.StartAt,
		visit.EndAt,
		visit.Status,
		visit.City,
		visit.Movable,
		visit.Confidence,
		visit.StartAt.Add(-r.grace),
		visit.EndAt.Add(r.grace),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create visit", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictCalendarWrite, "visit overlaps an existing visit for this crew", nil)
	}
	return nil
}

// MoveVisit shifts a visit to a new start, keeping its duration. The visit is
// read first so the new end and the grace-expanded bounds can be computed as
// concrete timestamps in Go, avoiding PostgreSQL interval arithmetic on Go
// duration strings. The conditional UPDATE then applies only when the target
// interval is still free, so a concurrent writer cannot slip in between the
// read and the write.
func (r *CalendarRepository) MoveVisit(ctx context.Context, visitID string, newStart time.Time) error {
	visit, err := r.GetVisit(ctx, visitID)
	if err != nil {
		return err
	}
	if visit.Status == types.VisitCancelled {
		return types.NewAppError(types.ErrCodeScheduleNotMovable, "cancelled visit cannot be moved", nil)
	}

	newEnd := newStart.Add(visit.Duration())
	tag, err := r.db.Exec(ctx,
		`UPDATE visits v
		 SET start_at = $2, end_at = $3, updated_at = NOW()
		 WHERE v.id = $1 AND v.status <> 'cancelled'
		   AND NOT EXISTS (
		     SELECT 1 FROM visits o
		     WHERE o.crew_id = v.crew_id AND o.id <> v.id AND o.status <> 'cancelled'
		       AND o.start_at < $5 AND o.end_at > $4
		   )`,
		visitID,
		newStart,
		newEnd,
		newStart.Add(-r.grace),
		newEnd.Add(r.grace),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to move visit", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictCalendarWrite, "target interval overlaps an existing visit for this crew", nil)
	}
	return nil
}

// SetVisitStatus transitions a visit's status.
func (r *CalendarRepository) SetVisitStatus(ctx context.Context, visitID string, status types.VisitStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE visits SET status = $2, updated_at = NOW() WHERE id = $1`,
		visitID,
		status,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update visit status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundVisit, "visit not found", nil)
	}
	return nil
}

// CancelVisit marks a visit cancelled.
func (r *CalendarRepository) CancelVisit(ctx context.Context, visitID string) error {
	return r.SetVisitStatus(ctx, visitID, types.VisitCancelled)
}
