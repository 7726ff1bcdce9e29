package db

import (
	"context"
	"time"

	"crewbook/internal/types"
)

// RecurringTemplateRepository provides data access for the
// recurring_templates table. Templates describe weekly standing bookings that
// the maintenance worker materializes into concrete visits.
type RecurringTemplateRepository struct {
	db DBTX
}

// NewRecurringTemplateRepository creates a new RecurringTemplateRepository
// backed by the given database connection (pool or transaction).
func NewRecurringTemplateRepository(db DBTX) *RecurringTemplateRepository {
	return &RecurringTemplateRepository{db: db}
}

// Create inserts a new template.
func (r *RecurringTemplateRepository) Create(ctx context.Context, t types.RecurringTemplate) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO recurring_templates
		 (id, client_id, crew_id, city, tag, weekday, start_hour, start_minute,
		  duration_hours, start_date, end_date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())`,
		t.ID,
		t.ClientID,
		t.CrewID,
		t.City,
		t.Tag,
		int(t.Weekday),
		t.StartHour,
		t.StartMinute,
		t.DurationHours,
		t.StartDate,
		nilIfZeroTime(t.EndDate),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create recurring template", err)
	}
	return nil
}

// ListActive returns templates whose date range covers the given day.
func (r *RecurringTemplateRepository) ListActive(ctx context.Context, day time.Time) ([]types.RecurringTemplate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, client_id, crew_id, city, tag, weekday, start_hour, start_minute,
		        duration_hours, start_date, end_date
		 FROM recurring_templates
		 WHERE start_date <= $1 AND (end_date IS NULL OR end_date >= $1)`,
		day,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query recurring templates", err)
	}
	defer rows.Close()

	var templates []types.RecurringTemplate
	for rows.Next() {
		var (
			t       types.RecurringTemplate
			weekday int
			endDate *time.Time
		)
		if err := rows.Scan(
			&t.ID,
			&t.ClientID,
			&t.CrewID,
			&t.City,
			&t.Tag,
			&weekday,
			&t.StartHour,
			&t.StartMinute,
			&t.DurationHours,
			&t.StartDate,
			&endDate,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan recurring template", err)
		}
		t.Weekday = time.Weekday(weekday)
		if endDate != nil {
			t.EndDate = *endDate
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating recurring templates", err)
	}

	return templates, nil
}

// Deactivate closes a template by setting its end date.
func (r *RecurringTemplateRepository) Deactivate(ctx context.Context, templateID string, endDate time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE recurring_templates SET end_date = $2 WHERE id = $1`,
		templateID,
		endDate,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate recurring template", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "recurring template not found", nil)
	}
	return nil
}

func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
