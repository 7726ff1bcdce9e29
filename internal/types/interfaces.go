package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// CalendarStore is the serialized access interface to the shared crew
// calendar. Every scheduling write path (booking, sweep, compaction) goes
// through this interface; implementations must detect overlapping writes and
// report them as ErrCodeConflictCalendarWrite so callers can re-read busy
// intervals and retry.
type CalendarStore interface {
	// ListVisits returns all visits for the crew whose interval intersects
	// [from, to), in chronological order, including cancelled ones. Callers
	// filter by status as needed.
	ListVisits(ctx context.Context, crewID string, from, to time.Time) ([]Visit, error)

	// GetVisit returns a single visit by ID.
	GetVisit(ctx context.Context, visitID string) (Visit, error)

	// CreateJob persists a job record.
	CreateJob(ctx context.Context, job Job) error

	// CreateVisit persists a new visit. Returns ErrCodeConflictCalendarWrite
	// if the visit would overlap an active visit for the same crew.
	CreateVisit(ctx context.Context, visit Visit) error

	// MoveVisit shifts an existing visit to a new start, keeping its duration.
	// Returns ErrCodeConflictCalendarWrite on overlap with another active
	// visit, and ErrCodeScheduleNotMovable if the visit is cancelled.
	MoveVisit(ctx context.Context, visitID string, newStart time.Time) error

	// SetVisitStatus transitions a visit's status.
	SetVisitStatus(ctx context.Context, visitID string, status VisitStatus) error

	// CancelVisit marks a visit cancelled, removing it from all future
	// scheduling decisions.
	CancelVisit(ctx context.Context, visitID string) error
}

// ForecastProvider retrieves forecast samples for a city covering the
// provider's forecast window (typically the next 4-5 days). Implementations
// set FetchedAt on every sample so the Weather Gate can enforce staleness.
type ForecastProvider interface {
	FetchForecast(ctx context.Context, city string) ([]ForecastSample, error)
}

// CalendarSync mirrors committed scheduling decisions to the external CRM.
// The core treats it as a black box returning success or failure; wire-format
// translation lives behind this interface.
type CalendarSync interface {
	PushVisit(ctx context.Context, visit Visit) error
	PushMove(ctx context.Context, visitID string, newStart, newEnd time.Time) error
	PushCancel(ctx context.Context, visitID string) error
}

// OutcomePublisher emits structured scheduling outcomes for the downstream
// notification component. Publishing is best-effort from the scheduler's
// point of view: a publish failure is logged, never fatal to the booking.
type OutcomePublisher interface {
	Publish(ctx context.Context, outcome Outcome) error
}
