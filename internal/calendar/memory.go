package calendar

import (
	"context"
	"sort"
	"sync"
	"time"

	"crewbook/internal/types"
)

// MemoryStore is a deterministic in-memory CalendarStore. It enforces the
// same overlap rules as the Postgres mirror (grace buffer included) so tests
// exercise the conflict paths without a database.
type MemoryStore struct {
	mu     sync.Mutex
	grace  time.Duration
	visits map[string]types.Visit
	jobs   map[string]types.Job
}

// NewMemoryStore creates an empty store enforcing the given grace buffer on
// overlap checks.
func NewMemoryStore(grace time.Duration) *MemoryStore {
	return &MemoryStore{
		grace:  grace,
		visits: make(map[string]types.Visit),
		jobs:   make(map[string]types.Job),
	}
}

// ListVisits returns visits for the crew intersecting [from, to) in
// chronological order, including cancelled ones.
func (s *MemoryStore) ListVisits(_ context.Context, crewID string, from, to time.Time) ([]types.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Visit
	for _, v := range s.visits {
		if v.CrewID != crewID {
			continue
		}
		if v.StartAt.Before(to) && from.Before(v.EndAt) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

// GetVisit returns a visit by ID.
func (s *MemoryStore) GetVisit(_ context.Context, visitID string) (types.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[visitID]
	if !ok {
		return types.Visit{}, types.NewAppError(types.ErrCodeNotFoundVisit, "visit not found", nil)
	}
	return v, nil
}

// CreateJob persists a job record.
func (s *MemoryStore) CreateJob(_ context.Context, job types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// GetJob returns a job by ID.
func (s *MemoryStore) GetJob(_ context.Context, jobID string) (types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return types.Job{}, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
	}
	return j, nil
}

// CreateVisit persists a new visit, rejecting overlaps with active visits of
// the same crew.
func (s *MemoryStore) CreateVisit(_ context.Context, visit types.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conflictID := s.conflict(visit.CrewID, visit.StartAt, visit.EndAt, visit.ID); conflictID != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodeConflictCalendarWrite,
			"slot already claimed",
			nil,
			map[string]any{"conflicting_visit": conflictID},
		)
	}
	s.visits[visit.ID] = visit
	return nil
}

// MoveVisit shifts a visit to a new start, keeping its duration.
func (s *MemoryStore) MoveVisit(_ context.Context, visitID string, newStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[visitID]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundVisit, "visit not found", nil)
	}
	if v.Status == types.VisitCancelled {
		return types.NewAppError(types.ErrCodeScheduleNotMovable, "cancelled visits cannot move", nil)
	}

	duration := v.Duration()
	newEnd := newStart.Add(duration)
	if conflictID := s.conflict(v.CrewID, newStart, newEnd, visitID); conflictID != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodeConflictCalendarWrite,
			"slot already claimed",
			nil,
			map[string]any{"conflicting_visit": conflictID},
		)
	}

	v.StartAt = newStart
	v.EndAt = newEnd
	s.visits[visitID] = v
	return nil
}

// SetVisitStatus transitions a visit's status.
func (s *MemoryStore) SetVisitStatus(_ context.Context, visitID string, status types.VisitStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[visitID]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundVisit, "visit not found", nil)
	}
	v.Status = status
	s.visits[visitID] = v
	return nil
}

// CancelVisit marks a visit cancelled.
func (s *MemoryStore) CancelVisit(ctx context.Context, visitID string) error {
	return s.SetVisitStatus(ctx, visitID, types.VisitCancelled)
}

// conflict returns the ID of an active visit of the crew whose grace-expanded
// interval intersects [start, end), or "" when the slot is clear.
func (s *MemoryStore) conflict(crewID string, start, end time.Time, excludeID string) string {
	for id, v := range s.visits {
		if id == excludeID || v.CrewID != crewID {
			continue
		}
		if v.Overlaps(start, end, s.grace) {
			return id
		}
	}
	return ""
}

var _ types.CalendarStore = (*MemoryStore)(nil)
