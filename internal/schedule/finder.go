package schedule

import (
	"time"

	"crewbook/internal/types"
)

// Finder produces a lazy, finite, restartable chronological sequence of
// candidate slot spans for a required duration against a snapshot of a
// crew's busy intervals.
//
// A span is one TimeSlot per day-segment: a single entry for jobs that fit
// within one business day, or one entry per consecutive business day for
// longer jobs (segments carry the per-day hours, full workdays first).
//
// The Finder holds no locks and performs no I/O; callers snapshot busy
// intervals before construction and re-read them before committing whatever
// the Finder proposes.
type Finder struct {
	policy   Policy
	busy     []types.Visit
	segments []int
	exclude  map[string]struct{}

	allowFriday bool
	cursor      time.Time
	deadline    time.Time
}

// FinderOption customizes Finder construction.
type FinderOption func(*Finder)

// WithAllowFriday permits candidates on Fridays even when the policy
// excludes them for new bookings. Used by the reschedule sweep and the
// compactor, which may land moves on any weekday.
func WithAllowFriday() FinderOption {
	return func(f *Finder) { f.allowFriday = true }
}

// WithExcludedVisits removes the given visit IDs from the busy snapshot.
// A rescheduled visit excludes itself so its now-freed interval is
// considered open.
func WithExcludedVisits(ids ...string) FinderOption {
	return func(f *Finder) {
		for _, id := range ids {
			f.exclude[id] = struct{}{}
		}
	}
}

// NewFinder creates a Finder searching from `from` for a span matching
// `segments` (per-day whole hours, at least one entry) against the busy
// snapshot. The search ends HorizonDays after `from`.
func NewFinder(policy Policy, busy []types.Visit, segments []int, from time.Time, opts ...FinderOption) *Finder {
	f := &Finder{
		policy:   policy,
		busy:     busy,
		segments: segments,
		exclude:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.Reset(from)
	return f
}

// Reset restarts the sequence from a new search origin. Candidates earlier
// than the origin are never produced.
func (f *Finder) Reset(from time.Time) {
	f.deadline = from.AddDate(0, 0, f.policy.HorizonDays)

	dayStart, _ := f.policy.DayWindow(from)
	cursor := from
	if cursor.Before(dayStart) {
		cursor = dayStart
	}
	// Align to the candidate step grid within the day.
	if offset := cursor.Sub(dayStart) % f.policy.Step; offset != 0 {
		cursor = cursor.Add(f.policy.Step - offset)
	}
	f.cursor = cursor
}

// Next returns the next candidate span in chronological order, or
// ErrCodeScheduleNoSlotFound once the horizon is exhausted. The Finder never
// retries internally; callers that reject a candidate (for weather) simply
// call Next again.
func (f *Finder) Next() ([]types.TimeSlot, error) {
	if len(f.segments) == 0 {
		return nil, types.NewAppError(types.ErrCodeScheduleNoSlotFound, "no duration requested", nil)
	}

	for f.cursor.Before(f.deadline) {
		if !f.policy.IsWorkday(f.cursor, f.allowFriday) {
			f.advanceDay()
			continue
		}

		if len(f.segments) > 1 {
			span, ok := f.trySpan(f.cursor)
			f.advanceDay()
			if ok {
				return span, nil
			}
			continue
		}

		slot, ok := f.nextWithinDay()
		if ok {
			return []types.TimeSlot{slot}, nil
		}
		f.advanceDay()
	}

	return nil, types.NewAppErrorWithDetails(
		types.ErrCodeScheduleNoSlotFound,
		"no available slot within the search horizon",
		nil,
		map[string]any{"horizon_days": f.policy.HorizonDays},
	)
}

// nextWithinDay steps through candidate starts inside the cursor's day.
// On success the cursor advances past the returned slot's start so the
// sequence resumes correctly on the following Next call.
func (f *Finder) nextWithinDay() (types.TimeSlot, bool) {
	duration := time.Duration(f.segments[0]) * time.Hour
	_, dayEnd := f.policy.DayWindow(f.cursor)

	for slot := f.cursor; !slot.Add(duration).After(dayEnd); slot = slot.Add(f.policy.Step) {
		if f.policy.Free(f.busy, slot, slot.Add(duration), f.exclude) {
			f.cursor = slot.Add(f.policy.Step)
			return types.TimeSlot{Start: slot, End: slot.Add(duration)}, true
		}
	}
	return types.TimeSlot{}, false
}

// trySpan attempts to place a multi-day span starting on day0. Each segment
// occupies its business day from the workday start; all segments must be
// free on consecutive bookable days. Multi-day spans do not slide within a
// day: they are split at day boundaries by construction.
func (f *Finder) trySpan(day0 time.Time) ([]types.TimeSlot, bool) {
	span := make([]types.TimeSlot, 0, len(f.segments))
	day := day0
	for i, hours := range f.segments {
		if i > 0 {
			day = f.policy.NextWorkday(day, f.allowFriday)
			if !day.Before(f.deadline) {
				return nil, false
			}
		}
		dayStart, dayEnd := f.policy.DayWindow(day)
		end := dayStart.Add(time.Duration(hours) * time.Hour)
		if end.After(dayEnd) {
			return nil, false
		}
		if !f.policy.Free(f.busy, dayStart, end, f.exclude) {
			return nil, false
		}
		span = append(span, types.TimeSlot{Start: dayStart, End: end})
	}
	return span, true
}

// advanceDay moves the cursor to the workday start of the next calendar day.
func (f *Finder) advanceDay() {
	next := f.cursor.AddDate(0, 0, 1)
	dayStart, _ := f.policy.DayWindow(next)
	f.cursor = dayStart
}
