package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewbook/internal/config"
	"crewbook/internal/types"
)

func testPolicy() Policy {
	return PolicyFromConfig(config.SchedulingConfig{
		WorkdayStartHour:  9,
		WorkdayEndHour:    17,
		Holidays:          []string{"2025-07-01"},
		GraceBuffer:       30 * time.Minute,
		CandidateStep:     30 * time.Minute,
		SearchHorizonDays: 30,
	})
}

// monday is a clear Monday morning: 2025-06-02 09:00 UTC.
var monday = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func visit(id string, start time.Time, hours int) types.Visit {
	return types.Visit{
		ID:      id,
		CrewID:  "residential_crew",
		StartAt: start,
		EndAt:   start.Add(time.Duration(hours) * time.Hour),
		Status:  types.VisitConfirmed,
	}
}

func TestFinder_FirstSlotOnEmptyCalendar(t *testing.T) {
	f := NewFinder(testPolicy(), nil, []int{3}, monday)

	span, err := f.Next()
	require.NoError(t, err)
	require.Len(t, span, 1)
	assert.Equal(t, monday, span[0].Start)
	assert.Equal(t, monday.Add(3*time.Hour), span[0].End)
}

func TestFinder_ChronologicalSequence(t *testing.T) {
	f := NewFinder(testPolicy(), nil, []int{2}, monday)

	var prev time.Time
	for i := 0; i < 20; i++ {
		span, err := f.Next()
		require.NoError(t, err)
		require.Len(t, span, 1)
		assert.True(t, span[0].Start.After(prev), "candidates must advance")
		prev = span[0].Start
	}
}

func TestFinder_GraceBufferPushesCandidate(t *testing.T) {
	// Existing visit Monday 09:00-13:00; with the 30-minute grace the next
	// candidate must start no earlier than 13:30.
	busy := []types.Visit{visit("v1", monday, 4)}
	f := NewFinder(testPolicy(), busy, []int{3}, monday)

	span, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, monday.Add(4*time.Hour+30*time.Minute), span[0].Start)
}

func TestFinder_CancelledVisitDoesNotBlock(t *testing.T) {
	v := visit("v1", monday, 4)
	v.Status = types.VisitCancelled
	f := NewFinder(testPolicy(), []types.Visit{v}, []int{3}, monday)

	span, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, monday, span[0].Start)
}

func TestFinder_ExcludedVisitDoesNotBlock(t *testing.T) {
	busy := []types.Visit{visit("own", monday, 4)}
	f := NewFinder(testPolicy(), busy, []int{3}, monday, WithExcludedVisits("own"))

	span, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, monday, span[0].Start)
}

func TestFinder_SkipsWeekend(t *testing.T) {
	friday := time.Date(2025, 6, 6, 16, 0, 0, 0, time.UTC)
	f := NewFinder(testPolicy(), nil, []int{3}, friday)

	span, err := f.Next()
	require.NoError(t, err)
	// 16:00 Friday leaves only one hour; first fitting candidate is Monday.
	assert.Equal(t, time.Monday, span[0].Start.Weekday())
	assert.Equal(t, 9, span[0].Start.Hour())
}

func TestFinder_SkipsHoliday(t *testing.T) {
	// 2025-07-01 (Canada Day, a Tuesday) is configured as a holiday.
	canadaDayMorning := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	f := NewFinder(testPolicy(), nil, []int{3}, canadaDayMorning)

	span, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 2, 9, 0, 0, 0, time.UTC), span[0].Start)
}

func TestFinder_FridayExclusionForNewBookings(t *testing.T) {
	p := testPolicy()
	p.ExcludeFriday = true
	friday := time.Date(2025, 6, 6, 9, 0, 0, 0, time.UTC)

	f := NewFinder(p, nil, []int{2}, friday)
	span, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, time.Monday, span[0].Start.Weekday())

	// Reschedules may still land on Friday.
	f = NewFinder(p, nil, []int{2}, friday, WithAllowFriday())
	span, err = f.Next()
	require.NoError(t, err)
	assert.Equal(t, time.Friday, span[0].Start.Weekday())
}

func TestFinder_SlotFitsWithinBusinessDay(t *testing.T) {
	f := NewFinder(testPolicy(), nil, []int{8}, monday.Add(time.Hour))

	span, err := f.Next()
	require.NoError(t, err)
	// An 8-hour job no longer fits after 09:00, so it lands the next day.
	assert.Equal(t, time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC), span[0].Start)
	assert.Equal(t, time.Date(2025, 6, 3, 17, 0, 0, 0, time.UTC), span[0].End)
}

func TestFinder_MultiDaySpan(t *testing.T) {
	f := NewFinder(testPolicy(), nil, []int{8, 8, 4}, monday)

	span, err := f.Next()
	require.NoError(t, err)
	require.Len(t, span, 3)
	assert.Equal(t, monday, span[0].Start)
	assert.Equal(t, monday.Add(8*time.Hour), span[0].End)
	assert.Equal(t, time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC), span[1].Start)
	assert.Equal(t, time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC), span[2].Start)
	assert.Equal(t, time.Date(2025, 6, 4, 13, 0, 0, 0, time.UTC), span[2].End)
}

func TestFinder_MultiDaySpanSkipsBlockedDay(t *testing.T) {
	// Tuesday is fully booked, so a 2-day span cannot start Monday.
	busy := []types.Visit{visit("v1", time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC), 8)}
	f := NewFinder(testPolicy(), busy, []int{8, 8}, monday)

	span, err := f.Next()
	require.NoError(t, err)
	require.Len(t, span, 2)
	assert.Equal(t, time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC), span[0].Start)
	assert.Equal(t, time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC), span[1].Start)
}

func TestFinder_HorizonExhaustion(t *testing.T) {
	p := testPolicy()
	p.HorizonDays = 7

	// Fill every business day in the window with an all-day visit.
	var busy []types.Visit
	for d := 0; d < 10; d++ {
		day := monday.AddDate(0, 0, d)
		busy = append(busy, visit("v"+day.Format("02"), day, 8))
	}

	f := NewFinder(p, busy, []int{3}, monday)
	_, err := f.Next()
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeScheduleNoSlotFound, appErr.Code)
}

func TestFinder_Restartable(t *testing.T) {
	f := NewFinder(testPolicy(), nil, []int{3}, monday)

	first, err := f.Next()
	require.NoError(t, err)
	_, err = f.Next()
	require.NoError(t, err)

	f.Reset(monday)
	again, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestFinder_StepAlignment(t *testing.T) {
	// Searching from 09:10 must align to the next half-hour boundary.
	f := NewFinder(testPolicy(), nil, []int{2}, monday.Add(10*time.Minute))

	span, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, monday.Add(30*time.Minute), span[0].Start)
}
