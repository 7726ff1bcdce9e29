package calendar

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewbook/internal/types"
)

var day = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func storeVisit(id string, start time.Time, hours int) types.Visit {
	return types.Visit{
		ID:      id,
		CrewID:  "crew-1",
		StartAt: start,
		EndAt:   start.Add(time.Duration(hours) * time.Hour),
		Status:  types.VisitConfirmed,
	}
}

func TestCreateVisit_RejectsOverlapWithinGrace(t *testing.T) {
	s := NewMemoryStore(30 * time.Minute)
	ctx := context.Background()

	require.NoError(t, s.CreateVisit(ctx, storeVisit("v1", day, 4)))

	// 13:00-15:00 touches the grace window of v1 (ends 13:00 + 30m).
	err := s.CreateVisit(ctx, storeVisit("v2", day.Add(4*time.Hour), 2))
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeConflictCalendarWrite, appErr.Code)

	// 13:30 onward is clear.
	require.NoError(t, s.CreateVisit(ctx, storeVisit("v3", day.Add(4*time.Hour+30*time.Minute), 2)))
}

func TestCreateVisit_CancelledDoesNotBlock(t *testing.T) {
	s := NewMemoryStore(30 * time.Minute)
	ctx := context.Background()

	v := storeVisit("v1", day, 4)
	v.Status = types.VisitCancelled
	require.NoError(t, s.CreateVisit(ctx, v))
	require.NoError(t, s.CreateVisit(ctx, storeVisit("v2", day, 2)))
}

func TestMoveVisit_KeepsDuration(t *testing.T) {
	s := NewMemoryStore(30 * time.Minute)
	ctx := context.Background()

	require.NoError(t, s.CreateVisit(ctx, storeVisit("v1", day, 3)))
	newStart := day.AddDate(0, 0, 1)
	require.NoError(t, s.MoveVisit(ctx, "v1", newStart))

	moved, err := s.GetVisit(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, newStart, moved.StartAt)
	assert.Equal(t, 3*time.Hour, moved.Duration())
}

func TestMoveVisit_ConflictAndNotMovable(t *testing.T) {
	s := NewMemoryStore(30 * time.Minute)
	ctx := context.Background()

	require.NoError(t, s.CreateVisit(ctx, storeVisit("v1", day, 3)))
	require.NoError(t, s.CreateVisit(ctx, storeVisit("v2", day.AddDate(0, 0, 1), 3)))

	err := s.MoveVisit(ctx, "v2", day.Add(time.Hour))
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeConflictCalendarWrite, appErr.Code)

	require.NoError(t, s.CancelVisit(ctx, "v1"))
	err = s.MoveVisit(ctx, "v1", day.AddDate(0, 0, 2))
	require.Error(t, err)
	appErr, ok = err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeScheduleNotMovable, appErr.Code)
}

func TestListVisits_WindowAndOrder(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, s.CreateVisit(ctx, storeVisit("late", day.AddDate(0, 0, 2), 2)))
	require.NoError(t, s.CreateVisit(ctx, storeVisit("early", day, 2)))
	require.NoError(t, s.CreateVisit(ctx, storeVisit("outside", day.AddDate(0, 0, 40), 2)))

	visits, err := s.ListVisits(ctx, "crew-1", day, day.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, visits, 2)
	assert.Equal(t, "early", visits[0].ID)
	assert.Equal(t, "late", visits[1].ID)
}

func TestGuard_SerializesPerCrew(t *testing.T) {
	g := NewGuard()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Lock("crew-1")
			defer g.Unlock("crew-1")
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
