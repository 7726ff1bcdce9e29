package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewbook/internal/calendar"
	"crewbook/internal/types"
	"crewbook/internal/weather"
)

func mondayTemplate() types.RecurringTemplate {
	return types.RecurringTemplate{
		ID:            "tmpl_1",
		ClientID:      "client_1",
		CrewID:        "residential_crew",
		City:          "Saskatoon",
		Tag:           types.TagResidential,
		Weekday:       time.Monday,
		StartHour:     10,
		StartMinute:   0,
		DurationHours: 2,
		StartDate:     time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	}
}

func newMaterializer(store *calendar.MemoryStore, gate WeatherGate) *Materializer {
	return NewMaterializer(store, calendar.NewGuard(), gate, testSchedulingConfig(), fixedClock{now: sunday}, nil)
}

func TestMaterialize_BooksEveryMonday(t *testing.T) {
	store := calendar.NewMemoryStore(30 * time.Minute)
	m := newMaterializer(store, &stubGate{})

	result, err := m.Materialize(context.Background(), mondayTemplate())
	require.NoError(t, err)

	// Mondays in June 2025 within the range: 2, 9, 16, 23, 30.
	assert.Equal(t, 5, result.TotalDates)
	assert.Equal(t, 5, result.Booked)
	assert.Zero(t, result.SkippedConflicts)
	assert.Zero(t, result.SkippedWeather)

	for _, v := range result.Visits {
		assert.Equal(t, 10, v.StartAt.Hour())
		assert.Equal(t, 2*time.Hour, v.Duration())
		assert.Equal(t, time.Monday, v.StartAt.Weekday())
		assert.False(t, v.Movable, "standing appointments must not be compacted away")
	}
}

func TestMaterialize_SkipsConflictsAndWeather(t *testing.T) {
	store := calendar.NewMemoryStore(30 * time.Minute)

	// June 9 is already busy for the crew.
	require.NoError(t, store.CreateVisit(context.Background(), types.Visit{
		ID:      "blocker",
		CrewID:  "residential_crew",
		StartAt: time.Date(2025, 6, 9, 10, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC),
		Status:  types.VisitConfirmed,
	}))

	// June 16 is stormy.
	gate := &stubGate{byDate: map[string]weather.Decision{
		"2025-06-16": {Suitable: false, Confidence: types.ConfidenceBad, Reason: "thunderstorm"},
	}}
	m := newMaterializer(store, gate)

	result, err := m.Materialize(context.Background(), mondayTemplate())
	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalDates)
	assert.Equal(t, 3, result.Booked)
	assert.Equal(t, 1, result.SkippedConflicts)
	assert.Equal(t, 1, result.SkippedWeather)
}

func TestMaterialize_PastOccurrencesNeverBooked(t *testing.T) {
	store := calendar.NewMemoryStore(30 * time.Minute)
	m := newMaterializer(store, &stubGate{})

	tmpl := mondayTemplate()
	tmpl.StartDate = time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)

	result, err := m.Materialize(context.Background(), tmpl)
	require.NoError(t, err)
	// May Mondays are in the past relative to the June 1 clock.
	assert.Equal(t, 5, result.TotalDates)
	assert.Equal(t, 5, result.Booked)
}

func TestMaterialize_LowConfidenceBooksTentative(t *testing.T) {
	store := calendar.NewMemoryStore(30 * time.Minute)
	gate := &stubGate{byDate: map[string]weather.Decision{
		"2025-06-02": {Suitable: true, Confidence: types.ConfidenceLow},
	}}
	m := newMaterializer(store, gate)

	result, err := m.Materialize(context.Background(), mondayTemplate())
	require.NoError(t, err)
	require.NotEmpty(t, result.Visits)
	assert.Equal(t, types.VisitTentative, result.Visits[0].Status)
	assert.Equal(t, types.VisitConfirmed, result.Visits[1].Status)
}

func TestMaterialize_EmptyRange(t *testing.T) {
	store := calendar.NewMemoryStore(30 * time.Minute)
	m := newMaterializer(store, &stubGate{})

	tmpl := mondayTemplate()
	tmpl.EndDate = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := m.Materialize(context.Background(), tmpl)
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeValidationInvalidRange, appErr.Code)
}
