package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"crewbook/internal/calendar"
	"crewbook/internal/config"
	"crewbook/internal/schedule"
	"crewbook/internal/types"
)

// RecurringResult tallies one template materialization run.
type RecurringResult struct {
	TemplateID       string
	TotalDates       int
	Booked           int
	SkippedConflicts int
	SkippedWeather   int
	Visits           []types.Visit
}

// Materializer expands recurring templates into concrete weekly visits,
// booking every matching occurrence between the template's start and end
// dates. Occurrences that collide with existing visits or fail the weather
// gate are skipped and tallied rather than failing the run.
type Materializer struct {
	store  types.CalendarStore
	guard  *calendar.Guard
	gate   WeatherGate
	policy schedule.Policy
	clock  types.Clock
	logger *slog.Logger
}

// NewMaterializer wires a recurring-template materializer.
func NewMaterializer(store types.CalendarStore, guard *calendar.Guard, gate WeatherGate, cfg config.SchedulingConfig, clock types.Clock, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Materializer{
		store:  store,
		guard:  guard,
		gate:   gate,
		policy: schedule.PolicyFromConfig(cfg),
		clock:  clock,
		logger: logger,
	}
}

// Materialize books all remaining occurrences of the template. Past
// occurrences are never booked; the run starts at the later of the template
// start date and today.
func (m *Materializer) Materialize(ctx context.Context, tmpl types.RecurringTemplate) (RecurringResult, error) {
	result := RecurringResult{TemplateID: tmpl.ID}

	now := m.clock.Now()
	from := tmpl.StartDate
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if from.Before(today) {
		from = today
	}
	if tmpl.EndDate.IsZero() || tmpl.EndDate.Before(from) {
		return result, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidRange,
			"template has no bookable date range", nil,
			map[string]any{"template_id": tmpl.ID})
	}

	job := types.Job{
		ID:     uuid.NewString(),
		Tag:    tmpl.Tag,
		CrewID: tmpl.CrewID,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return result, err
	}

	m.guard.Lock(tmpl.CrewID)
	defer m.guard.Unlock(tmpl.CrewID)

	for day := from; !day.After(tmpl.EndDate); day = day.AddDate(0, 0, 1) {
		if day.Weekday() != tmpl.Weekday {
			continue
		}
		result.TotalDates++

		if !m.policy.IsWorkday(day, false) {
			continue
		}

		start := time.Date(day.Year(), day.Month(), day.Day(), tmpl.StartHour, tmpl.StartMinute, 0, 0, time.UTC)
		end := start.Add(time.Duration(tmpl.DurationHours) * time.Hour)
		dayStart, dayEnd := m.policy.DayWindow(day)
		if start.Before(dayStart) || end.After(dayEnd) {
			continue
		}

		decision, err := m.gate.Check(ctx, tmpl.City, day)
		if err != nil {
			return result, err
		}
		if !decision.Suitable {
			result.SkippedWeather++
			continue
		}

		status := types.VisitConfirmed
		if decision.Degraded || decision.Confidence == types.ConfidenceLow {
			status = types.VisitTentative
		}

		visit := types.Visit{
			ID:         uuid.NewString(),
			JobID:      job.ID,
			CrewID:     tmpl.CrewID,
			StartAt:    start,
			EndAt:      end,
			Status:     status,
			City:       tmpl.City,
			Movable:    false,
			Confidence: decision.Confidence,
		}
		if err := m.store.CreateVisit(ctx, visit); err != nil {
			if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeConflictCalendarWrite {
				result.SkippedConflicts++
				continue
			}
			return result, err
		}
		result.Booked++
		result.Visits = append(result.Visits, visit)
	}

	m.logger.Info("materialized recurring template",
		"template_id", tmpl.ID,
		"total_dates", result.TotalDates,
		"booked", result.Booked,
		"skipped_conflicts", result.SkippedConflicts,
		"skipped_weather", result.SkippedWeather,
	)
	return result, nil
}
