// Package compact pulls movable visits earlier to close gaps left by
// cancellations and reschedules, keeping each crew's week front-loaded.
package compact

import (
	"context"
	"log/slog"
	"time"

	"crewbook/internal/calendar"
	"crewbook/internal/config"
	"crewbook/internal/schedule"
	"crewbook/internal/types"
	"crewbook/internal/weather"
)

// WeatherGate gates a city/date pair. Satisfied by *weather.Gate.
type WeatherGate interface {
	Check(ctx context.Context, city string, date time.Time) (weather.Decision, error)
}

// Report tallies one compaction run.
type Report struct {
	Considered int
	Moved      int
	Failed     int
	Moves      []types.Move
}

// Compactor shifts movable visits toward the present. Visits inside the
// protection window are never disturbed: crews and clients rely on the
// near-term schedule staying fixed.
type Compactor struct {
	store     types.CalendarStore
	guard     *calendar.Guard
	gate      WeatherGate
	policy    schedule.Policy
	sync      types.CalendarSync
	publisher types.OutcomePublisher
	logger    *slog.Logger

	crews      []string
	protection time.Duration
}

// NewCompactor wires a Compactor over the given crews.
func NewCompactor(store types.CalendarStore, guard *calendar.Guard, gate WeatherGate, cfg config.SchedulingConfig, sync types.CalendarSync, publisher types.OutcomePublisher, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		store:      store,
		guard:      guard,
		gate:       gate,
		policy:     schedule.PolicyFromConfig(cfg),
		sync:       sync,
		publisher:  publisher,
		logger:     logger,
		crews:      []string{cfg.ResidentialCrew, cfg.CommercialCrew},
		protection: cfg.CompactionProtection,
	}
}

// Run compacts every crew's calendar. Visits are considered in chronological
// order so an early move frees room for the next one; a second run over an
// already-packed calendar makes no moves.
func (c *Compactor) Run(ctx context.Context, now time.Time) (Report, error) {
	var report Report
	for _, crewID := range c.crews {
		c.compactCrew(ctx, crewID, now, &report)
	}
	c.logger.Info("schedule compaction finished",
		"considered", report.Considered,
		"moved", report.Moved,
		"failed", report.Failed,
	)
	return report, nil
}

func (c *Compactor) compactCrew(ctx context.Context, crewID string, now time.Time, report *Report) {
	c.guard.Lock(crewID)
	defer c.guard.Unlock(crewID)

	edge := now.Add(c.protection)

	initial, err := c.store.ListVisits(ctx, crewID, edge, edge.AddDate(0, 0, c.policy.HorizonDays))
	if err != nil {
		c.logger.Error("failed to list visits for compaction", "crew_id", crewID, "error", err)
		report.Failed++
		return
	}
	for _, visit := range initial {
		if visit.Active() && visit.Movable && !visit.StartAt.Before(edge) {
			report.Considered++
		}
	}

	for {
		moved, err := c.compactPass(ctx, crewID, now, edge, report)
		if err != nil {
			c.logger.Error("compaction pass failed", "crew_id", crewID, "error", err)
			report.Failed++
			return
		}
		if !moved {
			return
		}
	}
}

// compactPass re-reads the busy snapshot and moves the first visit that can
// land earlier. Returning after a single move keeps the snapshot honest; the
// caller loops until a pass moves nothing.
func (c *Compactor) compactPass(ctx context.Context, crewID string, now, edge time.Time, report *Report) (bool, error) {
	busy, err := c.store.ListVisits(ctx, crewID, edge, edge.AddDate(0, 0, c.policy.HorizonDays))
	if err != nil {
		return false, err
	}

	for _, visit := range busy {
		if !visit.Active() || !visit.Movable || visit.StartAt.Before(edge) {
			continue
		}

		target, ok := c.earlierSlot(ctx, visit, busy, edge)
		if !ok {
			continue
		}

		if err := c.store.MoveVisit(ctx, visit.ID, target.Start); err != nil {
			c.logger.Error("failed to compact visit", "visit_id", visit.ID, "error", err)
			report.Failed++
			continue
		}

		move := types.Move{
			VisitID: visit.ID,
			CrewID:  visit.CrewID,
			From:    types.TimeSlot{Start: visit.StartAt, End: visit.EndAt},
			To:      target,
			Reason:  "schedule compaction",
		}
		report.Moved++
		report.Moves = append(report.Moves, move)

		if c.sync != nil {
			if err := c.sync.PushMove(ctx, visit.ID, target.Start, target.End); err != nil {
				c.logger.Error("failed to sync move to CRM", "visit_id", visit.ID, "error", err)
			}
		}
		c.publish(ctx, types.Outcome{
			Kind:       types.OutcomeCompacted,
			OccurredAt: now,
			JobID:      visit.JobID,
			CrewID:     visit.CrewID,
			City:       visit.City,
			Moves:      []types.Move{move},
		})
		return true, nil
	}
	return false, nil
}

// earlierSlot returns the earliest gate-approved slot strictly before the
// visit's current start. Compaction may land on any workday, Friday included,
// but never moves a visit onto a day the weather gate rejects.
func (c *Compactor) earlierSlot(ctx context.Context, visit types.Visit, busy []types.Visit, edge time.Time) (types.TimeSlot, bool) {
	hours := int(visit.Duration() / time.Hour)
	finder := schedule.NewFinder(c.policy, busy, []int{hours}, edge,
		schedule.WithAllowFriday(),
		schedule.WithExcludedVisits(visit.ID),
	)

	for {
		span, err := finder.Next()
		if err != nil {
			return types.TimeSlot{}, false
		}
		slot := span[0]
		if !slot.Start.Before(visit.StartAt) {
			return types.TimeSlot{}, false
		}
		decision, err := c.gate.Check(ctx, visit.City, slot.Start)
		if err != nil {
			return types.TimeSlot{}, false
		}
		if decision.Suitable {
			return slot, true
		}
	}
}

func (c *Compactor) publish(ctx context.Context, outcome types.Outcome) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, outcome); err != nil {
		c.logger.Error("failed to publish outcome", "kind", string(outcome.Kind), "error", err)
	}
}
