// Package sweep re-examines upcoming bookings against fresh forecast data:
// weather-threatened visits move to the next suitable slot, and tentative
// visits whose weather now holds are promoted to confirmed.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

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

// Report tallies one sweep run.
type Report struct {
	Checked  int
	Moved    int
	Promoted int
	Failed   int
	Moves    []types.Move
}

// Sweeper is the reschedule sweep service. Run is driven by the maintenance
// entrypoint with an explicit reference time so manual reruns are
// deterministic.
type Sweeper struct {
	store     types.CalendarStore
	guard     *calendar.Guard
	gate      WeatherGate
	policy    schedule.Policy
	sync      types.CalendarSync
	publisher types.OutcomePublisher
	logger    *slog.Logger

	crews          []string
	recheckHorizon time.Duration
}

// NewSweeper wires a Sweeper over the given crews. sync and publisher may be
// nil; their failures never abort a sweep.
func NewSweeper(store types.CalendarStore, guard *calendar.Guard, gate WeatherGate, cfg config.SchedulingConfig, sync types.CalendarSync, publisher types.OutcomePublisher, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:          store,
		guard:          guard,
		gate:           gate,
		policy:         schedule.PolicyFromConfig(cfg),
		sync:           sync,
		publisher:      publisher,
		logger:         logger,
		crews:          []string{cfg.ResidentialCrew, cfg.CommercialCrew},
		recheckHorizon: cfg.RecheckHorizon,
	}
}

// Run sweeps every crew's visits inside the recheck horizon, one goroutine
// per crew. Per-visit failures are tallied and logged, never fatal to the
// run: one stuck visit must not strand the rest of the calendar. Running
// twice against the same forecast is a no-op the second time.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Report, error) {
	crewReports := make([]Report, len(s.crews))

	g, gCtx := errgroup.WithContext(ctx)
	for i, crewID := range s.crews {
		i, crewID := i, crewID
		g.Go(func() error {
			s.sweepCrew(gCtx, crewID, now, &crewReports[i])
			// Crew failures land in the report; never abort the other crews.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	var report Report
	for _, crewReport := range crewReports {
		report.Checked += crewReport.Checked
		report.Moved += crewReport.Moved
		report.Promoted += crewReport.Promoted
		report.Failed += crewReport.Failed
		report.Moves = append(report.Moves, crewReport.Moves...)
	}
	s.logger.Info("reschedule sweep finished",
		"checked", report.Checked,
		"moved", report.Moved,
		"promoted", report.Promoted,
		"failed", report.Failed,
	)
	return report, nil
}

func (s *Sweeper) sweepCrew(ctx context.Context, crewID string, now time.Time, report *Report) {
	s.guard.Lock(crewID)
	defer s.guard.Unlock(crewID)

	visits, err := s.store.ListVisits(ctx, crewID, now, now.Add(s.recheckHorizon))
	if err != nil {
		s.logger.Error("failed to list visits for sweep", "crew_id", crewID, "error", err)
		report.Failed++
		return
	}

	for _, visit := range visits {
		if !visit.Active() || visit.StartAt.Before(now) {
			continue
		}
		report.Checked++

		decision, err := s.gate.Check(ctx, visit.City, visit.StartAt)
		if err != nil {
			s.logger.Error("weather recheck failed", "visit_id", visit.ID, "error", err)
			report.Failed++
			continue
		}

		switch {
		case decision.Suitable:
			s.maybePromote(ctx, visit, decision, now, report)
		case !visit.Movable:
			s.logger.Warn("weather turned on an unmovable visit",
				"visit_id", visit.ID, "city", visit.City, "reason", decision.Reason)
		default:
			s.reschedule(ctx, visit, decision, now, report)
		}
	}
}

// maybePromote confirms a tentative visit once its weather holds with real
// confidence. Degraded and low-confidence acceptances stay tentative for the
// next sweep.
func (s *Sweeper) maybePromote(ctx context.Context, visit types.Visit, decision weather.Decision, now time.Time, report *Report) {
	if visit.Status != types.VisitTentative || decision.Degraded || decision.Confidence == types.ConfidenceLow {
		return
	}
	if err := s.store.SetVisitStatus(ctx, visit.ID, types.VisitConfirmed); err != nil {
		s.logger.Error("failed to promote visit", "visit_id", visit.ID, "error", err)
		report.Failed++
		return
	}
	report.Promoted++
	s.publish(ctx, types.Outcome{
		Kind:       types.OutcomeConfirmed,
		OccurredAt: now,
		JobID:      visit.JobID,
		CrewID:     visit.CrewID,
		City:       visit.City,
		Slots:      []types.TimeSlot{{Start: visit.StartAt, End: visit.EndAt}},
	})
}

// reschedule moves a weather-threatened visit to the earliest slot from now
// whose day passes the gate, which may be earlier than the visit's current
// start. The visit excludes itself from the busy snapshot, so its freed
// interval is open to others; reschedules may land on Friday even when new
// bookings do not. A moved visit demotes to tentative until a later sweep
// re-confirms it.
func (s *Sweeper) reschedule(ctx context.Context, visit types.Visit, decision weather.Decision, now time.Time, report *Report) {
	busy, err := s.store.ListVisits(ctx, visit.CrewID, now, now.AddDate(0, 0, s.policy.HorizonDays))
	if err != nil {
		s.logger.Error("failed to snapshot busy intervals", "visit_id", visit.ID, "error", err)
		report.Failed++
		return
	}

	hours := int(visit.Duration() / time.Hour)
	finder := schedule.NewFinder(s.policy, busy, []int{hours}, now,
		schedule.WithAllowFriday(),
		schedule.WithExcludedVisits(visit.ID),
	)

	target, ok := s.nextSuitable(ctx, finder, visit)
	if !ok {
		s.logger.Warn("no suitable slot for threatened visit",
			"visit_id", visit.ID, "city", visit.City, "reason", decision.Reason)
		report.Failed++
		return
	}

	if err := s.store.MoveVisit(ctx, visit.ID, target.Start); err != nil {
		s.logger.Error("failed to move visit", "visit_id", visit.ID, "error", err)
		report.Failed++
		return
	}
	if err := s.store.SetVisitStatus(ctx, visit.ID, types.VisitTentative); err != nil {
		s.logger.Error("failed to demote moved visit", "visit_id", visit.ID, "error", err)
	}

	move := types.Move{
		VisitID: visit.ID,
		CrewID:  visit.CrewID,
		From:    types.TimeSlot{Start: visit.StartAt, End: visit.EndAt},
		To:      target,
		Reason:  decision.Reason,
	}
	report.Moved++
	report.Moves = append(report.Moves, move)

	if s.sync != nil {
		if err := s.sync.PushMove(ctx, visit.ID, target.Start, target.End); err != nil {
			s.logger.Error("failed to sync move to CRM", "visit_id", visit.ID, "error", err)
		}
	}
	s.publish(ctx, types.Outcome{
		Kind:       types.OutcomeRescheduled,
		OccurredAt: now,
		JobID:      visit.JobID,
		CrewID:     visit.CrewID,
		City:       visit.City,
		Moves:      []types.Move{move},
		Reason:     decision.Reason,
	})
}

// nextSuitable walks candidates until one lands on a gate-approved day that
// differs from the visit's current (rejected) day.
func (s *Sweeper) nextSuitable(ctx context.Context, finder *schedule.Finder, visit types.Visit) (types.TimeSlot, bool) {
	badDay := visit.StartAt.Format("2006-01-02")
	for {
		span, err := finder.Next()
		if err != nil {
			return types.TimeSlot{}, false
		}
		slot := span[0]
		if slot.Start.Format("2006-01-02") == badDay {
			continue
		}
		decision, err := s.gate.Check(ctx, visit.City, slot.Start)
		if err != nil {
			return types.TimeSlot{}, false
		}
		if decision.Suitable {
			return slot, true
		}
	}
}

func (s *Sweeper) publish(ctx context.Context, outcome types.Outcome) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, outcome); err != nil {
		s.logger.Error("failed to publish outcome", "kind", string(outcome.Kind), "error", err)
	}
}
