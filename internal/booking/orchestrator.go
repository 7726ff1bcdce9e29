// Package booking turns an approved quote into committed calendar entries:
// duration estimation, crew routing, joint availability and weather
// selection, conflict-checked calendar writes, CRM sync, and outcome
// publication.
package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"crewbook/internal/calendar"
	"crewbook/internal/config"
	"crewbook/internal/estimate"
	"crewbook/internal/schedule"
	"crewbook/internal/types"
	"crewbook/internal/weather"
)

// conflictRetries bounds the re-read/retry loop when a concurrent writer wins
// the calendar write race.
const conflictRetries = 3

// QuoteSource fetches quote details from the CRM.
type QuoteSource interface {
	GetQuote(ctx context.Context, quoteID string) (types.Quote, error)
}

// QuoteRegistry records which quotes have already produced a booking so
// at-least-once webhook delivery books each quote exactly once.
type QuoteRegistry interface {
	MarkProcessed(ctx context.Context, quoteID string) (bool, error)
	Unmark(ctx context.Context, quoteID string) error
}

// WeatherGate gates a city/date pair. Satisfied by *weather.Gate.
type WeatherGate interface {
	Check(ctx context.Context, city string, date time.Time) (weather.Decision, error)
}

// Result summarizes a completed booking.
type Result struct {
	Job      types.Job
	Visits   []types.Visit
	Degraded bool
}

// Orchestrator drives the quote-to-booking pipeline.
type Orchestrator struct {
	quotes     QuoteSource
	registry   QuoteRegistry
	store      types.CalendarStore
	guard      *calendar.Guard
	gate       WeatherGate
	estimator  *estimate.Estimator
	classifier *Classifier
	policy     schedule.Policy
	sync       types.CalendarSync
	publisher  types.OutcomePublisher
	clock      types.Clock
	logger     *slog.Logger

	recheckHorizon time.Duration
}

// NewOrchestrator wires the booking pipeline. sync and publisher may be nil
// in tests; their failures are never fatal to a booking either way.
func NewOrchestrator(
	quotes QuoteSource,
	registry QuoteRegistry,
	store types.CalendarStore,
	guard *calendar.Guard,
	gate WeatherGate,
	cfg config.SchedulingConfig,
	sync types.CalendarSync,
	publisher types.OutcomePublisher,
	clock types.Clock,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Orchestrator{
		quotes:         quotes,
		registry:       registry,
		store:          store,
		guard:          guard,
		gate:           gate,
		estimator:      estimate.New(cfg),
		classifier:     NewClassifier(cfg),
		policy:         schedule.PolicyFromConfig(cfg),
		sync:           sync,
		publisher:      publisher,
		clock:          clock,
		logger:         logger,
		recheckHorizon: cfg.RecheckHorizon,
	}
}

// BookApprovedQuote handles one approved-quote event end to end: fetch and
// validate the quote, claim it against redelivery, estimate its duration,
// route it to a crew, pick the earliest slot span that both the calendar and
// the weather accept, and commit it. The calendar write races other writers
// for the same crew; on a conflict the busy snapshot is re-read and the
// search restarted, up to conflictRetries times.
//
// Failures after the quote was claimed release the claim so the CRM's webhook
// retry can attempt the booking again.
func (o *Orchestrator) BookApprovedQuote(ctx context.Context, event types.WebhookEvent) (*Result, error) {
	now := o.clock.Now()

	quote, err := o.quotes.GetQuote(ctx, event.ItemID)
	if err != nil {
		return nil, err
	}
	if quote.Status != types.QuoteApproved {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPayload,
			"quote is not approved", nil,
			map[string]any{"quote_id": quote.ID, "status": string(quote.Status)})
	}

	claimed, err := o.registry.MarkProcessed(ctx, quote.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictQuoteProcessed,
			"quote already booked", nil, map[string]any{"quote_id": quote.ID})
	}

	result, err := o.book(ctx, quote, now)
	if err != nil {
		o.release(ctx, quote.ID)
		o.publish(ctx, o.failureOutcome(quote, now, err))
		return nil, err
	}

	o.syncVisits(ctx, result.Visits)
	o.publish(ctx, o.bookedOutcome(quote, result, now))
	return result, nil
}

func (o *Orchestrator) book(ctx context.Context, quote types.Quote, now time.Time) (*Result, error) {
	hours, err := o.estimator.Hours(quote.Amount)
	if err != nil {
		return nil, err
	}
	segments := o.estimator.DaySegments(hours)

	tag := o.classifier.Classify(quote)
	crewID := o.classifier.CrewFor(tag)

	o.logger.Info("booking approved quote",
		"quote_id", quote.ID,
		"city", quote.City,
		"hours", hours,
		"tag", string(tag),
		"crew_id", crewID,
	)

	o.guard.Lock(crewID)
	defer o.guard.Unlock(crewID)

	for attempt := 0; attempt <= conflictRetries; attempt++ {
		span, decisions, err := o.selectSpan(ctx, quote.City, crewID, segments, now)
		if err != nil {
			return nil, err
		}

		result, err := o.commit(ctx, quote, tag, crewID, span, decisions, now)
		if err == nil {
			return result, nil
		}
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeConflictCalendarWrite {
			o.logger.Warn("calendar write conflict, retrying",
				"quote_id", quote.ID, "crew_id", crewID, "attempt", attempt+1)
			continue
		}
		return nil, err
	}

	return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictCalendarWrite,
		"calendar write kept conflicting", nil,
		map[string]any{"quote_id": quote.ID, "crew_id": crewID, "attempts": conflictRetries + 1})
}

// selectSpan walks candidate spans in chronological order and returns the
// first whose every day passes the weather gate. The availability search and
// the weather check stay joined here: a weather rejection advances to the
// next candidate instead of failing the booking.
func (o *Orchestrator) selectSpan(ctx context.Context, city, crewID string, segments []int, now time.Time) ([]types.TimeSlot, []weather.Decision, error) {
	busy, err := o.store.ListVisits(ctx, crewID, now, now.AddDate(0, 0, o.policy.HorizonDays))
	if err != nil {
		return nil, nil, err
	}

	finder := schedule.NewFinder(o.policy, busy, segments, now)
	for {
		span, err := finder.Next()
		if err != nil {
			return nil, nil, err
		}

		decisions, ok, err := o.gateSpan(ctx, city, span)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			return span, decisions, nil
		}
	}
}

// gateSpan checks every day of the span. One bad day rejects the whole span
// so multi-day jobs never straddle a storm.
func (o *Orchestrator) gateSpan(ctx context.Context, city string, span []types.TimeSlot) ([]weather.Decision, bool, error) {
	decisions := make([]weather.Decision, 0, len(span))
	for _, slot := range span {
		decision, err := o.gate.Check(ctx, city, slot.Start)
		if err != nil {
			return nil, false, err
		}
		if !decision.Suitable {
			o.logger.Debug("candidate rejected by weather",
				"city", city,
				"date", slot.Start.Format("2006-01-02"),
				"reason", decision.Reason,
			)
			return nil, false, nil
		}
		decisions = append(decisions, decision)
	}
	return decisions, true, nil
}

// commit writes the visits and then the job. The job row lands only after
// every visit is in, so a conflicted or failed attempt leaves no job behind.
// Visits confirm immediately only when the weather decision is solid and the
// date is close enough that the sweep will not re-examine it from scratch;
// everything else books tentative.
func (o *Orchestrator) commit(ctx context.Context, quote types.Quote, tag types.JobTag, crewID string, span []types.TimeSlot, decisions []weather.Decision, now time.Time) (*Result, error) {
	job := types.Job{
		ID:      uuid.NewString(),
		QuoteID: quote.ID,
		Tag:     tag,
		CrewID:  crewID,
	}

	degraded := false
	visits := make([]types.Visit, 0, len(span))
	for i, slot := range span {
		decision := decisions[i]
		if decision.Degraded {
			degraded = true
		}

		visit := types.Visit{
			ID:         uuid.NewString(),
			JobID:      job.ID,
			CrewID:     crewID,
			StartAt:    slot.Start,
			EndAt:      slot.End,
			Status:     o.initialStatus(decision, slot.Start, now),
			City:       quote.City,
			Movable:    true,
			Confidence: decision.Confidence,
		}
		if err := o.store.CreateVisit(ctx, visit); err != nil {
			o.rollbackVisits(ctx, visits)
			return nil, err
		}
		visits = append(visits, visit)
		job.VisitIDs = append(job.VisitIDs, visit.ID)
	}

	if err := o.store.CreateJob(ctx, job); err != nil {
		o.rollbackVisits(ctx, visits)
		return nil, err
	}

	return &Result{Job: job, Visits: visits, Degraded: degraded}, nil
}

// rollbackVisits cancels a partial span so a retry starts clean.
func (o *Orchestrator) rollbackVisits(ctx context.Context, visits []types.Visit) {
	for _, created := range visits {
		if err := o.store.CancelVisit(ctx, created.ID); err != nil {
			o.logger.Error("failed to roll back visit after conflict",
				"visit_id", created.ID, "error", err)
		}
	}
}

// initialStatus books confirmed only for high- or medium-confidence weather
// on dates inside the recheck horizon. Low confidence, degraded acceptances,
// and far-out dates start tentative and rely on the sweep to promote them.
func (o *Orchestrator) initialStatus(decision weather.Decision, start, now time.Time) types.VisitStatus {
	if decision.Degraded || decision.Confidence == types.ConfidenceLow {
		return types.VisitTentative
	}
	if start.After(now.Add(o.recheckHorizon)) {
		return types.VisitTentative
	}
	return types.VisitConfirmed
}

func (o *Orchestrator) syncVisits(ctx context.Context, visits []types.Visit) {
	if o.sync == nil {
		return
	}
	for _, v := range visits {
		if err := o.sync.PushVisit(ctx, v); err != nil {
			o.logger.Error("failed to sync visit to CRM", "visit_id", v.ID, "error", err)
		}
	}
}

func (o *Orchestrator) release(ctx context.Context, quoteID string) {
	if err := o.registry.Unmark(ctx, quoteID); err != nil {
		o.logger.Error("failed to release quote claim", "quote_id", quoteID, "error", err)
	}
}

func (o *Orchestrator) bookedOutcome(quote types.Quote, result *Result, now time.Time) types.Outcome {
	kind := types.OutcomeBooked
	if result.Degraded {
		kind = types.OutcomeDegraded
	}
	slots := make([]types.TimeSlot, 0, len(result.Visits))
	for _, v := range result.Visits {
		slots = append(slots, types.TimeSlot{Start: v.StartAt, End: v.EndAt})
	}
	return types.Outcome{
		Kind:       kind,
		OccurredAt: now,
		QuoteID:    quote.ID,
		JobID:      result.Job.ID,
		CrewID:     result.Job.CrewID,
		City:       quote.City,
		Slots:      slots,
	}
}

func (o *Orchestrator) failureOutcome(quote types.Quote, now time.Time, err error) types.Outcome {
	outcome := types.Outcome{
		Kind:       types.OutcomeBookingFailed,
		OccurredAt: now,
		QuoteID:    quote.ID,
		City:       quote.City,
		Reason:     err.Error(),
	}
	if appErr, ok := err.(*types.AppError); ok {
		outcome.Code = appErr.Code
	}
	return outcome
}

func (o *Orchestrator) publish(ctx context.Context, outcome types.Outcome) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, outcome); err != nil {
		o.logger.Error("failed to publish outcome",
			"kind", string(outcome.Kind),
			"quote_id", outcome.QuoteID,
			"error", err)
	}
}
