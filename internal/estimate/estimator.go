// Package estimate maps a monetary quote amount to an expected job duration.
//
// The policy mirrors how the business prices crew time: a full-day rate buys
// an 8-hour slot, a half-day rate buys 4 hours, and anything smaller is
// billed at the hourly crew rate. Quotes above one full day produce
// multi-day durations which the availability finder later splits into one
// visit per business day.
package estimate

import (
	"math"
	"time"

	"crewbook/internal/config"
	"crewbook/internal/types"
)

// Estimator converts quote amounts to whole-hour durations. It is a pure
// function of its configuration: deterministic and monotonic non-decreasing
// in the amount.
type Estimator struct {
	fullDayRate float64
	halfDayRate float64
	hourlyRate  float64
	dayHours    int
}

// New creates an Estimator from the scheduling configuration.
func New(cfg config.SchedulingConfig) *Estimator {
	return &Estimator{
		fullDayRate: cfg.FullDayRate,
		halfDayRate: cfg.HalfDayRate,
		hourlyRate:  cfg.HourlyRate,
		dayHours:    cfg.WorkdayHours(),
	}
}

// Hours returns the estimated job duration in whole hours.
//
// Full-day multiples contribute 8 hours each. A remainder at or above the
// half-day rate contributes 4 hours; any smaller positive remainder is
// rounded up at the hourly rate. The minimum estimate is 1 hour.
//
// Negative, zero, or non-finite amounts fail with
// ErrCodeValidationInvalidQuoteAmount.
func (e *Estimator) Hours(amount float64) (int, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidQuoteAmount,
			"quote amount must be a positive finite number",
			nil,
			map[string]any{"amount": amount},
		)
	}

	fullDays := math.Floor(amount / e.fullDayRate)
	remainder := amount - fullDays*e.fullDayRate

	hours := int(fullDays) * 8
	switch {
	case remainder >= e.halfDayRate:
		hours += 4
	case remainder > 0:
		hours += int(math.Ceil(remainder / e.hourlyRate))
	}

	if hours < 1 {
		hours = 1
	}
	return hours, nil
}

// Duration returns the estimate as a time.Duration.
func (e *Estimator) Duration(amount float64) (time.Duration, error) {
	hours, err := e.Hours(amount)
	if err != nil {
		return 0, err
	}
	return time.Duration(hours) * time.Hour, nil
}

// DaySegments splits a whole-hour duration into per-business-day segment
// lengths. Durations within one business day yield a single segment; longer
// durations are cut at day boundaries, full workdays first, with the
// remainder last. Used by the availability finder to plan one visit per
// consecutive business day.
func (e *Estimator) DaySegments(hours int) []int {
	if hours <= 0 {
		return nil
	}
	if hours <= e.dayHours {
		return []int{hours}
	}
	var segments []int
	for hours > e.dayHours {
		segments = append(segments, e.dayHours)
		hours -= e.dayHours
	}
	if hours > 0 {
		segments = append(segments, hours)
	}
	return segments
}
