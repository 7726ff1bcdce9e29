// Package schedule implements the calendar slot search for the CrewBook
// scheduling engine: business-hours and holiday rules, grace-buffer overlap
// checks, and the candidate slot iterator used by booking, rescheduling, and
// compaction.
package schedule

import (
	"time"

	"crewbook/internal/config"
	"crewbook/internal/types"
)

// Policy captures the business-hours rules applied to every candidate slot.
// It is derived once from configuration and shared read-only.
type Policy struct {
	WorkStartHour int
	WorkEndHour   int
	ExcludeFriday bool
	Holidays      map[string]struct{}
	Grace         time.Duration
	Step          time.Duration
	HorizonDays   int
}

// PolicyFromConfig builds a Policy from the scheduling configuration.
func PolicyFromConfig(cfg config.SchedulingConfig) Policy {
	return Policy{
		WorkStartHour: cfg.WorkdayStartHour,
		WorkEndHour:   cfg.WorkdayEndHour,
		ExcludeFriday: cfg.ExcludeFriday,
		Holidays:      cfg.HolidaySet(),
		Grace:         cfg.GraceBuffer,
		Step:          cfg.CandidateStep,
		HorizonDays:   cfg.SearchHorizonDays,
	}
}

// IsWorkday reports whether d falls on a bookable day: Monday through Friday
// (or Monday through Thursday when Friday exclusion applies and allowFriday
// is false), and not a configured holiday.
func (p Policy) IsWorkday(d time.Time, allowFriday bool) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	case time.Friday:
		if p.ExcludeFriday && !allowFriday {
			return false
		}
	}
	_, holiday := p.Holidays[d.Format("2006-01-02")]
	return !holiday
}

// DayWindow returns the business-hours window [start, end) for the day of d.
func (p Policy) DayWindow(d time.Time) (time.Time, time.Time) {
	y, m, day := d.Date()
	start := time.Date(y, m, day, p.WorkStartHour, 0, 0, 0, d.Location())
	end := time.Date(y, m, day, p.WorkEndHour, 0, 0, 0, d.Location())
	return start, end
}

// Free reports whether the half-open interval [start, end) is clear of every
// visit in busy once each visit is expanded by the grace buffer. Cancelled
// visits and visits whose ID appears in exclude never block.
func (p Policy) Free(busy []types.Visit, start, end time.Time, exclude map[string]struct{}) bool {
	for _, v := range busy {
		if _, skip := exclude[v.ID]; skip {
			continue
		}
		if v.Overlaps(start, end, p.Grace) {
			return false
		}
	}
	return true
}

// NextWorkday returns the first bookable day strictly after d.
func (p Policy) NextWorkday(d time.Time, allowFriday bool) time.Time {
	for {
		d = d.AddDate(0, 0, 1)
		if p.IsWorkday(d, allowFriday) {
			return d
		}
	}
}
