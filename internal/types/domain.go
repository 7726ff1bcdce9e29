package types

import "time"

// Quote is a priced service offer as reported by the CRM. Once approved it is
// immutable except for the status transition; the scheduling core only ever
// reads it.
type Quote struct {
	ID         string      `json:"id"`
	Amount     float64     `json:"amount"`
	Status     QuoteStatus `json:"status"`
	ClientID   string      `json:"client_id"`
	ClientName string      `json:"client_name,omitempty"`
	Address    string      `json:"address,omitempty"`
	City       string      `json:"city"`
}

// Visit is a single scheduled time block of crew work, part of a Job.
// Duration (EndAt - StartAt) is fixed at creation; rescheduling shifts the
// start but never shortens the block.
type Visit struct {
	ID         string      `json:"id"`
	JobID      string      `json:"job_id"`
	CrewID     string      `json:"crew_id"`
	StartAt    time.Time   `json:"start_at"`
	EndAt      time.Time   `json:"end_at"`
	Status     VisitStatus `json:"status"`
	City       string      `json:"city"`
	Movable    bool        `json:"movable"`
	Confidence Confidence  `json:"confidence,omitempty"`
}

// Duration returns the fixed length of the visit.
func (v Visit) Duration() time.Duration {
	return v.EndAt.Sub(v.StartAt)
}

// Active reports whether the visit still occupies calendar time.
func (v Visit) Active() bool {
	return v.Status != VisitCancelled
}

// Overlaps reports whether this visit's interval, expanded by the grace
// buffer on both sides, intersects the half-open interval [start, end).
// Cancelled visits never overlap anything.
func (v Visit) Overlaps(start, end time.Time, grace time.Duration) bool {
	if !v.Active() {
		return false
	}
	busyStart := v.StartAt.Add(-grace)
	busyEnd := v.EndAt.Add(grace)
	return start.Before(busyEnd) && busyStart.Before(end)
}

// Job groups the visits created for one approved quote. A large quote may
// span multiple calendar days, one Visit per day-segment, scheduled on
// consecutive business days.
type Job struct {
	ID       string   `json:"id"`
	QuoteID  string   `json:"quote_id"`
	Tag      JobTag   `json:"tag"`
	CrewID   string   `json:"crew_id"`
	VisitIDs []string `json:"visit_ids"`
}

// TimeSlot is a half-open candidate interval [Start, End) produced during
// availability search. Slots are never persisted.
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the slot length.
func (s TimeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// ForecastSample is one hourly (or 3-hourly) forecast reading for a city.
// POP is the precipitation probability in [0, 1]. FetchedAt records when the
// sample was retrieved from the provider, for staleness checks.
type ForecastSample struct {
	City         string    `json:"city"`
	At           time.Time `json:"at"`
	POP          float64   `json:"pop"`
	Thunderstorm bool      `json:"thunderstorm"`
	SnowStorm    bool      `json:"snow_storm"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Severe reports whether the sample carries a severe-weather flag.
func (f ForecastSample) Severe() bool {
	return f.Thunderstorm || f.SnowStorm
}

// Move records one schedule change (reschedule or compaction shift) for the
// downstream notification component.
type Move struct {
	VisitID string   `json:"visit_id"`
	CrewID  string   `json:"crew_id"`
	From    TimeSlot `json:"from"`
	To      TimeSlot `json:"to"`
	Reason  string   `json:"reason"`
}

// RecurringTemplate describes a weekly recurring booking: same weekday, same
// start time, same duration, between StartDate and EndDate inclusive.
type RecurringTemplate struct {
	ID            string       `json:"id"`
	ClientID      string       `json:"client_id"`
	CrewID        string       `json:"crew_id"`
	City          string       `json:"city"`
	Tag           JobTag       `json:"tag"`
	Weekday       time.Weekday `json:"weekday"`
	StartHour     int          `json:"start_hour"`
	StartMinute   int          `json:"start_minute"`
	DurationHours int          `json:"duration_hours"`
	StartDate     time.Time    `json:"start_date"`
	EndDate       time.Time    `json:"end_date"`
}
