package types

// QuoteStatus is the lifecycle state of a Quote as reported by the CRM.
type QuoteStatus string

const (
	QuotePending  QuoteStatus = "pending"
	QuoteApproved QuoteStatus = "approved"
	QuoteRejected QuoteStatus = "rejected"
)

// VisitStatus is the lifecycle state of a scheduled Visit.
//
// A visit is created tentative or confirmed by the Booking Orchestrator,
// promoted tentative -> confirmed by the Reschedule Sweep once the weather
// holds close to the date, demoted back to tentative when it has to move,
// and reaches cancelled only on explicit cancellation. Cancelled visits are
// excluded from overlap checks and from compaction gap donation.
type VisitStatus string

const (
	VisitTentative VisitStatus = "tentative"
	VisitConfirmed VisitStatus = "confirmed"
	VisitCancelled VisitStatus = "cancelled"
)

// JobTag classifies a job for crew routing.
type JobTag string

const (
	TagResidential JobTag = "residential"
	TagCommercial  JobTag = "commercial"
)

// Confidence grades a weather decision by precipitation probability.
// Low-confidence acceptances book tentative rather than confirmed.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceBad    Confidence = "bad"
)

// OutcomeKind identifies the type of a scheduling outcome message published
// for the downstream notification component.
type OutcomeKind string

const (
	OutcomeBooked        OutcomeKind = "booked"
	OutcomeBookingFailed OutcomeKind = "booking_failed"
	OutcomeRescheduled   OutcomeKind = "rescheduled"
	OutcomeConfirmed     OutcomeKind = "confirmed"
	OutcomeCompacted     OutcomeKind = "compacted"
	OutcomeDegraded      OutcomeKind = "degraded_mode"
)
