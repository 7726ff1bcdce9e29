package types

import "time"

// Outcome is the structured record of one scheduling decision, published to
// the outcome queue for the notification component to turn into client- and
// crew-facing messages. Degraded-mode outcomes are distinguishable from hard
// failures via Kind.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	OccurredAt time.Time   `json:"occurred_at"`
	TraceID    string      `json:"trace_id,omitempty"`

	QuoteID string `json:"quote_id,omitempty"`
	JobID   string `json:"job_id,omitempty"`
	CrewID  string `json:"crew_id,omitempty"`
	City    string `json:"city,omitempty"`

	// Booked/rescheduled slots. For multi-day jobs Slots carries one entry
	// per visit; for moves, Moves carries old slot -> new slot pairs.
	Slots []TimeSlot `json:"slots,omitempty"`
	Moves []Move     `json:"moves,omitempty"`

	// Failure or degradation detail.
	Code   ErrorCode `json:"code,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// WebhookEvent is the inbound "approved quote" trigger after signature
// verification and payload extraction. ItemID carries the CRM quote ID.
type WebhookEvent struct {
	Topic      string    `json:"topic"`
	ItemID     string    `json:"item_id"`
	AccountID  string    `json:"account_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SweeperPayload is the JSON payload sent by the scheduling rule (EventBridge
// or local ticker) to the sweeper entrypoint. It identifies the task to run
// and optionally overrides the reference time for manual invocation or
// backfilling.
type SweeperPayload struct {
	Task SweeperTask `json:"task"`
	// ReferenceTime allows manual invocation to specify a different "now" for
	// deterministic execution. If nil, time.Now().UTC() is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// SweeperTask identifies which background service handles a sweeper payload.
type SweeperTask string

const (
	TaskRescheduleSweep SweeperTask = "reschedule_sweep"
	TaskCompactSchedule SweeperTask = "compact_schedule"
)
