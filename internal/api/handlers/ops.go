package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"crewbook/internal/compact"
	"crewbook/internal/core"
	"crewbook/internal/sweep"
	"crewbook/internal/types"
)

// SweepRunner runs one reschedule sweep pass.
type SweepRunner interface {
	Run(ctx context.Context, now time.Time) (sweep.Report, error)
}

// CompactRunner runs one schedule compaction pass.
type CompactRunner interface {
	Run(ctx context.Context, now time.Time) (compact.Report, error)
}

// OpsHandler exposes manual triggers for the background maintenance tasks.
// Production runs are driven by the scheduled sweeper; these endpoints exist
// for operators to force a pass after weather data corrections or incident
// recovery.
type OpsHandler struct {
	sweeper   SweepRunner
	compactor CompactRunner
	clock     types.Clock
	logger    *slog.Logger
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(sweeper SweepRunner, compactor CompactRunner, clock types.Clock, logger *slog.Logger) *OpsHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpsHandler{sweeper: sweeper, compactor: compactor, clock: clock, logger: logger}
}

// RegisterRoutes mounts the operational endpoints.
func (h *OpsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/ops/sweep", h.TriggerSweep)
	r.Post("/ops/compact", h.TriggerCompaction)
}

// opsRequest optionally overrides the reference time for a manual run.
type opsRequest struct {
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// moveView is the wire form of one visit move.
type moveView struct {
	VisitID string         `json:"visit_id"`
	CrewID  string         `json:"crew_id"`
	From    types.TimeSlot `json:"from"`
	To      types.TimeSlot `json:"to"`
	Reason  string         `json:"reason,omitempty"`
}

func toMoveViews(moves []types.Move) []moveView {
	views := make([]moveView, 0, len(moves))
	for _, m := range moves {
		views = append(views, moveView{
			VisitID: m.VisitID,
			CrewID:  m.CrewID,
			From:    m.From,
			To:      m.To,
			Reason:  m.Reason,
		})
	}
	return views
}

func (h *OpsHandler) referenceTime(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	now := h.clock.Now().UTC()
	if r.ContentLength == 0 {
		return now, true
	}

	var req opsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return time.Time{}, false
	}
	if req.ReferenceTime != nil {
		now = req.ReferenceTime.UTC()
	}
	return now, true
}

// TriggerSweep runs the reschedule sweep synchronously and reports what
// moved.
func (h *OpsHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	now, ok := h.referenceTime(w, r)
	if !ok {
		return
	}

	report, err := h.sweeper.Run(r.Context(), now)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "manual sweep failed", "error", err)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"checked":  report.Checked,
		"moved":    report.Moved,
		"promoted": report.Promoted,
		"failed":   report.Failed,
		"moves":    toMoveViews(report.Moves),
	}})
}

// TriggerCompaction runs the schedule compactor synchronously and reports
// what moved.
func (h *OpsHandler) TriggerCompaction(w http.ResponseWriter, r *http.Request) {
	now, ok := h.referenceTime(w, r)
	if !ok {
		return
	}

	report, err := h.compactor.Run(r.Context(), now)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "manual compaction failed", "error", err)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"considered": report.Considered,
		"moved":      report.Moved,
		"failed":     report.Failed,
		"moves":      toMoveViews(report.Moves),
	}})
}
