package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"crewbook/internal/core"
	"crewbook/internal/types"
)

// defaultScheduleWindow bounds a visit listing when the caller omits the
// "to" query parameter.
const defaultScheduleWindow = 14 * 24 * time.Hour

// VisitReader is the read-only calendar access used by the schedule handler.
type VisitReader interface {
	ListVisits(ctx context.Context, crewID string, from, to time.Time) ([]types.Visit, error)
	GetVisit(ctx context.Context, visitID string) (types.Visit, error)
}

// ScheduleHandler serves read-only views of crew calendars.
type ScheduleHandler struct {
	visits VisitReader
	clock  types.Clock
	logger *slog.Logger
}

// NewScheduleHandler creates a ScheduleHandler.
func NewScheduleHandler(visits VisitReader, clock types.Clock, logger *slog.Logger) *ScheduleHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleHandler{visits: visits, clock: clock, logger: logger}
}

// RegisterRoutes mounts the schedule endpoints.
func (h *ScheduleHandler) RegisterRoutes(r chi.Router) {
	r.Get("/crews/{crewID}/visits", h.ListCrewVisits)
	r.Get("/visits/{visitID}", h.GetVisit)
}

// visitView is the wire form of a visit in schedule responses.
type visitView struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	CrewID     string    `json:"crew_id"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	Status     string    `json:"status"`
	City       string    `json:"city"`
	Movable    bool      `json:"movable"`
	Confidence string    `json:"confidence,omitempty"`
}

func toVisitView(v types.Visit) visitView {
	return visitView{
		ID:         v.ID,
		JobID:      v.JobID,
		CrewID:     v.CrewID,
		StartAt:    v.StartAt,
		EndAt:      v.EndAt,
		Status:     string(v.Status),
		City:       v.City,
		Movable:    v.Movable,
		Confidence: string(v.Confidence),
	}
}

// ListCrewVisits returns the visits for one crew inside a time window.
// "from" defaults to now, "to" defaults to two weeks out; both accept
// RFC 3339 timestamps.
func (h *ScheduleHandler) ListCrewVisits(w http.ResponseWriter, r *http.Request) {
	crewID := chi.URLParam(r, "crewID")
	if crewID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"crew ID is required",
			nil,
		))
		return
	}

	now := h.clock.Now().UTC()

	from, err := parseTimeParam(r, "from", now)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	to, err := parseTimeParam(r, "to", from.Add(defaultScheduleWindow))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !to.After(from) {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidRange,
			"\"to\" must be after \"from\"",
			nil,
		))
		return
	}

	visits, err := h.visits.ListVisits(r.Context(), crewID, from, to)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list visits",
			"crew_id", crewID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	views := make([]visitView, 0, len(visits))
	for _, v := range visits {
		views = append(views, toVisitView(v))
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"crew_id": crewID,
		"from":    from,
		"to":      to,
		"visits":  views,
	}})
}

// GetVisit returns a single visit by ID.
func (h *ScheduleHandler) GetVisit(w http.ResponseWriter, r *http.Request) {
	visitID := chi.URLParam(r, "visitID")
	if visitID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"visit ID is required",
			nil,
		))
		return
	}

	visit, err := h.visits.GetVisit(r.Context(), visitID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toVisitView(visit)})
}

// parseTimeParam reads an RFC 3339 query parameter, falling back to def when
// the parameter is absent.
func parseTimeParam(r *http.Request, name string, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPayload,
			"invalid timestamp in query parameter",
			err,
			map[string]any{"param": name},
		)
	}
	return t.UTC(), nil
}
