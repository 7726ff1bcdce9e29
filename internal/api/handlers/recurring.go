package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"crewbook/internal/booking"
	"crewbook/internal/core"
	"crewbook/internal/types"
)

// TemplateStore persists recurring visit templates.
type TemplateStore interface {
	Create(ctx context.Context, tmpl types.RecurringTemplate) error
	Deactivate(ctx context.Context, templateID string, endDate time.Time) error
}

// TemplateMaterializer books the concrete visits for a template.
type TemplateMaterializer interface {
	Materialize(ctx context.Context, tmpl types.RecurringTemplate) (booking.RecurringResult, error)
}

// RecurringHandler manages recurring weekly visit templates.
type RecurringHandler struct {
	templates    TemplateStore
	materializer TemplateMaterializer
	validator    *core.Validator
	clock        types.Clock
	logger       *slog.Logger
}

// NewRecurringHandler creates a RecurringHandler.
func NewRecurringHandler(
	templates TemplateStore,
	materializer TemplateMaterializer,
	validator *core.Validator,
	clock types.Clock,
	logger *slog.Logger,
) *RecurringHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecurringHandler{
		templates:    templates,
		materializer: materializer,
		validator:    validator,
		clock:        clock,
		logger:       logger,
	}
}

// RegisterRoutes mounts the recurring template endpoints.
func (h *RecurringHandler) RegisterRoutes(r chi.Router) {
	r.Post("/recurring-templates", h.Create)
	r.Delete("/recurring-templates/{templateID}", h.Deactivate)
}

// CreateTemplateRequest is the request body for POST /recurring-templates.
type CreateTemplateRequest struct {
	ClientID      string `json:"client_id" validate:"required"`
	CrewID        string `json:"crew_id" validate:"required"`
	City          string `json:"city" validate:"required"`
	Tag           string `json:"tag" validate:"required,oneof=residential commercial"`
	Weekday       string `json:"weekday" validate:"required"`
	StartHour     int    `json:"start_hour" validate:"min=0,max=23"`
	StartMinute   int    `json:"start_minute" validate:"min=0,max=59"`
	DurationHours int    `json:"duration_hours" validate:"required,min=1,max=8"`
	StartDate     string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// templateResult is the response body for a created template.
type templateResult struct {
	TemplateID       string      `json:"template_id"`
	TotalDates       int         `json:"total_dates"`
	Booked           int         `json:"booked"`
	SkippedConflicts int         `json:"skipped_conflicts"`
	SkippedWeather   int         `json:"skipped_weather"`
	Visits           []visitView `json:"visits"`
}

// Create registers a recurring template and books every matching occurrence
// up front. Occurrences lost to conflicts or weather are tallied, not fatal.
func (h *RecurringHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	tmpl, err := h.buildTemplate(req)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	// The template record must exist before any visit it owns.
	if err := h.templates.Create(r.Context(), tmpl); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to persist template",
			"template_id", tmpl.ID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	result, err := h.materializer.Materialize(r.Context(), tmpl)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to materialize template",
			"template_id", tmpl.ID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	views := make([]visitView, 0, len(result.Visits))
	for _, v := range result.Visits {
		views = append(views, toVisitView(v))
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: templateResult{
		TemplateID:       tmpl.ID,
		TotalDates:       result.TotalDates,
		Booked:           result.Booked,
		SkippedConflicts: result.SkippedConflicts,
		SkippedWeather:   result.SkippedWeather,
		Visits:           views,
	}})
}

// Deactivate ends a template as of today. Already-booked future visits are
// left on the calendar; the sweep and compactor keep managing them.
func (h *RecurringHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "templateID")
	if templateID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"template ID is required",
			nil,
		))
		return
	}

	today := h.clock.Now().UTC().Truncate(24 * time.Hour)
	if err := h.templates.Deactivate(r.Context(), templateID, today); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{
		"template_id": templateID,
		"status":      "deactivated",
	}})
}

func (h *RecurringHandler) buildTemplate(req CreateTemplateRequest) (types.RecurringTemplate, error) {
	weekday, err := parseWeekday(req.Weekday)
	if err != nil {
		return types.RecurringTemplate{}, err
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return types.RecurringTemplate{}, types.NewAppError(
			types.ErrCodeValidationInvalidPayload,
			"invalid start_date",
			err,
		)
	}

	var endDate time.Time
	if req.EndDate != "" {
		endDate, err = time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			return types.RecurringTemplate{}, types.NewAppError(
				types.ErrCodeValidationInvalidPayload,
				"invalid end_date",
				err,
			)
		}
		if endDate.Before(startDate) {
			return types.RecurringTemplate{}, types.NewAppError(
				types.ErrCodeValidationInvalidRange,
				"end_date must not be before start_date",
				nil,
			)
		}
	}

	return types.RecurringTemplate{
		ID:            uuid.NewString(),
		ClientID:      req.ClientID,
		CrewID:        req.CrewID,
		City:          req.City,
		Tag:           types.JobTag(req.Tag),
		Weekday:       weekday,
		StartHour:     req.StartHour,
		StartMinute:   req.StartMinute,
		DurationHours: req.DurationHours,
		StartDate:     startDate,
		EndDate:       endDate,
	}, nil
}

func parseWeekday(name string) (time.Weekday, error) {
	switch strings.ToLower(name) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	default:
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPayload,
			"invalid weekday",
			nil,
			map[string]any{"weekday": name},
		)
	}
}
