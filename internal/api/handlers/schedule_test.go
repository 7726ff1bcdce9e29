package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"crewbook/internal/core"
	"crewbook/internal/types"
)

// fixedClock returns a constant time.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// mockVisitReader implements VisitReader for testing.
type mockVisitReader struct {
	visits   []types.Visit
	listErr  error
	getErr   error
	lastFrom time.Time
	lastTo   time.Time
}

func (m *mockVisitReader) ListVisits(ctx context.Context, crewID string, from, to time.Time) ([]types.Visit, error) {
	m.lastFrom, m.lastTo = from, to
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.visits, nil
}

func (m *mockVisitReader) GetVisit(ctx context.Context, visitID string) (types.Visit, error) {
	if m.getErr != nil {
		return types.Visit{}, m.getErr
	}
	for _, v := range m.visits {
		if v.ID == visitID {
			return v, nil
		}
	}
	return types.Visit{}, types.NewAppError(types.ErrCodeNotFoundVisit, "visit not found", nil)
}

func scheduleRouter(h *ScheduleHandler) http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

var scheduleNow = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

func TestListCrewVisits_DefaultWindow(t *testing.T) {
	start := scheduleNow.Add(25 * time.Hour)
	reader := &mockVisitReader{visits: []types.Visit{{
		ID:      "visit_1",
		JobID:   "job_1",
		CrewID:  "residential_crew",
		StartAt: start,
		EndAt:   start.Add(4 * time.Hour),
		Status:  types.VisitConfirmed,
		City:    "Toronto",
		Movable: true,
	}}}
	h := NewScheduleHandler(reader, fixedClock{now: scheduleNow}, nil)

	r := httptest.NewRequest(http.MethodGet, "/crews/residential_crew/visits", nil)
	w := httptest.NewRecorder()
	scheduleRouter(h).ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if !reader.lastFrom.Equal(scheduleNow) {
		t.Errorf("expected from=%v, got %v", scheduleNow, reader.lastFrom)
	}
	if got := reader.lastTo.Sub(reader.lastFrom); got != 14*24*time.Hour {
		t.Errorf("expected two-week default window, got %v", got)
	}

	var resp struct {
		Data struct {
			CrewID string      `json:"crew_id"`
			Visits []visitView `json:"visits"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.CrewID != "residential_crew" {
		t.Errorf("expected residential_crew, got %q", resp.Data.CrewID)
	}
	if len(resp.Data.Visits) != 1 || resp.Data.Visits[0].ID != "visit_1" {
		t.Errorf("unexpected visits: %+v", resp.Data.Visits)
	}
}

func TestListCrewVisits_ExplicitWindow(t *testing.T) {
	reader := &mockVisitReader{}
	h := NewScheduleHandler(reader, fixedClock{now: scheduleNow}, nil)

	r := httptest.NewRequest(http.MethodGet,
		"/crews/commercial_crew/visits?from=2025-06-09T00:00:00Z&to=2025-06-16T00:00:00Z", nil)
	w := httptest.NewRecorder()
	scheduleRouter(h).ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if reader.lastFrom != time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC) {
		t.Errorf("unexpected from: %v", reader.lastFrom)
	}
	if reader.lastTo != time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC) {
		t.Errorf("unexpected to: %v", reader.lastTo)
	}
}

func TestListCrewVisits_InvalidTimestamp(t *testing.T) {
	h := NewScheduleHandler(&mockVisitReader{}, fixedClock{now: scheduleNow}, nil)

	r := httptest.NewRequest(http.MethodGet, "/crews/residential_crew/visits?from=yesterday", nil)
	w := httptest.NewRecorder()
	scheduleRouter(h).ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestListCrewVisits_InvertedWindow(t *testing.T) {
	h := NewScheduleHandler(&mockVisitReader{}, fixedClock{now: scheduleNow}, nil)

	r := httptest.NewRequest(http.MethodGet,
		"/crews/residential_crew/visits?from=2025-06-16T00:00:00Z&to=2025-06-09T00:00:00Z", nil)
	w := httptest.NewRecorder()
	scheduleRouter(h).ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for inverted window, got %d", w.Code)
	}

	var resp core.APIErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeValidationInvalidRange) {
		t.Errorf("expected invalid range code, got %s", resp.Error.Code)
	}
}

func TestGetVisit_Found(t *testing.T) {
	start := scheduleNow.Add(24 * time.Hour)
	reader := &mockVisitReader{visits: []types.Visit{{
		ID:      "visit_1",
		CrewID:  "residential_crew",
		StartAt: start,
		EndAt:   start.Add(2 * time.Hour),
		Status:  types.VisitTentative,
	}}}
	h := NewScheduleHandler(reader, fixedClock{now: scheduleNow}, nil)

	r := httptest.NewRequest(http.MethodGet, "/visits/visit_1", nil)
	w := httptest.NewRecorder()
	scheduleRouter(h).ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Data visitView `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.Status != "tentative" {
		t.Errorf("expected tentative, got %q", resp.Data.Status)
	}
}

func TestGetVisit_NotFound(t *testing.T) {
	h := NewScheduleHandler(&mockVisitReader{}, fixedClock{now: scheduleNow}, nil)

	r := httptest.NewRequest(http.MethodGet, "/visits/missing", nil)
	w := httptest.NewRecorder()
	scheduleRouter(h).ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}
