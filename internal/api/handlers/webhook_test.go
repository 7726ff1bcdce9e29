package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crewbook/internal/booking"
	"crewbook/internal/core"
	"crewbook/internal/types"
)

const testWebhookSecret = "jobber-signing-secret"

// mockBooker implements QuoteBooker for testing.
type mockBooker struct {
	calls  []types.WebhookEvent
	result *booking.Result
	err    error
}

func (m *mockBooker) BookApprovedQuote(ctx context.Context, event types.WebhookEvent) (*booking.Result, error) {
	m.calls = append(m.calls, event)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func signBody(t *testing.T, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func webhookBody(t *testing.T, topic, itemID string) []byte {
	t.Helper()
	payload := map[string]any{
		"data": map[string]any{
			"webHookEvent": map[string]any{
				"topic":      topic,
				"appId":      "app_1",
				"accountId":  "acct_1",
				"itemId":     itemID,
				"occurredAt": time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return body
}

func postWebhook(h *JobberWebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/jobber", bytes.NewReader(body))
	if signature != "" {
		r.Header.Set("X-Jobber-Hmac-SHA256", signature)
	}
	w := httptest.NewRecorder()
	h.Handle(w, r)
	return w
}

func bookedResult() *booking.Result {
	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	return &booking.Result{
		Job: types.Job{
			ID:      "job_1",
			QuoteID: "quote_1",
			Tag:     types.TagResidential,
			CrewID:  "residential_crew",
		},
		Visits: []types.Visit{{
			ID:      "visit_1",
			JobID:   "job_1",
			CrewID:  "residential_crew",
			StartAt: start,
			EndAt:   start.Add(3 * time.Hour),
			Status:  types.VisitConfirmed,
		}},
	}
}

func TestWebhook_ApprovedQuoteBooks(t *testing.T) {
	booker := &mockBooker{result: bookedResult()}
	h := NewJobberWebhookHandler(booker, testWebhookSecret, nil)

	body := webhookBody(t, "QUOTE_APPROVED", "quote_1")
	w := postWebhook(h, body, signBody(t, body))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(booker.calls) != 1 {
		t.Fatalf("expected 1 booking call, got %d", len(booker.calls))
	}
	if booker.calls[0].ItemID != "quote_1" {
		t.Errorf("expected quote_1, got %q", booker.calls[0].ItemID)
	}

	var resp struct {
		Data bookingResult `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.JobID != "job_1" {
		t.Errorf("expected job_1, got %q", resp.Data.JobID)
	}
	if len(resp.Data.Visits) != 1 || resp.Data.Visits[0].Status != "confirmed" {
		t.Errorf("unexpected visits in response: %+v", resp.Data.Visits)
	}
}

func TestWebhook_MissingSignature(t *testing.T) {
	booker := &mockBooker{result: bookedResult()}
	h := NewJobberWebhookHandler(booker, testWebhookSecret, nil)

	body := webhookBody(t, "QUOTE_APPROVED", "quote_1")
	w := postWebhook(h, body, "")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
	if len(booker.calls) != 0 {
		t.Error("booking must not run without a signature")
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	booker := &mockBooker{result: bookedResult()}
	h := NewJobberWebhookHandler(booker, testWebhookSecret, nil)

	body := webhookBody(t, "QUOTE_APPROVED", "quote_1")
	w := postWebhook(h, body, base64.StdEncoding.EncodeToString([]byte("forged")))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
	if len(booker.calls) != 0 {
		t.Error("booking must not run with a forged signature")
	}

	var resp core.APIErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeAuthSignatureInvalid) {
		t.Errorf("expected signature invalid code, got %s", resp.Error.Code)
	}
}

func TestWebhook_TamperedBody(t *testing.T) {
	booker := &mockBooker{result: bookedResult()}
	h := NewJobberWebhookHandler(booker, testWebhookSecret, nil)

	body := webhookBody(t, "QUOTE_APPROVED", "quote_1")
	sig := signBody(t, body)
	tampered := webhookBody(t, "QUOTE_APPROVED", "quote_other")
	w := postWebhook(h, tampered, sig)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 for tampered body, got %d", w.Code)
	}
}

func TestWebhook_IgnoresOtherTopics(t *testing.T) {
	booker := &mockBooker{result: bookedResult()}
	h := NewJobberWebhookHandler(booker, testWebhookSecret, nil)

	body := webhookBody(t, "INVOICE_CREATED", "inv_1")
	w := postWebhook(h, body, signBody(t, body))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if len(booker.calls) != 0 {
		t.Error("non-quote topics must not trigger booking")
	}
}

func TestWebhook_RedeliveryAcknowledged(t *testing.T) {
	booker := &mockBooker{
		err: types.NewAppError(types.ErrCodeConflictQuoteProcessed, "quote already processed", nil),
	}
	h := NewJobberWebhookHandler(booker, testWebhookSecret, nil)

	body := webhookBody(t, "QUOTE_APPROVED", "quote_1")
	w := postWebhook(h, body, signBody(t, body))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 for redelivery, got %d", w.Code)
	}
}

func TestWebhook_BookingFailurePropagates(t *testing.T) {
	booker := &mockBooker{
		err: types.NewAppError(types.ErrCodeScheduleNoSlotFound, "no slot found", nil),
	}
	h := NewJobberWebhookHandler(booker, testWebhookSecret, nil)

	body := webhookBody(t, "QUOTE_APPROVED", "quote_1")
	w := postWebhook(h, body, signBody(t, body))

	if w.Code == http.StatusOK || w.Code == http.StatusCreated {
		t.Errorf("expected error status, got %d", w.Code)
	}

	var resp core.APIErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeScheduleNoSlotFound) {
		t.Errorf("expected no slot code, got %s", resp.Error.Code)
	}
}

func TestWebhook_MissingItemID(t *testing.T) {
	booker := &mockBooker{result: bookedResult()}
	h := NewJobberWebhookHandler(booker, testWebhookSecret, nil)

	body := webhookBody(t, "QUOTE_APPROVED", "")
	w := postWebhook(h, body, signBody(t, body))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if len(booker.calls) != 0 {
		t.Error("booking must not run without an item ID")
	}
}

func TestWebhook_MalformedJSON(t *testing.T) {
	h := NewJobberWebhookHandler(&mockBooker{}, testWebhookSecret, nil)

	body := []byte(`{"data":`)
	w := postWebhook(h, body, signBody(t, body))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestWebhook_GenericBookingError(t *testing.T) {
	booker := &mockBooker{err: errors.New("connection reset")}
	h := NewJobberWebhookHandler(booker, testWebhookSecret, nil)

	body := webhookBody(t, "QUOTE_APPROVED", "quote_1")
	w := postWebhook(h, body, signBody(t, body))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}
