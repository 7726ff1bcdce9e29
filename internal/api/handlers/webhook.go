// Package handlers contains the HTTP handler implementations for the
// CrewBook API: the CRM webhook intake, schedule queries, recurring
// template management, and operational triggers.
package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"crewbook/internal/booking"
	"crewbook/internal/core"
	"crewbook/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a CRM webhook payload
// (64 KB). Jobber webhook payloads carry only event metadata.
const maxWebhookBodySize = 64 * 1024

// signatureHeader carries the base64 HMAC-SHA256 of the raw request body.
const signatureHeader = "X-Jobber-Hmac-SHA256"

// topicQuoteApproved is the only webhook topic that triggers booking.
const topicQuoteApproved = "QUOTE_APPROVED"

// QuoteBooker runs the quote-to-booking pipeline for an approved quote.
type QuoteBooker interface {
	BookApprovedQuote(ctx context.Context, event types.WebhookEvent) (*booking.Result, error)
}

// JobberWebhookHandler handles webhook deliveries from the Jobber CRM.
// It is unauthenticated (no session) but verifies the provider signature
// over the raw body before trusting the payload.
type JobberWebhookHandler struct {
	booker QuoteBooker
	secret string
	logger *slog.Logger
}

// NewJobberWebhookHandler creates a webhook handler with the provided
// dependencies. The secret is the shared HMAC signing key configured in the
// Jobber app settings.
func NewJobberWebhookHandler(booker QuoteBooker, secret string, logger *slog.Logger) *JobberWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobberWebhookHandler{
		booker: booker,
		secret: secret,
		logger: logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. This is kept separate from the
// authenticated API routes because webhook routes are public.
func (h *JobberWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/jobber", h.Handle)
}

// jobberWebhookPayload mirrors the envelope Jobber posts to webhook targets.
type jobberWebhookPayload struct {
	Data struct {
		WebHookEvent struct {
			Topic      string    `json:"topic"`
			AppID      string    `json:"appId"`
			AccountID  string    `json:"accountId"`
			ItemID     string    `json:"itemId"`
			OccurredAt time.Time `json:"occurredAt"`
		} `json:"webHookEvent"`
	} `json:"data"`
}

// Handle processes an inbound webhook delivery:
//
//  1. Reads the raw body and verifies the X-Jobber-Hmac-SHA256 signature.
//  2. Parses the event envelope and filters on topic.
//  3. Runs the booking pipeline synchronously for QUOTE_APPROVED events.
//
// Deliveries are at-least-once; a redelivered quote that is already claimed
// is acknowledged with 200 so the CRM stops retrying.
func (h *JobberWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidPayload,
			"failed to read request body",
			err,
		))
		return
	}

	if err := h.verifySignature(payload, r.Header.Get(signatureHeader)); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, err)
		return
	}

	var envelope jobberWebhookPayload
	if err := json.Unmarshal(payload, &envelope); err != nil {
		h.logger.WarnContext(r.Context(), "failed to parse webhook payload", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidPayload,
			"invalid webhook payload JSON",
			err,
		))
		return
	}

	event := types.WebhookEvent{
		Topic:      envelope.Data.WebHookEvent.Topic,
		ItemID:     envelope.Data.WebHookEvent.ItemID,
		AccountID:  envelope.Data.WebHookEvent.AccountID,
		OccurredAt: envelope.Data.WebHookEvent.OccurredAt,
	}

	if event.Topic != topicQuoteApproved {
		h.logger.InfoContext(r.Context(), "ignoring webhook topic", "topic", event.Topic)
		w.WriteHeader(http.StatusOK)
		return
	}

	if event.ItemID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"webhook event is missing itemId",
			nil,
		))
		return
	}

	result, err := h.booker.BookApprovedQuote(r.Context(), event)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictQuoteProcessed {
			h.logger.InfoContext(r.Context(), "quote already processed, acknowledging redelivery",
				"quote_id", event.ItemID,
			)
			core.JSON(w, r, http.StatusOK, core.APIResponse{
				Data: map[string]string{"status": "already_processed"},
			})
			return
		}

		h.logger.ErrorContext(r.Context(), "booking failed",
			"quote_id", event.ItemID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: bookingResponse(result)})
}

// verifySignature checks the base64 HMAC-SHA256 of the raw body against the
// signature header using a constant-time comparison.
func (h *JobberWebhookHandler) verifySignature(payload []byte, signature string) error {
	if signature == "" {
		return types.NewAppError(
			types.ErrCodeAuthSignatureMissing,
			"missing "+signatureHeader+" header",
			nil,
		)
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature does not match payload",
			nil,
		)
	}
	return nil
}

// bookingVisit is the wire form of one booked visit.
type bookingVisit struct {
	ID      string    `json:"id"`
	CrewID  string    `json:"crew_id"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
	Status  string    `json:"status"`
}

// bookingResult is the response body for a successful booking.
type bookingResult struct {
	JobID    string         `json:"job_id"`
	QuoteID  string         `json:"quote_id"`
	CrewID   string         `json:"crew_id"`
	Tag      string         `json:"tag"`
	Degraded bool           `json:"degraded,omitempty"`
	Visits   []bookingVisit `json:"visits"`
}

func bookingResponse(result *booking.Result) bookingResult {
	resp := bookingResult{
		JobID:    result.Job.ID,
		QuoteID:  result.Job.QuoteID,
		CrewID:   result.Job.CrewID,
		Tag:      string(result.Job.Tag),
		Degraded: result.Degraded,
		Visits:   make([]bookingVisit, 0, len(result.Visits)),
	}
	for _, v := range result.Visits {
		resp.Visits = append(resp.Visits, bookingVisit{
			ID:      v.ID,
			CrewID:  v.CrewID,
			StartAt: v.StartAt,
			EndAt:   v.EndAt,
			Status:  string(v.Status),
		})
	}
	return resp
}
