package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers and services MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidQuoteAmount ErrorCode = "validation_invalid_quote_amount"
	ErrCodeValidationInvalidCity        ErrorCode = "validation_invalid_city"
	ErrCodeValidationMissingField       ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidPayload     ErrorCode = "validation_invalid_payload"
	ErrCodeValidationInvalidRange       ErrorCode = "validation_invalid_time_range"

	// Auth (401)
	ErrCodeAuthSignatureMissing ErrorCode = "auth_webhook_signature_missing"
	ErrCodeAuthSignatureInvalid ErrorCode = "auth_webhook_signature_invalid"
	ErrCodeAuthTokenExpired     ErrorCode = "auth_crm_token_expired"

	// Not Found (404)
	ErrCodeNotFoundQuote ErrorCode = "not_found_quote"
	ErrCodeNotFoundVisit ErrorCode = "not_found_visit"
	ErrCodeNotFoundJob   ErrorCode = "not_found_job"

	// Conflict (409)
	ErrCodeConflictCalendarWrite  ErrorCode = "conflict_calendar_write"
	ErrCodeConflictQuoteProcessed ErrorCode = "conflict_quote_already_processed"

	// Scheduling (422)
	ErrCodeScheduleNoSlotFound ErrorCode = "schedule_no_slot_found"
	ErrCodeScheduleNotMovable  ErrorCode = "schedule_visit_not_movable"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamWeather     ErrorCode = "upstream_weather_unavailable"
	ErrCodeUpstreamCRM         ErrorCode = "upstream_crm_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "schedule_"):
		return http.StatusUnprocessableEntity // 422
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// Degraded reports whether this error represents a degraded-mode condition
// rather than a hard failure. Degraded conditions (an unreachable weather
// service under fail-open policy) are logged and surfaced on the outcome
// stream but do not abort the operation that encountered them.
func (e *AppError) Degraded() bool {
	return e.Code == ErrCodeUpstreamWeather
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
