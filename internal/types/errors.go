package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidFrequency ErrorCode = "validation_invalid_frequency"
	ErrCodeValidationInvalidAmount    ErrorCode = "validation_invalid_amount"
	ErrCodeValidationInvalidCurrency  ErrorCode = "validation_invalid_currency"
	ErrCodeValidationInvalidAnchor    ErrorCode = "validation_invalid_anchor_date"
	ErrCodeValidationEndBeforeAnchor  ErrorCode = "validation_end_before_anchor"
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidChannel   ErrorCode = "validation_invalid_channel_config"
	ErrCodeValidationInvalidWebhook   ErrorCode = "validation_invalid_webhook_url"
	ErrCodeValidationPreviewCount     ErrorCode = "validation_preview_count_out_of_range"

	// Not Found (404)
	ErrCodeNotFoundRule       ErrorCode = "not_found_rule"
	ErrCodeNotFoundUser       ErrorCode = "not_found_user"
	ErrCodeNotFoundOccurrence ErrorCode = "not_found_occurrence"

	// Conflict (409)
	ErrCodeConflictDuplicateOccurrence ErrorCode = "conflict_duplicate_occurrence"
	ErrCodeConflictRuleInactive        ErrorCode = "conflict_rule_inactive"
	ErrCodeConflictConcurrent          ErrorCode = "conflict_concurrent_modification"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeInternalQueue       ErrorCode = "internal_queue_error"
	ErrCodeUpstreamTelegram    ErrorCode = "upstream_telegram_unavailable"
	ErrCodeUpstreamWebhook     ErrorCode = "upstream_webhook_unavailable"
	ErrCodeUpstreamEmail       ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamRates       ErrorCode = "upstream_rates_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_service_unavailable"
	ErrCodeUpstreamRateLimit   ErrorCode = "upstream_rate_limited"

	// Delivery-specific
	ErrCodeDeliveryRejected   ErrorCode = "delivery_rejected"
	ErrCodeDeliveryBlocked    ErrorCode = "delivery_blocked_destination"
	ErrCodeDeliverySuppressed ErrorCode = "delivery_suppressed_quiet_hours"

	// API traffic (429)
	ErrCodeRateLimited ErrorCode = "rate_limit_exceeded"

	// Inbound provider hooks
	ErrCodeHookSignatureInvalid ErrorCode = "hook_signature_invalid" // 403
	ErrCodeHookPayloadInvalid   ErrorCode = "hook_payload_invalid"   // 400
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeUpstreamRateLimit), s == string(ErrCodeRateLimited):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case s == string(ErrCodeDeliveryBlocked), s == string(ErrCodeHookSignatureInvalid):
		return http.StatusForbidden // 403
	case s == string(ErrCodeHookPayloadInvalid):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the engine.
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
