// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package) and to WebSocket error frames. These codes
// provide clients with a stable, machine-readable error taxonomy that supplements
// human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, not_found, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., recipient_unreachable, push_failed) are reserved for
//     dispatch outcomes that cannot be conveyed by status alone.
//
// Example response:
//   {
//     "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//     "code": "push_failed",
//     "message": "{\"success\":0,\"failure\":1}",
//     "channel": "fcm-call"
//   }

package handlers

const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeRateLimited = "too_many_requests"
	ErrCodeInternal    = "internal_error"

	// Domain-specific:
	ErrCodeRecipientNotFound    = "recipient_not_found"
	ErrCodeRecipientUnreachable = "recipient_unreachable"
	ErrCodePushFailed           = "push_failed"
	ErrCodeListFailed           = "list_failed"
	ErrCodeCreateFailed         = "create_failed"
	ErrCodeMethodNotAllowed     = "method_not_allowed"
)
