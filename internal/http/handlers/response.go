// Package handlers provides HTTP and WebSocket handler implementations for
// the public API.
//
// This file defines the standard response utilities used across all endpoints,
// including the structured error envelope, the translation of dispatch
// outcomes into HTTP statuses, and helpers for common success responses.
//
// Conventions:
//   - All error responses return an ErrorResponse with a stable `code`.
//   - `fail()` centralizes error logging and formatting, ensuring 5xx responses
//     are logged with request context for observability.
//   - `writeOutcome()` is the single place where a DispatchOutcome becomes an
//     HTTP status.
//
// Example error response:
//
//	HTTP/1.1 422 Unprocessable Entity
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "recipient_unreachable",
//	  "message": "recipient not registered/reachable",
//	  "channel": "rejected"
//	}
//
// Example success response:
//
//	HTTP/1.1 200 OK
//	{ "request_id": "…", "delivered": true, "channel": "fcm-call", "detail": "{\"success\":1}" }
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-call-relay/internal/domain"
	"github.com/tbourn/go-call-relay/internal/http/middleware"
	"github.com/tbourn/go-call-relay/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// Fields:
//   - RequestID: Optional correlation ID, echoed from X-Request-ID header.
//   - Code: A stable, machine-readable string (see errors.go constants).
//   - Message: A human-readable error description, safe for display to users.
//   - Channel: The transport that was attempted, for dispatch failures only.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"recipient_not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"recipient not registered/reachable"`
	// Attempted transport, set only by notification endpoints
	Channel domain.TransportKind `json:"channel,omitempty" example:"rejected"`
}

// DispatchResponse is returned when a signal was handed off successfully.
type DispatchResponse struct {
	RequestID string               `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Delivered bool                 `json:"delivered" example:"true"`
	Channel   domain.TransportKind `json:"channel" example:"fcm-call"`
	Detail    string               `json:"detail" example:"calling_web_interface"`
}

// fail aborts the request with a structured error and logs server-side errors.
//
// Server errors (>=500) are logged using the request-scoped logger from middleware.
func fail(c *gin.Context, status int, code, msg string) {
	failChannel(c, status, code, msg, "")
}

func failChannel(c *gin.Context, status int, code, msg string, channel domain.TransportKind) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
		Channel:   channel,
	}

	// Log 5xx (server-side) with request-scoped logger
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// outcomeStatus maps a dispatch outcome to an HTTP status and error code.
// Delivered outcomes map to 200 and an empty code.
func outcomeStatus(out domain.DispatchOutcome) (int, string) {
	if out.Delivered {
		return http.StatusOK, ""
	}
	switch {
	case errors.Is(out.Err, services.ErrInvalidEvent):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(out.Err, services.ErrUnknownRecipient):
		return http.StatusNotFound, ErrCodeRecipientNotFound
	case errors.Is(out.Err, services.ErrRecipientNotReachable):
		return http.StatusUnprocessableEntity, ErrCodeRecipientUnreachable
	default:
		return http.StatusBadGateway, ErrCodePushFailed
	}
}

// writeOutcome renders a dispatch outcome as either a DispatchResponse or an
// ErrorResponse.
func writeOutcome(c *gin.Context, out domain.DispatchOutcome) {
	status, code := outcomeStatus(out)
	if code != "" {
		failChannel(c, status, code, out.Detail, out.Channel)
		return
	}
	ok(c, status, DispatchResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Delivered: out.Delivered,
		Channel:   out.Channel,
		Detail:    out.Detail,
	})
}
