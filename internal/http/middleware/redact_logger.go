// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger for the signaling
// API. It attaches the request-scoped logger used by handlers and scrubs
// push credentials from request metadata before anything is emitted.
//
// What gets scrubbed:
//   - APN device tokens (64 hex characters) and FCM registration tokens
//     appearing in query strings or header values
//   - email addresses
//   - the values of Authorization, Cookie, Set-Cookie and any header named
//     in RedactOptions.MaskHeaders
//
// Bodies are never logged. Usernames only reach the log through the route
// template (e.g. /api/v1/users/:username), never the raw path.
//
// Usage:
//
//	r.Use(middleware.RequestID())
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Device-Token"},
//	}))
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders names extra headers whose values are replaced with
// "[REDACTED]". Matching is case-insensitive.
type RedactOptions struct {
	MaskHeaders []string
}

var (
	// FCM registration tokens: "<instance id>:<long base64url blob>".
	fcmTokenRE = regexp.MustCompile(`[A-Za-z0-9_\-]{8,}:[A-Za-z0-9_\-]{100,}`)
	// APN device tokens are 32 bytes, hex encoded.
	apnTokenRE = regexp.MustCompile(`(?i)\b[0-9a-f]{64}\b`)
	emailRE    = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

// redact scrubs tokens and emails from s. FCM tokens go first since their
// blob may contain a 64-char hex run.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = fcmTokenRE.ReplaceAllString(s, "[REDACTED:fcm]")
	s = apnTokenRE.ReplaceAllString(s, "[REDACTED:apn]")
	return emailRE.ReplaceAllString(s, "[REDACTED:email]")
}

// RedactingLogger returns a Gin middleware that attaches a request-scoped
// logger and writes one structured access log line per request.
//
// Level is error for 5xx or when Gin collected errors, warn for 4xx and info
// otherwise. WebSocket upgrades are logged as "ws_session" when the
// connection ends, with the session duration as latency.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	mask := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		route := routeOf(c)

		reqID := RequestIDFrom(c)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		l := log.With().
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("route", route).
			Str("remote_ip", c.ClientIP()).
			Logger()
		c.Set(loggerKey, &l)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := mask[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = redact(strings.Join(vv, ", "))
		}
		query := truncate(redact(c.Request.URL.RawQuery), maxQueryLogLength)

		c.Next()

		status := c.Writer.Status()
		msg := "http_request"
		if c.IsWebsocket() {
			msg = "ws_session"
		}

		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0:
			ev = l.Error().Str("errors", c.Errors.String())
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		default:
			ev = l.Info()
		}

		ev.
			Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg(msg)
	}
}
