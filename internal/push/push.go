// Package push implements the vendor transport adapters used to reach mobile
// devices: APN VoIP pushes for iOS and FCM data messages for Android (and for
// silent iOS updates).
//
// Adapters never retry and never return errors. Every attempt collapses into
// a Result whose Detail preserves what the vendor said so the caller can
// surface it verbatim.
package push

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result is the normalized outcome of one vendor request.
type Result struct {
	Delivered bool
	Detail    string
}

var sendDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "push_send_duration_seconds",
		Help:    "Latency of vendor push requests.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"channel"},
)

func init() {
	prometheus.MustRegister(sendDuration)
}

func observe(channel string, start time.Time) {
	sendDuration.WithLabelValues(channel).Observe(time.Since(start).Seconds())
}

// mustToken enforces the adapter contract: the selector only picks a channel
// when the matching token exists, so an empty one is a caller bug.
func mustToken(adapter, token string) {
	if token == "" {
		panic("push: " + adapter + " called with empty device token")
	}
}

func endSpan(span trace.Span, res Result) {
	span.SetAttributes(attribute.Bool("push.delivered", res.Delivered))
	if !res.Delivered {
		span.SetStatus(codes.Error, res.Detail)
	}
	span.End()
}
