package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-call-relay/internal/domain"
)

// DefaultFCMURL is the legacy FCM HTTP endpoint.
const DefaultFCMURL = "https://fcm.googleapis.com/fcm/send"

// FCMConfig configures an FCMClient.
type FCMConfig struct {
	URL       string
	ServerKey string
	// Topic is sent as the "topic" header, normally the Android bundle id.
	Topic         string
	CallChannelID string
	Timeout       time.Duration
}

// FCMClient sends data messages through the legacy FCM HTTP API.
type FCMClient struct {
	cfg  FCMConfig
	http *http.Client
}

// NewFCMClient returns a client using hc, or a default client when nil.
func NewFCMClient(cfg FCMConfig, hc *http.Client) *FCMClient {
	if cfg.URL == "" {
		cfg.URL = DefaultFCMURL
	}
	if cfg.CallChannelID == "" {
		cfg.CallChannelID = "acu_incoming_call"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &FCMClient{cfg: cfg, http: hc}
}

type fcmMessage struct {
	To               string `json:"to"`
	Data             any    `json:"data"`
	Priority         string `json:"priority,omitempty"`
	ContentAvailable bool   `json:"content_available,omitempty"`
	Topic            string `json:"topic"`
	TimeToLive       int    `json:"time_to_live"`
}

type fcmCallData struct {
	ChannelID string `json:"channel_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	UUID      string `json:"uuid"`
	Callee    string `json:"callee"`
}

type fcmSignalData struct {
	Title         string `json:"title"`
	Body          string `json:"body"`
	UUID          string `json:"uuid"`
	WebRTCReady   bool   `json:"webrtc_ready"`
	CallRejected  bool   `json:"call_rejected"`
	CallCancelled bool   `json:"call_cancelled"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// SendCall sends a high-priority incoming-call message to an Android device.
func (c *FCMClient) SendCall(ctx context.Context, token string, ev domain.CallEvent) Result {
	mustToken("fcm", token)
	msg := fcmMessage{
		To: token,
		Data: fcmCallData{
			ChannelID: c.cfg.CallChannelID,
			Title:     "Incoming Call",
			Body:      ev.Caller,
			UUID:      ev.ID,
			Callee:    ev.Callee,
		},
		Priority: "high",
	}
	return c.send(ctx, domain.TransportFCMCall, ev.ID, msg)
}

// SendSilent sends a lifecycle update without user-visible content at the
// vendor default priority. Only iOS devices get content_available.
func (c *FCMClient) SendSilent(ctx context.Context, token string, platform domain.Platform, sig domain.LifecycleSignal) Result {
	mustToken("fcm", token)
	msg := fcmMessage{
		To: token,
		Data: fcmSignalData{
			Title:         "Notification",
			Body:          sig.Callee,
			UUID:          sig.ID,
			WebRTCReady:   sig.Ready,
			CallRejected:  sig.Rejected,
			CallCancelled: sig.Cancelled,
		},
	}
	if platform == domain.PlatformIOS {
		msg.ContentAvailable = true
	}
	return c.send(ctx, domain.TransportFCMSilent, sig.ID, msg)
}

func (c *FCMClient) send(ctx context.Context, channel domain.TransportKind, callID string, msg fcmMessage) Result {
	ctx, span := otel.Tracer("push/FCMClient").Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("call.id", callID),
			attribute.String("push.channel", string(channel)),
		),
	)
	start := time.Now()
	defer observe(string(channel), start)

	msg.Topic = "all"
	msg.TimeToLive = 0
	res := c.post(ctx, msg)
	endSpan(span, res)

	le := log.Info()
	if !res.Delivered {
		le = log.Warn().Str("detail", res.Detail)
	}
	le.Str("call_id", callID).
		Str("channel", string(channel)).
		Bool("delivered", res.Delivered).
		Dur("latency", time.Since(start)).
		Msg("fcm push")
	return res
}

func (c *FCMClient) post(ctx context.Context, msg fcmMessage) Result {
	body, err := json.Marshal(msg)
	if err != nil {
		return Result{Detail: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.cfg.ServerKey)
	if c.cfg.Topic != "" {
		req.Header.Set("topic", c.cfg.Topic)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Detail: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Result{Detail: err.Error()}
	}
	detail := strings.TrimSpace(string(raw))

	var out fcmResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if detail == "" {
			detail = fmt.Sprintf("fcm: HTTP %d", resp.StatusCode)
		}
		return Result{Detail: detail}
	}
	return Result{Delivered: out.Success > 0, Detail: detail}
}
