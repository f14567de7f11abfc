// WebSocket handler.
//
// GET /ws upgrades to a live connection used by browser clients. Frames are
// JSON objects of the form {"event": "...", "ack": "...", "data": {...}}.
//
// Inbound events:
//   - call_notification            ringing, data is a CallNotificationRequest
//   - call_signal / call_canceled  lifecycle change, data is a CallSignalRequest
//   - register                     registers a web user
//   - unregister_user              removes a user
//
// Every inbound frame is handled on its own goroutine and answered with an
// "ack" frame (or an "error" frame) echoing the client's ack id. Signals the
// relay publishes while the connection is open are pushed as
// "call_notification" or "silent_notification" frames.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-call-relay/internal/domain"
	"github.com/tbourn/go-call-relay/internal/http/middleware"
	"github.com/tbourn/go-call-relay/internal/relay"
	"github.com/tbourn/go-call-relay/internal/services"
)

// Frame event names.
const (
	EventCallNotification   = "call_notification"
	EventCallSignal         = "call_signal"
	EventCallCanceled       = "call_canceled"
	EventRegister           = "register"
	EventUnregister         = "unregister_user"
	EventSilentNotification = "silent_notification"
	EventAck                = "ack"
	EventError              = "error"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 64 << 10
)

// Subscriber hands out relay subscriptions.
type Subscriber interface {
	Subscribe() *relay.Subscription
}

// Frame is the envelope for every WebSocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AckData is the payload of an ack frame answering a dispatch.
type AckData struct {
	Delivered bool                 `json:"delivered"`
	Channel   domain.TransportKind `json:"channel"`
	Detail    string               `json:"detail"`
	Code      string               `json:"code,omitempty"`
}

// SocketOptions configures the WebSocket endpoint.
type SocketOptions struct {
	// PingInterval is how often the server pings; a peer silent for two
	// intervals is dropped.
	PingInterval time.Duration
	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string
}

// SocketHandler serves GET /ws.
type SocketHandler struct {
	dispatch Dispatcher
	users    UserService
	hub      Subscriber
	ping     time.Duration
	upgrader websocket.Upgrader
}

// NewSocketHandler constructs a SocketHandler.
func NewSocketHandler(dispatch Dispatcher, users UserService, hub Subscriber, opts SocketOptions) *SocketHandler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	h := &SocketHandler{
		dispatch: dispatch,
		users:    users,
		hub:      hub,
		ping:     opts.PingInterval,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[u.Scheme+"://"+u.Host]
		return ok
	}
}

// wsConn serializes writes; gorilla/websocket allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) write(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(messageType, data)
}

func (w *wsConn) send(event, ack string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b, err := json.Marshal(Frame{Event: event, Ack: ack, Data: raw})
	if err != nil {
		return err
	}
	return w.write(websocket.TextMessage, b)
}

func (w *wsConn) sendError(ack, code, msg string) error {
	return w.send(EventError, ack, ErrorResponse{Code: code, Message: msg})
}

// ServeWS godoc
// @ID          serveWS
// @Summary     Live signaling connection
// @Description Upgrades to a WebSocket carrying call signals as JSON frames.
// @Tags        Notifications
// @Success     101  {string}  string  "Switching Protocols"
// @Router      /ws [get]
func (h *SocketHandler) ServeWS(c *gin.Context) {
	lg := middleware.LoggerFrom(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		lg.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	l := lg.With().Str("client_id", uuid.NewString()).Logger()
	l.Info().Msg("websocket client connected")

	wc := &wsConn{conn: conn}
	sub := h.hub.Subscribe()
	done := make(chan struct{})
	var inflight sync.WaitGroup

	defer func() {
		close(done)
		sub.Close()
		inflight.Wait()
		_ = conn.Close()
		l.Info().Msg("websocket client disconnected")
	}()

	go h.pump(wc, sub, done, l)

	// Dispatches outlive neither the process nor their own adapter timeouts,
	// but must not be cut short by the request context ending.
	ctx := context.WithoutCancel(c.Request.Context())

	conn.SetReadLimit(wsMaxMessageSize)
	pongWait := 2 * h.ping
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.Warn().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
			_ = wc.sendError("", ErrCodeBadRequest, "malformed frame")
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			h.handleFrame(ctx, wc, f, l)
		}()
	}
}

// pump forwards relay messages and keepalive pings until the connection
// ends or the hub closes.
func (h *SocketHandler) pump(wc *wsConn, sub *relay.Subscription, done <-chan struct{}, l zerolog.Logger) {
	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case m, open := <-sub.C():
			if !open {
				// Hub shut down: tell the peer and stop.
				_ = wc.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				_ = wc.conn.Close()
				return
			}
			event, ok := relayEvent(m.Payload)
			if !ok {
				l.Warn().Str("topic", m.Topic).Msg("unexpected relay payload")
				continue
			}
			if err := wc.send(event, "", m.Payload); err != nil {
				l.Debug().Err(err).Msg("relay write failed")
				return
			}
		case <-ticker.C:
			if err := wc.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func relayEvent(payload any) (string, bool) {
	switch payload.(type) {
	case domain.CallEvent:
		return EventCallNotification, true
	case domain.LifecycleSignal:
		return EventSilentNotification, true
	}
	return "", false
}

func (h *SocketHandler) handleFrame(ctx context.Context, wc *wsConn, f Frame, l zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Str("event", f.Event).Msg("websocket frame panicked")
			_ = wc.sendError(f.Ack, ErrCodeInternal, "internal server error")
		}
	}()

	switch f.Event {
	case EventCallNotification:
		var req CallNotificationRequest
		if err := json.Unmarshal(f.Data, &req); err != nil {
			_ = wc.sendError(f.Ack, ErrCodeBadRequest, "invalid call_notification data")
			return
		}
		h.ackOutcome(wc, f.Ack, h.dispatch.DispatchRinging(ctx, req.event()))

	case EventCallSignal, EventCallCanceled:
		var req CallSignalRequest
		if err := json.Unmarshal(f.Data, &req); err != nil {
			_ = wc.sendError(f.Ack, ErrCodeBadRequest, "invalid "+f.Event+" data")
			return
		}
		sig := req.signal()
		if f.Event == EventCallCanceled && sig.FlagCount() == 0 {
			sig.Cancelled = true
		}
		h.ackOutcome(wc, f.Ack, h.dispatch.DispatchLifecycleChange(ctx, sig))

	case EventRegister:
		var req CreateUserRequest
		if err := json.Unmarshal(f.Data, &req); err != nil {
			_ = wc.sendError(f.Ack, ErrCodeBadRequest, "invalid register data")
			return
		}
		u, err := h.users.Register(ctx, services.RegisterInput{
			Username: req.Username,
			Platform: string(domain.PlatformWeb),
			FCMToken: req.FCMDeviceToken,
			IOSToken: req.IOSDeviceToken,
		})
		if err != nil {
			h.ackUserError(wc, f.Ack, err, l)
			return
		}
		_ = wc.send(EventAck, f.Ack, gin.H{"status": "userCreated", "user": u})

	case EventUnregister:
		username, ok := unregisterName(f.Data)
		if !ok {
			_ = wc.sendError(f.Ack, ErrCodeBadRequest, "username is required")
			return
		}
		if err := h.users.Delete(ctx, username); err != nil {
			h.ackUserError(wc, f.Ack, err, l)
			return
		}
		_ = wc.send(EventAck, f.Ack, gin.H{"status": "deleted", "username": username})

	default:
		_ = wc.sendError(f.Ack, ErrCodeBadRequest, "unknown event "+f.Event)
	}
}

func (h *SocketHandler) ackOutcome(wc *wsConn, ack string, out domain.DispatchOutcome) {
	_, code := outcomeStatus(out)
	_ = wc.send(EventAck, ack, AckData{
		Delivered: out.Delivered,
		Channel:   out.Channel,
		Detail:    out.Detail,
		Code:      code,
	})
}

func (h *SocketHandler) ackUserError(wc *wsConn, ack string, err error, l zerolog.Logger) {
	switch {
	case errors.Is(err, services.ErrInvalidUser):
		_ = wc.sendError(ack, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrUserExists):
		_ = wc.sendError(ack, ErrCodeConflict, "username already exists")
	case errors.Is(err, services.ErrUserNotFound):
		_ = wc.sendError(ack, ErrCodeNotFound, "user not found")
	default:
		l.Error().Err(err).Msg("websocket directory operation failed")
		_ = wc.sendError(ack, ErrCodeInternal, "internal server error")
	}
}

// unregisterName accepts either a bare JSON string or {"username": "..."}.
func unregisterName(data json.RawMessage) (string, bool) {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		var obj struct {
			Username string `json:"username"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", false
		}
		name = obj.Username
	}
	name = strings.TrimSpace(name)
	return name, name != ""
}
