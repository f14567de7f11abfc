// Package services – Dispatcher
//
// This file implements the call lifecycle dispatcher. For every inbound
// signal it validates the event, looks the target up in the directory, asks
// SelectTransport for a channel and hands the signal to exactly one outbound
// path: a vendor push adapter or the local relay. The result is always a
// DispatchOutcome; failures never surface as panics or Go errors so both the
// HTTP and the live-connection boundaries can share one translation.
//
// There is no retry, queueing or deduplication. Two dispatches of the same
// call id produce two independent outcomes in whatever order they finish.
package services

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-call-relay/internal/domain"
	"github.com/tbourn/go-call-relay/internal/push"
	"github.com/tbourn/go-call-relay/internal/relay"
)

// Outcome details shared with clients.
const (
	DetailInvalidEvent  = "uuid, caller and callee are required"
	DetailMultipleFlags = "only one of webrtc_ready, call_rejected, call_cancelled may be set"
	DetailUnreachable   = "recipient not registered/reachable"
	DetailWebDispatch   = "calling_web_interface"
)

const (
	operationRinging     = "ringing"
	operationLifecycle   = "lifecycle"
	dispatcherTracerName = "services/Dispatcher"
)

// Directory resolves a username to its directory record. Implementations
// return ErrUserNotFound for unknown users.
type Directory interface {
	Lookup(ctx context.Context, username string) (*domain.User, error)
}

// VoIPSender wakes iOS devices.
type VoIPSender interface {
	SendVoIP(ctx context.Context, token string, ev domain.CallEvent) push.Result
}

// FCMSender sends Firebase call and silent messages.
type FCMSender interface {
	SendCall(ctx context.Context, token string, ev domain.CallEvent) push.Result
	SendSilent(ctx context.Context, token string, platform domain.Platform, sig domain.LifecycleSignal) push.Result
}

// Publisher fans a payload out to live web connections.
type Publisher interface {
	Publish(topic string, payload any) int
}

var dispatchTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "signal_dispatch_total",
		Help: "Total call signals dispatched, by operation, channel and delivery.",
	},
	[]string{"operation", "channel", "delivered"},
)

func init() {
	prometheus.MustRegister(dispatchTotal)
}

// Dispatcher routes call signals to their recipients. It holds no mutable
// state of its own and is safe for concurrent use.
type Dispatcher struct {
	Dir   Directory
	VoIP  VoIPSender
	FCM   FCMSender
	Relay Publisher
}

// NewDispatcher wires a dispatcher to its collaborators.
func NewDispatcher(dir Directory, voip VoIPSender, fcm FCMSender, pub Publisher) *Dispatcher {
	return &Dispatcher{Dir: dir, VoIP: voip, FCM: fcm, Relay: pub}
}

// DispatchRinging announces a new call to the callee.
func (d *Dispatcher) DispatchRinging(ctx context.Context, ev domain.CallEvent) domain.DispatchOutcome {
	ev = ev.Normalize()
	ctx, span := otel.Tracer(dispatcherTracerName).Start(ctx, "DispatchRinging",
		trace.WithAttributes(
			attribute.String("call.id", ev.ID),
			attribute.String("call.target", ev.Callee),
		),
	)
	defer span.End()

	if !ev.Complete() {
		return d.finish(span, operationRinging, ev.ID, ev.Callee, invalid(DetailInvalidEvent))
	}

	user := d.lookup(ctx, ev.Callee)
	channel, err := SelectTransport(user, domain.KindRinging)
	if err != nil {
		return d.finish(span, operationRinging, ev.ID, ev.Callee, unreachable(err))
	}

	var out domain.DispatchOutcome
	switch channel {
	case domain.TransportLocalRelay:
		d.Relay.Publish(relay.TopicLifecycle, ev)
		out = webOutcome()
	case domain.TransportAPNVoIP:
		out = fromPush(channel, d.VoIP.SendVoIP(ctx, strings.TrimSpace(user.IOSToken), ev))
	case domain.TransportFCMCall:
		out = fromPush(channel, d.FCM.SendCall(ctx, strings.TrimSpace(user.FCMToken), ev))
	}
	return d.finish(span, operationRinging, ev.ID, ev.Callee, out)
}

// DispatchLifecycleChange forwards an accept, decline, cancel or bare update.
// A cancel goes to the callee so their device stops ringing; everything else
// goes back to the caller.
func (d *Dispatcher) DispatchLifecycleChange(ctx context.Context, sig domain.LifecycleSignal) domain.DispatchOutcome {
	sig.CallEvent = sig.CallEvent.Normalize()
	target := sig.Target()
	kind := sig.Kind()

	ctx, span := otel.Tracer(dispatcherTracerName).Start(ctx, "DispatchLifecycleChange",
		trace.WithAttributes(
			attribute.String("call.id", sig.ID),
			attribute.String("call.target", target),
			attribute.String("call.kind", string(kind)),
		),
	)
	defer span.End()

	if !sig.Complete() {
		return d.finish(span, operationLifecycle, sig.ID, target, invalid(DetailInvalidEvent))
	}
	if sig.FlagCount() > 1 {
		return d.finish(span, operationLifecycle, sig.ID, target, invalid(DetailMultipleFlags))
	}

	user := d.lookup(ctx, target)
	channel, err := SelectTransport(user, kind)
	if err != nil {
		return d.finish(span, operationLifecycle, sig.ID, target, unreachable(err))
	}

	var out domain.DispatchOutcome
	switch channel {
	case domain.TransportLocalRelay:
		d.Relay.Publish(relay.TopicLifecycle, sig)
		out = webOutcome()
	case domain.TransportFCMSilent:
		out = fromPush(channel, d.FCM.SendSilent(ctx, strings.TrimSpace(user.FCMToken), user.Platform, sig))
	}
	return d.finish(span, operationLifecycle, sig.ID, target, out)
}

// lookup returns nil for any directory failure. Errors other than
// ErrUserNotFound are logged since they point at the store, not the caller.
func (d *Dispatcher) lookup(ctx context.Context, username string) *domain.User {
	u, err := d.Dir.Lookup(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			log.Error().Err(err).Str("target", username).Msg("directory lookup failed")
		}
		return nil
	}
	return u
}

func (d *Dispatcher) finish(span trace.Span, op, callID, target string, out domain.DispatchOutcome) domain.DispatchOutcome {
	span.SetAttributes(
		attribute.String("dispatch.channel", string(out.Channel)),
		attribute.Bool("dispatch.delivered", out.Delivered),
	)
	if out.Err != nil {
		span.SetStatus(codes.Error, out.Err.Error())
	}
	dispatchTotal.WithLabelValues(op, string(out.Channel), strconv.FormatBool(out.Delivered)).Inc()

	le := log.Info()
	if !out.Delivered {
		le = log.Warn().AnErr("reason", out.Err)
	}
	le.Str("operation", op).
		Str("call_id", callID).
		Str("target", target).
		Str("channel", string(out.Channel)).
		Bool("delivered", out.Delivered).
		Msg("signal dispatched")
	return out
}

func invalid(detail string) domain.DispatchOutcome {
	return domain.DispatchOutcome{Channel: domain.TransportRejected, Detail: detail, Err: ErrInvalidEvent}
}

func unreachable(err error) domain.DispatchOutcome {
	return domain.DispatchOutcome{Channel: domain.TransportRejected, Detail: DetailUnreachable, Err: err}
}

func webOutcome() domain.DispatchOutcome {
	return domain.DispatchOutcome{Delivered: true, Channel: domain.TransportLocalRelay, Detail: DetailWebDispatch}
}

func fromPush(channel domain.TransportKind, res push.Result) domain.DispatchOutcome {
	out := domain.DispatchOutcome{Delivered: res.Delivered, Channel: channel, Detail: res.Detail}
	if !res.Delivered {
		out.Err = ErrTransportFailure
	}
	return out
}
