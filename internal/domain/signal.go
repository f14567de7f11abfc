package domain

import "strings"

// EventKind is the semantic phase of a call signal.
type EventKind string

const (
	// KindRinging is a new call that must wake the callee's device.
	KindRinging EventKind = "ringing"
	// KindAccepted reports the far end is ready for media.
	KindAccepted EventKind = "accepted"
	// KindDeclined reports the callee rejected the call.
	KindDeclined EventKind = "declined"
	// KindAborted reports the caller cancelled before the call was answered.
	KindAborted EventKind = "aborted"
	// KindUpdate is a lifecycle change carrying no phase flag. It is routed
	// like any other state change (silent push back to the caller).
	KindUpdate EventKind = "update"
)

// Wakes reports whether the kind needs a wake-capable channel.
func (k EventKind) Wakes() bool { return k == KindRinging }

// TransportKind names the outbound channel chosen for a signal.
type TransportKind string

const (
	TransportAPNVoIP    TransportKind = "apn-voip"
	TransportFCMCall    TransportKind = "fcm-call"
	TransportFCMSilent  TransportKind = "fcm-silent"
	TransportLocalRelay TransportKind = "local-relay"
	TransportRejected   TransportKind = "rejected"
)

// CallEvent identifies one call attempt. ID is chosen by the caller and
// correlates every signal of the attempt; it is never persisted.
type CallEvent struct {
	ID     string `json:"uuid"   example:"5f0c4c1e-7d55-4b8e-9a56-0f8b2d7c1a11"`
	Caller string `json:"caller" example:"alice"`
	Callee string `json:"callee" example:"bob"`
}

// Normalize trims surrounding whitespace from every identifier.
func (e CallEvent) Normalize() CallEvent {
	return CallEvent{
		ID:     strings.TrimSpace(e.ID),
		Caller: strings.TrimSpace(e.Caller),
		Callee: strings.TrimSpace(e.Callee),
	}
}

// Complete reports whether id, caller and callee are all present.
func (e CallEvent) Complete() bool {
	return e.ID != "" && e.Caller != "" && e.Callee != ""
}

// LifecycleSignal is a post-ringing signal: a CallEvent plus at most one of
// Ready, Rejected or Cancelled.
type LifecycleSignal struct {
	CallEvent
	Ready     bool `json:"webrtc_ready,omitempty"`
	Rejected  bool `json:"call_rejected,omitempty"`
	Cancelled bool `json:"call_cancelled,omitempty"`
}

// FlagCount returns how many phase flags are set.
func (s LifecycleSignal) FlagCount() int {
	n := 0
	for _, f := range []bool{s.Ready, s.Rejected, s.Cancelled} {
		if f {
			n++
		}
	}
	return n
}

// Kind maps the flag set to its phase. Callers must reject signals with more
// than one flag before relying on the result.
func (s LifecycleSignal) Kind() EventKind {
	switch {
	case s.Cancelled:
		return KindAborted
	case s.Ready:
		return KindAccepted
	case s.Rejected:
		return KindDeclined
	default:
		return KindUpdate
	}
}

// Target returns the user who must receive the signal: the callee when the
// caller cancels (their device must stop ringing), otherwise the caller, who
// learns how the far end answered.
func (s LifecycleSignal) Target() string {
	if s.Cancelled {
		return s.Callee
	}
	return s.Caller
}

// DispatchOutcome is the uniform result returned to both boundaries.
// Err carries the failure class for status mapping and is never serialized.
type DispatchOutcome struct {
	Delivered bool          `json:"delivered"`
	Channel   TransportKind `json:"channel"`
	Detail    string        `json:"detail"`
	Err       error         `json:"-"`
}
