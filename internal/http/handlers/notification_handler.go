// Notification HTTP handlers.
//
// This file exposes the two signaling entry points:
//   - POST /notifications/call    (ringing)
//   - POST /notifications/signal  (accept, decline, cancel, update)
//
// Handlers only decode the body; validation and routing happen in the
// dispatcher, and the outcome is rendered by writeOutcome.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-call-relay/internal/domain"
)

//
// DTOs
//

// CallNotificationRequest is the JSON payload announcing a new call.
type CallNotificationRequest struct {
	// UUID correlates every signal of one call attempt.
	UUID   string `json:"uuid"   example:"5f0c4c1e-7d55-4b8e-9a56-0f8b2d7c1a11"`
	Caller string `json:"caller" example:"alice"`
	Callee string `json:"callee" example:"bob"`
}

func (r CallNotificationRequest) event() domain.CallEvent {
	return domain.CallEvent{ID: r.UUID, Caller: r.Caller, Callee: r.Callee}
}

// CallSignalRequest is the JSON payload for a post-ringing signal. At most
// one flag may be set; none means a plain update back to the caller.
type CallSignalRequest struct {
	CallNotificationRequest
	WebRTCReady   bool `json:"webrtc_ready"   example:"false"`
	CallRejected  bool `json:"call_rejected"  example:"false"`
	CallCancelled bool `json:"call_cancelled" example:"true"`
}

func (r CallSignalRequest) signal() domain.LifecycleSignal {
	return domain.LifecycleSignal{
		CallEvent: r.event(),
		Ready:     r.WebRTCReady,
		Rejected:  r.CallRejected,
		Cancelled: r.CallCancelled,
	}
}

//
// Handlers
//

// SendCallNotification godoc
// @ID          sendCallNotification
// @Summary     Ring a user
// @Description Wakes the callee's device (APN VoIP, FCM call message or the web relay).
// @Tags        Notifications
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CallNotificationRequest  true  "Call event"
//
// @Success     200  {object}  handlers.DispatchResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing uuid, caller or callee"
// @Failure     404  {object}  handlers.ErrorResponse  "Callee not registered"
// @Failure     422  {object}  handlers.ErrorResponse  "Callee has no usable device token"
// @Failure     502  {object}  handlers.ErrorResponse  "Push vendor rejected or unreachable"
// @Router      /notifications/call [post]
func (h *Handlers) SendCallNotification(c *gin.Context) {
	var req CallNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	writeOutcome(c, h.dispatch.DispatchRinging(c.Request.Context(), req.event()))
}

// SendCallSignal godoc
// @ID          sendCallSignal
// @Summary     Forward a call lifecycle change
// @Description Cancels go to the callee; accepts, rejects and updates go back to the caller.
// @Tags        Notifications
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CallSignalRequest  true  "Lifecycle signal"
//
// @Success     200  {object}  handlers.DispatchResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing identifiers or more than one flag"
// @Failure     404  {object}  handlers.ErrorResponse  "Target not registered"
// @Failure     422  {object}  handlers.ErrorResponse  "Target has no usable device token"
// @Failure     502  {object}  handlers.ErrorResponse  "Push vendor rejected or unreachable"
// @Router      /notifications/signal [post]
func (h *Handlers) SendCallSignal(c *gin.Context) {
	var req CallSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	writeOutcome(c, h.dispatch.DispatchLifecycleChange(c.Request.Context(), req.signal()))
}
