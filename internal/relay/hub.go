// Package relay implements the in-process publish point that fans call
// signals out to live web connections.
//
// A Hub is constructed once at process start, handed to the dispatcher and
// to the WebSocket handler, and closed at shutdown. Delivery is point in
// time: a message reaches the subscribers present when Publish runs and is
// never buffered for later subscribers.
package relay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// TopicLifecycle carries every call signal destined for web endpoints:
// ringing CallEvents and LifecycleSignals alike.
const TopicLifecycle = "lifecycle"

var (
	subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_subscribers",
		Help: "Current number of live web connections subscribed to the relay.",
	})
	droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_dropped_total",
		Help: "Messages skipped because a subscriber's buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(subscribersGauge, droppedTotal)
}

// Message is one published payload.
type Message struct {
	Topic   string
	Payload any
}

// Hub is a process-wide relay. The subscriber set is the only shared mutable
// state; it is guarded by mu. Safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	closed bool
}

// NewHub returns a Hub whose subscriptions buffer up to buffer messages.
// Values < 1 are coerced to 1.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned subscription must be
// closed when the owning connection terminates. Subscribing to a closed hub
// yields a subscription whose channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		id:  uuid.NewString(),
		ch:  make(chan Message, h.buffer),
		hub: h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.done = true
		close(s.ch)
		return s
	}
	h.subs[s.id] = s
	subscribersGauge.Inc()
	log.Debug().Str("subscriber_id", s.id).Int("count", len(h.subs)).Msg("relay subscriber joined")
	return s
}

// Publish delivers payload to every current subscriber and returns how many
// received it. A subscriber whose buffer is full is skipped.
func (h *Hub) Publish(topic string, payload any) int {
	msg := Message{Topic: topic, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, s := range h.subs {
		select {
		case s.ch <- msg:
			delivered++
		default:
			droppedTotal.Inc()
			log.Warn().Str("subscriber_id", id).Str("topic", topic).Msg("relay subscriber buffer full, dropping message")
		}
	}
	return delivered
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		s.done = true
		close(s.ch)
		delete(h.subs, id)
		subscribersGauge.Dec()
	}
	log.Info().Msg("relay closed")
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	delete(h.subs, s.id)
	close(s.ch)
	subscribersGauge.Dec()
	log.Debug().Str("subscriber_id", s.id).Int("count", len(h.subs)).Msg("relay subscriber left")
}

// Subscription is one subscriber's view of the hub.
type Subscription struct {
	id   string
	ch   chan Message
	hub  *Hub
	done bool // guarded by hub.mu
}

// ID returns the subscriber identifier.
func (s *Subscription) ID() string { return s.id }

// C returns the channel on which published messages arrive. It is closed
// when the subscription or the hub is closed.
func (s *Subscription) C() <-chan Message { return s.ch }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() { s.hub.remove(s) }
