package app

import (
	"log/slog"
	"sync"

	"github.com/dublintech/callbridge/internal/callserver/domain"
)

const defaultSendBuffer = 16

// Publisher is the producer-facing side of the hub.
type Publisher interface {
	Publish(ev domain.CallArrivalEvent)
}

// Subscriber is one registered delivery path. Events arrive on C in publish
// order. C is closed when the subscriber leaves or is evicted; after that the
// connection should be torn down by its owner.
type Subscriber struct {
	id    string
	group string

	// mu serializes send against close so a removal can never close the
	// channel out from under an in-flight delivery.
	mu     sync.Mutex
	closed bool
	ch     chan domain.CallArrivalEvent
}

// ID returns the opaque connection id the subscriber was registered under.
func (s *Subscriber) ID() string { return s.id }

// Group returns the ad-hoc fan-out group label ("" when none).
func (s *Subscriber) Group() string { return s.group }

// C is the subscriber's FIFO delivery channel.
func (s *Subscriber) C() <-chan domain.CallArrivalEvent { return s.ch }

// send attempts a non-blocking delivery. full is set when the buffer had no
// room; a subscriber that already left absorbs the send silently.
func (s *Subscriber) send(ev domain.CallArrivalEvent) (sent, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.ch <- ev:
		return true, false
	default:
		return false, true
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Hub fans call-arrival events out to every registered subscriber. It is the
// only shared mutable state on the server side and is safe for concurrent
// Join/Leave/Publish. There is no persistence: a subscriber not registered at
// publish time never sees that event.
type Hub struct {
	logger     *slog.Logger
	sendBuffer int

	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// NewHub constructs an empty hub. sendBuffer <= 0 selects the default
// per-subscriber buffer size.
func NewHub(logger *slog.Logger, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Hub{
		logger:     logger.With("component", "call_hub"),
		sendBuffer: sendBuffer,
		subs:       make(map[string]*Subscriber),
	}
}

// Join registers a subscriber under connID. Joining an id that is already
// registered replaces the previous registration (its channel is closed), so
// the operation is idempotent per connection id. The group label is optional
// and used only for group-addressed fan-out.
func (h *Hub) Join(connID, group string) *Subscriber {
	sub := &Subscriber{
		id:    connID,
		group: group,
		ch:    make(chan domain.CallArrivalEvent, h.sendBuffer),
	}

	h.mu.Lock()
	if prev, ok := h.subs[connID]; ok {
		prev.close()
	}
	h.subs[connID] = sub
	n := len(h.subs)
	h.mu.Unlock()

	subscribersGauge.Set(float64(n))
	h.logger.Info("subscriber joined", "conn_id", connID, "group", group, "subscribers", n)
	return sub
}

// Leave removes the subscriber registered under connID. Unknown ids and
// repeated calls are no-ops.
func (h *Hub) Leave(connID string) {
	h.mu.RLock()
	sub, ok := h.subs[connID]
	h.mu.RUnlock()
	if ok {
		h.Remove(sub)
	}
}

// Publish delivers ev to every registered subscriber. The send never blocks
// the publisher: a subscriber whose buffer is full is treated as failed and
// removed, without affecting delivery to the others. Publishing with zero
// subscribers is not an error.
func (h *Hub) Publish(ev domain.CallArrivalEvent) {
	h.publish(ev, func(*Subscriber) bool { return true })
}

// PublishToGroup delivers ev only to subscribers registered with the given
// group label.
func (h *Hub) PublishToGroup(group string, ev domain.CallArrivalEvent) {
	h.publish(ev, func(s *Subscriber) bool { return s.group == group })
}

func (h *Hub) publish(ev domain.CallArrivalEvent, match func(*Subscriber) bool) {
	callsPublishedCounter.Inc()

	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		if match(sub) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	var evicted []*Subscriber
	for _, sub := range targets {
		sent, full := sub.send(ev)
		switch {
		case sent:
			callsDeliveredCounter.Inc()
		case full:
			evicted = append(evicted, sub)
		}
	}

	for _, sub := range evicted {
		if h.Remove(sub) {
			subscribersEvictedCounter.Inc()
			h.logger.Warn("evicted slow subscriber", "conn_id", sub.id, "call_sid", ev.CallSid)
		}
	}
}

// Remove unregisters sub only if it is still the current registration for its
// connection id, so a stale handle cannot tear down a replacement that joined
// under the same id. It reports whether sub was removed.
func (h *Hub) Remove(sub *Subscriber) bool {
	h.mu.Lock()
	cur, ok := h.subs[sub.id]
	if !ok || cur != sub {
		h.mu.Unlock()
		return false
	}
	delete(h.subs, sub.id)
	n := len(h.subs)
	h.mu.Unlock()

	sub.close()
	subscribersGauge.Set(float64(n))
	h.logger.Info("subscriber left", "conn_id", sub.id, "subscribers", n)
	return true
}

// Has reports whether connID is currently registered.
func (h *Hub) Has(connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[connID]
	return ok
}

// Len reports the current number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
