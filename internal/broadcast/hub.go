// Package broadcast is the SSE Broadcast Fabric (spec §2, §4.5): one
// logical topic per stream (global status, global parameters,
// per-machine parameters, per-machine parameter history window,
// shiftwise energy), each owning a set of bounded subscriber queues.
// Adapted from the teacher's MetricsHub (control_plane/ws_hub.go):
// same register/unregister/broadcast discipline, but push-only SSE
// framing instead of a bidirectional WebSocket, and a per-subscriber
// bounded queue instead of hub-wide fan-out blocking on one slow
// connection.
package broadcast

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/shopforge/mes/internal/observability"
)

// queueDepth is the bounded per-subscriber buffer (spec §4.5 "bounded
// per-subscriber buffer; on overflow the slowest subscriber is dropped
// with a refresh required notice"). A subscriber tolerates this many
// dropped-oldest overflows before the hub gives up on it entirely.
const queueDepth = 64
const maxOverflowsBeforeDrop = 8

// Event is one broadcast frame. Kind "snapshot" carries the full current
// state sent on subscribe; "update" carries only changed entities;
// "error" signals a transient failure or the refresh-required notice.
type Event struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

// Subscriber is a bounded, non-blocking delivery queue for one SSE
// connection. Enqueue never blocks: on overflow it drops the oldest
// queued event to make room (spec §4.5 "bounded queue with drop-oldest
// on overflow"); repeated overflow escalates to a hard disconnect with
// an error frame (spec's "slowest subscriber is dropped").
type Subscriber struct {
	id        string
	topic     string
	mu        sync.Mutex
	queue     []Event
	notify    chan struct{}
	closed    bool
	overflows int
}

func newSubscriber(id, topic string) *Subscriber {
	return &Subscriber{id: id, topic: topic, notify: make(chan struct{}, 1)}
}

func (s *Subscriber) enqueue(e Event) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if len(s.queue) >= queueDepth {
		s.queue = s.queue[1:] // drop-oldest
		s.overflows++
		dropped = true
	} else {
		s.overflows = 0
	}
	s.queue = append(s.queue, e)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Drain pops every currently queued event, in emission order (spec §4.5
// "events delivered to a single subscriber preserve detector emission
// order").
func (s *Subscriber) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// Notify is signalled whenever new events are available to Drain.
func (s *Subscriber) Notify() <-chan struct{} { return s.notify }

func (s *Subscriber) overloaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflows >= maxOverflowsBeforeDrop
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Topic owns the subscriber set for one logical stream.
type Topic struct {
	name string
	mu   sync.RWMutex
	subs map[string]*Subscriber
}

func newTopic(name string) *Topic {
	return &Topic{name: name, subs: make(map[string]*Subscriber)}
}

// Subscribe registers a new subscriber and immediately enqueues snapshot
// as its first event (spec §4.5 "initial full snapshot before any
// incremental updates").
func (t *Topic) Subscribe(id string, snapshot interface{}) *Subscriber {
	sub := newSubscriber(id, t.name)
	t.mu.Lock()
	t.subs[id] = sub
	t.mu.Unlock()
	observability.BroadcastSubscribers.WithLabelValues(t.name).Inc()
	sub.enqueue(Event{Kind: "snapshot", Data: snapshot})
	return sub
}

// Unsubscribe removes and closes a subscriber.
func (t *Topic) Unsubscribe(id string) {
	t.mu.Lock()
	sub, ok := t.subs[id]
	if ok {
		delete(t.subs, id)
	}
	t.mu.Unlock()
	if ok {
		sub.close()
		observability.BroadcastSubscribers.WithLabelValues(t.name).Dec()
	}
}

// Publish fans an incremental update out to every subscriber of the
// topic. Overloaded subscribers are disconnected with a refresh-required
// error frame rather than left to silently fall further behind.
func (t *Topic) Publish(data interface{}) {
	t.mu.RLock()
	subs := make([]*Subscriber, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.RUnlock()

	event := Event{Kind: "update", Data: data}
	for _, s := range subs {
		dropped := s.enqueue(event)
		if dropped {
			observability.BroadcastDroppedTotal.WithLabelValues(t.name).Inc()
		}
		if s.overloaded() {
			s.enqueue(Event{Kind: "error", Data: map[string]string{"reason": "refresh required"}})
			log.Printf("broadcast: disconnecting overloaded subscriber %s on topic %s", s.id, t.name)
			t.Unsubscribe(s.id)
			continue
		}
		observability.BroadcastEventsSent.WithLabelValues(t.name).Inc()
	}
}

// Hub owns every topic in the fabric (spec §4.5: "one logical topic per
// stream"). Topic names are free-form; internal/api registers the fixed
// set the spec names (global status, global parameters, per-machine
// parameters, per-machine history, shiftwise energy).
type Hub struct {
	mu     sync.Mutex
	topics map[string]*Topic
}

func NewHub() *Hub { return &Hub{topics: make(map[string]*Topic)} }

func (h *Hub) topic(name string) *Topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[name]
	if !ok {
		t = newTopic(name)
		h.topics[name] = t
	}
	return t
}

// Subscribe creates a subscriber on the named topic, seeded with snapshot.
func (h *Hub) Subscribe(topic, subscriberID string, snapshot interface{}) *Subscriber {
	return h.topic(topic).Subscribe(subscriberID, snapshot)
}

// Unsubscribe removes a subscriber from the named topic.
func (h *Hub) Unsubscribe(topic, subscriberID string) {
	h.topic(topic).Unsubscribe(subscriberID)
}

// Publish fans an incremental update out on the named topic.
func (h *Hub) Publish(topic string, data interface{}) {
	h.topic(topic).Publish(data)
}

// MarshalEvent renders an Event as an SSE wire frame
// ("event: <kind>\ndata: <json>\n\n").
func MarshalEvent(e Event) ([]byte, error) {
	body, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	out := append([]byte("event: "+e.Kind+"\ndata: "), body...)
	out = append(out, '\n', '\n')
	return out, nil
}
