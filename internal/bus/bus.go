// Package bus implements the in-process event bus (C5): a single topic with
// four message kinds (event, stats, analytics, status) fanned out to dynamically
// subscribing, best-effort consumers (spec §4.6). Publication from the CV
// worker never blocks; a full subscriber buffer drops its oldest pending
// message rather than stall the producer.
package bus

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/linetally/peoplecount/internal/metrics"
)

// Kind is one of the four wire message kinds (spec §6, WebSocket wire
// format).
type Kind string

const (
	KindEvent     Kind = "event"
	KindStats     Kind = "stats"
	KindAnalytics Kind = "analytics"
	KindStatus    Kind = "status"
)

// Message is one published item; Data is marshaled as-is into the wire
// envelope's "data" field.
type Message struct {
	Kind Kind
	Data any
}

type wireEnvelope struct {
	Type Kind `json:"type"`
	Data any  `json:"data"`
}

// Subscriber is a bounded, head-drop mailbox for one connected client.
type Subscriber struct {
	id      string
	ch      chan Message
	mu      sync.Mutex
	dropped uint64
}

func (s *Subscriber) Messages() <-chan Message { return s.ch }
func (s *Subscriber) ID() string               { return s.id }
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscriber) enqueue(m Message) {
	select {
	case s.ch <- m:
		return
	default:
	}
	// Buffer full: drop the oldest pending message for this subscriber only,
	// then retry once (spec §4.6 "head-drop").
	select {
	case <-s.ch:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		metrics.RecordSubscriberDrop()
	default:
	}
	select {
	case s.ch <- m:
	default:
	}
}

// Bus is the in-process fan-out hub plus an optional NATS secondary sink.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	bufferSize  int

	nats    *nats.Conn
	subject string
}

func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Bus{subscribers: make(map[string]*Subscriber), bufferSize: bufferSize}
}

// AttachNATS wires an optional secondary sink: every message is also
// published to "<subject>.events" (for KindEvent) or "<subject>.stats" (for
// everything else), mirroring the teacher's NATSPublisher retry pattern
// minus the retry loop, since the bus must never block on a publish.
func (b *Bus) AttachNATS(conn *nats.Conn, subject string) {
	b.nats = conn
	b.subject = subject
}

// Subscribe registers a new subscriber with the given id (e.g. a
// connection-scoped UUID) and returns it. Callers must eventually call
// Unsubscribe.
func (b *Bus) Subscribe(id string) *Subscriber {
	sub := &Subscriber{id: id, ch: make(chan Message, b.bufferSize)}
	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()
	return sub
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish fans m out to every current subscriber without blocking the
// caller (spec §4.6, §5 "publication from the CV worker is non-blocking").
func (b *Bus) Publish(m Message) {
	b.mu.RLock()
	for _, sub := range b.subscribers {
		sub.enqueue(m)
	}
	b.mu.RUnlock()

	b.publishNATS(m)
}

func (b *Bus) publishNATS(m Message) {
	if b.nats == nil {
		return
	}
	data, err := json.Marshal(wireEnvelope{Type: m.Kind, Data: m.Data})
	if err != nil {
		log.Printf("bus: marshal for nats sink: %v", err)
		return
	}
	subject := b.subject + ".stats"
	if m.Kind == KindEvent {
		subject = b.subject + ".events"
	}
	if err := b.nats.Publish(subject, data); err != nil {
		log.Printf("bus: nats publish to %s failed: %v", subject, err)
	}
}

// SubscriberCount reports the current number of connected subscribers,
// surfaced in /api/system/status.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

