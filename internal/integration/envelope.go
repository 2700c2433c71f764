package integration

import (
	"time"

	"github.com/google/uuid"
	"github.com/muurk/vtobridge/internal/engine"
)

// EventType names the kind of state change an Envelope carries
type EventType string

const (
	EventDoorbell     EventType = "doorbell"
	EventLock         EventType = "lock"
	EventTamper       EventType = "tamper"
	EventAvailability EventType = "availability"
)

// Envelope is the wire form of a state change for NATS and WebSocket
// consumers
type Envelope struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// DoorbellPayload is the payload of a doorbell envelope
type DoorbellPayload struct {
	State engine.DoorbellState `json:"state"`
}

// LockPayload is the payload of a lock envelope
type LockPayload struct {
	State engine.LockState `json:"state"`
}

// TamperPayload is the payload of a tamper envelope
type TamperPayload struct {
	Active bool `json:"active"`
}

// AvailabilityPayload is the payload of an availability envelope
type AvailabilityPayload struct {
	Online bool `json:"online"`
}

// NewEnvelope stamps payload with a fresh id and time
func NewEnvelope(t EventType, payload any, now time.Time) Envelope {
	return Envelope{
		ID:      uuid.NewString(),
		Type:    t,
		Time:    now.UTC(),
		Payload: payload,
	}
}

// Publisher receives envelopes. Publish must not block.
type Publisher interface {
	Publish(env Envelope)
}

// EnvelopeSink turns sink calls into envelopes for a set of publishers
type EnvelopeSink struct {
	publishers []Publisher
	now        func() time.Time
}

// NewEnvelopeSink creates a sink that publishes to every publisher
func NewEnvelopeSink(publishers ...Publisher) *EnvelopeSink {
	return &EnvelopeSink{publishers: publishers, now: time.Now}
}

func (s *EnvelopeSink) publish(t EventType, payload any) {
	env := NewEnvelope(t, payload, s.now())
	for _, p := range s.publishers {
		p.Publish(env)
	}
}

func (s *EnvelopeSink) DoorbellChanged(state engine.DoorbellState) {
	s.publish(EventDoorbell, DoorbellPayload{State: state})
}

func (s *EnvelopeSink) LockChanged(state engine.LockState) {
	s.publish(EventLock, LockPayload{State: state})
}

func (s *EnvelopeSink) TamperChanged(active bool) {
	s.publish(EventTamper, TamperPayload{Active: active})
}

func (s *EnvelopeSink) LinkChanged(up bool) {
	s.publish(EventAvailability, AvailabilityPayload{Online: up})
}
