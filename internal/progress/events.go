package progress

import (
	"sync"
	"time"

	"github.com/timmy/gradeflow/internal/domain"
)

// EventType classifies state changes published by the controller.
type EventType string

const (
	EventStarted        EventType = "started"
	EventStep           EventType = "step"
	EventPhaseCompleted EventType = "phase_completed"
	EventError          EventType = "error"
	EventCompleted      EventType = "completed"
	EventCancelled      EventType = "cancelled"
	EventClosed         EventType = "closed"
)

// Event is a sequenced state snapshot consumed by UI observers.
type Event struct {
	Seq       int64                `json:"seq"`
	Timestamp time.Time            `json:"timestamp"`
	RunID     string               `json:"run_id,omitempty"`
	Type      EventType            `json:"type"`
	State     domain.ProgressState `json:"state"`
}

// EventBus keeps the most recent events for incremental polling.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 256
	}
	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq returns the sequence of the newest published event.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
