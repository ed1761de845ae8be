package monitor

import (
	"log/slog"
	"sync"
)

// EventType names a job lifecycle event.
type EventType string

// Event types.
const (
	EventAdded    EventType = "added"
	EventProgress EventType = "progress"
	EventRetry    EventType = "retry"
	EventDone     EventType = "done"
	EventFailed   EventType = "failed"
	EventRemoved  EventType = "removed"
)

// Event is published for every job state change. Rendering code subscribes
// to these instead of being called from the monitor.
type Event struct {
	Type  EventType `json:"type"`
	Job   JobInfo   `json:"job"`
	Error string    `json:"error,omitempty"`
}

// broker fans events out to subscribers without ever blocking the monitor.
type broker struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newBroker(logger *slog.Logger) *broker {
	return &broker{
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropping job event for slow subscriber", "subscriber", id, "job_id", ev.Job.ID, "type", ev.Type)
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
