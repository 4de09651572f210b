package linekit

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/hubertat/linekit/drivers"
)

const defaultQueueCapacity = 1000

// EdgeEvent is one observed transition on a claimed input line, tagged with
// the logical pin number. Timestamp is unix nanoseconds.
type EdgeEvent struct {
	Pin       int              `json:"pin"`
	Kind      drivers.EdgeKind `json:"kind"`
	Timestamp int64            `json:"timestamp"`
}

// EventQueue is a bounded FIFO of edge events. When full, new events are
// dropped (the queued backlog is preserved), each drop is logged and counted.
// Drain hands out the whole backlog atomically.
type EventQueue struct {
	mu      sync.Mutex
	events  []EdgeEvent
	limit   int
	dropped uint64
	logger  *log.Logger
}

func NewEventQueue(capacity int, logger *log.Logger) *EventQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if logger == nil {
		logger = log.Default()
	}

	return &EventQueue{
		events: make([]EdgeEvent, 0, capacity),
		limit:  capacity,
		logger: logger,
	}
}

// Push appends an event, reporting whether it was kept.
func (q *EventQueue) Push(event EdgeEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) >= q.limit {
		q.dropped++
		q.logger.Warn("event queue full, dropping event",
			"pin", event.Pin, "kind", event.Kind, "dropped_total", q.dropped)
		return false
	}
	q.events = append(q.events, event)

	return true
}

// Drain removes and returns all queued events, oldest first. Events pushed
// after Drain took the backlog land in the next drain.
func (q *EventQueue) Drain() []EdgeEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.events
	q.events = make([]EdgeEvent, 0, q.limit)

	return drained
}

func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.events)
}

// Dropped reports how many events were discarded because the queue was full.
func (q *EventQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.dropped
}
