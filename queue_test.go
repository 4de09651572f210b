package linekit

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/hubertat/linekit/drivers"
)

func testEvent(pin int) EdgeEvent {
	return EdgeEvent{Pin: pin, Kind: drivers.EdgeRising, Timestamp: int64(pin)}
}

func TestQueuePushAndDrain(t *testing.T) {
	queue := NewEventQueue(10, log.New(io.Discard))

	assertBools(t, queue.Push(testEvent(1)), true)
	assertBools(t, queue.Push(testEvent(2)), true)
	assertInts(t, queue.Len(), 2)

	events := queue.Drain()
	assertInts(t, len(events), 2)
	assertInts(t, events[0].Pin, 1)
	assertInts(t, events[1].Pin, 2)

	assertInts(t, queue.Len(), 0)
	assertInts(t, len(queue.Drain()), 0)
}

func TestQueueDropsNewestWhenFull(t *testing.T) {
	queue := NewEventQueue(3, log.New(io.Discard))

	for pin := 1; pin <= 5; pin++ {
		queue.Push(testEvent(pin))
	}

	assertInts(t, queue.Len(), 3)
	if queue.Dropped() != 2 {
		t.Errorf("got %d dropped, want 2", queue.Dropped())
	}

	events := queue.Drain()
	assertInts(t, len(events), 3)
	for i, event := range events {
		assertInts(t, event.Pin, i+1)
	}
}

func TestQueueAcceptsAgainAfterDrain(t *testing.T) {
	queue := NewEventQueue(2, log.New(io.Discard))

	queue.Push(testEvent(1))
	queue.Push(testEvent(2))
	assertBools(t, queue.Push(testEvent(3)), false)

	queue.Drain()

	assertBools(t, queue.Push(testEvent(4)), true)
	events := queue.Drain()
	assertInts(t, len(events), 1)
	assertInts(t, events[0].Pin, 4)

	if queue.Dropped() != 1 {
		t.Errorf("got %d dropped, want 1", queue.Dropped())
	}
}

func TestQueueDefaultCapacity(t *testing.T) {
	queue := NewEventQueue(0, log.New(io.Discard))

	for pin := 0; pin < defaultQueueCapacity+5; pin++ {
		queue.Push(testEvent(pin))
	}

	assertInts(t, queue.Len(), defaultQueueCapacity)
	if queue.Dropped() != 5 {
		t.Errorf("got %d dropped, want 5", queue.Dropped())
	}
}
