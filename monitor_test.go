package linekit

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/hubertat/linekit/drivers"
)

type captureSink struct {
	mu     sync.Mutex
	events []EdgeEvent
}

func (s *captureSink) PublishEdge(event EdgeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
}

func (s *captureSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.events)
}

func inputsOnlyDoc() *PinDocument {
	return &PinDocument{Pins: []PinConfig{
		{Num: 7, Chip: 0, Line: 73, Direction: drivers.DirectionInput},
		{Num: 11, Chip: 0, Line: 70, Direction: drivers.DirectionInput},
	}}
}

func startMonitor(t *testing.T, kit *LineKit) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		kit.monitor.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestMonitorQueuesTaggedEvents(t *testing.T) {
	kit, mock := newTestKit(t, inputsOnlyDoc())
	sink := &captureSink{}
	kit.monitor.AddSink(sink)

	startMonitor(t, kit)

	address := drivers.LineAddress{Chip: 0, Line: 73}
	assertNoError(t, mock.SetInput(address, 1))
	waitFor(t, "rising edge queued", func() bool { return kit.queue.Len() >= 1 })

	assertNoError(t, mock.SetInput(address, 0))
	waitFor(t, "falling edge queued", func() bool { return kit.queue.Len() >= 2 })

	events := kit.DrainEvents()
	assertInts(t, len(events), 2)
	assertInts(t, events[0].Pin, 7)
	if events[0].Kind != drivers.EdgeRising {
		t.Errorf("got %q want %q", events[0].Kind, drivers.EdgeRising)
	}
	assertInts(t, events[1].Pin, 7)
	if events[1].Kind != drivers.EdgeFalling {
		t.Errorf("got %q want %q", events[1].Kind, drivers.EdgeFalling)
	}
	if events[0].Timestamp == 0 {
		t.Error("event timestamp not set")
	}

	// the sink mirrors the stream without consuming the queue
	waitFor(t, "sink mirror", func() bool { return sink.Count() >= 2 })
	assertInts(t, kit.queue.Len(), 0)
}

func TestMonitorSurvivesFailingLine(t *testing.T) {
	kit, mock := newTestKit(t, inputsOnlyDoc())

	assertNoError(t, mock.FailLine(drivers.LineAddress{Chip: 0, Line: 73}, errors.New("remote i/o error")))

	startMonitor(t, kit)

	assertNoError(t, mock.SetInput(drivers.LineAddress{Chip: 0, Line: 70}, 1))
	waitFor(t, "healthy line still observed", func() bool { return kit.queue.Len() >= 1 })

	events := kit.DrainEvents()
	assertInts(t, events[0].Pin, 11)
}

func TestMonitorIgnoresOutputs(t *testing.T) {
	kit, _ := newTestKit(t, mixedPinDoc())

	inputs := kit.inputLines()
	assertInts(t, len(inputs), 1)
	assertInts(t, inputs[0].pin, 7)
}

func TestMonitorStopsOnCancel(t *testing.T) {
	kit, _ := newTestKit(t, inputsOnlyDoc())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- kit.monitor.Run(ctx)
	}()

	cancel()
	waitFor(t, "monitor exit", func() bool { return len(done) == 1 })

	err := <-done
	assertBools(t, errors.Is(err, context.Canceled), true)
}
