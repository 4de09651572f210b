package linekit

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

const (
	edgeMonitorName = "edge-monitor"

	defaultPollTimeout   = 10 * time.Millisecond
	defaultSweepInterval = 100 * time.Millisecond
)

// EventSink receives a copy of every event the monitor observes, independent
// of the drainable queue. Sinks must not block.
type EventSink interface {
	PublishEdge(event EdgeEvent)
}

// EdgeMonitor sweeps the currently claimed input lines for edge transitions
// and feeds them into the event queue. Each line gets a short poll window per
// sweep, so one stuck or failing line delays the sweep but never stops it.
// The claimed set is snapshotted per sweep; lines released by a reload are
// simply absent from the next snapshot.
type EdgeMonitor struct {
	kit           *LineKit
	queue         *EventQueue
	pollTimeout   time.Duration
	sweepInterval time.Duration
	logger        *log.Logger
	sinks         []EventSink
}

func newEdgeMonitor(kit *LineKit, queue *EventQueue, pollTimeout, sweepInterval time.Duration, logger *log.Logger) *EdgeMonitor {
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	if logger == nil {
		logger = log.Default()
	}

	return &EdgeMonitor{
		kit:           kit,
		queue:         queue,
		pollTimeout:   pollTimeout,
		sweepInterval: sweepInterval,
		logger:        logger,
	}
}

// AddSink registers an event sink. Call before the monitor starts running.
func (m *EdgeMonitor) AddSink(sink EventSink) {
	m.sinks = append(m.sinks, sink)
}

func (m *EdgeMonitor) Name() string {
	return edgeMonitorName
}

func (m *EdgeMonitor) Run(ctx context.Context) error {
	m.logger.Info("edge monitor starting",
		"poll_timeout", m.pollTimeout, "sweep_interval", m.sweepInterval)

	for {
		for _, input := range m.kit.inputLines() {
			if ctx.Err() != nil {
				m.logger.Info("edge monitor stopped")
				return ctx.Err()
			}
			edge, err := input.line.WaitEdge(m.pollTimeout)
			if err != nil {
				m.logger.Debug("edge poll failed", "pin", input.pin, "err", err)
				continue
			}
			if edge == nil {
				continue
			}
			event := EdgeEvent{
				Pin:       input.pin,
				Kind:      edge.Kind,
				Timestamp: edge.Time.UnixNano(),
			}
			m.queue.Push(event)
			for _, sink := range m.sinks {
				sink.PublishEdge(event)
			}
			m.logger.Debug("edge detected", "pin", input.pin, "kind", edge.Kind)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("edge monitor stopped")
			return ctx.Err()
		case <-time.After(m.sweepInterval):
		}
	}
}
