package drivers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

const (
	gpiocdevDriverName = "gpiocdev"

	// edgeBufferSize bounds events buffered per line between WaitEdge calls.
	edgeBufferSize = 16
)

// GpiocdevIO claims lines through the Linux GPIO character device
// (/dev/gpiochipN). Lines are requested one at a time, so a line that is busy
// or missing fails on its own without taking the rest of the claims down.
// The kernel enforces exclusive ownership of every claimed line.
type GpiocdevIO struct {
	Consumer string `json:"consumer,omitempty"`

	mu      sync.Mutex
	isReady bool
}

func (g *GpiocdevIO) Open(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.Consumer) == 0 {
		g.Consumer = "linekit"
	}
	g.isReady = true

	return nil
}

func (g *GpiocdevIO) Claim(req LineRequest) (Line, error) {
	if !g.IsReady() {
		return nil, errors.Errorf("%s driver not ready, claim for %s refused", g, req.Address)
	}

	consumer := req.Consumer
	if len(consumer) == 0 {
		consumer = g.Consumer
	}
	opts := []gpiocdev.LineReqOption{gpiocdev.WithConsumer(consumer)}

	switch req.Direction {
	case DirectionInput:
		line := &gpiocdevLine{
			address: req.Address,
			events:  make(chan Edge, edgeBufferSize),
		}
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithBothEdges, gpiocdev.WithEventHandler(line.handleEvent))
		switch req.Bias {
		case BiasPullUp:
			opts = append(opts, gpiocdev.WithPullUp)
		case BiasPullDown:
			opts = append(opts, gpiocdev.WithPullDown)
		case BiasDisabled:
			opts = append(opts, gpiocdev.WithBiasDisabled)
		}
		l, err := gpiocdev.RequestLine(chipName(req.Address.Chip), req.Address.Line, opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to request %s as input", req.Address)
		}
		line.line = l
		return line, nil
	case DirectionOutput:
		opts = append(opts, gpiocdev.AsOutput(0))
		l, err := gpiocdev.RequestLine(chipName(req.Address.Chip), req.Address.Line, opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to request %s as output", req.Address)
		}
		return &gpiocdevLine{address: req.Address, line: l, output: true}, nil
	}

	return nil, errors.Errorf("cannot claim %s with direction %q", req.Address, req.Direction)
}

func (g *GpiocdevIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.isReady = false

	return nil
}

func (g *GpiocdevIO) String() string {
	return gpiocdevDriverName
}

func (g *GpiocdevIO) IsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.isReady
}

func chipName(chip int) string {
	return fmt.Sprintf("gpiochip%d", chip)
}

type gpiocdevLine struct {
	address LineAddress
	line    *gpiocdev.Line
	output  bool

	// events carries edges from the gpiocdev handler goroutine to WaitEdge.
	events chan Edge
}

// handleEvent runs on the gpiocdev event goroutine. A full buffer drops the
// edge instead of blocking the handler.
func (l *gpiocdevLine) handleEvent(evt gpiocdev.LineEvent) {
	kind := EdgeRising
	if evt.Type == gpiocdev.LineEventFallingEdge {
		kind = EdgeFalling
	}
	select {
	case l.events <- Edge{Kind: kind, Time: time.Now()}:
	default:
	}
}

func (l *gpiocdevLine) Value() (int, error) {
	value, err := l.line.Value()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", l.address)
	}

	return value, nil
}

func (l *gpiocdevLine) SetValue(value int) error {
	if !l.output {
		return errors.Errorf("%s is an input, refusing to set value", l.address)
	}

	return errors.Wrapf(l.line.SetValue(value), "failed to set %s", l.address)
}

func (l *gpiocdevLine) WaitEdge(timeout time.Duration) (*Edge, error) {
	if l.output {
		return nil, errors.Errorf("%s is an output, no edge detection", l.address)
	}

	select {
	case edge := <-l.events:
		return &edge, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (l *gpiocdevLine) Release() error {
	return errors.Wrapf(l.line.Close(), "failed to release %s", l.address)
}
