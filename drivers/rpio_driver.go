package drivers

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

const rpioDriverName = "rpio"

// maxBcmPin is the highest BCM number the BCM283x GPIO block exposes.
const maxBcmPin = 53

// RpIO drives the Raspberry Pi GPIO block through /dev/gpiomem. Line offsets
// are BCM numbers and only controller 0 exists. The memory mapped interface
// gives no cross process exclusivity; single ownership holds within the
// service only.
type RpIO struct {
	mu      sync.Mutex
	isReady bool
}

func (r *RpIO) Open(ctx context.Context) error {
	err := rpio.Open()
	if err != nil {
		return errors.Wrap(err, "failed to open rpio memory mapped gpio")
	}

	r.mu.Lock()
	r.isReady = true
	r.mu.Unlock()

	return nil
}

func (r *RpIO) Claim(req LineRequest) (Line, error) {
	if !r.IsReady() {
		return nil, errors.Errorf("%s driver not ready, claim for %s refused", r, req.Address)
	}
	if req.Address.Chip != 0 {
		return nil, errors.Errorf("%s has a single controller, cannot claim %s", r, req.Address)
	}
	if req.Address.Line < 0 || req.Address.Line > maxBcmPin {
		return nil, errors.Errorf("bcm pin %d out of range, cannot claim", req.Address.Line)
	}

	pin := rpio.Pin(req.Address.Line)

	switch req.Direction {
	case DirectionInput:
		pin.Input()
		switch req.Bias {
		case BiasPullUp:
			pin.PullUp()
		case BiasPullDown:
			pin.PullDown()
		default:
			pin.PullOff()
		}
		pin.Detect(rpio.AnyEdge)
		return &rpioLine{address: req.Address, pin: pin, input: true}, nil
	case DirectionOutput:
		pin.Output()
		pin.Low()
		return &rpioLine{address: req.Address, pin: pin}, nil
	}

	return nil, errors.Errorf("cannot claim %s with direction %q", req.Address, req.Direction)
}

func (r *RpIO) Close() error {
	r.mu.Lock()
	r.isReady = false
	r.mu.Unlock()

	return errors.Wrap(rpio.Close(), "failed to close rpio")
}

func (r *RpIO) String() string {
	return rpioDriverName
}

func (r *RpIO) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.isReady
}

type rpioLine struct {
	address LineAddress
	pin     rpio.Pin
	input   bool
}

func (l *rpioLine) Value() (int, error) {
	if l.pin.Read() == rpio.High {
		return 1, nil
	}

	return 0, nil
}

func (l *rpioLine) SetValue(value int) error {
	if l.input {
		return errors.Errorf("%s is an input, refusing to set value", l.address)
	}

	if value > 0 {
		l.pin.High()
	} else {
		l.pin.Low()
	}

	return nil
}

// WaitEdge checks the hardware event latch, sleeping once for the timeout
// window when no edge is pending. The latch holds a single event, so the edge
// kind is derived from the settled level after the transition.
func (l *rpioLine) WaitEdge(timeout time.Duration) (*Edge, error) {
	if !l.input {
		return nil, errors.Errorf("%s is an output, no edge detection", l.address)
	}

	if l.pin.EdgeDetected() {
		return l.classifyEdge(), nil
	}
	time.Sleep(timeout)
	if l.pin.EdgeDetected() {
		return l.classifyEdge(), nil
	}

	return nil, nil
}

func (l *rpioLine) classifyEdge() *Edge {
	kind := EdgeFalling
	if l.pin.Read() == rpio.High {
		kind = EdgeRising
	}

	return &Edge{Kind: kind, Time: time.Now()}
}

func (l *rpioLine) Release() error {
	if l.input {
		l.pin.Detect(rpio.NoEdge)
	} else {
		l.pin.Low()
	}

	return nil
}
