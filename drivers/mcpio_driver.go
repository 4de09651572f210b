package drivers

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
)

const mcpioDriverName = "mcpio"

// mcpPinCount is the number of lines a single MCP23017 exposes (GPA0..GPB7).
const mcpPinCount = 16

// McpIO claims lines on a single MCP23017 I2C expander. The expander has no
// hardware edge latch over I2C here, so edges are synthesized from level
// changes between polls. Chip index must be 0; one McpIO handles one device.
type McpIO struct {
	BusNo uint8 `json:"bus_no"`
	DevNo uint8 `json:"dev_no"`

	mu      sync.Mutex
	device  *mcp23017.Device
	isReady bool
}

func (m *McpIO) Open(ctx context.Context) error {
	device, err := mcp23017.Open(m.BusNo, m.DevNo)
	if err != nil {
		return errors.Wrapf(err, "failed to open mcp23017 on bus %d dev %d", m.BusNo, m.DevNo)
	}

	m.mu.Lock()
	m.device = device
	m.isReady = true
	m.mu.Unlock()

	return nil
}

func (m *McpIO) Claim(req LineRequest) (Line, error) {
	if !m.IsReady() {
		return nil, errors.Errorf("%s driver not ready, claim for %s refused", m, req.Address)
	}
	if req.Address.Chip != 0 {
		return nil, errors.Errorf("%s handles a single expander, cannot claim %s", m, req.Address)
	}
	if req.Address.Line < 0 || req.Address.Line >= mcpPinCount {
		return nil, errors.Errorf("mcp23017 pin %d out of range, cannot claim", req.Address.Line)
	}

	pin := uint8(req.Address.Line)

	switch req.Direction {
	case DirectionInput:
		err := m.device.PinMode(pin, mcp23017.INPUT)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to claim %s as input", req.Address)
		}
		switch req.Bias {
		case BiasPullUp:
			err = m.device.SetPullUp(pin, true)
		case BiasPullDown:
			return nil, errors.Errorf("mcp23017 has no pull-down, cannot claim %s", req.Address)
		default:
			err = m.device.SetPullUp(pin, false)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to set bias on %s", req.Address)
		}
		level, err := m.device.DigitalRead(pin)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read initial level of %s", req.Address)
		}
		return &mcpLine{address: req.Address, device: m.device, pin: pin, input: true, last: bool(level)}, nil
	case DirectionOutput:
		err := m.device.PinMode(pin, mcp23017.OUTPUT)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to claim %s as output", req.Address)
		}
		err = m.device.DigitalWrite(pin, mcp23017.PinLevel(false))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to drive %s inactive", req.Address)
		}
		return &mcpLine{address: req.Address, device: m.device, pin: pin}, nil
	}

	return nil, errors.Errorf("cannot claim %s with direction %q", req.Address, req.Direction)
}

func (m *McpIO) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.isReady = false
	if m.device == nil {
		return nil
	}

	return errors.Wrap(m.device.Close(), "failed to close mcp23017")
}

func (m *McpIO) String() string {
	return mcpioDriverName
}

func (m *McpIO) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.isReady
}

type mcpLine struct {
	address LineAddress
	device  *mcp23017.Device
	pin     uint8
	input   bool

	mu   sync.Mutex
	last bool
}

func (l *mcpLine) Value() (int, error) {
	level, err := l.device.DigitalRead(l.pin)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", l.address)
	}

	if level {
		return 1, nil
	}
	return 0, nil
}

func (l *mcpLine) SetValue(value int) error {
	if l.input {
		return errors.Errorf("%s is an input, refusing to set value", l.address)
	}

	return errors.Wrapf(l.device.DigitalWrite(l.pin, mcp23017.PinLevel(value > 0)), "failed to set %s", l.address)
}

// WaitEdge compares the current level against the last observed one, sleeping
// once for the timeout window when the level is unchanged. Transitions faster
// than the poll cadence are not visible over I2C.
func (l *mcpLine) WaitEdge(timeout time.Duration) (*Edge, error) {
	if !l.input {
		return nil, errors.Errorf("%s is an output, no edge detection", l.address)
	}

	edge, err := l.checkLevel()
	if err != nil || edge != nil {
		return edge, err
	}
	time.Sleep(timeout)

	return l.checkLevel()
}

func (l *mcpLine) checkLevel() (*Edge, error) {
	level, err := l.device.DigitalRead(l.pin)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to poll %s", l.address)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if bool(level) == l.last {
		return nil, nil
	}
	l.last = bool(level)

	kind := EdgeFalling
	if level {
		kind = EdgeRising
	}

	return &Edge{Kind: kind, Time: time.Now()}, nil
}

func (l *mcpLine) Release() error {
	if l.input {
		return nil
	}

	return errors.Wrapf(l.device.DigitalWrite(l.pin, mcp23017.PinLevel(false)), "failed to drive %s inactive on release", l.address)
}
