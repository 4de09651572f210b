package drivers

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const mockDriverName = "mock"

// MockLineDriver is an in-memory LineDriver for tests and hardware-free runs.
// Input levels are driven from the test side with SetInput, output writes are
// observable with OutputValue, and claim or I/O failures can be injected per
// address. Claims are exclusive like the character device: claiming a held
// address fails until it is released.
type MockLineDriver struct {
	mu         sync.Mutex
	lines      map[LineAddress]*MockLine
	failClaims map[LineAddress]error
	released   map[LineAddress]int
	ready      bool
}

func (m *MockLineDriver) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lines = make(map[LineAddress]*MockLine)
	if m.failClaims == nil {
		m.failClaims = make(map[LineAddress]error)
	}
	if m.released == nil {
		m.released = make(map[LineAddress]int)
	}
	m.ready = true

	return nil
}

func (m *MockLineDriver) Claim(req LineRequest) (Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return nil, errors.Errorf("%s driver not ready, claim for %s refused", m, req.Address)
	}
	if err, found := m.failClaims[req.Address]; found {
		return nil, err
	}
	if _, held := m.lines[req.Address]; held {
		return nil, errors.Errorf("%s already claimed", req.Address)
	}
	if req.Direction != DirectionInput && req.Direction != DirectionOutput {
		return nil, errors.Errorf("cannot claim %s with direction %q", req.Address, req.Direction)
	}

	line := &MockLine{
		driver:  m,
		address: req.Address,
		input:   req.Direction == DirectionInput,
		events:  make(chan Edge, edgeBufferSize),
	}
	m.lines[req.Address] = line

	return line, nil
}

func (m *MockLineDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ready = false

	return nil
}

func (m *MockLineDriver) String() string {
	return mockDriverName
}

func (m *MockLineDriver) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ready
}

// FailClaim makes every claim for the given address fail with err.
func (m *MockLineDriver) FailClaim(address LineAddress, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failClaims == nil {
		m.failClaims = make(map[LineAddress]error)
	}
	m.failClaims[address] = err
}

// SetInput drives a claimed input from the hardware side. A level change
// queues the matching edge for WaitEdge.
func (m *MockLineDriver) SetInput(address LineAddress, value int) error {
	m.mu.Lock()
	line, found := m.lines[address]
	m.mu.Unlock()
	if !found {
		return errors.Errorf("%s not claimed, cannot drive input", address)
	}
	if !line.input {
		return errors.Errorf("%s is an output, cannot drive input", address)
	}

	line.mu.Lock()
	defer line.mu.Unlock()
	if line.value == value {
		return nil
	}
	line.value = value

	kind := EdgeFalling
	if value > 0 {
		kind = EdgeRising
	}
	select {
	case line.events <- Edge{Kind: kind, Time: time.Now()}:
	default:
	}

	return nil
}

// OutputValue reports the level last written to a claimed output.
func (m *MockLineDriver) OutputValue(address LineAddress) (int, bool) {
	m.mu.Lock()
	line, found := m.lines[address]
	m.mu.Unlock()
	if !found || line.input {
		return 0, false
	}

	line.mu.Lock()
	defer line.mu.Unlock()

	return line.value, true
}

// FailLine makes subsequent operations on an already claimed line fail
// with err.
func (m *MockLineDriver) FailLine(address LineAddress, err error) error {
	m.mu.Lock()
	line, found := m.lines[address]
	m.mu.Unlock()
	if !found {
		return errors.Errorf("%s not claimed, cannot inject failure", address)
	}

	line.mu.Lock()
	line.ioErr = err
	line.mu.Unlock()

	return nil
}

// ReleaseCount reports how many times a line at the given address has been
// released.
func (m *MockLineDriver) ReleaseCount(address LineAddress) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.released[address]
}

// ClaimedCount reports how many lines are currently held.
func (m *MockLineDriver) ClaimedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.lines)
}

func (m *MockLineDriver) release(line *MockLine) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.lines, line.address)
	m.released[line.address]++
}

type MockLine struct {
	driver  *MockLineDriver
	address LineAddress
	input   bool
	events  chan Edge

	mu       sync.Mutex
	value    int
	ioErr    error
	released bool
}

func (l *MockLine) Value() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return 0, errors.Errorf("%s released", l.address)
	}
	if l.ioErr != nil {
		return 0, l.ioErr
	}

	return l.value, nil
}

func (l *MockLine) SetValue(value int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return errors.Errorf("%s released", l.address)
	}
	if l.ioErr != nil {
		return l.ioErr
	}
	if l.input {
		return errors.Errorf("%s is an input, refusing to set value", l.address)
	}
	if value > 0 {
		l.value = 1
	} else {
		l.value = 0
	}

	return nil
}

func (l *MockLine) WaitEdge(timeout time.Duration) (*Edge, error) {
	l.mu.Lock()
	released, ioErr := l.released, l.ioErr
	l.mu.Unlock()

	if released {
		return nil, errors.Errorf("%s released", l.address)
	}
	if ioErr != nil {
		return nil, ioErr
	}
	if !l.input {
		return nil, errors.Errorf("%s is an output, no edge detection", l.address)
	}

	select {
	case edge := <-l.events:
		return &edge, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (l *MockLine) Release() error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return errors.Errorf("%s already released", l.address)
	}
	l.released = true
	l.mu.Unlock()

	l.driver.release(l)

	return nil
}
