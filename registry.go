package linekit

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/hubertat/linekit/drivers"
)

// LineRegistry tracks which logical pin owns which physical line. Both maps
// stay consistent: every Add either lands in both or in neither. The registry
// carries no lock of its own, the owning LineKit serializes access.
type LineRegistry struct {
	byPin     map[int]drivers.LineAddress
	byAddress map[drivers.LineAddress]int
}

func NewLineRegistry() *LineRegistry {
	return &LineRegistry{
		byPin:     make(map[int]drivers.LineAddress),
		byAddress: make(map[drivers.LineAddress]int),
	}
}

func (r *LineRegistry) Add(pin int, address drivers.LineAddress) error {
	if existing, taken := r.byPin[pin]; taken {
		return errors.Errorf("pin %d already registered for %s", pin, existing)
	}
	if existing, taken := r.byAddress[address]; taken {
		return errors.Errorf("%s already registered for pin %d", address, existing)
	}

	r.byPin[pin] = address
	r.byAddress[address] = pin

	return nil
}

func (r *LineRegistry) AddressOf(pin int) (drivers.LineAddress, bool) {
	address, found := r.byPin[pin]
	return address, found
}

func (r *LineRegistry) PinAt(address drivers.LineAddress) (int, bool) {
	pin, found := r.byAddress[address]
	return pin, found
}

func (r *LineRegistry) Len() int {
	return len(r.byPin)
}

// Pins returns all registered pin numbers in ascending order.
func (r *LineRegistry) Pins() []int {
	pins := make([]int, 0, len(r.byPin))
	for pin := range r.byPin {
		pins = append(pins, pin)
	}
	sort.Ints(pins)

	return pins
}
