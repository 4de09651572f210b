package linekit

import (
	"testing"

	"github.com/hubertat/linekit/drivers"
)

func TestRegistryAddAndLookup(t *testing.T) {
	registry := NewLineRegistry()
	address := drivers.LineAddress{Chip: 0, Line: 229}

	assertNoError(t, registry.Add(3, address))
	assertInts(t, registry.Len(), 1)

	found, ok := registry.AddressOf(3)
	assertBools(t, ok, true)
	if found != address {
		t.Errorf("got %v want %v", found, address)
	}

	pin, ok := registry.PinAt(address)
	assertBools(t, ok, true)
	assertInts(t, pin, 3)

	_, ok = registry.AddressOf(5)
	assertBools(t, ok, false)
	_, ok = registry.PinAt(drivers.LineAddress{Chip: 0, Line: 1})
	assertBools(t, ok, false)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewLineRegistry()

	assertNoError(t, registry.Add(3, drivers.LineAddress{Chip: 0, Line: 229}))

	assertError(t, registry.Add(3, drivers.LineAddress{Chip: 0, Line: 228}))
	assertError(t, registry.Add(5, drivers.LineAddress{Chip: 0, Line: 229}))
	assertInts(t, registry.Len(), 1)

	_, ok := registry.AddressOf(5)
	assertBools(t, ok, false)
}

func TestRegistryPinsSorted(t *testing.T) {
	registry := NewLineRegistry()
	assertNoError(t, registry.Add(26, drivers.LineAddress{Chip: 0, Line: 74}))
	assertNoError(t, registry.Add(3, drivers.LineAddress{Chip: 0, Line: 229}))
	assertNoError(t, registry.Add(12, drivers.LineAddress{Chip: 0, Line: 75}))

	pins := registry.Pins()
	want := []int{3, 12, 26}
	if len(pins) != len(want) {
		t.Fatalf("got %d pins, want %d", len(pins), len(want))
	}
	for i, pin := range pins {
		assertInts(t, pin, want[i])
	}
}
