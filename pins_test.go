package linekit

import (
	"strings"
	"testing"

	"github.com/hubertat/linekit/drivers"
)

func assertNoError(t testing.TB, err error) {
	t.Helper()

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func assertError(t testing.TB, err error) {
	t.Helper()

	if err == nil {
		t.Error("expected error, got nil")
	}
}

func assertInts(t testing.TB, got, want int) {
	t.Helper()

	if got != want {
		t.Errorf("got %d want %d", got, want)
	}
}

func assertBools(t testing.TB, got, want bool) {
	t.Helper()

	if got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func assertValidationDetail(t testing.TB, err error, want string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected validation error containing %q, got nil", want)
	}
	validationErr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if !strings.Contains(validationErr.Detail, want) {
		t.Errorf("detail %q does not contain %q", validationErr.Detail, want)
	}
}

func TestValidatePinDocument(t *testing.T) {
	doc := &PinDocument{Pins: []PinConfig{
		{Num: 3, Chip: 0, Line: 229, Direction: drivers.DirectionOutput, Name: "PH5"},
		{Num: 5, Chip: 0, Line: 228, Direction: drivers.DirectionInput, Bias: drivers.BiasPullUp},
		{Num: 7, Chip: 1, Line: 4, Direction: drivers.DirectionDisabled},
	}}

	assertNoError(t, ValidatePinDocument(doc))
}

func TestValidateEmptyPinsListIsValid(t *testing.T) {
	assertNoError(t, ValidatePinDocument(&PinDocument{Pins: []PinConfig{}}))
}

func TestValidateMissingPinsList(t *testing.T) {
	assertValidationDetail(t, ValidatePinDocument(&PinDocument{}), "missing pins list")
	assertValidationDetail(t, ValidatePinDocument(nil), "missing pins list")
}

func TestValidatePinNumTooSmall(t *testing.T) {
	doc := &PinDocument{Pins: []PinConfig{
		{Num: 0, Chip: 0, Line: 10, Direction: drivers.DirectionOutput},
	}}

	assertValidationDetail(t, ValidatePinDocument(doc), "num must be at least 1")
}

func TestValidateNegativeChip(t *testing.T) {
	doc := &PinDocument{Pins: []PinConfig{
		{Num: 3, Chip: -1, Line: 10, Direction: drivers.DirectionOutput},
	}}

	assertValidationDetail(t, ValidatePinDocument(doc), "chip must be at least 0")
}

func TestValidateMissingDirection(t *testing.T) {
	doc := &PinDocument{Pins: []PinConfig{
		{Num: 3, Chip: 0, Line: 10},
	}}

	assertValidationDetail(t, ValidatePinDocument(doc), "direction is required")
}

func TestValidateUnknownDirection(t *testing.T) {
	doc := &PinDocument{Pins: []PinConfig{
		{Num: 3, Chip: 0, Line: 10, Direction: "both"},
	}}

	assertValidationDetail(t, ValidatePinDocument(doc), "direction must be one of")
}

func TestValidateUnknownBias(t *testing.T) {
	doc := &PinDocument{Pins: []PinConfig{
		{Num: 3, Chip: 0, Line: 10, Direction: drivers.DirectionInput, Bias: "floating"},
	}}

	assertValidationDetail(t, ValidatePinDocument(doc), "bias must be one of")
}

func TestValidateDuplicatePinNum(t *testing.T) {
	doc := &PinDocument{Pins: []PinConfig{
		{Num: 3, Chip: 0, Line: 10, Direction: drivers.DirectionOutput},
		{Num: 3, Chip: 0, Line: 11, Direction: drivers.DirectionOutput},
	}}

	assertValidationDetail(t, ValidatePinDocument(doc), "duplicate pin num 3")
}

func TestValidateDuplicateAddressNamesBothPins(t *testing.T) {
	doc := &PinDocument{Pins: []PinConfig{
		{Num: 3, Chip: 0, Line: 10, Direction: drivers.DirectionOutput},
		{Num: 5, Chip: 0, Line: 10, Direction: drivers.DirectionInput},
	}}

	err := ValidatePinDocument(doc)
	assertValidationDetail(t, err, "3")
	assertValidationDetail(t, err, "5")
	assertValidationDetail(t, err, "chip 0 line 10")
}

func TestValidateDisabledPinsMayShareAddress(t *testing.T) {
	doc := &PinDocument{Pins: []PinConfig{
		{Num: 3, Chip: 0, Line: 10, Direction: drivers.DirectionOutput},
		{Num: 5, Chip: 0, Line: 10, Direction: drivers.DirectionDisabled},
	}}

	assertNoError(t, ValidatePinDocument(doc))
}

func TestDefaultPinDocument(t *testing.T) {
	doc := DefaultPinDocument()

	assertNoError(t, ValidatePinDocument(doc))
	assertInts(t, len(doc.Pins), 15)

	for _, pin := range doc.Pins {
		if pin.Direction != drivers.DirectionOutput {
			t.Errorf("pin %d: default template should be all outputs, got %q", pin.Num, pin.Direction)
		}
		if pin.Chip != 0 {
			t.Errorf("pin %d: default template uses chip 0, got %d", pin.Num, pin.Chip)
		}
	}
}
