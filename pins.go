package linekit

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hubertat/linekit/drivers"
)

// PinConfig is one declared pin in the pin document. Num is the logical pin
// number clients address, Chip and Line locate the physical line.
type PinConfig struct {
	Num       int               `json:"num" validate:"min=1"`
	Chip      int               `json:"chip" validate:"min=0"`
	Line      int               `json:"line" validate:"min=0"`
	Direction drivers.Direction `json:"direction" validate:"required,oneof=input output disabled"`
	Bias      drivers.Bias      `json:"bias,omitempty" validate:"omitempty,oneof=none pull-up pull-down disabled"`
	Name      string            `json:"name,omitempty"`
}

func (p PinConfig) Address() drivers.LineAddress {
	return drivers.LineAddress{Chip: p.Chip, Line: p.Line}
}

// PinDocument is the persisted pin configuration document.
type PinDocument struct {
	Pins []PinConfig `json:"pins"`
}

// ValidationError rejects a candidate pin document. No part of a document
// carrying one is ever applied.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return "invalid pin document: " + e.Detail
}

var validate = validator.New()

// ValidatePinDocument checks a candidate document before it may touch any
// hardware. Checks run in order: pins list present, per pin field validity,
// duplicate pin numbers, duplicate line addresses. Disabled pins are exempt
// from the address check since they claim nothing.
func ValidatePinDocument(doc *PinDocument) error {
	if doc == nil || doc.Pins == nil {
		return &ValidationError{Detail: "missing pins list"}
	}

	for _, pin := range doc.Pins {
		err := validate.Struct(pin)
		if err == nil {
			continue
		}
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok || len(fieldErrs) == 0 {
			return &ValidationError{Detail: err.Error()}
		}
		return &ValidationError{Detail: fmt.Sprintf("pin %d: %s", pin.Num, formatFieldError(fieldErrs[0]))}
	}

	seenNum := make(map[int]bool)
	for _, pin := range doc.Pins {
		if seenNum[pin.Num] {
			return &ValidationError{Detail: fmt.Sprintf("duplicate pin num %d", pin.Num)}
		}
		seenNum[pin.Num] = true
	}

	seenAddress := make(map[drivers.LineAddress]int)
	for _, pin := range doc.Pins {
		if pin.Direction == drivers.DirectionDisabled {
			continue
		}
		address := pin.Address()
		if first, taken := seenAddress[address]; taken {
			return &ValidationError{
				Detail: fmt.Sprintf("pins %d and %d both claim %s", first, pin.Num, address),
			}
		}
		seenAddress[address] = pin.Num
	}

	return nil
}

func formatFieldError(fieldErr validator.FieldError) string {
	field := strings.ToLower(fieldErr.Field())
	switch fieldErr.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fieldErr.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fieldErr.Param())
	}

	return fmt.Sprintf("%s failed %s validation", field, fieldErr.Tag())
}

// DefaultPinDocument returns the shipped pin template, covering the usable
// GPIO lines of the Orange Pi Zero 3 header as outputs.
func DefaultPinDocument() *PinDocument {
	header := []struct {
		num  int
		line int
		name string
	}{
		{3, 229, "PH5"},
		{5, 228, "PH4"},
		{7, 73, "PC9"},
		{11, 70, "PC6"},
		{12, 75, "PC11"},
		{13, 69, "PC5"},
		{15, 72, "PC8"},
		{16, 79, "PC15"},
		{18, 78, "PC14"},
		{19, 231, "PH7"},
		{21, 232, "PH8"},
		{22, 71, "PC7"},
		{23, 230, "PH6"},
		{24, 233, "PH9"},
		{26, 74, "PC10"},
	}

	doc := &PinDocument{Pins: make([]PinConfig, 0, len(header))}
	for _, pin := range header {
		doc.Pins = append(doc.Pins, PinConfig{
			Num:       pin.num,
			Chip:      0,
			Line:      pin.line,
			Direction: drivers.DirectionOutput,
			Name:      pin.name,
		})
	}

	return doc
}
