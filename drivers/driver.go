package drivers

import (
	"context"
	"fmt"
	"time"
)

// LineDriver is the hardware capability lines are claimed from. A driver owns
// access to one kind of I/O hardware (GPIO character device, memory mapped
// Raspberry Pi block, I2C expander) and hands out exclusively owned Line
// handles. Drivers must be opened before the first claim and closed after the
// last release.
type LineDriver interface {
	Open(ctx context.Context) error
	Claim(req LineRequest) (Line, error)
	Close() error
	String() string
	IsReady() bool
}

// Line is one claimed hardware line. The handle stays valid until Release;
// operations on a released line return an error, which callers treat as a
// transient condition rather than a fault.
type Line interface {
	Value() (int, error)
	SetValue(value int) error
	// WaitEdge blocks up to timeout for an edge on an input line claimed with
	// edge detection. A nil Edge with nil error means no event arrived within
	// the window.
	WaitEdge(timeout time.Duration) (*Edge, error)
	Release() error
}

// LineAddress identifies a physical line by controller (chip) index and line
// offset on that controller.
type LineAddress struct {
	Chip int `json:"chip"`
	Line int `json:"line"`
}

func (a LineAddress) String() string {
	return fmt.Sprintf("chip %d line %d", a.Chip, a.Line)
}

// LineRequest describes a single line claim. Inputs are always claimed with
// edge detection in both directions; outputs are claimed driven inactive.
type LineRequest struct {
	Address   LineAddress
	Direction Direction
	Bias      Bias
	Consumer  string
}

type Direction string

const (
	DirectionInput    Direction = "input"
	DirectionOutput   Direction = "output"
	DirectionDisabled Direction = "disabled"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionInput, DirectionOutput, DirectionDisabled:
		return true
	}
	return false
}

// Bias is a line's idle pull configuration.
type Bias string

const (
	BiasNone     Bias = "none"
	BiasPullUp   Bias = "pull-up"
	BiasPullDown Bias = "pull-down"
	BiasDisabled Bias = "disabled"
)

func (b Bias) Valid() bool {
	switch b {
	case BiasNone, BiasPullUp, BiasPullDown, BiasDisabled, "":
		return true
	}
	return false
}

type EdgeKind string

const (
	EdgeRising  EdgeKind = "rising"
	EdgeFalling EdgeKind = "falling"
)

// Edge is one detected transition on a claimed input line.
type Edge struct {
	Kind EdgeKind
	Time time.Time
}
