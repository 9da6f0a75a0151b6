package pistepper

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

var (
	// ErrConfiguration is returned for bad pins, timings or resolution keys. It is always
	// raised before anything is written to the hardware.
	ErrConfiguration = errors.New("configuration error")

	// ErrHardwareUnavailable is returned when a GPIO or PWM backend cannot be acquired
	ErrHardwareUnavailable = errors.New("hardware unavailable")
)

// Direction is the rotation direction of the motor shaft
type Direction int

const (
	Clockwise Direction = iota
	CounterClockwise
)

func (d Direction) String() string {
	switch d {
	case Clockwise:
		return "CW"
	case CounterClockwise:
		return "CCW"
	default:
		return "Unknown"
	}
}

// Level is the DIR line level for this Direction. Clockwise is high.
func (d Direction) Level() gpio.Level {
	if d == Clockwise {
		return gpio.High
	}
	return gpio.Low
}

// Reverse returns the opposite Direction
func (d Direction) Reverse() Direction {
	if d == Clockwise {
		return CounterClockwise
	}
	return Clockwise
}

// DirectionFromLevel maps a DIR or SWITCH level back to a Direction
func DirectionFromLevel(l gpio.Level) Direction {
	if l == gpio.High {
		return Clockwise
	}
	return CounterClockwise
}

// Resolution is a microstep setting of the driver chip
type Resolution int

const (
	ResolutionFull Resolution = iota
	ResolutionHalf
	ResolutionQuarter
	ResolutionEighth
	ResolutionSixteenth
	ResolutionThirtySecond
)

// Resolutions lists every supported Resolution from coarsest to finest
var Resolutions = []Resolution{
	ResolutionFull,
	ResolutionHalf,
	ResolutionQuarter,
	ResolutionEighth,
	ResolutionSixteenth,
	ResolutionThirtySecond,
}

// mode bits for MODE0, MODE1, MODE2
var modeBits = map[Resolution][3]gpio.Level{
	ResolutionFull:         {gpio.Low, gpio.Low, gpio.Low},
	ResolutionHalf:         {gpio.High, gpio.Low, gpio.Low},
	ResolutionQuarter:      {gpio.Low, gpio.High, gpio.Low},
	ResolutionEighth:       {gpio.High, gpio.High, gpio.Low},
	ResolutionSixteenth:    {gpio.Low, gpio.Low, gpio.High},
	ResolutionThirtySecond: {gpio.High, gpio.Low, gpio.High},
}

func (r Resolution) String() string {
	switch r {
	case ResolutionFull:
		return "Full"
	case ResolutionHalf:
		return "Half"
	case ResolutionQuarter:
		return "1/4"
	case ResolutionEighth:
		return "1/8"
	case ResolutionSixteenth:
		return "1/16"
	case ResolutionThirtySecond:
		return "1/32"
	default:
		return "Unknown"
	}
}

// Valid reports whether r is one of the supported resolutions
func (r Resolution) Valid() bool {
	_, ok := modeBits[r]
	return ok
}

// Multiplier is the number of microsteps per full step
func (r Resolution) Multiplier() int {
	if !r.Valid() {
		return 0
	}
	return 1 << int(r)
}

// ModeBits returns the levels for the MODE0, MODE1 and MODE2 lines
func (r Resolution) ModeBits() ([3]gpio.Level, error) {
	bits, ok := modeBits[r]
	if !ok {
		return [3]gpio.Level{}, fmt.Errorf("%w: unknown resolution %d", ErrConfiguration, int(r))
	}
	return bits, nil
}

// ParseResolution parses keys like "Full", "Half" or "1/16". Unknown keys never fall back to
// a default.
func ParseResolution(key string) (Resolution, error) {
	for _, r := range Resolutions {
		if r.String() == key {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown resolution %q", ErrConfiguration, key)
}

// MarshalText implements encoding.TextMarshaler
func (r Resolution) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: unknown resolution %d", ErrConfiguration, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so config files can use "1/32"
func (r *Resolution) UnmarshalText(text []byte) error {
	parsed, err := ParseResolution(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
