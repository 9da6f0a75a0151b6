// Package board defines the GPIO and PWM services the stepper routines need, along with the
// backends that provide them on a Raspberry Pi.
package board

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/calvinmclean/pistepper"
)

// Pin is a BCM GPIO number
type Pin int

// MaxPin is the highest BCM number broken out on the 40-pin header
const MaxPin Pin = 27

// Valid reports whether p is on the header
func (p Pin) Valid() bool {
	return p >= 0 && p <= MaxPin
}

// CheckPin returns ErrConfiguration for pins that are not on the header
func CheckPin(p Pin) error {
	if !p.Valid() {
		return fmt.Errorf("%w: invalid pin %d, expected BCM 0-%d", pistepper.ErrConfiguration, p, MaxPin)
	}
	return nil
}

// Mode is the direction a pin is configured for
type Mode int

const (
	Input Mode = iota
	Output
	InputPullUp
)

func (m Mode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	case InputPullUp:
		return "input_pullup"
	default:
		return "unknown"
	}
}

// Digital is the GPIO digital I/O service
type Digital interface {
	// Configure sets the direction of a pin. Output pins start low.
	Configure(pin Pin, mode Mode) error

	// Write drives an output pin
	Write(pin Pin, level gpio.Level) error

	// Read samples an input pin
	Read(pin Pin) (gpio.Level, error)

	// Close drives every configured output low, returns all pins to input and releases the
	// backend. It is safe to call more than once.
	Close() error
}

// PWM is the hardware PWM service
type PWM interface {
	// SetDutyCycle sets the fraction of each period the pin is high. 0 stops pulses.
	SetDutyCycle(pin Pin, duty gpio.Duty) error

	// SetFrequency requests a PWM frequency and returns the one the hardware actually
	// produces. Unsupported values are rounded to the nearest supported one.
	SetFrequency(pin Pin, f physic.Frequency) (physic.Frequency, error)

	// Release stops PWM generation and frees the PWM hardware. It is safe to call more than
	// once.
	Release() error
}

// PWMFor returns the PWM service of a backend that also generates PWM
func PWMFor(d Digital) (PWM, error) {
	p, ok := d.(PWM)
	if !ok {
		return nil, fmt.Errorf("%w: %T has no hardware PWM", pistepper.ErrHardwareUnavailable, d)
	}
	return p, nil
}

// DutyFraction converts a fraction in [0, 1] to a gpio.Duty
func DutyFraction(fraction float64) (gpio.Duty, error) {
	if fraction < 0 || fraction > 1 {
		return 0, fmt.Errorf("%w: duty cycle %v outside 0-1", pistepper.ErrConfiguration, fraction)
	}
	return gpio.Duty(fraction * float64(gpio.DutyMax)), nil
}
