//go:build !linux

package board

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"

	"github.com/calvinmclean/pistepper"
)

// DefaultChip is the GPIO character device of the 40-pin header
const DefaultChip = "gpiochip0"

// GPIOD is only available on linux
type GPIOD struct{}

// OpenGPIOD always fails outside linux
func OpenGPIOD(chip string) (*GPIOD, error) {
	return nil, fmt.Errorf("%w: %s: gpio character devices require linux", pistepper.ErrHardwareUnavailable, chip)
}

func (*GPIOD) Configure(Pin, Mode) error { return pistepper.ErrHardwareUnavailable }
func (*GPIOD) Write(Pin, gpio.Level) error { return pistepper.ErrHardwareUnavailable }
func (*GPIOD) Read(Pin) (gpio.Level, error) { return gpio.Low, pistepper.ErrHardwareUnavailable }
func (*GPIOD) Close() error { return nil }
