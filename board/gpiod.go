//go:build linux

package board

import (
	"errors"
	"fmt"

	"github.com/warthog618/gpiod"
	"periph.io/x/conn/v3/gpio"

	"github.com/calvinmclean/pistepper"
)

// DefaultChip is the GPIO character device of the 40-pin header
const DefaultChip = "gpiochip0"

// GPIOD is a backend using the GPIO character device. It does not implement PWM.
type GPIOD struct {
	chip   *gpiod.Chip
	lines  map[Pin]*gpiod.Line
	modes  map[Pin]Mode
	closed bool
}

var _ Digital = (*GPIOD)(nil)

// OpenGPIOD opens a GPIO chip such as "gpiochip0"
func OpenGPIOD(chip string) (*GPIOD, error) {
	c, err := gpiod.NewChip(chip, gpiod.WithConsumer("pistepper"))
	if err != nil {
		return nil, fmt.Errorf("%w: error opening %s: %v", pistepper.ErrHardwareUnavailable, chip, err)
	}
	return &GPIOD{
		chip:  c,
		lines: map[Pin]*gpiod.Line{},
		modes: map[Pin]Mode{},
	}, nil
}

// Configure implements Digital. A line is requested the first time it is configured and
// reconfigured afterwards.
func (g *GPIOD) Configure(pin Pin, mode Mode) error {
	if err := CheckPin(pin); err != nil {
		return err
	}

	var opts []gpiod.LineReqOption
	var cfg []gpiod.LineConfigOption
	switch mode {
	case Output:
		opts = []gpiod.LineReqOption{gpiod.AsOutput(0)}
		cfg = []gpiod.LineConfigOption{gpiod.AsOutput(0)}
	case Input:
		opts = []gpiod.LineReqOption{gpiod.AsInput, gpiod.WithBiasDisabled}
		cfg = []gpiod.LineConfigOption{gpiod.AsInput, gpiod.WithBiasDisabled}
	case InputPullUp:
		opts = []gpiod.LineReqOption{gpiod.AsInput, gpiod.WithPullUp}
		cfg = []gpiod.LineConfigOption{gpiod.AsInput, gpiod.WithPullUp}
	default:
		return fmt.Errorf("%w: unknown pin mode %d", pistepper.ErrConfiguration, mode)
	}

	if l, ok := g.lines[pin]; ok {
		err := l.Reconfigure(cfg...)
		if err != nil {
			return fmt.Errorf("error reconfiguring pin %d: %w", pin, err)
		}
	} else {
		l, err := g.chip.RequestLine(int(pin), opts...)
		if err != nil {
			return fmt.Errorf("%w: error requesting pin %d: %v", pistepper.ErrHardwareUnavailable, pin, err)
		}
		g.lines[pin] = l
	}

	g.modes[pin] = mode
	return nil
}

// Write implements Digital
func (g *GPIOD) Write(pin Pin, level gpio.Level) error {
	l, ok := g.lines[pin]
	if !ok || g.modes[pin] != Output {
		return fmt.Errorf("write: pin %d mode is not set for output", pin)
	}

	v := 0
	if level {
		v = 1
	}
	return l.SetValue(v)
}

// Read implements Digital
func (g *GPIOD) Read(pin Pin) (gpio.Level, error) {
	l, ok := g.lines[pin]
	if !ok || g.modes[pin] == Output {
		return gpio.Low, fmt.Errorf("read: pin %d mode is not set for input", pin)
	}

	v, err := l.Value()
	if err != nil {
		return gpio.Low, fmt.Errorf("error reading pin %d: %w", pin, err)
	}
	return v == 1, nil
}

// Close implements Digital
func (g *GPIOD) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true

	var errs []error
	for pin, l := range g.lines {
		if g.modes[pin] == Output {
			errs = append(errs, l.SetValue(0))
		}
		errs = append(errs, l.Reconfigure(gpiod.AsInput), l.Close())
		delete(g.lines, pin)
	}
	errs = append(errs, g.chip.Close())

	return errors.Join(errs...)
}
