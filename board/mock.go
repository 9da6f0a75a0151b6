package board

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Write is one recorded digital write
type Write struct {
	Pin   Pin
	Level gpio.Level
}

// Mock is an in-memory backend. It records every write so tests can check the exact pulse
// train, and it rounds PWM frequencies with a discrete table like pigpio does. It is also the
// dry-run backend of the CLI.
type Mock struct {
	// Frequencies is the supported PWM frequency table. Defaults to PigpioFrequencies.
	Frequencies []physic.Frequency

	// OnRead is called before every Read, for example to change inputs or cancel a context
	OnRead func(pin Pin)

	logger logrus.FieldLogger

	modes     map[Pin]Mode
	levels    map[Pin]gpio.Level
	writes    []Write
	duty      map[Pin]gpio.Duty
	frequency map[Pin]physic.Frequency

	dutyWrites []gpio.Duty
	releases   int
	closes     int
	closed     bool
}

var (
	_ Digital = (*Mock)(nil)
	_ PWM     = (*Mock)(nil)
)

// NewMock creates a Mock. A nil logger discards debug output.
func NewMock(logger logrus.FieldLogger) *Mock {
	if logger == nil {
		logger = NopLogger()
	}
	return &Mock{
		Frequencies: PigpioFrequencies,
		logger:      logger,
		modes:       map[Pin]Mode{},
		levels:      map[Pin]gpio.Level{},
		duty:        map[Pin]gpio.Duty{},
		frequency:   map[Pin]physic.Frequency{},
	}
}

// Configure records the pin mode. Outputs start low; pull-up inputs read high until set.
func (m *Mock) Configure(pin Pin, mode Mode) error {
	if err := CheckPin(pin); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{"pin": pin, "mode": mode}).Debug("configure")

	m.modes[pin] = mode
	switch mode {
	case Output:
		m.levels[pin] = gpio.Low
	case InputPullUp:
		if _, ok := m.levels[pin]; !ok {
			m.levels[pin] = gpio.High
		}
	}
	return nil
}

// Write records the level. The pin must be configured as an output.
func (m *Mock) Write(pin Pin, level gpio.Level) error {
	mode, ok := m.modes[pin]
	if !ok {
		return fmt.Errorf("write: pin %d mode has not been set", pin)
	}
	if mode != Output {
		return fmt.Errorf("write: pin %d mode is not set for output", pin)
	}
	m.logger.WithFields(logrus.Fields{"pin": pin, "level": level}).Debug("write")

	m.levels[pin] = level
	m.writes = append(m.writes, Write{Pin: pin, Level: level})
	return nil
}

// Read returns the current level. The pin must be configured as an input.
func (m *Mock) Read(pin Pin) (gpio.Level, error) {
	if m.OnRead != nil {
		m.OnRead(pin)
	}

	mode, ok := m.modes[pin]
	if !ok {
		return gpio.Low, fmt.Errorf("read: pin %d mode has not been set", pin)
	}
	if mode != Input && mode != InputPullUp {
		return gpio.Low, fmt.Errorf("read: pin %d mode is not set for input", pin)
	}
	return m.levels[pin], nil
}

// SetDutyCycle records the duty cycle
func (m *Mock) SetDutyCycle(pin Pin, duty gpio.Duty) error {
	if err := CheckPin(pin); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{"pin": pin, "duty": duty}).Debug("duty cycle")

	m.duty[pin] = duty
	m.dutyWrites = append(m.dutyWrites, duty)
	return nil
}

// SetFrequency rounds f to the nearest entry of Frequencies
func (m *Mock) SetFrequency(pin Pin, f physic.Frequency) (physic.Frequency, error) {
	if err := CheckPin(pin); err != nil {
		return 0, err
	}

	actual := NearestFrequency(m.Frequencies, f)
	m.logger.WithFields(logrus.Fields{"pin": pin, "requested": f, "actual": actual}).Debug("frequency")

	m.frequency[pin] = actual
	return actual, nil
}

// Release stops every PWM output. Each call is counted.
func (m *Mock) Release() error {
	m.releases++
	for pin := range m.duty {
		m.duty[pin] = 0
	}
	return nil
}

// Close drives outputs low and returns every pin to input. Each call is counted.
func (m *Mock) Close() error {
	m.closes++
	if m.closed {
		return nil
	}
	m.closed = true

	for pin, mode := range m.modes {
		if mode == Output {
			m.levels[pin] = gpio.Low
		}
		m.modes[pin] = Input
	}
	return nil
}

// SetInput sets the level an input pin reads, like a switch being flipped
func (m *Mock) SetInput(pin Pin, level gpio.Level) {
	m.levels[pin] = level
}

// Level returns the last level of a pin
func (m *Mock) Level(pin Pin) gpio.Level {
	return m.levels[pin]
}

// Mode returns the current mode of a pin and whether it was ever configured
func (m *Mock) Mode(pin Pin) (Mode, bool) {
	mode, ok := m.modes[pin]
	return mode, ok
}

// Writes returns every recorded write in order
func (m *Mock) Writes() []Write {
	return append([]Write(nil), m.writes...)
}

// PinWrites returns the recorded levels written to one pin in order
func (m *Mock) PinWrites(pin Pin) []gpio.Level {
	var levels []gpio.Level
	for _, w := range m.writes {
		if w.Pin == pin {
			levels = append(levels, w.Level)
		}
	}
	return levels
}

// Duty returns the current duty cycle of a pin
func (m *Mock) Duty(pin Pin) gpio.Duty {
	return m.duty[pin]
}

// DutyWrites returns every duty cycle set, in order
func (m *Mock) DutyWrites() []gpio.Duty {
	return append([]gpio.Duty(nil), m.dutyWrites...)
}

// Frequency returns the frequency last applied to a pin
func (m *Mock) Frequency(pin Pin) physic.Frequency {
	return m.frequency[pin]
}

// Releases is the number of times Release was called
func (m *Mock) Releases() int {
	return m.releases
}

// Closes is the number of times Close was called
func (m *Mock) Closes() int {
	return m.closes
}
