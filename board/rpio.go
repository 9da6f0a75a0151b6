package board

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/calvinmclean/pistepper"
)

const (
	// rpioOscillator is the 19.2 MHz PWM clock source on BCM2835-2837. The BCM2711 (Pi 4)
	// uses a different source, so achieved frequencies there differ slightly.
	rpioOscillator = 19_200_000

	// rpioRange is the PWM cycle length in clock ticks. 256 covers roughly 19 Hz to 37 kHz
	// with the 12-bit clock divisor.
	rpioRange = 256

	rpioMinDivisor = 2
	rpioMaxDivisor = 4095
)

// pins that are routed to a hardware PWM channel
var rpioPWMPins = map[Pin]bool{12: true, 13: true, 18: true, 19: true}

// RPIO is a memory-mapped backend using /dev/gpiomem. It provides both digital I/O and the
// SoC's hardware PWM.
type RPIO struct {
	modes  map[Pin]Mode
	pwm    map[Pin]bool
	closed bool
}

var (
	_ Digital = (*RPIO)(nil)
	_ PWM     = (*RPIO)(nil)
)

// OpenRPIO maps the GPIO registers. Only one RPIO should be open at a time.
func OpenRPIO() (*RPIO, error) {
	err := rpio.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: error opening gpio memory: %v", pistepper.ErrHardwareUnavailable, err)
	}
	return &RPIO{
		modes: map[Pin]Mode{},
		pwm:   map[Pin]bool{},
	}, nil
}

// Configure implements Digital
func (r *RPIO) Configure(pin Pin, mode Mode) error {
	if err := CheckPin(pin); err != nil {
		return err
	}

	p := rpio.Pin(pin)
	switch mode {
	case Output:
		p.Output()
		p.Low()
	case Input:
		p.Input()
		p.PullOff()
	case InputPullUp:
		p.Input()
		p.PullUp()
	default:
		return fmt.Errorf("%w: unknown pin mode %d", pistepper.ErrConfiguration, mode)
	}

	r.modes[pin] = mode
	return nil
}

// Write implements Digital
func (r *RPIO) Write(pin Pin, level gpio.Level) error {
	if r.modes[pin] != Output {
		return fmt.Errorf("write: pin %d mode is not set for output", pin)
	}
	if level {
		rpio.Pin(pin).High()
	} else {
		rpio.Pin(pin).Low()
	}
	return nil
}

// Read implements Digital
func (r *RPIO) Read(pin Pin) (gpio.Level, error) {
	mode, ok := r.modes[pin]
	if !ok || mode == Output {
		return gpio.Low, fmt.Errorf("read: pin %d mode is not set for input", pin)
	}
	return rpio.Pin(pin).Read() == rpio.High, nil
}

// SetDutyCycle implements PWM
func (r *RPIO) SetDutyCycle(pin Pin, duty gpio.Duty) error {
	if err := r.enablePWM(pin); err != nil {
		return err
	}

	dutyLen := uint32(uint64(duty) * rpioRange / uint64(gpio.DutyMax))
	rpio.Pin(pin).DutyCycle(dutyLen, rpioRange)
	return nil
}

// SetFrequency implements PWM. go-rpio programs the clock as the oscillator over an integer
// plus 12-bit fractional divisor, and the returned frequency follows the same arithmetic for
// the 19.2 MHz BCM2835-2837 oscillator. On a BCM2711 (Pi 4) go-rpio switches to another source
// clock, so there the returned value is nominal and the generated frequency differs.
func (r *RPIO) SetFrequency(pin Pin, f physic.Frequency) (physic.Frequency, error) {
	if err := r.enablePWM(pin); err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, fmt.Errorf("%w: frequency %s must be positive", pistepper.ErrConfiguration, f)
	}

	clock := rpioOscillator / int(rpioDivisor(f))
	rpio.Pin(pin).Freq(clock)

	return rpioFrequency(clock), nil
}

// Release implements PWM
func (r *RPIO) Release() error {
	for pin := range r.pwm {
		p := rpio.Pin(pin)
		p.DutyCycle(0, rpioRange)
		p.Output()
		p.Low()
		r.modes[pin] = Output
		delete(r.pwm, pin)
	}
	rpio.StopPwm()
	return nil
}

// Close implements Digital
func (r *RPIO) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	_ = r.Release()
	for pin, mode := range r.modes {
		p := rpio.Pin(pin)
		if mode == Output {
			p.Low()
		}
		p.Input()
		p.PullOff()
		delete(r.modes, pin)
	}

	err := rpio.Close()
	if err != nil {
		return fmt.Errorf("error closing gpio memory: %w", err)
	}
	return nil
}

func (r *RPIO) enablePWM(pin Pin) error {
	if err := CheckPin(pin); err != nil {
		return err
	}
	if !rpioPWMPins[pin] {
		return fmt.Errorf("%w: pin %d has no hardware PWM, use 12, 13, 18 or 19", pistepper.ErrConfiguration, pin)
	}
	if r.pwm[pin] {
		return nil
	}

	rpio.Pin(pin).Mode(rpio.Pwm)
	rpio.StartPwm()
	r.pwm[pin] = true
	r.modes[pin] = Output
	return nil
}

// rpioDivisor picks the clock divisor closest to producing f
func rpioDivisor(f physic.Frequency) int64 {
	// oscillator * 1e6 µHz fits comfortably in int64
	target := int64(rpioOscillator) * int64(physic.Hertz) / rpioRange
	div := (target + int64(f)/2) / int64(f)
	return max(rpioMinDivisor, min(rpioMaxDivisor, div))
}

// rpioFrequency is the output frequency when go-rpio is asked for a PWM clock of clock Hz.
// It splits the divisor into divi and a divf of 1/4096ths the way rpio.SetFreq does.
func rpioFrequency(clock int) physic.Frequency {
	divi := int64(rpioOscillator / clock)
	divf := int64((rpioOscillator%clock)<<12) / int64(clock)

	// oscillator * 4096 * 1e6 µHz still fits in int64
	return physic.Frequency(int64(rpioOscillator) * 4096 * int64(physic.Hertz) / ((divi<<12 + divf) * rpioRange))
}
