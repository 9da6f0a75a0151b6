package controller

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/calvinmclean/pistepper"
	"github.com/calvinmclean/pistepper/board"
)

// Defaults for a 48 SPR (7.5°) motor on an A4988/DRV8825
const (
	DefaultStepsPerRevolution = 48
	DefaultHalfPeriod         = 20800 * time.Microsecond
	DefaultReversePause       = 500 * time.Millisecond

	DefaultFrequency    = 500 * physic.Hertz
	DefaultDuty         = gpio.DutyHalf
	DefaultPollInterval = 100 * time.Millisecond
	DefaultDebounce     = 1

	DefaultResolution = pistepper.ResolutionThirtySecond
)

// Pins maps each logical role to a BCM GPIO number
type Pins struct {
	Dir    board.Pin
	Step   board.Pin
	Mode   [3]board.Pin
	Switch board.Pin
}

// Timing has the full-step pulse parameters of the step loops
type Timing struct {
	StepsPerRevolution int
	// HalfPeriod is how long STEP is held high, and then low, for each pulse
	HalfPeriod time.Duration
	// ReversePause is the wait between the clockwise and counter-clockwise pass
	ReversePause time.Duration
}

// PWMConfig has the parameters of the switch-driven PWM stepper
type PWMConfig struct {
	Frequency    physic.Frequency
	Duty         gpio.Duty
	PollInterval time.Duration
	// Debounce is how many consecutive identical SWITCH samples are needed before DIR follows.
	// 1 means DIR follows every sample.
	Debounce int
}

// Config is the complete, immutable configuration handed to each routine
type Config struct {
	Pins       Pins
	Timing     Timing
	PWM        PWMConfig
	Resolution pistepper.Resolution
}

// DefaultConfig returns the reference wiring and timing
func DefaultConfig() Config {
	return Config{
		Pins: Pins{
			Dir:    20,
			Step:   21,
			Mode:   [3]board.Pin{14, 15, 18},
			Switch: 16,
		},
		Timing: Timing{
			StepsPerRevolution: DefaultStepsPerRevolution,
			HalfPeriod:         DefaultHalfPeriod,
			ReversePause:       DefaultReversePause,
		},
		PWM: PWMConfig{
			Frequency:    DefaultFrequency,
			Duty:         DefaultDuty,
			PollInterval: DefaultPollInterval,
			Debounce:     DefaultDebounce,
		},
		Resolution: DefaultResolution,
	}
}

// Validate checks every pin is on the header and that all timings are positive. Pins are
// only required to be distinct among the roles a routine uses, which each routine checks when
// it is created.
func (c Config) Validate() error {
	err := c.Pins.Validate()
	if err != nil {
		return err
	}
	err = c.Timing.Validate()
	if err != nil {
		return err
	}
	err = c.PWM.Validate()
	if err != nil {
		return err
	}
	if !c.Resolution.Valid() {
		return fmt.Errorf("%w: unknown resolution %d", pistepper.ErrConfiguration, int(c.Resolution))
	}
	return nil
}

// Roles returns each pin keyed by a readable role name
func (p Pins) Roles() []Role {
	return []Role{
		{"DIR", p.Dir},
		{"STEP", p.Step},
		{"MODE0", p.Mode[0]},
		{"MODE1", p.Mode[1]},
		{"MODE2", p.Mode[2]},
		{"SWITCH", p.Switch},
	}
}

// StepRoles are the pins driven by Revolve
func (p Pins) StepRoles() []Role {
	return []Role{{"DIR", p.Dir}, {"STEP", p.Step}}
}

// MicrostepRoles are the pins driven by Microstep
func (p Pins) MicrostepRoles() []Role {
	return append(p.StepRoles(), Role{"MODE0", p.Mode[0]}, Role{"MODE1", p.Mode[1]}, Role{"MODE2", p.Mode[2]})
}

// PWMRoles are the pins used by the PWM stepper
func (p Pins) PWMRoles() []Role {
	return append(p.StepRoles(), Role{"SWITCH", p.Switch})
}

// Role is a named pin assignment
type Role struct {
	Name string
	Pin  board.Pin
}

// Validate checks every pin is on the header
func (p Pins) Validate() error {
	for _, r := range p.Roles() {
		err := board.CheckPin(r.Pin)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
	}
	return nil
}

// ValidateRoles checks that roles are on the header and that no pin serves two of them
func ValidateRoles(roles []Role) error {
	used := map[board.Pin]string{}
	for _, r := range roles {
		err := board.CheckPin(r.Pin)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		if other, ok := used[r.Pin]; ok {
			return fmt.Errorf("%w: pin %d assigned to both %s and %s", pistepper.ErrConfiguration, r.Pin, other, r.Name)
		}
		used[r.Pin] = r.Name
	}
	return nil
}

// Validate checks the step count and delays
func (t Timing) Validate() error {
	if t.StepsPerRevolution <= 0 {
		return fmt.Errorf("%w: steps per revolution must be positive, got %d", pistepper.ErrConfiguration, t.StepsPerRevolution)
	}
	if t.HalfPeriod <= 0 {
		return fmt.Errorf("%w: half period must be positive, got %s", pistepper.ErrConfiguration, t.HalfPeriod)
	}
	if t.ReversePause < 0 {
		return fmt.Errorf("%w: reverse pause must not be negative, got %s", pistepper.ErrConfiguration, t.ReversePause)
	}
	return nil
}

// Scale returns the Timing for a microstep resolution: the step count is multiplied and the
// half period divided by the same factor, so a revolution takes as long at every resolution.
func (t Timing) Scale(r pistepper.Resolution) (Timing, error) {
	m := r.Multiplier()
	if m == 0 {
		return Timing{}, fmt.Errorf("%w: unknown resolution %d", pistepper.ErrConfiguration, int(r))
	}
	return Timing{
		StepsPerRevolution: t.StepsPerRevolution * m,
		HalfPeriod:         t.HalfPeriod / time.Duration(m),
		ReversePause:       t.ReversePause,
	}, nil
}

// PassDuration is the time spent pulsing for one revolution
func (t Timing) PassDuration() time.Duration {
	return 2 * time.Duration(t.StepsPerRevolution) * t.HalfPeriod
}

// Validate checks the PWM frequency, duty and polling parameters
func (p PWMConfig) Validate() error {
	if p.Frequency <= 0 {
		return fmt.Errorf("%w: frequency must be positive, got %s", pistepper.ErrConfiguration, p.Frequency)
	}
	if p.Duty < 0 || p.Duty > gpio.DutyMax {
		return fmt.Errorf("%w: duty %s outside 0-100%%", pistepper.ErrConfiguration, p.Duty)
	}
	if p.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %s", pistepper.ErrConfiguration, p.PollInterval)
	}
	if p.Debounce < 1 {
		return fmt.Errorf("%w: debounce must be at least 1 sample, got %d", pistepper.ErrConfiguration, p.Debounce)
	}
	return nil
}
