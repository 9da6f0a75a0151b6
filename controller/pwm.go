package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/calvinmclean/pistepper"
	"github.com/calvinmclean/pistepper/board"
)

// State is the lifecycle state of a PWMStepper
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// PWMStepper steps the motor continuously with hardware PWM on STEP while DIR follows the
// SWITCH input. Once started, pulses are generated by the hardware; the poll loop only
// updates DIR.
type PWMStepper struct {
	digital board.Digital
	pwm     board.PWM
	pins    Pins
	cfg     PWMConfig
	clock   Clock
	logger  logrus.FieldLogger

	state     State
	released  bool
	frequency physic.Frequency

	// direction is the level last written to DIR; candidate and count track a pending change
	// while debouncing
	direction    gpio.Level
	directionSet bool
	candidate    gpio.Level
	count        int
}

// NewPWMStepper validates the configuration and creates a PWMStepper in the Idle state. A nil
// clock uses RealClock and a nil logger discards output.
func NewPWMStepper(d board.Digital, p board.PWM, cfg Config, clock Clock, logger logrus.FieldLogger) (*PWMStepper, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	// MODE pins are left alone, so they may share a pin with STEP
	err = ValidateRoles(cfg.Pins.PWMRoles())
	if err != nil {
		return nil, err
	}

	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = board.NopLogger()
	}

	return &PWMStepper{
		digital: d,
		pwm:     p,
		pins:    cfg.Pins,
		cfg:     cfg.PWM,
		clock:   clock,
		logger:  logger,
		state:   StateIdle,
	}, nil
}

// State returns the current lifecycle state
func (s *PWMStepper) State() State {
	return s.state
}

// Frequency is the PWM frequency the hardware is producing. It is zero until started.
func (s *PWMStepper) Frequency() physic.Frequency {
	return s.frequency
}

// Direction is the direction DIR is currently set to
func (s *PWMStepper) Direction() pistepper.Direction {
	return pistepper.DirectionFromLevel(s.direction)
}

// Start configures DIR, SWITCH and the PWM output and moves from Idle to Running. If anything
// fails, everything acquired so far is released and the stepper stays Idle.
func (s *PWMStepper) Start() error {
	if s.state != StateIdle || s.released {
		return fmt.Errorf("cannot start from state %s", s.state)
	}

	err := s.start()
	if err != nil {
		releaseErr := s.release()
		return errors.Join(err, releaseErr)
	}

	s.state = StateRunning
	s.logger.WithFields(logrus.Fields{"frequency": s.frequency, "duty": s.cfg.Duty}).Info("pwm started")
	return nil
}

func (s *PWMStepper) start() error {
	err := s.digital.Configure(s.pins.Dir, board.Output)
	if err != nil {
		return fmt.Errorf("error configuring direction pin: %w", err)
	}
	err = s.digital.Configure(s.pins.Switch, board.InputPullUp)
	if err != nil {
		return fmt.Errorf("error configuring switch pin: %w", err)
	}

	actual, err := s.pwm.SetFrequency(s.pins.Step, s.cfg.Frequency)
	if err != nil {
		return fmt.Errorf("error setting pwm frequency: %w", err)
	}
	if actual != s.cfg.Frequency {
		// the hardware only supports discrete frequencies, so this is expected
		s.logger.WithFields(logrus.Fields{"requested": s.cfg.Frequency, "actual": actual}).Info("pwm frequency rounded")
	}
	s.frequency = actual

	err = s.pwm.SetDutyCycle(s.pins.Step, s.cfg.Duty)
	if err != nil {
		return fmt.Errorf("error setting pwm duty cycle: %w", err)
	}
	return nil
}

// Run starts the stepper if it is Idle and polls SWITCH every PollInterval, writing its level
// to DIR, until ctx is cancelled. Cancellation is a normal exit: Run stops the stepper and
// returns nil. Any other error also stops the stepper before it is returned.
func (s *PWMStepper) Run(ctx context.Context) (err error) {
	if s.state == StateIdle {
		err = s.Start()
		if err != nil {
			return err
		}
	}
	if s.state != StateRunning {
		return fmt.Errorf("cannot run from state %s", s.state)
	}

	defer func() {
		err = errors.Join(err, s.Stop())
	}()

	for ctx.Err() == nil {
		err = s.poll()
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
		case <-s.clock.After(s.cfg.PollInterval):
		}
	}

	s.logger.Info("shutting down")
	return nil
}

// poll samples SWITCH once and updates DIR when the debounced level changes
func (s *PWMStepper) poll() error {
	level, err := s.digital.Read(s.pins.Switch)
	if err != nil {
		return fmt.Errorf("error reading switch: %w", err)
	}

	if s.directionSet && level == s.direction {
		s.count = 0
		return nil
	}

	if s.count > 0 && level == s.candidate {
		s.count++
	} else {
		s.candidate = level
		s.count = 1
	}
	// the first sample always sets DIR
	if s.directionSet && s.count < s.cfg.Debounce {
		return nil
	}

	err = s.digital.Write(s.pins.Dir, level)
	if err != nil {
		return fmt.Errorf("error setting direction: %w", err)
	}
	s.direction = level
	s.directionSet = true
	s.count = 0

	s.logger.WithField("direction", pistepper.DirectionFromLevel(level)).Debug("direction changed")
	return nil
}

// Stop moves to Stopped: duty goes to 0, then the PWM hardware and the pins are released.
// Only the first call does anything; later calls return nil.
func (s *PWMStepper) Stop() error {
	if s.released {
		return nil
	}
	s.state = StateStopped
	return s.release()
}

func (s *PWMStepper) release() error {
	if s.released {
		return nil
	}
	s.released = true

	var errs []error
	// duty only applies once the pin has been switched to PWM
	if s.frequency != 0 {
		errs = append(errs, s.pwm.SetDutyCycle(s.pins.Step, 0))
	}
	errs = append(errs, s.pwm.Release(), s.digital.Close())

	err := errors.Join(errs...)
	if err != nil {
		return fmt.Errorf("error releasing hardware: %w", err)
	}
	return nil
}
