package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"

	"github.com/calvinmclean/pistepper"
	"github.com/calvinmclean/pistepper/board"
)

// Stepper drives a STEP/DIR driver chip with software-timed pulses. It owns its board for a
// single run: Revolve and Microstep release every pin when they return.
type Stepper struct {
	digital board.Digital
	pins    Pins
	timing  Timing
	clock   Clock
	logger  logrus.FieldLogger

	used bool
}

// NewStepper validates the configuration and creates a Stepper. A nil clock uses RealClock
// and a nil logger discards output.
func NewStepper(d board.Digital, cfg Config, clock Clock, logger logrus.FieldLogger) (*Stepper, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	err = ValidateRoles(cfg.Pins.StepRoles())
	if err != nil {
		return nil, err
	}

	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = board.NopLogger()
	}

	return &Stepper{
		digital: d,
		pins:    cfg.Pins,
		timing:  cfg.Timing,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Revolve turns one revolution clockwise, pauses, then one revolution counter-clockwise at
// full-step resolution
func (s *Stepper) Revolve(ctx context.Context) error {
	return s.run(ctx, s.timing, nil)
}

// Microstep sets the MODE lines for r and then revolves like Revolve with the step count and
// half period scaled by r's multiplier. An unknown resolution or a MODE pin shared with another
// role fails before any pin is touched, and the board is still released.
func (s *Stepper) Microstep(ctx context.Context, r pistepper.Resolution) error {
	bits, err := r.ModeBits()
	if err != nil {
		return s.abort(err)
	}
	err = ValidateRoles(s.pins.MicrostepRoles())
	if err != nil {
		return s.abort(err)
	}
	timing, err := s.timing.Scale(r)
	if err != nil {
		return s.abort(err)
	}

	s.logger.WithFields(logrus.Fields{
		"resolution":  r,
		"steps":       timing.StepsPerRevolution,
		"half_period": timing.HalfPeriod,
	}).Info("microstepping")
	return s.run(ctx, timing, &bits)
}

// abort releases the board when a run fails before it starts
func (s *Stepper) abort(err error) error {
	if s.used {
		return err
	}
	s.used = true

	closeErr := s.digital.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("error releasing pins: %w", closeErr)
	}
	return errors.Join(err, closeErr)
}

// run configures the pins and performs both passes. The board is closed on every exit path,
// including cancellation, which is only noticed between pulses.
func (s *Stepper) run(ctx context.Context, timing Timing, modeBits *[3]gpio.Level) (err error) {
	if s.used {
		return errors.New("stepper has already run and released its pins")
	}
	s.used = true

	defer func() {
		closeErr := s.digital.Close()
		if closeErr != nil {
			closeErr = fmt.Errorf("error releasing pins: %w", closeErr)
		}
		err = errors.Join(err, closeErr)
	}()

	err = s.configure(modeBits)
	if err != nil {
		return fmt.Errorf("error configuring pins: %w", err)
	}

	err = s.pass(ctx, pistepper.Clockwise, timing)
	if err != nil {
		return err
	}

	s.clock.Sleep(timing.ReversePause)
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.pass(ctx, pistepper.CounterClockwise, timing)
}

func (s *Stepper) configure(modeBits *[3]gpio.Level) error {
	for _, p := range []board.Pin{s.pins.Dir, s.pins.Step} {
		err := s.digital.Configure(p, board.Output)
		if err != nil {
			return err
		}
	}

	if modeBits == nil {
		return nil
	}

	for i, p := range s.pins.Mode {
		err := s.digital.Configure(p, board.Output)
		if err != nil {
			return err
		}
		err = s.digital.Write(p, modeBits[i])
		if err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{"line": i, "pin": p, "level": modeBits[i]}).Debug("set mode line")
	}
	return nil
}

// pass holds DIR for the whole pass and emits one high/low pair per step
func (s *Stepper) pass(ctx context.Context, dir pistepper.Direction, timing Timing) error {
	s.logger.WithFields(logrus.Fields{
		"direction":   dir,
		"steps":       timing.StepsPerRevolution,
		"half_period": timing.HalfPeriod,
	}).Info("revolving")

	err := s.digital.Write(s.pins.Dir, dir.Level())
	if err != nil {
		return fmt.Errorf("error setting direction: %w", err)
	}

	for range timing.StepsPerRevolution {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.pulse(timing)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Stepper) pulse(timing Timing) error {
	err := s.digital.Write(s.pins.Step, gpio.High)
	if err != nil {
		return fmt.Errorf("error pulsing step: %w", err)
	}
	s.clock.Sleep(timing.HalfPeriod)

	err = s.digital.Write(s.pins.Step, gpio.Low)
	if err != nil {
		return fmt.Errorf("error pulsing step: %w", err)
	}
	s.clock.Sleep(timing.HalfPeriod)
	return nil
}
