package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/calvinmclean/pistepper"
	"github.com/calvinmclean/pistepper/board"
)

// scriptSwitch feeds one SWITCH level per poll and cancels once the script is used up. check
// is called with the index of the previous sample before each new one is applied.
func scriptSwitch(mock *board.Mock, pins Pins, cancel context.CancelFunc, samples []gpio.Level, check func(i int)) *int {
	reads := 0
	mock.OnRead = func(pin board.Pin) {
		if pin != pins.Switch {
			return
		}
		if reads > 0 && check != nil {
			check(reads - 1)
		}
		if reads == len(samples) {
			cancel()
		} else {
			mock.SetInput(pins.Switch, samples[reads])
		}
		reads++
	}
	return &reads
}

func TestPWMStepperRun(t *testing.T) {
	cfg := DefaultConfig()
	mock := board.NewMock(nil)
	clock := &fakeClock{}

	s, err := NewPWMStepper(mock, mock, cfg, clock, nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	samples := []gpio.Level{gpio.High, gpio.Low, gpio.Low, gpio.High, gpio.Low}
	reads := scriptSwitch(mock, cfg.Pins, cancel, samples, func(i int) {
		// DIR has followed the previous sample by the time the next poll starts
		assert.Equal(t, samples[i], mock.Level(cfg.Pins.Dir), "poll %d", i)
		assert.Equal(t, StateRunning, s.State())
		assert.Equal(t, DefaultDuty, mock.Duty(cfg.Pins.Step))
		assert.Equal(t, cfg.PWM.PollInterval*time.Duration(i+1), clock.elapsed)
	})

	err = s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(samples)+1, *reads)

	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low, gpio.High, gpio.Low}, mock.PinWrites(cfg.Pins.Dir))
	assert.Equal(t, DefaultFrequency, s.Frequency())
	assert.Equal(t, DefaultFrequency, mock.Frequency(cfg.Pins.Step))

	t.Run("Stopped", func(t *testing.T) {
		assert.Equal(t, StateStopped, s.State())
		assert.Equal(t, gpio.Duty(0), mock.Duty(cfg.Pins.Step))
		assert.Equal(t, []gpio.Duty{DefaultDuty, 0}, mock.DutyWrites())
		assert.Equal(t, 1, mock.Releases())
		assert.Equal(t, 1, mock.Closes())
	})

	t.Run("StopIsIdempotent", func(t *testing.T) {
		require.NoError(t, s.Stop())
		require.NoError(t, s.Stop())
		assert.Equal(t, 1, mock.Releases())
		assert.Equal(t, 1, mock.Closes())
	})

	t.Run("CannotRestart", func(t *testing.T) {
		assert.Error(t, s.Start())
		assert.Error(t, s.Run(context.Background()))
	})
}

func TestPWMStepperSwitchDirection(t *testing.T) {
	tests := []struct {
		name     string
		level    gpio.Level
		expected pistepper.Direction
	}{
		{"SwitchHighIsClockwise", gpio.High, pistepper.Clockwise},
		{"SwitchLowIsCounterClockwise", gpio.Low, pistepper.CounterClockwise},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			mock := board.NewMock(nil)
			clock := &fakeClock{}

			s, err := NewPWMStepper(mock, mock, cfg, clock, nil)
			require.NoError(t, err)
			require.NoError(t, s.Start())

			// start from the opposite direction
			mock.SetInput(cfg.Pins.Switch, !tt.level)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var observedAfter time.Duration
			polls := 0
			mock.OnRead = func(pin board.Pin) {
				polls++
				switch polls {
				case 2:
					mock.SetInput(cfg.Pins.Switch, tt.level)
					observedAfter = clock.elapsed
				case 3:
					assert.Equal(t, tt.expected, s.Direction())
					assert.Equal(t, tt.level, mock.Level(cfg.Pins.Dir))
					assert.LessOrEqual(t, clock.elapsed-observedAfter, cfg.PWM.PollInterval)
					cancel()
				}
			}

			require.NoError(t, s.Run(ctx))
			assert.Equal(t, 3, polls)
		})
	}
}

func TestPWMStepperDebounce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PWM.Debounce = 3
	mock := board.NewMock(nil)

	s, err := NewPWMStepper(mock, mock, cfg, &fakeClock{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// single low glitches are ignored, three consecutive lows switch direction
	samples := []gpio.Level{
		gpio.High,
		gpio.Low, gpio.High,
		gpio.Low, gpio.Low, gpio.High,
		gpio.Low, gpio.Low, gpio.Low,
		gpio.High, gpio.High, gpio.High,
	}
	scriptSwitch(mock, cfg.Pins, cancel, samples, nil)

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low, gpio.High}, mock.PinWrites(cfg.Pins.Dir))
}

func TestPWMStepperUndebounced(t *testing.T) {
	cfg := DefaultConfig()
	mock := board.NewMock(nil)

	s, err := NewPWMStepper(mock, mock, cfg, &fakeClock{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	samples := []gpio.Level{gpio.High, gpio.Low, gpio.High, gpio.Low}
	scriptSwitch(mock, cfg.Pins, cancel, samples, nil)

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, samples, mock.PinWrites(cfg.Pins.Dir))
}

func TestPWMStepperFrequencyRounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PWM.Frequency = 470 * physic.Hertz
	mock := board.NewMock(nil)

	s, err := NewPWMStepper(mock, mock, cfg, &fakeClock{}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.Equal(t, 500*physic.Hertz, s.Frequency())
	assert.Equal(t, StateRunning, s.State())
	require.NoError(t, s.Stop())
}

func TestPWMStepperCancelledBeforeRun(t *testing.T) {
	cfg := DefaultConfig()
	mock := board.NewMock(nil)

	s, err := NewPWMStepper(mock, mock, cfg, &fakeClock{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, []gpio.Duty{DefaultDuty, 0}, mock.DutyWrites())
	assert.Equal(t, 1, mock.Releases())
	assert.Empty(t, mock.PinWrites(cfg.Pins.Dir))
}

type noFrequencyPWM struct {
	*board.Mock
}

func (noFrequencyPWM) SetFrequency(board.Pin, physic.Frequency) (physic.Frequency, error) {
	return 0, pistepper.ErrHardwareUnavailable
}

func TestPWMStepperStartFailure(t *testing.T) {
	cfg := DefaultConfig()
	mock := board.NewMock(nil)

	s, err := NewPWMStepper(mock, noFrequencyPWM{mock}, cfg, &fakeClock{}, nil)
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pistepper.ErrHardwareUnavailable)

	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, mock.DutyWrites())
	assert.Equal(t, 1, mock.Releases())
	assert.Equal(t, 1, mock.Closes())

	require.NoError(t, s.Stop())
	assert.Equal(t, 1, mock.Releases())
}

func TestPWMStepperReadError(t *testing.T) {
	cfg := DefaultConfig()
	mock := board.NewMock(nil)

	s, err := NewPWMStepper(mock, mock, cfg, &fakeClock{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	// an output can't be read, so the first poll fails
	require.NoError(t, mock.Configure(cfg.Pins.Switch, board.Output))

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading switch")
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, gpio.Duty(0), mock.Duty(cfg.Pins.Step))
	assert.Equal(t, 1, mock.Releases())
}

func TestNewPWMStepperPins(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Pins)
		valid  bool
	}{
		{"StepSharedWithModePin", func(p *Pins) { p.Step = 18 }, true},
		{"SwitchSharedWithModePin", func(p *Pins) { p.Switch = p.Mode[0] }, true},
		{"SwitchSharedWithDir", func(p *Pins) { p.Switch = p.Dir }, false},
		{"StepSharedWithSwitch", func(p *Pins) { p.Step = p.Switch }, false},
		{"ModePinOffHeader", func(p *Pins) { p.Mode[1] = 30 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg.Pins)
			mock := board.NewMock(nil)

			s, err := NewPWMStepper(mock, mock, cfg, &fakeClock{}, nil)
			if !tt.valid {
				assert.ErrorIs(t, err, pistepper.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			require.NoError(t, s.Start())
			assert.Equal(t, DefaultFrequency, mock.Frequency(cfg.Pins.Step))
			require.NoError(t, s.Stop())
		})
	}
}
