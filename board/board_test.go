package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/calvinmclean/pistepper"
)

func TestCheckPin(t *testing.T) {
	require.NoError(t, CheckPin(0))
	require.NoError(t, CheckPin(27))
	assert.ErrorIs(t, CheckPin(28), pistepper.ErrConfiguration)
	assert.ErrorIs(t, CheckPin(-1), pistepper.ErrConfiguration)
}

func TestDutyFraction(t *testing.T) {
	d, err := DutyFraction(0.5)
	require.NoError(t, err)
	assert.Equal(t, gpio.DutyHalf, d)

	d, err = DutyFraction(1)
	require.NoError(t, err)
	assert.Equal(t, gpio.DutyMax, d)

	_, err = DutyFraction(-0.1)
	assert.ErrorIs(t, err, pistepper.ErrConfiguration)
}

type digitalOnly struct {
	Digital
}

func TestPWMFor(t *testing.T) {
	m := NewMock(nil)
	p, err := PWMFor(m)
	require.NoError(t, err)
	assert.Same(t, m, p)

	_, err = PWMFor(digitalOnly{m})
	assert.ErrorIs(t, err, pistepper.ErrHardwareUnavailable)
}

func TestNearestFrequency(t *testing.T) {
	tests := []struct {
		name      string
		requested physic.Frequency
		expected  physic.Frequency
	}{
		{"Exact", 500 * physic.Hertz, 500 * physic.Hertz},
		{"RoundDown", 520 * physic.Hertz, 500 * physic.Hertz},
		{"RoundUp", 470 * physic.Hertz, 500 * physic.Hertz},
		{"TieGoesToFirst", 450 * physic.Hertz, 500 * physic.Hertz},
		{"AboveTable", 20 * physic.KiloHertz, 8000 * physic.Hertz},
		{"BelowTable", physic.Hertz, 10 * physic.Hertz},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NearestFrequency(PigpioFrequencies, tt.requested))
		})
	}

	t.Run("EmptyTable", func(t *testing.T) {
		assert.Equal(t, 123*physic.Hertz, NearestFrequency(nil, 123*physic.Hertz))
	})
}

func TestRPIODivisor(t *testing.T) {
	tests := []struct {
		name      string
		requested physic.Frequency
		divisor   int64
		actual    physic.Frequency
	}{
		{"Exact", 500 * physic.Hertz, 150, 500 * physic.Hertz},
		// 19.2MHz/170 truncates to 112941Hz, which leaves divf = 1
		{"Rounded", 440 * physic.Hertz, 170, 441175837 * physic.MicroHertz},
		{"ClampedHigh", 100 * physic.KiloHertz, rpioMinDivisor, 37500 * physic.Hertz},
		{"ClampedLow", physic.Hertz, rpioMaxDivisor, 18312500 * physic.MicroHertz},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			div := rpioDivisor(tt.requested)
			assert.Equal(t, tt.divisor, div)
			assert.Equal(t, tt.actual, rpioFrequency(rpioOscillator/int(div)))
		})
	}
}

func TestOpen(t *testing.T) {
	d, err := Open(BackendDryRun, "", nil)
	require.NoError(t, err)
	assert.IsType(t, &Mock{}, d)

	_, err = Open("pigpio", "", nil)
	assert.ErrorIs(t, err, pistepper.ErrConfiguration)
}
