package board

import "periph.io/x/conn/v3/physic"

// PigpioFrequencies are the PWM frequencies pigpio supports at its default 5µs sample rate.
// Other sample rates scale this table; they are not modelled here.
var PigpioFrequencies = []physic.Frequency{
	8000 * physic.Hertz,
	4000 * physic.Hertz,
	2000 * physic.Hertz,
	1600 * physic.Hertz,
	1000 * physic.Hertz,
	800 * physic.Hertz,
	500 * physic.Hertz,
	400 * physic.Hertz,
	320 * physic.Hertz,
	250 * physic.Hertz,
	200 * physic.Hertz,
	160 * physic.Hertz,
	100 * physic.Hertz,
	80 * physic.Hertz,
	50 * physic.Hertz,
	40 * physic.Hertz,
	20 * physic.Hertz,
	10 * physic.Hertz,
}

// NearestFrequency returns the entry of table closest to f. Ties go to the entry listed
// first. An empty table returns f unchanged.
func NearestFrequency(table []physic.Frequency, f physic.Frequency) physic.Frequency {
	if len(table) == 0 {
		return f
	}

	best := table[0]
	bestDiff := absFrequency(f - best)
	for _, candidate := range table[1:] {
		diff := absFrequency(f - candidate)
		if diff < bestDiff {
			best, bestDiff = candidate, diff
		}
	}
	return best
}

func absFrequency(f physic.Frequency) physic.Frequency {
	if f < 0 {
		return -f
	}
	return f
}
