package controller

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"periph.io/x/conn/v3/physic"

	"github.com/calvinmclean/pistepper"
	"github.com/calvinmclean/pistepper/board"
)

// fileConfig is the on-disk layout. Every field is optional and only overrides the base
// Config when present.
//
//	resolution = "1/16"
//
//	[pins]
//	dir = 20
//	step = 13
//	mode = [14, 15, 18]
//	switch = 16
//
//	[timing]
//	steps_per_revolution = 200
//	half_period = "5ms"
//	reverse_pause = "1s"
//
//	[pwm]
//	frequency = "800Hz"
//	duty = 0.5
//	poll_interval = "50ms"
//	debounce = 3
type fileConfig struct {
	Resolution *string `toml:"resolution"`

	Pins struct {
		Dir    *int  `toml:"dir"`
		Step   *int  `toml:"step"`
		Mode   []int `toml:"mode"`
		Switch *int  `toml:"switch"`
	} `toml:"pins"`

	Timing struct {
		StepsPerRevolution *int    `toml:"steps_per_revolution"`
		HalfPeriod         *string `toml:"half_period"`
		ReversePause       *string `toml:"reverse_pause"`
	} `toml:"timing"`

	PWM struct {
		Frequency    *string  `toml:"frequency"`
		Duty         *float64 `toml:"duty"`
		PollInterval *string  `toml:"poll_interval"`
		Debounce     *int     `toml:"debounce"`
	} `toml:"pwm"`
}

// LoadFile reads a TOML file over base and validates the result. Unknown keys are rejected so
// typos do not silently fall back to defaults.
func LoadFile(path string, base Config) (Config, error) {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return Config{}, fmt.Errorf("%w: error reading %s: %v", pistepper.ErrConfiguration, path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", pistepper.ErrConfiguration, path, strings.Join(keys, ", "))
	}

	cfg, err := fc.apply(base)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

func (fc fileConfig) apply(cfg Config) (Config, error) {
	if fc.Resolution != nil {
		r, err := pistepper.ParseResolution(*fc.Resolution)
		if err != nil {
			return Config{}, err
		}
		cfg.Resolution = r
	}

	setPin(&cfg.Pins.Dir, fc.Pins.Dir)
	setPin(&cfg.Pins.Step, fc.Pins.Step)
	setPin(&cfg.Pins.Switch, fc.Pins.Switch)
	if fc.Pins.Mode != nil {
		if len(fc.Pins.Mode) != len(cfg.Pins.Mode) {
			return Config{}, fmt.Errorf("%w: pins.mode needs %d pins, got %d", pistepper.ErrConfiguration, len(cfg.Pins.Mode), len(fc.Pins.Mode))
		}
		for i, p := range fc.Pins.Mode {
			cfg.Pins.Mode[i] = board.Pin(p)
		}
	}

	if fc.Timing.StepsPerRevolution != nil {
		cfg.Timing.StepsPerRevolution = *fc.Timing.StepsPerRevolution
	}
	err := setDuration(&cfg.Timing.HalfPeriod, "timing.half_period", fc.Timing.HalfPeriod)
	if err != nil {
		return Config{}, err
	}
	err = setDuration(&cfg.Timing.ReversePause, "timing.reverse_pause", fc.Timing.ReversePause)
	if err != nil {
		return Config{}, err
	}

	if fc.PWM.Frequency != nil {
		var f physic.Frequency
		err := f.Set(*fc.PWM.Frequency)
		if err != nil {
			return Config{}, fmt.Errorf("%w: pwm.frequency: %v", pistepper.ErrConfiguration, err)
		}
		cfg.PWM.Frequency = f
	}
	if fc.PWM.Duty != nil {
		d, err := board.DutyFraction(*fc.PWM.Duty)
		if err != nil {
			return Config{}, fmt.Errorf("pwm.duty: %w", err)
		}
		cfg.PWM.Duty = d
	}
	err = setDuration(&cfg.PWM.PollInterval, "pwm.poll_interval", fc.PWM.PollInterval)
	if err != nil {
		return Config{}, err
	}
	if fc.PWM.Debounce != nil {
		cfg.PWM.Debounce = *fc.PWM.Debounce
	}

	return cfg, nil
}

func setPin(dst *board.Pin, v *int) {
	if v != nil {
		*dst = board.Pin(*v)
	}
}

func setDuration(dst *time.Duration, key string, v *string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", pistepper.ErrConfiguration, key, err)
	}
	*dst = d
	return nil
}
