package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"periph.io/x/conn/v3/physic"

	"github.com/calvinmclean/pistepper"
	"github.com/calvinmclean/pistepper/board"
	"github.com/calvinmclean/pistepper/controller"
)

// app holds the flag values shared by every subcommand
type app struct {
	backend    string
	chip       string
	configPath string
	verbose    bool

	dir, step, sw int
	mode          []int

	steps int
	delay time.Duration
	pause time.Duration

	resolution pistepper.Resolution

	frequency physic.Frequency
	duty      float64
	poll      time.Duration
	debounce  int

	logger *logrus.Logger

	// digital is the last backend opened, kept for inspecting dry runs
	digital board.Digital
}

func newApp() *app {
	return &app{}
}

func envOr(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	return v
}

func (a *app) command() *cobra.Command {
	defaults := controller.DefaultConfig()

	root := &cobra.Command{
		Use:   "pistepper",
		Short: "Drive a STEP/DIR stepper motor driver from Raspberry Pi GPIO",
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.logger = logrus.New()
			a.logger.SetOutput(cmd.ErrOrStderr())
			if a.verbose {
				a.logger.SetLevel(logrus.DebugLevel)
			}
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.backend, "backend", envOr("PISTEPPER_BACKEND", board.BackendRPIO), "GPIO backend: rpio, gpiod or dry-run")
	pf.StringVar(&a.chip, "chip", envOr("PISTEPPER_CHIP", board.DefaultChip), "GPIO chip used by the gpiod backend")
	pf.StringVarP(&a.configPath, "config", "c", os.Getenv("PISTEPPER_CONFIG"), "TOML config file")
	pf.BoolVarP(&a.verbose, "verbose", "v", cast.ToBool(os.Getenv("PISTEPPER_VERBOSE")), "log every pin change")

	pf.IntVar(&a.dir, "dir", int(defaults.Pins.Dir), "DIR pin (BCM)")
	pf.IntVar(&a.step, "step", int(defaults.Pins.Step), "STEP pin (BCM). The pwm command on rpio needs 12, 13, 18 or 19")
	pf.IntSliceVar(&a.mode, "mode", []int{int(defaults.Pins.Mode[0]), int(defaults.Pins.Mode[1]), int(defaults.Pins.Mode[2])}, "MODE0,MODE1,MODE2 pins (BCM)")
	pf.IntVar(&a.sw, "switch", int(defaults.Pins.Switch), "direction SWITCH pin (BCM)")

	a.resolution = defaults.Resolution
	a.frequency = defaults.PWM.Frequency

	fixed := &cobra.Command{
		Use:   "fixed",
		Short: "Turn one revolution clockwise, pause, then one counter-clockwise",
		Args:  cobra.NoArgs,
		RunE: a.withStepper(func(ctx context.Context, s *controller.Stepper, _ controller.Config) error {
			return s.Revolve(ctx)
		}),
	}
	a.timingFlags(fixed.Flags(), defaults.Timing)

	microstep := &cobra.Command{
		Use:   "microstep",
		Short: "Set the MODE pins for a microstep resolution and turn both ways",
		Args:  cobra.NoArgs,
		RunE: a.withStepper(func(ctx context.Context, s *controller.Stepper, cfg controller.Config) error {
			return s.Microstep(ctx, cfg.Resolution)
		}),
	}
	a.timingFlags(microstep.Flags(), defaults.Timing)
	microstep.Flags().VarP(resolutionValue{&a.resolution}, "resolution", "r", "Full, Half, 1/4, 1/8, 1/16 or 1/32")

	pwm := &cobra.Command{
		Use:   "pwm",
		Short: "Drive STEP with hardware PWM and follow SWITCH for direction until interrupted",
		Args:  cobra.NoArgs,
		RunE:  a.runPWM,
	}
	pwm.Flags().Var(frequencyValue{&a.frequency}, "frequency", "PWM frequency, like 500Hz or 1kHz")
	pwm.Flags().Float64Var(&a.duty, "duty", 0.5, "PWM duty cycle from 0 to 1")
	pwm.Flags().DurationVar(&a.poll, "poll", defaults.PWM.PollInterval, "SWITCH poll interval")
	pwm.Flags().IntVar(&a.debounce, "debounce", defaults.PWM.Debounce, "consecutive SWITCH samples needed to change direction")

	pins := &cobra.Command{
		Use:   "pins",
		Short: "Print the resolved pin assignment",
		Args:  cobra.NoArgs,
		RunE:  a.printPins,
	}

	root.AddCommand(fixed, microstep, pwm, pins)
	return root
}

func (a *app) timingFlags(fs *pflag.FlagSet, defaults controller.Timing) {
	fs.IntVar(&a.steps, "steps", defaults.StepsPerRevolution, "full steps per revolution")
	fs.DurationVar(&a.delay, "delay", defaults.HalfPeriod, "full-step half period, STEP is held high then low this long")
	fs.DurationVar(&a.pause, "pause", defaults.ReversePause, "pause before reversing")
}

// config layers the config file and then any flags that were set over the defaults
func (a *app) config(cmd *cobra.Command) (controller.Config, error) {
	cfg := controller.DefaultConfig()

	var err error
	if a.configPath != "" {
		cfg, err = controller.LoadFile(a.configPath, cfg)
		if err != nil {
			return controller.Config{}, err
		}
	}

	changed := cmd.Flags().Changed

	if changed("dir") {
		cfg.Pins.Dir = board.Pin(a.dir)
	}
	if changed("step") {
		cfg.Pins.Step = board.Pin(a.step)
	}
	if changed("switch") {
		cfg.Pins.Switch = board.Pin(a.sw)
	}
	if changed("mode") {
		if len(a.mode) != len(cfg.Pins.Mode) {
			return controller.Config{}, fmt.Errorf("%w: --mode needs %d pins, got %d", pistepper.ErrConfiguration, len(cfg.Pins.Mode), len(a.mode))
		}
		for i, p := range a.mode {
			cfg.Pins.Mode[i] = board.Pin(p)
		}
	}

	if changed("steps") {
		cfg.Timing.StepsPerRevolution = a.steps
	}
	if changed("delay") {
		cfg.Timing.HalfPeriod = a.delay
	}
	if changed("pause") {
		cfg.Timing.ReversePause = a.pause
	}
	if changed("resolution") {
		cfg.Resolution = a.resolution
	}

	if changed("frequency") {
		cfg.PWM.Frequency = a.frequency
	}
	if changed("duty") {
		cfg.PWM.Duty, err = board.DutyFraction(a.duty)
		if err != nil {
			return controller.Config{}, err
		}
	}
	if changed("poll") {
		cfg.PWM.PollInterval = a.poll
	}
	if changed("debounce") {
		cfg.PWM.Debounce = a.debounce
	}

	return cfg, cfg.Validate()
}

func (a *app) open() (board.Digital, error) {
	d, err := board.Open(a.backend, a.chip, a.logger)
	if err != nil {
		return nil, err
	}
	a.digital = d
	a.logger.WithField("backend", a.backend).Debug("opened backend")
	return d, nil
}

// finish treats cancellation as a normal exit
func (a *app) finish(err error) error {
	if errors.Is(err, context.Canceled) {
		a.logger.Info("shutting down")
		return nil
	}
	return err
}

func (a *app) withStepper(run func(context.Context, *controller.Stepper, controller.Config) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := a.config(cmd)
		if err != nil {
			return err
		}

		d, err := a.open()
		if err != nil {
			return err
		}

		s, err := controller.NewStepper(d, cfg, controller.RealClock{}, a.logger)
		if err != nil {
			return errors.Join(err, d.Close())
		}

		return a.finish(run(cmd.Context(), s, cfg))
	}
}

func (a *app) runPWM(cmd *cobra.Command, _ []string) error {
	cfg, err := a.config(cmd)
	if err != nil {
		return err
	}

	d, err := a.open()
	if err != nil {
		return err
	}

	p, err := board.PWMFor(d)
	if err != nil {
		return errors.Join(err, d.Close())
	}

	s, err := controller.NewPWMStepper(d, p, cfg, controller.RealClock{}, a.logger)
	if err != nil {
		return errors.Join(err, p.Release(), d.Close())
	}

	return s.Run(cmd.Context())
}

func (a *app) printPins(cmd *cobra.Command, _ []string) error {
	cfg, err := a.config(cmd)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tBCM")
	for _, r := range cfg.Pins.Roles() {
		fmt.Fprintf(w, "%s\t%d\n", r.Name, r.Pin)
	}
	return w.Flush()
}
