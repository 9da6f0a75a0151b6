package main

import (
	"periph.io/x/conn/v3/physic"

	"github.com/calvinmclean/pistepper"
)

// frequencyValue is a pflag.Value for physic.Frequency. Bare numbers are read as Hz.
type frequencyValue struct {
	f *physic.Frequency
}

func (v frequencyValue) String() string {
	if v.f == nil {
		return ""
	}
	return v.f.String()
}

func (v frequencyValue) Set(s string) error {
	err := v.f.Set(s)
	if err == nil {
		return nil
	}
	if v.f.Set(s+"Hz") == nil {
		return nil
	}
	return err
}

func (frequencyValue) Type() string {
	return "frequency"
}

// resolutionValue is a pflag.Value for pistepper.Resolution
type resolutionValue struct {
	r *pistepper.Resolution
}

func (v resolutionValue) String() string {
	if v.r == nil {
		return ""
	}
	return v.r.String()
}

func (v resolutionValue) Set(s string) error {
	return v.r.UnmarshalText([]byte(s))
}

func (resolutionValue) Type() string {
	return "resolution"
}
