package board

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/calvinmclean/pistepper"
)

// Backend names accepted by Open
const (
	BackendRPIO   = "rpio"
	BackendGPIOD  = "gpiod"
	BackendDryRun = "dry-run"
)

// Backends lists every backend name
var Backends = []string{BackendRPIO, BackendGPIOD, BackendDryRun}

// Open acquires a backend by name. chip is only used by gpiod. The dry-run backend is a Mock
// that logs each call at debug level.
func Open(backend, chip string, logger logrus.FieldLogger) (Digital, error) {
	switch backend {
	case BackendRPIO:
		r, err := OpenRPIO()
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendGPIOD:
		g, err := OpenGPIOD(chip)
		if err != nil {
			return nil, err
		}
		return g, nil
	case BackendDryRun:
		return NewMock(logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q, expected one of %s", pistepper.ErrConfiguration, backend, strings.Join(Backends, ", "))
	}
}

// NopLogger returns a logger that discards everything
func NopLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
