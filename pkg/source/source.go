// Package source abstracts the hardware the logic analyzer samples from:
// GPIO lines, analog converters and the timer that paces sampling.
package source

import (
	"errors"

	"github.com/itohio/jlsump/pkg/sample"
)

var (
	// ErrReadFailed is returned by a Source when a peripheral read fails.
	ErrReadFailed = errors.New("hardware read failed")
	// ErrPersistentFault is returned by Reader once consecutive faulty
	// samples exceed the configured threshold.
	ErrPersistentFault = errors.New("persistent hardware read fault")
	// ErrBadChannel is returned for analog channels outside the table.
	ErrBadChannel = errors.New("analog channel out of range")
)

// Source reads the current state of the sampled peripherals.
// Implementations must not block or allocate: they are called from the
// sampling callback.
type Source interface {
	// ReadDigital returns one bit per GPIO line.
	ReadDigital() (byte, error)
	// ReadAnalog returns the raw 12-bit code (0-4095) of analog channel ch.
	ReadAnalog(ch int) (uint16, error)
}

// Ensure Mock implements Source.
var _ Source = (*Mock)(nil)

func checkChannel(ch int) error {
	if ch < 0 || ch >= sample.AnalogChannels {
		return ErrBadChannel
	}
	return nil
}
