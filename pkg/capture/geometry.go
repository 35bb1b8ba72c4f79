// Package capture owns the fixed sample memory of the logic analyzer.
package capture

import (
	"errors"
	"fmt"
)

const (
	// DefaultDigitalBytes is the digital region: two 16 KB halves.
	DefaultDigitalBytes = 32 * 1024
	// DefaultAnalogBytes is the analog region: two 32 KB halves.
	DefaultAnalogBytes = 64 * 1024

	digitalBytesPerSample = 1
	analogBytesPerSample  = 2
)

// ErrBadGeometry is returned for region sizes that cannot be split in halves.
var ErrBadGeometry = errors.New("invalid buffer geometry")

// Geometry is the byte budget of the capture memory. Each region is split
// into two equal halves used ping-pong.
type Geometry struct {
	DigitalBytes int // whole digital region, both halves
	AnalogBytes  int // whole analog region, both halves
}

// DefaultGeometry returns the 96 KB reference layout.
func DefaultGeometry() Geometry {
	return Geometry{
		DigitalBytes: DefaultDigitalBytes,
		AnalogBytes:  DefaultAnalogBytes,
	}
}

// Validate checks that both regions split into non-empty, aligned halves.
func (g Geometry) Validate() error {
	if g.DigitalBytes < 2 || g.DigitalBytes%2 != 0 {
		return fmt.Errorf("%w: digital region %d bytes", ErrBadGeometry, g.DigitalBytes)
	}
	if g.AnalogBytes < 4 || g.AnalogBytes%4 != 0 {
		return fmt.Errorf("%w: analog region %d bytes", ErrBadGeometry, g.AnalogBytes)
	}
	return nil
}

// Total returns the whole byte budget.
func (g Geometry) Total() int { return g.DigitalBytes + g.AnalogBytes }

// DigitalHalf returns the size of one digital half in bytes.
func (g Geometry) DigitalHalf() int { return g.DigitalBytes / 2 }

// AnalogHalf returns the size of one analog half in bytes.
func (g Geometry) AnalogHalf() int { return g.AnalogBytes / 2 }

// DigitalCapacity returns how many samples one digital half holds.
// Digital storage is one byte per sample whatever the channel count.
func (g Geometry) DigitalCapacity() int {
	return g.DigitalHalf() / digitalBytesPerSample
}

// AnalogCapacity returns how many analog samples of n channels one analog
// half holds. It returns 0 for n <= 0.
func (g Geometry) AnalogCapacity(n int) int {
	if n <= 0 {
		return 0
	}
	return g.AnalogHalf() / (analogBytesPerSample * n)
}

// MaxFactor returns the largest decimation factor the geometry can use
// with n analog channels: beyond digital/analog capacity the analog half
// no longer limits the sample count.
func (g Geometry) MaxFactor(n int) int {
	a := g.AnalogCapacity(n)
	if a == 0 {
		return 1
	}
	f := g.DigitalCapacity() / a
	if f < 1 {
		return 1
	}
	return f
}

// HalfCapacity returns the samples per half for n analog channels with
// analog stored once every factor samples. It is a multiple of factor so
// every half starts on a fresh analog read.
func (g Geometry) HalfCapacity(n, factor int) int {
	if factor < 1 {
		factor = 1
	}
	c := g.DigitalCapacity()
	if n > 0 {
		if a := g.AnalogCapacity(n) * factor; a < c {
			c = a
		}
		c -= c % factor
	}
	return c
}

// MaxSamples returns the samples one capture may hold across both halves.
func (g Geometry) MaxSamples(n, factor int) int {
	return 2 * g.HalfCapacity(n, factor)
}
