package source

import (
	"math"
	"sync/atomic"

	"github.com/itohio/jlsump/pkg/sample"
)

// Wave describes the simulated signal on one analog channel, in raw codes.
type Wave struct {
	Offset      float64 // mid-level code
	Amplitude   float64 // peak deviation in codes
	PeriodTicks float64 // samples per cycle, 0 for a constant level
}

// MockOptions configures the simulated breadboard.
type MockOptions struct {
	// DigitalDivider slows the GPIO counter: the digital byte is tick/DigitalDivider.
	DigitalDivider uint32
	// Waves holds the analog signal per channel.
	Waves [sample.AnalogChannels]Wave
	// FaultEvery makes every n-th analog read fail; 0 disables faults.
	FaultEvery uint32
}

// DefaultMockOptions returns a breadboard with a binary counter on the GPIO
// lines and sines of increasing period on every analog channel.
func DefaultMockOptions() MockOptions {
	opts := MockOptions{DigitalDivider: 1}
	for i := range opts.Waves {
		opts.Waves[i] = Wave{
			Offset:      2048,
			Amplitude:   1500,
			PeriodTicks: float64(64 * (i + 1)),
		}
	}
	return opts
}

// Mock simulates the breadboard peripherals for testing and development.
// Every ReadDigital call advances the simulated time by one tick, so analog
// values follow the sample index even when analog reads are decimated.
type Mock struct {
	opts MockOptions

	tick  atomic.Uint32
	reads atomic.Uint32
}

// NewMock creates a simulated source.
func NewMock(opts MockOptions) *Mock {
	if opts.DigitalDivider == 0 {
		opts.DigitalDivider = 1
	}
	return &Mock{opts: opts}
}

// ReadDigital returns the GPIO counter and advances simulated time.
func (m *Mock) ReadDigital() (byte, error) {
	t := m.tick.Add(1) - 1
	return byte(t / m.opts.DigitalDivider), nil
}

// ReadAnalog returns the simulated code of channel ch at the current tick.
func (m *Mock) ReadAnalog(ch int) (uint16, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	if n := m.opts.FaultEvery; n > 0 && m.reads.Add(1)%n == 0 {
		return 0, ErrReadFailed
	}

	w := m.opts.Waves[ch]
	v := w.Offset
	if w.PeriodTicks > 0 {
		t := m.tick.Load()
		if t > 0 {
			t-- // value at the tick of the last digital read
		}
		v += w.Amplitude * math.Sin(2*math.Pi*float64(t)/w.PeriodTicks)
	}
	return clampCode(v), nil
}

// Ticks returns the number of simulated samples taken so far.
func (m *Mock) Ticks() uint32 { return m.tick.Load() }

// Reset rewinds simulated time.
func (m *Mock) Reset() {
	m.tick.Store(0)
	m.reads.Store(0)
}

func clampCode(v float64) uint16 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > sample.MaxADC {
		return sample.MaxADC
	}
	return uint16(v)
}
