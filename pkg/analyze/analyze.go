// Package analyze summarises decoded captures.
package analyze

import (
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/jlsump/pkg/sample"
)

// Line summarises one GPIO line.
type Line struct {
	Line      int
	Edges     int
	Rising    int
	High      int           // samples at high level
	Duty      float64       // fraction of samples at high level
	Frequency float64       // Hz from rising edge spacing; 0 with fewer than two rising edges
	FirstEdge time.Duration // offset of the first edge, -1 when the line never toggled
}

// Channel summarises one analog channel in volts.
type Channel struct {
	Channel int
	Name    string
	Min     float32
	Max     float32
	Mean    float32
	RMS     float32
}

// Summary is the result of analysing a capture.
type Summary struct {
	Samples  int
	Duration time.Duration
	Lines    []Line
	Channels []Channel
}

// Analyzer accumulates statistics over a stream of readings.
type Analyzer struct {
	ch    sample.Channels
	table *sample.Table

	mu   sync.RWMutex
	n    int
	last sample.Reading
	// per-line state, indexed by GPIO line
	lines [sample.DigitalChannels]lineState
	// per-channel state, indexed by analog channel
	analog [sample.AnalogChannels]channelState

	callbacks []func(Summary)
	cbMu      sync.RWMutex
}

type lineState struct {
	edges, rising, high int
	firstEdge           time.Duration
	firstRise, lastRise time.Duration
}

type channelState struct {
	min, max float32
	sum, sq  float64
}

// New creates an analyzer for a capture with the given channels. The table
// provides channel names; it may be nil.
func New(ch sample.Channels, table *sample.Table) *Analyzer {
	return &Analyzer{ch: ch, table: table}
}

// ProcessReadings consumes readings until the channel closes and notifies
// callbacks with the final summary.
func (a *Analyzer) ProcessReadings(input <-chan sample.Reading) Summary {
	for r := range input {
		a.Add(r)
	}
	s := a.Summary()
	a.notify(s)
	return s
}

// Add accumulates one reading.
func (a *Analyzer) Add(r sample.Reading) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for m := a.ch.Digital; m != 0; m &= m - 1 {
		i := bits.TrailingZeros8(m)
		l := &a.lines[i]
		high := r.Bit(i)
		if high {
			l.high++
		}
		if a.n == 0 {
			continue
		}
		if high == a.last.Bit(i) {
			continue
		}
		if l.edges == 0 {
			l.firstEdge = r.Offset
		}
		l.edges++
		if high {
			if l.rising == 0 {
				l.firstRise = r.Offset
			}
			l.lastRise = r.Offset
			l.rising++
		}
	}

	for m := a.ch.Analog; m != 0; m &= m - 1 {
		i := bits.TrailingZeros16(m)
		v := r.Volts[i]
		c := &a.analog[i]
		if a.n == 0 {
			c.min, c.max = v, v
		} else {
			c.min = math32.Min(c.min, v)
			c.max = math32.Max(c.max, v)
		}
		c.sum += float64(v)
		c.sq += float64(v) * float64(v)
	}

	a.last = r
	a.n++
}

// Summary returns the statistics accumulated so far.
func (a *Analyzer) Summary() Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Summary{Samples: a.n}
	if a.n == 0 {
		return s
	}
	s.Duration = a.last.Offset

	for m := a.ch.Digital; m != 0; m &= m - 1 {
		i := bits.TrailingZeros8(m)
		l := a.lines[i]
		line := Line{
			Line:      i,
			Edges:     l.edges,
			Rising:    l.rising,
			High:      l.high,
			Duty:      float64(l.high) / float64(a.n),
			FirstEdge: -1,
		}
		if l.edges > 0 {
			line.FirstEdge = l.firstEdge
		}
		if span := l.lastRise - l.firstRise; l.rising > 1 && span > 0 {
			line.Frequency = float64(l.rising-1) / span.Seconds()
		}
		s.Lines = append(s.Lines, line)
	}

	for m := a.ch.Analog; m != 0; m &= m - 1 {
		i := bits.TrailingZeros16(m)
		c := a.analog[i]
		s.Channels = append(s.Channels, Channel{
			Channel: i,
			Name:    a.name(i),
			Min:     c.min,
			Max:     c.max,
			Mean:    float32(c.sum / float64(a.n)),
			RMS:     math32.Sqrt(float32(c.sq / float64(a.n))),
		})
	}
	return s
}

func (a *Analyzer) name(i int) string {
	if a.table != nil && a.table[i].Name != "" {
		return a.table[i].Name
	}
	return fmt.Sprintf("A%d", i)
}

// Reset clears the accumulated statistics.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n = 0
	a.last = sample.Reading{}
	a.lines = [sample.DigitalChannels]lineState{}
	a.analog = [sample.AnalogChannels]channelState{}
}

// OnUpdate registers a callback invoked with the final summary of
// ProcessReadings.
func (a *Analyzer) OnUpdate(callback func(Summary)) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.callbacks = append(a.callbacks, callback)
}

func (a *Analyzer) notify(s Summary) {
	a.cbMu.RLock()
	callbacks := make([]func(Summary), len(a.callbacks))
	copy(callbacks, a.callbacks)
	a.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(s)
		}
	}
}
