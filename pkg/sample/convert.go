package sample

import (
	"math/bits"
	"time"
)

// Reading is a decoded sample with physical values.
type Reading struct {
	Index   int
	Offset  time.Duration // time since the first sample of the capture
	Digital byte
	Volts   [AnalogChannels]float32 // indexed by channel, zero for disabled channels
}

// Bit reports the level of GPIO line n.
func (r Reading) Bit(n int) bool {
	return r.Digital&(1<<n) != 0
}

// Converter is a function type that converts a raw Sample channel to a Reading channel.
type Converter func(in <-chan Sample) <-chan Reading

// NewConverter creates a converter that timestamps samples from the digital
// sample rate and converts enabled analog channels to volts using the table.
func NewConverter(table Table, ch Channels, rate uint32, bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan Sample) <-chan Reading {
		out := make(chan Reading, bufSize)

		go func() {
			defer close(out)

			i := 0
			for raw := range in {
				out <- Convert(&table, ch, rate, i, raw)
				i++
			}
		}()

		return out
	}
}

// Convert converts the i-th raw sample of a capture.
func Convert(table *Table, ch Channels, rate uint32, i int, raw Sample) Reading {
	r := Reading{
		Index:   i,
		Offset:  SampleOffset(rate, i),
		Digital: raw.Digital & ch.Digital,
	}
	for m := ch.Analog; m != 0; m &= m - 1 {
		n := bits.TrailingZeros16(m)
		r.Volts[n] = table.Volts(n, raw.Analog[n])
	}
	return r
}

// SampleOffset returns the time of sample i at the given rate.
func SampleOffset(rate uint32, i int) time.Duration {
	if rate == 0 {
		return 0
	}
	return time.Duration(int64(i) * int64(time.Second) / int64(rate))
}
