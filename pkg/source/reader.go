package source

import (
	"math/bits"

	"github.com/itohio/jlsump/pkg/sample"
)

// DefaultFaultThreshold is the number of consecutive faulty samples
// tolerated before a capture is aborted.
const DefaultFaultThreshold = 16

// Reader samples a Source for one capture. A failed read is replaced by
// the last good value of that input (zero before the first good read) so
// the sampler never stalls; faults are counted and escalate to
// ErrPersistentFault when they keep happening.
type Reader struct {
	src       Source
	ch        sample.Channels
	threshold int

	last        sample.Sample
	consecutive int
	faults      uint64
}

// NewReader creates a Reader for the enabled channels.
func NewReader(src Source, ch sample.Channels, threshold int) *Reader {
	if threshold <= 0 {
		threshold = DefaultFaultThreshold
	}
	return &Reader{src: src, ch: ch, threshold: threshold}
}

// Read fills s with the next sample. Digital lines are masked to the
// enabled set. Analog channels are read from hardware only
// when fresh is true; otherwise the held values are repeated.
func (r *Reader) Read(s *sample.Sample, fresh bool) error {
	failed := false

	// The GPIO port is read every tick even when no line is enabled; it
	// marks the sample instant for sources that timestamp their reads.
	d, err := r.src.ReadDigital()
	switch {
	case err == nil:
		r.last.Digital = d & r.ch.Digital
	case r.ch.Digital != 0:
		failed = true
		r.faults++
	}

	if fresh {
		for m := r.ch.Analog; m != 0; m &= m - 1 {
			n := bits.TrailingZeros16(m)
			v, err := r.src.ReadAnalog(n)
			if err != nil {
				failed = true
				r.faults++
				continue
			}
			if v > sample.MaxADC {
				v = sample.MaxADC
			}
			r.last.Analog[n] = v
		}
	}

	*s = r.last

	if !failed {
		r.consecutive = 0
		return nil
	}
	r.consecutive++
	if r.consecutive > r.threshold {
		return ErrPersistentFault
	}
	return nil
}

// Faults returns the total number of failed peripheral reads.
func (r *Reader) Faults() uint64 { return r.faults }

// Reset clears the held values and fault counters.
func (r *Reader) Reset() {
	r.last = sample.Sample{}
	r.consecutive = 0
	r.faults = 0
}
