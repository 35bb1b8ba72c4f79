package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/itohio/jlsump/pkg/sample"
)

var (
	// ErrOverflow is returned when a write finds both halves owned by the
	// drainer. It is fatal for the capture.
	ErrOverflow = errors.New("capture buffer overflow")
	// ErrNotConfigured is returned by Write before Configure.
	ErrNotConfigured = errors.New("capture buffer not configured")
	// ErrBadFactor is returned for decimation factors the geometry cannot use.
	ErrBadFactor = errors.New("invalid decimation factor")
)

// Buffer is the ping-pong capture memory. One writer (the sampling
// callback) fills the active half; a filled half is handed to the drainer
// through Ready and returned with Release. Ownership of a half changes
// with a single atomic store, so the writer never touches a half being
// drained and the drainer never sees a half being written.
type Buffer struct {
	geom    Geometry
	digital []byte
	analog  []byte

	ch      sample.Channels
	list    [sample.AnalogChannels]int
	nAnalog int
	factor  int
	half    int // samples per half
	max     int

	// writer side
	active int
	pos    int

	count   [2]int         // samples in a handed-off half
	busy    [2]atomic.Bool // half owned by the drainer
	ready   chan int
	written atomic.Int64
}

// NewBuffer allocates the regions described by g.
func NewBuffer(g Geometry) (*Buffer, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Buffer{
		geom:    g,
		digital: make([]byte, g.DigitalBytes),
		analog:  make([]byte, g.AnalogBytes),
		factor:  1,
		ready:   make(chan int, 2),
	}, nil
}

// Geometry returns the byte budget of the buffer.
func (b *Buffer) Geometry() Geometry { return b.geom }

// Configure sizes the buffer for ch with analog stored once every factor
// samples, resets it and returns the maximum sample count of a capture.
func (b *Buffer) Configure(ch sample.Channels, factor int) (int, error) {
	if err := ch.Validate(); err != nil {
		return 0, err
	}
	n := ch.AnalogCount()
	if factor < 1 || factor > b.geom.MaxFactor(n) {
		return 0, fmt.Errorf("%w: %d (max %d for %d analog channels)", ErrBadFactor, factor, b.geom.MaxFactor(n), n)
	}
	half := b.geom.HalfCapacity(n, factor)
	if half == 0 {
		return 0, fmt.Errorf("%w: no room for %d analog channels", ErrBadGeometry, n)
	}

	b.ch = ch
	b.nAnalog = 0
	for _, c := range ch.AnalogList(b.list[:0]) {
		b.list[b.nAnalog] = c
		b.nAnalog++
	}
	b.factor = factor
	b.half = half
	b.max = 2 * half
	b.Reset()
	return b.max, nil
}

// Channels returns the configured channels.
func (b *Buffer) Channels() sample.Channels { return b.ch }

// Factor returns the configured decimation factor.
func (b *Buffer) Factor() int { return b.factor }

// HalfCapacity returns the samples held by one half.
func (b *Buffer) HalfCapacity() int { return b.half }

// MaxSamples returns the samples held by both halves.
func (b *Buffer) MaxSamples() int { return b.max }

// Written returns the number of samples written since the last reset.
func (b *Buffer) Written() int { return int(b.written.Load()) }

// Reset discards all samples. Neither the writer nor the drainer may be
// active.
func (b *Buffer) Reset() {
	b.active = 0
	b.pos = 0
	for i := range b.count {
		b.count[i] = 0
		b.busy[i].Store(false)
	}
drain:
	for {
		select {
		case <-b.ready:
		default:
			break drain
		}
	}
	clear(b.digital)
	clear(b.analog)
	b.written.Store(0)
}

// NeedsAnalog reports whether the next Write stores analog values. The
// sampler reads analog hardware only then and repeats held values
// otherwise.
func (b *Buffer) NeedsAnalog() bool {
	if b.nAnalog == 0 {
		return false
	}
	p := b.pos
	if p == b.half {
		p = 0
	}
	return p%b.factor == 0
}

// IsFull reports whether the next Write would overflow.
func (b *Buffer) IsFull() bool {
	return b.half > 0 && b.pos == b.half && b.busy[1-b.active].Load()
}

// Write appends s to the active half. When the half fills it is handed to
// the drainer and writing continues in the other half, provided the
// drainer has released it.
func (b *Buffer) Write(s sample.Sample) error {
	if b.half == 0 {
		return ErrNotConfigured
	}
	if b.pos == b.half {
		next := 1 - b.active
		if b.busy[next].Load() {
			return ErrOverflow
		}
		b.active = next
		b.pos = 0
	}

	b.digital[b.active*b.geom.DigitalHalf()+b.pos] = s.Digital
	if b.nAnalog > 0 && b.pos%b.factor == 0 {
		off := b.analogOffset(b.active, b.pos/b.factor)
		for _, c := range b.list[:b.nAnalog] {
			binary.LittleEndian.PutUint16(b.analog[off:], s.Analog[c])
			off += analogBytesPerSample
		}
	}
	b.pos++
	b.written.Add(1)

	if b.pos == b.half {
		b.handOff(b.active, b.pos)
	}
	return nil
}

// Flush hands the partially filled active half to the drainer. It must be
// called by the writer, or after the writer has stopped.
func (b *Buffer) Flush() {
	if b.pos == 0 || b.pos == b.half || b.busy[b.active].Load() {
		return
	}
	b.handOff(b.active, b.pos)
	b.pos = b.half // the next write moves to the other half
}

func (b *Buffer) handOff(half, n int) {
	b.count[half] = n
	b.busy[half].Store(true)
	b.ready <- half
}

// Ready delivers the index of each half handed to the drainer, in the
// order they were filled.
func (b *Buffer) Ready() <-chan int { return b.ready }

// DrainHalf iterates the samples of a handed-off half in arrival order.
// Decimated analog values are repeated for every sample they cover.
func (b *Buffer) DrainHalf(half int) iter.Seq[sample.Sample] {
	return func(yield func(sample.Sample) bool) {
		if half < 0 || half > 1 || !b.busy[half].Load() {
			return
		}
		var s sample.Sample
		dOff := half * b.geom.DigitalHalf()
		for p := 0; p < b.count[half]; p++ {
			s.Digital = b.digital[dOff+p]
			if b.nAnalog > 0 && p%b.factor == 0 {
				off := b.analogOffset(half, p/b.factor)
				for _, c := range b.list[:b.nAnalog] {
					s.Analog[c] = binary.LittleEndian.Uint16(b.analog[off:])
					off += analogBytesPerSample
				}
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Release returns a drained half to the writer.
func (b *Buffer) Release(half int) {
	if half < 0 || half > 1 {
		return
	}
	b.count[half] = 0
	b.busy[half].Store(false)
}

// Drain flushes the active half and iterates every stored sample in
// arrival order, releasing halves as they are consumed. The writer must
// be stopped.
func (b *Buffer) Drain() iter.Seq[sample.Sample] {
	return func(yield func(sample.Sample) bool) {
		b.Flush()
		for {
			var half int
			select {
			case half = <-b.ready:
			default:
				return
			}
			for s := range b.DrainHalf(half) {
				if !yield(s) {
					b.Release(half)
					return
				}
			}
			b.Release(half)
		}
	}
}

func (b *Buffer) analogOffset(half, slot int) int {
	return half*b.geom.AnalogHalf() + slot*analogBytesPerSample*b.nAnalog
}
