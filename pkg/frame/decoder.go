package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/itohio/jlsump/pkg/sample"
)

var (
	// ErrUnknownMarker is returned for a marker byte that is not a frame variant.
	ErrUnknownMarker = errors.New("unknown frame marker")
	// ErrBadEOF is returned when an analog frame does not end with the EOF marker.
	ErrBadEOF = errors.New("bad end-of-frame marker")
	// ErrKindMismatch is returned for a valid marker of a variant the
	// channel selection does not produce.
	ErrKindMismatch = errors.New("frame variant does not match channels")
)

// ParseError reports a malformed frame and where it was found.
type ParseError struct {
	Offset int64   // stream offset of the frame start
	Header [3]byte // gpio, uart and marker bytes of the offending frame
	Got    byte    // offending byte
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("frame at offset %d: %v (0x%02x)", e.Offset, e.Err, e.Got)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Decoder reads frames from a stream. It does not buffer: the reader is
// consumed exactly up to the end of the last frame (or the offending
// header on a parse error), so the caller can keep reading other packets
// from it. Wrap slow readers in a bufio.Reader.
//
// Decoding is strict. Once a frame fails to parse the stream is out of
// step and every later Next returns the same error.
type Decoder struct {
	r       io.Reader
	kind    Kind
	nAnalog int
	off     int64
	err     error
	buf     [MaxSize]byte
	analog  []uint16
}

// NewDecoder creates a decoder for the frames a capture of ch produces.
// Every frame must carry the marker KindOf(ch) selects.
func NewDecoder(r io.Reader, ch sample.Channels) *Decoder {
	return &Decoder{r: r, kind: KindOf(ch), nAnalog: ch.AnalogCount()}
}

// Offset returns the number of bytes consumed.
func (d *Decoder) Offset() int64 { return d.off }

// Err returns the sticky error, nil while the stream is healthy.
func (d *Decoder) Err() error { return d.err }

// Next decodes the next frame. It returns io.EOF at a clean end of stream
// and io.ErrUnexpectedEOF when the stream ends inside a frame. The Analog
// slice of the returned frame is reused by the next call.
func (d *Decoder) Next() (Frame, error) {
	if d.err != nil {
		return Frame{}, d.err
	}

	start := d.off
	hdr := d.buf[:HeaderSize]
	n, err := io.ReadFull(d.r, hdr)
	d.off += int64(n)
	if err != nil {
		return Frame{}, d.fail(err)
	}

	f := Frame{Kind: KindOfMarker(hdr[2]), Digital: hdr[0], UART: hdr[1]}
	if f.Kind != KindInvalid && f.Kind != d.kind {
		return Frame{}, d.fail(d.parseError(start, hdr[2], ErrKindMismatch))
	}
	switch f.Kind {
	case KindDigital:
		return f, nil
	case KindMixed, KindAnalog:
		body := d.buf[HeaderSize : HeaderSize+2*d.nAnalog+1]
		n, err := io.ReadFull(d.r, body)
		d.off += int64(n)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, d.fail(err)
		}
		if eof := body[len(body)-1]; eof != EOF {
			return Frame{}, d.fail(d.parseError(start, eof, ErrBadEOF))
		}
		d.analog = d.analog[:0]
		for i := 0; i < d.nAnalog; i++ {
			d.analog = append(d.analog, uint16(body[2*i])|uint16(body[2*i+1])<<8)
		}
		f.Analog = d.analog
		return f, nil
	default:
		return Frame{}, d.fail(d.parseError(start, hdr[2], ErrUnknownMarker))
	}
}

func (d *Decoder) parseError(start int64, got byte, err error) *ParseError {
	pe := &ParseError{Offset: start, Got: got, Err: err}
	copy(pe.Header[:], d.buf[:HeaderSize])
	return pe
}

func (d *Decoder) fail(err error) error {
	d.err = err
	return err
}
