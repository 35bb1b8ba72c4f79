// Package frame implements the marker-discriminated wire frames that carry
// one sample each to the capture client.
//
// Frame layouts:
//
//	digital only:  [gpio][uart][0xDD]
//	mixed signal:  [gpio][uart][0xDA][ch lo][ch hi]...[0xA0]
//	analog only:   [0][0][0xAA][ch lo][ch hi]...[0xA0]
//
// Analog codes are little-endian and appear in ascending channel order.
package frame

import (
	"fmt"
	"math/bits"

	"github.com/itohio/jlsump/pkg/sample"
)

// Marker bytes.
const (
	DigitalOnly byte = 0xDD
	MixedSignal byte = 0xDA
	AnalogOnly  byte = 0xAA
	EOF         byte = 0xA0
)

// HeaderSize is the gpio, uart and marker bytes every frame starts with.
const HeaderSize = 3

// MaxSize is the largest frame: mixed signal with every analog channel.
const MaxSize = HeaderSize + 2*sample.AnalogChannels + 1

// Kind is the frame variant.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindDigital
	KindMixed
	KindAnalog
)

// KindOf returns the frame variant used for a channel configuration.
func KindOf(ch sample.Channels) Kind {
	switch {
	case ch.HasDigital() && ch.HasAnalog():
		return KindMixed
	case ch.HasAnalog():
		return KindAnalog
	case ch.HasDigital():
		return KindDigital
	default:
		return KindInvalid
	}
}

// KindOfMarker maps a marker byte to its variant.
func KindOfMarker(m byte) Kind {
	switch m {
	case DigitalOnly:
		return KindDigital
	case MixedSignal:
		return KindMixed
	case AnalogOnly:
		return KindAnalog
	default:
		return KindInvalid
	}
}

// Marker returns the marker byte of the variant.
func (k Kind) Marker() byte {
	switch k {
	case KindDigital:
		return DigitalOnly
	case KindMixed:
		return MixedSignal
	case KindAnalog:
		return AnalogOnly
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case KindDigital:
		return "digital"
	case KindMixed:
		return "mixed"
	case KindAnalog:
		return "analog"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Size returns the encoded size of one frame, 0 for an empty configuration.
func Size(ch sample.Channels) int {
	switch KindOf(ch) {
	case KindDigital:
		return HeaderSize
	case KindMixed, KindAnalog:
		return HeaderSize + 2*ch.AnalogCount() + 1
	default:
		return 0
	}
}

// Append encodes s for the channel configuration and appends it to dst.
// It does not allocate when dst has Size(ch) spare capacity. An empty
// configuration appends nothing.
func Append(dst []byte, s sample.Sample, ch sample.Channels) []byte {
	k := KindOf(ch)
	switch k {
	case KindDigital:
		return append(dst, s.Digital&ch.Digital, 0, DigitalOnly)
	case KindMixed, KindAnalog:
		var gpio byte
		if k == KindMixed {
			gpio = s.Digital & ch.Digital
		}
		dst = append(dst, gpio, 0, k.Marker())
		for m := ch.Analog; m != 0; m &= m - 1 {
			v := s.Analog[bits.TrailingZeros16(m)]
			dst = append(dst, byte(v), byte(v>>8))
		}
		return append(dst, EOF)
	default:
		return dst
	}
}

// Encode returns the frame for s in a new slice.
func Encode(s sample.Sample, ch sample.Channels) []byte {
	return Append(make([]byte, 0, Size(ch)), s, ch)
}

// Frame is one decoded frame.
type Frame struct {
	Kind    Kind
	Digital byte
	UART    byte
	Analog  []uint16 // raw codes in ascending channel order
}

// Sample places the decoded analog codes on the channels enabled in ch.
// Extra codes are dropped; missing ones stay zero.
func (f Frame) Sample(ch sample.Channels) sample.Sample {
	s := sample.Sample{Digital: f.Digital}
	i := 0
	for m := ch.Analog; m != 0 && i < len(f.Analog); m &= m - 1 {
		s.Analog[bits.TrailingZeros16(m)] = f.Analog[i]
		i++
	}
	return s
}
