package sump

import (
	"encoding/binary"
	"fmt"
	"io"
)

// StatusMarker starts every status packet: [0x82][code][len][payload].
const StatusMarker byte = 0x82

// MaxStatusPayload is the longest status payload.
const MaxStatusPayload = 255

// Status is a decoded status packet.
type Status struct {
	Code    Code
	Payload []byte
}

// Uint32 returns the little-endian word at payload offset off, 0 if short.
func (s Status) Uint32(off int) uint32 {
	if off < 0 || off+4 > len(s.Payload) {
		return 0
	}
	return binary.LittleEndian.Uint32(s.Payload[off:])
}

// Err returns nil for OK and the code otherwise.
func (s Status) Err() error {
	if s.Code == OK {
		return nil
	}
	return s.Code
}

func (s Status) String() string {
	return fmt.Sprintf("status %s % x", s.Code, s.Payload)
}

// AppendStatus encodes a status packet. Payloads longer than
// MaxStatusPayload are truncated.
func AppendStatus(dst []byte, code Code, payload []byte) []byte {
	if len(payload) > MaxStatusPayload {
		payload = payload[:MaxStatusPayload]
	}
	dst = append(dst, StatusMarker, byte(code), byte(len(payload)))
	return append(dst, payload...)
}

// AppendCount encodes a status packet whose payload is one 32-bit count.
func AppendCount(dst []byte, code Code, n int) []byte {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(n))
	return AppendStatus(dst, code, p[:])
}

// ReadStatus reads a whole status packet.
func ReadStatus(r io.Reader) (Status, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Status{}, err
	}
	if hdr[0] != StatusMarker {
		return Status{}, fmt.Errorf("status marker 0x%02x: %w", hdr[0], ProtocolFault)
	}
	return ReadStatusBody(r, hdr[1], hdr[2])
}

// ReadStatusBody reads the payload of a status packet whose header has
// already been consumed.
func ReadStatusBody(r io.Reader, code, n byte) (Status, error) {
	st := Status{Code: Code(code), Payload: make([]byte, n)}
	if _, err := io.ReadFull(r, st.Payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Status{}, fmt.Errorf("status payload: %w", err)
	}
	return st, nil
}

// Report is the payload of the GET_STATUS response.
type Report struct {
	State      State
	Factor     int
	MaxSamples int
	Count      int
	Captured   int
}

// ReportSize is the encoded size of a Report.
const ReportSize = 14

// Append encodes the report as [state][factor][max u32][count u32][captured u32].
func (r Report) Append(dst []byte) []byte {
	dst = append(dst, byte(r.State), byte(r.Factor))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(r.MaxSamples))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(r.Count))
	return binary.LittleEndian.AppendUint32(dst, uint32(r.Captured))
}

// ParseReport decodes a GET_STATUS payload.
func ParseReport(p []byte) (Report, error) {
	if len(p) < ReportSize {
		return Report{}, fmt.Errorf("report of %d bytes: %w", len(p), ProtocolFault)
	}
	return Report{
		State:      State(p[0]),
		Factor:     int(p[1]),
		MaxSamples: int(binary.LittleEndian.Uint32(p[2:])),
		Count:      int(binary.LittleEndian.Uint32(p[6:])),
		Captured:   int(binary.LittleEndian.Uint32(p[10:])),
	}, nil
}
