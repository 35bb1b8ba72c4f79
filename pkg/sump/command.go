package sump

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/itohio/jlsump/pkg/sample"
)

// Command opcodes. Short commands have no payload; long commands (bit 7
// set) carry four payload bytes, except SET_CHANNELS which carries eight.
const (
	OpReset        byte = 0x00
	OpRun          byte = 0x01
	OpID           byte = 0x02
	OpGetStatus    byte = 0x03
	OpSetChannels  byte = 0x04
	OpArm          byte = 0x05
	OpAbort        byte = 0x06
	OpSetDivider   byte = 0x80
	OpSetCount     byte = 0x81
	OpSetFlags     byte = 0x82
	OpSetReadCount byte = 0x83
)

// MaxPayload is the longest command payload.
const MaxPayload = 8

// Command is one parsed host command.
type Command struct {
	Op      byte
	Payload [MaxPayload]byte
	Len     int
}

// PayloadLen returns the payload length that follows op on the wire.
func PayloadLen(op byte) int {
	switch {
	case op == OpSetChannels:
		return 8
	case op&0x80 != 0:
		return 4
	default:
		return 0
	}
}

// Known reports whether op is a command the session acts on. Unknown long
// commands are still consumed and ignored.
func Known(op byte) bool {
	switch op {
	case OpReset, OpRun, OpID, OpGetStatus, OpSetChannels, OpArm, OpAbort,
		OpSetDivider, OpSetCount, OpSetFlags, OpSetReadCount:
		return true
	default:
		return false
	}
}

// OpName returns a short name of the opcode for logs and metrics.
func OpName(op byte) string {
	switch op {
	case OpReset:
		return "reset"
	case OpRun:
		return "run"
	case OpID:
		return "id"
	case OpGetStatus:
		return "get_status"
	case OpSetChannels:
		return "set_channels"
	case OpArm:
		return "arm"
	case OpAbort:
		return "abort"
	case OpSetDivider:
		return "set_divider"
	case OpSetCount:
		return "set_sample_count"
	case OpSetFlags:
		return "set_flags"
	case OpSetReadCount:
		return "set_read_count"
	case 0xC0, 0xC4, 0xC8, 0xCC:
		return "trigger_mask"
	case 0xC1, 0xC5, 0xC9, 0xCD:
		return "trigger_value"
	case 0xC2, 0xC6, 0xCA, 0xCE:
		return "trigger_config"
	default:
		return fmt.Sprintf("op_0x%02x", op)
	}
}

// ReadCommand reads one command with its payload.
func ReadCommand(r io.Reader) (Command, error) {
	var cmd Command
	if _, err := io.ReadFull(r, cmd.Payload[:1]); err != nil {
		return Command{}, err
	}
	cmd.Op = cmd.Payload[0]
	cmd.Payload[0] = 0
	cmd.Len = PayloadLen(cmd.Op)
	if cmd.Len > 0 {
		if _, err := io.ReadFull(r, cmd.Payload[:cmd.Len]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Command{}, fmt.Errorf("%s payload: %w", OpName(cmd.Op), err)
		}
	}
	return cmd, nil
}

// Append encodes the command.
func (c Command) Append(dst []byte) []byte {
	dst = append(dst, c.Op)
	return append(dst, c.Payload[:PayloadLen(c.Op)]...)
}

func (c Command) String() string {
	return fmt.Sprintf("%s % x", OpName(c.Op), c.Payload[:c.Len])
}

// Channels decodes a SET_CHANNELS payload.
func (c Command) Channels() (sample.Channels, error) {
	return sample.FromMasks(
		binary.LittleEndian.Uint32(c.Payload[0:4]),
		binary.LittleEndian.Uint32(c.Payload[4:8]),
	)
}

// Divider decodes the 24-bit SET_DIVIDER value.
func (c Command) Divider() uint32 {
	return uint32(c.Payload[0]) | uint32(c.Payload[1])<<8 | uint32(c.Payload[2])<<16
}

// ReadCount decodes the number of samples requested by SET_SAMPLE_COUNT
// (in units of four, minus one) or SET_READ_COUNT. The SET_SAMPLE_COUNT
// delay field only matters to triggered captures and is not decoded.
func (c Command) ReadCount() int {
	if c.Op == OpSetReadCount {
		return int(binary.LittleEndian.Uint32(c.Payload[0:4]))
	}
	return (int(binary.LittleEndian.Uint16(c.Payload[0:2])) + 1) * 4
}

// NewCommand builds a command without payload.
func NewCommand(op byte) Command {
	return Command{Op: op, Len: PayloadLen(op)}
}

// SetChannels builds a SET_CHANNELS command.
func SetChannels(ch sample.Channels) Command {
	cmd := NewCommand(OpSetChannels)
	binary.LittleEndian.PutUint32(cmd.Payload[0:4], uint32(ch.Digital))
	binary.LittleEndian.PutUint32(cmd.Payload[4:8], uint32(ch.Analog))
	return cmd
}

// SetDivider builds a SET_DIVIDER command.
func SetDivider(div uint32) Command {
	cmd := NewCommand(OpSetDivider)
	cmd.Payload[0] = byte(div)
	cmd.Payload[1] = byte(div >> 8)
	cmd.Payload[2] = byte(div >> 16)
	return cmd
}

// SetSampleCount builds the command requesting count samples. Counts that
// fit the classic 16-bit field in units of four use SET_SAMPLE_COUNT,
// anything else the 32-bit SET_READ_COUNT.
func SetSampleCount(count int) Command {
	if count >= 4 && count%4 == 0 && count/4-1 <= 0xFFFF {
		cmd := NewCommand(OpSetCount)
		binary.LittleEndian.PutUint16(cmd.Payload[0:2], uint16(count/4-1))
		return cmd
	}
	cmd := NewCommand(OpSetReadCount)
	binary.LittleEndian.PutUint32(cmd.Payload[0:4], uint32(count))
	return cmd
}

// RateOf returns the sample rate selected by a divider.
func RateOf(base, div uint32) uint32 {
	return uint32(uint64(base) / (uint64(div) + 1))
}

// DividerFor returns the divider that selects rate, the closest rate not
// above the request. Rates above base select divider 0.
func DividerFor(base, rate uint32) uint32 {
	if rate == 0 || rate >= base {
		return 0
	}
	div := (uint64(base) + uint64(rate) - 1) / uint64(rate)
	if div > 0xFFFFFF+1 {
		div = 0xFFFFFF + 1
	}
	return uint32(div - 1)
}
