package source

import (
	"testing"

	"github.com/itohio/jlsump/pkg/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	digital     byte
	analog      [sample.AnalogChannels]uint16
	failDigital bool
	failAnalog  bool
	analogReads int
}

func (f *fakeSource) ReadDigital() (byte, error) {
	if f.failDigital {
		return 0, ErrReadFailed
	}
	return f.digital, nil
}

func (f *fakeSource) ReadAnalog(ch int) (uint16, error) {
	f.analogReads++
	if f.failAnalog {
		return 0, ErrReadFailed
	}
	return f.analog[ch], nil
}

func TestReader_MasksDigital(t *testing.T) {
	src := &fakeSource{digital: 0xFF}
	r := NewReader(src, sample.Channels{Digital: 0x0F}, 0)

	var s sample.Sample
	require.NoError(t, r.Read(&s, true))
	assert.Equal(t, byte(0x0F), s.Digital)
	assert.Equal(t, 0, src.analogReads, "no analog channel enabled")
}

func TestReader_HoldsAnalogWhenNotFresh(t *testing.T) {
	src := &fakeSource{}
	src.analog[2] = 100
	r := NewReader(src, sample.Channels{Analog: 1 << 2}, 0)

	var s sample.Sample
	require.NoError(t, r.Read(&s, true))
	assert.Equal(t, uint16(100), s.Analog[2])

	src.analog[2] = 200
	require.NoError(t, r.Read(&s, false))
	assert.Equal(t, uint16(100), s.Analog[2], "held value is duplicated")
	assert.Equal(t, 1, src.analogReads)

	require.NoError(t, r.Read(&s, true))
	assert.Equal(t, uint16(200), s.Analog[2])
}

func TestReader_ClampsAnalog(t *testing.T) {
	src := &fakeSource{}
	src.analog[0] = 0xFFFF
	r := NewReader(src, sample.Channels{Analog: 1}, 0)

	var s sample.Sample
	require.NoError(t, r.Read(&s, true))
	assert.Equal(t, uint16(sample.MaxADC), s.Analog[0])
}

func TestReader_SubstitutesLastGood(t *testing.T) {
	src := &fakeSource{digital: 0x05}
	src.analog[1] = 1791
	r := NewReader(src, sample.Channels{Digital: 0xFF, Analog: 1 << 1}, 4)

	var s sample.Sample
	require.NoError(t, r.Read(&s, true))

	src.failDigital = true
	src.failAnalog = true
	src.digital = 0x77
	src.analog[1] = 5

	require.NoError(t, r.Read(&s, true))
	assert.Equal(t, byte(0x05), s.Digital)
	assert.Equal(t, uint16(1791), s.Analog[1])
	assert.Equal(t, uint64(2), r.Faults())
}

func TestReader_ZeroBeforeFirstGoodRead(t *testing.T) {
	src := &fakeSource{digital: 0x05, failDigital: true}
	r := NewReader(src, sample.Channels{Digital: 0xFF}, 4)

	var s sample.Sample
	require.NoError(t, r.Read(&s, true))
	assert.Equal(t, byte(0), s.Digital)
}

func TestReader_EscalatesPersistentFault(t *testing.T) {
	src := &fakeSource{failDigital: true}
	r := NewReader(src, sample.Channels{Digital: 0x01}, 2)

	var s sample.Sample
	assert.NoError(t, r.Read(&s, true))
	assert.NoError(t, r.Read(&s, true))
	assert.ErrorIs(t, r.Read(&s, true), ErrPersistentFault)
}

func TestReader_GoodReadResetsStreak(t *testing.T) {
	src := &fakeSource{failDigital: true}
	r := NewReader(src, sample.Channels{Digital: 0x01}, 2)

	var s sample.Sample
	assert.NoError(t, r.Read(&s, true))
	assert.NoError(t, r.Read(&s, true))

	src.failDigital = false
	assert.NoError(t, r.Read(&s, true))

	src.failDigital = true
	assert.NoError(t, r.Read(&s, true))
	assert.NoError(t, r.Read(&s, true))
	assert.Equal(t, uint64(4), r.Faults())

	r.Reset()
	assert.Equal(t, uint64(0), r.Faults())
}

func TestReader_AnalogOnlyIgnoresDigitalFaults(t *testing.T) {
	src := &fakeSource{digital: 0xFF, failDigital: true}
	src.analog[0] = 7
	r := NewReader(src, sample.Channels{Analog: 1}, 1)

	var s sample.Sample
	for range 5 {
		require.NoError(t, r.Read(&s, true))
	}
	assert.Equal(t, byte(0), s.Digital)
	assert.Equal(t, uint16(7), s.Analog[0])
	assert.Zero(t, r.Faults())
}
