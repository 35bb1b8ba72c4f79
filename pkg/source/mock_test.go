package source

import (
	"testing"

	"github.com/itohio/jlsump/pkg/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_DigitalCounter(t *testing.T) {
	m := NewMock(MockOptions{DigitalDivider: 2})

	var got []byte
	for i := 0; i < 6; i++ {
		d, err := m.ReadDigital()
		require.NoError(t, err)
		got = append(got, d)
	}
	assert.Equal(t, []byte{0, 0, 1, 1, 2, 2}, got)
	assert.Equal(t, uint32(6), m.Ticks())

	m.Reset()
	assert.Equal(t, uint32(0), m.Ticks())
}

func TestMock_AnalogWave(t *testing.T) {
	opts := MockOptions{}
	opts.Waves[0] = Wave{Offset: 2048, Amplitude: 1000, PeriodTicks: 4}
	opts.Waves[1] = Wave{Offset: 1791}
	m := NewMock(opts)

	want := []uint16{2048, 3048, 2048, 1048}
	for i, w := range want {
		_, err := m.ReadDigital()
		require.NoError(t, err)

		v, err := m.ReadAnalog(0)
		require.NoError(t, err)
		assert.Equal(t, w, v, "tick %d", i)

		c, err := m.ReadAnalog(1)
		require.NoError(t, err)
		assert.Equal(t, uint16(1791), c)
	}
}

func TestMock_ClampsToADCRange(t *testing.T) {
	opts := MockOptions{}
	opts.Waves[0] = Wave{Offset: 5000}
	opts.Waves[1] = Wave{Offset: -10}
	m := NewMock(opts)

	v, err := m.ReadAnalog(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(sample.MaxADC), v)

	v, err = m.ReadAnalog(1)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), v)
}

func TestMock_Faults(t *testing.T) {
	m := NewMock(MockOptions{FaultEvery: 3})

	var errs int
	for i := 0; i < 9; i++ {
		if _, err := m.ReadAnalog(0); err != nil {
			assert.ErrorIs(t, err, ErrReadFailed)
			errs++
		}
	}
	assert.Equal(t, 3, errs)
}

func TestMock_BadChannel(t *testing.T) {
	m := NewMock(DefaultMockOptions())

	_, err := m.ReadAnalog(sample.AnalogChannels)
	assert.ErrorIs(t, err, ErrBadChannel)
	_, err = m.ReadAnalog(-1)
	assert.ErrorIs(t, err, ErrBadChannel)
}
