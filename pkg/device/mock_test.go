package device

import (
	"context"
	"testing"
	"time"

	"github.com/itohio/jlsump/pkg/config"
	"github.com/itohio/jlsump/pkg/sample"
	"github.com/itohio/jlsump/pkg/sump"
	"github.com/itohio/jlsump/pkg/transport"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T, cfg *config.Config) *Mock {
	t.Helper()
	log, _ := test.NewNullLogger()
	m := NewMock(cfg, nil, log)
	require.NoError(t, m.Connect())
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMock_ConnectClose(t *testing.T) {
	log, _ := test.NewNullLogger()
	m := NewMock(nil, nil, log)
	assert.False(t, m.IsConnected())

	_, err := m.ID()
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, m.Connect())
	assert.True(t, m.IsConnected())
	assert.ErrorIs(t, m.Connect(), ErrAlreadyConnected)

	id, err := m.ID()
	require.NoError(t, err)
	assert.Equal(t, "Jumperless LA v1", id)

	require.NoError(t, m.Close())
	assert.False(t, m.IsConnected())
	assert.NoError(t, m.Close(), "second close is a no-op")
}

func TestMock_ConfigureAndStatus(t *testing.T) {
	m := newMock(t, nil)

	max, err := m.Configure(Request{Channels: sample.Channels{Digital: 0xFF, Analog: 0x1F}, Rate: 1_000_000})
	require.NoError(t, err)
	assert.Equal(t, 2*16380, max)

	r, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, sump.Configured, r.State)
	assert.Equal(t, 5, r.Factor)
	assert.Equal(t, max, r.Count)
}

func TestMock_ConfigureRejected(t *testing.T) {
	m := newMock(t, nil)

	_, err := m.Configure(Request{Channels: sample.Channels{Analog: 0x3FFF}, Count: 4096})
	assert.ErrorIs(t, err, sump.ConfigurationError, "2340 samples fit")

	_, err = m.Configure(Request{})
	assert.ErrorIs(t, err, sample.ErrNoChannels)

	// a rejected request leaves the device usable
	max, err := m.Configure(Request{Channels: sample.Channels{Analog: 0x3FFF}, Count: 2340})
	require.NoError(t, err)
	assert.Equal(t, 2340, max)
}

func TestMock_ConfigureOverUnbufferedPipe(t *testing.T) {
	m := newMock(t, nil)

	type result struct {
		max int
		err error
	}
	configure := func(req Request) result {
		t.Helper()
		done := make(chan result, 1)
		go func() {
			max, err := m.Configure(req)
			done <- result{max, err}
		}()
		select {
		case r := <-done:
			return r
		case <-time.After(5 * time.Second):
			t.Fatalf("configure %s did not return", req.Channels)
			return result{}
		}
	}

	// SET_CHANNELS answers while SET_SAMPLE_COUNT and GET_STATUS are still queued
	r := configure(Request{Channels: sample.Channels{Analog: 0x3FFF}, Count: 4096})
	assert.ErrorIs(t, r.err, sump.ConfigurationError)

	r = configure(Request{Channels: sample.Channels{Digital: 0xFF, Analog: 0x03}, Count: 500})
	require.NoError(t, r.err)
	assert.GreaterOrEqual(t, r.max, 500)

	done := make(chan error, 1)
	go func() {
		_, err := m.Capture(context.Background(), Request{Channels: sample.Channels{Digital: 0x0F}, Count: 32})
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not return")
	}
}

func TestMock_CaptureDigital(t *testing.T) {
	m := newMock(t, nil)

	capt, err := m.Capture(context.Background(), Request{Channels: sample.Channels{Digital: 0xFF}, Count: 1000})
	require.NoError(t, err)
	require.Len(t, capt.Samples, 1000)
	for i, s := range capt.Samples {
		require.Equal(t, byte(i), s.Digital, "sample %d", i)
	}
	assert.Equal(t, uint32(sump.DefaultRate), capt.Rate)
}

func TestMock_CaptureDecimated(t *testing.T) {
	m := newMock(t, nil)

	ch := sample.Channels{Digital: 0x03, Analog: 0x1F}
	capt, err := m.Capture(context.Background(), Request{Channels: ch, Rate: 1_000_000, Count: 100})
	require.NoError(t, err)
	require.Len(t, capt.Samples, 100)
	assert.Equal(t, 5, capt.Factor)

	for i, s := range capt.Samples {
		assert.Equal(t, byte(i)&0x03, s.Digital)
		if i%5 != 0 {
			assert.Equal(t, capt.Samples[i-i%5].Analog, s.Analog, "sample %d holds the analog values", i)
		}
	}
	assert.NotEqual(t, capt.Samples[0].Analog, capt.Samples[5].Analog)
}

func TestMock_CaptureTwice(t *testing.T) {
	m := newMock(t, nil)
	req := Request{Channels: sample.Channels{Analog: 0b101}, Count: 64}

	first, err := m.Capture(context.Background(), req)
	require.NoError(t, err)
	second, err := m.Capture(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, first.Samples, 64)
	assert.Len(t, second.Samples, 64)
	assert.Equal(t, sump.Idle, m.State())
}

func TestMock_HardwareFault(t *testing.T) {
	cfg := config.Default()
	cfg.Mock.FaultEvery = 1
	m := newMock(t, cfg)

	_, err := m.Capture(context.Background(), Request{Channels: sample.Channels{Analog: 1}, Count: 1000})
	require.Error(t, err)
	assert.ErrorIs(t, err, sump.HardwareReadFault)
	assert.Equal(t, sump.HardwareReadFault, sump.CodeOf(err))

	// the session is usable again
	_, err = m.ID()
	assert.NoError(t, err)
}

func TestMock_StreamAbort(t *testing.T) {
	cfg := config.Default()
	cfg.Mock.Realtime = true
	cfg.Buffer.DigitalBytes = 256 // halves of 128 samples
	m := newMock(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the first half arrives after ~256ms, the capture would end after ~512ms
	s, err := m.Stream(ctx, Request{Channels: sample.Channels{Digital: 0xFF}, Rate: 500, Count: 256})
	require.NoError(t, err)

	_, err = m.ID()
	assert.ErrorIs(t, err, ErrBusy)

	got := 0
	timeout := time.After(5 * time.Second)
loop:
	for {
		select {
		case _, ok := <-s.Samples():
			if !ok {
				break loop
			}
			got++
			if got == 3 {
				cancel()
			}
		case <-timeout:
			t.Fatal("stream did not end after cancel")
		}
	}

	assert.GreaterOrEqual(t, got, 3)
	assert.Less(t, got, 256)
	assert.ErrorIs(t, s.Err(), context.Canceled)
	assert.ErrorIs(t, s.Err(), sump.Aborted)

	require.Eventually(t, func() bool { return m.State() == sump.Idle }, time.Second, time.Millisecond)
	_, err = m.ID()
	assert.NoError(t, err, "connection is free after the stream")
}

func TestSerial_NotConnected(t *testing.T) {
	d := New(transport.Config{Name: "/dev/null-port"}, 0, logrus.New())
	assert.False(t, d.IsConnected())

	_, err := d.ID()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = d.Capture(context.Background(), Request{Channels: sample.Channels{Digital: 1}})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, d.Close())
}
