package config

import (
	"os"
	"testing"
	"time"

	"github.com/itohio/jlsump/pkg/capture"
	"github.com/itohio/jlsump/pkg/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, uint32(100_000_000), cfg.Session.BaseClock)
	assert.Equal(t, uint32(200_000), cfg.Session.ADCRateLimit)
	assert.Equal(t, 16, cfg.Session.FaultThreshold)
	assert.Equal(t, capture.DefaultGeometry(), cfg.Geometry())
	assert.Len(t, cfg.Channels, sample.AnalogChannels)
	assert.Equal(t, "unipolar_5v", cfg.Channels[4].Range)
	assert.Len(t, cfg.Mock.Waves, sample.AnalogChannels)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
}

func TestLoad_ValidYAML(t *testing.T) {
	name := writeTemp(t, `
serial:
  port: "/dev/ttyUSB1"
  baud_rate: 921600
  read_timeout: 250ms

session:
  identity: "bench LA"
  adc_rate_limit: 100000

buffer:
  digital_bytes: 8192
  analog_bytes: 16384

capture:
  rate: 1000000
  samples: 4096
  digital: 0x0F
  analog: 0x03

channels:
  - name: PROBE_A
  - name: PROBE_B
    range: unipolar_5v

log:
  level: debug
  format: json
`)

	cfg, err := Load(name)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 921600, cfg.Serial.BaudRate)
	assert.Equal(t, 250*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, "bench LA", cfg.Session.Identity)
	assert.Equal(t, uint32(100_000), cfg.Session.ADCRateLimit)
	assert.Equal(t, uint32(100_000_000), cfg.Session.BaseClock, "default")
	assert.Equal(t, capture.Geometry{DigitalBytes: 8192, AnalogBytes: 16384}, cfg.Geometry())
	assert.Equal(t, 4096, cfg.Capture.Samples)
	assert.Equal(t, "json", cfg.Log.Format)

	ch, err := cfg.CaptureChannels()
	require.NoError(t, err)
	assert.Equal(t, sample.Channels{Digital: 0x0F, Analog: 0x03}, ch)

	table, err := cfg.Table()
	require.NoError(t, err)
	assert.Equal(t, "PROBE_A", table[0].Name)
	assert.Equal(t, sample.Bipolar8V, table[0].Range)
	assert.Equal(t, sample.Unipolar5V, table[1].Range)
	assert.Equal(t, "ADC2", table[2].Name, "unlisted channels keep the default")
	assert.Equal(t, sample.Unipolar5V, table[4].Range)
}

func TestLoad_InvalidYAML(t *testing.T) {
	name := writeTemp(t, "invalid: yaml: content: [")

	cfg, err := Load(name)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "odd digital region", content: "buffer:\n  digital_bytes: 7\n"},
		{name: "unknown range", content: "channels:\n  - range: bipolar_12v\n"},
		{name: "analog mask too wide", content: "capture:\n  analog: 0x4000\n"},
		{name: "log format", content: "log:\n  format: xml\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeTemp(t, tt.content))
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoad_PartialYAML(t *testing.T) {
	name := writeTemp(t, `
serial:
  port: "/dev/ttyACM1"
`)

	cfg, err := Load(name)
	require.NoError(t, err)

	// Should use defaults for missing fields
	assert.Equal(t, "/dev/ttyACM1", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Len(t, cfg.Channels, sample.AnalogChannels)
	assert.Equal(t, uint32(0xFF), cfg.Capture.Digital)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Capture.Analog = 0x1F
	cfg.Mock.FaultEvery = 7

	name := writeTemp(t, "")
	require.NoError(t, cfg.Save(name))

	loaded, err := Load(name)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Serial.Port)
	assert.Equal(t, uint32(0x1F), loaded.Capture.Analog)
	assert.Equal(t, cfg.Channels, loaded.Channels)
	assert.Equal(t, cfg.MockOptions(), loaded.MockOptions())
}

func TestMockOptions(t *testing.T) {
	cfg := Default()
	cfg.Mock.Waves = []WaveConfig{{Offset: 100, Amplitude: 0, Period: 0}}
	cfg.Mock.FaultEvery = 3

	opts := cfg.MockOptions()
	assert.Equal(t, uint32(3), opts.FaultEvery)
	assert.Equal(t, float64(100), opts.Waves[0].Offset)
	assert.Zero(t, opts.Waves[1], "channels without a wave stay at zero")
}

func TestSessionOptions(t *testing.T) {
	cfg := Default()
	cfg.Session.Identity = "bench"
	cfg.Buffer.DigitalBytes = 1024

	opts := cfg.SessionOptions(nil)
	assert.Equal(t, "bench", opts.Identity)
	assert.Equal(t, uint32(100_000_000), opts.BaseClock)
	assert.Equal(t, 1024, opts.Geometry.DigitalBytes)
	assert.Nil(t, opts.Observer)
	assert.Zero(t, opts.MaxRate, "no rate limit by default")

	cfg.Session.MaxRate = 50_000
	assert.Error(t, cfg.Validate(), "default rate above max rate")
	cfg.Session.DefaultRate = 50_000
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint32(50_000), cfg.SessionOptions(nil).MaxRate)
}
