package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/itohio/jlsump/pkg/capture"
	"github.com/itohio/jlsump/pkg/decimate"
	"github.com/itohio/jlsump/pkg/sample"
	"github.com/itohio/jlsump/pkg/source"
	"github.com/itohio/jlsump/pkg/sump"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial   SerialConfig    `yaml:"serial"`
	Session  SessionConfig   `yaml:"session"`
	Buffer   BufferConfig    `yaml:"buffer"`
	Capture  CaptureConfig   `yaml:"capture"`
	Channels []ChannelConfig `yaml:"channels"`
	Mock     MockConfig      `yaml:"mock"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Log      LogConfig       `yaml:"log"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// SessionConfig contains protocol session parameters of the device side.
type SessionConfig struct {
	Identity       string `yaml:"identity"`
	BaseClock      uint32 `yaml:"base_clock"`   // Hz, SUMP dividers refer to it
	DefaultRate    uint32 `yaml:"default_rate"` // Hz, used until a divider is set
	ADCRateLimit   uint32 `yaml:"adc_rate_limit"`
	MaxRate        uint32 `yaml:"max_rate"`        // Hz, 0 = no limit on SET_DIVIDER
	FaultThreshold int    `yaml:"fault_threshold"` // consecutive faulty samples before abort
}

// BufferConfig contains the capture memory layout.
type BufferConfig struct {
	DigitalBytes int `yaml:"digital_bytes"`
	AnalogBytes  int `yaml:"analog_bytes"`
}

// CaptureConfig contains the default capture request of the host tools.
type CaptureConfig struct {
	Rate    uint32 `yaml:"rate"`    // samples per second
	Samples int    `yaml:"samples"` // 0 = as many as fit
	Digital uint32 `yaml:"digital"` // GPIO line mask
	Analog  uint32 `yaml:"analog"`  // analog channel mask
}

// ChannelConfig names an analog channel and its front-end range.
type ChannelConfig struct {
	Name  string `yaml:"name"`
	Range string `yaml:"range"` // bipolar_8v or unipolar_5v
}

// MockConfig contains simulated device configuration.
type MockConfig struct {
	DigitalDivider uint32       `yaml:"digital_divider"` // GPIO counter advances every n samples
	FaultEvery     uint32       `yaml:"fault_every"`     // every n-th analog read fails, 0 = never
	Realtime       bool         `yaml:"realtime"`        // pace samples at the requested rate
	Waves          []WaveConfig `yaml:"waves"`
}

// WaveConfig describes the simulated signal on one analog channel.
type WaveConfig struct {
	Offset    float64 `yaml:"offset"`    // raw code
	Amplitude float64 `yaml:"amplitude"` // raw code
	Period    float64 `yaml:"period"`    // samples per cycle, 0 = constant
}

// MetricsConfig contains the Prometheus endpoint configuration.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
	Path   string `yaml:"path"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	g := capture.DefaultGeometry()
	table := sample.DefaultTable()
	channels := make([]ChannelConfig, len(table))
	for i, c := range table {
		channels[i] = ChannelConfig{Name: c.Name, Range: c.Range.String()}
	}
	mock := source.DefaultMockOptions()
	waves := make([]WaveConfig, len(mock.Waves))
	for i, w := range mock.Waves {
		waves[i] = WaveConfig{Offset: w.Offset, Amplitude: w.Amplitude, Period: w.PeriodTicks}
	}

	return &Config{
		Serial: SerialConfig{
			Port:        "/dev/ttyACM0",
			BaudRate:    115200,
			ReadTimeout: 100 * time.Millisecond,
		},
		Session: SessionConfig{
			Identity:       "Jumperless LA v1",
			BaseClock:      100_000_000,
			DefaultRate:    100_000,
			ADCRateLimit:   decimate.DefaultADCRateLimit,
			FaultThreshold: source.DefaultFaultThreshold,
		},
		Buffer: BufferConfig{
			DigitalBytes: g.DigitalBytes,
			AnalogBytes:  g.AnalogBytes,
		},
		Capture: CaptureConfig{
			Rate:    100_000,
			Samples: 0,
			Digital: 0xFF,
			Analog:  0,
		},
		Channels: channels,
		Mock: MockConfig{
			DigitalDivider: mock.DigitalDivider,
			Waves:          waves,
		},
		Metrics: MetricsConfig{
			Listen: ":9120",
			Path:   "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// lists are replaced, not merged
	cfg.Channels = nil
	cfg.Mock.Waves = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", filename, err)
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}

	if c.Session.Identity == "" {
		c.Session.Identity = def.Session.Identity
	}
	if c.Session.BaseClock == 0 {
		c.Session.BaseClock = def.Session.BaseClock
	}
	if c.Session.DefaultRate == 0 {
		c.Session.DefaultRate = def.Session.DefaultRate
	}
	if c.Session.ADCRateLimit == 0 {
		c.Session.ADCRateLimit = def.Session.ADCRateLimit
	}
	if c.Session.FaultThreshold == 0 {
		c.Session.FaultThreshold = def.Session.FaultThreshold
	}

	if c.Buffer.DigitalBytes == 0 {
		c.Buffer.DigitalBytes = def.Buffer.DigitalBytes
	}
	if c.Buffer.AnalogBytes == 0 {
		c.Buffer.AnalogBytes = def.Buffer.AnalogBytes
	}

	if c.Capture.Rate == 0 {
		c.Capture.Rate = def.Capture.Rate
	}
	if c.Capture.Digital == 0 && c.Capture.Analog == 0 {
		c.Capture.Digital = def.Capture.Digital
	}

	if len(c.Channels) == 0 {
		c.Channels = def.Channels
	}

	if c.Mock.DigitalDivider == 0 {
		c.Mock.DigitalDivider = def.Mock.DigitalDivider
	}
	if len(c.Mock.Waves) == 0 {
		c.Mock.Waves = def.Mock.Waves
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate checks the values Default cannot fill in.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Geometry().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("buffer: %w", err))
	}
	if _, err := c.Table(); err != nil {
		errs = append(errs, fmt.Errorf("channels: %w", err))
	}
	if _, err := c.CaptureChannels(); err != nil {
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}
	if c.Session.MaxRate > 0 && c.Session.DefaultRate > c.Session.MaxRate {
		errs = append(errs, fmt.Errorf("session: default rate %d above max rate %d", c.Session.DefaultRate, c.Session.MaxRate))
	}
	if c.Capture.Samples < 0 {
		errs = append(errs, fmt.Errorf("capture: negative sample count %d", c.Capture.Samples))
	}
	if len(c.Mock.Waves) > sample.AnalogChannels {
		errs = append(errs, fmt.Errorf("mock: %d waves for %d channels", len(c.Mock.Waves), sample.AnalogChannels))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Geometry returns the capture memory layout.
func (c *Config) Geometry() capture.Geometry {
	return capture.Geometry{
		DigitalBytes: c.Buffer.DigitalBytes,
		AnalogBytes:  c.Buffer.AnalogBytes,
	}
}

// Table returns the analog channel table. Channels missing from the
// configuration keep their default name and range.
func (c *Config) Table() (sample.Table, error) {
	t := sample.DefaultTable()
	if len(c.Channels) > sample.AnalogChannels {
		return t, fmt.Errorf("%d channels configured, at most %d", len(c.Channels), sample.AnalogChannels)
	}
	for i, ch := range c.Channels {
		r, err := sample.ParseRange(ch.Range)
		if err != nil {
			return t, fmt.Errorf("channel %d: %w", i, err)
		}
		if ch.Name != "" {
			t[i].Name = ch.Name
		}
		t[i].Range = r
	}
	return t, nil
}

// CaptureChannels returns the channel configuration of the default capture.
func (c *Config) CaptureChannels() (sample.Channels, error) {
	return sample.FromMasks(c.Capture.Digital, c.Capture.Analog)
}

// MockOptions returns the simulated breadboard options.
func (c *Config) MockOptions() source.MockOptions {
	opts := source.MockOptions{
		DigitalDivider: c.Mock.DigitalDivider,
		FaultEvery:     c.Mock.FaultEvery,
	}
	for i, w := range c.Mock.Waves {
		if i >= len(opts.Waves) {
			break
		}
		opts.Waves[i] = source.Wave{Offset: w.Offset, Amplitude: w.Amplitude, PeriodTicks: w.Period}
	}
	return opts
}

// SessionOptions returns the protocol session options of the device side.
func (c *Config) SessionOptions(obs sump.Observer) sump.Options {
	return sump.Options{
		Identity:       c.Session.Identity,
		BaseClock:      c.Session.BaseClock,
		DefaultRate:    c.Session.DefaultRate,
		RateLimit:      c.Session.ADCRateLimit,
		MaxRate:        c.Session.MaxRate,
		Geometry:       c.Geometry(),
		FaultThreshold: c.Session.FaultThreshold,
		Observer:       obs,
	}
}
