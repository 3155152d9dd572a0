package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxChannels is the number of ADC inputs the device can multiplex.
const MaxChannels = 4

// Config represents the application configuration.
type Config struct {
	USB         USBConfig         `yaml:"usb"`
	Stream      StreamConfig      `yaml:"stream"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Settings    SettingsConfig    `yaml:"settings"`
	Log         LogConfig         `yaml:"log"`
	Mock        MockConfig        `yaml:"mock"`
}

// USBConfig contains the device identity and endpoint layout.
type USBConfig struct {
	VendorID     int           `yaml:"vendor_id"`
	ProductID    int           `yaml:"product_id"`
	OutEndpoint  int           `yaml:"out_endpoint"`
	InfoEndpoint int           `yaml:"info_endpoint"`
	DataEndpoint int           `yaml:"data_endpoint"`
	Timeout      time.Duration `yaml:"timeout"` // Device-side I/O timeout for a single transfer
}

// StreamConfig contains acquisition and display parameters.
type StreamConfig struct {
	SampleRate        float64       `yaml:"sample_rate"`         // Native ADC rate (Hz)
	DisplayRate       float64       `yaml:"display_rate"`        // Downsampled rate (Hz)
	MaxReadingTime    float64       `yaml:"max_reading_time"`    // Seconds of display data kept per session
	RefreshInterval   time.Duration `yaml:"refresh_interval"`    // Drain/redraw cadence
	PacketSize        int           `yaml:"packet_size"`         // Bytes per data-endpoint read
	PacketsPerChannel int           `yaml:"packets_per_channel"` // Packet budget per channel export
	Channels          int           `yaml:"channels"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`
}

// CalibrationConfig contains calibration parameters.
type CalibrationConfig struct {
	Range       float64       `yaml:"range"`     // Peak-to-peak amplitude of the reference signal (mV)
	Tolerance   float64       `yaml:"tolerance"` // Accepted deviation from Range (mV)
	Window      time.Duration `yaml:"window"`
	Settle      time.Duration `yaml:"settle"` // Leading data discarded while amplifiers settle
	FinishDelay time.Duration `yaml:"finish_delay"`
}

// SettingsConfig points at the persisted conversion settings.
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging parameters.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // Empty disables file logging
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
}

// MockConfig contains simulated device configuration.
type MockConfig struct {
	Waveform      string        `yaml:"waveform"`       // "sine" or "square"
	Baseline      float64       `yaml:"baseline"`       // Signal midpoint (counts)
	Amplitude     float64       `yaml:"amplitude"`      // Signal amplitude (counts)
	Frequency     float64       `yaml:"frequency"`      // Signal frequency (Hz)
	Low           float64       `yaml:"low"`            // Calibration square wave low level (counts)
	High          float64       `yaml:"high"`           // Calibration square wave high level (counts)
	BlockInterval time.Duration `yaml:"block_interval"` // Time the firmware needs to fill one channel buffer
	InfoTimeout   time.Duration `yaml:"info_timeout"`   // Info endpoint read timeout
	BlockSamples  int           `yaml:"block_samples"`  // Samples exported per channel buffer
	Identity      string        `yaml:"identity"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		USB: USBConfig{
			VendorID:     0x04B4,
			ProductID:    0x8051,
			OutEndpoint:  0x02,
			InfoEndpoint: 0x81,
			DataEndpoint: 0x83,
			Timeout:      time.Second,
		},
		Stream: StreamConfig{
			SampleRate:        5000,
			DisplayRate:       500,
			MaxReadingTime:    200,
			RefreshInterval:   200 * time.Millisecond,
			PacketSize:        64,
			PacketsPerChannel: 64,
			Channels:          1,
			ShutdownGrace:     100 * time.Millisecond,
		},
		Calibration: CalibrationConfig{
			Range:       80,
			Tolerance:   0.5,
			Window:      4 * time.Second,
			Settle:      500 * time.Millisecond,
			FinishDelay: 100 * time.Millisecond,
		},
		Settings: SettingsConfig{
			Path: "usb_settings.yaml",
		},
		Log: LogConfig{
			Level:      "info",
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 4,
			MaxAgeDays: 180,
			Compress:   true,
			Console:    true,
		},
		Mock: MockConfig{
			Waveform:      "sine",
			Baseline:      4000,
			Amplitude:     2000,
			Frequency:     2,
			Low:           100,
			High:          1000,
			BlockInterval: 100 * time.Millisecond,
			InfoTimeout:   250 * time.Millisecond,
			BlockSamples:  500,
			Identity:      "USB Test - Plant_Acq",
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

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
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

// Validate checks the relationships between stream parameters.
func (c *Config) Validate() error {
	s := c.Stream
	if s.SampleRate <= 0 || s.DisplayRate <= 0 {
		return fmt.Errorf("sample_rate and display_rate must be positive")
	}
	if _, err := s.SamplingRatio(); err != nil {
		return err
	}
	if s.Channels < 1 || s.Channels > MaxChannels {
		return fmt.Errorf("channels must be between 1 and %d, got %d", MaxChannels, s.Channels)
	}
	if s.PacketSize <= 0 || s.PacketSize%2 != 0 {
		return fmt.Errorf("packet_size must be a positive even number of bytes, got %d", s.PacketSize)
	}
	if s.PacketsPerChannel <= 0 {
		return fmt.Errorf("packets_per_channel must be positive, got %d", s.PacketsPerChannel)
	}
	if s.Capacity() <= 0 {
		return fmt.Errorf("max_reading_time must be positive")
	}
	if c.Calibration.Range <= 0 {
		return fmt.Errorf("calibration range must be positive")
	}
	return nil
}

// SamplingRatio returns sample_rate / display_rate, which must be a whole number.
func (s StreamConfig) SamplingRatio() (int, error) {
	ratio := int(s.SampleRate / s.DisplayRate)
	if ratio < 1 || float64(ratio)*s.DisplayRate != s.SampleRate {
		return 0, fmt.Errorf("display_rate %g does not evenly divide sample_rate %g", s.DisplayRate, s.SampleRate)
	}
	return ratio, nil
}

// Capacity returns the number of display points kept per channel.
func (s StreamConfig) Capacity() int {
	return int(s.MaxReadingTime * s.DisplayRate)
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.USB.VendorID == 0 {
		c.USB.VendorID = def.USB.VendorID
	}
	if c.USB.ProductID == 0 {
		c.USB.ProductID = def.USB.ProductID
	}
	if c.USB.OutEndpoint == 0 {
		c.USB.OutEndpoint = def.USB.OutEndpoint
	}
	if c.USB.InfoEndpoint == 0 {
		c.USB.InfoEndpoint = def.USB.InfoEndpoint
	}
	if c.USB.DataEndpoint == 0 {
		c.USB.DataEndpoint = def.USB.DataEndpoint
	}
	if c.USB.Timeout == 0 {
		c.USB.Timeout = def.USB.Timeout
	}

	if c.Stream.SampleRate == 0 {
		c.Stream.SampleRate = def.Stream.SampleRate
	}
	if c.Stream.DisplayRate == 0 {
		c.Stream.DisplayRate = def.Stream.DisplayRate
	}
	if c.Stream.MaxReadingTime == 0 {
		c.Stream.MaxReadingTime = def.Stream.MaxReadingTime
	}
	if c.Stream.RefreshInterval == 0 {
		c.Stream.RefreshInterval = def.Stream.RefreshInterval
	}
	if c.Stream.PacketSize == 0 {
		c.Stream.PacketSize = def.Stream.PacketSize
	}
	if c.Stream.PacketsPerChannel == 0 {
		c.Stream.PacketsPerChannel = def.Stream.PacketsPerChannel
	}
	if c.Stream.Channels == 0 {
		c.Stream.Channels = def.Stream.Channels
	}
	if c.Stream.ShutdownGrace == 0 {
		c.Stream.ShutdownGrace = def.Stream.ShutdownGrace
	}

	if c.Calibration.Range == 0 {
		c.Calibration.Range = def.Calibration.Range
	}
	if c.Calibration.Tolerance == 0 {
		c.Calibration.Tolerance = def.Calibration.Tolerance
	}
	if c.Calibration.Window == 0 {
		c.Calibration.Window = def.Calibration.Window
	}
	if c.Calibration.Settle == 0 {
		c.Calibration.Settle = def.Calibration.Settle
	}
	if c.Calibration.FinishDelay == 0 {
		c.Calibration.FinishDelay = def.Calibration.FinishDelay
	}

	if c.Settings.Path == "" {
		c.Settings.Path = def.Settings.Path
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = def.Log.MaxSizeMB
	}

	if c.Mock.Waveform == "" {
		c.Mock.Waveform = def.Mock.Waveform
	}
	if c.Mock.BlockInterval == 0 {
		c.Mock.BlockInterval = def.Mock.BlockInterval
	}
	if c.Mock.InfoTimeout == 0 {
		c.Mock.InfoTimeout = def.Mock.InfoTimeout
	}
	if c.Mock.BlockSamples == 0 {
		c.Mock.BlockSamples = def.Mock.BlockSamples
	}
	if c.Mock.Identity == "" {
		c.Mock.Identity = def.Mock.Identity
	}
}
