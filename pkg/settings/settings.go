// Package settings persists the counts-to-volts conversion between runs.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/plantacq/plantacq/pkg/sample"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Keys of the settings file.
const (
	KeyGain      = "gain"
	KeyZeroLevel = "zero level"
)

// Store loads and saves the conversion state.
type Store interface {
	// Load returns the stored conversion. ok is false when nothing was stored yet
	// and the default conversion is returned.
	Load() (c sample.ConversionState, ok bool, err error)
	Save(c sample.ConversionState) error
}

var (
	_ Store = (*ViperStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// ViperStore keeps the settings in a YAML file.
type ViperStore struct {
	path string

	mu sync.Mutex
	v  *viper.Viper
}

// NewViperStore creates a store backed by the file at path. The file is
// not touched until Load or Save.
func NewViperStore(path string) *ViperStore {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault(KeyGain, sample.DefaultCountsToVolts)
	v.SetDefault(KeyZeroLevel, 0.0)
	return &ViperStore{path: path, v: v}
}

// Load reads the settings file.
func (s *ViperStore) Load() (sample.ConversionState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound) {
			log.Warn().Str("path", s.path).Msg("no stored calibration, device needs calibrating")
			return sample.DefaultConversion(), false, nil
		}
		return sample.ConversionState{}, false, fmt.Errorf("failed to read settings: %w", err)
	}

	c := sample.ConversionState{
		CountsToVolts: s.v.GetFloat64(KeyGain),
		Offset:        s.v.GetFloat64(KeyZeroLevel),
	}
	if err := c.Validate(); err != nil {
		return sample.ConversionState{}, false, fmt.Errorf("invalid settings in %s: %w", s.path, err)
	}

	log.Info().Float64(KeyGain, c.CountsToVolts).Float64("zero_level", c.Offset).Msg("loaded calibration")
	return c, true, nil
}

// Save writes the settings file.
func (s *ViperStore) Save(c sample.ConversionState) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(KeyGain, c.CountsToVolts)
	s.v.Set(KeyZeroLevel, c.Offset)
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// MemoryStore keeps the settings in memory.
type MemoryStore struct {
	mu    sync.Mutex
	c     sample.ConversionState
	saved bool
	saves int
}

// Load returns the last saved conversion.
func (m *MemoryStore) Load() (sample.ConversionState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return sample.DefaultConversion(), false, nil
	}
	return m.c, true, nil
}

// Save records c.
func (m *MemoryStore) Save(c sample.ConversionState) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = c
	m.saved = true
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
