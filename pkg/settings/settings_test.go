package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/plantacq/plantacq/pkg/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViperStore_Missing(t *testing.T) {
	s := NewViperStore(filepath.Join(t.TempDir(), "usb_settings.yaml"))

	c, ok, err := s.Load()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, sample.DefaultConversion(), c)
}

func TestViperStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usb_settings.yaml")
	want := sample.ConversionState{CountsToVolts: 0.0889, Offset: -12.5}

	require.NoError(t, NewViperStore(path).Save(want))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "gain")
	assert.Contains(t, string(data), "zero level")

	got, ok, err := NewViperStore(path).Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, want.CountsToVolts, got.CountsToVolts, 1e-12)
	assert.InDelta(t, want.Offset, got.Offset, 1e-12)
}

func TestViperStore_Errors(t *testing.T) {
	dir := t.TempDir()

	s := NewViperStore(filepath.Join(dir, "usb_settings.yaml"))
	assert.Error(t, s.Save(sample.ConversionState{CountsToVolts: 0}))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("gain: [1, 2"), 0o644))
	_, _, err := NewViperStore(bad).Load()
	assert.Error(t, err)

	negative := filepath.Join(dir, "negative.yaml")
	require.NoError(t, os.WriteFile(negative, []byte("gain: -1\nzero level: 0\n"), 0o644))
	_, ok, err := NewViperStore(negative).Load()
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	var m MemoryStore

	c, ok, err := m.Load()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, sample.DefaultConversion(), c)

	want := sample.ConversionState{CountsToVolts: 0.1, Offset: 3}
	require.NoError(t, m.Save(want))
	assert.Error(t, m.Save(sample.ConversionState{}))

	c, ok, err = m.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, c)
	assert.Equal(t, 1, m.Saves())
}
