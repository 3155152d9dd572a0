package calibrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/plantacq/plantacq/pkg/config"
	"github.com/plantacq/plantacq/pkg/daq"
	"github.com/plantacq/plantacq/pkg/sample"
	"github.com/plantacq/plantacq/pkg/settings"
	"github.com/plantacq/plantacq/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(lo, hi float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		if (i/25)%2 == 0 {
			out[i] = hi
		} else {
			out[i] = lo
		}
	}
	return out
}

func TestProcess(t *testing.T) {
	cfg := config.Default().Calibration
	current := sample.DefaultConversion()

	tests := []struct {
		name       string
		lo, hi     float32
		passed     bool
		separation float64
		gain       float64
	}{
		{"exact reference", 0, 80, true, 80, 0.125},
		{"inside tolerance", 10, 90.4, true, 80.4, 0.125 / (80.4 / 80)},
		{"tolerance edge is a failure", 0, 80.5, false, 80.5, 0.125 / (80.5 / 80)},
		{"uncalibrated board", 12.5, 125, false, 112.5, 0.125 / (112.5 / 80)},
		{"low gain", 20, 60, false, 40, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Process(square(tt.lo, tt.hi, 500), current, cfg)
			if tt.passed {
				require.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrOutOfRange))
			}

			assert.Equal(t, tt.passed, res.Passed)
			assert.Equal(t, 500, res.Samples)
			assert.InDelta(t, tt.hi, res.UpperMean, 1e-4)
			assert.InDelta(t, tt.lo, res.LowerMean, 1e-4)
			assert.InDelta(t, tt.separation, res.Separation, 1e-4)
			assert.InDelta(t, tt.gain, res.Conversion.CountsToVolts, 1e-6)
			assert.InDelta(t, -float64(tt.lo), res.Conversion.Offset, 1e-4)
			assert.Equal(t, current, res.Previous)
		})
	}
}

func TestProcess_KeepsOffsetHistory(t *testing.T) {
	cfg := config.Default().Calibration
	current := sample.ConversionState{CountsToVolts: 0.1, Offset: 5}

	res, err := Process(square(5, 85, 100), current, cfg)
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Conversion.Offset, 1e-6)
}

func TestProcess_NoSignal(t *testing.T) {
	cfg := config.Default().Calibration

	_, err := Process(nil, sample.DefaultConversion(), cfg)
	assert.True(t, errors.Is(err, ErrNoSignal))

	flat := make([]float32, 100)
	for i := range flat {
		flat[i] = 42
	}
	_, err = Process(flat, sample.DefaultConversion(), cfg)
	assert.True(t, errors.Is(err, ErrNoSignal))
}

type rig struct {
	ctrl  *stream.Controller
	mock  *daq.Mock
	store *settings.MemoryStore
	cal   *Calibrator
}

func newRig(t *testing.T, low, high float64) *rig {
	t.Helper()

	cfg := config.Default()
	cfg.Stream.MaxReadingTime = 20
	cfg.Stream.RefreshInterval = 20 * time.Millisecond
	cfg.Stream.ShutdownGrace = 500 * time.Millisecond
	cfg.Calibration.Window = 600 * time.Millisecond
	cfg.Calibration.Settle = 100 * time.Millisecond
	cfg.Calibration.FinishDelay = 20 * time.Millisecond
	cfg.Mock.BlockInterval = 10 * time.Millisecond
	cfg.Mock.InfoTimeout = 20 * time.Millisecond
	cfg.Mock.BlockSamples = 100
	cfg.Mock.Low = low
	cfg.Mock.High = high

	mock := daq.NewMock(&cfg.Mock, cfg.Stream, daq.DefaultEndpoints())
	t.Cleanup(func() { mock.Close() })

	buf, err := sample.NewBuffer(cfg.Stream, sample.DefaultConversion())
	require.NoError(t, err)

	ctrl := stream.NewController(cfg.Stream, daq.NewLink(mock, daq.DefaultEndpoints()), buf)
	store := &settings.MemoryStore{}
	return &rig{ctrl: ctrl, mock: mock, store: store, cal: New(cfg.Calibration, ctrl, store)}
}

func TestCalibrator_Run(t *testing.T) {
	// 640 counts at 0.125 mV per count is exactly the 80 mV reference.
	r := newRig(t, 100, 740)

	res, err := r.cal.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.NotEmpty(t, res.Session)
	assert.Equal(t, r.ctrl.Session(), res.Session)
	assert.InDelta(t, 92.5, res.UpperMean, 1e-3)
	assert.InDelta(t, 12.5, res.LowerMean, 1e-3)
	assert.InDelta(t, 0.125, res.Conversion.CountsToVolts, 1e-6)
	assert.InDelta(t, -12.5, res.Conversion.Offset, 1e-3)

	assert.False(t, r.ctrl.IsRunning())
	assert.False(t, r.mock.Calibrating())

	// Nothing is applied until Commit.
	assert.Equal(t, sample.DefaultConversion(), r.ctrl.Buffer().Conversion())
	assert.Equal(t, 0, r.store.Saves())

	require.NoError(t, r.cal.Commit(res))
	assert.Equal(t, res.Conversion, r.ctrl.Buffer().Conversion())
	stored, ok, err := r.store.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, res.Conversion, stored)
}

func TestCalibrator_RunOutOfRange(t *testing.T) {
	r := newRig(t, 100, 1000)

	res, err := r.cal.Run(context.Background())
	assert.True(t, errors.Is(err, ErrOutOfRange))
	assert.False(t, res.Passed)
	assert.InDelta(t, 112.5, res.Separation, 1e-3)
	assert.InDelta(t, 0.125*80/112.5, res.Conversion.CountsToVolts, 1e-6)
	assert.False(t, r.ctrl.IsRunning())
}

func TestCalibrator_RunCancelled(t *testing.T) {
	r := newRig(t, 100, 740)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.cal.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, r.ctrl.IsRunning())
}

func TestCalibrator_RunWithoutDevice(t *testing.T) {
	cfg := config.Default()
	buf, err := sample.NewBuffer(cfg.Stream, sample.DefaultConversion())
	require.NoError(t, err)
	ctrl := stream.NewController(cfg.Stream, daq.NewLink(nil, daq.DefaultEndpoints()), buf)

	_, err = New(cfg.Calibration, ctrl, nil).Run(context.Background())
	assert.True(t, errors.Is(err, daq.ErrNotConnected))
}

func TestCalibrator_CommitRejectsInvalid(t *testing.T) {
	r := newRig(t, 100, 740)
	assert.Error(t, r.cal.Commit(Result{}))
	assert.Equal(t, 0, r.store.Saves())
}
