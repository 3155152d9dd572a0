// Package calibrate derives the counts-to-volts conversion from the device's
// built-in square wave reference.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"github.com/plantacq/plantacq/pkg/config"
	"github.com/plantacq/plantacq/pkg/daq"
	"github.com/plantacq/plantacq/pkg/sample"
	"github.com/plantacq/plantacq/pkg/settings"
	"github.com/plantacq/plantacq/pkg/stream"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrOutOfRange means the measured amplitude missed the reference by more
	// than the tolerance. The Result is still valid.
	ErrOutOfRange = errors.New("calibration out of range")
	// ErrNoSignal means the data did not contain two distinct levels.
	ErrNoSignal = errors.New("no calibration signal")
)

// Result describes one calibration.
type Result struct {
	Session    string
	Samples    int
	UpperMean  float64
	LowerMean  float64
	Separation float64
	Passed     bool
	Previous   sample.ConversionState
	Conversion sample.ConversionState // Proposed replacement for Previous
}

// Process splits data around its mean into the high and low levels of the
// reference wave and scales the conversion so that their separation equals
// cfg.Range. If the uncorrected separation is off by cfg.Tolerance or more
// the result is returned together with ErrOutOfRange.
func Process(data []float32, current sample.ConversionState, cfg config.CalibrationConfig) (Result, error) {
	res := Result{Samples: len(data), Previous: current}
	if len(data) == 0 {
		return res, fmt.Errorf("%w: no data", ErrNoSignal)
	}

	x := make([]float64, len(data))
	for i, v := range data {
		x[i] = float64(v)
	}
	mean := stat.Mean(x, nil)

	var upper, lower []float64
	for _, v := range x {
		switch {
		case v > mean:
			upper = append(upper, v)
		case v < mean:
			lower = append(lower, v)
		}
	}
	if len(upper) == 0 || len(lower) == 0 {
		return res, fmt.Errorf("%w: flat signal at %.3f", ErrNoSignal, mean)
	}

	res.UpperMean = stat.Mean(upper, nil)
	res.LowerMean = stat.Mean(lower, nil)
	res.Separation = res.UpperMean - res.LowerMean
	res.Passed = math32.Abs(float32(res.Separation-cfg.Range)) < float32(cfg.Tolerance)
	res.Conversion = sample.ConversionState{
		CountsToVolts: current.CountsToVolts / (res.Separation / cfg.Range),
		Offset:        current.Offset - res.LowerMean,
	}

	if !res.Passed {
		return res, fmt.Errorf("%w: measured %.3f, expected %.3f±%.3f", ErrOutOfRange, res.Separation, cfg.Range, cfg.Tolerance)
	}
	return res, nil
}

// Acquirer runs the acquisition used for calibration. *stream.Controller implements it.
type Acquirer interface {
	StartReading() error
	StopReading() error
	Send(cmd daq.Command) error
	Clear()
	Buffer() *sample.Buffer
	Session() string
}

// Calibrator runs a timed calibration acquisition.
type Calibrator struct {
	cfg   config.CalibrationConfig
	acq   Acquirer
	store settings.Store
}

// New creates a calibrator. store may be nil, in which case Commit only
// updates the sample buffer.
func New(cfg config.CalibrationConfig, acq Acquirer, store settings.Store) *Calibrator {
	return &Calibrator{cfg: cfg, acq: acq, store: store}
}

// Run clears the buffer, streams the reference wave for the calibration
// window and processes channel 0. The leading settle period is discarded.
// Run does not apply the result; see Commit.
func (c *Calibrator) Run(ctx context.Context) (Result, error) {
	buf := c.acq.Buffer()

	c.acq.Clear()
	if err := c.acq.StartReading(); err != nil {
		return Result{}, err
	}
	if err := c.acq.Send(daq.Calibrate); err != nil {
		c.stop()
		return Result{}, fmt.Errorf("failed to start calibration: %w", err)
	}
	log.Info().Str("session", c.acq.Session()).Dur("window", c.cfg.Window).Msg("calibration started")

	waitErr := wait(ctx, c.cfg.Window)
	c.stop()
	if waitErr != nil {
		return Result{}, waitErr
	}
	if err := wait(ctx, c.cfg.FinishDelay); err != nil {
		return Result{}, err
	}

	data := buf.Channel(0)
	settle := int(c.cfg.Settle.Seconds() * buf.DisplayRate())
	if settle >= len(data) {
		return Result{Session: c.acq.Session()}, fmt.Errorf("%w: %d points collected, %d discarded for settling", ErrNoSignal, len(data), settle)
	}

	res, err := Process(data[settle:], buf.Conversion(), c.cfg)
	res.Session = c.acq.Session()

	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("session", res.Session).
		Float64("upper", res.UpperMean).
		Float64("lower", res.LowerMean).
		Float64("separation", res.Separation).
		Float64("gain", res.Conversion.CountsToVolts).
		Bool("passed", res.Passed).
		Msg("calibration finished")
	return res, err
}

// Commit applies the proposed conversion to the sample buffer and persists it.
func (c *Calibrator) Commit(res Result) error {
	if err := c.acq.Buffer().SetConversion(res.Conversion); err != nil {
		return err
	}
	if c.store == nil {
		return nil
	}
	return c.store.Save(res.Conversion)
}

func (c *Calibrator) stop() {
	if err := c.acq.StopReading(); err != nil && !errors.Is(err, stream.ErrNotRunning) {
		log.Warn().Err(err).Msg("failed to stop calibration acquisition")
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
