package sample

import (
	"fmt"
)

// ADC constants of the acquisition board.
const (
	ADCResolution = 14     // bits
	FullScale     = 2048.0 // mV
	// DefaultCountsToVolts converts raw counts to millivolts before calibration.
	DefaultCountsToVolts = FullScale / (1 << ADCResolution)
)

// ConversionState converts raw ADC counts to voltage: counts*CountsToVolts + Offset.
type ConversionState struct {
	CountsToVolts float64
	Offset        float64
}

// DefaultConversion returns the uncalibrated conversion.
func DefaultConversion() ConversionState {
	return ConversionState{CountsToVolts: DefaultCountsToVolts}
}

// Validate checks that the scale factor is usable.
func (c ConversionState) Validate() error {
	if !(c.CountsToVolts > 0) {
		return fmt.Errorf("counts_to_volts must be positive, got %g", c.CountsToVolts)
	}
	return nil
}

// Volts converts one raw sample.
func (c ConversionState) Volts(counts int16) float32 {
	return float32(float64(counts)*c.CountsToVolts + c.Offset)
}
