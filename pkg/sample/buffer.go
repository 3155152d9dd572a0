package sample

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chewxy/math32"
	"github.com/plantacq/plantacq/pkg/config"
	"github.com/rs/zerolog/log"
)

// ErrRatio is returned when the display rate does not evenly divide the sample rate.
var ErrRatio = errors.New("invalid sampling ratio")

// Frame is a snapshot of display data handed to a Display.
type Frame struct {
	Time    []float32
	Voltage [][]float32 // Per channel, same length as Time
	EndTime float32
}

// Display receives a frame whenever the buffer has new data or was cleared.
type Display interface {
	Show(f Frame)
}

// DisplayFunc adapts a function to the Display interface.
type DisplayFunc func(f Frame)

// Show calls f.
func (fn DisplayFunc) Show(f Frame) { fn(f) }

// Buffer downsamples raw interleaved samples into fixed-capacity per-channel
// voltage series for display.
//
// Every sampling_ratio-th sample group is kept. The raw pointer carries over
// between Extend calls so the decimation phase continues across chunk
// boundaries as if the input were one continuous stream.
type Buffer struct {
	ratio    int
	rate     float64
	capacity int
	t        []float32 // Time axis, immutable after construction

	mu       sync.RWMutex
	channels int
	conv     ConversionState
	rawPtr   int
	dispPtr  int
	// A sample group cut by a chunk boundary: channels from pendCh on are
	// still owed to display slot pendSlot, starting at raw index pendStart.
	pendCh    int
	pendSlot  int
	pendStart int
	endTime  float32
	out      [][]float32
	full     bool
	display  Display
}

// NewBuffer allocates a buffer sized for cfg.MaxReadingTime seconds of display data.
func NewBuffer(cfg config.StreamConfig, conv ConversionState) (*Buffer, error) {
	ratio, err := cfg.SamplingRatio()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRatio, err)
	}
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	capacity := cfg.Capacity()
	if capacity <= 0 {
		return nil, fmt.Errorf("display capacity must be positive, got %d", capacity)
	}
	channels := cfg.Channels
	if channels < 1 || channels > config.MaxChannels {
		channels = 1
	}

	t := make([]float32, capacity)
	for i := range t {
		t[i] = float32(float64(i) / cfg.DisplayRate)
	}

	return &Buffer{
		ratio:    ratio,
		rate:     cfg.DisplayRate,
		capacity: capacity,
		t:        t,
		channels: channels,
		conv:     conv,
		out:      newOutputs(channels, capacity),
	}, nil
}

func newOutputs(channels, capacity int) [][]float32 {
	out := make([][]float32, channels)
	for i := range out {
		out[i] = make([]float32, capacity)
	}
	return out
}

// Extend downsamples a chunk of raw samples into the display arrays and
// returns the number of display points written. Once the buffer is full the
// remaining samples are dropped until Clear.
func (b *Buffer) Extend(samples []int16) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(samples)
	stride := b.ratio*b.channels - b.channels
	written := 0

	if b.pendCh > 0 {
		b.finishGroup(samples)
	}

	for b.rawPtr < n {
		if b.dispPtr >= b.capacity {
			if !b.full {
				b.full = true
				log.Warn().Int("capacity", b.capacity).Msg("display buffer full, dropping samples until cleared")
			}
			b.rawPtr = n
			break
		}
		start := b.rawPtr
		for i, ch := range b.out {
			if b.rawPtr < n {
				ch[b.dispPtr] = b.conv.Volts(samples[b.rawPtr])
			} else if b.pendCh == 0 {
				b.pendCh, b.pendSlot, b.pendStart = i, b.dispPtr, start
			}
			b.rawPtr++
		}
		b.rawPtr += stride
		b.dispPtr++
		written++
	}
	b.rawPtr -= n
	if b.pendCh > 0 {
		b.pendStart -= n
	}

	if b.dispPtr > 0 {
		b.endTime = b.t[b.dispPtr-1]
	}
	return written
}

// finishGroup writes the channels of a cut group whose samples open this chunk.
func (b *Buffer) finishGroup(samples []int16) {
	for i := b.pendCh; i < len(b.out); i++ {
		idx := b.pendStart + i
		if idx >= len(samples) {
			b.pendCh = i
			return
		}
		b.out[i][b.pendSlot] = b.conv.Volts(samples[idx])
	}
	b.pendCh = 0
}

// Clear zero-fills the display arrays, resets both pointers and refreshes the display.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.resetLocked()
	d, f := b.display, b.frameLocked(0, b.dispPtr)
	b.mu.Unlock()

	if d != nil {
		d.Show(f)
	}
}

func (b *Buffer) resetLocked() {
	for _, ch := range b.out {
		clear(ch)
	}
	b.rawPtr = 0
	b.dispPtr = 0
	b.pendCh = 0
	b.endTime = 0
	b.full = false
}

// SetNumberChannels reallocates the display arrays for n channels and resets the buffer.
func (b *Buffer) SetNumberChannels(n int) error {
	if n < 1 || n > config.MaxChannels {
		return fmt.Errorf("channel count must be between 1 and %d, got %d", config.MaxChannels, n)
	}

	b.mu.Lock()
	b.channels = n
	b.out = newOutputs(n, b.capacity)
	b.resetLocked()
	d, f := b.display, b.frameLocked(0, 0)
	b.mu.Unlock()

	if d != nil {
		d.Show(f)
	}
	return nil
}

// SetDisplay attaches the display collaborator.
func (b *Buffer) SetDisplay(d Display) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.display = d
}

// DisplayData hands the filled region to the display.
func (b *Buffer) DisplayData() {
	b.mu.RLock()
	d, f := b.display, b.frameLocked(0, b.dispPtr)
	b.mu.RUnlock()

	if d != nil {
		d.Show(f)
	}
}

// frameLocked copies the display data in [from, to).
func (b *Buffer) frameLocked(from, to int) Frame {
	f := Frame{
		Time:    append([]float32(nil), b.t[from:to]...),
		Voltage: make([][]float32, len(b.out)),
		EndTime: b.endTime,
	}
	for i, ch := range b.out {
		f.Voltage[i] = append([]float32(nil), ch[from:to]...)
	}
	return f
}

// Window returns the last seconds of display data ending at EndTime,
// decimated to at most maxPoints per series.
func (b *Buffer) Window(seconds float64, maxPoints int) Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()

	from := max(b.dispPtr-int(seconds*b.rate), 0)
	f := Frame{
		Time:    Decimate(nil, b.t[from:b.dispPtr], maxPoints),
		Voltage: make([][]float32, len(b.out)),
		EndTime: b.endTime,
	}
	for i, ch := range b.out {
		f.Voltage[i] = Decimate(nil, ch[from:b.dispPtr], maxPoints)
	}
	return f
}

// Range returns the minimum and maximum voltage over the filled region of
// all channels. ok is false when the buffer is empty.
func (b *Buffer) Range() (lo, hi float32, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.dispPtr == 0 {
		return 0, 0, false
	}
	lo, hi = math32.Inf(1), math32.Inf(-1)
	for _, ch := range b.out {
		for _, v := range ch[:b.dispPtr] {
			lo = math32.Min(lo, v)
			hi = math32.Max(hi, v)
		}
	}
	return lo, hi, true
}

// Channel returns a copy of the filled region of one channel.
func (b *Buffer) Channel(ch int) []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if ch < 0 || ch >= len(b.out) {
		return nil
	}
	return append([]float32(nil), b.out[ch][:b.dispPtr]...)
}

// TimeSeries returns the precomputed time axis. Callers must not modify it.
func (b *Buffer) TimeSeries() []float32 {
	return b.t
}

// VoltageData returns a copy of the full per-channel display arrays.
func (b *Buffer) VoltageData() [][]float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([][]float32, len(b.out))
	for i, ch := range b.out {
		out[i] = append([]float32(nil), ch...)
	}
	return out
}

// SetConversion replaces the counts-to-volts conversion used by later Extend calls.
func (b *Buffer) SetConversion(c ConversionState) error {
	if err := c.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conv = c
	return nil
}

// Conversion returns the current conversion.
func (b *Buffer) Conversion() ConversionState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conv
}

// EndTime returns the time of the last displayed point.
func (b *Buffer) EndTime() float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.endTime
}

// DisplayPointer returns the number of display points written since the last Clear.
func (b *Buffer) DisplayPointer() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dispPtr
}

// Channels returns the configured channel count.
func (b *Buffer) Channels() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.channels
}

// Capacity returns the number of display points per channel.
func (b *Buffer) Capacity() int { return b.capacity }

// Ratio returns the sampling ratio.
func (b *Buffer) Ratio() int { return b.ratio }

// DisplayRate returns the display sample rate in Hz.
func (b *Buffer) DisplayRate() float64 { return b.rate }
