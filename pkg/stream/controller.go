package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/plantacq/plantacq/pkg/config"
	"github.com/plantacq/plantacq/pkg/daq"
	"github.com/plantacq/plantacq/pkg/sample"
	"github.com/rs/zerolog/log"
)

var (
	ErrRunning    = errors.New("acquisition is running")
	ErrNotRunning = errors.New("acquisition is not running")
)

// OffsetStep is the resolution of the offset DAC in millivolts.
const OffsetStep = 4

// MaxOffset is the highest offset in millivolts the host may request.
const MaxOffset = 1024

// Link is the device link used by the controller and its workers.
type Link interface {
	InfoReader
	DataLink
}

// Controller owns the acquisition session: it starts and stops the info poller
// and the channel collector, and drains collected buffers into the sample
// buffer on a fixed cadence.
type Controller struct {
	cfg    config.StreamConfig
	link   Link
	buffer *sample.Buffer

	samples     *Queue[ChannelBuffer]
	packetReady *Event

	mu        sync.Mutex
	running   bool
	channels  int
	session   string
	ready     *Queue[int]
	poller    *InfoPoller
	collector *ChannelCollector
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// NewController creates a stopped controller.
func NewController(cfg config.StreamConfig, link Link, buffer *sample.Buffer) *Controller {
	return &Controller{
		cfg:         cfg,
		link:        link,
		buffer:      buffer,
		samples:     NewQueue[ChannelBuffer](),
		packetReady: NewEvent(),
		channels:    buffer.Channels(),
	}
}

// StartReading tells the device to stream and starts both workers and the drain loop.
func (c *Controller) StartReading() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrRunning
	}

	if stale := c.samples.Drain(); len(stale) > 0 {
		log.Debug().Int("buffers", len(stale)).Msg("discarding buffers from the previous session")
	}
	c.packetReady.Clear()

	if err := c.link.Send(daq.Start); err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}

	c.ready = NewQueue[int]()
	readyEvent := NewEvent()
	c.poller = NewInfoPoller(c.link, c.ready, readyEvent)
	c.collector = NewChannelCollector(CollectorConfig{
		Channels:          c.channels,
		PacketSize:        c.cfg.PacketSize,
		PacketsPerChannel: c.cfg.PacketsPerChannel,
	}, c.link, c.ready, readyEvent, c.samples, c.packetReady)

	go c.collector.Run()
	go c.poller.Run()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.loopDone = make(chan struct{})
	go c.drainLoop(ctx, c.loopDone)

	c.session = uuid.NewString()
	c.running = true
	log.Info().Str("session", c.session).Int("channels", c.channels).Msg("acquisition started")
	return nil
}

func (c *Controller) drainLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		c.DrainTick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.RefreshInterval):
		}
	}
}

// DrainTick waits up to one refresh interval for collected data, then moves
// every queued buffer into the sample buffer. The display is refreshed when
// at least one buffer was processed. It returns the number of buffers processed.
func (c *Controller) DrainTick(ctx context.Context) int {
	c.packetReady.WaitTimeout(ctx, c.cfg.RefreshInterval)

	bufs := c.samples.Drain()
	for _, b := range bufs {
		c.buffer.Extend(b.Samples)
	}
	if len(bufs) > 0 {
		c.buffer.DisplayData()
	}
	return len(bufs)
}

// StopReading asks both workers to stop and waits up to the shutdown grace
// period for them. A worker blocked on a device read finishes on its own.
func (c *Controller) StopReading() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.running = false
	poller, collector, ready := c.poller, c.collector, c.ready
	cancel, loopDone, session := c.cancel, c.loopDone, c.session
	c.mu.Unlock()

	collector.Stop()
	poller.Stop()
	cancel()
	<-loopDone

	grace := time.NewTimer(c.cfg.ShutdownGrace)
	defer grace.Stop()

	workers := []struct {
		name string
		done <-chan struct{}
	}{
		{"collector", collector.Done()},
		{"info poller", poller.Done()},
	}
	expired := false
	for _, w := range workers {
		if !expired {
			select {
			case <-w.done:
				continue
			case <-grace.C:
				expired = true
			}
		}
		select {
		case <-w.done:
		default:
			log.Warn().Str("worker", w.name).Msg("worker still in flight after stop")
		}
	}

	if pending := ready.Drain(); len(pending) > 0 {
		log.Debug().Ints("channels", pending).Msg("discarding pending channel signals")
	}

	log.Info().
		Str("session", session).
		Int64("buffers", collector.Collected()).
		Int64("dropped", collector.Dropped()).
		Int64("mismatches", collector.Mismatches()).
		Msg("acquisition stopped")
	return nil
}

// IsRunning reports whether a session is active.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Session returns the id of the current or last session.
func (c *Controller) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SetChannelCount configures the device for n channels and resets the sample buffer.
func (c *Controller) SetChannelCount(n int) error {
	if n < 1 || n > config.MaxChannels {
		return fmt.Errorf("channel count must be between 1 and %d, got %d", config.MaxChannels, n)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrRunning
	}

	c.channels = n
	sendErr := c.link.Send(daq.SetChannels(n))
	if err := c.buffer.SetNumberChannels(n); err != nil {
		return err
	}
	if sendErr != nil {
		return fmt.Errorf("failed to set channel count: %w", sendErr)
	}
	return nil
}

// SetOffset sets the input offset in millivolts.
func (c *Controller) SetOffset(millivolts int) error {
	if millivolts < 0 || millivolts > MaxOffset {
		return fmt.Errorf("offset must be between 0 and %d mV, got %d", MaxOffset, millivolts)
	}
	return c.link.Send(daq.SetOffset(millivolts / OffsetStep))
}

// Send forwards a raw command to the device.
func (c *Controller) Send(cmd daq.Command) error {
	return c.link.Send(cmd)
}

// Clear resets the sample buffer and refreshes the display.
func (c *Controller) Clear() {
	c.buffer.Clear()
}

// Buffer returns the sample buffer fed by the controller.
func (c *Controller) Buffer() *sample.Buffer {
	return c.buffer
}

// Channels returns the configured channel count.
func (c *Controller) Channels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels
}
