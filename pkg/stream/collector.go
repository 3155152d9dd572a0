package stream

import (
	"sync/atomic"

	"github.com/plantacq/plantacq/pkg/daq"
	"github.com/rs/zerolog/log"
)

// DataLink is the part of the device link used by ChannelCollector.
type DataLink interface {
	Send(cmd daq.Command) error
	ReadSamples(packetSize int) ([]int16, error)
	IsConnected() bool
}

// ChannelBuffer is one channel export with the sentinel removed.
type ChannelBuffer struct {
	Channel int
	Samples []int16
}

// CollectorConfig sizes the per-channel export reads.
type CollectorConfig struct {
	Channels          int
	PacketSize        int // Bytes per data-endpoint read
	PacketsPerChannel int // Packet budget per export
}

// ChannelCollector exports each ready channel from the device and queues the
// assembled buffer for the consumer. It tracks the expected round-robin
// order; a mismatch is logged and acquisition continues.
type ChannelCollector struct {
	*lifecycle

	cfg  CollectorConfig
	link DataLink

	ready       *Queue[int]
	readyEvent  *Event
	samples     *Queue[ChannelBuffer]
	packetReady *Event

	expected   atomic.Int64
	collected  atomic.Int64
	dropped    atomic.Int64
	mismatches atomic.Int64
}

// NewChannelCollector creates a collector. Ready channels come from ready/readyEvent,
// finished buffers go to samples and raise packetReady.
func NewChannelCollector(cfg CollectorConfig, link DataLink, ready *Queue[int], readyEvent *Event,
	samples *Queue[ChannelBuffer], packetReady *Event) *ChannelCollector {
	if cfg.Channels < 1 {
		cfg.Channels = 1
	}
	return &ChannelCollector{
		lifecycle:   newLifecycle(),
		cfg:         cfg,
		link:        link,
		ready:       ready,
		readyEvent:  readyEvent,
		samples:     samples,
		packetReady: packetReady,
	}
}

// Run collects channels until a stop is requested, then tells the device to stop.
func (c *ChannelCollector) Run() {
	defer c.terminate()

	for {
		select {
		case <-c.readyEvent.C():
		case <-c.stop:
			c.sendStop()
			return
		}

		ch, ok := c.ready.Pop()
		if !ok {
			log.Debug().Msg("collector: ready event without a queued channel")
			continue
		}
		if backlog := c.ready.Len(); backlog > 0 {
			log.Debug().Int("backlog", backlog).Msg("collector: channels waiting")
			c.readyEvent.Set()
		}

		c.checkOrder(ch)

		if c.stopRequested() {
			c.sendStop()
			return
		}

		if err := c.link.Send(daq.ExportChannel(ch)); err != nil {
			log.Warn().Err(err).Int("channel", ch).Msg("collector: export request failed")
			continue
		}
		c.collect(ch)
	}
}

// checkOrder compares ch with the expected channel and advances the expectation.
func (c *ChannelCollector) checkOrder(ch int) {
	expected := int(c.expected.Load())
	if ch != expected {
		c.mismatches.Add(1)
		log.Warn().Int("channel", ch).Int("expected", expected).Msg("collector: channel order mismatch")
	}
	c.expected.Store(int64((expected + 1) % c.cfg.Channels))
}

// collect drains packets until the sentinel or the packet budget. A failed or
// empty packet drops the whole buffer.
func (c *ChannelCollector) collect(ch int) {
	buf := make([]int16, 0, c.cfg.PacketsPerChannel*c.cfg.PacketSize/2)

	for range c.cfg.PacketsPerChannel {
		words, err := c.link.ReadSamples(c.cfg.PacketSize)
		if err != nil || len(words) == 0 {
			c.dropped.Add(1)
			log.Warn().Err(err).Int("channel", ch).Int("samples", len(buf)).Msg("collector: export aborted, dropping buffer")
			return
		}

		buf = append(buf, words...)
		if buf[len(buf)-1] == daq.Sentinel {
			buf = buf[:len(buf)-1]
			break
		}
	}

	c.samples.Push(ChannelBuffer{Channel: ch, Samples: buf})
	c.collected.Add(1)
	c.packetReady.Set()
}

func (c *ChannelCollector) sendStop() {
	if err := c.link.Send(daq.Stop); err != nil {
		log.Warn().Err(err).Msg("collector: stop command failed")
	}
}

// Stop asks the collector to finish. A pending wait for a ready channel is released.
func (c *ChannelCollector) Stop() {
	c.requestStop()
}

// Done is closed once the collector has terminated.
func (c *ChannelCollector) Done() <-chan struct{} {
	return c.done
}

// Expected returns the next channel the collector expects.
func (c *ChannelCollector) Expected() int {
	return int(c.expected.Load())
}

// Collected returns the number of buffers queued.
func (c *ChannelCollector) Collected() int64 {
	return c.collected.Load()
}

// Dropped returns the number of buffers lost to failed reads.
func (c *ChannelCollector) Dropped() int64 {
	return c.dropped.Load()
}

// Mismatches returns the number of out-of-order channel signals.
func (c *ChannelCollector) Mismatches() int64 {
	return c.mismatches.Load()
}
