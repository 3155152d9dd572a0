package daq

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/plantacq/plantacq/pkg/config"
	"github.com/rs/zerolog/log"
)

// Mock simulates the acquisition firmware for testing and development.
// It honors the same command set as the device: the info endpoint reports
// "Done<c>" whenever a channel buffer is full, and an export command queues
// that buffer on the data endpoint as packets ending with Sentinel.
type Mock struct {
	cfg        *config.MockConfig
	endpoints  Endpoints
	sampleRate float64
	packetSize int

	mu          sync.Mutex
	closed      bool
	running     bool
	calibrating bool
	channels    int
	offset      int
	next        int     // Next channel the firmware fills
	sampleIndex []int64 // Per-channel sample counter
	blocks      map[int][]int16
	dataOut     [][]byte
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	info chan []byte
}

// NewMock creates a simulated device.
func NewMock(cfg *config.MockConfig, stream config.StreamConfig, endpoints Endpoints) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}
	if stream.SampleRate == 0 {
		stream = config.Default().Stream
	}

	return &Mock{
		cfg:         cfg,
		endpoints:   endpoints,
		sampleRate:  stream.SampleRate,
		packetSize:  stream.PacketSize,
		channels:    1,
		sampleIndex: make([]int64, config.MaxChannels),
		blocks:      make(map[int][]int16),
		info:        make(chan []byte, 64),
	}
}

// Write handles one firmware command.
func (m *Mock) Write(endpoint int, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, fmt.Errorf("mock device closed")
	}
	if endpoint != m.endpoints.Out {
		return 0, fmt.Errorf("endpoint 0x%02x is not an OUT endpoint", endpoint)
	}

	cmd, err := ParseCommand(data)
	if err != nil {
		// The firmware ignores unknown input.
		log.Debug().Err(err).Msg("mock: ignoring command")
		return len(data), nil
	}

	switch cmd.Op {
	case OpIdentify:
		reply := make([]byte, IdentifyReplySize)
		copy(reply, m.cfg.Identity)
		m.dataOut = append(m.dataOut, reply)
	case OpStart:
		m.startLocked()
	case OpStop:
		m.stopLocked()
	case OpSetChannels:
		if cmd.Arg >= 1 && cmd.Arg <= config.MaxChannels {
			m.channels = cmd.Arg
			m.next = 0
		}
	case OpExport:
		m.exportLocked(cmd.Arg)
	case OpSetOffset:
		m.offset = cmd.Arg
	case OpCalibrate:
		m.calibrating = true
	}
	return len(data), nil
}

// Read returns queued data or info messages, waiting up to the info timeout.
func (m *Mock) Read(endpoint int, n int) ([]byte, error) {
	switch endpoint {
	case m.endpoints.Info:
		select {
		case msg := <-m.info:
			if len(msg) > n {
				msg = msg[:n]
			}
			return msg, nil
		case <-time.After(m.cfg.InfoTimeout):
			m.mu.Lock()
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return nil, fmt.Errorf("mock device closed")
			}
			return nil, ErrTimeout
		}
	case m.endpoints.Data:
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, fmt.Errorf("mock device closed")
		}
		if len(m.dataOut) == 0 {
			return nil, ErrTimeout
		}
		pkt := m.dataOut[0]
		m.dataOut = m.dataOut[1:]
		if len(pkt) > n {
			m.dataOut = append([][]byte{pkt[n:]}, m.dataOut...)
			pkt = pkt[:n]
		}
		return pkt, nil
	default:
		return nil, fmt.Errorf("endpoint 0x%02x is not an IN endpoint", endpoint)
	}
}

// Close stops the simulated firmware.
func (m *Mock) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopLocked()
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

// IsRunning reports whether the firmware is streaming.
func (m *Mock) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Channels returns the channel count last set by the host.
func (m *Mock) Channels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels
}

// Offset returns the last offset DAC setting.
func (m *Mock) Offset() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// Calibrating reports whether the calibration waveform is selected.
func (m *Mock) Calibrating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calibrating
}

func (m *Mock) startLocked() {
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	m.next = 0
	m.blocks = make(map[int][]int16)
	m.dataOut = nil
	for len(m.info) > 0 {
		<-m.info
	}

	m.wg.Add(1)
	go m.generateBlocks(ctx)
}

func (m *Mock) stopLocked() {
	if !m.running {
		return
	}
	m.cancel()
	m.running = false
	m.calibrating = false
}

// generateBlocks fills one channel buffer per block interval, round robin.
func (m *Mock) generateBlocks(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.BlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			ch := m.next
			m.blocks[ch] = m.generateBlock(ch)
			m.next = (m.next + 1) % m.channels
			m.mu.Unlock()

			msg := []byte(fmt.Sprintf("Done%d", ch))
			select {
			case m.info <- msg:
			case <-ctx.Done():
				return
			default:
				log.Debug().Int("channel", ch).Msg("mock: info queue full, dropping signal")
			}
		}
	}
}

// generateBlock generates one buffer of samples for a channel.
func (m *Mock) generateBlock(ch int) []int16 {
	block := make([]int16, m.cfg.BlockSamples)
	for i := range block {
		t := float64(m.sampleIndex[ch]) / m.sampleRate
		m.sampleIndex[ch]++
		block[i] = clampCounts(m.value(ch, t))
	}
	return block
}

// value returns the simulated ADC counts of a channel at time t.
func (m *Mock) value(ch int, t float64) float64 {
	if m.calibrating || m.cfg.Waveform == "square" {
		// Half period high, half period low.
		if math.Mod(t*m.cfg.Frequency, 1) < 0.5 {
			return m.cfg.High
		}
		return m.cfg.Low
	}
	phase := float64(ch) * math.Pi / 2
	return m.cfg.Baseline + m.cfg.Amplitude*math.Sin(2*math.Pi*m.cfg.Frequency*t+phase)
}

// exportLocked queues the buffer of channel c on the data endpoint.
func (m *Mock) exportLocked(c int) {
	block := append(m.blocks[c], Sentinel)
	delete(m.blocks, c)

	raw := EncodeInt16(block)
	for len(raw) > 0 {
		n := min(m.packetSize, len(raw))
		m.dataOut = append(m.dataOut, raw[:n])
		raw = raw[n:]
	}
}

func clampCounts(v float64) int16 {
	v = math.Round(v)
	if v <= float64(Sentinel) {
		return Sentinel + 1
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	return int16(v)
}
