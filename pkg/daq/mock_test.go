package daq

import (
	"errors"
	"testing"
	"time"

	"github.com/plantacq/plantacq/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMockConfig() *config.MockConfig {
	cfg := config.Default().Mock
	cfg.BlockInterval = 5 * time.Millisecond
	cfg.InfoTimeout = 50 * time.Millisecond
	cfg.BlockSamples = 100
	return &cfg
}

func TestNewMock_NilConfig(t *testing.T) {
	dev := NewMock(nil, config.StreamConfig{}, DefaultEndpoints())
	assert.NotNil(t, dev)
	assert.NotNil(t, dev.cfg)
	assert.Equal(t, "USB Test - Plant_Acq", dev.cfg.Identity)
	assert.Equal(t, float64(5000), dev.sampleRate)
	assert.False(t, dev.IsRunning())
	assert.Equal(t, 1, dev.Channels())
}

func TestMock_Identify(t *testing.T) {
	cfg := testMockConfig()
	mock := NewMock(cfg, config.Default().Stream, DefaultEndpoints())
	defer mock.Close()

	link := NewLink(mock, DefaultEndpoints())
	require.NoError(t, link.ConnectionTest(cfg.Identity))
	assert.True(t, link.IsConnected())
}

func TestMock_SettingsCommands(t *testing.T) {
	mock := NewMock(testMockConfig(), config.Default().Stream, DefaultEndpoints())
	defer mock.Close()
	link := NewLink(mock, DefaultEndpoints())

	require.NoError(t, link.Send(SetChannels(3)))
	require.NoError(t, link.Send(SetOffset(125)))
	require.NoError(t, link.Send(Calibrate))
	assert.Equal(t, 3, mock.Channels())
	assert.Equal(t, 125, mock.Offset())
	assert.True(t, mock.Calibrating())
}

func TestMock_StreamRoundRobin(t *testing.T) {
	stream := config.Default().Stream
	mock := NewMock(testMockConfig(), stream, DefaultEndpoints())
	defer mock.Close()
	link := NewLink(mock, DefaultEndpoints())

	require.NoError(t, link.Send(SetChannels(2)))
	require.NoError(t, link.Send(Start))
	assert.True(t, mock.IsRunning())

	for want := range 4 {
		msg, err := link.ReadInfo()
		require.NoError(t, err)
		ch, err := ParseInfo(msg, config.MaxChannels)
		require.NoError(t, err)
		assert.Equal(t, want%2, ch)

		require.NoError(t, link.Send(ExportChannel(ch)))
		var buf []int16
		for range stream.PacketsPerChannel {
			words, err := link.ReadSamples(stream.PacketSize)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(words), stream.PacketSize/2)
			buf = append(buf, words...)
			if buf[len(buf)-1] == Sentinel {
				break
			}
		}
		require.NotEmpty(t, buf)
		assert.Equal(t, Sentinel, buf[len(buf)-1])
		assert.Len(t, buf, 101)
	}

	require.NoError(t, link.Send(Stop))
	assert.False(t, mock.IsRunning())
}

func TestMock_CalibrationWaveform(t *testing.T) {
	cfg := testMockConfig()
	mock := NewMock(cfg, config.Default().Stream, DefaultEndpoints())
	defer mock.Close()

	mock.calibrating = true
	levels := map[int16]bool{}
	for range 20 {
		for _, v := range mock.generateBlock(0) {
			levels[v] = true
		}
	}
	assert.Equal(t, map[int16]bool{int16(cfg.Low): true, int16(cfg.High): true}, levels)
}

func TestMock_EmptyDataEndpointTimesOut(t *testing.T) {
	mock := NewMock(testMockConfig(), config.Default().Stream, DefaultEndpoints())
	defer mock.Close()

	_, err := mock.Read(DefaultEndpoints().Data, 64)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestClampCounts(t *testing.T) {
	assert.Equal(t, int16(100), clampCounts(100.4))
	assert.Equal(t, Sentinel+1, clampCounts(-20000))
	assert.Equal(t, int16(32767), clampCounts(40000))
}

// TestMock_GracefulShutdown tests that Close stops the generator and that the
// link reports a disconnect afterwards.
func TestMock_GracefulShutdown(t *testing.T) {
	mock := NewMock(testMockConfig(), config.Default().Stream, DefaultEndpoints())
	link := NewLink(mock, DefaultEndpoints())
	require.NoError(t, link.Send(Start))

	done := make(chan struct{})
	go func() {
		defer close(done)
		mock.Close()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("mock did not close within timeout")
	}

	assert.False(t, mock.IsRunning())
	assert.True(t, errors.Is(link.Send(Start), ErrTransport))
	assert.False(t, link.IsConnected())
}
