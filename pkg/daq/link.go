package daq

import (
	"errors"
	"fmt"
	"sync"

	"github.com/plantacq/plantacq/pkg/config"
	"github.com/rs/zerolog/log"
)

const (
	// IdentifyReplySize is the number of bytes read back after an identify command.
	IdentifyReplySize = 64
	// Identity is the identification reply of the acquisition firmware.
	Identity = "USB Test - Plant_Acq"
)

// Endpoints holds the endpoint addresses used by a Link.
type Endpoints struct {
	Out  int
	Info int
	Data int
}

// EndpointsFrom returns the endpoint layout from the USB configuration.
func EndpointsFrom(cfg config.USBConfig) Endpoints {
	return Endpoints{Out: cfg.OutEndpoint, Info: cfg.InfoEndpoint, Data: cfg.DataEndpoint}
}

// DefaultEndpoints returns the endpoint layout of the stock firmware.
func DefaultEndpoints() Endpoints {
	return EndpointsFrom(config.Default().USB)
}

// Link is a synchronous request/response channel to the device.
// After any failed transfer the link is marked disconnected and every later
// call fails fast with ErrNotConnected without touching the transport.
type Link struct {
	transport Transport
	endpoints Endpoints

	mu        sync.RWMutex
	connected bool
}

// NewLink wraps a transport. A nil transport yields a disconnected link.
func NewLink(t Transport, endpoints Endpoints) *Link {
	return &Link{
		transport: t,
		endpoints: endpoints,
		connected: t != nil,
	}
}

// IsConnected returns whether the link is still usable.
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

func (l *Link) disconnect(err error) {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
	log.Error().Err(err).Msg("device link lost")
}

// Write sends a raw message to the OUT endpoint.
func (l *Link) Write(msg []byte) error {
	if !l.IsConnected() {
		log.Warn().Str("message", string(msg)).Msg("device not connected")
		return ErrNotConnected
	}
	if len(msg) > MaxCommandSize {
		log.Error().Int("len", len(msg)).Msg("message is too long")
		return fmt.Errorf("%w: %d bytes (max %d)", ErrCommandTooLong, len(msg), MaxCommandSize)
	}

	log.Debug().Str("message", string(msg)).Msg("writing message")
	if _, err := l.transport.Write(l.endpoints.Out, msg); err != nil {
		l.disconnect(err)
		return fmt.Errorf("%w: write %q: %v", ErrTransport, msg, err)
	}
	return nil
}

// Send serializes and writes a command.
func (l *Link) Send(cmd Command) error {
	msg, err := cmd.MarshalBinary()
	if err != nil {
		return err
	}
	return l.Write(msg)
}

// Read reads up to n bytes from an endpoint. A timeout returns ErrTimeout and
// keeps the link connected; an empty read returns an empty slice.
func (l *Link) Read(endpoint int, n int) ([]byte, error) {
	if !l.IsConnected() {
		return nil, ErrNotConnected
	}

	b, err := l.transport.Read(endpoint, n)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil, err
		}
		l.disconnect(err)
		return nil, fmt.Errorf("%w: read endpoint 0x%02x: %v", ErrTransport, endpoint, err)
	}
	return b, nil
}

// ReadAs reads n bytes from an endpoint and decodes them. The result is a
// []byte, []uint16, []int16 or string depending on enc.
func (l *Link) ReadAs(endpoint int, n int, enc Encoding) (any, error) {
	b, err := l.Read(endpoint, n)
	if err != nil {
		return nil, err
	}
	switch enc {
	case Uint16:
		return DecodeUint16(b), nil
	case Int16:
		return DecodeInt16(b), nil
	case String:
		return DecodeString(b), nil
	default:
		return b, nil
	}
}

// ReadInfo reads one message from the info endpoint.
func (l *Link) ReadInfo() ([]byte, error) {
	return l.Read(l.endpoints.Info, InfoMessageSize)
}

// ReadSamples reads one packet from the data endpoint as signed samples.
func (l *Link) ReadSamples(packetSize int) ([]int16, error) {
	b, err := l.Read(l.endpoints.Data, packetSize)
	if err != nil {
		return nil, err
	}
	return DecodeInt16(b), nil
}

// ConnectionTest asks the device to identify itself and requires an exact reply.
// On mismatch the link is left disconnected.
func (l *Link) ConnectionTest(identity string) error {
	if l.transport == nil {
		return ErrNotConnected
	}

	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()

	if err := l.Send(Identify); err != nil {
		return err
	}
	reply, err := l.ReadAs(l.endpoints.Data, IdentifyReplySize, String)
	if err != nil {
		l.mu.Lock()
		l.connected = false
		l.mu.Unlock()
		log.Info().Err(err).Msg("identification failed")
		return fmt.Errorf("%w: %v", ErrNotIdentified, err)
	}

	msg := reply.(string)
	log.Debug().Str("reply", msg).Msg("received identifying message")
	if msg != identity {
		l.mu.Lock()
		l.connected = false
		l.mu.Unlock()
		log.Info().Str("reply", msg).Msg("identification failed")
		return fmt.Errorf("%w: got %q", ErrNotIdentified, msg)
	}

	log.Info().Msg("device identified")
	return nil
}

// Close releases the transport.
func (l *Link) Close() error {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
	if l.transport == nil {
		return nil
	}
	return l.transport.Close()
}
