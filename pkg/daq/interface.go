package daq

import "errors"

// Transport is the raw endpoint-level connection to the acquisition device.
// Reads block for at most the transport's own I/O timeout.
type Transport interface {
	Write(endpoint int, data []byte) (int, error)
	Read(endpoint int, n int) ([]byte, error)
	Close() error
}

var (
	// ErrTimeout is returned by a Transport when a transfer did not complete within its I/O timeout.
	ErrTimeout = errors.New("transfer timed out")
	// ErrTransport marks a failed transfer; the link is considered disconnected afterwards.
	ErrTransport = errors.New("transport failure")
	// ErrNotConnected is returned without touching the transport once the link is down.
	ErrNotConnected = errors.New("device not connected")
	// ErrCommandTooLong is returned for messages longer than MaxCommandSize.
	ErrCommandTooLong = errors.New("command too long")
	// ErrMalformedInfo is returned for info messages that do not name a channel.
	ErrMalformedInfo = errors.New("malformed info message")
	// ErrNotIdentified is returned when the identification reply does not match.
	ErrNotIdentified = errors.New("device not identified")
	// ErrDeviceNotFound is returned when no device matches the vendor/product id.
	ErrDeviceNotFound = errors.New("device not found")
)

// Ensure USB implements Transport.
var _ Transport = (*USB)(nil)

// Ensure Mock implements Transport.
var _ Transport = (*Mock)(nil)
