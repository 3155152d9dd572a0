package daq

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Sentinel terminates the sample stream of one channel export.
const Sentinel int16 = -16384

// InfoMessageSize is the length of a channel-ready message ("Done<c>").
const InfoMessageSize = 5

// Encoding selects how a read is decoded.
type Encoding int

const (
	Raw Encoding = iota
	Uint16
	Int16
	String
)

// DecodeUint16 pairs little-endian bytes into unsigned words. A trailing odd byte is ignored.
func DecodeUint16(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return out
}

// DecodeInt16 pairs little-endian bytes into two's-complement signed words.
func DecodeInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// EncodeInt16 is the inverse of DecodeInt16.
func EncodeInt16(words []int16) []byte {
	out := make([]byte, 2*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(w))
	}
	return out
}

// DecodeString returns the bytes up to the first NUL.
func DecodeString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// ParseInfo extracts the ready channel from an info endpoint message.
func ParseInfo(msg []byte, channels int) (int, error) {
	if len(msg) != InfoMessageSize {
		return 0, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedInfo, InfoMessageSize, len(msg))
	}
	c := int(msg[InfoMessageSize-1]) - '0'
	if c < 0 || c >= channels {
		return 0, fmt.Errorf("%w: channel byte %q", ErrMalformedInfo, msg[InfoMessageSize-1])
	}
	return c, nil
}
