package daq

import (
	"fmt"
	"strconv"
)

// MaxCommandSize is the size of the device's OUT endpoint buffer.
const MaxCommandSize = 32

// MaxOffset is the largest value the 4-digit offset argument can carry.
const MaxOffset = 9999

// Op is the single ASCII character that selects a firmware command.
type Op byte

const (
	OpIdentify    Op = 'I'
	OpStart       Op = 'R'
	OpStop        Op = 'E'
	OpSetChannels Op = 'S'
	OpExport      Op = 'F'
	OpSetOffset   Op = 'V'
	OpCalibrate   Op = 'C'
)

// Command is a firmware command with its optional argument.
type Command struct {
	Op  Op
	Arg int
}

var (
	Identify  = Command{Op: OpIdentify}
	Start     = Command{Op: OpStart}
	Stop      = Command{Op: OpStop}
	Calibrate = Command{Op: OpCalibrate}
)

// SetChannels selects how many ADC channels the device multiplexes.
func SetChannels(n int) Command {
	return Command{Op: OpSetChannels, Arg: n}
}

// ExportChannel asks the device to send the buffer of ADC channel c.
func ExportChannel(c int) Command {
	return Command{Op: OpExport, Arg: c}
}

// SetOffset sets the reference offset DAC.
func SetOffset(v int) Command {
	return Command{Op: OpSetOffset, Arg: v}
}

// MarshalBinary serializes the command to its wire format.
func (c Command) MarshalBinary() ([]byte, error) {
	switch c.Op {
	case OpIdentify, OpStart, OpStop, OpCalibrate:
		return []byte{byte(c.Op)}, nil
	case OpSetChannels:
		if c.Arg < 1 || c.Arg > 9 {
			return nil, fmt.Errorf("invalid channel count %d", c.Arg)
		}
		return []byte(fmt.Sprintf("S%d", c.Arg)), nil
	case OpExport:
		if c.Arg < 0 || c.Arg > 9 {
			return nil, fmt.Errorf("invalid channel %d", c.Arg)
		}
		return []byte(fmt.Sprintf("F%d", c.Arg)), nil
	case OpSetOffset:
		if c.Arg < 0 || c.Arg > MaxOffset {
			return nil, fmt.Errorf("offset out of range: %d (max %d)", c.Arg, MaxOffset)
		}
		return []byte(fmt.Sprintf("V%04d", c.Arg)), nil
	default:
		return nil, fmt.Errorf("unknown command %q", byte(c.Op))
	}
}

// String returns the wire form, or a placeholder for invalid commands.
func (c Command) String() string {
	b, err := c.MarshalBinary()
	if err != nil {
		return fmt.Sprintf("invalid(%q,%d)", byte(c.Op), c.Arg)
	}
	return string(b)
}

// ParseCommand decodes a wire-format command.
func ParseCommand(b []byte) (Command, error) {
	if len(b) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	op := Op(b[0])
	arg := 0
	switch op {
	case OpIdentify, OpStart, OpStop, OpCalibrate:
		if len(b) != 1 {
			return Command{}, fmt.Errorf("command %q takes no argument", b[0])
		}
		return Command{Op: op}, nil
	case OpSetChannels, OpExport, OpSetOffset:
		want := 1
		if op == OpSetOffset {
			want = 4
		}
		if len(b)-1 != want {
			return Command{}, fmt.Errorf("command %q expects %d digit argument, got %q", b[0], want, b[1:])
		}
		v, err := strconv.Atoi(string(b[1:]))
		if err != nil {
			return Command{}, fmt.Errorf("invalid argument %q: %w", b[1:], err)
		}
		arg = v
	default:
		return Command{}, fmt.Errorf("unknown command %q", b[0])
	}
	return Command{Op: op, Arg: arg}, nil
}
