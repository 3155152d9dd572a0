package daq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_MarshalBinary(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		want    string
		wantErr bool
	}{
		{"identify", Identify, "I", false},
		{"start", Start, "R", false},
		{"stop", Stop, "E", false},
		{"calibrate", Calibrate, "C", false},
		{"set 3 channels", SetChannels(3), "S3", false},
		{"export channel 0", ExportChannel(0), "F0", false},
		{"export channel 3", ExportChannel(3), "F3", false},
		{"offset zero padded", SetOffset(125), "V0125", false},
		{"offset max", SetOffset(MaxOffset), "V9999", false},
		{"offset negative", SetOffset(-1), "", true},
		{"offset too large", SetOffset(10000), "", true},
		{"zero channels", SetChannels(0), "", true},
		{"negative channel", ExportChannel(-1), "", true},
		{"unknown op", Command{Op: 'Z'}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.MarshalBinary()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
			assert.LessOrEqual(t, len(got), MaxCommandSize)
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		wire    string
		want    Command
		wantErr bool
	}{
		{"identify", "I", Identify, false},
		{"export", "F2", ExportChannel(2), false},
		{"channels", "S4", SetChannels(4), false},
		{"offset", "V0500", SetOffset(500), false},
		{"empty", "", Command{}, true},
		{"identify with argument", "I1", Command{}, true},
		{"offset too short", "V50", Command{}, true},
		{"non numeric", "Fx", Command{}, true},
		{"unknown", "Q", Command{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.wire))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "V0042", SetOffset(42).String())
	assert.Contains(t, SetOffset(-5).String(), "invalid")
}
