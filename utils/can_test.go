package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "direction,frame_id,frame_name,cycle_ms,dlc,signal_name,start_bit,bit_length,endianness,signed,factor,offset,min,max,default,unit,comment\n"

func TestBits_SignExtension(t *testing.T) {
	var p uint64
	p = setBits(p, 4, 10, rawToUnsigned(-125, 10))
	assert.Equal(t, int64(-125), unsignedToRawInt64(getBits(p, 4, 10), 10, true))
	assert.Equal(t, uint64(0), getBits(p, 0, 4))

	assert.Equal(t, int64(-512), clampRaw(-9000, 10, true))
	assert.Equal(t, int64(511), clampRaw(9000, 10, true))
	assert.Equal(t, int64(0), clampRaw(-3, 4, false))
	assert.Equal(t, int64(15), clampRaw(99, 4, false))
}

func TestParseCANMap_ShippedMap(t *testing.T) {
	m, err := LoadCANMap(filepath.Join("..", "config", "can", "rc_map.csv"))
	require.NoError(t, err)

	fd, err := m.FrameByName("RC_ACTUATOR_CMD")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x200), fd.ID)
	assert.Equal(t, 8, fd.DLC)
	assert.Equal(t, 50, fd.CycleMS)
	assert.Equal(t, []string{
		"throttle", "steering", "throttle_left", "throttle_right",
		"steering_left", "steering_right", "handbrake", "failsafe",
	}, fd.SignalNames())

	byID, err := m.FrameByID(0x200)
	require.NoError(t, err)
	assert.Same(t, fd, byID)
}

func TestCANCodec_RoundTrip(t *testing.T) {
	m, err := LoadCANMap(filepath.Join("..", "config", "can", "rc_map.csv"))
	require.NoError(t, err)

	in := map[string]float64{
		"throttle":       0.5,
		"steering":       -0.25,
		"throttle_left":  1,
		"throttle_right": -1,
		"steering_left":  0.002,
		"steering_right": 3, // clamped to max
		"failsafe":       1,
	}
	payload, id, err := m.EncodeFrame("RC_ACTUATOR_CMD", in)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x200), id)
	require.Len(t, payload, 8)

	out, err := m.DecodeFrame(id, payload)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, out["throttle"], 1e-9)
	assert.InDelta(t, -0.25, out["steering"], 1e-9)
	assert.InDelta(t, 1, out["throttle_left"], 1e-9)
	assert.InDelta(t, -1, out["throttle_right"], 1e-9)
	assert.InDelta(t, 0.002, out["steering_left"], 1e-9)
	assert.InDelta(t, 1, out["steering_right"], 1e-9)
	// missing value takes the default
	assert.Equal(t, 1.0, out["handbrake"])
	assert.Equal(t, 1.0, out["failsafe"])

	frame, err := m.EncodeEinrideFrame("RC_ACTUATOR_CMD", in)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x200), frame.ID)
	assert.Equal(t, payload, frame.Data[:frame.Length])

	_, err = m.DecodeFrame(0x200, payload[:4])
	assert.Error(t, err)
	_, _, err = m.EncodeFrame("NOPE", in)
	assert.ErrorContains(t, err, "unknown frame")
}

func TestParseCANMap_Errors(t *testing.T) {
	cases := []struct {
		name string
		csv  string
		want string
	}{
		{"missing column", "frame_id,frame_name\n", "missing required column"},
		{"bad id", header + "tx,0xZZ,F,10,8,s,0,8,little,false,1,0,0,1,0,,\n", "invalid frame_id"},
		{"bad int", header + "tx,0x10,F,ten,8,s,0,8,little,false,1,0,0,1,0,,\n", "cycle_ms"},
		{"big endian", header + "tx,0x10,F,10,8,s,0,8,big,false,1,0,0,1,0,,\n", "endianness"},
		{"zero factor", header + "tx,0x10,F,10,8,s,0,8,little,false,0,0,0,1,0,,\n", "factor"},
		{"past dlc", header + "tx,0x10,F,10,2,s,10,8,little,false,1,0,0,1,0,,\n", "exceed dlc"},
		{"dlc mismatch", header +
			"tx,0x10,F,10,8,a,0,8,little,false,1,0,0,1,0,,\n" +
			"tx,0x10,F,10,4,b,8,8,little,false,1,0,0,1,0,,\n", "inconsistent DLC"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCANMap(strings.NewReader(tc.csv))
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestParseCANMap_CommentsAndSorting(t *testing.T) {
	csv := header +
		"# trailing signal first\n" +
		"tx,0x10,F,10,2,b,8,8,little,false,1,0,0,0,0,,\n" +
		"tx,16,F,10,2,a,0,8,little,false,1,0,0,0,0,,\n"
	m, err := ParseCANMap(strings.NewReader(csv))
	require.NoError(t, err)

	fd, err := m.FrameByID(0x10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, fd.SignalNames())

	// no physical range: values pass through unclamped
	payload, _, err := m.EncodeFrame("F", map[string]float64{"a": 200, "b": 7})
	require.NoError(t, err)
	assert.Equal(t, []byte{200, 7}, payload)
}

func TestLoadCANMap_MissingFile(t *testing.T) {
	_, err := LoadCANMap(filepath.Join(t.TempDir(), "none.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
