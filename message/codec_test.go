package message

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func sampleCommand() Command {
	return Command{
		Throttle:      0.69,
		Steering:      -0.69,
		ThrottleLeft:  0.25,
		ThrottleRight: -1,
		SteeringLeft:  1,
		SteeringRight: -0.125,
		ModeUp:        true,
		ModeDown:      false,
		ModeLeft:      true,
		ModeRight:     false,
		Handbrake:     true,
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"zero", Command{}},
		{"fail-safe", FailSafe()},
		{"mixed", sampleCommand()},
		{"all flags", Command{ModeUp: true, ModeDown: true, ModeLeft: true, ModeRight: true, Handbrake: true}},
		{"out of range is carried", Command{Throttle: 3.5, Steering: -42}},
		{"smallest subnormal", Command{Steering: math.SmallestNonzeroFloat32}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.cmd)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.cmd, got)
			assert.Equal(t, math.Float32bits(tt.cmd.Steering), math.Float32bits(got.Steering))
		})
	}
}

func TestEncode_NegativeZeroKeepsSign(t *testing.T) {
	negZero := float32(math.Copysign(0, -1))
	data, err := Encode(Command{Throttle: negZero})
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, math.Float32bits(negZero), math.Float32bits(got.Throttle))
}

func TestDecode_Truncated(t *testing.T) {
	data, err := Encode(sampleCommand())
	require.NoError(t, err)

	for n := 0; n < len(data); n++ {
		_, err := Decode(data[:n])
		var decErr *DecodeError
		require.Truef(t, errors.As(err, &decErr), "prefix of %d bytes: got %v", n, err)
	}
}

func TestDecode_TrailingBytes(t *testing.T) {
	data, err := Encode(sampleCommand())
	require.NoError(t, err)

	_, err = Decode(append(data, 0xc0))
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Contains(t, err.Error(), "trailing")
}

func TestDecode_ForeignVersion(t *testing.T) {
	data, err := msgpack.Marshal([]any{uint8(SchemaVersion + 1), float32(0), float32(0)})
	require.NoError(t, err)

	_, err = Decode(data)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Contains(t, err.Error(), "schema version")
}

func TestDecode_FieldCountMismatch(t *testing.T) {
	// an older snapshot that had no steering_left/steering_right
	data, err := msgpack.Marshal([]any{
		uint8(SchemaVersion),
		float32(0.5), float32(0), float32(0), float32(0),
		false, false, false, false, true,
	})
	require.NoError(t, err)

	_, err = Decode(data)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Contains(t, err.Error(), "expects 12 fields")
}

func TestDecode_NotAnArray(t *testing.T) {
	data, err := msgpack.Marshal(map[string]float32{"throttle": 1})
	require.NoError(t, err)

	_, err = Decode(data)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestDecode_WrongFieldType(t *testing.T) {
	data, err := msgpack.Marshal([]any{
		uint8(SchemaVersion),
		"fast", float32(0), float32(0), float32(0), float32(0), float32(0),
		false, false, false, false, true,
	})
	require.NoError(t, err)

	_, err = Decode(data)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestDecode_CoercibleFieldTypes(t *testing.T) {
	wire := func(axes []any, flags []any) []any {
		return append(append([]any{uint8(SchemaVersion)}, axes...), flags...)
	}
	zeros := []any{float32(0), float32(0), float32(0), float32(0), float32(0), float32(0)}
	flags := []any{false, false, false, false, true}

	tests := []struct {
		name  string
		elems []any
		want  string
	}{
		{"all nil", []any{uint8(SchemaVersion), nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil}, "field 1"},
		{"int in axis", wire(append([]any{int8(1)}, zeros[1:]...), flags), "field 1"},
		{"float64 in axis", wire(append(append([]any{}, zeros[:3]...), float64(0.5), zeros[4], zeros[5]), flags), "field 4"},
		{"nil flag", wire(zeros, []any{false, false, false, false, nil}), "field 11"},
		{"int flag", wire(zeros, []any{uint8(1), false, false, false, true}), "field 7"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := msgpack.Marshal(tc.elems)
			require.NoError(t, err)

			_, err = Decode(data)
			var decErr *DecodeError
			require.ErrorAs(t, err, &decErr)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestClamp(t *testing.T) {
	c := Command{Throttle: 2, Steering: -3, ThrottleLeft: 0.5, SteeringRight: -1.01, Handbrake: true}.Clamp()

	assert.Equal(t, float32(1), c.Throttle)
	assert.Equal(t, float32(-1), c.Steering)
	assert.Equal(t, float32(0.5), c.ThrottleLeft)
	assert.Equal(t, float32(-1), c.SteeringRight)
	assert.True(t, c.Handbrake)
}

func TestFailSafe(t *testing.T) {
	fs := FailSafe()
	assert.True(t, fs.Handbrake)
	assert.True(t, fs.IsFailSafe())
	assert.Zero(t, fs.Throttle)
	assert.False(t, fs.ModeUp || fs.ModeDown || fs.ModeLeft || fs.ModeRight)
	assert.False(t, sampleCommand().IsFailSafe())
}
