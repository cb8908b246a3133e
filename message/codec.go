package message

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// SchemaVersion is written as the first element of every encoded command.
// Bump it whenever the field list changes so that mismatched builds fail to
// decode instead of misreading fields.
const SchemaVersion = 1

// number of array elements on the wire, version included
const wireFields = 12

// EncodeError is returned when a command cannot be serialized.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return "encode command: " + e.Err.Error() }
func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError is returned for truncated, malformed or foreign-version input.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode command: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes c as a MessagePack array:
//
//	[version, throttle, steering, throttle_left, throttle_right,
//	 steering_left, steering_right, mode_up, mode_down, mode_left,
//	 mode_right, handbrake]
//
// Floats are written as MessagePack float32 so they round-trip bit for bit.
func Encode(c Command) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(64)
	enc := msgpack.NewEncoder(&buf)

	if err := encodeFields(enc, c); err != nil {
		return nil, &EncodeError{Err: err}
	}
	return buf.Bytes(), nil
}

func encodeFields(enc *msgpack.Encoder, c Command) error {
	if err := enc.EncodeArrayLen(wireFields); err != nil {
		return err
	}
	if err := enc.EncodeUint(SchemaVersion); err != nil {
		return err
	}
	for _, f := range []float32{
		c.Throttle, c.Steering,
		c.ThrottleLeft, c.ThrottleRight,
		c.SteeringLeft, c.SteeringRight,
	} {
		if err := enc.EncodeFloat32(f); err != nil {
			return err
		}
	}
	for _, b := range []bool{c.ModeUp, c.ModeDown, c.ModeLeft, c.ModeRight, c.Handbrake} {
		if err := enc.EncodeBool(b); err != nil {
			return err
		}
	}
	return nil
}

// Decode parses one encoded command. The whole of data must be consumed.
func Decode(data []byte) (Command, error) {
	if len(data) == 0 {
		return Command{}, &DecodeError{Err: fmt.Errorf("empty payload")}
	}

	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Command{}, &DecodeError{Err: fmt.Errorf("array header: %w", err)}
	}
	if n < 1 {
		return Command{}, &DecodeError{Err: fmt.Errorf("array length %d", n)}
	}

	version, err := dec.DecodeUint()
	if err != nil {
		return Command{}, &DecodeError{Err: fmt.Errorf("schema version: %w", err)}
	}
	if version != SchemaVersion {
		return Command{}, &DecodeError{Err: fmt.Errorf("schema version %d, want %d", version, SchemaVersion)}
	}
	if n != wireFields {
		return Command{}, &DecodeError{Err: fmt.Errorf("schema v%d expects %d fields, got %d", version, wireFields, n)}
	}

	var c Command
	for i, f := range []*float32{
		&c.Throttle, &c.Steering,
		&c.ThrottleLeft, &c.ThrottleRight,
		&c.SteeringLeft, &c.SteeringRight,
	} {
		// the decoder would coerce nil and integers into 0 and whole numbers
		if err := expectCode(dec, i+1, msgpcode.Float); err != nil {
			return Command{}, err
		}
		if *f, err = dec.DecodeFloat32(); err != nil {
			return Command{}, &DecodeError{Err: err}
		}
	}
	for i, b := range []*bool{&c.ModeUp, &c.ModeDown, &c.ModeLeft, &c.ModeRight, &c.Handbrake} {
		if err := expectCode(dec, i+7, msgpcode.True, msgpcode.False); err != nil {
			return Command{}, err
		}
		if *b, err = dec.DecodeBool(); err != nil {
			return Command{}, &DecodeError{Err: err}
		}
	}

	if r.Len() != 0 {
		return Command{}, &DecodeError{Err: fmt.Errorf("%d trailing bytes", r.Len())}
	}
	return c, nil
}

// expectCode fails unless the next element of dec starts with one of codes.
func expectCode(dec *msgpack.Decoder, field int, codes ...byte) error {
	c, err := dec.PeekCode()
	if err != nil {
		return &DecodeError{Err: fmt.Errorf("field %d: %w", field, err)}
	}
	for _, want := range codes {
		if c == want {
			return nil
		}
	}
	return &DecodeError{Err: fmt.Errorf("field %d: unexpected type code 0x%02x", field, c)}
}
