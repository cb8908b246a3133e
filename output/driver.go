// Package output maps normalized commands onto device actuation: PWM duty
// cycles, differential track strings, drone sticks or CAN frames.
package output

import (
	"context"

	"github.com/rs/zerolog"

	"rc-vehicle-core/message"
)

// Driver applies one command to a device. Implementations do not retry;
// an error means the command did not reach the actuators.
type Driver interface {
	Apply(ctx context.Context, cmd message.Command) error
}

// DriverFunc adapts a function to Driver.
type DriverFunc func(ctx context.Context, cmd message.Command) error

func (f DriverFunc) Apply(ctx context.Context, cmd message.Command) error { return f(ctx, cmd) }

// Log is a driver with no hardware behind it. It logs every command, which
// is enough to bench-test the link.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("driver", "log").Logger()}
}

func (d *Log) Apply(_ context.Context, cmd message.Command) error {
	ev := d.log.Debug()
	if cmd.IsFailSafe() {
		ev = d.log.Info()
	}
	ev.Float32("throttle", cmd.Throttle).
		Float32("steering", cmd.Steering).
		Float32("throttle_left", cmd.ThrottleLeft).
		Float32("throttle_right", cmd.ThrottleRight).
		Float32("steering_left", cmd.SteeringLeft).
		Float32("steering_right", cmd.SteeringRight).
		Bool("handbrake", cmd.Handbrake).
		Msg("apply")
	return nil
}
