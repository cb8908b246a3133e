package output

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"rc-vehicle-core/message"
)

// DroneSession is a connected quad-rotor accepting stick input and
// take-off/land requests.
type DroneSession interface {
	SendStick(ctx context.Context, pitch, nick, roll, yaw float32) error
	TakeOff(ctx context.Context) error
	Land(ctx context.Context) error
}

// DroneState is what the Drone driver last sent.
type DroneState struct {
	Pitch, Nick, Roll, Yaw float32
	FlyingDesired          bool
	FlyingActual           bool
}

// Drone maps the differential axes onto drone sticks: ThrottleLeft is pitch,
// ThrottleRight nick, SteeringLeft yaw and SteeringRight roll. ModeUp asks
// to fly, ModeDown to land.
type Drone struct {
	session DroneSession
	log     zerolog.Logger

	mu    sync.Mutex
	state DroneState
}

func NewDrone(session DroneSession, log zerolog.Logger) *Drone {
	return &Drone{
		session: session,
		log:     log.With().Str("driver", "drone").Logger(),
	}
}

// State returns a copy of the current stick and flight state.
func (d *Drone) State() DroneState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Drone) Apply(ctx context.Context, cmd message.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := &d.state
	s.Pitch = cmd.ThrottleLeft
	s.Nick = cmd.ThrottleRight
	s.Yaw = cmd.SteeringLeft
	s.Roll = cmd.SteeringRight
	if cmd.ModeUp {
		s.FlyingDesired = true
	} else if cmd.ModeDown {
		s.FlyingDesired = false
	}

	if err := d.session.SendStick(ctx, s.Pitch, s.Nick, s.Roll, s.Yaw); err != nil {
		return fmt.Errorf("send stick: %w", err)
	}

	if s.FlyingActual == s.FlyingDesired {
		return nil
	}
	if s.FlyingDesired {
		if err := d.session.TakeOff(ctx); err != nil {
			return fmt.Errorf("take off: %w", err)
		}
		d.log.Info().Msg("took off")
	} else {
		if err := d.session.Land(ctx); err != nil {
			return fmt.Errorf("land: %w", err)
		}
		d.log.Info().Msg("landed")
	}
	s.FlyingActual = s.FlyingDesired
	return nil
}
