package output

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"rc-vehicle-core/message"
)

// EnableLine is a digital output, one side of an H-bridge enable pair.
type EnableLine interface {
	Set(high bool) error
}

// HBridge is a motor driven by a duty output plus forward/reverse enables.
type HBridge struct {
	Duty    DutySetter
	Forward EnableLine
	Reverse EnableLine
	MaxDuty uint32
}

func (h HBridge) validate() error {
	if h.Duty == nil || h.Forward == nil || h.Reverse == nil {
		return errors.New("h-bridge needs duty, forward and reverse outputs")
	}
	if h.MaxDuty == 0 {
		return errors.New("h-bridge max duty must be non-zero")
	}
	return nil
}

// drive sets |v| * MaxDuty and raises the enable matching the sign of v;
// zero leaves both enables low.
func (h HBridge) drive(v float32) error {
	var duty uint32
	forward, reverse := false, false
	switch {
	case v > 0:
		duty = uint32(v * float32(h.MaxDuty))
		forward = true
	case v < 0:
		duty = uint32(-v * float32(h.MaxDuty))
		reverse = true
	}

	if err := h.Duty.SetDuty(duty); err != nil {
		return fmt.Errorf("set duty: %w", err)
	}
	if err := h.Forward.Set(forward); err != nil {
		return fmt.Errorf("forward enable: %w", err)
	}
	if err := h.Reverse.Set(reverse); err != nil {
		return fmt.Errorf("reverse enable: %w", err)
	}
	return nil
}

// PWMTruck is a truck with an H-bridge drive motor on Throttle, a steering
// servo on Steering and an H-bridge tray motor on ThrottleRight.
type PWMTruck struct {
	drive       HBridge
	tray        HBridge
	steering    PWMAxis
	steeringOut DutySetter
	log         zerolog.Logger
}

func NewPWMTruck(drive HBridge, steering DutySetter, steeringAxis PWMAxis, tray HBridge, log zerolog.Logger) (*PWMTruck, error) {
	if err := drive.validate(); err != nil {
		return nil, fmt.Errorf("drive: %w", err)
	}
	if err := tray.validate(); err != nil {
		return nil, fmt.Errorf("tray: %w", err)
	}
	if steering == nil {
		return nil, errors.New("steering output is nil")
	}
	return &PWMTruck{
		drive:       drive,
		tray:        tray,
		steering:    steeringAxis,
		steeringOut: steering,
		log:         log.With().Str("driver", "pwm-truck").Logger(),
	}, nil
}

func (t *PWMTruck) Apply(_ context.Context, cmd message.Command) error {
	t.log.Trace().
		Float32("throttle", cmd.Throttle).
		Float32("steering", cmd.Steering).
		Float32("tray", cmd.ThrottleRight).
		Msg("apply")

	if err := t.drive.drive(cmd.Throttle); err != nil {
		return fmt.Errorf("drive: %w", err)
	}
	if err := t.steeringOut.SetDuty(t.steering.Duty(cmd.Steering)); err != nil {
		return fmt.Errorf("steering: %w", err)
	}
	if err := t.tray.drive(cmd.ThrottleRight); err != nil {
		return fmt.Errorf("tray: %w", err)
	}
	return nil
}
