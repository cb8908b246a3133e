// Package message defines the command carried from the operator to the
// vehicle and its binary wire encoding.
package message

import "fmt"

// Command is one snapshot of operator intent.
//
// Float fields are meaningful in [-1, 1]. The codec carries any value; it is
// up to the input source to clamp (see Clamp).
type Command struct {
	// Ackermann steering
	Throttle float32 `json:"throttle"`
	Steering float32 `json:"steering"`

	// Differential steering; pitch/nick on drones, tray on the truck
	ThrottleLeft  float32 `json:"throttle_left"`
	ThrottleRight float32 `json:"throttle_right"`

	// Drone yaw/roll
	SteeringLeft  float32 `json:"steering_left"`
	SteeringRight float32 `json:"steering_right"`

	ModeUp    bool `json:"mode_up"`
	ModeDown  bool `json:"mode_down"`
	ModeLeft  bool `json:"mode_left"`
	ModeRight bool `json:"mode_right"`
	Handbrake bool `json:"handbrake"`
}

// FailSafe returns the neutral command forwarded on watchdog timeout and on
// shutdown.
func FailSafe() Command {
	return Command{Handbrake: true}
}

// IsFailSafe reports whether c is the neutral, handbrake-set command.
func (c Command) IsFailSafe() bool {
	return c == FailSafe()
}

// Clamp returns a copy of c with every axis limited to [-1, 1].
func (c Command) Clamp() Command {
	c.Throttle = clampUnit(c.Throttle)
	c.Steering = clampUnit(c.Steering)
	c.ThrottleLeft = clampUnit(c.ThrottleLeft)
	c.ThrottleRight = clampUnit(c.ThrottleRight)
	c.SteeringLeft = clampUnit(c.SteeringLeft)
	c.SteeringRight = clampUnit(c.SteeringRight)
	return c
}

func (c Command) String() string {
	return fmt.Sprintf("throttle=%.3f steering=%.3f left=%.3f right=%.3f steer_l=%.3f steer_r=%.3f up=%t down=%t mode_l=%t mode_r=%t handbrake=%t",
		c.Throttle, c.Steering, c.ThrottleLeft, c.ThrottleRight, c.SteeringLeft, c.SteeringRight,
		c.ModeUp, c.ModeDown, c.ModeLeft, c.ModeRight, c.Handbrake)
}

func clampUnit(v float32) float32 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
