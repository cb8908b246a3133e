package output

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"rc-vehicle-core/message"
)

// Servo pulse widths in seconds: full reverse, neutral, full forward.
const (
	pulseMinS float32 = 0.0010
	pulseMidS float32 = 0.0015
	pulseMaxS float32 = 0.0020

	inputMin float32 = -1
	inputMax float32 = 1
)

// DutySetter is one PWM output.
type DutySetter interface {
	SetDuty(duty uint32) error
}

// PWMAxis maps a normalized value onto a servo-style duty cycle for a
// given PWM frequency and duty resolution.
type PWMAxis struct {
	scale       float32
	translation float32
	neutral     uint32
}

// NewPWMAxis derives the affine map for frequencyHz and maxDuty (the duty
// value of a 100% cycle). Invert flips the direction of travel.
func NewPWMAxis(frequencyHz, maxDuty uint32, invert bool) (PWMAxis, error) {
	if frequencyHz == 0 {
		return PWMAxis{}, errors.New("pwm frequency must be non-zero")
	}
	if maxDuty == 0 {
		return PWMAxis{}, errors.New("pwm max duty must be non-zero")
	}

	period := 1 / float32(frequencyHz)
	duty := float32(maxDuty)
	dutyMin := pulseMinS / period * duty
	dutyMid := pulseMidS / period * duty
	dutyMax := pulseMaxS / period * duty

	scale := (dutyMax - dutyMin) / (inputMax - inputMin)
	translation := dutyMax - scale
	if invert {
		scale = -scale
	}

	return PWMAxis{
		scale:       scale,
		translation: translation,
		neutral:     uint32(dutyMid),
	}, nil
}

// Duty returns the duty cycle for v. Zero is exactly neutral; other values
// are truncated toward zero.
func (a PWMAxis) Duty(v float32) uint32 {
	if v == 0 {
		return a.neutral
	}
	d := a.scale*v + a.translation
	if d < 0 {
		return 0
	}
	return uint32(d)
}

func (a PWMAxis) Neutral() uint32 { return a.neutral }

// PWMCarConfig describes the two servo channels of an Ackermann car.
type PWMCarConfig struct {
	FrequencyHz    uint32
	MaxDuty        uint32
	ThrottleInvert bool
	SteeringInvert bool
}

// PWMCar drives an ESC and a steering servo from Throttle and Steering.
type PWMCar struct {
	throttle    PWMAxis
	steering    PWMAxis
	throttleOut DutySetter
	steeringOut DutySetter
	log         zerolog.Logger
}

func NewPWMCar(cfg PWMCarConfig, throttle, steering DutySetter, log zerolog.Logger) (*PWMCar, error) {
	ta, err := NewPWMAxis(cfg.FrequencyHz, cfg.MaxDuty, cfg.ThrottleInvert)
	if err != nil {
		return nil, fmt.Errorf("throttle axis: %w", err)
	}
	sa, err := NewPWMAxis(cfg.FrequencyHz, cfg.MaxDuty, cfg.SteeringInvert)
	if err != nil {
		return nil, fmt.Errorf("steering axis: %w", err)
	}

	log = log.With().Str("driver", "pwm-car").Logger()
	log.Info().
		Uint32("frequency_hz", cfg.FrequencyHz).
		Uint32("max_duty", cfg.MaxDuty).
		Uint32("throttle_neutral", ta.Neutral()).
		Float32("throttle_scale", ta.scale).
		Float32("steering_scale", sa.scale).
		Msg("PWM car ready")

	return &PWMCar{
		throttle:    ta,
		steering:    sa,
		throttleOut: throttle,
		steeringOut: steering,
		log:         log,
	}, nil
}

func (c *PWMCar) Apply(_ context.Context, cmd message.Command) error {
	throttle := c.throttle.Duty(cmd.Throttle)
	steering := c.steering.Duty(cmd.Steering)

	c.log.Trace().Uint32("throttle_duty", throttle).Uint32("steering_duty", steering).Msg("apply")

	if err := c.throttleOut.SetDuty(throttle); err != nil {
		return fmt.Errorf("set throttle duty: %w", err)
	}
	if err := c.steeringOut.SetDuty(steering); err != nil {
		return fmt.Errorf("set steering duty: %w", err)
	}
	return nil
}
