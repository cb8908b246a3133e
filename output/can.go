package output

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"rc-vehicle-core/message"
	"rc-vehicle-core/utils"
)

// Command fields a CAN map signal may be named after.
var canSignalFields = map[string]func(message.Command) float64{
	"throttle":       func(c message.Command) float64 { return float64(c.Throttle) },
	"steering":       func(c message.Command) float64 { return float64(c.Steering) },
	"throttle_left":  func(c message.Command) float64 { return float64(c.ThrottleLeft) },
	"throttle_right": func(c message.Command) float64 { return float64(c.ThrottleRight) },
	"steering_left":  func(c message.Command) float64 { return float64(c.SteeringLeft) },
	"steering_right": func(c message.Command) float64 { return float64(c.SteeringRight) },
	"mode_up":        func(c message.Command) float64 { return boolSignal(c.ModeUp) },
	"mode_down":      func(c message.Command) float64 { return boolSignal(c.ModeDown) },
	"mode_left":      func(c message.Command) float64 { return boolSignal(c.ModeLeft) },
	"mode_right":     func(c message.Command) float64 { return boolSignal(c.ModeRight) },
	"handbrake":      func(c message.Command) float64 { return boolSignal(c.Handbrake) },
	"failsafe":       func(c message.Command) float64 { return boolSignal(c.IsFailSafe()) },
}

func boolSignal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// CANActuator packs each command into one frame of a CAN map and writes it
// to the bus. Signals not named after a command field keep their default.
type CANActuator struct {
	canMap *utils.CANMap
	frame  *utils.FrameDef
	w      utils.CANWriter
	log    zerolog.Logger
}

func NewCANActuator(canMap *utils.CANMap, frameName string, w utils.CANWriter, log zerolog.Logger) (*CANActuator, error) {
	fd, err := canMap.FrameByName(frameName)
	if err != nil {
		return nil, err
	}

	mapped := 0
	for _, s := range fd.Signals {
		if _, ok := canSignalFields[s.Name]; ok {
			mapped++
		}
	}
	if mapped == 0 {
		return nil, fmt.Errorf("frame %s has no signal named after a command field (signals: %v)", fd.Name, fd.SignalNames())
	}

	log = log.With().Str("driver", "can").Str("frame", fd.Name).Logger()
	log.Info().
		Str("id", fmt.Sprintf("0x%X", fd.ID)).
		Int("dlc", fd.DLC).
		Int("mapped_signals", mapped).
		Msg("CAN actuator ready")

	return &CANActuator{canMap: canMap, frame: fd, w: w, log: log}, nil
}

// Values returns the physical signal values written for cmd.
func (a *CANActuator) Values(cmd message.Command) map[string]float64 {
	values := make(map[string]float64, len(a.frame.Signals))
	for _, s := range a.frame.Signals {
		if get, ok := canSignalFields[s.Name]; ok {
			values[s.Name] = get(cmd)
		}
	}
	return values
}

func (a *CANActuator) Apply(ctx context.Context, cmd message.Command) error {
	frame, err := a.canMap.EncodeEinrideFrame(a.frame.Name, a.Values(cmd))
	if err != nil {
		return fmt.Errorf("encode %s: %w", a.frame.Name, err)
	}
	if err := a.w.WriteFrame(ctx, frame); err != nil {
		return fmt.Errorf("write %s: %w", a.frame.Name, err)
	}
	a.log.Trace().Str("frame", frame.String()).Msg("TX")
	return nil
}
