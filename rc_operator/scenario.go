package main

import (
	"encoding/json"
	"fmt"
	"os"

	"rc-vehicle-core/message"
)

// Scenario is a scripted operator: timed segments of stick and button
// values played back at the network rate.
type Scenario struct {
	Meta     ScenarioMeta      `json:"meta"`
	Timing   ScenarioTiming    `json:"timing"`
	Defaults message.Command   `json:"defaults"`
	Segments []ScenarioSegment `json:"segments"`
}

type ScenarioMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

type ScenarioTiming struct {
	DurationS float64 `json:"duration_s"`
	// Loop restarts the scenario after DurationS instead of ending it.
	Loop bool `json:"loop"`
}

// ScenarioSegment holds its command over [T0, T1). T1 < 0 runs to the end.
// With Ramp the axes move linearly from the previous segment's values (or
// the defaults) to this segment's over the segment.
type ScenarioSegment struct {
	T0      float64         `json:"t0"`
	T1      float64         `json:"t1"`
	Ramp    bool            `json:"ramp,omitempty"`
	Command message.Command `json:"command"`
	Comment string          `json:"comment,omitempty"`
}

// LoadScenario loads a scenario from a JSON file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (Scenario, error) {
	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}

	if scen.Timing.DurationS <= 0 {
		return Scenario{}, fmt.Errorf("invalid duration_s: %f", scen.Timing.DurationS)
	}
	for i, seg := range scen.Segments {
		if seg.T1 >= 0 && seg.T1 <= seg.T0 {
			return Scenario{}, fmt.Errorf("segment %d: t1 %.3f not after t0 %.3f", i, seg.T1, seg.T0)
		}
	}
	return scen, nil
}

func (s *Scenario) segmentEnd(seg ScenarioSegment) float64 {
	if seg.T1 < 0 {
		return s.Timing.DurationS
	}
	return seg.T1
}

// Eval returns the operator command at t seconds into the scenario. Axis
// values are clamped to [-1, 1].
func (s *Scenario) Eval(t float64) message.Command {
	if s.Timing.Loop && t >= s.Timing.DurationS {
		t = t - float64(int(t/s.Timing.DurationS))*s.Timing.DurationS
	}

	prev := s.Defaults
	for _, seg := range s.Segments {
		t1 := s.segmentEnd(seg)
		if t >= seg.T0 && t < t1 {
			cmd := seg.Command
			if seg.Ramp {
				cmd = ramp(prev, seg.Command, float32((t-seg.T0)/(t1-seg.T0)))
			}
			return cmd.Clamp()
		}
		if t >= t1 {
			prev = seg.Command
		}
	}
	return s.Defaults.Clamp()
}

// ramp interpolates the axes from a to b; buttons come from b.
func ramp(a, b message.Command, f float32) message.Command {
	lerp := func(x, y float32) float32 { return x + (y-x)*f }
	out := b
	out.Throttle = lerp(a.Throttle, b.Throttle)
	out.Steering = lerp(a.Steering, b.Steering)
	out.ThrottleLeft = lerp(a.ThrottleLeft, b.ThrottleLeft)
	out.ThrottleRight = lerp(a.ThrottleRight, b.ThrottleRight)
	out.SteeringLeft = lerp(a.SteeringLeft, b.SteeringLeft)
	out.SteeringRight = lerp(a.SteeringRight, b.SteeringRight)
	return out
}
