// Package vehicle is the safety governor between the network and the output
// driver. It forwards a neutral fail-safe command whenever the link goes
// quiet, scales throttle into an operator-adjustable envelope and applies a
// steering trim.
package vehicle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"rc-vehicle-core/message"
	"rc-vehicle-core/output"
	"rc-vehicle-core/transport"
	"rc-vehicle-core/utils"
)

const (
	DefaultWatchdog     = 200 * time.Millisecond
	DefaultEnvelopeStep = 0.10
	DefaultTrimStep     = 0.01

	// upper bound on delivering the last fail-safe once the run context is
	// already cancelled
	shutdownFailSafeTimeout = time.Second
)

// Limits is the starting envelope and trim plus the knobs that move them.
type Limits struct {
	ThrottleMin    float32
	ThrottleMax    float32
	SteeringOffset float32
	EnvelopeStep   float32
	TrimStep       float32
	Watchdog       time.Duration
}

// DefaultLimits is the full envelope with no trim.
func DefaultLimits() Limits {
	return Limits{
		ThrottleMin:  -1,
		ThrottleMax:  1,
		EnvelopeStep: DefaultEnvelopeStep,
		TrimStep:     DefaultTrimStep,
		Watchdog:     DefaultWatchdog,
	}
}

func (l Limits) withDefaults() Limits {
	if l.EnvelopeStep <= 0 {
		l.EnvelopeStep = DefaultEnvelopeStep
	}
	if l.TrimStep <= 0 {
		l.TrimStep = DefaultTrimStep
	}
	if l.Watchdog <= 0 {
		l.Watchdog = DefaultWatchdog
	}
	l.ThrottleMax = clamp(l.ThrottleMax, 0, 1)
	l.ThrottleMin = clamp(l.ThrottleMin, -1, 0)
	l.SteeringOffset = clamp(l.SteeringOffset, -1, 1)
	return l
}

// State is the lifecycle of a Vehicle.
type State int32

const (
	Running State = iota
	Closing
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Vehicle consumes commands from a queue and forwards governed commands to
// a driver. Envelope and trim are owned by the Run goroutine.
type Vehicle struct {
	in      *transport.Receiver
	driver  output.Driver
	limits  Limits
	log     zerolog.Logger
	metrics *utils.Metrics

	closeMu sync.Mutex
	closed  bool
	state   atomic.Int32

	throttleMin    float32
	throttleMax    float32
	steeringOffset float32
	last           *message.Command
}

func New(in *transport.Receiver, driver output.Driver, limits Limits, log zerolog.Logger, metrics *utils.Metrics) *Vehicle {
	limits = limits.withDefaults()
	if metrics == nil {
		metrics = utils.NopMetrics()
	}
	return &Vehicle{
		in:             in,
		driver:         driver,
		limits:         limits,
		log:            log.With().Str("component", "vehicle").Logger(),
		metrics:        metrics,
		throttleMin:    limits.ThrottleMin,
		throttleMax:    limits.ThrottleMax,
		steeringOffset: limits.SteeringOffset,
	}
}

// Close asks Run to forward a last fail-safe and stop. Run notices within
// one watchdog period.
func (v *Vehicle) Close() {
	v.closeMu.Lock()
	v.closed = true
	v.closeMu.Unlock()
}

func (v *Vehicle) isClosed() bool {
	v.closeMu.Lock()
	defer v.closeMu.Unlock()
	return v.closed
}

func (v *Vehicle) State() State { return State(v.state.Load()) }

// Run loops until Close, ctx cancellation or the queue disconnecting, each
// of which forwards one fail-safe before returning nil. A driver error on
// an operator command is returned.
func (v *Vehicle) Run(ctx context.Context) error {
	defer v.state.Store(int32(Closing))
	defer v.in.Close()

	v.log.Info().
		Float32("throttle_min", v.throttleMin).
		Float32("throttle_max", v.throttleMax).
		Float32("steering_offset", v.steeringOffset).
		Dur("watchdog", v.limits.Watchdog).
		Msg("Vehicle started")

	for {
		if v.isClosed() || ctx.Err() != nil {
			v.forwardFailSafe(ctx, "close")
			v.log.Info().Msg("Vehicle stopped")
			return nil
		}

		cmd, err := v.in.RecvTimeoutContext(ctx, v.limits.Watchdog)
		switch {
		case errors.Is(err, transport.ErrTimeout):
			v.metrics.WatchdogTripped(ctx)
			v.log.Debug().Dur("watchdog", v.limits.Watchdog).Msg("no command within watchdog; fail-safe")
			v.forwardFailSafe(ctx, "watchdog")
			continue
		case errors.Is(err, transport.ErrDisconnected):
			v.forwardFailSafe(ctx, "disconnected")
			v.log.Warn().Msg("command queue disconnected; Vehicle stopped")
			return nil
		case ctx.Err() != nil:
			// handled at the top of the loop
			continue
		case err != nil:
			return err
		}

		governed := v.govern(cmd)
		if err := v.driver.Apply(ctx, governed); err != nil {
			utils.Critical(v.log).Err(err).Stringer("cmd", governed).Msg("driver rejected command")
			return fmt.Errorf("apply command: %w", err)
		}
		v.metrics.CommandApplied(ctx)
		v.log.Trace().Stringer("in", cmd).Stringer("out", governed).Msg("applied")
		v.last = &governed
	}
}

// forwardFailSafe sends the neutral command, logging rather than returning
// driver errors. An applied fail-safe becomes the last command for edge
// detection.
func (v *Vehicle) forwardFailSafe(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), shutdownFailSafeTimeout)
		defer cancel()
	}

	safe := message.FailSafe()
	v.metrics.FailSafeForwarded(ctx, reason)
	if err := v.driver.Apply(ctx, safe); err != nil {
		v.log.Warn().Err(err).Str("reason", reason).Msg("fail-safe not applied")
		return
	}
	v.last = &safe
}

// govern applies the envelope and trim buttons of cmd to the vehicle state
// and returns cmd with throttle scaled and steering floored.
func (v *Vehicle) govern(cmd message.Command) message.Command {
	step := v.limits.EnvelopeStep
	if cmd.ModeUp && (v.last == nil || !v.last.ModeUp) {
		v.throttleMax = clamp(v.throttleMax+step, 0, 1)
		v.throttleMin = clamp(v.throttleMin-step, -1, 0)
		v.envelopeChanged("up")
	}
	if cmd.ModeDown && (v.last == nil || !v.last.ModeDown) {
		v.throttleMax = clamp(v.throttleMax-step, 0, 1)
		v.throttleMin = clamp(v.throttleMin+step, -1, 0)
		v.envelopeChanged("down")
	}

	if cmd.ModeLeft {
		v.steeringOffset = clamp(v.steeringOffset-v.limits.TrimStep, -1, 1)
	}
	if cmd.ModeRight {
		v.steeringOffset = clamp(v.steeringOffset+v.limits.TrimStep, -1, 1)
	}

	cmd.Throttle = scale(cmd.Throttle, v.throttleMax)
	cmd.ThrottleLeft = scale(cmd.ThrottleLeft, v.throttleMax)
	cmd.ThrottleRight = scale(cmd.ThrottleRight, v.throttleMax)

	off := v.steeringOffset
	switch {
	case off > 0 && cmd.Steering >= 0 && cmd.Steering < off:
		cmd.Steering = off
	case off < 0 && cmd.Steering <= 0 && cmd.Steering > off:
		cmd.Steering = off
	}
	return cmd
}

func (v *Vehicle) envelopeChanged(direction string) {
	v.metrics.EnvelopeChanged(context.Background(), direction)
	v.log.Info().
		Str("direction", direction).
		Float32("throttle_min", v.throttleMin).
		Float32("throttle_max", v.throttleMax).
		Msg("throttle envelope changed")
}

// scale multiplies v by the envelope maximum. Only the positive bound is
// used, in both directions.
func scale(v, limit float32) float32 {
	if v == 0 {
		return 0
	}
	return v * limit
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
