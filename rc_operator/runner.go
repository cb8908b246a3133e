package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"rc-vehicle-core/message"
	"rc-vehicle-core/transport"
)

// Runner plays a Scenario into the client queue at a fixed rate.
type Runner struct {
	scen   Scenario
	out    *transport.Sender
	period time.Duration
	log    zerolog.Logger
}

// NewRunner takes ownership of out and closes it when Run returns.
func NewRunner(scen Scenario, out *transport.Sender, rateHz float64, log zerolog.Logger) (*Runner, error) {
	if rateHz <= 0 {
		return nil, fmt.Errorf("invalid rate_hz %.2f", rateHz)
	}
	return &Runner{
		scen:   scen,
		out:    out,
		period: time.Duration(float64(time.Second) / rateHz),
		log:    log.With().Str("component", "runner").Logger(),
	}, nil
}

// Run sends one command per period until the scenario ends or ctx is
// cancelled. Either way the last command sent is the fail-safe.
func (r *Runner) Run(ctx context.Context) error {
	defer r.out.Close()

	r.log.Info().
		Str("scenario", r.scen.Meta.Name).
		Float64("duration_s", r.scen.Timing.DurationS).
		Bool("loop", r.scen.Timing.Loop).
		Dur("period", r.period).
		Msg("Starting playback")

	start := time.Now()
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	endAfter := time.Duration(r.scen.Timing.DurationS * float64(time.Second))
	var sent uint64
	var last message.Command

	for {
		select {
		case <-ctx.Done():
			r.log.Warn().Msg("Context canceled; stopping playback")
			r.stop(sent)
			return ctx.Err()

		case now := <-ticker.C:
			elapsed := now.Sub(start)
			if !r.scen.Timing.Loop && elapsed > endAfter {
				r.stop(sent)
				return nil
			}

			cmd := r.scen.Eval(elapsed.Seconds())
			if err := r.out.Send(cmd); err != nil {
				if errors.Is(err, transport.ErrClosed) {
					r.log.Warn().Msg("client gone; stopping playback")
					return nil
				}
				return err
			}
			sent++

			if cmd != last {
				r.log.Debug().Float64("t", elapsed.Seconds()).Stringer("cmd", cmd).Msg("TX")
			}
			last = cmd
		}
	}
}

func (r *Runner) stop(sent uint64) {
	if err := r.out.Send(message.FailSafe()); err != nil {
		r.log.Debug().Err(err).Msg("final fail-safe not queued")
	}
	r.log.Info().Uint64("commands_sent", sent+1).Msg("Completed playback")
}
