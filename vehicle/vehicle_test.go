package vehicle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rc-vehicle-core/message"
	"rc-vehicle-core/output"
	"rc-vehicle-core/transport"
)

type recordingDriver struct {
	mu      sync.Mutex
	applied []message.Command
	fail    func(message.Command) error
}

func (d *recordingDriver) Apply(_ context.Context, cmd message.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		if err := d.fail(cmd); err != nil {
			return err
		}
	}
	d.applied = append(d.applied, cmd)
	return nil
}

func (d *recordingDriver) snapshot() []message.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]message.Command(nil), d.applied...)
}

// operator returns the commands that were not fail-safes.
func (d *recordingDriver) operator() []message.Command {
	var out []message.Command
	for _, c := range d.snapshot() {
		if !c.IsFailSafe() {
			out = append(out, c)
		}
	}
	return out
}

func testLimits() Limits {
	l := DefaultLimits()
	l.Watchdog = 50 * time.Millisecond
	return l
}

func run(t *testing.T, v *Vehicle) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- v.Run(context.Background()) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("vehicle did not stop")
		return nil
	}
}

// feed queues cmds, closes the producer and runs the vehicle to completion.
func feed(t *testing.T, limits Limits, cmds ...message.Command) *recordingDriver {
	t.Helper()
	tx, rx := transport.NewQueue()
	for _, c := range cmds {
		require.NoError(t, tx.Send(c))
	}
	tx.Close()

	d := &recordingDriver{}
	v := New(rx, d, limits, zerolog.Nop(), nil)
	require.NoError(t, wait(t, run(t, v)))
	assert.Equal(t, Closing, v.State())
	return d
}

func TestVehicle_WatchdogForwardsFailSafe(t *testing.T) {
	tx, rx := transport.NewQueue()
	defer tx.Close()

	d := &recordingDriver{}
	v := New(rx, d, testLimits(), zerolog.Nop(), nil)
	done := run(t, v)

	require.Eventually(t, func() bool { return len(d.snapshot()) >= 2 }, time.Second, 5*time.Millisecond)
	for _, c := range d.snapshot() {
		assert.True(t, c.IsFailSafe())
	}

	v.Close()
	require.NoError(t, wait(t, done))
}

func TestVehicle_WatchdogAfterCommand(t *testing.T) {
	tx, rx := transport.NewQueue()
	defer tx.Close()

	d := &recordingDriver{}
	v := New(rx, d, testLimits(), zerolog.Nop(), nil)
	done := run(t, v)

	require.NoError(t, tx.Send(message.Command{Throttle: 0.5}))
	require.Eventually(t, func() bool {
		got := d.snapshot()
		return len(got) > 0 && got[len(got)-1].IsFailSafe() && len(d.operator()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float32(0.5), d.operator()[0].Throttle)

	v.Close()
	require.NoError(t, wait(t, done))
}

func TestVehicle_DisconnectForwardsFailSafeOnce(t *testing.T) {
	d := feed(t, testLimits(), message.Command{Steering: 0.3})

	got := d.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, float32(0.3), got[0].Steering)
	assert.Equal(t, message.FailSafe(), got[1])
}

func TestVehicle_CloseForwardsFailSafe(t *testing.T) {
	tx, rx := transport.NewQueue()
	defer tx.Close()

	d := &recordingDriver{}
	limits := testLimits()
	limits.Watchdog = time.Second
	v := New(rx, d, limits, zerolog.Nop(), nil)
	done := run(t, v)

	v.Close()
	v.Close()
	require.NoError(t, wait(t, done))

	got := d.snapshot()
	require.NotEmpty(t, got)
	assert.True(t, got[len(got)-1].IsFailSafe())

	// the consumer side is gone once Run returns
	assert.ErrorIs(t, tx.Send(message.Command{}), transport.ErrClosed)
}

func TestVehicle_ContextCancelForwardsFailSafe(t *testing.T) {
	tx, rx := transport.NewQueue()
	defer tx.Close()

	var sawLive bool
	d := &recordingDriver{}
	v := New(rx, output.DriverFunc(func(ctx context.Context, c message.Command) error {
		sawLive = ctx.Err() == nil
		return d.Apply(ctx, c)
	}), DefaultLimits(), zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()
	cancel()
	require.NoError(t, wait(t, done))

	got := d.snapshot()
	require.Len(t, got, 1)
	assert.True(t, got[0].IsFailSafe())
	assert.True(t, sawLive, "fail-safe must be applied with a live context")
}

func TestVehicle_EnvelopeEdgeTriggered(t *testing.T) {
	d := feed(t, testLimits(),
		message.Command{Throttle: 1, ModeDown: true},
		message.Command{Throttle: 1},
		message.Command{Throttle: 1, ModeDown: true},
	)

	got := d.operator()
	require.Len(t, got, 3)
	assert.InDelta(t, 0.9, got[0].Throttle, 1e-6)
	assert.InDelta(t, 0.9, got[1].Throttle, 1e-6)
	assert.InDelta(t, 0.8, got[2].Throttle, 1e-6)
}

func TestVehicle_HeldButtonStepsOnce(t *testing.T) {
	held := message.Command{Throttle: 1, ModeDown: true}
	d := feed(t, testLimits(), held, held, held, held)

	for _, c := range d.operator() {
		assert.InDelta(t, 0.9, c.Throttle, 1e-6)
	}
}

func TestVehicle_EnvelopeUpClampsAtOne(t *testing.T) {
	limits := testLimits()
	limits.ThrottleMax = 0.2
	limits.ThrottleMin = -0.2

	var cmds []message.Command
	for i := 0; i < 12; i++ {
		cmds = append(cmds, message.Command{ThrottleLeft: -1, ThrottleRight: 0.5, ModeUp: true}, message.Command{ThrottleLeft: -1, ThrottleRight: 0.5})
	}
	d := feed(t, limits, cmds...)

	got := d.operator()
	require.Len(t, got, 24)
	assert.InDelta(t, -0.3, got[0].ThrottleLeft, 1e-6)
	assert.InDelta(t, 0.15, got[0].ThrottleRight, 1e-6)
	last := got[len(got)-1]
	assert.InDelta(t, -1.0, last.ThrottleLeft, 1e-6)
	assert.InDelta(t, 0.5, last.ThrottleRight, 1e-6)
}

func TestVehicle_SteeringTrim(t *testing.T) {
	var cmds []message.Command
	for i := 0; i < 10; i++ {
		cmds = append(cmds, message.Command{ModeLeft: true})
	}
	cmds = append(cmds,
		message.Command{Steering: 0},
		message.Command{Steering: -0.05},
		message.Command{Steering: -0.5},
		message.Command{Steering: 0.5},
	)
	d := feed(t, testLimits(), cmds...)

	got := d.operator()
	require.Len(t, got, 14)
	assert.InDelta(t, -0.10, got[9].Steering, 1e-5)
	assert.InDelta(t, -0.10, got[10].Steering, 1e-5)
	assert.InDelta(t, -0.10, got[11].Steering, 1e-5)
	assert.InDelta(t, -0.5, got[12].Steering, 1e-6)
	assert.InDelta(t, 0.5, got[13].Steering, 1e-6)
}

func TestGovern_PositiveTrimFloor(t *testing.T) {
	_, rx := transport.NewQueue()
	limits := DefaultLimits()
	limits.SteeringOffset = 0.2
	v := New(rx, &recordingDriver{}, limits, zerolog.Nop(), nil)

	cases := []struct{ in, want float32 }{
		{0, 0.2},
		{0.1, 0.2},
		{0.3, 0.3},
		{-0.1, -0.1},
	}
	for _, tc := range cases {
		got := v.govern(message.Command{Steering: tc.in})
		assert.InDelta(t, tc.want, got.Steering, 1e-6, "steering %v", tc.in)
	}
}

func TestGovern_TrimClamps(t *testing.T) {
	_, rx := transport.NewQueue()
	limits := DefaultLimits()
	limits.SteeringOffset = 0.995
	v := New(rx, &recordingDriver{}, limits, zerolog.Nop(), nil)

	for i := 0; i < 5; i++ {
		v.govern(message.Command{ModeRight: true})
	}
	assert.Equal(t, float32(1), v.steeringOffset)
}

func TestGovern_ZeroThrottleStaysZero(t *testing.T) {
	_, rx := transport.NewQueue()
	v := New(rx, &recordingDriver{}, DefaultLimits(), zerolog.Nop(), nil)
	v.throttleMax = 0.5

	got := v.govern(message.Command{Throttle: 0, ThrottleLeft: 0, ThrottleRight: 0})
	assert.Equal(t, float32(0), got.Throttle)
	assert.Equal(t, float32(0), got.ThrottleLeft)
	assert.Equal(t, float32(0), got.ThrottleRight)
}

func TestVehicle_FailSafeAfterWatchdogRearmsEdge(t *testing.T) {
	tx, rx := transport.NewQueue()
	defer tx.Close()

	d := &recordingDriver{}
	v := New(rx, d, testLimits(), zerolog.Nop(), nil)
	done := run(t, v)

	require.NoError(t, tx.Send(message.Command{Throttle: 1, ModeDown: true}))
	// let the watchdog forward a fail-safe, which releases the button
	require.Eventually(t, func() bool {
		got := d.snapshot()
		return len(got) > 0 && got[len(got)-1].IsFailSafe() && len(d.operator()) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, tx.Send(message.Command{Throttle: 1, ModeDown: true}))
	require.Eventually(t, func() bool { return len(d.operator()) == 2 }, time.Second, 5*time.Millisecond)

	v.Close()
	require.NoError(t, wait(t, done))

	got := d.operator()
	assert.InDelta(t, 0.9, got[0].Throttle, 1e-6)
	assert.InDelta(t, 0.8, got[1].Throttle, 1e-6)
}

func TestVehicle_RejectedFailSafeKeepsEdge(t *testing.T) {
	tx, rx := transport.NewQueue()
	defer tx.Close()

	var rejected int
	d := &recordingDriver{fail: func(c message.Command) error {
		if c.IsFailSafe() {
			rejected++
			return errors.New("bus off")
		}
		return nil
	}}
	v := New(rx, d, testLimits(), zerolog.Nop(), nil)
	done := run(t, v)

	require.NoError(t, tx.Send(message.Command{Throttle: 1, ModeDown: true}))
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.applied) == 1 && rejected >= 1
	}, time.Second, 5*time.Millisecond)
	// the button is still held as far as the vehicle knows
	require.NoError(t, tx.Send(message.Command{Throttle: 1, ModeDown: true}))
	require.Eventually(t, func() bool { return len(d.operator()) == 2 }, time.Second, 5*time.Millisecond)

	v.Close()
	require.NoError(t, wait(t, done))

	got := d.operator()
	assert.InDelta(t, 0.9, got[0].Throttle, 1e-6)
	assert.InDelta(t, 0.9, got[1].Throttle, 1e-6)
}

func TestVehicle_DriverFailureIsFatal(t *testing.T) {
	tx, rx := transport.NewQueue()
	require.NoError(t, tx.Send(message.Command{Throttle: 0.5}))
	defer tx.Close()

	d := &recordingDriver{fail: func(c message.Command) error {
		if c.IsFailSafe() {
			return nil
		}
		return errors.New("esc fault")
	}}
	v := New(rx, d, testLimits(), zerolog.Nop(), nil)

	err := wait(t, run(t, v))
	assert.ErrorContains(t, err, "esc fault")
	assert.Equal(t, Closing, v.State())
}

func TestVehicle_FailSafeFailureSwallowed(t *testing.T) {
	tx, rx := transport.NewQueue()
	defer tx.Close()

	calls := 0
	d := &recordingDriver{fail: func(message.Command) error {
		calls++
		return errors.New("bus off")
	}}
	v := New(rx, d, testLimits(), zerolog.Nop(), nil)
	done := run(t, v)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)

	v.Close()
	assert.NoError(t, wait(t, done))
}

func TestVehicle_RepeatedFailSafeIdempotent(t *testing.T) {
	d := feed(t, testLimits(),
		message.FailSafe(),
		message.FailSafe(),
		message.Command{Throttle: 1},
	)

	got := d.snapshot()
	require.Len(t, got, 4)
	for _, c := range got[:2] {
		assert.Equal(t, message.FailSafe(), c)
	}
	assert.InDelta(t, 1.0, got[2].Throttle, 1e-6)
}

func TestLimits_Defaults(t *testing.T) {
	l := Limits{ThrottleMax: 3, ThrottleMin: -3, SteeringOffset: 2}.withDefaults()
	assert.Equal(t, DefaultWatchdog, l.Watchdog)
	assert.InDelta(t, DefaultEnvelopeStep, l.EnvelopeStep, 1e-6)
	assert.InDelta(t, DefaultTrimStep, l.TrimStep, 1e-6)
	assert.Equal(t, float32(1), l.ThrottleMax)
	assert.Equal(t, float32(-1), l.ThrottleMin)
	assert.Equal(t, float32(1), l.SteeringOffset)
	assert.Equal(t, "closing", Closing.String())
}
