package utils

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "rc-vehicle-core"

// Metrics holds the counters shared by transport, vehicle core and drivers.
type Metrics struct {
	datagramsReceived metric.Int64Counter
	datagramsSent     metric.Int64Counter
	decodeErrors      metric.Int64Counter
	sendFailures      metric.Int64Counter
	watchdogTrips     metric.Int64Counter
	failSafeForwards  metric.Int64Counter
	commandsApplied   metric.Int64Counter
	envelopeChanges   metric.Int64Counter
	publishFailures   metric.Int64Counter
}

// NewMetrics registers the counters on the global meter provider. Without an
// SDK installed that provider is a no-op.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFromMeter(otel.Meter(meterName))
}

// NopMetrics returns counters that record nothing.
func NopMetrics() *Metrics {
	m, err := NewMetricsFromMeter(noop.NewMeterProvider().Meter(meterName))
	if err != nil {
		// noop instruments never fail to register
		panic(err)
	}
	return m
}

// NewMetricsFromMeter registers the counters on meter.
func NewMetricsFromMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.datagramsReceived, "rc.transport.datagrams_received", "UDP datagrams received by the server"},
		{&m.datagramsSent, "rc.transport.datagrams_sent", "UDP datagrams sent by the client"},
		{&m.decodeErrors, "rc.transport.decode_errors", "datagrams that failed to decode"},
		{&m.sendFailures, "rc.transport.send_failures", "client sends that failed or timed out"},
		{&m.watchdogTrips, "rc.vehicle.watchdog_trips", "watchdog periods without a command"},
		{&m.failSafeForwards, "rc.vehicle.failsafe_forwards", "fail-safe commands forwarded to the driver"},
		{&m.commandsApplied, "rc.vehicle.commands_applied", "operator commands forwarded to the driver"},
		{&m.envelopeChanges, "rc.vehicle.envelope_changes", "throttle envelope adjustments"},
		{&m.publishFailures, "rc.output.publish_failures", "applied-command publishes that failed"},
	}
	for _, c := range counters {
		ctr, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", c.name, err)
		}
		*c.dst = ctr
	}
	return m, nil
}

func (m *Metrics) DatagramReceived(ctx context.Context) { m.datagramsReceived.Add(ctx, 1) }
func (m *Metrics) DatagramSent(ctx context.Context)     { m.datagramsSent.Add(ctx, 1) }
func (m *Metrics) DecodeFailed(ctx context.Context)     { m.decodeErrors.Add(ctx, 1) }
func (m *Metrics) SendFailed(ctx context.Context)       { m.sendFailures.Add(ctx, 1) }
func (m *Metrics) WatchdogTripped(ctx context.Context)  { m.watchdogTrips.Add(ctx, 1) }
func (m *Metrics) CommandApplied(ctx context.Context)   { m.commandsApplied.Add(ctx, 1) }
func (m *Metrics) PublishFailed(ctx context.Context)    { m.publishFailures.Add(ctx, 1) }

// FailSafeForwarded counts a fail-safe send, tagged with why it was sent.
func (m *Metrics) FailSafeForwarded(ctx context.Context, reason string) {
	m.failSafeForwards.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// EnvelopeChanged counts a throttle envelope step in direction "up" or "down".
func (m *Metrics) EnvelopeChanged(ctx context.Context, direction string) {
	m.envelopeChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}
