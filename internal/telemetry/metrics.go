package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Instruments groups the monitor's counters and histograms. A nil *Instruments
// records nothing.
type Instruments struct {
	env           string
	cycles        metric.Int64Counter
	cycleDuration metric.Float64Histogram
	discovered    metric.Int64Gauge
	verifications metric.Int64Counter
	notifications metric.Int64Counter
	resets        metric.Int64Counter
}

// NewInstruments creates every stockwatch instrument on the given meter.
func NewInstruments(meter metric.Meter, environment string) (*Instruments, error) {
	cycles, err := meter.Int64Counter(MetricCycles,
		metric.WithDescription("Completed monitor cycles"),
		metric.WithUnit("{cycle}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricCycles, err)
	}
	cycleDuration, err := meter.Float64Histogram(MetricCycleDuration,
		metric.WithDescription("Monitor cycle duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricCycleDuration, err)
	}
	discovered, err := meter.Int64Gauge(MetricDiscovered,
		metric.WithDescription("Products returned by the last discovery"),
		metric.WithUnit("{product}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricDiscovered, err)
	}
	verifications, err := meter.Int64Counter(MetricVerifications,
		metric.WithDescription("Product page verifications by outcome"),
		metric.WithUnit("{verification}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricVerifications, err)
	}
	notifications, err := meter.Int64Counter(MetricNotifications,
		metric.WithDescription("Telegram notifications by destination and outcome"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricNotifications, err)
	}
	resets, err := meter.Int64Counter(MetricResets,
		metric.WithDescription("Daily state resets"),
		metric.WithUnit("{reset}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricResets, err)
	}
	return &Instruments{
		env:           environment,
		cycles:        cycles,
		cycleDuration: cycleDuration,
		discovered:    discovered,
		verifications: verifications,
		notifications: notifications,
		resets:        resets,
	}, nil
}

// RecordCycle records a completed cycle for filter.
func (i *Instruments) RecordCycle(ctx context.Context, filter string, took time.Duration, discovered int) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(i.env, filter)...)
	i.cycles.Add(ctx, 1, attrs)
	i.cycleDuration.Record(ctx, took.Seconds(), attrs)
	i.discovered.Record(ctx, int64(discovered), attrs)
}

// RecordVerification counts one verification outcome.
func (i *Instruments) RecordVerification(ctx context.Context, filter, result string) {
	if i == nil {
		return
	}
	i.verifications.Add(ctx, 1, metric.WithAttributes(VerificationAttributes(i.env, filter, result)...))
}

// RecordNotification counts one notification attempt outcome.
func (i *Instruments) RecordNotification(ctx context.Context, destination string, delivered bool) {
	if i == nil {
		return
	}
	result := ResultFailed
	if delivered {
		result = ResultDelivered
	}
	i.notifications.Add(ctx, 1, metric.WithAttributes(NotificationAttributes(i.env, destination, result)...))
}

// RecordReset counts a daily state reset.
func (i *Instruments) RecordReset(ctx context.Context, filter string) {
	if i == nil {
		return
	}
	i.resets.Add(ctx, 1, metric.WithAttributes(FilterAttributes(i.env, filter)...))
}
