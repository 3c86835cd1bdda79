package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys attached to stockwatch metrics.
const (
	AttrEnvironment = attribute.Key("environment")
	AttrFilter      = attribute.Key("filter")
	AttrDestination = attribute.Key("destination")
	AttrResult      = attribute.Key("result")
)

// Metric names.
const (
	MetricCycles        = "stockwatch_cycles_total"
	MetricCycleDuration = "stockwatch_cycle_duration"
	MetricDiscovered    = "stockwatch_products_discovered"
	MetricVerifications = "stockwatch_verifications_total"
	MetricNotifications = "stockwatch_notifications_total"
	MetricResets        = "stockwatch_state_resets_total"
)

// Notification result values.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
)

// FilterAttributes returns common attributes for per-filter metrics.
func FilterAttributes(environment, filter string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrFilter.String(filter),
	}
}

// VerificationAttributes returns attributes for verification outcome metrics.
func VerificationAttributes(environment, filter, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrFilter.String(filter),
		AttrResult.String(result),
	}
}

// NotificationAttributes returns attributes for notification delivery metrics.
func NotificationAttributes(environment, destination, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrDestination.String(destination),
		AttrResult.String(result),
	}
}
