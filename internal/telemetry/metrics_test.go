package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestInstruments(t *testing.T) (*Instruments, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Reader = reader
	provider, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	inst, err := NewInstruments(provider.Meter(MeterName), provider.Environment())
	require.NoError(t, err)
	return inst, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum for %s", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestInstrumentsRecordMonitorActivity(t *testing.T) {
	inst, reader := newTestInstruments(t)
	ctx := context.Background()

	inst.RecordCycle(ctx, "Men", 3*time.Second, 12)
	inst.RecordCycle(ctx, "Men", 2*time.Second, 10)
	inst.RecordVerification(ctx, "Men", "in_stock")
	inst.RecordVerification(ctx, "Men", "unknown")
	inst.RecordNotification(ctx, "Men", true)
	inst.RecordNotification(ctx, "Men", false)
	inst.RecordReset(ctx, "Men")

	metrics := collect(t, reader)
	require.Equal(t, int64(2), sumOf(t, metrics[MetricCycles]))
	require.Equal(t, int64(2), sumOf(t, metrics[MetricVerifications]))
	require.Equal(t, int64(2), sumOf(t, metrics[MetricNotifications]))
	require.Equal(t, int64(1), sumOf(t, metrics[MetricResets]))

	gauge, ok := metrics[MetricDiscovered].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	require.Equal(t, int64(10), gauge.DataPoints[0].Value)

	hist, ok := metrics[MetricCycleDuration].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	require.Equal(t, uint64(2), hist.DataPoints[0].Count)
	require.Equal(t, []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600}, hist.DataPoints[0].Bounds)
}

func TestNilInstrumentsAreNoops(t *testing.T) {
	var inst *Instruments
	ctx := context.Background()
	inst.RecordCycle(ctx, "Men", time.Second, 1)
	inst.RecordVerification(ctx, "Men", "in_stock")
	inst.RecordNotification(ctx, "Men", true)
	inst.RecordReset(ctx, "Men")
}

func TestDisabledProviderFallsBackToGlobalMeter(t *testing.T) {
	provider, err := NewProvider(context.Background(), DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, provider.Meter(MeterName))
	require.NoError(t, provider.Shutdown(context.Background()))
	require.Equal(t, "prod", provider.Environment())
}

func TestStripScheme(t *testing.T) {
	require.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("collector:4318"))
}
