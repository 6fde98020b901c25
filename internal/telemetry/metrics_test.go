package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", agg)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.ConnectionOpened(ctx)
	m.ConnectionOpened(ctx)
	m.ConnectionClosed(ctx)
	m.AuthFailed(ctx, "authentication failed")
	m.MessageSent(ctx)
	m.MessageSent(ctx)
	m.NotificationCreated(ctx, "job")
	m.DeliveriesDropped(ctx, "message_received", 3)
	m.DeliveriesDropped(ctx, "message_received", 0)

	got := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, got["chat.connections.active"]))
	assert.Equal(t, int64(1), sumOf(t, got["chat.auth.failures"]))
	assert.Equal(t, int64(2), sumOf(t, got["chat.messages.sent"]))
	assert.Equal(t, int64(3), sumOf(t, got["chat.deliveries.dropped"]))

	created := got["chat.notifications.created"].(metricdata.Sum[int64])
	require.Len(t, created.DataPoints, 1)
	category, ok := created.DataPoints[0].Attributes.Value(attribute.Key("category"))
	require.True(t, ok)
	assert.Equal(t, "job", category.AsString())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.ConnectionOpened(ctx)
		m.ConnectionClosed(ctx)
		m.AuthFailed(ctx, "x")
		m.MessageSent(ctx)
		m.NotificationCreated(ctx, "x")
		m.DeliveriesDropped(ctx, "x", 1)
	})
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, "", "marketplace-chat")
	require.NoError(t, err)
	require.NotNil(t, p.MeterProvider)
	_, err = NewMetrics(p.MeterProvider)
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(ctx))

	_, err = NewProvider(ctx, "http://", "marketplace-chat")
	assert.Error(t, err)
}
