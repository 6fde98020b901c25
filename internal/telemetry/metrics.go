package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "marketplace-chat/realtime"

// Metrics groups the instruments recorded by the gateway and pipelines.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	activeConnections    metric.Int64UpDownCounter
	authFailures         metric.Int64Counter
	messagesSent         metric.Int64Counter
	notificationsCreated metric.Int64Counter
	deliveriesDropped    metric.Int64Counter
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	var (
		m   Metrics
		err error
	)
	if m.activeConnections, err = meter.Int64UpDownCounter("chat.connections.active",
		metric.WithDescription("Authenticated websocket connections currently open")); err != nil {
		return nil, err
	}
	if m.authFailures, err = meter.Int64Counter("chat.auth.failures",
		metric.WithDescription("Rejected connection handshakes")); err != nil {
		return nil, err
	}
	if m.messagesSent, err = meter.Int64Counter("chat.messages.sent",
		metric.WithDescription("Conversation messages persisted and broadcast")); err != nil {
		return nil, err
	}
	if m.notificationsCreated, err = meter.Int64Counter("chat.notifications.created",
		metric.WithDescription("Notifications persisted")); err != nil {
		return nil, err
	}
	if m.deliveriesDropped, err = meter.Int64Counter("chat.deliveries.dropped",
		metric.WithDescription("Outbound frames dropped because a client buffer was full or closed")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeConnections.Add(ctx, 1)
}

func (m *Metrics) ConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeConnections.Add(ctx, -1)
}

func (m *Metrics) AuthFailed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.authFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) MessageSent(ctx context.Context) {
	if m == nil {
		return
	}
	m.messagesSent.Add(ctx, 1)
}

func (m *Metrics) NotificationCreated(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.notificationsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

func (m *Metrics) DeliveriesDropped(ctx context.Context, event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deliveriesDropped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("event", event)))
}
