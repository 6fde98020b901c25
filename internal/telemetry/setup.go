// Package telemetry wires OpenTelemetry metrics for the realtime server.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Provider owns the MeterProvider and how to shut it down.
type Provider struct {
	MeterProvider *metric.MeterProvider
	Shutdown      func(context.Context) error
}

// NewProvider returns a MeterProvider exporting over OTLP gRPC to endpoint.
// An empty endpoint yields a provider with no reader, so instruments are
// recorded nowhere.
func NewProvider(ctx context.Context, endpoint, serviceName string) (*Provider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		mp := metric.NewMeterProvider()
		return &Provider{MeterProvider: mp, Shutdown: mp.Shutdown}, nil
	}

	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(u.Host)}
	if u.Scheme != "https" {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exp, metric.WithInterval(10*time.Second))),
	)
	return &Provider{MeterProvider: mp, Shutdown: mp.Shutdown}, nil
}

// SetGlobal installs the MeterProvider as the otel global.
func (p *Provider) SetGlobal() {
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
}
