package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	flowLocal    = "local"
	flowRegister = "register"
	flowOAuth    = "oauth"
	flowUnlink   = "unlink"
	flowAccount  = "account"
)

// ResolverMetrics records identity resolution outcomes
type ResolverMetrics struct {
	resolutions metric.Int64Counter
}

// NewResolverMetrics registers the resolver instruments on meter
func NewResolverMetrics(meter metric.Meter) (*ResolverMetrics, error) {
	resolutions, err := meter.Int64Counter(
		"identity_resolutions_total",
		metric.WithDescription("Authentication attempts by flow and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolutions counter: %w", err)
	}

	return &ResolverMetrics{resolutions: resolutions}, nil
}

func (m *ResolverMetrics) record(ctx context.Context, flow, provider, outcome string) {
	if m == nil {
		return
	}
	m.resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}
