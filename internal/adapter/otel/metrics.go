package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "foreman"

// Metrics holds all Foreman metric instruments.
type Metrics struct {
	HandoffsDelivered metric.Int64Counter
	CapabilityDenials metric.Int64Counter
	ReviewsCompleted  metric.Int64Counter
	FindingsReported  metric.Int64Counter
	ReviewDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.HandoffsDelivered, err = meter.Int64Counter("foreman.handoffs.delivered",
		metric.WithDescription("Number of role handoffs delivered"))
	if err != nil {
		return nil, err
	}

	m.CapabilityDenials, err = meter.Int64Counter("foreman.capability.denials",
		metric.WithDescription("Number of operations rejected by the capability gate"))
	if err != nil {
		return nil, err
	}

	m.ReviewsCompleted, err = meter.Int64Counter("foreman.reviews.completed",
		metric.WithDescription("Number of review fan-outs completed"))
	if err != nil {
		return nil, err
	}

	m.FindingsReported, err = meter.Int64Counter("foreman.findings.reported",
		metric.WithDescription("Number of review findings surviving synthesis"))
	if err != nil {
		return nil, err
	}

	m.ReviewDuration, err = meter.Float64Histogram("foreman.review.duration_seconds",
		metric.WithDescription("Review fan-out duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
