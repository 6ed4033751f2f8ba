package session

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	transitions    metric.Int64Counter
	failures       metric.Int64Counter
	createLatency  metric.Float64Histogram
	reaperRuns     metric.Int64Counter
	reaperSkipped  metric.Int64Counter
	reaperFailures metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var (
		m    metrics
		errs []error
		err  error
	)

	m.transitions, err = meter.Int64Counter(
		"session.transitions",
		metric.WithDescription("Committed session lifecycle transitions"),
		metric.WithUnit("1"),
	)
	errs = append(errs, err)

	m.failures, err = meter.Int64Counter(
		"session.failures",
		metric.WithDescription("Session operations that returned an error"),
		metric.WithUnit("1"),
	)
	errs = append(errs, err)

	m.createLatency, err = meter.Float64Histogram(
		"session.create.duration",
		metric.WithDescription("Time to create or attach a session"),
		metric.WithUnit("s"),
	)
	errs = append(errs, err)

	m.reaperRuns, err = meter.Int64Counter(
		"session.reaper.runs",
		metric.WithDescription("Completed reaper passes"),
		metric.WithUnit("1"),
	)
	errs = append(errs, err)

	m.reaperSkipped, err = meter.Int64Counter(
		"session.reaper.skipped",
		metric.WithDescription("Idle candidates left alone because they became busy"),
		metric.WithUnit("1"),
	)
	errs = append(errs, err)

	m.reaperFailures, err = meter.Int64Counter(
		"session.reaper.failures",
		metric.WithDescription("Evictions that failed unexpectedly"),
		metric.WithUnit("1"),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metrics) recordTransition(ctx context.Context, transition string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", transition)))
}

func (m *metrics) recordFailure(ctx context.Context, op string, err error) {
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("error_type", errorKind(err)),
	))
}
