package checkout

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/checkout"

type telemetry struct {
	tracer      trace.Tracer
	initiations metric.Int64Counter
	outcomes    metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*telemetry, error) {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	initiations, err := meter.Int64Counter("checkout.initiations",
		metric.WithDescription("Payment initiations by rail and result"),
	)
	if err != nil {
		return nil, err
	}
	outcomes, err := meter.Int64Counter("checkout.reconciliations",
		metric.WithDescription("Reconciliation outcomes by rail and terminal state"),
	)
	if err != nil {
		return nil, err
	}
	return &telemetry{
		tracer:      tp.Tracer(instrumentationName),
		initiations: initiations,
		outcomes:    outcomes,
	}, nil
}

func (t *telemetry) initiated(ctx context.Context, rail string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	t.initiations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rail", rail),
		attribute.String("result", result),
	))
}

func (t *telemetry) reconciled(ctx context.Context, rail string, state State) {
	t.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rail", rail),
		attribute.String("state", string(state)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
