package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/MeltyDeays/AgroApp-sub000/internal/services"

var tracer = otel.Tracer(instrumentationName)

type serviceTelemetry struct {
	operations metric.Int64Counter
	debitedKg  metric.Float64Counter
}

func newServiceTelemetry(meter metric.Meter) serviceTelemetry {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	var t serviceTelemetry
	t.operations, _ = meter.Int64Counter("fulfillment.operations",
		metric.WithDescription("Order and warehouse operations by outcome"))
	t.debitedKg, _ = meter.Float64Counter("fulfillment.debited",
		metric.WithUnit("kg"),
		metric.WithDescription("Kilograms debited from warehouses by approved orders"))
	return t
}

func (t serviceTelemetry) record(ctx context.Context, op string, err error) {
	if t.operations == nil {
		return
	}
	t.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome(err)),
	))
}

func (t serviceTelemetry) recordDebits(ctx context.Context, debits WarehouseDebits) {
	if t.debitedKg == nil {
		return
	}
	for id, kg := range debits {
		v, _ := kg.Float64()
		t.debitedKg.Add(ctx, v, metric.WithAttributes(attribute.String("warehouse", id)))
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
	}
	span.End()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOrderTransactionConflict):
		return "conflict"
	case errors.Is(err, ErrOrderInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrOrderInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrOrderPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrWarehouseNotFound), errors.Is(err, ErrCatalogProductNotFound):
		return "not_found"
	case errors.Is(err, ErrOrderProductNotFound), errors.Is(err, ErrOrderMissingWarehouseAssignment), errors.Is(err, ErrOrderUnsupportedUnit):
		return "catalog_integrity"
	case errors.Is(err, ErrOrderInvalidInput), errors.Is(err, ErrWarehouseInvalidInput), errors.Is(err, ErrCatalogInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrWarehouseCapacityExceeded):
		return "capacity_exceeded"
	}
	return "error"
}
