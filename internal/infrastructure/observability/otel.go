package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zatekoja/slotbooking"

// Metrics holds all application metrics
type Metrics struct {
	RequestCount     metric.Int64Counter
	RequestDuration  metric.Float64Histogram
	ReservationCount metric.Int64Counter
	CancelCount      metric.Int64Counter
	RescheduleCount  metric.Int64Counter
	ExpirationCount  metric.Int64Counter
	PromotionCount   metric.Int64Counter
}

// Setup initializes OpenTelemetry tracing, metrics and Go runtime metrics
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		_ = tracerProvider.Shutdown(ctx)
		_ = meterProvider.Shutdown(ctx)
		return nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}

	return shutdown, nil
}

// InitMetrics initializes application metrics against the global meter provider
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	requestCount, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	reservationCount, err := meter.Int64Counter(
		"booking.reservation.count",
		metric.WithDescription("Reservation attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	cancelCount, err := meter.Int64Counter(
		"booking.cancellation.count",
		metric.WithDescription("Cancellations by outcome"),
	)
	if err != nil {
		return nil, err
	}

	rescheduleCount, err := meter.Int64Counter(
		"booking.reschedule.count",
		metric.WithDescription("Reschedules by outcome"),
	)
	if err != nil {
		return nil, err
	}

	expirationCount, err := meter.Int64Counter(
		"booking.expiration.count",
		metric.WithDescription("Bookings expired by the sweep"),
	)
	if err != nil {
		return nil, err
	}

	promotionCount, err := meter.Int64Counter(
		"booking.promotion.count",
		metric.WithDescription("Wait-list promotions by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCount:     requestCount,
		RequestDuration:  requestDuration,
		ReservationCount: reservationCount,
		CancelCount:      cancelCount,
		RescheduleCount:  rescheduleCount,
		ExpirationCount:  expirationCount,
		PromotionCount:   promotionCount,
	}, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, spanName)
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// RecordRequestMetric records a metric with attributes
func RecordRequestMetric(ctx context.Context, metrics *Metrics, method, path string, statusCode int, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.Int("http.status_code", statusCode),
	}

	metrics.RequestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.RequestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordOutcome adds n to a booking counter tagged with the outcome.
// A nil Metrics or counter is ignored so services can run without telemetry.
func RecordOutcome(ctx context.Context, counter metric.Int64Counter, outcome string, n int64) {
	if counter == nil || n == 0 {
		return
	}
	counter.Add(ctx, n, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordReservation counts a reservation attempt
func (m *Metrics) RecordReservation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	RecordOutcome(ctx, m.ReservationCount, outcome, 1)
}

// RecordCancel counts a cancellation
func (m *Metrics) RecordCancel(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	RecordOutcome(ctx, m.CancelCount, outcome, 1)
}

// RecordReschedule counts a reschedule attempt
func (m *Metrics) RecordReschedule(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	RecordOutcome(ctx, m.RescheduleCount, outcome, 1)
}

// RecordExpirations counts bookings expired in one sweep
func (m *Metrics) RecordExpirations(ctx context.Context, n int) {
	if m == nil {
		return
	}
	RecordOutcome(ctx, m.ExpirationCount, "expired", int64(n))
}

// RecordPromotion counts a wait-list promotion attempt
func (m *Metrics) RecordPromotion(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	RecordOutcome(ctx, m.PromotionCount, outcome, 1)
}
