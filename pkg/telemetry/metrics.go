package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "decodeguard/governance"

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	terminationCounter   metric.Int64Counter
	failClosedCounter    metric.Int64Counter
	accumulatedHistogram metric.Float64Histogram
)

// TerminationEvent captures the fields recorded when a connection is terminated.
type TerminationEvent struct {
	ConnectionID  string
	AccumulatedMs float64
	Reason        string
}

// RecordTermination counts the termination, records the window total that
// triggered it and emits a governance.terminate span carrying a security event.
func RecordTermination(ctx context.Context, event TerminationEvent) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("governance.reason", event.Reason))
	terminationCounter.Add(ctx, 1, attrs)
	accumulatedHistogram.Record(ctx, event.AccumulatedMs, attrs)

	_, span := otel.Tracer(instrumentationName).Start(ctx, "governance.terminate",
		trace.WithAttributes(
			attribute.String("connection.id", event.ConnectionID),
			attribute.Float64("governance.accumulated_ms", event.AccumulatedMs),
		))
	RecordSecurityEvent(span, true, event.Reason, event.AccumulatedMs)
	span.End()
}

// RecordFailClosed counts a decode call rejected because the governor could not
// meter it.
func RecordFailClosed(ctx context.Context, cause string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	failClosedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("governance.cause", cause)))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(instrumentationName)

		terminationCounter, metricsInitErr = meter.Int64Counter(
			"decodeguard.governor.terminations_total",
			metric.WithDescription("Connections terminated for excessive decode time"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		failClosedCounter, metricsInitErr = meter.Int64Counter(
			"decodeguard.governor.fail_closed_total",
			metric.WithDescription("Decode calls rejected without metering"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		accumulatedHistogram, metricsInitErr = meter.Float64Histogram(
			"decodeguard.governor.accumulated_ms",
			metric.WithDescription("Window total that triggered a termination"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordSecurityEvent attaches a coarse-grained security event to the provided span.
func RecordSecurityEvent(span trace.Span, blocked bool, reason string, accumulatedMs float64) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("security.blocked", blocked),
		attribute.Float64("security.accumulated_ms", accumulatedMs),
	}

	if reason != "" {
		attrs = append(attrs, attribute.String("security.block_reason", reason))
	}

	span.AddEvent("security.event", trace.WithAttributes(attrs...))
}
