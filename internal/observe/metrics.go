// Package observe provides observability primitives for the utterance-intent
// pipeline: OpenTelemetry metric instruments and a Prometheus exporter
// bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter is wired in via [InitProvider] so metrics can be scraped from the
// standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all attune metrics.
const meterName = "github.com/MrWong99/attune"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// UtterancesClosed counts finished utterances. Use with attribute:
	//   attribute.String("close_reason", ...)
	UtterancesClosed metric.Int64Counter

	// UtteranceDuration tracks open-to-close utterance lifetime.
	UtteranceDuration metric.Float64Histogram

	// UtteranceLength tracks raw text length at close, in bytes.
	UtteranceLength metric.Int64Histogram

	// IntentsDetected counts intent emissions. Use with attributes:
	//   attribute.String("type", ...), attribute.String("subtype", ...),
	//   attribute.Bool("candidate", ...)
	IntentsDetected metric.Int64Counter

	// IntentsDeduplicated counts final intents suppressed as duplicates.
	IntentsDeduplicated metric.Int64Counter

	// ActionsRouted counts routed actions. Use with attributes:
	//   attribute.String("action", ...), attribute.Bool("debounced", ...)
	ActionsRouted metric.Int64Counter

	// HandlerErrors counts failed or panicked action handlers.
	HandlerErrors metric.Int64Counter

	// ActiveUtterances tracks whether an utterance is currently open
	// (0 or 1 per pipeline).
	ActiveUtterances metric.Int64UpDownCounter
}

// durationBuckets defines histogram bucket boundaries (in seconds) sized for
// spoken-utterance lifetimes.
var durationBuckets = []float64{
	0.25, 0.5, 1, 2, 3, 5, 8, 12, 20,
}

// lengthBuckets defines histogram bucket boundaries (in bytes) for utterance
// text length.
var lengthBuckets = []float64{
	10, 25, 50, 100, 200, 400, 700, 1000,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.UtterancesClosed, err = m.Int64Counter("attune.utterances.closed",
		metric.WithDescription("Finished utterances by close reason."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("attune.utterance.duration",
		metric.WithDescription("Open-to-close utterance lifetime."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceLength, err = m.Int64Histogram("attune.utterance.length",
		metric.WithDescription("Raw text length at utterance close."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(lengthBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IntentsDetected, err = m.Int64Counter("attune.intents.detected",
		metric.WithDescription("Intent emissions by type, subtype, and candidate flag."),
	); err != nil {
		return nil, err
	}
	if met.IntentsDeduplicated, err = m.Int64Counter("attune.intents.deduplicated",
		metric.WithDescription("Final intents suppressed as near-duplicates."),
	); err != nil {
		return nil, err
	}
	if met.ActionsRouted, err = m.Int64Counter("attune.actions.routed",
		metric.WithDescription("Routed actions by name and debounce outcome."),
	); err != nil {
		return nil, err
	}
	if met.HandlerErrors, err = m.Int64Counter("attune.actions.handler_errors",
		metric.WithDescription("Action handler failures, panics included."),
	); err != nil {
		return nil, err
	}
	if met.ActiveUtterances, err = m.Int64UpDownCounter("attune.utterances.active",
		metric.WithDescription("Currently open utterances."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] instance backed by the
// global OTel meter provider. The first call creates the instruments;
// creation errors fall back to a no-op meter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			m, _ = NewMetrics(noop.NewMeterProvider())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordUtteranceClosed is a convenience wrapper recording all close-time
// instruments in one call.
func (m *Metrics) RecordUtteranceClosed(ctx context.Context, closeReason string, durationSeconds float64, lengthBytes int) {
	m.UtterancesClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("close_reason", closeReason)))
	m.UtteranceDuration.Record(ctx, durationSeconds)
	m.UtteranceLength.Record(ctx, int64(lengthBytes))
}

// RecordIntent records one intent emission.
func (m *Metrics) RecordIntent(ctx context.Context, intentType, subtype string, candidate bool) {
	m.IntentsDetected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", intentType),
		attribute.String("subtype", subtype),
		attribute.Bool("candidate", candidate),
	))
}

// RecordAction records one routed action.
func (m *Metrics) RecordAction(ctx context.Context, name string, debounced bool) {
	m.ActionsRouted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", name),
		attribute.Bool("debounced", debounced),
	))
}
