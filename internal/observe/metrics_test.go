package observe_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/attune/internal/observe"
)

func TestNewMetrics_CreatesAllInstruments(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.UtterancesClosed == nil || m.UtteranceDuration == nil || m.UtteranceLength == nil ||
		m.IntentsDetected == nil || m.IntentsDeduplicated == nil ||
		m.ActionsRouted == nil || m.HandlerErrors == nil || m.ActiveUtterances == nil {
		t.Fatal("NewMetrics returned a struct with nil instruments")
	}
}

func TestMetrics_RecordedValuesAreCollected(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.RecordUtteranceClosed(ctx, "silence_gap", 2.5, 42)
	m.RecordIntent(ctx, "question", "Definition", false)
	m.RecordAction(ctx, "repeat", true)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			found[met.Name] = true
		}
	}
	for _, name := range []string{
		"attune.utterances.closed",
		"attune.utterance.duration",
		"attune.utterance.length",
		"attune.intents.detected",
		"attune.actions.routed",
	} {
		if !found[name] {
			t.Errorf("metric %q not collected; have %v", name, found)
		}
	}
}
