// Package observe provides observability primitives for igtsplit:
// OpenTelemetry metrics, tracing, trace-aware structured logging and the
// optional HTTP server that exposes them.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so a long extraction can be scraped
// on /metrics while it runs. A package-level [DefaultMetrics] instance is
// provided for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all igtsplit metrics.
const meterName = "github.com/MrWong99/igtsplit"

// Reconciler outcome labels used with [Metrics.RecordSample].
const (
	OutcomeAccepted     = "accepted"
	OutcomeCorrected    = "corrected"
	OutcomeUnknown      = "unknown"
	OutcomeReset        = "reset"
	OutcomeRejected     = "rejected"
	OutcomeParseFailure = "parse_failure"
	OutcomeGap          = "unrecoverable_gap"
	OutcomeReanchor     = "reanchor"
)

// Metrics holds all OpenTelemetry instruments for the application. All fields
// are safe for concurrent use.
type Metrics struct {
	// FramesProcessed counts frames that left the recognition stage.
	FramesProcessed metric.Int64Counter

	// OCRDuration tracks per-frame OCR latency. Use with attribute:
	//   attribute.String("region", "timer"|"marker")
	OCRDuration metric.Float64Histogram

	// RecognitionFailures counts frames whose recognition failed. Use with
	// attribute:
	//   attribute.String("reason", "engine"|"timeout"|"region")
	RecognitionFailures metric.Int64Counter

	// EngineCalls counts calls served or failed per OCR engine. Use with
	// attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	EngineCalls metric.Int64Counter

	// ReconcileSamples counts reconciler decisions by outcome (see the
	// Outcome constants).
	ReconcileSamples metric.Int64Counter

	// SplitsEmitted counts split events. Use with attribute:
	//   attribute.String("kind", ...)
	SplitsEmitted metric.Int64Counter

	// PipelineDuration tracks the wall time of whole extraction runs.
	PipelineDuration metric.Float64Histogram

	// ActiveWorkers tracks recognition workers currently busy.
	ActiveWorkers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks metrics-server request time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// ocrBuckets are histogram boundaries in seconds for single-frame OCR calls.
var ocrBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// pipelineBuckets are histogram boundaries in seconds for whole videos.
var pipelineBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesProcessed, err = m.Int64Counter("igtsplit.frames.processed",
		metric.WithDescription("Frames that completed recognition."),
	); err != nil {
		return nil, err
	}
	if met.OCRDuration, err = m.Float64Histogram("igtsplit.ocr.duration",
		metric.WithDescription("Latency of a single OCR call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(ocrBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionFailures, err = m.Int64Counter("igtsplit.recognition.failures",
		metric.WithDescription("Frames whose recognition failed, by reason."),
	); err != nil {
		return nil, err
	}
	if met.EngineCalls, err = m.Int64Counter("igtsplit.ocr.engine.calls",
		metric.WithDescription("OCR engine calls by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.ReconcileSamples, err = m.Int64Counter("igtsplit.reconcile.samples",
		metric.WithDescription("Reconciler decisions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SplitsEmitted, err = m.Int64Counter("igtsplit.splits.emitted",
		metric.WithDescription("Split events emitted by kind."),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("igtsplit.pipeline.duration",
		metric.WithDescription("Wall time of a full extraction run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(pipelineBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveWorkers, err = m.Int64UpDownCounter("igtsplit.recognition.active_workers",
		metric.WithDescription("Recognition workers currently processing a frame."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("igtsplit.http.request.duration",
		metric.WithDescription("Metrics server request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRecognitionFailure increments the failure counter for reason.
func (m *Metrics) RecordRecognitionFailure(ctx context.Context, reason string) {
	m.RecognitionFailures.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordEngineCall increments the per-engine call counter.
func (m *Metrics) RecordEngineCall(ctx context.Context, engine, status string) {
	m.EngineCalls.Add(ctx, 1, metric.WithAttributes(
		Attr("engine", engine),
		Attr("status", status),
	))
}

// RecordSample adds n reconciler decisions with the given outcome. Zero is a
// no-op.
func (m *Metrics) RecordSample(ctx context.Context, outcome string, n int64) {
	if n == 0 {
		return
	}
	m.ReconcileSamples.Add(ctx, n, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordSplit increments the split counter for kind.
func (m *Metrics) RecordSplit(ctx context.Context, kind string) {
	m.SplitsEmitted.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}
