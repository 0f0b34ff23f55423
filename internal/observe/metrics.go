// Package observe provides observability primitives for Vesta:
// OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vesta metrics.
const meterName = "github.com/MrWong99/vesta"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types
// handle their own synchronisation.
type Metrics struct {
	// ToolExecutionDuration tracks tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// WakewordScore tracks the distribution of wake-word scores.
	WakewordScore metric.Float64Histogram

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// AudioChunksDropped counts audio chunks discarded under pressure.
	// Use with attribute: attribute.String("stage", "jitter"|"decode").
	AudioChunksDropped metric.Int64Counter

	// WakewordDetections counts wake-word triggers.
	WakewordDetections metric.Int64Counter

	// SessionFailures counts sessions ending in error. Use with attribute:
	//   attribute.String("reason", ...)
	SessionFailures metric.Int64Counter

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// PlaybackBufferedMs records how much decoded audio is queued for
	// playback, in milliseconds.
	PlaybackBufferedMs metric.Int64Gauge
}

// latencyBuckets defines histogram bucket boundaries (in seconds)
// optimised for tool-call latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// scoreBuckets covers the wake-word score range [0, 1].
var scoreBuckets = []float64{
	0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ToolExecutionDuration, err = m.Float64Histogram("vesta.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WakewordScore, err = m.Float64Histogram("vesta.wakeword.score",
		metric.WithDescription("Distribution of wake-word detection scores."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ToolCalls, err = m.Int64Counter("vesta.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksDropped, err = m.Int64Counter("vesta.audio.chunks_dropped",
		metric.WithDescription("Audio chunks discarded under pressure by pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.WakewordDetections, err = m.Int64Counter("vesta.wakeword.detections",
		metric.WithDescription("Total wake-word triggers."),
	); err != nil {
		return nil, err
	}
	if met.SessionFailures, err = m.Int64Counter("vesta.session.failures",
		metric.WithDescription("Sessions that ended in error, by reason."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("vesta.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBufferedMs, err = m.Int64Gauge("vesta.playback.buffered_ms",
		metric.WithDescription("Decoded audio queued for playback in milliseconds."),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen
// with the global provider).
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

// RecordToolCall records one completed tool invocation: the outcome
// counter and the latency histogram, both tagged with tool and status.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordDrop records n dropped audio chunks for the given pipeline stage.
func (m *Metrics) RecordDrop(ctx context.Context, stage string, n int64) {
	if n <= 0 {
		return
	}
	m.AudioChunksDropped.Add(ctx, n,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordSessionFailure records a session ending in error.
func (m *Metrics) RecordSessionFailure(ctx context.Context, reason string) {
	m.SessionFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
