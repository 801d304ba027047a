// Package observe provides application-wide observability primitives for
// Vibecast: OpenTelemetry metrics and the SDK provider setup.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vibecast metrics.
const meterName = "github.com/MrWong99/vibecast"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long session establishment takes.
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksScheduled counts audio chunks placed on the output timeline.
	ChunksScheduled metric.Int64Counter

	// ScheduledAudioSeconds accumulates the playback duration of scheduled audio.
	ScheduledAudioSeconds metric.Float64Counter

	// ChunksDropped counts chunks discarded before scheduling. Use with
	// attribute: attribute.String("reason", ...) ("decode", "state").
	ChunksDropped metric.Int64Counter

	// DriftSnaps counts playback-cursor snaps caused by the stream falling
	// behind the output clock.
	DriftSnaps metric.Int64Counter

	// Reconnects counts automatic reconnection attempts.
	Reconnects metric.Int64Counter

	// PromptSends counts prompt-set updates sent to the service.
	PromptSends metric.Int64Counter

	// PromptSendsCoalesced counts prompt updates absorbed by the throttle
	// window without a network send of their own.
	PromptSendsCoalesced metric.Int64Counter

	// FilteredPrompts counts prompts rejected by the service.
	FilteredPrompts metric.Int64Counter

	// Crossfades counts started prompt crossfades.
	Crossfades metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live generator sessions (0 or 1
	// per controller).
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for connection-establishment latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("vibecast.session.connect.duration",
		metric.WithDescription("Latency of generator session establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksScheduled, err = m.Int64Counter("vibecast.audio.chunks_scheduled",
		metric.WithDescription("Total audio chunks placed on the output timeline."),
	); err != nil {
		return nil, err
	}
	if met.ScheduledAudioSeconds, err = m.Float64Counter("vibecast.audio.scheduled_seconds",
		metric.WithDescription("Total playback duration of scheduled audio."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("vibecast.audio.chunks_dropped",
		metric.WithDescription("Total audio chunks discarded before scheduling, by reason."),
	); err != nil {
		return nil, err
	}
	if met.DriftSnaps, err = m.Int64Counter("vibecast.audio.drift_snaps",
		metric.WithDescription("Playback-cursor snaps caused by falling behind the output clock."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("vibecast.session.reconnects",
		metric.WithDescription("Automatic reconnection attempts."),
	); err != nil {
		return nil, err
	}
	if met.PromptSends, err = m.Int64Counter("vibecast.prompts.sends",
		metric.WithDescription("Prompt-set updates sent to the generator."),
	); err != nil {
		return nil, err
	}
	if met.PromptSendsCoalesced, err = m.Int64Counter("vibecast.prompts.coalesced",
		metric.WithDescription("Prompt updates absorbed by the throttle window."),
	); err != nil {
		return nil, err
	}
	if met.FilteredPrompts, err = m.Int64Counter("vibecast.prompts.filtered",
		metric.WithDescription("Prompts rejected by the generator."),
	); err != nil {
		return nil, err
	}
	if met.Crossfades, err = m.Int64Counter("vibecast.prompts.crossfades",
		metric.WithDescription("Started prompt crossfades."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vibecast.active_sessions",
		metric.WithDescription("Number of live generator sessions."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordChunkDropped is a convenience method that increments the dropped-chunk
// counter with the standard reason attribute.
func (m *Metrics) RecordChunkDropped(ctx context.Context, reason string) {
	m.ChunksDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
