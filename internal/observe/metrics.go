// Package observe provides application-wide observability for Mentravox:
// OpenTelemetry metrics exported through a Prometheus bridge, and HTTP
// middleware that records request latency.
//
// Metrics are optional. Every recording method is nil-safe, so components
// hold a *Metrics that may be nil when metrics are disabled; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Mentravox metrics.
const meterName = "github.com/mentravox/mentravox"

// latencyBuckets defines histogram bucket boundaries (in seconds). The agent
// call dominates pipeline latency, so the buckets reach into tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// PipelineDuration tracks end-to-end query pipeline latency.
	PipelineDuration metric.Float64Histogram

	// AgentDuration tracks the language-model call latency.
	AgentDuration metric.Float64Histogram

	// QueriesProcessed counts completed query pipelines. Attribute "status"
	// is "ok" or "apology".
	QueriesProcessed metric.Int64Counter

	// AgentFailures counts agent calls that ended in the apology path.
	AgentFailures metric.Int64Counter

	// PhotosCaptured counts successful hardware photo captures.
	PhotosCaptured metric.Int64Counter

	// EventsBroadcast counts events delivered to at least one subscriber,
	// by topic.
	EventsBroadcast metric.Int64Counter

	// EventsQueued counts events appended to a pending FIFO, by topic.
	EventsQueued metric.Int64Counter

	// SubscribersDropped counts subscribers removed after a write failure,
	// by topic.
	SubscribersDropped metric.Int64Counter

	// ActiveSessions tracks the number of users with attached hardware.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time by method and
	// path.
	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics creates a fully initialised [Metrics] using the given meter
// provider. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PipelineDuration, err = m.Float64Histogram("mentravox.pipeline.duration",
		metric.WithDescription("End-to-end query pipeline latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AgentDuration, err = m.Float64Histogram("mentravox.agent.duration",
		metric.WithDescription("Language-model call latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueriesProcessed, err = m.Int64Counter("mentravox.queries.processed",
		metric.WithDescription("Completed query pipelines by status."),
	); err != nil {
		return nil, err
	}
	if met.AgentFailures, err = m.Int64Counter("mentravox.agent.failures",
		metric.WithDescription("Agent calls that fell back to the apology response."),
	); err != nil {
		return nil, err
	}
	if met.PhotosCaptured, err = m.Int64Counter("mentravox.photos.captured",
		metric.WithDescription("Successful hardware photo captures."),
	); err != nil {
		return nil, err
	}
	if met.EventsBroadcast, err = m.Int64Counter("mentravox.events.broadcast",
		metric.WithDescription("Events delivered to subscribers by topic."),
	); err != nil {
		return nil, err
	}
	if met.EventsQueued, err = m.Int64Counter("mentravox.events.queued",
		metric.WithDescription("Events appended to a pending queue by topic."),
	); err != nil {
		return nil, err
	}
	if met.SubscribersDropped, err = m.Int64Counter("mentravox.subscribers.dropped",
		metric.WithDescription("Subscribers removed after a failed write by topic."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("mentravox.active_sessions",
		metric.WithDescription("Users with an attached hardware session."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("mentravox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordQuery records one completed pipeline run.
func (m *Metrics) RecordQuery(ctx context.Context, elapsed float64, apologised bool) {
	if m == nil {
		return
	}
	status := "ok"
	if apologised {
		status = "apology"
	}
	m.PipelineDuration.Record(ctx, elapsed)
	m.QueriesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordAgentCall records one agent call with its outcome.
func (m *Metrics) RecordAgentCall(ctx context.Context, elapsed float64, failed bool) {
	if m == nil {
		return
	}
	m.AgentDuration.Record(ctx, elapsed)
	if failed {
		m.AgentFailures.Add(ctx, 1)
	}
}

// RecordPhotoCaptured counts one successful capture.
func (m *Metrics) RecordPhotoCaptured(ctx context.Context) {
	if m == nil {
		return
	}
	m.PhotosCaptured.Add(ctx, 1)
}

// SessionAttached adjusts the active-session gauge by delta (+1 / -1).
func (m *Metrics) SessionAttached(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, delta)
}

// EventBroadcast implements events.Recorder.
func (m *Metrics) EventBroadcast(topic string, delivered int) {
	if m == nil || delivered == 0 {
		return
	}
	m.EventsBroadcast.Add(context.Background(), int64(delivered),
		metric.WithAttributes(attribute.String("topic", topic)))
}

// EventQueued implements events.Recorder.
func (m *Metrics) EventQueued(topic string) {
	if m == nil {
		return
	}
	m.EventsQueued.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("topic", topic)))
}

// SubscriberRemoved implements events.Recorder.
func (m *Metrics) SubscriberRemoved(topic string) {
	if m == nil {
		return
	}
	m.SubscribersDropped.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("topic", topic)))
}
