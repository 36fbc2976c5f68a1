// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_dashboard"

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	ConnectFailures *prometheus.CounterVec

	// Transcript metrics
	SegmentsReceived  *prometheus.CounterVec
	SegmentsDiscarded *prometheus.CounterVec
	FinalClamped      *prometheus.CounterVec
	TurnsCreated      *prometheus.CounterVec
	TurnsUpdated      *prometheus.CounterVec

	// State metrics
	SnapshotsApplied       *prometheus.CounterVec
	SnapshotDecodeFailures *prometheus.CounterVec
	SnapshotFieldWarnings  *prometheus.CounterVec
	AgentConnected         prometheus.Gauge
	AgentSpeaking          prometheus.Gauge

	// Interaction metrics
	ChatSends         *prometheus.CounterVec
	MicrophoneToggles prometheus.Counter
	ViewsPublished    prometheus.Counter
	SubscribersActive prometheus.Gauge

	// Kafka metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
	KafkaConsumed       *prometheus.CounterVec

	// gRPC metrics
	GRPCCallsTotal *prometheus.CounterVec
	GRPCLatency    *prometheus.HistogramVec
	StreamsActive  prometheus.Gauge
	StreamDuration prometheus.Histogram

	// Local STT channel metrics
	STTErrors            *prometheus.CounterVec
	STTUtteranceCount    prometheus.Counter
	SegmentsDropped      *prometheus.CounterVec
	SegmentLimitExceeded *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics and registers them on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Session metrics
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active sessions",
		}),
		ConnectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Total number of failed connection attempts",
		}, []string{"stage"}),

		// Transcript metrics
		SegmentsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_received_total",
			Help:      "Total number of recognition segments applied",
		}, []string{"role"}),
		SegmentsDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_discarded_total",
			Help:      "Total number of segments discarded without creating a turn",
		}, []string{"role"}),
		FinalClamped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "final_clamped_total",
			Help:      "Total number of non-final revisions ignored for already final turns",
		}, []string{"role"}),
		TurnsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_created_total",
			Help:      "Total number of transcript turns created",
		}, []string{"role"}),
		TurnsUpdated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_updated_total",
			Help:      "Total number of in-place transcript turn updates",
		}, []string{"role"}),

		// State metrics
		SnapshotsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_applied_total",
			Help:      "Total number of session state snapshots applied",
		}, []string{"variant"}),
		SnapshotDecodeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_decode_failures_total",
			Help:      "Total number of session state broadcasts that failed to decode",
		}, []string{"variant"}),
		SnapshotFieldWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_field_warnings_total",
			Help:      "Total number of snapshot fields defaulted because of a type mismatch",
		}, []string{"field"}),
		AgentConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_connected",
			Help:      "1 while an agent participant is present",
		}),
		AgentSpeaking: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_speaking",
			Help:      "1 while the agent audio source is unmuted",
		}),

		// Interaction metrics
		ChatSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_sends_total",
			Help:      "Total number of typed messages sent",
		}, []string{"result"}),
		MicrophoneToggles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "microphone_toggles_total",
			Help:      "Total number of microphone toggles",
		}),
		ViewsPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "views_published_total",
			Help:      "Total number of view models published",
		}),
		SubscribersActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_active",
			Help:      "Number of active view subscribers",
		}),

		// Kafka metrics
		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
		KafkaConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_consumed_total",
			Help:      "Total number of transcript messages consumed from Kafka",
		}, []string{"topic", "result"}),

		// gRPC metrics
		GRPCCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls handled",
		}, []string{"method", "code"}),
		GRPCLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_latency_seconds",
			Help:      "gRPC unary call latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method"}),
		StreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grpc_streams_active",
			Help:      "Number of currently active gRPC streams",
		}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_stream_duration_seconds",
			Help:      "Duration of gRPC streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		// Local STT channel metrics
		STTErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),
		STTUtteranceCount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_utterances_total",
			Help:      "Total number of utterances detected",
		}),
		SegmentsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_segments_dropped_total",
			Help:      "Total number of local STT segments dropped",
		}, []string{"reason"}),
		SegmentLimitExceeded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_limit_exceeded_total",
			Help:      "Total number of times segment limits were exceeded",
		}, []string{"limit_type"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session being torn down.
func (m *Metrics) RecordSessionEnd() {
	m.SessionsActive.Dec()
	m.AgentConnected.Set(0)
	m.AgentSpeaking.Set(0)
}

// RecordConnectFailure records a failed connection attempt at the given stage.
func (m *Metrics) RecordConnectFailure(stage string) {
	m.ConnectFailures.WithLabelValues(stage).Inc()
}

// RecordSegments records the outcome of applying one segment batch.
func (m *Metrics) RecordSegments(role string, received, created, updated, discarded, clamped int) {
	m.SegmentsReceived.WithLabelValues(role).Add(float64(received))
	m.TurnsCreated.WithLabelValues(role).Add(float64(created))
	m.TurnsUpdated.WithLabelValues(role).Add(float64(updated))
	m.SegmentsDiscarded.WithLabelValues(role).Add(float64(discarded))
	m.FinalClamped.WithLabelValues(role).Add(float64(clamped))
}

// RecordUserTurn records a typed user turn being appended.
func (m *Metrics) RecordUserTurn() {
	m.TurnsCreated.WithLabelValues("user").Inc()
}

// RecordSnapshotApplied records a decoded snapshot replacing the previous one.
func (m *Metrics) RecordSnapshotApplied(variant string) {
	m.SnapshotsApplied.WithLabelValues(variant).Inc()
}

// RecordDecodeFailure records a snapshot that could not be decoded.
func (m *Metrics) RecordDecodeFailure(variant string) {
	m.SnapshotDecodeFailures.WithLabelValues(variant).Inc()
}

// RecordFieldWarning records a snapshot field defaulted because of a type mismatch.
func (m *Metrics) RecordFieldWarning(field string) {
	m.SnapshotFieldWarnings.WithLabelValues(field).Inc()
}

// SetAgentConnected sets the agent presence gauge.
func (m *Metrics) SetAgentConnected(connected bool) {
	m.AgentConnected.Set(boolToFloat(connected))
}

// SetAgentSpeaking sets the agent speaking gauge.
func (m *Metrics) SetAgentSpeaking(speaking bool) {
	m.AgentSpeaking.Set(boolToFloat(speaking))
}

// RecordChatSend records the outcome of a typed message send.
func (m *Metrics) RecordChatSend(err error) {
	if err != nil {
		m.ChatSends.WithLabelValues("error").Inc()
		return
	}
	m.ChatSends.WithLabelValues("ok").Inc()
}

// RecordMicrophoneToggle records a microphone toggle.
func (m *Metrics) RecordMicrophoneToggle() {
	m.MicrophoneToggles.Inc()
}

// RecordViewPublished records a view model being published.
func (m *Metrics) RecordViewPublished() {
	m.ViewsPublished.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordKafkaConsumed records a consumed transcript message.
func (m *Metrics) RecordKafkaConsumed(topic string, err error) {
	if err != nil {
		m.KafkaConsumed.WithLabelValues(topic, "error").Inc()
		return
	}
	m.KafkaConsumed.WithLabelValues(topic, "ok").Inc()
}

// RecordGRPCCall records a unary gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string, latencySeconds float64) {
	m.GRPCCallsTotal.WithLabelValues(method, code).Inc()
	m.GRPCLatency.WithLabelValues(method).Observe(latencySeconds)
}

// RecordStreamStart records a new gRPC stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a gRPC stream ending.
func (m *Metrics) RecordStreamEnd(durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordUtterance records an utterance boundary detection.
func (m *Metrics) RecordUtterance() {
	m.STTUtteranceCount.Inc()
}

// RecordSegmentDropped records a local segment being dropped.
func (m *Metrics) RecordSegmentDropped(reason string) {
	m.SegmentsDropped.WithLabelValues(reason).Inc()
}

// RecordLimitExceeded records when a segment limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.SegmentLimitExceeded.WithLabelValues(limitType).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
