package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the call transcriber.
type Metrics struct {
	// Call lifecycle metrics
	CallsStarted   prometheus.Counter
	CallsCompleted prometheus.Counter
	CallsFailed    prometheus.Counter
	CallsRejected  prometheus.Counter
	ActiveCalls    prometheus.Gauge
	CallDuration   prometheus.Histogram

	// Media stream metrics
	ChunksReceived *prometheus.CounterVec
	LegReattaches  prometheus.Counter
	StitchedFrames prometheus.Counter
	SilenceFilled  prometheus.Counter
	StaleChunks    prometheus.Counter

	// Transcription metrics
	Segments          *prometheus.CounterVec
	SessionReconnects prometheus.Counter
	ReplayDropped     prometheus.Counter

	// Persistence metrics
	RecordFailures   prometheus.Counter
	PublishFailures  prometheus.Counter
	ArtifactFailures prometheus.Counter
}

// New creates and registers all metrics against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Call lifecycle metrics
		CallsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_calls_started_total",
			Help: "Total number of calls accepted for processing",
		}),
		CallsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_calls_completed_total",
			Help: "Total number of calls that ended normally",
		}),
		CallsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_calls_failed_total",
			Help: "Total number of calls that ended with an error",
		}),
		CallsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_calls_rejected_total",
			Help: "Total number of calls skipped by the filter hook",
		}),
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_active_calls",
			Help: "Current number of calls being processed",
		}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_call_duration_seconds",
			Help:    "Wall-clock processing time per call",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		// Media stream metrics
		ChunksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_audio_chunks_received_total",
			Help: "Total number of audio chunks received per leg",
		}, []string{"leg"}),
		LegReattaches: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_leg_reattaches_total",
			Help: "Total number of mid-call media stream reattachments",
		}),
		StitchedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_stitched_frames_total",
			Help: "Total number of stitched frames emitted",
		}),
		SilenceFilled: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_silence_filled_frames_total",
			Help: "Total number of frames emitted with silence-filled gaps",
		}),
		StaleChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_stale_chunks_dropped_total",
			Help: "Total number of audio chunks dropped for arriving behind the emit cursor",
		}),

		// Transcription metrics
		Segments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_segments_total",
			Help: "Total number of transcript segments by finality",
		}, []string{"finality"}),
		SessionReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_session_reconnects_total",
			Help: "Total number of transcription session reconnects",
		}),
		ReplayDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_replay_frames_dropped_total",
			Help: "Total number of buffered frames evicted before replay",
		}),

		// Persistence metrics
		RecordFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_record_failures_total",
			Help: "Total number of event records that exhausted the retry budget",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_publish_failures_total",
			Help: "Total number of event bus publish failures",
		}),
		ArtifactFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_artifact_failures_total",
			Help: "Total number of audio artifacts that could not be stored",
		}),
	}
}
