package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the Prometheus instruments exposed on /metrics.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionsCreated    prometheus.Counter
	SessionsEnded      prometheus.Counter
	TranscriptsStored  prometheus.Counter
	FanoutDrops        prometheus.Counter
	Subscribers        prometheus.Gauge
	UpstreamEvents     *prometheus.CounterVec
	SignalingFailures  prometheus.Counter
	AnalysisFallbacks  prometheus.Counter
	SessionDuration    prometheus.Histogram
}

// New registers all instruments against the provided registerer. Tests pass a
// fresh prometheus.NewRegistry() so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medivoice_active_sessions",
			Help: "Current number of active consultation sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "medivoice_sessions_created_total",
			Help: "Total number of consultation sessions created",
		}),
		SessionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "medivoice_sessions_ended_total",
			Help: "Total number of consultation sessions ended",
		}),
		TranscriptsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "medivoice_transcripts_stored_total",
			Help: "Total number of transcript entries appended",
		}),
		FanoutDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "medivoice_fanout_drops_total",
			Help: "Transcript entries dropped because a subscriber queue was full",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medivoice_transcript_subscribers",
			Help: "Current number of live transcript subscribers",
		}),
		UpstreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medivoice_upstream_events_total",
			Help: "Events received from the upstream realtime endpoint, by type",
		}, []string{"type"}),
		SignalingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "medivoice_signaling_failures_total",
			Help: "Failed ephemeral-session or SDP relay requests",
		}),
		AnalysisFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "medivoice_analysis_fallbacks_total",
			Help: "Consultation analyses that fell back to the default payload",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "medivoice_session_duration_seconds",
			Help:    "Duration of ended consultation sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}
