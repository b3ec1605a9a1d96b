// Package metrics holds the Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Socket channel label values.
const (
	ChannelSignaling = "signaling"
	ChannelMedia     = "media"
)

// Metrics contains all Prometheus metrics for the service
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsStopped *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge

	// Socket metrics
	KeepAlives        *prometheus.CounterVec
	MalformedMessages *prometheus.CounterVec

	// Audio metrics
	AudioFrames        prometheus.Counter
	AudioFramesDropped prometheus.Counter
	AudioBytes         prometheus.Counter
	WindowsDispatched  prometheus.Counter

	// Transcription metrics
	TranscriptionDuration prometheus.Histogram
	TranscriptionFailures prometheus.Counter
	TranscriptionBacklog  prometheus.Gauge
	TranscriptLines       prometheus.Counter

	// Webhook metrics
	WebhooksRejected prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "rtms_sessions_started_total",
			Help: "Total number of sessions started from webhook notifications",
		}),
		SessionsStopped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rtms_sessions_stopped_total",
			Help: "Total number of sessions stopped, by reason",
		}, []string{"reason"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "rtms_active_sessions",
			Help: "Current number of sessions not yet stopped",
		}),

		KeepAlives: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rtms_keepalives_answered_total",
			Help: "Keep-alive requests answered, by socket",
		}, []string{"channel"}),
		MalformedMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rtms_malformed_messages_total",
			Help: "Inbound socket messages discarded as unparseable, by socket",
		}, []string{"channel"}),

		AudioFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "rtms_audio_frames_total",
			Help: "Audio frames forwarded to the accumulator",
		}),
		AudioFramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "rtms_audio_frames_dropped_total",
			Help: "Audio frames received before the stream was ready",
		}),
		AudioBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "rtms_audio_bytes_total",
			Help: "Decoded PCM bytes forwarded to the accumulator",
		}),
		WindowsDispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "rtms_audio_windows_dispatched_total",
			Help: "Audio windows handed to transcription",
		}),

		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtms_transcription_duration_seconds",
			Help:    "Time spent transcribing one audio window",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "rtms_transcription_failures_total",
			Help: "Audio windows whose transcription failed",
		}),
		TranscriptionBacklog: f.NewGauge(prometheus.GaugeOpts{
			Name: "rtms_transcription_backlog",
			Help: "Audio windows waiting for a transcription slot",
		}),
		TranscriptLines: f.NewCounter(prometheus.CounterOpts{
			Name: "rtms_transcript_lines_total",
			Help: "Lines appended to the transcript store",
		}),

		WebhooksRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "rtms_webhooks_rejected_total",
			Help: "Webhook notifications rejected for a bad signature",
		}),
	}
}

// NewNop returns metrics registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
