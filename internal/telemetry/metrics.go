// Package telemetry is the bridge's Prometheus registry and metrics HTTP
// server: call, media, DTMF, AI-bridge, and SMS counters/gauges that every
// other component reports into.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the process-wide set of Prometheus collectors.
type Metrics struct {
	CallsActive         prometheus.Gauge
	CallsTotal          *prometheus.CounterVec
	CallDurationSeconds prometheus.Histogram
	QueueDepth          prometheus.Gauge

	RTPPacketsTotal   *prometheus.CounterVec
	JitterBufferDrops prometheus.Counter
	RTPPortsInUse     prometheus.Gauge

	DTMFEventsTotal    *prometheus.CounterVec
	DTMFPatternMatches prometheus.Counter

	AIConnectionsActive prometheus.Gauge
	AIReconnectsTotal   prometheus.Counter
	AIFramesTotal       *prometheus.CounterVec
	AIHeartbeatMisses   prometheus.Counter

	SMSQueuedTotal      prometheus.Counter
	SMSSentTotal        *prometheus.CounterVec
	SMSRateLimitedTotal prometheus.Counter
}

// New builds and registers the Metrics set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_calls_active",
			Help: "Number of calls currently tracked by the call manager.",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_calls_total",
			Help: "Total calls admitted, by terminal state.",
		}, []string{"state"}),
		CallDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_call_duration_seconds",
			Help:    "Call duration from CONNECTED to a terminal state.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_queue_depth",
			Help: "Number of calls waiting in the admission queue.",
		}),
		RTPPacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_rtp_packets_total",
			Help: "RTP packets processed, by direction.",
		}, []string{"direction"}),
		JitterBufferDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_jitter_buffer_drops_total",
			Help: "Packets evicted from a full jitter buffer.",
		}),
		RTPPortsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_rtp_ports_in_use",
			Help: "RTP ports currently allocated from the port pool.",
		}),
		DTMFEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_dtmf_events_total",
			Help: "DTMF digits detected, by detection method.",
		}, []string{"method"}),
		DTMFPatternMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_dtmf_pattern_matches_total",
			Help: "Completed DTMF pattern matches dispatched to an action.",
		}),
		AIConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_ai_connections_active",
			Help: "Active WebSocket connections to the AI backend.",
		}),
		AIReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_ai_reconnects_total",
			Help: "Reconnect attempts made to the AI backend.",
		}),
		AIFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_ai_frames_total",
			Help: "Frames exchanged with the AI backend, by type and direction.",
		}, []string{"type", "direction"}),
		AIHeartbeatMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_ai_heartbeat_misses_total",
			Help: "Missed heartbeat acknowledgements from the AI backend.",
		}),
		SMSQueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_sms_queued_total",
			Help: "Messages accepted onto the SMS delivery queue.",
		}),
		SMSSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_sms_sent_total",
			Help: "Messages handed to the sender, by outcome.",
		}, []string{"outcome"}),
		SMSRateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_sms_rate_limited_total",
			Help: "Messages rejected by a rate limiter.",
		}),
	}
	reg.MustRegister(
		m.CallsActive, m.CallsTotal, m.CallDurationSeconds, m.QueueDepth,
		m.RTPPacketsTotal, m.JitterBufferDrops, m.RTPPortsInUse,
		m.DTMFEventsTotal, m.DTMFPatternMatches,
		m.AIConnectionsActive, m.AIReconnectsTotal, m.AIFramesTotal, m.AIHeartbeatMisses,
		m.SMSQueuedTotal, m.SMSSentTotal, m.SMSRateLimitedTotal,
	)
	return m
}
