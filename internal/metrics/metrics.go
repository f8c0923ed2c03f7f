// Package metrics defines the process Prometheus collectors and their exporter.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "consult"

var (
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions opened, by outcome",
		},
		[]string{"outcome"}, // ready, failed
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently open",
		},
	)

	sessionOpenDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_open_duration_seconds",
			Help:      "Time from open request to stream ready",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 15, 30},
		},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Conversation state transitions",
		},
		[]string{"from", "to"},
	)

	transcriptionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Backend transcription round trip",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"status"}, // success, error
	)

	captureBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_bytes_total",
			Help:      "PCM bytes captured from the microphone",
		},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_turns_total",
			Help:      "Transcript turns created, by speaker",
		},
		[]string{"speaker"},
	)

	streamFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_total",
			Help:      "Websocket frames exchanged with the avatar service",
		},
		[]string{"direction", "kind"}, // direction: in, out; kind: text, binary
	)
)

var allMetrics = []prometheus.Collector{
	sessionsTotal,
	sessionsActive,
	sessionOpenDuration,
	transitionsTotal,
	transcriptionDuration,
	captureBytesTotal,
	turnsTotal,
	streamFramesTotal,
}

// SessionOpened records a stream that became ready after elapsed.
func SessionOpened(elapsed time.Duration) {
	sessionsTotal.WithLabelValues("ready").Inc()
	sessionsActive.Inc()
	sessionOpenDuration.Observe(elapsed.Seconds())
}

// SessionFailed records a session that never became ready.
func SessionFailed() {
	sessionsTotal.WithLabelValues("failed").Inc()
}

// SessionClosed records teardown of a ready session.
func SessionClosed() {
	sessionsActive.Dec()
}

// Transition records one state change.
func Transition(from string, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
}

// Transcription records one backend transcription call.
func Transcription(elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	transcriptionDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// CaptureBytes adds captured PCM volume.
func CaptureBytes(n int64) {
	if n > 0 {
		captureBytesTotal.Add(float64(n))
	}
}

// Turn records a new transcript turn for speaker.
func Turn(speaker string) {
	turnsTotal.WithLabelValues(speaker).Inc()
}

// StreamFrame records one websocket frame.
func StreamFrame(direction string, binary bool) {
	kind := "text"
	if binary {
		kind = "binary"
	}
	streamFramesTotal.WithLabelValues(direction, kind).Inc()
}
