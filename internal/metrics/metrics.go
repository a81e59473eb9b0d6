// Package metrics holds the scanner's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NegotiationAttempts counts camera-access attempts by profile and outcome.
	NegotiationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrscan_negotiation_attempts_total",
		Help: "Camera access attempts by constraint profile and outcome",
	}, []string{"profile", "outcome"})

	// DetectionTicks counts scan ticks by outcome (empty, decoded, error, skipped).
	DetectionTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrscan_detection_ticks_total",
		Help: "Detection calls by outcome",
	}, []string{"outcome"})

	DecodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrscan_decodes_total",
		Help: "Codes published as the decoded result",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qrscan_sessions_active",
		Help: "Capture sessions currently holding camera tracks",
	})

	PreviewViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qrscan_preview_viewers",
		Help: "Connected preview viewers",
	})
)

func IncNegotiationAttempt(profile, outcome string) {
	NegotiationAttempts.WithLabelValues(profile, outcome).Inc()
}

func IncDetectionTick(outcome string) {
	DetectionTicks.WithLabelValues(outcome).Inc()
}
