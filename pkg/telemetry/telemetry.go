// Package telemetry exposes Prometheus metrics for the analyze path.
// Metrics are registered on the default registry and served on
// GET /metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts /analyze requests by outcome: ok, bad_request,
	// saturated, error.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_analyze_requests_total",
			Help: "Analyze requests by outcome",
		},
		[]string{"outcome"},
	)

	// PredictionsTotal counts returned predictions by label pair.
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_predictions_total",
			Help: "Predictions by threat type and severity",
		},
		[]string{"threat_type", "severity"},
	)

	// InferenceDuration tracks end-to-end tokenize+encode+classify time.
	InferenceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bastion_inference_duration_seconds",
			Help:    "Inference latency per analyze request",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	// InFlightRejected counts requests turned away at the concurrency cap.
	InFlightRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_inference_rejected_total",
			Help: "Requests rejected because the inference limiter was saturated",
		},
	)
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
