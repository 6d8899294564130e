package binanceclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmitLatency tracks order submission round-trip time.
	SubmitLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flipper_gateway_submit_duration_seconds",
			Help:    "Duration of order submission attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"symbol"},
	)

	// SubmitRetries tracks transient submission failures that were retried.
	SubmitRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flipper_gateway_submit_retries_total",
			Help: "Total number of order submission retries",
		},
		[]string{"symbol"},
	)

	// StreamReconnects tracks WebSocket stream (re)connections.
	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flipper_gateway_stream_connects_total",
		Help: "Total number of WebSocket stream connections established",
	})
)
