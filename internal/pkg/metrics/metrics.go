package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reqlog_http_latency_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	RecordsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reqlog_records_emitted_total",
		Help: "Request log records handed to the sink",
	}, []string{"category"})

	// stage: encode, decode, emit, ship, panic
	EmitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reqlog_emit_failures_total",
		Help: "Failures while building or shipping request log records",
	}, []string{"stage"})

	ActiveContexts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reqlog_active_request_contexts",
		Help: "Request contexts issued and not yet cleared",
	})

	DroppedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reqlog_dropped_records_total",
		Help: "Records dropped because the shipping queue was full",
	})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reqlog_stream_clients",
		Help: "Connected websocket tail clients",
	})
)
