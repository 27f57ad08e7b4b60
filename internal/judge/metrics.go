package judge

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeOverflow = "overflow"
)

var (
	metricsOnce     sync.Once
	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	queueDepthGauge prometheus.Gauge
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "heungbuja",
			Subsystem: "judge",
			Name:      "request_duration_seconds",
			Help:      "Latency of motion classification calls",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"endpoint"})
		requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heungbuja",
			Subsystem: "judge",
			Name:      "requests_total",
			Help:      "Motion classification calls by outcome",
		}, []string{"endpoint", "outcome"})
		queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "heungbuja",
			Subsystem: "judge",
			Name:      "queue_depth",
			Help:      "Judgment requests waiting for a worker",
		})
	})
}
