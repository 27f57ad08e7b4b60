package session

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce     sync.Once
	sessionsStarted prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	levelDecisions  *prometheus.CounterVec
	samplesDropped  *prometheus.CounterVec
	activeWorkers   prometheus.Gauge
	sweepDuration   prometheus.Histogram
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "heungbuja",
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Game sessions started",
		})
		sessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heungbuja",
			Subsystem: "session",
			Name:      "finalized_total",
			Help:      "Game sessions finalized by terminal status",
		}, []string{"status"})
		levelDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heungbuja",
			Subsystem: "session",
			Name:      "level_decisions_total",
			Help:      "Verse2 difficulty decisions by level",
		}, []string{"level"})
		samplesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heungbuja",
			Subsystem: "session",
			Name:      "samples_dropped_total",
			Help:      "Inbound samples that were not processed",
		}, []string{"reason"})
		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "heungbuja",
			Subsystem: "session",
			Name:      "active_workers",
			Help:      "Per-session sample workers currently running",
		})
		sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "heungbuja",
			Subsystem: "watchdog",
			Name:      "sweep_duration_seconds",
			Help:      "Time taken by one watchdog sweep",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		})
	})
}
