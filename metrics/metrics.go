package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FilesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_files_processed_total",
			Help: "Files that reached a terminal state",
		},
		[]string{"file_type", "status"},
	)

	ScorerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_scorer_requests_total",
			Help: "Scorer invocations by outcome",
		},
		[]string{"scorer", "status"},
	)

	ScorerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "review_scorer_duration_seconds",
			Help:    "Scorer call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scorer"},
	)

	ViolationsFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_violations_total",
			Help: "Persisted violation findings",
		},
		[]string{"violation_type"},
	)

	KafkaMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_kafka_messages_total",
			Help: "Kafka messages produced and consumed",
		},
		[]string{"topic", "status"},
	)

	TasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "review_tasks_active",
			Help: "Tasks currently processing",
		},
	)
)

func init() {
	prometheus.MustRegister(
		FilesProcessed,
		ScorerRequests,
		ScorerDuration,
		ViolationsFound,
		KafkaMessagesTotal,
		TasksActive,
	)
}

// StartMetricsServer starts the Prometheus endpoint on its own port.
func StartMetricsServer(port string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(":"+port, nil); err != nil {
			panic("failed to start metrics server: " + err.Error())
		}
	}()
}
