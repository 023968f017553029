package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ExecutionsTotal: завершённые выполнения по итоговому статусу.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_executions_total",
		Help: "Finished workflow executions by final status",
	}, []string{"status"})

	// NodeExecutionsTotal: выполненные узлы по типу и статусу шага.
	NodeExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_node_executions_total",
		Help: "Executed workflow nodes by type and step status",
	}, []string{"type", "status"})

	// NodeDuration: длительность выполнения узла.
	NodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conveyor_node_duration_seconds",
		Help:    "Node execution duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// JobsRetried: задания, переотправленные в очередь повторов.
	JobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_jobs_retried_total",
		Help: "Execution jobs republished for retry",
	})

	// JobsDeadLettered: задания, отправленные в DLQ.
	JobsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_jobs_dead_lettered_total",
		Help: "Execution jobs moved to the dead letter queue",
	})

	// GovernanceCacheLookups: обращения к кэшу политик узлов (hit/miss).
	GovernanceCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_governance_cache_hits_total",
		Help: "Node policy cache lookups by result",
	}, []string{"result"})
)

// Handler возвращает HTTP handler для /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HealthHandler отвечает "ok" на /healthz.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
