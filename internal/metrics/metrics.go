package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "captain_crm"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	mirrorOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_operations_total",
			Help:      "Secondary store operations by entity kind, operation and result.",
		},
		[]string{"kind", "op", "result"},
	)

	mirrorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mirror_operation_seconds",
			Help:      "Secondary store operation latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	mirrorStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mirror_entities",
			Help:      "Entities per mirror synchronization state.",
		},
		[]string{"kind", "state"},
	)

	routerReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_reads_total",
			Help:      "Routed reads by query and the backend that answered.",
		},
		[]string{"query", "backend"},
	)

	routerFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_fallbacks_total",
			Help:      "Reads that fell back to the record store after a secondary store failure.",
		},
		[]string{"query"},
	)

	migrationEntities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_entities_total",
			Help:      "Entities processed by backfill runs.",
		},
		[]string{"kind", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, mirrorOps, mirrorLatency, mirrorStates,
			routerReads, routerFallbacks, migrationEntities)
	})
}

func IncHTTP(endpoint string, code int) {
	httpRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

// ObserveMirrorOp records the outcome and latency of a secondary store call.
func ObserveMirrorOp(kind, op string, err error, elapsed time.Duration) {
	mirrorOps.WithLabelValues(kind, op, result(err)).Inc()
	mirrorLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func SetMirrorState(kind, state string, n int64) {
	mirrorStates.WithLabelValues(kind, state).Set(float64(n))
}

func IncRouterRead(query, backend string) {
	routerReads.WithLabelValues(query, backend).Inc()
}

func IncRouterFallback(query string) {
	routerFallbacks.WithLabelValues(query).Inc()
}

func IncMigration(kind string, err error) {
	migrationEntities.WithLabelValues(kind, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
