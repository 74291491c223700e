package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "investorkonnect"

var (
	registerOnce sync.Once

	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Reconcile calls by acting role and outcome status.",
		},
		[]string{"role", "status"},
	)
	providerPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_polls_total",
			Help:      "Recipient-status poll attempts against the e-signature provider.",
		},
		[]string{"outcome"},
	)
	dealMaterializations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deal_materializations_total",
			Help:      "EnsureDealCreated outcomes.",
		},
		[]string{"outcome"},
	)
	agentLocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_locks_total",
			Help:      "Deal lock attempts on full signature.",
		},
		[]string{"outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(reconcileTotal, providerPolls, dealMaterializations, agentLocks, httpRequests, httpDuration)
	})
}

func RecordReconcile(role, status string) {
	RegisterMetrics()
	reconcileTotal.WithLabelValues(role, status).Inc()
}

// RecordProviderPoll outcome: complete | incomplete | error
func RecordProviderPoll(outcome string) {
	RegisterMetrics()
	providerPolls.WithLabelValues(outcome).Inc()
}

func RecordMaterialization(outcome string) {
	RegisterMetrics()
	dealMaterializations.WithLabelValues(outcome).Inc()
}

func RecordAgentLock(outcome string) {
	RegisterMetrics()
	agentLocks.WithLabelValues(outcome).Inc()
}

func RecordHTTPRequest(path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(path, statusLabel).Inc()
	httpDuration.WithLabelValues(path, statusLabel).Observe(duration.Seconds())
}
