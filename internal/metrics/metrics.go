package metrics

import (
	"sync"

	"ridesched/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ridesched"

var (
	once sync.Once

	queueItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_items",
		Help:      "Items currently held in the retry queue.",
	})

	queueDue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_items_due",
		Help:      "Queue items whose next retry time has passed.",
	})

	queueAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_items_by_age",
			Help:      "Queue items under cumulative age thresholds.",
		},
		[]string{"bucket"},
	)

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Replayed operations by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	triggerActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_actions_total",
			Help:      "Timer host actions by trigger type.",
		},
		[]string{"trigger", "action"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(queueItems, queueDue, queueAge, operations, triggerActions, httpRequests)
	})
}

// ObserveQueue publishes a statistics snapshot.
func ObserveQueue(stats models.Statistics) {
	queueItems.Set(float64(stats.TotalItems))
	queueDue.Set(float64(stats.DueNow))
	queueAge.WithLabelValues("lt_1h").Set(float64(stats.ByAge.LessThan1Hour))
	queueAge.WithLabelValues("lt_24h").Set(float64(stats.ByAge.LessThan24Hours))
	queueAge.WithLabelValues("gte_24h").Set(float64(stats.ByAge.MoreThan24Hours))
}

// IncOperation counts one queue outcome such as enqueued, retried or abandoned.
func IncOperation(opType models.OperationType, outcome string) {
	operations.WithLabelValues(string(opType), outcome).Inc()
}

// IncTrigger counts a timer host action (scheduled, removed, installed, fired).
func IncTrigger(trigger, action string) {
	triggerActions.WithLabelValues(trigger, action).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
