// Package metrics exposes Prometheus metrics for the store, the association
// service and the webhook endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements shop.Metrics and the webhook counters.
type Collector struct {
	storeCalls    *prometheus.CounterVec
	storeLatency  *prometheus.HistogramVec
	operations    *prometheus.CounterVec
	cascadeFailed *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
}

// NewCollector registers every metric on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		storeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopauth_store_calls_total",
			Help: "Key-value store calls by command and outcome.",
		}, []string{"op", "outcome"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shopauth_store_call_duration_seconds",
			Help:    "Key-value store call latency.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopauth_operations_total",
			Help: "Shop association operations by result.",
		}, []string{"op", "result"}),
		cascadeFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopauth_uninstall_cascade_failures_total",
			Help: "Best-effort uninstall cleanup steps that failed.",
		}, []string{"stage"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopauth_webhooks_total",
			Help: "Shopify webhook deliveries by topic and result.",
		}, []string{"topic", "result"}),
	}

	reg.MustRegister(
		c.storeCalls,
		c.storeLatency,
		c.operations,
		c.cascadeFailed,
		c.webhooks,
	)
	return c
}

func (c *Collector) ObserveStoreCall(op string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.storeCalls.WithLabelValues(op, outcome).Inc()
	c.storeLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) ObserveOperation(op, result string) {
	c.operations.WithLabelValues(op, result).Inc()
}

func (c *Collector) IncCascadeFailure(stage string) {
	c.cascadeFailed.WithLabelValues(stage).Inc()
}

// RecordWebhook counts one delivery; result is e.g. "processed", "duplicate" or "invalid_hmac".
func (c *Collector) RecordWebhook(topic, result string) {
	c.webhooks.WithLabelValues(topic, result).Inc()
}

// Handler serves the registry for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
