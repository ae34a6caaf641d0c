// Package metrics holds the Prometheus collectors shared across the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PayoutTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_transitions_total",
		Help: "Payout state transitions",
	}, []string{"from", "to"})

	ProcessorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_processor_calls_total",
		Help: "Calls made to payment processors",
	}, []string{"processor", "operation", "result"})

	ProcessorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payout_processor_call_duration_seconds",
		Help:    "Processor call latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"processor", "operation"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_webhook_events_total",
		Help: "Processor webhook events by processing outcome",
	}, []string{"processor", "outcome"})

	BalanceOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_balance_operations_total",
		Help: "Balance mutations by operation",
	}, []string{"operation", "result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})
)

// ObserveProcessorCall records one processor call with its result and latency.
func ObserveProcessorCall(processor, operation, result string, started time.Time) {
	ProcessorCalls.WithLabelValues(processor, operation, result).Inc()
	ProcessorLatency.WithLabelValues(processor, operation).Observe(time.Since(started).Seconds())
}
