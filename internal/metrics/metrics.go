package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpesa_gateway_requests_total",
		Help: "Requests sent to the M-PESA API by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mpesa_gateway_request_duration_seconds",
		Help:    "Latency of M-PESA API requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpesa_transaction_transitions_total",
		Help: "Applied terminal transitions by resulting status and trigger.",
	}, []string{"status", "source"})

	Activations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpesa_activations_total",
		Help: "Plan activation attempts by outcome.",
	}, []string{"outcome"})

	Callbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpesa_callbacks_total",
		Help: "Webhook deliveries by envelope status.",
	}, []string{"status"})
)
