// Package metrics holds the Prometheus collectors of the callback layer.
// They register with the default registry and are served by httpapi.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons for CallbacksSkipped.
const (
	ReasonHandles = "awaiting_handles"
	ReasonWarmup  = "warmup"
	ReasonAborted = "aborted"
)

var (
	// Callbacks counts Active invocations by calling point.
	Callbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bca_callbacks_total",
		Help: "Active callback invocations by calling point",
	}, []string{"calling_point"})

	CallbacksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bca_callbacks_skipped_total",
		Help: "Callback invocations that returned early, by calling point and reason",
	}, []string{"calling_point", "reason"})

	Timesteps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bca_timesteps_total",
		Help: "Distinct simulation timesteps recorded",
	})

	// Actuations counts actuator writes; kind is "set" or "relinquish".
	Actuations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bca_actuations_total",
		Help: "Actuator writes by actuator and kind",
	}, []string{"actuator", "kind"})

	CallbackDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bca_callback_duration_seconds",
		Help:    "Time spent inside an Active callback",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
	}, []string{"calling_point"})

	// MessagesDropped counts broker deliveries lost to a full subscriber
	// channel.
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bca_messages_dropped_total",
		Help: "Broker messages dropped because the subscriber was not keeping up",
	}, []string{"subscriber"})

	RunErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bca_run_errors_total",
		Help: "Errors raised during a run, by kind",
	}, []string{"kind"})
)
