package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fleet metrics collectors
var (
	// Registry

	DeviceRegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinfleet_device_registrations_total",
			Help: "Total number of device registration attempts",
		},
		[]string{"result"},
	)

	ImageRegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinfleet_image_registrations_total",
			Help: "Total number of image registration attempts",
		},
		[]string{"result"},
	)

	ImageVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinfleet_image_verifications_total",
			Help: "Total number of stored image hash verifications",
		},
		[]string{"result"},
	)

	ReservationSyncFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinfleet_reservation_sync_failures_total",
			Help: "Total number of failed reservation file writes or reloads",
		},
		[]string{"stage"},
	)

	// Deployments

	DeploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinfleet_deployments_total",
			Help: "Total number of deployments by method and resulting status",
		},
		[]string{"method", "status"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thinfleet_delivery_duration_seconds",
			Help:    "Delivery strategy duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method"},
	)

	DeploymentCompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinfleet_deployment_completions_total",
			Help: "Total number of deployment completion reports",
		},
		[]string{"status"},
	)

	// Agent API

	AgentHeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinfleet_agent_heartbeats_total",
			Help: "Total number of agent heartbeats",
		},
		[]string{"status"},
	)

	AgentCommandsDispatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thinfleet_agent_commands_dispatched_total",
			Help: "Total number of queued commands handed to agents",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinfleet_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thinfleet_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// Result returns the label value used by the *_total{result} counters
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
