// Package metrics expone los colectores Prometheus del servicio.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resultados usados como label.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// AuthOperations cuenta operaciones de autenticacion por operacion y resultado.
	AuthOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_auth_operations_total",
			Help: "Total number of authentication operations",
		},
		[]string{"operation", "result"},
	)

	// NotificationsPublished cuenta publicaciones de emails de verificacion.
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_auth_verification_notifications_total",
			Help: "Verification email messages handed to the broker",
		},
		[]string{"result"},
	)

	// APILatency mide la latencia de requests HTTP.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "account_auth_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// ObserveAuth registra el resultado de una operacion.
func ObserveAuth(operation string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	AuthOperations.WithLabelValues(operation, result).Inc()
}
