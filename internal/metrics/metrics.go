// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests by method and status class.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clinvault",
		Name:      "http_requests_total",
		Help:      "HTTP requests processed.",
	}, []string{"method", "code"})

	// AnomaliesTotal counts anomaly-detector matches by pattern name.
	AnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clinvault",
		Name:      "anomalies_total",
		Help:      "Suspicious request patterns flagged by the anomaly detector.",
	}, []string{"pattern"})

	// DecryptFailuresTotal counts protected-field decryption failures.
	DecryptFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clinvault",
		Name:      "field_decrypt_failures_total",
		Help:      "Protected field values that failed authenticated decryption.",
	})

	// TokenRotationsTotal counts successful refresh-token rotations.
	TokenRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clinvault",
		Name:      "token_rotations_total",
		Help:      "Successful refresh token rotations.",
	})

	// TokenReplaysTotal counts rotations attempted with an already-rotated
	// token, i.e. suspected token theft.
	TokenReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clinvault",
		Name:      "token_replays_total",
		Help:      "Replay attempts with revoked refresh tokens.",
	})

	// AuditEventsTotal counts recorded audit events by severity.
	AuditEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clinvault",
		Name:      "audit_events_total",
		Help:      "Audit events recorded.",
	}, []string{"severity"})
)
