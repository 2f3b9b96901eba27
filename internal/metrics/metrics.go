package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Live query metrics
	SnapshotsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chyrp_live_snapshots_total",
			Help: "Snapshots delivered by live subscriptions",
		},
		[]string{"view"}, // "feed", "comments", "profile"
	)

	LiveSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chyrp_live_subscribers",
			Help: "Open websocket subscribers per view",
		},
		[]string{"view"},
	)

	Resubscriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chyrp_live_resubscriptions_total",
			Help: "Live subscriptions reopened after a delivery error",
		},
		[]string{"view"},
	)

	// Write path metrics
	WriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chyrp_write_failures_total",
			Help: "Failed document store writes by operation",
		},
		[]string{"operation"},
	)

	Compensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chyrp_compensations_total",
			Help: "Multi-step flows rolled back or recorded after a partial failure",
		},
		[]string{"flow", "outcome"}, // outcome: "compensated", "recorded"
	)

	InconsistenciesOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chyrp_inconsistencies_open",
			Help: "Open entries in the repair ledger",
		},
	)

	Repairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chyrp_repairs_total",
			Help: "Ledger entries processed by the reconciler",
		},
		[]string{"kind", "result"}, // result: "resolved", "failed"
	)

	// Blob storage metrics
	UploadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chyrp_upload_bytes_total",
			Help: "Bytes written to blob storage",
		},
		[]string{"mode"}, // "sequential", "resumable"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chyrp_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Auth metrics
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chyrp_auth_attempts_total",
			Help: "Sign-up and sign-in attempts by outcome",
		},
		[]string{"action", "outcome"},
	)
)
