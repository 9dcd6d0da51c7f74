package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveChannels tracks document channels currently held in memory.
	ActiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sectionlock_active_channels",
			Help: "Number of live document channels",
		},
	)

	// Collaborators tracks attached connections across all documents.
	Collaborators = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sectionlock_collaborators",
			Help: "Number of connected collaborators",
		},
	)

	// LocksHeld tracks section locks currently held across all documents.
	LocksHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sectionlock_locks_held",
			Help: "Number of section locks currently held",
		},
	)

	// LockRequests counts lock decisions by result (granted|reacquired|denied).
	LockRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sectionlock_lock_requests_total",
			Help: "Total number of section lock requests",
		},
		[]string{"result"},
	)

	// LockReleases counts lock releases by reason (released|disconnected|expired).
	LockReleases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sectionlock_lock_releases_total",
			Help: "Total number of section lock releases",
		},
		[]string{"reason"},
	)

	// BroadcastMessages counts broadcast deliveries by outcome (delivered|dropped).
	BroadcastMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sectionlock_broadcast_messages_total",
			Help: "Total number of per-connection broadcast deliveries",
		},
		[]string{"outcome"},
	)

	// RateLimited counts HTTP requests refused by a rate limit, by scope (api|connect).
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sectionlock_rate_limited_total",
			Help: "Total number of requests rejected by rate limiting",
		},
		[]string{"scope"},
	)

	// RejectedMessages counts inbound frames rejected before reaching a channel.
	RejectedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sectionlock_rejected_messages_total",
			Help: "Total number of rejected client messages",
		},
		[]string{"code"},
	)

	// HistoryEvents counts lock events handed to the history recorder by outcome
	// (persisted|dropped|failed).
	HistoryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sectionlock_history_events_total",
			Help: "Total number of lock history events by outcome",
		},
		[]string{"outcome"},
	)

	// MaintenanceRuns counts background job runs by job and result.
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sectionlock_maintenance_runs_total",
			Help: "Total number of maintenance job runs",
		},
		[]string{"job", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sectionlock_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
