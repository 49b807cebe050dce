package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_ingested_total",
			Help: "Total number of security events ingested",
		},
		[]string{"type"},
	)

	EventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_events_deduplicated_total",
			Help: "Total number of events dropped as duplicates",
		},
	)

	PatternMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_pattern_matches_total",
			Help: "Total number of correlation pattern matches",
		},
		[]string{"pattern"},
	)

	IndicatorMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_indicator_matches_total",
			Help: "Total number of threat indicator hits",
		},
		[]string{"type"},
	)

	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_triggered_total",
			Help: "Total number of alert rules triggered",
		},
		[]string{"severity"},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_suppressed_total",
			Help: "Total number of alerts suppressed within a rule cooldown",
		},
	)

	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_incidents_created_total",
			Help: "Total number of incidents created",
		},
		[]string{"severity", "category"},
	)

	IncidentEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_incident_escalations_total",
			Help: "Total number of incident escalations fired",
		},
	)

	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_incident_actions_executed_total",
			Help: "Total number of incident response actions executed",
		},
		[]string{"type", "status"},
	)

	CommunicationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_communications_sent_total",
			Help: "Total number of incident communications dispatched",
		},
		[]string{"status"},
	)

	BusDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_bus_dropped_total",
			Help: "Total number of detections dropped on a saturated bus subscriber",
		},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_event_processing_duration_seconds",
			Help:    "Time taken to score, match and correlate an event",
			Buckets: prometheus.DefBuckets,
		},
	)

	CorrelationGroups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_correlation_groups",
			Help: "Number of live correlation groups",
		},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed by worker pools",
		},
		[]string{"pool_type"},
	)
)
