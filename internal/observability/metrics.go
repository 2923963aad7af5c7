package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "events_ingested_total",
		Help:      "Ingestion outcomes per batch item",
	}, []string{"outcome"})

	FaceDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "face_decisions_total",
		Help:      "Match-or-index decisions by status",
	}, []string{"status"})

	PersonsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "persons_created_total",
		Help:      "New person identities created by the hub",
	})

	PersonMerges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "person_merges_total",
		Help:      "Person identity merges applied",
	})

	CollectorTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "collector_ticks_total",
		Help:      "Collector poll ticks by site and result",
	}, []string{"site", "result"})

	WatermarkLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "collector_watermark_lag_seconds",
		Help:      "Age of the per-site ingestion watermark",
	}, []string{"site"})

	ReportsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "anomaly_reports_created_total",
		Help:      "Anomaly reports written per rule",
	}, []string{"rule"})

	EngineState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "intel_engine_state",
		Help:      "Threat intel engine state (0 idle, 1 fetching, 2 evaluating, 3 reporting)",
	})

	EngineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "intel_engine_runs_total",
		Help:      "Threat intel engine runs by result",
	}, []string{"result"})

	EventsEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "events_evaluated_total",
		Help:      "Events marked evaluated by the intel engine",
	})

	SourceBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "source_breaker_state",
		Help:      "Camera API circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"site"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket feed connections",
	})
)
