// Package observability exposes the Prometheus metrics surface for the
// MES core, mounted at /metrics in cmd/mesd. Mirrors the teacher's
// one-var-block-per-concern layout.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// --- Scheduler ---

	SchedulerRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mes_scheduler_run_duration_seconds",
		Help:    "Duration of a full scheduling run",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	SchedulerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_scheduler_runs_total",
		Help: "Total scheduling runs by outcome",
	}, []string{"outcome"}) // ok, budget_exceeded, error

	SchedulerPlacedSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mes_scheduler_placed_segments_total",
		Help: "Total Setup/Process segments placed across all runs",
	})

	SchedulerPartsPartial = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mes_scheduler_parts_partial_total",
		Help: "Total parts emitted as partially completed due to a machine turning unavailable mid-part",
	})

	// --- Priority engine ---

	PriorityReindexTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mes_priority_reindex_total",
		Help: "Total priority reindex operations performed",
	})

	PriorityRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_priority_rejected_total",
		Help: "Priority change attempts rejected, by reason",
	}, []string{"reason"}) // frozen, out_of_range

	// --- Reschedule controller ---

	RescheduleTriggeredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_reschedule_triggered_total",
		Help: "Reschedule runs triggered, by trigger kind",
	}, []string{"trigger"}) // downtime_open, downtime_close, priority_change, raw_material_unlock, admin

	RescheduleVersionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mes_reschedule_versions_created_total",
		Help: "Total new ScheduleVersions created across all reschedules",
	})

	// --- Telemetry & detectors ---

	TelemetryIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_telemetry_ingested_total",
		Help: "Telemetry rows ingested, by stream",
	}, []string{"stream"}) // status, parameters, shiftwise_energy

	DetectorEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_detector_emitted_total",
		Help: "Change events emitted by detector topic",
	}, []string{"topic"})

	DetectorRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_detector_rate_limited_total",
		Help: "Changes suppressed by the per-entity minimum broadcast interval",
	}, []string{"topic"})

	DetectorTickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mes_detector_tick_duration_seconds",
		Help:    "Duration of one detector diff tick",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})

	// --- Broadcast fabric ---

	BroadcastSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mes_broadcast_subscribers",
		Help: "Current subscriber count per topic",
	}, []string{"topic"})

	BroadcastDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_broadcast_dropped_total",
		Help: "Subscribers dropped due to bounded-queue overflow",
	}, []string{"topic"})

	BroadcastEventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_broadcast_events_sent_total",
		Help: "Events successfully enqueued to a subscriber",
	}, []string{"topic"})

	// --- Downtime / MTTR / MTBF ---

	DowntimeOpenGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mes_downtime_open_count",
		Help: "Currently open downtime tickets shop-wide",
	})

	MTTRSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mes_mttr_seconds",
		Help: "Mean time to repair per machine, seconds",
	}, []string{"machine_id"})

	MTBFSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mes_mtbf_seconds",
		Help: "Mean time between failures per machine, seconds",
	}, []string{"machine_id"})

	// --- Coordination (reschedule serialization lock) ---

	LeadershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_scheduler_lock_transitions_total",
		Help: "Reschedule-serialization lock acquisitions/losses",
	}, []string{"node_id", "event"})

	LeadershipEpoch = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mes_scheduler_lock_epoch",
		Help: "Current fencing epoch held by this node",
	}, []string{"node_id"})

	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mes_scheduler_lock_held",
		Help: "1 if this node currently holds the reschedule-serialization lock",
	})

	// --- Machine liveness ---

	MachinesLiveGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mes_machines_live",
		Help: "Machines with a live telemetry row within the liveness threshold",
	})

	MachineOfflineEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mes_machine_offline_events_total",
		Help: "Synthetic OFFLINE events emitted when a machine drops out of the live set",
	})

	// --- Production log ---

	ProductionGoodQtyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mes_production_good_qty_total",
		Help: "Total good quantity reported across all production log entries",
	})

	ProductionBadQtyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mes_production_bad_qty_total",
		Help: "Total bad quantity reported across all production log entries",
	})

	ProductionSessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mes_production_sessions_open",
		Help: "Currently open operator production sessions",
	})

	// --- API ---

	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_api_rate_limited_total",
		Help: "API requests rejected by rate limiter",
	}, []string{"endpoint"})

	IdempotencyHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mes_idempotency_hits_total",
		Help: "Requests served from the idempotency cache instead of re-executing",
	})
)
