package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Offer metrics
	OffersReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ringmaster_offers_received_total",
			Help: "Total number of resource offers received",
		},
	)

	OffersAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringmaster_offers_accepted_total",
			Help: "Total number of offers accepted by scheduling stage",
		},
		[]string{"stage"},
	)

	OffersDeclined = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ringmaster_offers_declined_total",
			Help: "Total number of offers declined",
		},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ringmaster_scheduling_latency_seconds",
			Help:    "Time taken to process one offer batch in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Plan metrics
	BlocksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ringmaster_blocks_total",
			Help: "Number of plan blocks by status",
		},
		[]string{"status"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ringmaster_tasks_total",
			Help: "Number of known node tasks by state",
		},
		[]string{"state"},
	)

	StatusUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringmaster_status_updates_total",
			Help: "Total number of task status updates by state",
		},
		[]string{"state"},
	)

	// Node lifecycle metrics
	ModeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringmaster_mode_transitions_total",
			Help: "Total number of observed node mode transitions by new mode",
		},
		[]string{"mode"},
	)

	ProbeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringmaster_probe_failures_total",
			Help: "Total number of failed node probes by failure kind",
		},
		[]string{"kind"},
	)

	Escalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ringmaster_escalations_total",
			Help: "Total number of times a node was declared unknown after repeated probe failures",
		},
	)

	AdminCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringmaster_admin_commands_total",
			Help: "Total number of administrative commands by operation and result",
		},
		[]string{"op", "result"},
	)

	RepairsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ringmaster_repairs_scheduled_total",
			Help: "Total number of repair tasks launched",
		},
	)

	// Observability-only driver callbacks (rescinded offers, lost agents, ...)
	DriverEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringmaster_driver_events_total",
			Help: "Total number of informational driver callbacks by kind",
		},
		[]string{"kind"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringmaster_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ringmaster_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringmaster_raft_is_leader",
			Help: "Whether this scheduler is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringmaster_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)
)

func init() {
	prometheus.MustRegister(OffersReceived)
	prometheus.MustRegister(OffersAccepted)
	prometheus.MustRegister(OffersDeclined)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(BlocksTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(StatusUpdates)
	prometheus.MustRegister(ModeTransitions)
	prometheus.MustRegister(ProbeFailures)
	prometheus.MustRegister(Escalations)
	prometheus.MustRegister(AdminCommands)
	prometheus.MustRegister(RepairsScheduled)
	prometheus.MustRegister(DriverEvents)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
