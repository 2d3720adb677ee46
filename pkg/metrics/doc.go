/*
Package metrics provides Prometheus metrics and component health reporting for
ringmaster.

# Metrics

All collectors are package-level variables registered with the default
Prometheus registry in init(), so any package can record against them without
plumbing a registry around:

	metrics.OffersReceived.Add(float64(len(offers)))
	metrics.OffersAccepted.WithLabelValues("plan").Inc()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

Handler exposes them for scraping on /metrics.

Offer metrics:
  - ringmaster_offers_received_total
  - ringmaster_offers_accepted_total{stage="plan|repair|backup"}
  - ringmaster_offers_declined_total
  - ringmaster_scheduling_latency_seconds

Plan and task metrics:
  - ringmaster_blocks_total{status}
  - ringmaster_tasks_total{state}
  - ringmaster_status_updates_total{state}
  - ringmaster_repairs_scheduled_total

Node lifecycle metrics:
  - ringmaster_mode_transitions_total{mode}
  - ringmaster_probe_failures_total{kind="transport|invalid_argument|interrupted|unknown"}
  - ringmaster_escalations_total
  - ringmaster_admin_commands_total{op,result}

Informational driver callbacks (rescinded offers, lost agents, lost executors,
disconnections, driver errors) are counted in ringmaster_driver_events_total.

The block and task gauges are refreshed by a Collector polling a Source, which
the scheduler coordinator implements.

# Health

Components report their health with RegisterComponent and UpdateComponent. The
critical components are storage, scheduler and api: readiness requires all three
to be registered and healthy, and an unhealthy critical component makes /health
return 503. Any other unhealthy component only marks the process degraded.
*/
package metrics
