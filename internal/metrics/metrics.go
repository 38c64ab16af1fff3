package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solarplan",
		Name:      "control_ticks_total",
		Help:      "Control loop ticks evaluated.",
	})

	TicksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solarplan",
		Name:      "control_ticks_skipped_total",
		Help:      "Control loop ticks skipped, by reason.",
	}, []string{"reason"})

	DispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solarplan",
		Name:      "command_dispatches_total",
		Help:      "Command dispatch cycles, by final result.",
	}, []string{"result"})

	DispatchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solarplan",
		Name:      "command_dispatch_attempts_total",
		Help:      "Individual publish attempts, including retries.",
	})

	ProtectionOverrides = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solarplan",
		Name:      "protection_overrides_total",
		Help:      "Ticks where a protection strategy overrode the plan.",
	}, []string{"strategy"})

	BatteryPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "solarplan",
		Name:      "battery_state_of_charge_percent",
		Help:      "Last observed battery state of charge.",
	})

	LifecycleState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "solarplan",
		Name:      "controller_lifecycle",
		Help:      "Controller lifecycle, 1 for the current state and 0 otherwise.",
	}, []string{"state"})
)

// SetLifecycle flips the lifecycle gauge to a single active state.
func SetLifecycle(state string) {
	for _, s := range []string{"starting", "running", "retrying_command", "failed", "stopped"} {
		value := 0.0
		if s == state {
			value = 1
		}
		LifecycleState.WithLabelValues(s).Set(value)
	}
}
