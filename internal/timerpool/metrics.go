package timerpool

import "github.com/prometheus/client_golang/prometheus"

var (
	timersSetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "timerpool",
			Name:      "timers_set_total",
			Help:      "Total number of timers armed",
		},
		[]string{"kind"},
	)

	setFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "timerpool",
			Name:      "set_failures_total",
			Help:      "Total number of rejected timer requests",
		},
		[]string{"reason"},
	)

	timersCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "timerpool",
			Name:      "timers_cancelled_total",
			Help:      "Total number of timers cancelled",
		},
	)

	cancelFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "timerpool",
			Name:      "cancel_failures_total",
			Help:      "Total number of rejected cancellations",
		},
		[]string{"reason"},
	)

	timersFiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "timerpool",
			Name:      "timers_fired_total",
			Help:      "Total number of timer events posted",
		},
	)

	armedTimers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chre",
			Subsystem: "timerpool",
			Name:      "armed_timers",
			Help:      "Timers currently armed",
		},
	)
)

func init() {
	prometheus.MustRegister(timersSetTotal, setFailuresTotal, timersCancelledTotal,
		cancelFailuresTotal, timersFiredTotal, armedTimers)
}

func kindLabel(isOneShot bool) string {
	if isOneShot {
		return "one_shot"
	}
	return "periodic"
}
