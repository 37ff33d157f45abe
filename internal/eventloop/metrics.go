package eventloop

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsPostedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "eventloop",
			Name:      "events_posted_total",
			Help:      "Total number of events accepted into the queue",
		},
		[]string{"type"},
	)

	eventsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "eventloop",
			Name:      "events_rejected_total",
			Help:      "Total number of events or callbacks refused by the queue",
		},
		[]string{"reason"},
	)

	callbacksDeferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "eventloop",
			Name:      "callbacks_deferred_total",
			Help:      "Total number of deferred callbacks accepted into the queue",
		},
		[]string{"type"},
	)

	deliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "eventloop",
			Name:      "deliveries_total",
			Help:      "Total number of event deliveries to nanoapps",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chre",
			Subsystem: "eventloop",
			Name:      "queue_depth",
			Help:      "Entries waiting in the event queue",
		},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chre",
			Subsystem: "eventloop",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent running one queue entry to completion",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		},
		[]string{"kind"},
	)

	tracesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "eventloop",
			Name:      "traces_dropped_total",
			Help:      "Delivery traces dropped because a subscriber was too slow",
		},
	)

	fatalTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "eventloop",
			Name:      "fatal_errors_total",
			Help:      "Fatal invariant violations raised on the loop",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsPostedTotal, eventsRejectedTotal, callbacksDeferredTotal,
		deliveriesTotal, queueDepth, dispatchDuration, tracesDroppedTotal, fatalTotal)
}

func rejectReason(err error) string {
	switch {
	case IsQueueFull(err):
		return "queue_full"
	case IsLoopStopped(err):
		return "stopped"
	default:
		return "unspecified"
	}
}
