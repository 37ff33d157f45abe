package wifi

import (
	"github.com/prometheus/client_golang/prometheus"

	"chred/pkg/types"
)

var (
	scanMonitorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "wifi",
			Name:      "scan_monitor_requests_total",
			Help:      "Scan monitor configuration requests by direction and outcome",
		},
		[]string{"enable", "outcome"},
	)

	scanRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "wifi",
			Name:      "scan_requests_total",
			Help:      "On-demand scan requests by outcome",
		},
		[]string{"outcome"},
	)

	asyncResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "wifi",
			Name:      "async_results_total",
			Help:      "Async result events posted to nanoapps",
		},
		[]string{"request", "outcome"},
	)

	scanEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "wifi",
			Name:      "scan_events_total",
			Help:      "Scan result events broadcast",
		},
	)

	staleScanRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "wifi",
			Name:      "stale_scan_requests_total",
			Help:      "Outstanding scan requests dropped after the result timeout",
		},
	)

	palErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chre",
			Subsystem: "wifi",
			Name:      "platform_errors_total",
			Help:      "Synchronous platform request failures",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(scanMonitorRequestsTotal, scanRequestsTotal, asyncResultsTotal,
		scanEventsTotal, staleScanRequestsTotal, palErrorsTotal)
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func enableLabel(enable bool) string {
	if enable {
		return "enable"
	}
	return "disable"
}

func requestLabel(requestType uint8) string {
	switch requestType {
	case types.WifiRequestTypeConfigureScanMonitor:
		return "configure_scan_monitor"
	case types.WifiRequestTypeRequestScan:
		return "request_scan"
	default:
		return "unknown"
	}
}
