package nanoapps

import (
	"time"

	"chred/internal/runtime"
	"chred/pkg/types"
)

// WifiWorldAppID is the application ID of WifiWorld.
const WifiWorldAppID uint64 = 0x0123456789000002

type wifiCookie int

const (
	scanMonitorCookie wifiCookie = iota + 1
	onDemandScanCookie
	scanTimerCookie
)

// WifiWorld enables the scan monitor and requests an on-demand scan every
// ScanInterval, logging what comes back.
type WifiWorld struct {
	ScanInterval time.Duration
	ScanParams   types.WifiScanParams

	sys            *runtime.System
	monitorEnabled bool
	scanRequests   int
	scanFailures   int
	resultsSeen    int
}

// NewWifiWorld returns a WifiWorld that scans every 10s.
func NewWifiWorld() *WifiWorld {
	return &WifiWorld{ScanInterval: 10 * time.Second}
}

func (a *WifiWorld) Start(sys *runtime.System) bool {
	a.sys = sys
	caps := sys.WifiCapabilities()
	sys.Log().Info().Uint32("capabilities", caps).Msg("wifi world started")

	if caps&types.WifiCapabilitiesScanMonitoring != 0 {
		if !sys.WifiConfigureScanMonitor(true, scanMonitorCookie) {
			sys.Log().Error().Msg("failed to request scan monitoring")
		}
	} else {
		sys.Log().Warn().Msg("scan monitoring not supported")
	}

	if caps&types.WifiCapabilitiesOnDemandScan != 0 {
		if sys.SetTimer(a.ScanInterval, scanTimerCookie, false) == types.TimerInvalid {
			sys.Log().Error().Msg("failed to set the scan timer")
		}
	} else {
		sys.Log().Warn().Msg("on-demand scans not supported")
	}
	return true
}

func (a *WifiWorld) HandleEvent(_ uint32, eventType types.EventType, data any) {
	switch eventType {
	case types.EventTimer:
		if data == scanTimerCookie {
			a.requestScan()
		}
	case types.EventWifiAsyncResult:
		a.handleAsyncResult(data.(*types.AsyncResult))
	case types.EventWifiScanResult:
		a.handleScanEvent(data.(*types.WifiScanEvent))
	}
}

func (a *WifiWorld) End() {
	a.sys.Log().Info().Int("scans", a.scanRequests).Int("results", a.resultsSeen).Msg("wifi world stopped")
}

func (a *WifiWorld) requestScan() {
	params := a.ScanParams
	if a.sys.WifiRequestScan(&params, onDemandScanCookie) {
		a.scanRequests++
		return
	}
	a.scanFailures++
	a.sys.Log().Warn().Msg("on-demand scan request rejected")
}

func (a *WifiWorld) handleAsyncResult(res *types.AsyncResult) {
	log := a.sys.Log()
	switch res.RequestType {
	case types.WifiRequestTypeConfigureScanMonitor:
		if res.Success {
			a.monitorEnabled = true
			log.Info().Msg("scan monitor enabled")
		} else {
			log.Error().Stringer("error", res.ErrorCode).Msg("failed to enable the scan monitor")
		}
	case types.WifiRequestTypeRequestScan:
		if res.Success {
			log.Info().Msg("on-demand scan accepted")
		} else {
			a.scanFailures++
			log.Error().Stringer("error", res.ErrorCode).Msg("on-demand scan failed")
		}
	default:
		log.Warn().Uint8("request_type", res.RequestType).Msg("unexpected async result")
	}
}

func (a *WifiWorld) handleScanEvent(ev *types.WifiScanEvent) {
	a.resultsSeen += len(ev.Results)
	log := a.sys.Log()
	log.Info().Uint8("count", ev.ResultCount).Uint8("total", ev.ResultTotal).Uint8("index", ev.EventIndex).Msg("wifi scan event")
	for _, r := range ev.Results {
		log.Debug().Str("ssid", r.SSID).Str("bssid", r.BSSIDString()).Int8("rssi", r.RSSI).Msg("wifi scan result")
	}
}

// MonitorEnabled reports whether the scan monitor request succeeded.
func (a *WifiWorld) MonitorEnabled() bool { return a.monitorEnabled }

// ScanRequests is the number of accepted on-demand scan requests.
func (a *WifiWorld) ScanRequests() int { return a.scanRequests }

// ResultsSeen is the number of scan results received.
func (a *WifiWorld) ResultsSeen() int { return a.resultsSeen }
