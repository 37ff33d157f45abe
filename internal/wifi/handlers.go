package wifi

import (
	"chred/internal/eventloop"
	"chred/pkg/types"
)

// HandleScanMonitorStateChange is called by the platform, on any goroutine,
// when a scan monitor transition completes.
func (m *RequestManager) HandleScanMonitorStateChange(enabled bool, errorCode types.ErrorCode) {
	err := m.loop.DeferCallback(eventloop.CallbackWifiScanMonitorStateChange, func() {
		m.handleScanMonitorStateChangeSync(enabled, errorCode)
	})
	if err != nil {
		m.log.Error().Err(err).Bool("enabled", enabled).Msg("failed to defer scan monitor state change")
	}
}

// HandleScanResponse is called by the platform, on any goroutine, to accept
// or reject the outstanding scan request.
func (m *RequestManager) HandleScanResponse(pending bool, errorCode types.ErrorCode) {
	err := m.loop.DeferCallback(eventloop.CallbackWifiRequestScanResponse, func() {
		m.handleScanResponseSync(pending, errorCode)
	})
	if err != nil {
		m.log.Error().Err(err).Bool("pending", pending).Msg("failed to defer scan response")
	}
}

// HandleScanEvent is called by the platform, on any goroutine, with a batch
// of scan results. Ownership of event passes to the manager until it hands it
// back through ReleaseScanEvent.
func (m *RequestManager) HandleScanEvent(event *types.WifiScanEvent) {
	err := m.loop.DeferCallback(eventloop.CallbackWifiHandleScanEvent, func() {
		m.postScanEventFatal(event)
	})
	if err != nil {
		m.log.Error().Err(err).Msg("failed to defer scan event")
		m.pal.ReleaseScanEvent(event)
	}
}

func (m *RequestManager) handleScanMonitorStateChangeSync(enabled bool, errorCode types.ErrorCode) {
	success := errorCode == types.ErrorNone

	if len(m.transitions) == 0 {
		m.log.Error().Bool("enabled", enabled).Stringer("error", errorCode).
			Msg("platform reported a scan monitor state change with no transition pending")
		return
	}

	// The front entry is the one the platform was working on.
	front := m.transitions[0]
	success = success && front.enable == enabled
	m.postScanMonitorAsyncResultEventFatal(front.nanoappInstanceID, success, front.enable, errorCode, front.cookie)
	m.popTransition()

	for len(m.transitions) > 0 {
		next := m.transitions[0]
		hasRequest := m.nanoappHasScanMonitorRequest(next.nanoappInstanceID)
		if m.scanMonitorIsInRequestedState(next.enable, hasRequest) {
			m.postScanMonitorAsyncResultEventFatal(next.nanoappInstanceID, success, next.enable, errorCode, next.cookie)
		} else if m.scanMonitorStateTransitionIsRequired(next.enable, hasRequest) {
			err := m.pal.ConfigureScanMonitor(next.enable)
			if err == nil {
				// Stays at the front until the platform reports back.
				return
			}
			palErrorsTotal.WithLabelValues("configure_scan_monitor").Inc()
			m.log.Error().Err(err).Uint32("instance", next.nanoappInstanceID).Msg("failed to configure the scan monitor")
			m.postScanMonitorAsyncResultEventFatal(next.nanoappInstanceID, false, next.enable, types.Error, next.cookie)
		} else {
			m.log.Error().Uint32("instance", next.nanoappInstanceID).Bool("enable", next.enable).Msg("invalid scan monitor state")
			return
		}
		m.popTransition()
	}
}

func (m *RequestManager) handleScanResponseSync(pending bool, errorCode types.ErrorCode) {
	requester, ok := m.scanRequester.get()
	if !ok {
		m.log.Error().Bool("pending", pending).Msg("scan response with no outstanding request")
	}

	if !pending && errorCode == types.ErrorNone {
		m.log.Error().Msg("invalid wifi scan response: not pending without an error")
		errorCode = types.Error
	}

	if !ok {
		return
	}

	success := pending && errorCode == types.ErrorNone
	if !success {
		m.log.Warn().Bool("pending", pending).Stringer("error", errorCode).Msg("wifi scan request failed")
	}
	m.postScanRequestAsyncResultEventFatal(requester, success, errorCode, m.scanRequestCookie)

	m.scanRequestResultsArePending = pending
	if !pending {
		m.scanRequester.reset()
		m.scanRequestCookie = nil
		return
	}

	// Results are broadcasts; make sure the requester receives them even if
	// it never enabled the scan monitor.
	nanoapp := m.loop.FindNanoappByInstanceID(requester)
	if nanoapp == nil {
		m.log.Error().Uint32("requester", requester).Msg("scan response for unknown nanoapp")
		return
	}
	nanoapp.RegisterForBroadcastEvent(types.EventWifiScanResult)
}

// handleFreeWifiScanEvent runs once every recipient has seen a scan event.
// When the last result of an on-demand scan has been consumed the requester
// is released, and unsubscribed unless it also uses the scan monitor.
func (m *RequestManager) handleFreeWifiScanEvent(event *types.WifiScanEvent) {
	if m.scanRequestResultsArePending {
		m.scanEventResultCountAccumulator += uint32(event.ResultCount)
		if m.scanEventResultCountAccumulator >= uint32(event.ResultTotal) {
			m.scanEventResultCountAccumulator = 0
			m.scanRequestResultsArePending = false
		}

		if requester, ok := m.scanRequester.get(); !m.scanRequestResultsArePending && ok {
			nanoapp := m.loop.FindNanoappByInstanceID(requester)
			if nanoapp == nil {
				m.log.Error().Uint32("requester", requester).Msg("cannot unsubscribe unknown nanoapp from wifi scan events")
			} else if !m.nanoappHasScanMonitorRequest(requester) {
				nanoapp.UnregisterForBroadcastEvent(types.EventWifiScanResult)
			}
			m.scanRequester.reset()
			m.scanRequestCookie = nil
		}
	}

	m.pal.ReleaseScanEvent(event)
}
