// Package wifi serializes nanoapp WiFi requests onto a platform that supports
// one operation of each kind in flight.
//
// Scan monitor configuration is level triggered and shared: the platform is
// only asked to change state when the set of subscribed nanoapps goes from
// empty to non-empty or back. Requests that arrive while a transition is in
// flight are queued and replayed in order when the platform completes.
//
// On-demand scans are edge triggered: at most one nanoapp may have a scan
// outstanding. Its results are delivered as broadcasts, so the requester is
// temporarily registered for scan result broadcasts until every result of its
// scan has been consumed.
//
// Platform completions arrive on arbitrary goroutines; they are copied and
// deferred onto the event loop, where all state in this package lives.
package wifi

import (
	"time"

	"github.com/rs/zerolog"

	"chred/internal/eventloop"
	"chred/internal/platform"
	"chred/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxScanMonitorTransitions = 8
)

// EventLoop is the part of the event loop the request manager depends on.
type EventLoop interface {
	PostEvent(eventType types.EventType, data any, free eventloop.FreeFunc, sender, target uint32) error
	DeferCallback(cbType eventloop.CallbackType, fn func()) error
	FindNanoappByInstanceID(instanceID uint32) *eventloop.Nanoapp
	Fatal(format string, args ...any)
}

// Config encapsulates the tunables for RequestManager construction.
type Config struct {
	Platform PlatformWifi
	Clock    platform.Clock
	Logger   zerolog.Logger
	// ScanResultTimeout is how long an outstanding scan request blocks new
	// ones before it is considered stale.
	ScanResultTimeout time.Duration
	// MaxScanMonitorTransitions bounds the queue of pending scan monitor
	// requests.
	MaxScanMonitorTransitions int
}

// scanMonitorStateTransition is one queued scan monitor request.
type scanMonitorStateTransition struct {
	nanoappInstanceID uint32
	enable            bool
	cookie            any
}

// RequestManager owns WiFi request state. Apart from the Handle* platform
// callbacks, every method must be called on the loop goroutine.
type RequestManager struct {
	loop           EventLoop
	pal            PlatformWifi
	clock          platform.Clock
	log            zerolog.Logger
	timeout        time.Duration
	maxTransitions int

	// FIFO; the front is the transition the platform is working on.
	transitions []scanMonitorStateTransition
	// Instance IDs subscribed to the scan monitor, in subscription order.
	scanMonitorNanoapps []uint32

	scanRequester                   optional[uint32]
	scanRequestCookie               any
	lastScanRequestTime             time.Duration
	scanRequestResultsArePending    bool
	scanEventResultCountAccumulator uint32
}

// New constructs a RequestManager, applying defaults for unset Config fields.
func New(loop EventLoop, cfg Config) *RequestManager {
	if cfg.Clock == nil {
		cfg.Clock = platform.NewMonotonicClock()
	}
	if cfg.ScanResultTimeout <= 0 {
		cfg.ScanResultTimeout = types.WifiScanResultTimeout
	}
	if cfg.MaxScanMonitorTransitions <= 0 {
		cfg.MaxScanMonitorTransitions = defaultMaxScanMonitorTransitions
	}
	return &RequestManager{
		loop:           loop,
		pal:            cfg.Platform,
		clock:          cfg.Clock,
		log:            cfg.Logger.With().Str("component", "wifi").Logger(),
		timeout:        cfg.ScanResultTimeout,
		maxTransitions: cfg.MaxScanMonitorTransitions,
		transitions:    make([]scanMonitorStateTransition, 0, cfg.MaxScanMonitorTransitions),
		// Room for the first subscriber up front.
		scanMonitorNanoapps: make([]uint32, 0, 1),
	}
}

// Init opens the platform with this manager as its callback sink.
func (m *RequestManager) Init() error {
	return m.pal.Init(m)
}

// Capabilities returns the platform capability bitmask.
func (m *RequestManager) Capabilities() uint32 {
	return m.pal.Capabilities()
}

// ConfigureScanMonitor subscribes or unsubscribes a nanoapp from the scan
// monitor. The outcome is delivered later as an EventWifiAsyncResult; the
// return value only says whether that result will come.
func (m *RequestManager) ConfigureScanMonitor(instanceID uint32, enable bool, cookie any) bool {
	success := false
	hasRequest := m.nanoappHasScanMonitorRequest(instanceID)
	switch {
	case len(m.transitions) > 0:
		success = m.addScanMonitorRequestToQueue(instanceID, enable, cookie)
	case m.scanMonitorIsInRequestedState(enable, hasRequest):
		// Nothing to ask the platform; report success right away.
		success = m.postScanMonitorAsyncResultEvent(instanceID, true, enable, types.ErrorNone, cookie)
	case m.scanMonitorStateTransitionIsRequired(enable, hasRequest):
		success = m.addScanMonitorRequestToQueue(instanceID, enable, cookie)
		if success {
			if err := m.pal.ConfigureScanMonitor(enable); err != nil {
				m.transitions = m.transitions[:len(m.transitions)-1]
				success = false
				palErrorsTotal.WithLabelValues("configure_scan_monitor").Inc()
				m.log.Error().Err(err).Uint32("instance", instanceID).Bool("enable", enable).Msg("failed to configure the scan monitor")
			}
		}
	default:
		m.log.Error().Uint32("instance", instanceID).Bool("enable", enable).Msg("invalid scan monitor configuration")
	}
	scanMonitorRequestsTotal.WithLabelValues(enableLabel(enable), outcomeLabel(success)).Inc()
	return success
}

// RequestScan starts an on-demand scan for a nanoapp. It is rejected while
// another scan is outstanding, unless that request has gone without a
// response for longer than the scan result timeout. The timeout is checked
// only here, when a new request arrives; a wedged platform keeps blocking
// scans until someone asks again.
func (m *RequestManager) RequestScan(instanceID uint32, params *types.WifiScanParams, cookie any) bool {
	if requester, ok := m.scanRequester.get(); ok && m.lastScanRequestTime+m.timeout < m.clock.Now() {
		m.log.Error().Uint32("requester", requester).Msg("scan request async response timed out")
		staleScanRequestsTotal.Inc()
		m.clearScanRequest(requester)
	}

	success := false
	if requester, ok := m.scanRequester.get(); ok {
		m.log.Error().Uint32("instance", instanceID).Uint32("requester", requester).
			Msg("active wifi scan request made while a request is in flight")
		scanRequestsTotal.WithLabelValues("busy").Inc()
		return false
	}
	if err := m.pal.RequestScan(params); err != nil {
		palErrorsTotal.WithLabelValues("request_scan").Inc()
		m.log.Error().Err(err).Uint32("instance", instanceID).Msg("wifi scan request failed")
	} else {
		m.scanRequester.set(instanceID)
		m.scanRequestCookie = cookie
		m.lastScanRequestTime = m.clock.Now()
		success = true
	}
	scanRequestsTotal.WithLabelValues(outcomeLabel(success)).Inc()
	return success
}

// clearScanRequest empties the on-demand scan slot held by requester,
// dropping its result accounting and its scan result subscription unless the
// scan monitor still needs it.
func (m *RequestManager) clearScanRequest(requester uint32) {
	m.scanRequester.reset()
	m.scanRequestCookie = nil
	m.scanRequestResultsArePending = false
	m.scanEventResultCountAccumulator = 0
	if m.nanoappHasScanMonitorRequest(requester) {
		return
	}
	if nanoapp := m.loop.FindNanoappByInstanceID(requester); nanoapp != nil {
		nanoapp.UnregisterForBroadcastEvent(types.EventWifiScanResult)
	}
}

func (m *RequestManager) scanMonitorIsEnabled() bool {
	return len(m.scanMonitorNanoapps) > 0
}

func (m *RequestManager) scanMonitorIndex(instanceID uint32) int {
	for i, id := range m.scanMonitorNanoapps {
		if id == instanceID {
			return i
		}
	}
	return -1
}

func (m *RequestManager) nanoappHasScanMonitorRequest(instanceID uint32) bool {
	return m.scanMonitorIndex(instanceID) >= 0
}

// scanMonitorIsInRequestedState reports whether a request needs no platform
// call: the platform already matches, or the nanoapp is disabling while it
// either never subscribed or others still keep the monitor on.
func (m *RequestManager) scanMonitorIsInRequestedState(requestedState, nanoappHasRequest bool) bool {
	return requestedState == m.scanMonitorIsEnabled() ||
		(!requestedState && (!nanoappHasRequest || len(m.scanMonitorNanoapps) > 1))
}

// scanMonitorStateTransitionIsRequired reports whether a request flips the
// platform state: the first subscriber enabling or the last one disabling.
func (m *RequestManager) scanMonitorStateTransitionIsRequired(requestedState, nanoappHasRequest bool) bool {
	return (requestedState && len(m.scanMonitorNanoapps) == 0) ||
		(!requestedState && nanoappHasRequest && len(m.scanMonitorNanoapps) == 1)
}

func (m *RequestManager) addScanMonitorRequestToQueue(instanceID uint32, enable bool, cookie any) bool {
	if len(m.transitions) >= m.maxTransitions {
		m.log.Warn().Uint32("instance", instanceID).Int("queued", len(m.transitions)).Msg("too many scan monitor state transitions")
		return false
	}
	m.transitions = append(m.transitions, scanMonitorStateTransition{
		nanoappInstanceID: instanceID,
		enable:            enable,
		cookie:            cookie,
	})
	return true
}

func (m *RequestManager) popTransition() {
	n := copy(m.transitions, m.transitions[1:])
	m.transitions[n] = scanMonitorStateTransition{}
	m.transitions = m.transitions[:n]
}

// updateNanoappScanMonitoringList applies a completed subscription change and
// the matching broadcast registration.
func (m *RequestManager) updateNanoappScanMonitoringList(enable bool, instanceID uint32) bool {
	nanoapp := m.loop.FindNanoappByInstanceID(instanceID)
	if nanoapp == nil {
		m.log.Error().Uint32("instance", instanceID).Msg("failed to update scan monitoring list for non-existent nanoapp")
		return true
	}

	index := m.scanMonitorIndex(instanceID)
	if enable {
		if index >= 0 {
			return true
		}
		if !nanoapp.RegisterForBroadcastEvent(types.EventWifiScanResult) {
			m.log.Error().Uint32("instance", instanceID).Msg("failed to register nanoapp for wifi scan events")
			return false
		}
		m.scanMonitorNanoapps = append(m.scanMonitorNanoapps, instanceID)
		return true
	}

	if index < 0 {
		m.log.Error().Uint32("instance", instanceID).Msg("received a scan monitor state change for a non-existent nanoapp")
		return false
	}
	m.scanMonitorNanoapps = append(m.scanMonitorNanoapps[:index], m.scanMonitorNanoapps[index+1:]...)
	nanoapp.UnregisterForBroadcastEvent(types.EventWifiScanResult)
	return true
}

func (m *RequestManager) postScanMonitorAsyncResultEvent(instanceID uint32, success, enable bool, errorCode types.ErrorCode, cookie any) bool {
	if success && !m.updateNanoappScanMonitoringList(enable, instanceID) {
		return false
	}
	return m.postAsyncResult(instanceID, types.WifiRequestTypeConfigureScanMonitor, success, errorCode, cookie)
}

func (m *RequestManager) postScanMonitorAsyncResultEventFatal(instanceID uint32, success, enable bool, errorCode types.ErrorCode, cookie any) {
	if !m.postScanMonitorAsyncResultEvent(instanceID, success, enable, errorCode, cookie) {
		m.loop.Fatal("failed to send wifi scan monitor async result event")
	}
}

func (m *RequestManager) postScanRequestAsyncResultEventFatal(instanceID uint32, success bool, errorCode types.ErrorCode, cookie any) {
	if !m.postAsyncResult(instanceID, types.WifiRequestTypeRequestScan, success, errorCode, cookie) {
		m.loop.Fatal("failed to send wifi scan request async result event")
	}
}

func (m *RequestManager) postAsyncResult(instanceID uint32, requestType uint8, success bool, errorCode types.ErrorCode, cookie any) bool {
	event := &types.AsyncResult{
		RequestType: requestType,
		Success:     success,
		ErrorCode:   errorCode,
		Cookie:      cookie,
	}
	if err := m.loop.PostEvent(types.EventWifiAsyncResult, event, nil, types.SystemInstanceID, instanceID); err != nil {
		return false
	}
	asyncResultsTotal.WithLabelValues(requestLabel(requestType), outcomeLabel(success)).Inc()
	return true
}

func (m *RequestManager) postScanEventFatal(event *types.WifiScanEvent) {
	err := m.loop.PostEvent(types.EventWifiScanResult, event, m.freeWifiScanEvent,
		types.SystemInstanceID, types.BroadcastInstanceID)
	if err != nil {
		m.loop.Fatal("failed to send wifi scan event: %v", err)
		return
	}
	scanEventsTotal.Inc()
}

func (m *RequestManager) freeWifiScanEvent(_ types.EventType, data any) {
	m.handleFreeWifiScanEvent(data.(*types.WifiScanEvent))
}
