// Package simwifi is a simulated WiFi platform. It answers requests after a
// configurable latency on its own goroutines, the way a real radio driver
// reports back, and produces a fixed, deterministic set of access points.
package simwifi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chred/internal/platform"
	"chred/internal/wifi"
	"chred/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultResultsPerEvent = 4
	defaultAccessPoints    = 6
	maxResultsPerScan      = 255
)

var (
	errNotSupported = errors.New("simwifi: capability not supported")
	errBusy         = errors.New("simwifi: request already in flight")
	errClosed       = errors.New("simwifi: closed")
	errNotOpen      = errors.New("simwifi: not initialized")
)

// Config encapsulates the tunables for the simulated platform.
type Config struct {
	// Capabilities advertised to the runtime; zero means scan monitoring and
	// on-demand scans.
	Capabilities uint32
	// MonitorLatency and ScanLatency delay the completion callbacks.
	MonitorLatency time.Duration
	ScanLatency    time.Duration
	// ResultsPerEvent splits a scan into events of at most this many results.
	ResultsPerEvent int
	// PassiveScanInterval is how often unsolicited scan results are produced
	// while the scan monitor is on. Zero disables them.
	PassiveScanInterval time.Duration
	// AccessPoints is the simulated environment; nil generates a default set.
	AccessPoints []types.WifiScanResult
	Clock        platform.Clock
	Logger       zerolog.Logger
}

// PAL implements wifi.PlatformWifi.
type PAL struct {
	cfg Config
	log zerolog.Logger

	mu             sync.Mutex
	cb             wifi.Callbacks
	monitorBusy    bool
	monitorEnabled bool
	scanBusy       bool
	outstanding    int
	stopPassive    chan struct{}
	closed         bool

	wg sync.WaitGroup
}

var _ wifi.PlatformWifi = (*PAL)(nil)

// New constructs a simulated platform, applying defaults for unset fields.
func New(cfg Config) *PAL {
	if cfg.Capabilities == types.WifiCapabilitiesNone {
		cfg.Capabilities = types.WifiCapabilitiesScanMonitoring | types.WifiCapabilitiesOnDemandScan
	}
	if cfg.ResultsPerEvent <= 0 {
		cfg.ResultsPerEvent = defaultResultsPerEvent
	}
	if cfg.AccessPoints == nil {
		cfg.AccessPoints = DefaultAccessPoints(defaultAccessPoints)
	}
	if cfg.Clock == nil {
		cfg.Clock = platform.NewMonotonicClock()
	}
	return &PAL{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "simwifi").Logger(),
	}
}

// DefaultAccessPoints generates n access points with stable names, addresses
// and decreasing signal strength.
func DefaultAccessPoints(n int) []types.WifiScanResult {
	out := make([]types.WifiScanResult, 0, n)
	for i := 0; i < n; i++ {
		ap := types.WifiScanResult{
			SSID:  fmt.Sprintf("chre-ap-%02d", i),
			BSSID: [6]byte{0x02, 0x00, 0x5e, 0x10, 0x00, byte(i)},
			RSSI:  int8(-40 - 4*i),
		}
		if i%2 == 0 {
			ap.Band = types.WifiBand2GHz
			ap.PrimaryChannel = 2412 + uint32(5*(i%11))
		} else {
			ap.Band = types.WifiBand5GHz
			ap.PrimaryChannel = 5180 + uint32(20*(i%8))
		}
		out = append(out, ap)
	}
	return out
}

func (p *PAL) Init(cb wifi.Callbacks) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errClosed
	}
	p.cb = cb
	p.log.Info().Uint32("capabilities", p.cfg.Capabilities).Int("access_points", len(p.cfg.AccessPoints)).Msg("simulated wifi ready")
	return nil
}

func (p *PAL) Capabilities() uint32 { return p.cfg.Capabilities }

func (p *PAL) ConfigureScanMonitor(enable bool) error {
	if p.cfg.Capabilities&types.WifiCapabilitiesScanMonitoring == 0 {
		return errNotSupported
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked(); err != nil {
		return err
	}
	if p.monitorBusy {
		return errBusy
	}
	p.monitorBusy = true
	p.after(p.cfg.MonitorLatency, func() { p.completeScanMonitor(enable) })
	return nil
}

func (p *PAL) RequestScan(params *types.WifiScanParams) error {
	if p.cfg.Capabilities&types.WifiCapabilitiesOnDemandScan == 0 {
		return errNotSupported
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked(); err != nil {
		return err
	}
	if p.scanBusy {
		return errBusy
	}
	p.scanBusy = true
	var req types.WifiScanParams
	if params != nil {
		req = *params
	}
	p.after(p.cfg.ScanLatency, func() { p.completeScan(req) })
	return nil
}

func (p *PAL) ReleaseScanEvent(event *types.WifiScanEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outstanding == 0 {
		p.log.Warn().Uint8("index", event.EventIndex).Msg("release of a scan event that was not outstanding")
		return
	}
	p.outstanding--
}

// Outstanding returns how many delivered scan events have not been released.
func (p *PAL) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// ScanMonitorEnabled reports the simulated radio state.
func (p *PAL) ScanMonitorEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.monitorEnabled
}

// Close stops passive scanning and waits for in-flight completions.
func (p *PAL) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.stopPassiveLocked()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *PAL) checkOpenLocked() error {
	if p.closed {
		return errClosed
	}
	if p.cb == nil {
		return errNotOpen
	}
	return nil
}

// after runs fn on a new goroutine once delay elapses. Called with p.mu held.
func (p *PAL) after(delay time.Duration, fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		fn()
	}()
}

func (p *PAL) completeScanMonitor(enable bool) {
	p.mu.Lock()
	p.monitorBusy = false
	p.monitorEnabled = enable
	if enable && p.stopPassive == nil && p.cfg.PassiveScanInterval > 0 && !p.closed {
		p.stopPassive = make(chan struct{})
		p.startPassiveLocked(p.stopPassive)
	} else if !enable {
		p.stopPassiveLocked()
	}
	cb := p.cb
	p.mu.Unlock()
	p.log.Debug().Bool("enabled", enable).Msg("scan monitor state changed")
	cb.HandleScanMonitorStateChange(enable, types.ErrorNone)
}

func (p *PAL) completeScan(params types.WifiScanParams) {
	p.mu.Lock()
	cb := p.cb
	p.mu.Unlock()

	cb.HandleScanResponse(true, types.ErrorNone)
	p.deliver(params.ScanType, p.filter(params))

	p.mu.Lock()
	p.scanBusy = false
	p.mu.Unlock()
}

func (p *PAL) startPassiveLocked(stop chan struct{}) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.PassiveScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.deliver(types.WifiScanTypePassive, p.cfg.AccessPoints)
			}
		}
	}()
}

func (p *PAL) stopPassiveLocked() {
	if p.stopPassive != nil {
		close(p.stopPassive)
		p.stopPassive = nil
	}
}

func (p *PAL) filter(params types.WifiScanParams) []types.WifiScanResult {
	if len(params.SSIDs) == 0 && len(params.Frequencies) == 0 {
		return p.cfg.AccessPoints
	}
	ssids := make(map[string]struct{}, len(params.SSIDs))
	for _, s := range params.SSIDs {
		ssids[s] = struct{}{}
	}
	freqs := make(map[uint32]struct{}, len(params.Frequencies))
	for _, f := range params.Frequencies {
		freqs[f] = struct{}{}
	}
	var out []types.WifiScanResult
	for _, ap := range p.cfg.AccessPoints {
		if len(ssids) > 0 {
			if _, ok := ssids[ap.SSID]; !ok {
				continue
			}
		}
		if len(freqs) > 0 {
			if _, ok := freqs[ap.PrimaryChannel]; !ok {
				continue
			}
		}
		out = append(out, ap)
	}
	return out
}

// deliver splits results into events of at most ResultsPerEvent entries. An
// empty scan still produces one event so the consumer sees it complete.
func (p *PAL) deliver(scanType types.WifiScanType, results []types.WifiScanResult) {
	if len(results) > maxResultsPerScan {
		results = results[:maxResultsPerScan]
	}
	now := p.cfg.Clock.Now()
	total := len(results)
	index := 0
	for start := 0; start == 0 || start < total; start += p.cfg.ResultsPerEvent {
		end := start + p.cfg.ResultsPerEvent
		if end > total {
			end = total
		}
		batch := append([]types.WifiScanResult(nil), results[start:end]...)
		event := &types.WifiScanEvent{
			Version:       1,
			ResultCount:   uint8(len(batch)),
			ResultTotal:   uint8(total),
			EventIndex:    uint8(index),
			ScanType:      scanType,
			ReferenceTime: now,
			Results:       batch,
		}
		index++

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.outstanding++
		cb := p.cb
		p.mu.Unlock()
		cb.HandleScanEvent(event)
		if total == 0 {
			return
		}
	}
}
