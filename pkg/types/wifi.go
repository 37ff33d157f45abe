package types

import (
	"fmt"
	"time"
)

// WifiScanResultTimeout is how long a requested scan may go without a response
// before the request slot is considered stale.
const WifiScanResultTimeout = 30 * time.Second

// Request types reported in AsyncResult.RequestType for WiFi requests.
const (
	WifiRequestTypeConfigureScanMonitor uint8 = 1
	WifiRequestTypeRequestScan          uint8 = 2
)

// WiFi capability bits returned by the platform.
const (
	WifiCapabilitiesNone           uint32 = 0
	WifiCapabilitiesScanMonitoring uint32 = 1 << 0
	WifiCapabilitiesOnDemandScan   uint32 = 1 << 1
)

// WifiScanType selects how the platform performs a scan.
type WifiScanType uint8

const (
	WifiScanTypeActive WifiScanType = iota
	WifiScanTypeActivePlusPassiveDFS
	WifiScanTypePassive
)

// WifiBand is the frequency band a result was observed on.
type WifiBand uint8

const (
	WifiBand2GHz WifiBand = 1 << 0
	WifiBand5GHz WifiBand = 1 << 1
)

// WifiScanParams describes an on-demand scan request.
type WifiScanParams struct {
	ScanType WifiScanType
	// MaxScanAge allows the platform to return cached results no older than this.
	MaxScanAge  time.Duration
	Frequencies []uint32
	SSIDs       []string
}

// WifiScanResult is a single access point observation.
type WifiScanResult struct {
	Age            time.Duration
	SSID           string
	BSSID          [6]byte
	RSSI           int8
	Band           WifiBand
	PrimaryChannel uint32
	Flags          uint8
}

// BSSIDString formats the BSSID as colon separated hex.
func (r WifiScanResult) BSSIDString() string {
	b := r.BSSID
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}

// WifiScanEvent carries a batch of results. A single scan may be split across
// several events; ResultTotal is the number of results across all of them.
type WifiScanEvent struct {
	Version            uint8
	ResultCount        uint8
	ResultTotal        uint8
	EventIndex         uint8
	ScanType           WifiScanType
	ReferenceTime      time.Duration
	ScannedFrequencies []uint32
	Results            []WifiScanResult
}
