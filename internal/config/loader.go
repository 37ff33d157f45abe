package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	MaxEvents                 int      `json:"max_events" yaml:"max_events" toml:"max_events"`
	MaxTimerRequests          int      `json:"max_timer_requests" yaml:"max_timer_requests" toml:"max_timer_requests"`
	MaxScanMonitorTransitions int      `json:"max_scan_monitor_transitions" yaml:"max_scan_monitor_transitions" toml:"max_scan_monitor_transitions"`
	ScanResultTimeout         Duration `json:"scan_result_timeout" yaml:"scan_result_timeout" toml:"scan_result_timeout"`
	DumpTimeout               Duration `json:"dump_timeout" yaml:"dump_timeout" toml:"dump_timeout"`

	Nanoapps []string `json:"nanoapps" yaml:"nanoapps" toml:"nanoapps"`
	SimWifi  SimWifi  `json:"sim_wifi" yaml:"sim_wifi" toml:"sim_wifi"`
	CORS     CORS     `json:"cors" yaml:"cors" toml:"cors"`
}

// SimWifi configures the simulated WiFi platform.
type SimWifi struct {
	MonitorLatency  Duration `json:"monitor_latency" yaml:"monitor_latency" toml:"monitor_latency"`
	ScanLatency     Duration `json:"scan_latency" yaml:"scan_latency" toml:"scan_latency"`
	ResultsTotal    int      `json:"results_total" yaml:"results_total" toml:"results_total"`
	ResultsPerEvent int      `json:"results_per_event" yaml:"results_per_event" toml:"results_per_event"`
	PassiveInterval Duration `json:"passive_interval" yaml:"passive_interval" toml:"passive_interval"`
}

// CORS configures cross-origin access to the HTTP API. Disabled by default.
type CORS struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults used by WithDefaults.
const (
	DefaultAddr        = ":8080"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "console"
	DefaultDumpTimeout = 2 * time.Second
)

// DefaultNanoapps is loaded when the configuration names none.
var DefaultNanoapps = []string{"timer_world", "wifi_world"}

// WithDefaults returns a copy with unspecified fields filled in. Limits left
// at zero are resolved by the components themselves.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.DumpTimeout == 0 {
		c.DumpTimeout = Duration(DefaultDumpTimeout)
	}
	if c.Nanoapps == nil {
		c.Nanoapps = append([]string(nil), DefaultNanoapps...)
	}
	if c.CORS.Enabled {
		if len(c.CORS.AllowedMethods) == 0 {
			c.CORS.AllowedMethods = []string{"GET", "OPTIONS"}
		}
		if len(c.CORS.AllowedOrigins) == 0 {
			c.CORS.AllowedOrigins = []string{"*"}
		}
	}
	return c
}

// Validate rejects values no component could use.
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("log_format: unsupported value %q (console|json)", c.LogFormat)
	}
	for name, v := range map[string]int{
		"max_events":                   c.MaxEvents,
		"max_timer_requests":           c.MaxTimerRequests,
		"max_scan_monitor_transitions": c.MaxScanMonitorTransitions,
		"sim_wifi.results_total":       c.SimWifi.ResultsTotal,
		"sim_wifi.results_per_event":   c.SimWifi.ResultsPerEvent,
	} {
		if v < 0 {
			return fmt.Errorf("%s: must not be negative", name)
		}
	}
	if c.SimWifi.ResultsTotal > 255 {
		return fmt.Errorf("sim_wifi.results_total: at most 255 results fit in one scan")
	}
	for name, d := range map[string]Duration{
		"scan_result_timeout":       c.ScanResultTimeout,
		"dump_timeout":              c.DumpTimeout,
		"sim_wifi.monitor_latency":  c.SimWifi.MonitorLatency,
		"sim_wifi.scan_latency":     c.SimWifi.ScanLatency,
		"sim_wifi.passive_interval": c.SimWifi.PassiveInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s: must not be negative", name)
		}
	}
	return nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml. A leading '~' is expanded.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	path, err := ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

