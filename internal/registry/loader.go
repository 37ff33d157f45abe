// Package registry maps nanoapp names from configuration to the applications
// compiled into the daemon.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"chred/internal/eventloop"
	"chred/internal/nanoapps"
	"chred/internal/runtime"
)

// Entry describes one loadable nanoapp.
type Entry struct {
	Info eventloop.NanoappInfo
	New  func() runtime.Nanoapp
}

var builtin = map[string]Entry{
	"timer_world": {
		Info: eventloop.NanoappInfo{AppID: nanoapps.TimerWorldAppID, Name: "timer_world", Version: 1},
		New:  func() runtime.Nanoapp { return nanoapps.NewTimerWorld() },
	},
	"wifi_world": {
		Info: eventloop.NanoappInfo{AppID: nanoapps.WifiWorldAppID, Name: "wifi_world", Version: 1},
		New:  func() runtime.Nanoapp { return nanoapps.NewWifiWorld() },
	},
}

// Names lists the built-in nanoapps in sorted order.
func Names() []string {
	out := make([]string, 0, len(builtin))
	for name := range builtin {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup finds a nanoapp by name. Names are case-insensitive.
func Lookup(name string) (Entry, bool) {
	e, ok := builtin[strings.ToLower(strings.TrimSpace(name))]
	return e, ok
}

// Resolve maps configured names to entries, preserving order. Duplicates and
// unknown names are errors.
func Resolve(names []string) ([]Entry, error) {
	seen := make(map[string]bool, len(names))
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		e, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown nanoapp %q (available: %s)", name, strings.Join(Names(), ", "))
		}
		if seen[e.Info.Name] {
			return nil, fmt.Errorf("nanoapp %q listed twice", e.Info.Name)
		}
		seen[e.Info.Name] = true
		out = append(out, e)
	}
	return out, nil
}

// LoadAll queues every entry on the runtime.
func LoadAll(rt *runtime.Runtime, entries []Entry) error {
	for _, e := range entries {
		if err := rt.LoadNanoapp(e.Info, e.New()); err != nil {
			return fmt.Errorf("load %s: %w", e.Info.Name, err)
		}
	}
	return nil
}
