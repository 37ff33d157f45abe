package registry

import (
	"strings"
	"testing"

	"chred/internal/nanoapps"
)

func TestNamesSorted(t *testing.T) {
	names := Names()
	if len(names) != 2 || names[0] != "timer_world" || names[1] != "wifi_world" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	e, ok := Lookup("  Timer_World ")
	if !ok {
		t.Fatalf("expected timer_world to resolve")
	}
	if e.Info.AppID != nanoapps.TimerWorldAppID {
		t.Fatalf("unexpected app id %#x", e.Info.AppID)
	}
	if _, ok := e.New().(*nanoapps.TimerWorld); !ok {
		t.Fatalf("factory returned %T", e.New())
	}
}

func TestResolvePreservesOrder(t *testing.T) {
	entries, err := Resolve([]string{"wifi_world", "timer_world"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(entries) != 2 || entries[0].Info.Name != "wifi_world" || entries[1].Info.Name != "timer_world" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve([]string{"timer_world", "gps_world"})
	if err == nil || !strings.Contains(err.Error(), "gps_world") {
		t.Fatalf("expected unknown nanoapp error, got %v", err)
	}
}

func TestResolveDuplicate(t *testing.T) {
	_, err := Resolve([]string{"timer_world", "TIMER_WORLD"})
	if err == nil || !strings.Contains(err.Error(), "twice") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestResolveEmpty(t *testing.T) {
	entries, err := Resolve(nil)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty result, got %v %v", entries, err)
	}
}
