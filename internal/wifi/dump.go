package wifi

import (
	"fmt"
	"io"

	"chred/pkg/types"
)

// Status returns a snapshot of the manager state.
func (m *RequestManager) Status() types.WifiStatus {
	st := types.WifiStatus{
		Capabilities:        m.pal.Capabilities(),
		ScanMonitorEnabled:  m.scanMonitorIsEnabled(),
		ScanMonitorNanoapps: append([]uint32{}, m.scanMonitorNanoapps...),
		ScanResultsPending:  m.scanRequestResultsArePending,
		Transitions:         make([]types.ScanMonitorTransition, 0, len(m.transitions)),
	}
	if requester, ok := m.scanRequester.get(); ok {
		st.PendingScanRequester = &requester
	}
	for _, t := range m.transitions {
		st.Transitions = append(st.Transitions, types.ScanMonitorTransition{
			InstanceID: t.nanoappInstanceID,
			Enable:     t.enable,
		})
	}
	return st
}

// WriteDebugDump appends the human readable state dump to w.
func (m *RequestManager) WriteDebugDump(w io.Writer) error {
	state := "disabled"
	if m.scanMonitorIsEnabled() {
		state = "enabled"
	}
	ew := &errWriter{w: w}
	ew.printf("\nWifi: scan monitor %s\n", state)
	ew.printf(" Wifi scan monitor enabled nanoapps:\n")
	for _, id := range m.scanMonitorNanoapps {
		ew.printf("  nanoappId=%d\n", id)
	}
	if m.scanRequester.has() {
		requester, _ := m.scanRequester.get()
		ew.printf(" Wifi request pending nanoappId=%d\n", requester)
	}
	ew.printf(" Wifi transition queue:\n")
	for _, t := range m.transitions {
		ew.printf("  enable=%t nanoappId=%d\n", t.enable, t.nanoappInstanceID)
	}
	return ew.err
}

// errWriter keeps the first write error and skips later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
