package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chred/internal/eventloop"
	"chred/internal/httpapi"
	"chred/internal/nanoapps"
	"chred/internal/platform/simwifi"
	"chred/internal/runtime"
	"chred/pkg/types"
)

// stack is a running runtime behind a test HTTP server.
type stack struct {
	rt  *runtime.Runtime
	sim *simwifi.PAL
	srv *httptest.Server
}

// newStack starts a runtime on the real clock with a fast simulated radio and
// a WifiWorld that scans every scanInterval.
func newStack(t *testing.T, scanInterval time.Duration) *stack {
	t.Helper()
	sim := simwifi.New(simwifi.Config{
		MonitorLatency:  5 * time.Millisecond,
		ScanLatency:     10 * time.Millisecond,
		ResultsPerEvent: 2,
	})
	rt, err := runtime.New(runtime.Config{Wifi: sim})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	timerApp := nanoapps.NewTimerWorld()
	timerApp.Period = 20 * time.Millisecond
	timerApp.OneShotDelay = 30 * time.Millisecond
	if err := rt.LoadNanoapp(eventloop.NanoappInfo{Name: "timer_world", AppID: nanoapps.TimerWorldAppID, Version: 1}, timerApp); err != nil {
		t.Fatalf("load timer_world: %v", err)
	}
	wifiApp := nanoapps.NewWifiWorld()
	wifiApp.ScanInterval = scanInterval
	if err := rt.LoadNanoapp(eventloop.NanoappInfo{Name: "wifi_world", AppID: nanoapps.WifiWorldAppID, Version: 1}, wifiApp); err != nil {
		t.Fatalf("load wifi_world: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	srv := httptest.NewServer(httpapi.NewMux(rt))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("runtime exited with error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("runtime did not stop")
		}
		sim.Close()
	})

	s := &stack{rt: rt, sim: sim, srv: srv}
	s.waitReady(t)
	return s
}

func (s *stack) waitReady(t *testing.T) {
	t.Helper()
	eventually(t, 2*time.Second, func() bool {
		resp, _ := httpGet(t, s.srv.URL+"/readyz")
		return resp.StatusCode == http.StatusOK
	}, "runtime never became ready")
}

func (s *stack) status(t *testing.T) types.StatusResponse {
	t.Helper()
	resp, body := httpGet(t, s.srv.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/status: %d %s", resp.StatusCode, body)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func (s *stack) dialEvents(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
