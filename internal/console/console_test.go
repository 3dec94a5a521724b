package console

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"furitingoasis/soilstation/internal/command"
	"furitingoasis/soilstation/internal/connectivity"
	"furitingoasis/soilstation/internal/eventbus"
	"furitingoasis/soilstation/internal/logger"
	"furitingoasis/soilstation/internal/metrics"
	"furitingoasis/soilstation/internal/sensor"
)

type staticLink struct{ state connectivity.State }

func (l staticLink) State() connectivity.State { return l.state }

type staticActuators struct {
	running bool
	level   uint8
}

func (a staticActuators) Running() bool { return a.running }
func (a staticActuators) Level() uint8  { return a.level }

type staticClock struct{ now time.Time }

func (c staticClock) Now() time.Time { return c.now }
func (c staticClock) IsSynced() bool { return true }

type staticBroker struct{}

func (staticBroker) IsConnected() bool { return true }
func (staticBroker) ClientID() string  { return "soil-station-test" }

func newTestServer(t *testing.T, auth Auth) (*httptest.Server, *[]command.Command) {
	t.Helper()
	router := eventbus.NewRouter(logger.Nop())
	var got []command.Command
	router.Commands.Subscribe(func(c command.Command) { got = append(got, c) })

	act := staticActuators{running: true, level: 42}
	deps := Deps{
		Station:  "bed-1",
		Readings: sensor.NewSet(logger.Nop(), sensor.DisabledSoil(nil)),
		Link:     staticLink{state: connectivity.Connected},
		Pump:     act,
		Lamp:     act,
		Clock:    staticClock{now: time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)},
		Broker:   staticBroker{},
		Ingest:   router.Ingest,
		Metrics:  metrics.New(),
	}
	ts := httptest.NewServer(New(":0", deps, auth, logger.Nop()).Handler())
	t.Cleanup(ts.Close)
	return ts, &got
}

func get(t *testing.T, ts *httptest.Server, path string) (int, http.Header, string) {
	t.Helper()
	rs, err := ts.Client().Get(ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Body.Close()
	body, _ := io.ReadAll(rs.Body)
	return rs.StatusCode, rs.Header, string(body)
}

func TestPing(t *testing.T) {
	ts, _ := newTestServer(t, Auth{})
	code, header, body := get(t, ts, "/ping")
	if code != http.StatusOK || body != "OK" {
		t.Errorf("got %d %q", code, body)
	}
	if header.Get("X-Frame-Options") != "deny" {
		t.Error("security headers missing")
	}
}

func TestReadings(t *testing.T) {
	ts, _ := newTestServer(t, Auth{})
	code, _, body := get(t, ts, "/api/readings")
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	var report sensor.Report
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		t.Fatal(err)
	}
	if len(report.Measurements) != 1 || report.Measurements[0].Status != sensor.StatusDisabled {
		t.Errorf("report %s", body)
	}
}

func TestStatus(t *testing.T) {
	ts, _ := newTestServer(t, Auth{})
	code, _, body := get(t, ts, "/api/status")
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	var st statusResponse
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatal(err)
	}
	if st.Station != "bed-1" || st.Link != "connected" || !st.PumpRunning || st.LampLevel != 42 || !st.ClockSynced || st.ClientID != "soil-station-test" {
		t.Errorf("status %+v", st)
	}
}

func TestCommandJSON(t *testing.T) {
	ts, got := newTestServer(t, Auth{})
	rs, err := ts.Client().Post(ts.URL+"/api/command", "application/json", strings.NewReader(`{"name":"water","value":true}`))
	if err != nil {
		t.Fatal(err)
	}
	rs.Body.Close()
	if rs.StatusCode != http.StatusAccepted {
		t.Errorf("status %d", rs.StatusCode)
	}
	if len(*got) != 1 || (*got)[0] != command.NewWater(true) {
		t.Errorf("routed %v", *got)
	}
}

func TestCommandForm(t *testing.T) {
	ts, got := newTestServer(t, Auth{})
	rs, err := ts.Client().PostForm(ts.URL+"/api/command", url.Values{"name": {"lamp"}, "value": {"128"}})
	if err != nil {
		t.Fatal(err)
	}
	rs.Body.Close()
	if rs.StatusCode != http.StatusAccepted {
		t.Errorf("status %d", rs.StatusCode)
	}
	if len(*got) != 1 || (*got)[0] != command.NewLamp(128) {
		t.Errorf("routed %v", *got)
	}
}

func TestCommandRejected(t *testing.T) {
	ts, got := newTestServer(t, Auth{})
	rs, err := ts.Client().PostForm(ts.URL+"/api/command", url.Values{"name": {"lamp"}, "value": {"300"}})
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Body.Close()
	if rs.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status %d", rs.StatusCode)
	}
	var resp commandResponse
	if err := json.NewDecoder(rs.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "invalid_value" || resp.Message != "missing or wrong value" {
		t.Errorf("resp %+v", resp)
	}
	if len(*got) != 0 {
		t.Errorf("routed %v", *got)
	}
}

func TestFormPayload(t *testing.T) {
	cases := []struct {
		form commandForm
		want string
	}{
		{commandForm{Name: "all"}, `{"name":"all"}`},
		{commandForm{Name: "water", Value: "false"}, `{"name":"water","value":false}`},
		{commandForm{Name: "lamp", Value: "bright"}, `{"name":"lamp","value":"bright"}`},
	}
	for _, tc := range cases {
		b, err := tc.form.payload()
		if err != nil || string(b) != tc.want {
			t.Errorf("payload(%+v) = %s, %v", tc.form, b, err)
		}
	}
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	ts, _ := newTestServer(t, Auth{Username: "admin", PasswordHash: string(hash)})

	if code, _, _ := get(t, ts, "/ping"); code != http.StatusOK {
		t.Errorf("ping behind auth: %d", code)
	}
	if code, header, _ := get(t, ts, "/api/status"); code != http.StatusUnauthorized || header.Get("WWW-Authenticate") == "" {
		t.Errorf("unauthenticated status: %d", code)
	}

	for _, tc := range []struct {
		user, pass string
		want       int
	}{
		{"admin", "hunter2", http.StatusOK},
		{"admin", "wrong", http.StatusUnauthorized},
		{"root", "hunter2", http.StatusUnauthorized},
	} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
		req.SetBasicAuth(tc.user, tc.pass)
		rs, err := ts.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		rs.Body.Close()
		if rs.StatusCode != tc.want {
			t.Errorf("%s/%s: status %d, want %d", tc.user, tc.pass, rs.StatusCode, tc.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, Auth{})
	code, _, body := get(t, ts, "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "go_goroutines") {
		t.Errorf("metrics %d", code)
	}
}

func TestRecoverPanic(t *testing.T) {
	s := New(":0", Deps{}, Auth{}, logger.Nop())
	h := s.recoverPanic(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError || rr.Header().Get("Connection") != "close" {
		t.Errorf("got %d", rr.Code)
	}
}
