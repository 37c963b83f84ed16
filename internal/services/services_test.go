package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	goahttp "goa.design/goa/v3/http"

	"aranyani/internal/auth"
	"aranyani/internal/config"
	"aranyani/internal/database"
	"aranyani/internal/device"
	"aranyani/internal/dispatch"
	"aranyani/internal/middleware"
	"aranyani/internal/pipeline"
)

type fakeScheduler struct {
	mu    sync.Mutex
	state pipeline.SchedulerState
}

func (f *fakeScheduler) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == pipeline.StateRunning {
		return pipeline.ErrAlreadyRunning
	}
	f.state = pipeline.StateRunning
	return nil
}

func (f *fakeScheduler) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = pipeline.StateIdle
}

func (f *fakeScheduler) State() pipeline.SchedulerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeScheduler) Stats() pipeline.SchedulerStats {
	return pipeline.SchedulerStats{State: f.State(), Ticks: 12, Skipped: 2}
}

type fakeStatus struct{}

func (fakeStatus) Stats() pipeline.SentinelStats {
	return pipeline.SentinelStats{Frames: 10, Candidates: 3, Accepted: 1, ModelReady: true}
}

type fakeDispatch struct{}

func (fakeDispatch) Stats() dispatch.Stats {
	return dispatch.Stats{Gateway: "http", Submitted: 1, Succeeded: 1}
}

type fakeDevice struct {
	level int
	low   bool
}

func (f fakeDevice) Status() (device.Status, bool) {
	return device.Status{HasBattery: true, BatteryLevel: f.level, LowBattery: f.low, Connected: true, ConnectionType: device.ConnectionCellular}, true
}

type fakeModel bool

func (f fakeModel) Ready() bool { return bool(f) }

type fakeStore struct {
	mu     sync.Mutex
	values map[string]string
	fail   bool
}

func (f *fakeStore) GetConfig(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key], nil
}

func (f *fakeStore) SaveConfig(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("disk full")
	}
	f.values[key] = value
	return nil
}

type fakeTunables struct {
	threshold  float64
	confidence float64
	cooldown   time.Duration
	excluded   []string
}

func (f *fakeTunables) SetThreshold(p float64)      { f.threshold = p }
func (f *fakeTunables) SetMinConfidence(p float64)  { f.confidence = p }
func (f *fakeTunables) SetCooldown(d time.Duration) { f.cooldown = d }
func (f *fakeTunables) SetExcluded(labels []string) { f.excluded = labels }

type fakeLog struct {
	gotLimit int
	gotSince *time.Time
}

func (f *fakeLog) ListDispatches(nodeID string, since *time.Time, limit int) ([]*database.DispatchRecord, error) {
	f.gotLimit = limit
	f.gotSince = since
	return []*database.DispatchRecord{
		{EventID: "e-1", NodeID: nodeID, Label: "Leopard", Confidence: 91, Gateway: "http", Success: true, DurationMs: 120},
	}, nil
}

type fakeSource struct {
	err error
}

func (fakeSource) Name() string { return "fake" }

func (f fakeSource) Capture(ctx context.Context) (pipeline.FrameSample, error) {
	if f.err != nil {
		return pipeline.FrameSample{}, f.err
	}
	return pipeline.FrameSample{Data: []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2}, CapturedAt: time.Now()}, nil
}

func (fakeSource) Close() error { return nil }

type fixture struct {
	srv       *httptest.Server
	scheduler *fakeScheduler
	store     *fakeStore
	tunables  *fakeTunables
	log       *fakeLog
}

func newFixture(t *testing.T, authenticator *auth.Authenticator, source pipeline.FrameSource) *fixture {
	t.Helper()
	f := &fixture{
		scheduler: &fakeScheduler{state: pipeline.StateIdle},
		store:     &fakeStore{values: map[string]string{}},
		tunables:  &fakeTunables{},
		log:       &fakeLog{},
	}

	initial := config.Runtime{ChangeSensitivity: 5, MinConfidence: 25, CooldownMs: 300000, ExcludedLabels: []string{"Human", "Elephant"}}
	e := &Endpoints{
		Health: NewHealthService(fakeModel(true), f.scheduler, fakeDevice{level: 64}),
		Auth:   NewAuthService(authenticator),
		System: NewSystemService("node-1", f.scheduler, fakeStatus{}, fakeDispatch{}, fakeDevice{level: 64}),
		Config: NewConfigService(initial, f.store, Tunables{Detector: f.tunables, Classifier: f.tunables, Policy: f.tunables}),
		Alerts: NewAlertsService("node-1", f.log),
		Camera: NewCameraService(source),
	}

	eh := func(ctx context.Context, w http.ResponseWriter, err error) {
		t.Errorf("encoding error: %v", err)
	}
	mux := goahttp.NewMuxer()
	Mount(mux, New(e, goahttp.RequestDecoder, goahttp.ResponseEncoder, eh, middleware.AuthMiddleware(authenticator)))

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func openAuth() *auth.Authenticator {
	return auth.NewAuthenticator(auth.Config{Enabled: false})
}

func TestHealth(t *testing.T) {
	f := newFixture(t, openAuth(), fakeSource{})

	resp, body := f.do(t, "GET", "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res HealthResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("Unmarshal: %v (%s)", err, body)
	}
	if res.Status != "ok" || !res.ModelReady || res.Scheduler != pipeline.StateIdle {
		t.Errorf("health = %+v", res)
	}
	if res.Device == nil || res.Device.BatteryLevel != 64 {
		t.Errorf("device = %+v", res.Device)
	}
}

func TestHealthDegradedOnLowBattery(t *testing.T) {
	svc := NewHealthService(fakeModel(true), &fakeScheduler{state: pipeline.StateRunning}, fakeDevice{level: 12, low: true})
	res, err := svc.Healthz(context.Background())
	if err != nil {
		t.Fatalf("Healthz: %v", err)
	}
	if res.Status != "degraded" || res.Device == nil || !res.Device.LowBattery {
		t.Errorf("health = %+v", res)
	}
}

func TestHealthDegradedWithoutModel(t *testing.T) {
	svc := NewHealthService(nil, &fakeScheduler{state: pipeline.StateRunning}, nil)
	res, err := svc.Healthz(context.Background())
	if err != nil {
		t.Fatalf("Healthz: %v", err)
	}
	if res.Status != "degraded" || res.ModelReady || res.Scheduler != pipeline.StateRunning {
		t.Errorf("health = %+v", res)
	}
}

func TestLoginAndProtectedRoutes(t *testing.T) {
	authenticator := auth.NewAuthenticator(auth.Config{
		Enabled:  true,
		Username: "ranger",
		Password: "secret",
		JWT:      auth.JWTConfig{Secret: "test-secret"},
	})
	f := newFixture(t, authenticator, fakeSource{})

	if resp, _ := f.do(t, "GET", "/status", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	resp, body := f.do(t, "POST", "/auth/login", "", LoginPayload{Username: "ranger", Password: "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login = %d, want 401", resp.StatusCode)
	}
	var errRes ErrorResult
	json.Unmarshal(body, &errRes)
	if errRes.Name != "unauthorized" {
		t.Errorf("error name = %q", errRes.Name)
	}

	resp, body = f.do(t, "POST", "/auth/login", "", LoginPayload{Username: "ranger", Password: "secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login = %d: %s", resp.StatusCode, body)
	}
	var login LoginResult
	if err := json.Unmarshal(body, &login); err != nil || login.Token == "" {
		t.Fatalf("login result = %s (%v)", body, err)
	}
	if login.ExpiresAt <= time.Now().Unix() {
		t.Errorf("expires_at %d is not in the future", login.ExpiresAt)
	}

	resp, body = f.do(t, "GET", "/status", login.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d: %s", resp.StatusCode, body)
	}
	var status StatusResult
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if status.NodeID != "node-1" || status.Pipeline.Frames != 10 || status.Scheduler.Ticks != 12 {
		t.Errorf("status = %+v", status)
	}
	if status.Dispatch == nil || status.Dispatch.Gateway != "http" {
		t.Errorf("dispatch stats = %+v", status.Dispatch)
	}
	if status.Device == nil || status.Device.ConnectionType != device.ConnectionCellular {
		t.Errorf("device = %+v", status.Device)
	}

	resp, body = f.do(t, "GET", "/auth/status", login.Token, nil)
	var authStatus AuthStatusResult
	json.Unmarshal(body, &authStatus)
	if resp.StatusCode != http.StatusOK || !authStatus.Authenticated || authStatus.Username == nil || *authStatus.Username != "ranger" {
		t.Errorf("auth status = %d %s", resp.StatusCode, body)
	}

	// Health stays public
	if resp, _ := f.do(t, "GET", "/health", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("health = %d", resp.StatusCode)
	}
}

func TestLoginMissingBody(t *testing.T) {
	f := newFixture(t, openAuth(), fakeSource{})

	resp, _ := f.do(t, "POST", "/auth/login", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty login body = %d, want 400", resp.StatusCode)
	}

	resp, _ = f.do(t, "POST", "/auth/login", "", LoginPayload{Username: "x", Password: "y"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("login with auth disabled = %d, want 401", resp.StatusCode)
	}
}

func TestSchedulerControl(t *testing.T) {
	f := newFixture(t, openAuth(), fakeSource{})

	tests := []struct {
		path       string
		wantStatus int
		wantState  pipeline.SchedulerState
	}{
		{"/scheduler/stop", http.StatusOK, pipeline.StateIdle},
		{"/scheduler/start", http.StatusOK, pipeline.StateRunning},
		{"/scheduler/start", http.StatusConflict, pipeline.StateRunning},
		{"/scheduler/stop", http.StatusOK, pipeline.StateIdle},
	}

	for _, tt := range tests {
		resp, body := f.do(t, "POST", tt.path, "", nil)
		if resp.StatusCode != tt.wantStatus {
			t.Errorf("POST %s = %d, want %d (%s)", tt.path, resp.StatusCode, tt.wantStatus, body)
		}
		if got := f.scheduler.State(); got != tt.wantState {
			t.Errorf("after POST %s state = %s, want %s", tt.path, got, tt.wantState)
		}
	}
}

func TestConfigUpdate(t *testing.T) {
	f := newFixture(t, openAuth(), fakeSource{})

	resp, body := f.do(t, "PUT", "/config", "", map[string]any{
		"min_confidence_percent": 40,
		"cooldown_ms":            60000,
		"excluded_labels":        []string{" Human "},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /config = %d: %s", resp.StatusCode, body)
	}

	var rt config.Runtime
	if err := json.Unmarshal(body, &rt); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if rt.MinConfidence != 40 || rt.CooldownMs != 60000 || rt.ChangeSensitivity != 5 {
		t.Errorf("runtime = %+v", rt)
	}
	if len(rt.ExcludedLabels) != 1 || rt.ExcludedLabels[0] != "Human" {
		t.Errorf("excluded = %q", rt.ExcludedLabels)
	}

	// Applied live
	if f.tunables.confidence != 40 || f.tunables.cooldown != time.Minute || f.tunables.threshold != 5 {
		t.Errorf("tunables = %+v", f.tunables)
	}

	// Persisted
	var saved config.Runtime
	if err := json.Unmarshal([]byte(f.store.values[config.RuntimeKey]), &saved); err != nil {
		t.Fatalf("persisted config: %v", err)
	}
	if saved.MinConfidence != 40 {
		t.Errorf("saved = %+v", saved)
	}

	resp, body = f.do(t, "GET", "/config", "", nil)
	json.Unmarshal(body, &rt)
	if resp.StatusCode != http.StatusOK || rt.MinConfidence != 40 {
		t.Errorf("GET /config = %d %s", resp.StatusCode, body)
	}
}

func TestConfigUpdateRejected(t *testing.T) {
	f := newFixture(t, openAuth(), fakeSource{})

	tests := []struct {
		name string
		body any
		want string
	}{
		{"confidence above range", map[string]any{"min_confidence_percent": 150}, "min_confidence_percent"},
		{"negative cooldown", map[string]any{"cooldown_ms": -1}, "cooldown_ms"},
		{"blank label", map[string]any{"excluded_labels": []string{"  "}}, "excluded_labels"},
		{"missing body", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, "PUT", "/config", "", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (%s)", resp.StatusCode, body)
			}
			if tt.want != "" && !strings.Contains(string(body), tt.want) {
				t.Errorf("body %s does not mention %q", body, tt.want)
			}
		})
	}

	if f.tunables.confidence != 0 || len(f.store.values) != 0 {
		t.Errorf("rejected update leaked: tunables=%+v store=%v", f.tunables, f.store.values)
	}
}

func TestConfigUpdatePersistFailure(t *testing.T) {
	f := newFixture(t, openAuth(), fakeSource{})
	f.store.fail = true

	resp, _ := f.do(t, "PUT", "/config", "", map[string]any{"min_confidence_percent": 60})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if f.tunables.confidence != 0 {
		t.Errorf("config applied despite persistence failure")
	}
}

func TestListAlerts(t *testing.T) {
	f := newFixture(t, openAuth(), fakeSource{})

	resp, body := f.do(t, "GET", "/alerts?limit=5&since=2026-01-02T03:04:05Z", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /alerts = %d: %s", resp.StatusCode, body)
	}
	var list AlertList
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if list.Count != 1 || list.Alerts[0].Label != "Leopard" || list.Alerts[0].EventID != "e-1" {
		t.Errorf("alerts = %s", body)
	}
	if f.log.gotLimit != 5 || f.log.gotSince == nil || f.log.gotSince.Year() != 2026 {
		t.Errorf("query = limit %d since %v", f.log.gotLimit, f.log.gotSince)
	}

	f.do(t, "GET", "/alerts", "", nil)
	if f.log.gotLimit != defaultAlertLimit || f.log.gotSince != nil {
		t.Errorf("default query = limit %d since %v", f.log.gotLimit, f.log.gotSince)
	}

	for _, q := range []string{"?limit=abc", "?limit=-1", "?limit=1000", "?since=yesterday"} {
		if resp, _ := f.do(t, "GET", "/alerts"+q, "", nil); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET /alerts%s = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, openAuth(), fakeSource{})

	resp, body := f.do(t, "GET", "/snapshot", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /snapshot = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.HasPrefix(body, []byte{0xff, 0xd8}) {
		t.Errorf("body is not the captured frame")
	}

	failing := newFixture(t, openAuth(), fakeSource{err: fmt.Errorf("camera offline: %w", pipeline.ErrCaptureFailure)})
	if resp, _ := failing.do(t, "GET", "/snapshot", "", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("failed capture = %d, want 503", resp.StatusCode)
	}
}

type blockingSource struct {
	started chan struct{}
	release chan struct{}
}

func (blockingSource) Name() string { return "blocking" }

func (b blockingSource) Capture(ctx context.Context) (pipeline.FrameSample, error) {
	b.started <- struct{}{}
	<-b.release
	return pipeline.FrameSample{Data: []byte{0xff, 0xd8, 0xff}, CapturedAt: time.Now()}, nil
}

func (blockingSource) Close() error { return nil }

func TestSnapshotRefusedWhileCameraBusy(t *testing.T) {
	cam := blockingSource{started: make(chan struct{}, 1), release: make(chan struct{})}
	scheduler := pipeline.NewScheduler(nil, pipeline.SchedulerConfig{Interval: time.Hour})
	f := newFixture(t, openAuth(), scheduler.Exclusive(cam))

	done := make(chan int)
	go func() {
		resp, err := http.Get(f.srv.URL + "/snapshot")
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-cam.started

	resp, body := f.do(t, "GET", "/snapshot", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("overlapping snapshot = %d, want 503 (%s)", resp.StatusCode, body)
	}
	var errRes ErrorResult
	if err := json.Unmarshal(body, &errRes); err != nil || errRes.Name != "unavailable" || !errRes.Temporary {
		t.Errorf("error body = %s", body)
	}
	if !scheduler.Busy() {
		t.Error("snapshot capture does not hold the scheduler guard")
	}

	close(cam.release)
	if status := <-done; status != http.StatusOK {
		t.Errorf("first snapshot = %d, want 200", status)
	}
	if scheduler.Busy() {
		t.Error("guard still held after the snapshot")
	}
}
