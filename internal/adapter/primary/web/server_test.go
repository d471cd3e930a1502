package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinnicap/internal/adapter/dto"
	"tinnicap/internal/adapter/secondary/history"
	"tinnicap/internal/adapter/secondary/host"
	"tinnicap/internal/domain"
	"tinnicap/internal/usecase"
)

type memRepo struct {
	mu    sync.Mutex
	saved domain.Settings
	saves int
}

func (r *memRepo) Load() (domain.Settings, error) { return domain.DefaultSettings(), nil }

func (r *memRepo) Save(s domain.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = s
	r.saves++
	return nil
}

type fakeHistory struct {
	records []history.Record
}

func (f *fakeHistory) Recent(_ context.Context, stableID string, _ int) ([]history.Record, error) {
	var out []history.Record
	for _, r := range f.records {
		if stableID == "" || r.StableID == stableID {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, usecase.MonitorUseCase, *host.MemoryHost, *memRepo) {
	t.Helper()
	h := host.NewMemoryHost(
		host.MemoryDevice{UID: "BuiltInSpeakerDevice", Name: "MacBook Pro Speakers", Transport: domain.TransportBuiltIn, OutputStreams: 1, Volume: 0.9},
		host.MemoryDevice{Name: "AirPods Pro", Transport: domain.TransportBluetooth, OutputStreams: 1, Volume: 0.3},
	)
	repo := &memRepo{}
	uc := usecase.NewMonitorUseCase(repo, h)
	ts := httptest.NewServer(NewServer(uc, "127.0.0.1:0", opts...).Handler())
	t.Cleanup(ts.Close)
	return ts, uc, h, repo
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestDevicesEndpoint(t *testing.T) {
	ts, uc, _, _ := newTestServer(t)
	_, err := uc.SetLimit("uid:BuiltInSpeakerDevice", 0.5)
	require.NoError(t, err)

	var devices []dto.Device
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/devices", "", &devices))
	require.Len(t, devices, 2)
	assert.Equal(t, "uid:BuiltInSpeakerDevice", devices[0].ID)
	assert.True(t, devices[0].HardwareUID)
	assert.Equal(t, 90, devices[0].VolumePercent)
	assert.Equal(t, 50, devices[0].LimitPercent)
	assert.Equal(t, "violation", devices[0].State)
	assert.Equal(t, "bluetooth:AirPods Pro", devices[1].ID)
	assert.False(t, devices[1].HasLimit)
}

func TestSetAndRemoveLimit(t *testing.T) {
	ts, uc, _, repo := newTestServer(t)

	var view limitView
	status := doJSON(t, http.MethodPut, ts.URL+"/api/limits/bluetooth:AirPods%20Pro", `{"percent": 40}`, &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0.4, view.Limit)
	assert.Equal(t, "Limit Set", view.Notice.Title)
	assert.Equal(t, "Volume limit for AirPods Pro set to 40%", view.Notice.Message)

	got, ok := uc.GetLimit("bluetooth:AirPods Pro")
	require.True(t, ok)
	assert.Equal(t, 0.4, got)
	assert.Equal(t, 1, repo.saves)

	status = doJSON(t, http.MethodDelete, ts.URL+"/api/limits/bluetooth:AirPods%20Pro", "", &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Limit Removed", view.Notice.Title)
	_, ok = uc.GetLimit("bluetooth:AirPods Pro")
	assert.False(t, ok)

	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodDelete, ts.URL+"/api/limits/bluetooth:AirPods%20Pro", "", nil))
}

func TestSetLimitDefaultsToSuggestion(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	var view limitView
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPut, ts.URL+"/api/limits/usb:DAC", `{}`, &view))
	assert.Equal(t, domain.DefaultLimitSuggestion, view.Limit)
	assert.Equal(t, "Volume limit for usb:DAC set to 75%", view.Notice.Message)
}

func TestModeAndCooldown(t *testing.T) {
	ts, uc, _, _ := newTestServer(t)

	var settings settingsResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPut, ts.URL+"/api/mode", `{"mode":"warning"}`, &settings))
	assert.Equal(t, "warning", settings.EnforcementMode)
	assert.Equal(t, domain.ModeWarning, uc.Mode())

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPut, ts.URL+"/api/mode", `{"mode":"loud"}`, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPut, ts.URL+"/api/mode", `not json`, nil))

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPut, ts.URL+"/api/cooldown", `{"seconds":10}`, &settings))
	assert.Equal(t, 10.0, settings.CooldownSeconds)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPut, ts.URL+"/api/cooldown", `{"seconds":0}`, nil))
}

func TestEnforceEndpointCaps(t *testing.T) {
	ts, uc, h, _ := newTestServer(t)
	_, _ = uc.SetLimit("uid:BuiltInSpeakerDevice", 0.5)

	var devices []dto.Device
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/api/enforce", "", &devices))
	assert.Equal(t, 50, devices[0].VolumePercent)

	handles, _ := h.DeviceHandles()
	v, _ := h.Volume(handles[0])
	assert.Equal(t, 0.5, v)
}

func TestHistoryEndpoint(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/api/history", "", nil))

	hist := &fakeHistory{records: []history.Record{
		{EventID: "e1", StableID: "uid:a", Name: "A", Attempted: 0.9, Limit: 0.5, Mode: domain.ModeHardCap},
		{EventID: "e2", StableID: "uid:b", Name: "B", Attempted: 0.8, Limit: 0.5, Mode: domain.ModeWarning},
	}}
	ts2, _, _, _ := newTestServer(t, WithHistory(hist))
	var out []historyView
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts2.URL+"/api/history?device=uid:b", "", &out))
	require.Len(t, out, 1)
	assert.Equal(t, "e2", out[0].EventID)
	assert.Equal(t, "warning", out[0].Mode)
}

func TestRootServesUI(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	res, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/html")

	res2, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	res2.Body.Close()
	assert.Equal(t, http.StatusNotFound, res2.StatusCode)
}

func TestEventsWebsocket(t *testing.T) {
	ts, uc, h, _ := newTestServer(t)
	_, _ = uc.SetLimit("uid:BuiltInSpeakerDevice", 0.5)
	handles, err := h.DeviceHandles()
	require.NoError(t, err)
	speakers := handles[0]

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade; keep provoking violations until one arrives.
	got := make(chan dto.Event, 1)
	go func() {
		var ev dto.Event
		if err := conn.ReadJSON(&ev); err == nil {
			got <- ev
		}
	}()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-got:
			assert.Equal(t, "limitViolationNotified", ev.Kind)
			require.NotNil(t, ev.Violation)
			assert.Equal(t, "MacBook Pro Speakers", ev.Violation.Device.Name)
			return
		case <-deadline:
			t.Fatal("no event received over websocket")
		case <-time.After(20 * time.Millisecond):
			_ = uc.RemoveLimit("uid:BuiltInSpeakerDevice")
			_, _ = uc.SetLimit("uid:BuiltInSpeakerDevice", 0.5)
			require.NoError(t, h.Adjust(speakers, 0.9))
			uc.Tick()
		}
	}
}
