package haProxy_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zabeloliver/kasa-hub-exporter/ha-proxy/haProxy"
	"github.com/zabeloliver/kasa-hub-exporter/kasa-api/kasaHub"
)

const token = "long-lived-token"

type serviceCall struct {
	Service string
	Data    map[string]any
}

type fakeHomeAssistant struct {
	mu     sync.Mutex
	states map[string]haProxy.EntityState
	calls  []serviceCall

	events       *websocket.Conn
	subscription map[string]any
}

func (f *fakeHomeAssistant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/websocket" {
		f.serveWebsocket(w, r)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/api/":
		json.NewEncoder(w).Encode(map[string]string{"message": "API running."})
	case strings.HasPrefix(r.URL.Path, "/api/states/"):
		st, ok := f.states[strings.TrimPrefix(r.URL.Path, "/api/states/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(st)
	case strings.HasPrefix(r.URL.Path, "/api/services/") && r.Method == http.MethodPost:
		data := map[string]any{}
		json.NewDecoder(r.Body).Decode(&data)
		service := strings.TrimPrefix(r.URL.Path, "/api/services/")
		f.calls = append(f.calls, serviceCall{Service: service, Data: data})

		eid, _ := data["entity_id"].(string)
		st := f.states[eid]
		switch service {
		case "climate/set_temperature":
			st.Attributes["temperature"] = data["temperature"]
		case "climate/set_hvac_mode":
			st.State = data["hvac_mode"].(string)
			if st.State == "off" {
				st.Attributes["hvac_action"] = "off"
			}
		}
		f.states[eid] = st
		w.Write([]byte("[]"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// serveWebsocket authenticates like Home Assistant and keeps the connection
// of the first subscription for pushing events.
func (f *fakeHomeAssistant) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.WriteJSON(map[string]any{"type": "auth_required", "ha_version": "2024.6.0"})

	auth := map[string]any{}
	if err := conn.ReadJSON(&auth); err != nil {
		conn.Close()
		return
	}
	if auth["type"] != "auth" || auth["access_token"] != token {
		conn.WriteJSON(map[string]any{"type": "auth_invalid", "message": "Invalid access token or password"})
		conn.Close()
		return
	}
	conn.WriteJSON(map[string]any{"type": "auth_ok", "ha_version": "2024.6.0"})

	sub := map[string]any{}
	if err := conn.ReadJSON(&sub); err != nil {
		conn.Close()
		return
	}
	conn.WriteJSON(map[string]any{"id": sub["id"], "type": "result", "success": true, "result": nil})

	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = conn
	f.subscription = sub
}

func (f *fakeHomeAssistant) Subscription() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscription
}

func (f *fakeHomeAssistant) setState(entityId, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.states[entityId]
	st.State = state
	f.states[entityId] = st
}

// pushStateChanged sends a state_changed event with the current state.
func (f *fakeHomeAssistant) pushStateChanged(t *testing.T, entityId string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotNil(t, f.events)
	st := f.states[entityId]
	require.NoError(t, f.events.WriteJSON(map[string]any{
		"id":   f.subscription["id"],
		"type": "event",
		"event": map[string]any{
			"event_type": "state_changed",
			"data":       map[string]any{"entity_id": entityId, "new_state": st},
		},
	}))
}

func (f *fakeHomeAssistant) Calls() []serviceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]serviceCall(nil), f.calls...)
}

func newFakeHomeAssistant(t *testing.T) (*fakeHomeAssistant, *httptest.Server) {
	fake := &fakeHomeAssistant{states: map[string]haProxy.EntityState{
		"climate.ke100": {EntityId: "climate.ke100", State: "heat", Attributes: map[string]any{
			"friendly_name": "Office valve", "current_temperature": 19.5, "temperature": 21.0, "hvac_action": "heating",
		}},
		"binary_sensor.front_door": {EntityId: "binary_sensor.front_door", State: "on", Attributes: map[string]any{
			"friendly_name": "Front door",
		}},
		"binary_sensor.window": {EntityId: "binary_sensor.window", State: "off", Attributes: map[string]any{}},
	}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, srv
}

func newProxyClient(srv *httptest.Server, contacts string) *kasaHub.Client {
	d := haProxy.Discoverer{
		Token:    token,
		Climate:  "climate.ke100",
		Contacts: haProxy.ParseEntityList(contacts),
	}
	return kasaHub.NewClient(srv.URL, d)
}

func TestParseEntityList(t *testing.T) {
	assert.Equal(t, []string{"binary_sensor.a", "binary_sensor.b"}, haProxy.ParseEntityList(" binary_sensor.a, ,binary_sensor.b,"))
	assert.Empty(t, haProxy.ParseEntityList(""))
}

func TestProxyRefresh(t *testing.T) {
	_, srv := newFakeHomeAssistant(t)
	client := newProxyClient(srv, "binary_sensor.front_door,binary_sensor.missing,binary_sensor.window")

	states, err := client.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ke100_proxy", "t110_proxy_1", "t110_proxy_3"}, kasaHub.SortedIds(states))

	valve := states[haProxy.ClimateDeviceId].(*kasaHub.ThermostatState)
	assert.Equal(t, "Office valve", valve.Name)
	assert.Equal(t, 19.5, *valve.CurrentTemperature)
	assert.Equal(t, 21.0, *valve.TargetTemperature)
	assert.Equal(t, kasaHub.ModeHeat, valve.Mode)
	assert.Equal(t, kasaHub.ActionHeating, valve.Action)
	assert.True(t, valve.Reachable)

	door := states["t110_proxy_1"].(*kasaHub.ContactState)
	assert.True(t, door.IsOpen)
	assert.Equal(t, "Front door", door.Name)

	window := states["t110_proxy_3"].(*kasaHub.ContactState)
	assert.False(t, window.IsOpen)
	assert.Equal(t, "Contact 3", window.Name)
}

func TestProxyCommands(t *testing.T) {
	fake, srv := newFakeHomeAssistant(t)
	client := newProxyClient(srv, "")
	_, err := client.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, client.SetTargetTemperature(context.Background(), haProxy.ClimateDeviceId, 21.6))
	require.NoError(t, client.SetMode(context.Background(), haProxy.ClimateDeviceId, kasaHub.ModeOff))

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "climate/set_temperature", calls[0].Service)
	assert.Equal(t, map[string]any{"entity_id": "climate.ke100", "temperature": 22.0}, calls[0].Data)
	assert.Equal(t, "climate/set_hvac_mode", calls[1].Service)
	assert.Equal(t, map[string]any{"entity_id": "climate.ke100", "hvac_mode": "off"}, calls[1].Data)

	states, err := client.Refresh(context.Background())
	require.NoError(t, err)
	valve := states[haProxy.ClimateDeviceId].(*kasaHub.ThermostatState)
	assert.Equal(t, 22.0, *valve.TargetTemperature)
	assert.Equal(t, kasaHub.ModeOff, valve.Mode)
	assert.Equal(t, kasaHub.ActionOff, valve.Action)
}

func TestProxyContactIsNotAThermostat(t *testing.T) {
	_, srv := newFakeHomeAssistant(t)
	client := newProxyClient(srv, "binary_sensor.front_door")

	err := client.SetTargetTemperature(context.Background(), "t110_proxy_1", 21)
	assert.ErrorIs(t, err, kasaHub.ErrUnsupported)
}

func TestProxyUnavailableEntity(t *testing.T) {
	fake, srv := newFakeHomeAssistant(t)
	fake.states["climate.ke100"] = haProxy.EntityState{EntityId: "climate.ke100", State: "unavailable", Attributes: map[string]any{}}
	client := newProxyClient(srv, "")

	states, err := client.Refresh(context.Background())
	require.NoError(t, err)
	valve := states[haProxy.ClimateDeviceId].(*kasaHub.ThermostatState)
	assert.False(t, valve.Reachable)
	assert.Nil(t, valve.CurrentTemperature)
	assert.Equal(t, "KE100", valve.Name)
}

func TestProxyBadToken(t *testing.T) {
	_, srv := newFakeHomeAssistant(t)
	client := kasaHub.NewClient(srv.URL, haProxy.Discoverer{Token: "wrong", Climate: "climate.ke100"})

	_, err := client.Refresh(context.Background())
	assert.ErrorIs(t, err, kasaHub.ErrNotReady)
	assert.Contains(t, err.Error(), "401")
}
