package kasaHub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zabeloliver/kasa-hub-exporter/kasa-api/kasaHub"
)

func newTestClient(children ...kasaHub.Child) (*kasaHub.Client, *fakeHub, *fakeDiscoverer) {
	hub := &fakeHub{children: children}
	d := &fakeDiscoverer{hub: hub}
	return kasaHub.NewClient("192.0.2.10", d), hub, d
}

func TestConnectIsIdempotent(t *testing.T) {
	client, _, d := newTestClient()
	assert.False(t, client.IsConnected())

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.IsConnected())
	assert.Equal(t, 1, d.calls)
}

func TestConnectPassesCredentials(t *testing.T) {
	hub := &fakeHub{}
	d := &fakeDiscoverer{hub: hub}

	client := kasaHub.NewClient("hub", d, kasaHub.WithCredentials(&kasaHub.Credentials{}))
	require.NoError(t, client.Connect(context.Background()))
	assert.Nil(t, d.creds)

	creds := &kasaHub.Credentials{Username: "user@example.com", Password: "secret"}
	client = kasaHub.NewClient("hub", d, kasaHub.WithCredentials(creds))
	require.NoError(t, client.Connect(context.Background()))
	assert.Same(t, creds, d.creds)
}

func TestConnectFailureIsNotReady(t *testing.T) {
	cause := errors.New("connection refused")
	client := kasaHub.NewClient("hub", &fakeDiscoverer{err: cause})

	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, kasaHub.ErrNotReady)
	assert.ErrorIs(t, err, cause)
	assert.False(t, client.IsConnected())

	var hubErr *kasaHub.HubError
	require.ErrorAs(t, err, &hubErr)
	assert.Equal(t, "connect", hubErr.Op)

	_, err = client.Refresh(context.Background())
	assert.ErrorIs(t, err, kasaHub.ErrNotReady)
}

func TestDisconnect(t *testing.T) {
	client, hub, d := newTestClient()
	require.NoError(t, client.Disconnect())

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Disconnect())
	assert.True(t, hub.closed)
	assert.False(t, client.IsConnected())

	_, err := client.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, d.calls)
}

func TestRefreshBuildsDeviceMap(t *testing.T) {
	valve := valveChild(nil, "valve-1", newModule(nil, map[string]any{
		"current_temperature": 19.5, "target_temperature": 21.0, "mode": "ThermostatState.Heating",
	}))
	door := contactChild(nil, "door-1", true)
	plug := &fakeChild{attrs: map[string]any{"device_id": "plug-1"}, modules: kasaHub.ModuleTable{}}
	client, _, _ := newTestClient(valve, door, plug)

	states, err := client.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"door-1", "valve-1"}, kasaHub.SortedIds(states))

	v := states["valve-1"].(*kasaHub.ThermostatState)
	assert.Equal(t, "Valve valve-1", v.Name)
	assert.Equal(t, 19.5, *v.CurrentTemperature)
	assert.Equal(t, 21.0, *v.TargetTemperature)
	assert.Equal(t, kasaHub.ModeHeat, v.Mode)
	assert.Equal(t, kasaHub.ActionHeating, v.Action)
	assert.Equal(t, 70, *v.Battery)
	assert.True(t, v.Reachable)

	c := states["door-1"].(*kasaHub.ContactState)
	assert.True(t, c.IsOpen)
	assert.Equal(t, kasaHub.KindContact, c.Kind())

	assert.Equal(t, 1, valve.updates)
	assert.Equal(t, 1, plug.updates)
	assert.Equal(t, states, client.States())
}

func TestRefreshIdsAreStable(t *testing.T) {
	valve := &fakeChild{
		attrs:   map[string]any{"mac": "AA:BB:CC:DD:EE:FF"},
		modules: kasaHub.ModuleTable{kasaHub.ModuleThermostat: newModule(nil, map[string]any{"target_temperature": 20.0})},
	}
	anonymous := contactChild(nil, "", false)
	delete(anonymous.attrs, "device_id")
	client, _, _ := newTestClient(valve, anonymous)

	first, err := client.Refresh(context.Background())
	require.NoError(t, err)
	second, err := client.Refresh(context.Background())
	require.NoError(t, err)

	assert.Len(t, first, 2)
	assert.Equal(t, kasaHub.SortedIds(first), kasaHub.SortedIds(second))
	assert.Contains(t, second, "AA:BB:CC:DD:EE:FF")
}

func TestRefreshDropsVanishedDevices(t *testing.T) {
	valve := valveChild(nil, "valve-1", newModule(nil, map[string]any{}))
	door := contactChild(nil, "door-1", false)
	client, hub, _ := newTestClient(valve, door)

	states, err := client.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)

	hub.setChildren(valve)
	states, err = client.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"valve-1"}, kasaHub.SortedIds(states))
	assert.NotContains(t, client.States(), "door-1")
}

func TestRefreshSkipsFailedChild(t *testing.T) {
	valve := valveChild(nil, "valve-1", newModule(nil, map[string]any{}))
	door := contactChild(nil, "door-1", true)
	door.updateErr = errors.New("timeout")
	client, _, _ := newTestClient(valve, door)

	states, err := client.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"valve-1"}, kasaHub.SortedIds(states))
}

func TestRefreshSkipsDuplicateIds(t *testing.T) {
	first := contactChild(nil, "door-1", true)
	second := contactChild(nil, "door-1", false)
	client, _, _ := newTestClient(first, second)

	states, err := client.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.True(t, states["door-1"].(*kasaHub.ContactState).IsOpen)
}

func TestRefreshHubFailureDropsConnection(t *testing.T) {
	client, hub, d := newTestClient(contactChild(nil, "door-1", true))
	_, err := client.Refresh(context.Background())
	require.NoError(t, err)

	hub.setUpdateErr(errors.New("session expired"))
	_, err = client.Refresh(context.Background())
	assert.ErrorIs(t, err, kasaHub.ErrNotReady)
	assert.False(t, client.IsConnected())
	assert.True(t, hub.closed)

	// the last good mapping stays readable
	assert.Contains(t, client.States(), "door-1")

	hub.setUpdateErr(nil)
	_, err = client.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, d.calls)
}

func TestActionPolicy(t *testing.T) {
	thermostat := newModule(nil, map[string]any{"current_temperature": 18.0, "target_temperature": 21.0, "mode": "ThermostatState.Unknown"})

	client, _, _ := newTestClient(valveChild(nil, "valve-1", thermostat))
	states, err := client.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kasaHub.ActionIdle, states["valve-1"].(*kasaHub.ThermostatState).Action)

	hub := &fakeHub{children: []kasaHub.Child{valveChild(nil, "valve-1", thermostat)}}
	client = kasaHub.NewClient("hub", &fakeDiscoverer{hub: hub}, kasaHub.WithActionPolicy(kasaHub.ActionPolicyCompare))
	states, err = client.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kasaHub.ActionHeating, states["valve-1"].(*kasaHub.ThermostatState).Action)
}

func TestParseActionPolicy(t *testing.T) {
	p, err := kasaHub.ParseActionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, kasaHub.ActionPolicyIdle, p)

	p, err = kasaHub.ParseActionPolicy("compare")
	require.NoError(t, err)
	assert.Equal(t, kasaHub.ActionPolicyCompare, p)

	_, err = kasaHub.ParseActionPolicy("guess")
	assert.Error(t, err)
}

func TestClampScanInterval(t *testing.T) {
	assert.Equal(t, 30*time.Second, kasaHub.ClampScanInterval(0))
	assert.Equal(t, 5*time.Second, kasaHub.ClampScanInterval(time.Second))
	assert.Equal(t, time.Minute, kasaHub.ClampScanInterval(time.Minute))
	assert.Equal(t, time.Hour, kasaHub.ClampScanInterval(48*time.Hour))
}

func TestPoll(t *testing.T) {
	client, _, _ := newTestClient(contactChild(nil, "door-1", true))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan kasaHub.DeviceMap, 10)
	client.Poll(ctx, 10*time.Millisecond, func(states kasaHub.DeviceMap, err error) {
		if err == nil {
			select {
			case results <- states:
			default:
			}
		}
	})

	for i := 0; i < 2; i++ {
		select {
		case states := <-results:
			assert.Contains(t, states, "door-1")
		case <-time.After(time.Second):
			t.Fatal("no refresh from poller")
		}
	}
}

func TestPollDefaultsNonPositiveInterval(t *testing.T) {
	client, _, _ := newTestClient(contactChild(nil, "door-1", true))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan kasaHub.DeviceMap, 1)
	assert.NotPanics(t, func() {
		client.Poll(ctx, 0, func(states kasaHub.DeviceMap, err error) {
			select {
			case results <- states:
			default:
			}
		})
	})

	select {
	case states := <-results:
		assert.Contains(t, states, "door-1")
	case <-time.After(time.Second):
		t.Fatal("no refresh from poller")
	}
}

func TestPollRefreshesOnHubChange(t *testing.T) {
	door := contactChild(nil, "door-1", false)
	hub := &notifyingHub{fakeHub: &fakeHub{children: []kasaHub.Child{door}}, changes: make(chan struct{}, 1)}
	client := kasaHub.NewClient("hub", &fakeDiscoverer{hub: hub})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan kasaHub.DeviceMap, 10)
	client.Poll(ctx, time.Hour, func(states kasaHub.DeviceMap, err error) {
		if err == nil {
			results <- states
		}
	})

	next := func() *kasaHub.ContactState {
		t.Helper()
		select {
		case states := <-results:
			return states["door-1"].(*kasaHub.ContactState)
		case <-time.After(time.Second):
			t.Fatal("no refresh from poller")
		}
		return nil
	}
	assert.False(t, next().IsOpen)

	hub.setChildren(contactChild(nil, "door-1", true))
	hub.changes <- struct{}{}
	assert.True(t, next().IsOpen)
	assert.Equal(t, 2, hub.fakeHub.updates)
}

func TestPollReportsErrors(t *testing.T) {
	client := kasaHub.NewClient("hub", &fakeDiscoverer{err: errors.New("unreachable")})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 10)
	client.Poll(ctx, 10*time.Millisecond, func(states kasaHub.DeviceMap, err error) {
		select {
		case errs <- err:
		default:
		}
	})

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, kasaHub.ErrNotReady)
	case <-time.After(time.Second):
		t.Fatal("no callback from poller")
	}
}
