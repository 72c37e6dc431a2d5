package kasaHub_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zabeloliver/kasa-hub-exporter/kasa-api/kasaHub"
)

// wire records overlapping network calls across every fake of one hub.
type wire struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (w *wire) call() {
	if w == nil {
		return
	}
	n := w.inFlight.Add(1)
	for {
		peak := w.maxInFlight.Load()
		if n <= peak || w.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(w.delay)
	w.inFlight.Add(-1)
}

type fakeModule struct {
	wire  *wire
	mu    sync.Mutex
	attrs map[string]any
	calls []string
}

func newModule(w *wire, attrs map[string]any) *fakeModule {
	return &fakeModule{wire: w, attrs: attrs}
}

func (m *fakeModule) Attr(name string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.attrs[name]
	return v, ok
}

func (m *fakeModule) record(call string) {
	m.wire.call()
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *fakeModule) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// valveModule exposes the primary setpoint setter and a power switch.
type valveModule struct {
	*fakeModule
	targets []float64
}

func (m *valveModule) SetTargetTemperature(ctx context.Context, value float64) error {
	m.record("SetTargetTemperature")
	m.targets = append(m.targets, value)
	return nil
}

func (m *valveModule) SetState(ctx context.Context, on bool) error {
	m.record("SetState")
	m.mu.Lock()
	m.attrs["state"] = on
	m.mu.Unlock()
	return nil
}

// legacyThermostat only knows the secondary setter names.
type legacyThermostat struct {
	*fakeModule
	targets []float64
	modes   []string
}

func (m *legacyThermostat) SetTemperature(ctx context.Context, value float64) error {
	m.record("SetTemperature")
	m.targets = append(m.targets, value)
	return nil
}

func (m *legacyThermostat) SetMode(ctx context.Context, mode string) error {
	m.record("SetMode")
	m.modes = append(m.modes, mode)
	return nil
}

type failingSetter struct {
	*fakeModule
}

func (m *failingSetter) SetTargetTemperature(ctx context.Context, value float64) error {
	return errors.New("hub rejected request")
}

type fakeChild struct {
	wire      *wire
	mu        sync.Mutex
	attrs     map[string]any
	modules   kasaHub.ModuleTable
	features  []kasaHub.Feature
	updateErr error
	updates   int
}

func (c *fakeChild) Attr(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.attrs[name]
	return v, ok
}

func (c *fakeChild) Update(ctx context.Context) error {
	c.wire.call()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++
	return c.updateErr
}

func (c *fakeChild) Modules() kasaHub.ModuleTable { return c.modules }
func (c *fakeChild) Features() []kasaHub.Feature  { return c.features }

type fakeHub struct {
	wire      *wire
	mu        sync.Mutex
	children  []kasaHub.Child
	updateErr error
	updates   int
	closed    bool
}

func (h *fakeHub) Update(ctx context.Context) error {
	h.wire.call()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates++
	return h.updateErr
}

func (h *fakeHub) Children() []kasaHub.Child {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]kasaHub.Child(nil), h.children...)
}

func (h *fakeHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHub) setChildren(children ...kasaHub.Child) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.children = children
}

func (h *fakeHub) setUpdateErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updateErr = err
}

// notifyingHub pushes changes like the Home Assistant mirror does.
type notifyingHub struct {
	*fakeHub
	changes chan struct{}
}

func (h *notifyingHub) Changes() <-chan struct{} {
	return h.changes
}

type fakeDiscoverer struct {
	hub   kasaHub.Hub
	err   error
	calls int
	creds *kasaHub.Credentials
}

func (d *fakeDiscoverer) Discover(ctx context.Context, address string, creds *kasaHub.Credentials) (kasaHub.Hub, error) {
	d.calls++
	d.creds = creds
	if d.err != nil {
		return nil, d.err
	}
	return d.hub, nil
}

func valveChild(w *wire, id string, thermostat kasaHub.Module) *fakeChild {
	return &fakeChild{
		wire:    w,
		attrs:   map[string]any{"device_id": id, "alias": "Valve " + id, "battery_percentage": 70},
		modules: kasaHub.ModuleTable{kasaHub.ModuleThermostat: thermostat},
	}
}

func contactChild(w *wire, id string, open bool) *fakeChild {
	return &fakeChild{
		wire:    w,
		attrs:   map[string]any{"device_id": id},
		modules: kasaHub.ModuleTable{"ContactSensor": newModule(w, map[string]any{"is_open": open})},
	}
}
