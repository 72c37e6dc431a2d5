// Package haProxy mirrors a KE100 valve and T110 contact sensors that are
// already paired with Home Assistant (for example through Matter) and
// presents them as a hub.
package haProxy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zabeloliver/kasa-hub-exporter/kasa-api/kasaHub"
)

const ClimateDeviceId = "ke100_proxy"

func ContactDeviceId(n int) string {
	return fmt.Sprintf("t110_proxy_%d", n)
}

// ParseEntityList splits a comma separated list of entity ids.
func ParseEntityList(s string) []string {
	entities := []string{}
	for _, e := range strings.Split(s, ",") {
		if e = strings.TrimSpace(e); e != "" {
			entities = append(entities, e)
		}
	}
	return entities
}

// Discoverer opens a proxy hub. The discovery address is the Home Assistant
// base URL; credentials are not used, the token authenticates. With Subscribe
// set the hub also listens for state changes of its entities.
type Discoverer struct {
	Token     string
	Climate   string
	Contacts  []string
	Subscribe bool
	Timeout   time.Duration
	Logger    *zap.SugaredLogger
}

func (d Discoverer) Discover(ctx context.Context, address string, creds *kasaHub.Credentials) (kasaHub.Hub, error) {
	api := NewHaApiClient(address, d.Token, d.Timeout, d.Logger)
	if err := api.Ping(ctx); err != nil {
		api.Close()
		return nil, fmt.Errorf("home assistant at %s: %w", address, err)
	}
	api.logger.Infof("Mirroring climate %q and %d contacts from %s", d.Climate, len(d.Contacts), address)
	h := &ProxyHub{api: api, climate: d.Climate, contacts: d.Contacts, changes: make(chan struct{}, 1)}
	if !d.Subscribe {
		return h, nil
	}

	entities := append([]string{}, d.Contacts...)
	if d.Climate != "" {
		entities = append(entities, d.Climate)
	}
	listener, err := NewEventListener(address, d.Token, entities, d.Timeout, d.Logger)
	if err != nil {
		api.Close()
		return nil, err
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	h.stop = cancel
	h.stopped = make(chan struct{})
	go func() {
		defer close(h.stopped)
		listener.Run(listenCtx, h.notify)
	}()
	return h, nil
}

// ProxyHub reads the configured entities on every Update and, when
// subscribed, signals Changes on every state change Home Assistant pushes.
type ProxyHub struct {
	api      *HaApiClient
	climate  string
	contacts []string
	children []kasaHub.Child

	changes chan struct{}
	stop    context.CancelFunc
	stopped chan struct{}
}

// notify coalesces changes arriving before the next refresh.
func (h *ProxyHub) notify(entityId string) {
	select {
	case h.changes <- struct{}{}:
	default:
	}
}

func (h *ProxyHub) Changes() <-chan struct{} {
	return h.changes
}

func (h *ProxyHub) Update(ctx context.Context) error {
	children := []kasaHub.Child{}

	if h.climate != "" {
		st, err := h.state(ctx, h.climate)
		if err != nil {
			return err
		}
		if st != nil {
			children = append(children, newClimateChild(h, st))
		}
	}
	for i, eid := range h.contacts {
		st, err := h.state(ctx, eid)
		if err != nil {
			return err
		}
		if st != nil {
			children = append(children, newContactChild(h, ContactDeviceId(i+1), fmt.Sprintf("Contact %d", i+1), st))
		}
	}
	h.children = children
	return nil
}

// state returns nil for entities Home Assistant does not know.
func (h *ProxyHub) state(ctx context.Context, entityId string) (*EntityState, error) {
	st, err := h.api.GetState(ctx, entityId)
	if errors.Is(err, ErrEntityNotFound) {
		h.api.logger.Warnf("Entity %s not found, skipping", entityId)
		return nil, nil
	}
	return st, err
}

func (h *ProxyHub) Children() []kasaHub.Child {
	return h.children
}

func (h *ProxyHub) Close() error {
	if h.stop != nil {
		h.stop()
		<-h.stopped
	}
	h.api.Close()
	return nil
}

// entityChild is the shared part of mirrored children. Each child holds the
// state read by the last hub update; its own Update is a no-op since one
// request per entity already happened.
type entityChild struct {
	id    string
	name  string
	model string
	state *EntityState
}

func (c *entityChild) Update(ctx context.Context) error { return nil }

func (c *entityChild) Features() []kasaHub.Feature { return nil }

func (c *entityChild) Attr(name string) (any, bool) {
	switch name {
	case "device_id":
		return c.id, true
	case "alias", "name":
		return c.name, true
	case "model":
		return c.model, true
	case "online":
		return c.state.Available(), true
	case "entity_id":
		return c.state.EntityId, true
	case "battery_level", "battery":
		v, ok := c.state.Attributes[name]
		return v, ok && v != nil
	}
	// other attributes are only read through modules; a climate entity's
	// "temperature" is its setpoint
	return nil, false
}

type climateChild struct {
	entityChild
	thermostat *climateModule
}

func newClimateChild(h *ProxyHub, st *EntityState) *climateChild {
	c := &climateChild{entityChild: entityChild{id: ClimateDeviceId, name: st.FriendlyName("KE100"), model: "KE100", state: st}}
	c.thermostat = &climateModule{hub: h, state: st}
	return c
}

func (c *climateChild) Modules() kasaHub.ModuleTable {
	return kasaHub.ModuleTable{kasaHub.ModuleThermostat: c.thermostat}
}

// climateModule reads climate attributes and writes through the climate
// services of Home Assistant.
type climateModule struct {
	hub   *ProxyHub
	state *EntityState
}

func (m *climateModule) Attr(name string) (any, bool) {
	var v any
	switch name {
	case "current_temperature":
		v = m.state.Attributes["current_temperature"]
	case "target_temperature":
		v = m.state.Attributes["temperature"]
	case "mode":
		v = m.state.Attributes["hvac_action"]
	case "state":
		if !m.state.Available() {
			return nil, false
		}
		v = m.state.State != "off"
	case "minimum_target_temperature":
		v = m.state.Attributes["min_temp"]
	case "maximum_target_temperature":
		v = m.state.Attributes["max_temp"]
	}
	return v, v != nil
}

// SetTargetTemperature sends whole degrees, as the mirrored entity expects.
func (m *climateModule) SetTargetTemperature(ctx context.Context, value float64) error {
	return m.hub.api.CallService(ctx, "climate", "set_temperature", map[string]any{
		"entity_id":   m.state.EntityId,
		"temperature": math.Round(value),
	})
}

func (m *climateModule) SetMode(ctx context.Context, mode string) error {
	return m.hub.api.CallService(ctx, "climate", "set_hvac_mode", map[string]any{
		"entity_id": m.state.EntityId,
		"hvac_mode": mode,
	})
}

type contactChild struct {
	entityChild
	contact *contactModule
}

func newContactChild(h *ProxyHub, id, fallback string, st *EntityState) *contactChild {
	return &contactChild{
		entityChild: entityChild{id: id, name: st.FriendlyName(fallback), model: "T110", state: st},
		contact:     &contactModule{state: st},
	}
}

func (c *contactChild) Modules() kasaHub.ModuleTable {
	return kasaHub.ModuleTable{kasaHub.ModuleContactSensor: c.contact}
}

// contactModule follows binary_sensor semantics: on means open.
type contactModule struct {
	state *EntityState
}

func (m *contactModule) Attr(name string) (any, bool) {
	if name == "is_open" {
		return m.state.State == "on", true
	}
	return nil, false
}
