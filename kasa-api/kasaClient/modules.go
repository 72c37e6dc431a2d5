package kasaClient

import (
	"context"
	"fmt"
	"strings"
)

type ModuleName string

const (
	ModuleThermostat        ModuleName = "Thermostat"
	ModuleTemperatureSensor ModuleName = "TemperatureSensor"
	ModuleHumiditySensor    ModuleName = "HumiditySensor"
	ModuleContactSensor     ModuleName = "ContactSensor"
	ModuleBattery           ModuleName = "Battery"
)

// Module is a capability of a child. Readings are exposed by attribute name.
type Module interface {
	Attr(name string) (any, bool)
}

func (c *Child) buildModules() {
	has := func(key string) bool {
		_, ok := c.info[key]
		return ok
	}

	modules := map[ModuleName]Module{}
	if c.HasComponent("temp_control") || (has("target_temp") && (has("trv_states") || has("frost_protection_on"))) {
		modules[ModuleThermostat] = &Thermostat{child: c}
	}
	if c.HasComponent("temperature") || has("current_temp") {
		modules[ModuleTemperatureSensor] = &TemperatureSensor{child: c}
	}
	if c.HasComponent("humidity") || has("current_humidity") {
		modules[ModuleHumiditySensor] = &HumiditySensor{child: c}
	}
	if has("open") {
		modules[ModuleContactSensor] = &ContactSensor{child: c}
	}
	if c.HasComponent("battery_detect") || has("battery_percentage") || has("at_low_battery") {
		modules[ModuleBattery] = &Battery{child: c}
	}
	c.modules = modules
}

type ThermostatState string

const (
	ThermostatHeating     ThermostatState = "heating"
	ThermostatCalibrating ThermostatState = "calibrating"
	ThermostatIdle        ThermostatState = "idle"
	ThermostatOff         ThermostatState = "off"
	ThermostatUnknown     ThermostatState = "unknown"
)

func (s ThermostatState) String() string {
	if s == "" {
		return "ThermostatState.Unknown"
	}
	return "ThermostatState." + strings.ToUpper(string(s[:1])) + string(s[1:])
}

// Thermostat is the temperature control of a KE100 valve.
type Thermostat struct {
	child *Child
}

func (t *Thermostat) trvStates() []string {
	raw, _ := t.child.info["trv_states"].([]any)
	states := make([]string, 0, len(raw))
	for _, s := range raw {
		if str, ok := s.(string); ok {
			states = append(states, str)
		}
	}
	return states
}

// State reports whether the valve is on; frost protection means off.
func (t *Thermostat) State() bool {
	frost, _ := t.child.info["frost_protection_on"].(bool)
	return !frost
}

func (t *Thermostat) Mode() ThermostatState {
	if !t.State() {
		return ThermostatOff
	}
	states := t.trvStates()
	for _, s := range states {
		switch s {
		case "heating":
			return ThermostatHeating
		case "progress_calibration":
			return ThermostatCalibrating
		}
	}
	if len(states) == 0 {
		return ThermostatIdle
	}
	return ThermostatUnknown
}

func (t *Thermostat) Attr(name string) (any, bool) {
	switch name {
	case "current_temperature":
		v, ok := t.child.info["current_temp"]
		return v, ok
	case "target_temperature":
		v, ok := t.child.info["target_temp"]
		return v, ok
	case "mode":
		return t.Mode(), true
	case "state":
		return t.State(), true
	case "is_heating":
		return t.Mode() == ThermostatHeating, true
	case "minimum_target_temperature":
		v, ok := t.child.info["min_control_temp"]
		return v, ok
	case "maximum_target_temperature":
		v, ok := t.child.info["max_control_temp"]
		return v, ok
	}
	return nil, false
}

func (t *Thermostat) limits() (float64, float64) {
	lo, hi := 5.0, 30.0
	if v, ok := t.child.info["min_control_temp"].(float64); ok {
		lo = v
	}
	if v, ok := t.child.info["max_control_temp"].(float64); ok {
		hi = v
	}
	return lo, hi
}

// SetTargetTemperature sets the setpoint and switches the valve on if needed.
func (t *Thermostat) SetTargetTemperature(ctx context.Context, target float64) error {
	lo, hi := t.limits()
	if target < lo || target > hi {
		return fmt.Errorf("target temperature %.1f out of range [%.1f, %.1f]", target, lo, hi)
	}
	params := map[string]any{"target_temp": target}
	if !t.State() {
		params["frost_protection_on"] = false
	}
	return t.child.setDeviceInfo(ctx, params)
}

func (t *Thermostat) SetState(ctx context.Context, on bool) error {
	return t.child.setDeviceInfo(ctx, map[string]any{"frost_protection_on": !on})
}

type TemperatureSensor struct {
	child *Child
}

func (s *TemperatureSensor) Attr(name string) (any, bool) {
	switch name {
	case "temperature":
		v, ok := s.child.info["current_temp"]
		return v, ok
	case "temperature_unit":
		v, ok := s.child.info["temp_unit"]
		return v, ok
	}
	return nil, false
}

type HumiditySensor struct {
	child *Child
}

func (s *HumiditySensor) Attr(name string) (any, bool) {
	if name == "humidity" {
		v, ok := s.child.info["current_humidity"]
		return v, ok
	}
	return nil, false
}

type ContactSensor struct {
	child *Child
}

func (s *ContactSensor) Attr(name string) (any, bool) {
	if name == "is_open" {
		v, ok := s.child.info["open"]
		return v, ok
	}
	return nil, false
}

type Battery struct {
	child *Child
}

func (b *Battery) Attr(name string) (any, bool) {
	switch name {
	case "battery_level":
		v, ok := b.child.info["battery_percentage"]
		return v, ok
	case "battery_low":
		v, ok := b.child.info["at_low_battery"]
		return v, ok
	}
	return nil, false
}
