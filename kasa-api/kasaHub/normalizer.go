package kasaHub

import (
	"fmt"
	"hash/fnv"
	"reflect"
	"strings"
)

// deviceId derives the key of a child: device id, MAC, alias, and as a last
// resort a token of the object's identity.
func deviceId(child Child) string {
	for _, name := range []string{"device_id", "mac", "alias"} {
		raw, ok := child.Attr(name)
		if !ok {
			continue
		}
		if s, ok := stringValue(raw); ok && s != "" {
			return s
		}
	}
	return identityToken(child)
}

func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case fmt.Stringer:
		return t.String(), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

// identityToken is only stable for as long as the object lives.
func identityToken(v any) string {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return fmt.Sprintf("obj-%x", rv.Pointer())
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%T:%v", v, v)
	return fmt.Sprintf("obj-%x", h.Sum64())
}

// normalizeChild classifies a child and builds its state. Children without a
// thermostat, temperature or contact capability are reported as not ok.
func normalizeChild(id string, child Child, policy ActionPolicy) (DeviceState, bool) {
	v := newChildView(child)

	if v.thermostat != nil || v.tempSensor != nil {
		v.matched = v.thermostat
		if v.matched == nil {
			v.matched = v.tempSensor
		}
		return thermostatState(id, v, policy), true
	}

	modules := child.Modules()
	if contact, ok := lookup(modules, ModuleContactSensor); ok {
		v.matched = contact
		open := false
		if raw, ok := attrOf(contact, "is_open", "open"); ok {
			open, _ = flagValue(raw)
		}
		return contactState(id, v, open), true
	}

	for _, f := range v.features {
		if !containsAny(strings.ToLower(f.Id), contactSubstrings) && !containsAny(strings.ToLower(f.Name), contactSubstrings) {
			continue
		}
		if open, ok := f.Value.(bool); ok {
			return contactState(id, v, open), true
		}
	}
	return nil, false
}

func thermostatState(id string, v *childView, policy ActionPolicy) *ThermostatState {
	s := &ThermostatState{
		DeviceId:           id,
		Name:               displayName(id, v),
		Model:              model(v),
		CurrentTemperature: firstFloat(v, currentTemperatureChain),
		TargetTemperature:  firstFloat(v, targetTemperatureChain),
		Battery:            firstInt(v, batteryChain),
		Humidity:           firstFloat(v, humidityChain),
		Signal:             firstInt(v, signalChain),
		Reachable:          reachable(v),
	}
	s.Mode, s.Action = deriveMode(v, s.CurrentTemperature, s.TargetTemperature, policy)
	return s
}

func contactState(id string, v *childView, open bool) *ContactState {
	return &ContactState{
		DeviceId:  id,
		Name:      displayName(id, v),
		Model:     model(v),
		IsOpen:    open,
		Battery:   firstInt(v, batteryChain),
		Reachable: reachable(v),
	}
}

// deriveMode applies, in order: an explicit mode token, a power flag, a
// heating flag, and finally the action policy.
func deriveMode(v *childView, current, target *float64, policy ActionPolicy) (HVACMode, HVACAction) {
	if tok, ok := firstToken(v, modeChain); ok {
		switch tok {
		case "off":
			return ModeOff, ActionOff
		case "heating":
			return ModeHeat, ActionHeating
		case "idle":
			return ModeHeat, ActionIdle
		}
	}
	if on, ok := firstFlag(v, powerFlagChain); ok && !on {
		return ModeOff, ActionOff
	}
	if heating, ok := firstFlag(v, heatingFlagChain); ok && heating {
		return ModeHeat, ActionHeating
	}
	if policy == ActionPolicyCompare && current != nil && target != nil && *current < *target {
		return ModeHeat, ActionHeating
	}
	return ModeHeat, ActionIdle
}

func displayName(id string, v *childView) string {
	if raw, ok := attrOf(v.child, "alias", "name", "nickname"); ok {
		if s, ok := stringValue(raw); ok && s != "" {
			return s
		}
	}
	return id
}

func model(v *childView) string {
	if raw, ok := attrOf(v.child, "model"); ok {
		s, _ := stringValue(raw)
		return s
	}
	return ""
}

func reachable(v *childView) bool {
	if ok, found := firstFlag(v, reachableChain); found {
		return ok
	}
	return true
}
