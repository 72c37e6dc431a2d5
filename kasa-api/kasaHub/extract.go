package kasaHub

import "strings"

// childView is a child together with the modules matched for it.
type childView struct {
	child      Child
	thermostat Module
	tempSensor Module
	humidity   Module
	power      Module
	battery    Module
	matched    Module
	features   []Feature
}

func newChildView(child Child) *childView {
	modules := child.Modules()
	v := &childView{child: child, features: child.Features()}
	v.thermostat, _ = lookup(modules, ModuleThermostat)
	v.tempSensor, _ = lookup(modules, ModuleTemperatureSensor)
	v.humidity, _ = lookup(modules, ModuleHumiditySensor)
	v.power, _ = lookup(modules, ModuleDevicePower)
	v.battery, _ = lookup(modules, ModuleBattery)
	return v
}

// extractor yields one candidate reading; chains are tried in order and the
// first usable value wins.
type extractor func(v *childView) (any, bool)

func attrOf(m AttrSource, names ...string) (any, bool) {
	if m == nil {
		return nil, false
	}
	for _, n := range names {
		if raw, ok := m.Attr(n); ok && raw != nil {
			return raw, true
		}
	}
	return nil, false
}

func moduleAttr(pick func(v *childView) Module, names ...string) extractor {
	return func(v *childView) (any, bool) {
		m := pick(v)
		if m == nil {
			return nil, false
		}
		return attrOf(m, names...)
	}
}

func childAttr(names ...string) extractor {
	return func(v *childView) (any, bool) {
		return attrOf(v.child, names...)
	}
}

// featureMatching finds a feature whose id or name contains one of want and
// none of skip.
func featureMatching(want []string, skip []string) extractor {
	return func(v *childView) (any, bool) {
		for _, f := range v.features {
			if f.Value == nil {
				continue
			}
			id, name := strings.ToLower(f.Id), strings.ToLower(f.Name)
			if containsAny(id, skip) || containsAny(name, skip) {
				continue
			}
			if containsAny(id, want) || containsAny(name, want) {
				return f.Value, true
			}
		}
		return nil, false
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func thermostatOf(v *childView) Module { return v.thermostat }
func tempSensorOf(v *childView) Module { return v.tempSensor }
func humidityOf(v *childView) Module   { return v.humidity }
func powerOf(v *childView) Module      { return v.power }
func batteryOf(v *childView) Module    { return v.battery }
func matchedOf(v *childView) Module    { return v.matched }

var setpointSubstrings = []string{"target_temperature", "setpoint", "targettemp", "desired_temp"}

var contactSubstrings = []string{"contact", "open", "door", "window"}

var currentTemperatureChain = []extractor{
	moduleAttr(thermostatOf, "current_temperature", "temperature", "current_temp"),
	childAttr("temperature", "current_temperature", "current_temp"),
	moduleAttr(tempSensorOf, "temperature", "current_temperature", "current_temp"),
	featureMatching([]string{"temperature"}, append([]string{"target"}, setpointSubstrings...)),
}

var targetTemperatureChain = []extractor{
	moduleAttr(thermostatOf, "target_temperature"),
	moduleAttr(thermostatOf, "target_temp", "setpoint", "temperature_setpoint", "heating_setpoint", "desired_temperature"),
	featureMatching(setpointSubstrings, nil),
}

var modeChain = []extractor{
	moduleAttr(thermostatOf, "mode"),
}

var powerFlagChain = []extractor{
	moduleAttr(thermostatOf, "state", "is_on", "enabled", "power"),
	moduleAttr(powerOf, "is_on", "state", "enabled"),
}

var heatingFlagChain = []extractor{
	moduleAttr(thermostatOf, "is_heating", "heating", "heating_active"),
	childAttr("is_heating"),
}

var batteryChain = []extractor{
	childAttr("battery_percentage", "battery_level", "battery"),
	moduleAttr(matchedOf, "battery_level", "battery_percentage", "battery"),
	moduleAttr(batteryOf, "battery_level", "battery_percentage", "battery"),
}

var humidityChain = []extractor{
	moduleAttr(humidityOf, "humidity"),
	childAttr("humidity", "current_humidity"),
}

var signalChain = []extractor{
	childAttr("rssi", "signal", "signal_level"),
}

var reachableChain = []extractor{
	childAttr("online", "reachable", "available"),
}

func firstFloat(v *childView, chain []extractor) *float64 {
	for _, ex := range chain {
		raw, ok := ex(v)
		if !ok {
			continue
		}
		if f, ok := toFloat(raw); ok {
			return floatPtr(f)
		}
	}
	return nil
}

func firstInt(v *childView, chain []extractor) *int {
	for _, ex := range chain {
		raw, ok := ex(v)
		if !ok {
			continue
		}
		if i, ok := toInt(raw); ok {
			return intPtr(i)
		}
	}
	return nil
}

func firstFlag(v *childView, chain []extractor) (bool, bool) {
	for _, ex := range chain {
		raw, ok := ex(v)
		if !ok {
			continue
		}
		if b, ok := flagValue(raw); ok {
			return b, true
		}
	}
	return false, false
}

func firstToken(v *childView, chain []extractor) (string, bool) {
	for _, ex := range chain {
		raw, ok := ex(v)
		if !ok {
			continue
		}
		if tok, ok := normalizeToken(raw); ok {
			return tok, true
		}
	}
	return "", false
}
