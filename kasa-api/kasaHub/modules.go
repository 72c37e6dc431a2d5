package kasaHub

import (
	"fmt"
	"reflect"
	"strings"
)

type ModuleKey string

const (
	ModuleThermostat        ModuleKey = "Thermostat"
	ModuleTemperatureSensor ModuleKey = "TemperatureSensor"
	ModuleHumiditySensor    ModuleKey = "HumiditySensor"
	ModuleContactSensor     ModuleKey = "ContactSensor"
	ModuleDevicePower       ModuleKey = "DevicePower"
	ModuleBattery           ModuleKey = "Battery"
)

var moduleAliases = map[ModuleKey][]string{
	ModuleThermostat:        {"thermostat", "temperaturecontrol", "temp_control"},
	ModuleTemperatureSensor: {"temperaturesensor", "temperature"},
	ModuleHumiditySensor:    {"humiditysensor", "humidity"},
	ModuleContactSensor:     {"contactsensor", "contact"},
	ModuleDevicePower:       {"devicepower", "power", "onoff"},
	ModuleBattery:           {"battery", "batterysensor"},
}

// LookupModule finds a module by its typed key, then by a case-insensitive
// match of any key's name against the key itself or one of the aliases.
func LookupModule(table ModuleTable, key ModuleKey, aliases ...string) (Module, bool) {
	if m, ok := table[key]; ok && m != nil {
		return m, true
	}

	names := append([]string{string(key)}, aliases...)
	for k, m := range table {
		if m == nil {
			continue
		}
		name, ok := keyName(k)
		if !ok {
			continue
		}
		for _, n := range names {
			if strings.EqualFold(name, n) {
				return m, true
			}
		}
	}
	return nil, false
}

// lookup uses the registered aliases of key.
func lookup(table ModuleTable, key ModuleKey) (Module, bool) {
	return LookupModule(table, key, moduleAliases[key]...)
}

func keyName(k any) (string, bool) {
	switch v := k.(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	}
	rv := reflect.ValueOf(k)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}
