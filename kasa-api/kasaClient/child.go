package kasaClient

import (
	"context"
	"fmt"

	"github.com/zabeloliver/kasa-hub-exporter/kasa-api/kasaProtocol"
)

// Child is a device paired to the hub, addressed through control_child.
type Child struct {
	hub        *Hub
	info       map[string]any
	components map[string]int
	modules    map[ModuleName]Module
}

func newChild(hub *Hub, info map[string]any) *Child {
	c := &Child{hub: hub, components: map[string]int{}}
	c.setInfo(info)
	return c
}

func (c *Child) setInfo(info map[string]any) {
	if info == nil {
		info = map[string]any{}
	}
	c.info = info
	c.buildModules()
}

func (c *Child) setComponents(list []kasaProtocol.Component) {
	components := make(map[string]int, len(list))
	for _, comp := range list {
		components[comp.Id] = comp.VerCode
	}
	c.components = components
	c.buildModules()
}

// Update polls the child's own device info.
func (c *Child) Update(ctx context.Context) error {
	info := map[string]any{}
	if err := c.hub.protocol.QueryChild(ctx, c.DeviceId(), "get_device_info", nil, &info); err != nil {
		return fmt.Errorf("update child %s: %w", c.DeviceId(), err)
	}
	c.setInfo(info)
	return nil
}

// setDeviceInfo writes params to the child and merges them into the cached info.
func (c *Child) setDeviceInfo(ctx context.Context, params map[string]any) error {
	if err := c.hub.protocol.QueryChild(ctx, c.DeviceId(), "set_device_info", params, nil); err != nil {
		return fmt.Errorf("set_device_info on %s: %w", c.DeviceId(), err)
	}
	for k, v := range params {
		c.info[k] = v
	}
	return nil
}

func (c *Child) DeviceId() string {
	id, _ := c.info["device_id"].(string)
	return id
}

func (c *Child) Model() string {
	m, _ := c.info["model"].(string)
	return m
}

func (c *Child) Alias() string {
	return decodeNickname(c.info["nickname"])
}

func (c *Child) Info() map[string]any {
	return c.info
}

func (c *Child) HasComponent(id string) bool {
	_, ok := c.components[id]
	return ok
}

// Attr looks up a top level attribute. Identity attributes are normalized,
// everything else is returned as reported by the hub.
func (c *Child) Attr(name string) (any, bool) {
	switch name {
	case "device_id":
		return nonEmpty(c.DeviceId())
	case "alias", "name":
		return nonEmpty(c.Alias())
	case "mac":
		mac, _ := c.info["mac"].(string)
		return nonEmpty(formatMAC(mac))
	case "online":
		status, ok := c.info["status"].(string)
		if !ok {
			return nil, false
		}
		return status == "online", true
	}
	v, ok := c.info[name]
	return v, ok
}

func (c *Child) Modules() map[ModuleName]Module {
	return c.modules
}

// Features lists the readings of the child as generic id/name/value entries.
func (c *Child) Features() []Feature {
	features := []Feature{}
	for _, d := range featureDescriptions {
		if v, ok := c.info[d.key]; ok {
			features = append(features, Feature{Id: d.id, Name: d.name, Value: v})
		}
	}
	return features
}

type Feature struct {
	Id    string
	Name  string
	Value any
}

var featureDescriptions = []struct {
	key, id, name string
}{
	{"current_temp", "temperature", "Temperature"},
	{"target_temp", "target_temperature", "Target temperature"},
	{"current_humidity", "humidity", "Humidity"},
	{"open", "is_open", "Open"},
	{"battery_percentage", "battery_level", "Battery level"},
	{"at_low_battery", "battery_low", "Battery low"},
	{"rssi", "rssi", "RSSI"},
	{"signal_level", "signal_level", "Signal level"},
	{"frost_protection_on", "frost_protection_enabled", "Frost protection"},
}

func nonEmpty(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}

// formatMAC turns "AABBCCDDEEFF" or "AA-BB-.." into "AA:BB:CC:DD:EE:FF".
func formatMAC(mac string) string {
	clean := make([]byte, 0, 12)
	for i := 0; i < len(mac); i++ {
		if mac[i] != ':' && mac[i] != '-' {
			clean = append(clean, mac[i])
		}
	}
	if len(clean) != 12 {
		return mac
	}

	result := ""
	for i := 0; i < len(clean); i += 2 {
		if i > 0 {
			result += ":"
		}
		result += string(clean[i : i+2])
	}
	return result
}
