package kasaHub

import (
	"context"
	"fmt"
	"math"
)

// Setters exposed by modules. Different library versions name them
// differently, so each is probed in order.
type targetTemperatureSetter interface {
	SetTargetTemperature(ctx context.Context, value float64) error
}

type temperatureSetter interface {
	SetTemperature(ctx context.Context, value float64) error
}

type stateSetter interface {
	SetState(ctx context.Context, on bool) error
}

type hvacModeSetter interface {
	SetMode(ctx context.Context, mode string) error
}

const (
	MinTargetTemperature = 5.0
	MaxTargetTemperature = 30.0
)

// SetTargetTemperature writes a setpoint to the thermostat of a device. The
// value is rounded to one decimal. The caller refreshes afterwards.
func (c *Client) SetTargetTemperature(ctx context.Context, id string, value float64) error {
	if math.IsNaN(value) || value < MinTargetTemperature || value > MaxTargetTemperature {
		return &HubError{Op: "set_target_temperature", DeviceId: id,
			Err: fmt.Errorf("%w: %.1f not in [%.0f, %.0f]", ErrInvalidTemperature, value, MinTargetTemperature, MaxTargetTemperature)}
	}
	value = math.Round(value*10) / 10

	c.mu.Lock()
	defer c.mu.Unlock()

	child, err := c.resolveLocked(ctx, id)
	if err != nil {
		return &HubError{Op: "set_target_temperature", DeviceId: id, Err: err}
	}
	thermostat, ok := lookup(child.Modules(), ModuleThermostat)
	if !ok {
		return &HubError{Op: "set_target_temperature", DeviceId: id, Err: ErrUnsupported}
	}

	c.logger.Infof("Setting target temperature of %s to %.1f", id, value)
	switch s := thermostat.(type) {
	case targetTemperatureSetter:
		err = s.SetTargetTemperature(ctx, value)
	case temperatureSetter:
		err = s.SetTemperature(ctx, value)
	default:
		return &HubError{Op: "set_target_temperature", DeviceId: id, Err: ErrUnsupported}
	}
	if err != nil {
		c.logger.Errorf("Setting target temperature of %s failed: %s", id, err)
		return &HubError{Op: "set_target_temperature", DeviceId: id, Err: err}
	}
	return nil
}

// SetOnOff switches a device on or off through its power module, falling back
// to the thermostat.
func (c *Client) SetOnOff(ctx context.Context, id string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	child, err := c.resolveLocked(ctx, id)
	if err != nil {
		return &HubError{Op: "set_on_off", DeviceId: id, Err: err}
	}

	modules := child.Modules()
	var candidates []Module
	if m, ok := lookup(modules, ModuleDevicePower); ok {
		candidates = append(candidates, m)
	}
	if m, ok := lookup(modules, ModuleThermostat); ok {
		candidates = append(candidates, m)
	}

	mode := "off"
	if on {
		mode = "heat"
	}
	for _, m := range candidates {
		switch s := m.(type) {
		case stateSetter:
			c.logger.Infof("Switching %s %s", id, onOff(on))
			err = s.SetState(ctx, on)
		case hvacModeSetter:
			c.logger.Infof("Setting mode of %s to %s", id, mode)
			err = s.SetMode(ctx, mode)
		default:
			continue
		}
		if err != nil {
			c.logger.Errorf("Switching %s failed: %s", id, err)
			return &HubError{Op: "set_on_off", DeviceId: id, Err: err}
		}
		return nil
	}
	return &HubError{Op: "set_on_off", DeviceId: id, Err: ErrUnsupported}
}

// SetMode maps heat to on and off to off.
func (c *Client) SetMode(ctx context.Context, id string, mode HVACMode) error {
	switch mode {
	case ModeHeat:
		return c.SetOnOff(ctx, id, true)
	case ModeOff:
		return c.SetOnOff(ctx, id, false)
	}
	return &HubError{Op: "set_mode", DeviceId: id, Err: fmt.Errorf("%w: mode %q", ErrUnsupported, mode)}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
