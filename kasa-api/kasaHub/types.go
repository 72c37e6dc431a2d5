package kasaHub

import "fmt"

type HVACMode string

const (
	ModeHeat HVACMode = "heat"
	ModeOff  HVACMode = "off"
)

type HVACAction string

const (
	ActionHeating HVACAction = "heating"
	ActionIdle    HVACAction = "idle"
	ActionOff     HVACAction = "off"
)

// ActionPolicy decides the action of a valve that reports neither a mode
// token nor a heating flag.
type ActionPolicy string

const (
	// ActionPolicyIdle reports idle.
	ActionPolicyIdle ActionPolicy = "idle"
	// ActionPolicyCompare reports heating while current < target.
	ActionPolicyCompare ActionPolicy = "compare"
)

func ParseActionPolicy(s string) (ActionPolicy, error) {
	switch ActionPolicy(s) {
	case "", ActionPolicyIdle:
		return ActionPolicyIdle, nil
	case ActionPolicyCompare:
		return ActionPolicyCompare, nil
	}
	return "", fmt.Errorf("unknown action policy %q", s)
}

type DeviceKind string

const (
	KindThermostat DeviceKind = "thermostat"
	KindContact    DeviceKind = "contact"
)

// DeviceState is either a *ThermostatState or a *ContactState.
type DeviceState interface {
	Kind() DeviceKind
	ID() string
}

type ThermostatState struct {
	DeviceId           string     `json:"device_id" yaml:"device_id"`
	Name               string     `json:"name" yaml:"name"`
	Model              string     `json:"model,omitempty" yaml:"model,omitempty"`
	CurrentTemperature *float64   `json:"current_temperature" yaml:"current_temperature"`
	TargetTemperature  *float64   `json:"target_temperature" yaml:"target_temperature"`
	Mode               HVACMode   `json:"mode" yaml:"mode"`
	Action             HVACAction `json:"action" yaml:"action"`
	Battery            *int       `json:"battery,omitempty" yaml:"battery,omitempty"`
	Humidity           *float64   `json:"humidity,omitempty" yaml:"humidity,omitempty"`
	Signal             *int       `json:"signal,omitempty" yaml:"signal,omitempty"`
	Reachable          bool       `json:"reachable" yaml:"reachable"`
}

func (s *ThermostatState) Kind() DeviceKind { return KindThermostat }
func (s *ThermostatState) ID() string       { return s.DeviceId }

type ContactState struct {
	DeviceId  string `json:"device_id" yaml:"device_id"`
	Name      string `json:"name" yaml:"name"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	IsOpen    bool   `json:"is_open" yaml:"is_open"`
	Battery   *int   `json:"battery,omitempty" yaml:"battery,omitempty"`
	Reachable bool   `json:"reachable" yaml:"reachable"`
}

func (s *ContactState) Kind() DeviceKind { return KindContact }
func (s *ContactState) ID() string       { return s.DeviceId }

// DeviceMap is the result of one refresh, keyed by device id.
type DeviceMap map[string]DeviceState
