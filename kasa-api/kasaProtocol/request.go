package kasaProtocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request is the SMART protocol envelope sent through a transport.
type Request struct {
	Method            string `json:"method"`
	Params            any    `json:"params,omitempty"`
	RequestTimeMillis int64  `json:"request_time_milis,omitempty"`
	TerminalUUID      string `json:"terminalUUID,omitempty"`
}

type Response struct {
	ErrorCode int             `json:"error_code"`
	Result    json.RawMessage `json:"result,omitempty"`
	Msg       string          `json:"msg,omitempty"`
}

// ControlChildParams addresses a request to one child of a hub.
type ControlChildParams struct {
	DeviceId    string  `json:"device_id"`
	RequestData Request `json:"requestData"`
}

type ControlChildResult struct {
	ResponseData Response `json:"responseData"`
}

type ChildDeviceListParams struct {
	StartIndex int `json:"start_index"`
}

type ChildDeviceListResult struct {
	ChildDeviceList []map[string]any `json:"child_device_list"`
	StartIndex      int              `json:"start_index"`
	Sum             int              `json:"sum"`
}

type Component struct {
	Id      string `json:"id"`
	VerCode int    `json:"ver_code"`
}

type ChildComponents struct {
	DeviceId      string      `json:"device_id"`
	ComponentList []Component `json:"component_list"`
}

type ChildComponentListResult struct {
	ChildComponentList []ChildComponents `json:"child_component_list"`
	StartIndex         int               `json:"start_index"`
	Sum                int               `json:"sum"`
}

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrSessionExpired = errors.New("session expired")
)

var errorCodeNames = map[int]string{
	-1:    "unknown method",
	-1003: "json decode failed",
	-1008: "invalid parameters",
	-1301: "device error",
	-1501: "login error",
	9999:  "session timeout",
}

// ProtocolError is a non-zero error_code returned by the device.
type ProtocolError struct {
	Method string
	Code   int
	Msg    string
}

func (e *ProtocolError) Error() string {
	name, ok := errorCodeNames[e.Code]
	if !ok {
		name = "unexpected error"
	}
	if e.Msg != "" {
		return fmt.Sprintf("kasa %s: %s (%d): %s", e.Method, name, e.Code, e.Msg)
	}
	return fmt.Sprintf("kasa %s: %s (%d)", e.Method, name, e.Code)
}

func (e *ProtocolError) Is(target error) bool {
	switch target {
	case ErrAuthentication:
		return e.Code == -1501
	case ErrSessionExpired:
		return e.Code == 9999
	}
	return false
}

// Decode checks the error code and unmarshals the result into v.
func (r Response) Decode(method string, v any) error {
	if r.ErrorCode != 0 {
		return &ProtocolError{Method: method, Code: r.ErrorCode, Msg: r.Msg}
	}
	if v == nil || len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
