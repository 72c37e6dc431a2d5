package kasaHub

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady means the hub could not be discovered or authenticated.
	ErrNotReady           = errors.New("hub not ready")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrUnsupported        = errors.New("operation not supported by device")
	ErrInvalidTemperature = errors.New("target temperature out of range")
)

// HubError carries the failed operation and device along with its cause.
type HubError struct {
	Op       string
	DeviceId string
	Err      error
}

func (e *HubError) Error() string {
	if e.DeviceId != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.DeviceId, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *HubError) Unwrap() error {
	return e.Err
}

// notReady wraps a connection failure so that it matches ErrNotReady while
// keeping the cause.
type notReady struct {
	cause error
}

func (e *notReady) Error() string {
	return fmt.Sprintf("%v: %v", ErrNotReady, e.cause)
}

func (e *notReady) Is(target error) bool {
	return target == ErrNotReady
}

func (e *notReady) Unwrap() error {
	return e.cause
}
