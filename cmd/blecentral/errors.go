package main

import (
	"errors"
	"fmt"

	"github.com/srg/blecentral/internal/device"
)

// Command-level errors
var (
	// ErrDeviceNotFound indicates the scan window closed without seeing the requested address
	ErrDeviceNotFound = errors.New("device not found")

	// ErrConnectionLost indicates the link dropped while a command was still using it.
	// This is distinct from device.ErrNotConnected, which rejects a call made without a link.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns a client error into a message with a hint for the usual cause
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return fmt.Sprintf("%v\nhint: turn Bluetooth on and retry", err)
	case errors.Is(err, device.ErrAdapterUnavailable):
		return fmt.Sprintf("%v\nhint: check that a Bluetooth adapter is present, or try --backend tinygo", err)
	case errors.Is(err, device.ErrPermissionDenied):
		return fmt.Sprintf("%v\nhint: grant Bluetooth access (on Linux: sudo setcap cap_net_admin,cap_net_raw+ep $(which blecentral))", err)
	case errors.Is(err, ErrDeviceNotFound):
		return fmt.Sprintf("%v\nhint: make sure the device is advertising, or raise --scan-timeout", err)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%v\nhint: the peripheral did not answer in time; move closer or raise the timeout", err)
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v\nhint: the selected backend cannot do this; try --backend goble", err)
	case errors.Is(err, device.ErrServiceNotFound),
		errors.Is(err, device.ErrCharacteristicNotFound),
		errors.Is(err, device.ErrDescriptorNotFound):
		return fmt.Sprintf("%v\nhint: run 'blecentral inspect <address>' to list what the device exposes", err)
	default:
		return err.Error()
	}
}
