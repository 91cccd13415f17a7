//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/device"
)

// DeviceFactory reports that go-ble has no host support on this platform (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return nil, device.NewError(device.AdapterUnavailable, fmt.Sprintf("go-ble does not support %s", runtime.GOOS), device.ErrUnsupported)
}
