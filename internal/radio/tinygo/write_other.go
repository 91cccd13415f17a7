//go:build !darwin && !windows

package tinygo

import (
	"fmt"

	"github.com/srg/blecentral/internal/device"
	"tinygo.org/x/bluetooth"
)

// writeCharacteristic fails: the BlueZ backend only offers writes without response
func writeCharacteristic(bluetooth.DeviceCharacteristic, []byte) error {
	return fmt.Errorf("acknowledged write: %w", device.ErrUnsupported)
}
