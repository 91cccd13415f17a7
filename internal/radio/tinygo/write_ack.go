//go:build darwin || windows

package tinygo

import "tinygo.org/x/bluetooth"

// writeCharacteristic writes with response and waits for the acknowledgement
func writeCharacteristic(c bluetooth.DeviceCharacteristic, value []byte) error {
	_, err := c.Write(value)
	return err
}
