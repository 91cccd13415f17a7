//go:build !darwin && !windows

package tinygo

import (
	"testing"

	"github.com/srg/blecentral/internal/device"
	"github.com/stretchr/testify/assert"
	"tinygo.org/x/bluetooth"
)

func TestAcknowledgedWriteUnsupported(t *testing.T) {
	err := writeCharacteristic(bluetooth.DeviceCharacteristic{}, []byte{0x01})

	assert.ErrorIs(t, err, device.ErrUnsupported, "writes MUST NOT silently fall back to write without response")
}
