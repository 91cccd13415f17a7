package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type testAddr string

func (a testAddr) String() string { return string(a) }

func TestPeripheralUpdate(t *testing.T) {
	p := NewPeripheral("id-1", testAddr("AA:BB:CC:DD:EE:FF"))
	now := time.Now()

	ev := p.Update("Sensor", -40, 4, map[uint16][]byte{76: {0x01}}, now)
	assert.Equal(t, Discovery{
		Identifier:       "id-1",
		Name:             "Sensor",
		RSSI:             -40,
		TxPower:          4,
		ManufacturerData: map[uint16][]byte{76: {0x01}},
	}, ev)

	// a nameless scan response keeps the advertised name
	ev = p.Update("", -70, 0, nil, now.Add(time.Second))
	assert.Equal(t, "Sensor", ev.Name)
	assert.Equal(t, -70, p.RSSI())
	assert.Equal(t, 0, p.TxPower())
	assert.Empty(t, p.ManufacturerData())
	assert.Equal(t, now.Add(time.Second), p.LastSeen())
}

func TestPeripheralManufacturerDataIsCopied(t *testing.T) {
	p := NewPeripheral("id-1", testAddr("AA"))
	payload := map[uint16][]byte{6: {0x02}}

	ev := p.Update("", 0, 0, payload, time.Now())
	payload[6][0] = 0xFF
	ev.ManufacturerData[6][0] = 0xEE

	assert.Equal(t, []byte{0x02}, p.ManufacturerData()[6])
}
