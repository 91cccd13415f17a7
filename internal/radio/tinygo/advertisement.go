package tinygo

import (
	"github.com/google/uuid"
	"github.com/srg/blecentral/internal/device"
	"tinygo.org/x/bluetooth"
)

// toSighting converts a tinygo scan result. tinygo exposes no TX power level
// and no service list on its advertisement payload, so both stay unset.
func toSighting(result bluetooth.ScanResult) device.Sighting {
	s := device.Sighting{
		Address: result.Address,
		RSSI:    int(result.RSSI),
		TxPower: device.TxPowerUnknown,
	}
	if result.AdvertisementPayload == nil {
		return s
	}

	s.Name = result.LocalName()
	for _, el := range result.ManufacturerData() {
		if s.ManufacturerData == nil {
			s.ManufacturerData = make(map[uint16][]byte)
		}
		s.ManufacturerData[el.CompanyID] = append([]byte(nil), el.Data...)
	}
	return s
}

func toUUID(id bluetooth.UUID) (uuid.UUID, error) {
	return uuid.Parse(id.String())
}
