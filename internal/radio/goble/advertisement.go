package goble

import (
	"encoding/binary"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/srg/blecentral/internal/device"
)

// txPowerAbsent is what go-ble reports when the advertisement carries no TX power level
const txPowerAbsent = 127

// toSighting converts a go-ble advertisement into a scan result
func toSighting(adv ble.Advertisement) device.Sighting {
	txPower := adv.TxPowerLevel()
	if txPower == txPowerAbsent {
		txPower = device.TxPowerUnknown
	}

	return device.Sighting{
		Address:          adv.Addr(),
		Name:             adv.LocalName(),
		RSSI:             adv.RSSI(),
		TxPower:          txPower,
		ManufacturerData: splitManufacturerData(adv.ManufacturerData()),
		Services:         toUUIDs(adv.Services()),
	}
}

// splitManufacturerData splits the raw AD payload into its little-endian company
// identifier and the data that follows it
func splitManufacturerData(raw []byte) map[uint16][]byte {
	if len(raw) < 2 {
		return nil
	}
	id := binary.LittleEndian.Uint16(raw[:2])
	return map[uint16][]byte{id: append([]byte(nil), raw[2:]...)}
}

func toUUIDs(ids []ble.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if u, err := toUUID(id); err == nil {
			out = append(out, u)
		}
	}
	return out
}

// toUUID expands go-ble's short or reversed-hex identifiers into 128-bit form
func toUUID(id ble.UUID) (uuid.UUID, error) {
	return device.ParseUUID(id.String())
}

// toServiceDefs converts a discovered go-ble profile into the service layout
func toServiceDefs(p *ble.Profile) []device.ServiceDef {
	if p == nil {
		return nil
	}

	services := make([]device.ServiceDef, 0, len(p.Services))
	for _, s := range p.Services {
		sid, err := toUUID(s.UUID)
		if err != nil {
			continue
		}
		svc := device.ServiceDef{UUID: sid}
		for _, c := range s.Characteristics {
			cid, err := toUUID(c.UUID)
			if err != nil {
				continue
			}
			ch := device.CharacteristicDef{
				UUID:       cid,
				Properties: device.Property(c.Property),
			}
			for _, d := range c.Descriptors {
				if did, err := toUUID(d.UUID); err == nil {
					ch.Descriptors = append(ch.Descriptors, did)
				}
			}
			svc.Characteristics = append(svc.Characteristics, ch)
		}
		services = append(services, svc)
	}
	return services
}

// findCharacteristic locates a characteristic of the discovered profile by identifier
func findCharacteristic(p *ble.Profile, service, characteristic uuid.UUID) (*ble.Characteristic, error) {
	if p == nil {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service.String()}}
	}
	for _, s := range p.Services {
		if sid, err := toUUID(s.UUID); err != nil || sid != service {
			continue
		}
		for _, c := range s.Characteristics {
			if cid, err := toUUID(c.UUID); err == nil && cid == characteristic {
				return c, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service.String(), characteristic.String()}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service.String()}}
}

// findDescriptor locates a descriptor of the discovered profile by identifier
func findDescriptor(p *ble.Profile, service, characteristic, descriptor uuid.UUID) (*ble.Descriptor, error) {
	c, err := findCharacteristic(p, service, characteristic)
	if err != nil {
		return nil, err
	}
	for _, d := range c.Descriptors {
		if did, err := toUUID(d.UUID); err == nil && did == descriptor {
			return d, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "descriptor", UUIDs: []string{characteristic.String(), descriptor.String()}}
}
