package gatt

import (
	"github.com/google/uuid"
	"github.com/srg/blecentral/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Characteristic is a discovered characteristic and its descriptors, in discovery order
type Characteristic struct {
	UUID        uuid.UUID
	Properties  device.Property
	descriptors *orderedmap.OrderedMap[uuid.UUID, struct{}]
}

// HasDescriptor reports whether the characteristic carries descriptor id
func (c *Characteristic) HasDescriptor(id uuid.UUID) bool {
	_, ok := c.descriptors.Get(id)
	return ok
}

// Service is a discovered service and its characteristics, in discovery order
type Service struct {
	UUID            uuid.UUID
	characteristics *orderedmap.OrderedMap[uuid.UUID, *Characteristic]
}

// Characteristic looks up a characteristic of this service
func (s *Service) Characteristic(id uuid.UUID) (*Characteristic, bool) {
	return s.characteristics.Get(id)
}

// Tree is the immutable result of one successful discovery.
// Identifiers are unique within their parent; later duplicates are dropped.
type Tree struct {
	services *orderedmap.OrderedMap[uuid.UUID, *Service]
}

// NewTree builds a tree from a discovered service layout
func NewTree(defs []device.ServiceDef) *Tree {
	services := orderedmap.New[uuid.UUID, *Service]()
	for _, sd := range defs {
		if _, dup := services.Get(sd.UUID); dup {
			continue
		}

		svc := &Service{
			UUID:            sd.UUID,
			characteristics: orderedmap.New[uuid.UUID, *Characteristic](),
		}
		for _, cd := range sd.Characteristics {
			if _, dup := svc.characteristics.Get(cd.UUID); dup {
				continue
			}
			ch := &Characteristic{
				UUID:        cd.UUID,
				Properties:  cd.Properties,
				descriptors: orderedmap.New[uuid.UUID, struct{}](),
			}
			for _, d := range cd.Descriptors {
				ch.descriptors.Set(d, struct{}{})
			}
			svc.characteristics.Set(cd.UUID, ch)
		}
		services.Set(sd.UUID, svc)
	}
	return &Tree{services: services}
}

// Len returns the number of services
func (t *Tree) Len() int {
	return t.services.Len()
}

// Service resolves a service id
func (t *Tree) Service(id uuid.UUID) (*Service, error) {
	svc, ok := t.services.Get(id)
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{id.String()}}
	}
	return svc, nil
}

// ResolveCharacteristic resolves service then characteristic
func (t *Tree) ResolveCharacteristic(service, characteristic uuid.UUID) (*Characteristic, error) {
	svc, err := t.Service(service)
	if err != nil {
		return nil, err
	}
	ch, ok := svc.Characteristic(characteristic)
	if !ok {
		return nil, &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{service.String(), characteristic.String()},
		}
	}
	return ch, nil
}

// ResolveDescriptor resolves service, characteristic then descriptor
func (t *Tree) ResolveDescriptor(service, characteristic, descriptor uuid.UUID) error {
	ch, err := t.ResolveCharacteristic(service, characteristic)
	if err != nil {
		return err
	}
	if !ch.HasDescriptor(descriptor) {
		return &device.NotFoundError{
			Resource: "descriptor",
			UUIDs:    []string{service.String(), characteristic.String(), descriptor.String()},
		}
	}
	return nil
}

// Snapshot returns a deep copy of the layout in discovery order
func (t *Tree) Snapshot() []device.ServiceDef {
	out := make([]device.ServiceDef, 0, t.services.Len())
	for sp := t.services.Oldest(); sp != nil; sp = sp.Next() {
		svc := sp.Value
		sd := device.ServiceDef{UUID: svc.UUID}
		for cp := svc.characteristics.Oldest(); cp != nil; cp = cp.Next() {
			ch := cp.Value
			cd := device.CharacteristicDef{UUID: ch.UUID, Properties: ch.Properties}
			for dp := ch.descriptors.Oldest(); dp != nil; dp = dp.Next() {
				cd.Descriptors = append(cd.Descriptors, dp.Key)
			}
			sd.Characteristics = append(sd.Characteristics, cd)
		}
		out = append(out, sd)
	}
	return out
}
