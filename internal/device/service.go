package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Property is the GATT characteristic property bitmask (Core Spec Vol 3, Part G, 3.3.1.1)
type Property uint8

const (
	PropBroadcast Property = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropSignedWrite
	PropExtended
)

var propertyNames = []struct {
	prop Property
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropSignedWrite, "signed-write"},
	{PropExtended, "extended"},
}

// Has reports whether every bit of q is set in p
func (p Property) Has(q Property) bool {
	return p&q == q
}

// String lists the set properties, comma separated
func (p Property) String() string {
	names := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if p.Has(pn.prop) {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseProperties parses a comma separated property list as produced by Property.String
func ParseProperties(s string) (Property, error) {
	var p Property
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		found := false
		for _, pn := range propertyNames {
			if pn.name == part {
				p |= pn.prop
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property %q", part)
		}
	}
	return p, nil
}

// ServiceDef describes one discovered service
type ServiceDef struct {
	UUID            uuid.UUID
	Characteristics []CharacteristicDef
}

// CharacteristicDef describes one discovered characteristic
type CharacteristicDef struct {
	UUID        uuid.UUID
	Properties  Property
	Descriptors []uuid.UUID
}

// FlatProfile lists every discovered identifier per level, in discovery order
type FlatProfile struct {
	Services        []uuid.UUID
	Characteristics []uuid.UUID
	Descriptors     []uuid.UUID
}

// FlattenServices collapses a service layout into per-level identifier lists
func FlattenServices(services []ServiceDef) FlatProfile {
	var flat FlatProfile
	for _, svc := range services {
		flat.Services = append(flat.Services, svc.UUID)
		for _, ch := range svc.Characteristics {
			flat.Characteristics = append(flat.Characteristics, ch.UUID)
			flat.Descriptors = append(flat.Descriptors, ch.Descriptors...)
		}
	}
	return flat
}
