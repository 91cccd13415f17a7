package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/srg/blecentral/internal/device"
)

// target is the attribute a read, write or subscribe command works on
type target struct {
	address        string
	service        uuid.UUID
	characteristic uuid.UUID
	descriptor     uuid.UUID // uuid.Nil for the characteristic value
}

// parseTarget reads <address> <service> <characteristic> and an optional descriptor
func parseTarget(args []string, descriptor string) (target, error) {
	ids, err := device.ParseUUIDs(args[1], args[2])
	if err != nil {
		return target{}, err
	}

	t := target{address: args[0], service: ids[0], characteristic: ids[1]}
	if descriptor != "" {
		t.descriptor, err = device.ParseUUID(descriptor)
		if err != nil {
			return target{}, fmt.Errorf("descriptor: %w", err)
		}
	}
	return t, nil
}

func (t target) String() string {
	s := device.ShortUUID(t.service) + "/" + device.ShortUUID(t.characteristic)
	if t.descriptor != uuid.Nil {
		s += "/" + device.ShortUUID(t.descriptor)
	}
	return s
}

// parseValue decodes a hex payload ("0a0b", "0x0a0b", "0a 0b", "0a:0b") or, with text, the literal bytes
func parseValue(s string, text bool) ([]byte, error) {
	if text {
		return []byte(s), nil
	}

	clean := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(strings.TrimPrefix(strings.ToLower(s), "0x"))
	v, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex value %q: %w", s, err)
	}
	return v, nil
}
