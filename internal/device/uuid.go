package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// bluetoothBaseSuffix is the tail of the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805f9b34fb).
const bluetoothBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// ParseUUID converts a GATT identifier into its 128-bit form.
// Accepts 16-bit ("2a19", "0x2A19") and 32-bit short forms, which expand
// against the Bluetooth base UUID, and full 128-bit UUIDs with or without dashes.
func ParseUUID(s string) (uuid.UUID, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	raw = strings.TrimPrefix(raw, "0x")

	switch len(raw) {
	case 0:
		return uuid.Nil, fmt.Errorf("empty UUID")
	case 4:
		raw = "0000" + raw + bluetoothBaseSuffix
	case 8:
		raw += bluetoothBaseSuffix
	}

	u, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}

// MustParseUUID is like ParseUUID but panics on malformed input
func MustParseUUID(s string) uuid.UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ParseUUIDs validates one or more identifiers, failing on the first malformed one
func ParseUUIDs(values ...string) ([]uuid.UUID, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]uuid.UUID, 0, len(values))
	for i, v := range values {
		u, err := ParseUUID(v)
		if err != nil {
			return nil, fmt.Errorf("UUID at index %d: %w", i, err)
		}
		result = append(result, u)
	}
	return result, nil
}

// ShortUUID renders SIG-assigned UUIDs in their 16- or 32-bit form and
// everything else in canonical dashed form.
func ShortUUID(u uuid.UUID) string {
	s := u.String()
	if !strings.HasSuffix(s, bluetoothBaseSuffix) {
		return s
	}
	short := strings.TrimSuffix(s, bluetoothBaseSuffix)
	if strings.HasPrefix(short, "0000") {
		return short[4:]
	}
	return short
}
