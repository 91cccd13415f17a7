package device

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TxPowerUnknown is the sentinel radios report when an advertisement carries no TX power level
const TxPowerUnknown = math.MinInt32

// Address is the platform-owned hardware address of a peripheral.
// Backends hand out their own address values; the client only compares and prints them.
type Address interface {
	String() string
}

// Sighting is a single scan result as reported by the radio
type Sighting struct {
	Address          Address
	Name             string
	RSSI             int
	TxPower          int // TxPowerUnknown when absent
	ManufacturerData map[uint16][]byte
	Services         []uuid.UUID
}

// Discovery is the event emitted for every accepted sighting
type Discovery struct {
	Identifier       string
	Name             string
	RSSI             int
	TxPower          int
	ManufacturerData map[uint16][]byte
}

// Peripheral is a device seen during the active scan session.
// Identifier is assigned on first sighting and stays stable until the session ends.
type Peripheral struct {
	identifier string
	address    Address

	mu               sync.RWMutex
	name             string
	rssi             int
	txPower          int
	manufacturerData map[uint16][]byte
	lastSeen         time.Time
}

// NewPeripheral creates a record for a first sighting under the given identifier
func NewPeripheral(identifier string, addr Address) *Peripheral {
	return &Peripheral{
		identifier:       identifier,
		address:          addr,
		manufacturerData: make(map[uint16][]byte),
	}
}

func (p *Peripheral) Identifier() string {
	return p.identifier
}

func (p *Peripheral) Address() Address {
	return p.address
}

func (p *Peripheral) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

func (p *Peripheral) RSSI() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rssi
}

func (p *Peripheral) TxPower() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.txPower
}

func (p *Peripheral) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}

// ManufacturerData returns a copy of the last forwarded manufacturer data
func (p *Peripheral) ManufacturerData() map[uint16][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneManufacturerData(p.manufacturerData)
}

// Update overwrites the mutable fields with the latest sighting and returns the resulting event.
// A sighting without a name keeps the previously advertised one.
func (p *Peripheral) Update(name string, rssi, txPower int, manufacturerData map[uint16][]byte, seen time.Time) Discovery {
	p.mu.Lock()
	defer p.mu.Unlock()

	if name != "" {
		p.name = name
	}
	p.rssi = rssi
	p.txPower = txPower
	p.manufacturerData = cloneManufacturerData(manufacturerData)
	p.lastSeen = seen

	return Discovery{
		Identifier:       p.identifier,
		Name:             p.name,
		RSSI:             p.rssi,
		TxPower:          p.txPower,
		ManufacturerData: cloneManufacturerData(p.manufacturerData),
	}
}

func cloneManufacturerData(src map[uint16][]byte) map[uint16][]byte {
	dst := make(map[uint16][]byte, len(src))
	for id, data := range src {
		dst[id] = append([]byte(nil), data...)
	}
	return dst
}
