package radiotest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/srg/blecentral/internal/device"
)

// DescriptorConfig is a descriptor in a JSON peripheral profile
type DescriptorConfig struct {
	UUID  string `json:"uuid"`
	Value []int  `json:"value,omitempty"`
}

// CharacteristicConfig is a characteristic in a JSON peripheral profile
type CharacteristicConfig struct {
	UUID        string             `json:"uuid"`
	Properties  string             `json:"properties,omitempty"` // e.g. "read,write,notify"
	Value       []int              `json:"value,omitempty"`
	Descriptors []DescriptorConfig `json:"descriptors,omitempty"`
}

// ServiceConfig is a service in a JSON peripheral profile
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// ProfileConfig is a complete JSON peripheral profile
type ProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

type valueKey struct {
	service, characteristic, descriptor uuid.UUID
}

// Profile is the GATT database of a simulated peripheral.
// It answers discovery, reads and writes for a Radio in auto-respond mode.
type Profile struct {
	mu       sync.Mutex
	services []device.ServiceDef
	values   map[valueKey][]byte
	notify   map[uuid.UUID]bool
}

// NewProfile creates an empty profile
func NewProfile() *Profile {
	return &Profile{
		values: make(map[valueKey][]byte),
		notify: make(map[uuid.UUID]bool),
	}
}

// WithService adds a service
func (p *Profile) WithService(id string) *Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services = append(p.services, device.ServiceDef{UUID: device.MustParseUUID(id)})
	return p
}

// WithCharacteristic adds a characteristic to the last added service
func (p *Profile) WithCharacteristic(id, properties string, value []byte) *Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	props, err := device.ParseProperties(properties)
	if err != nil {
		panic(fmt.Sprintf("WithCharacteristic: %v", err))
	}

	svc := &p.services[len(p.services)-1]
	ch := device.CharacteristicDef{UUID: device.MustParseUUID(id), Properties: props}
	svc.Characteristics = append(svc.Characteristics, ch)
	p.values[valueKey{service: svc.UUID, characteristic: ch.UUID}] = append([]byte(nil), value...)
	return p
}

// WithDescriptor adds a descriptor to the last added characteristic
func (p *Profile) WithDescriptor(id string, value []byte) *Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.services) == 0 || len(p.services[len(p.services)-1].Characteristics) == 0 {
		panic("WithDescriptor: no characteristic added yet, call WithCharacteristic first")
	}

	svc := &p.services[len(p.services)-1]
	ch := &svc.Characteristics[len(svc.Characteristics)-1]
	d := device.MustParseUUID(id)
	ch.Descriptors = append(ch.Descriptors, d)
	p.values[valueKey{service: svc.UUID, characteristic: ch.UUID, descriptor: d}] = append([]byte(nil), value...)
	return p
}

// FromJSON replaces the profile with one described in JSON
func (p *Profile) FromJSON(jsonStrFmt string, args ...interface{}) *Profile {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config ProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("Profile.FromJSON: failed to unmarshal: %v", err))
	}

	fresh := NewProfile()
	for _, sc := range config.Services {
		fresh.WithService(sc.UUID)
		for _, cc := range sc.Characteristics {
			fresh.WithCharacteristic(cc.UUID, cc.Properties, toBytes(cc.Value))
			for _, dc := range cc.Descriptors {
				fresh.WithDescriptor(dc.UUID, toBytes(dc.Value))
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.services = fresh.services
	p.values = fresh.values
	p.notify = fresh.notify
	return p
}

// Services returns a copy of the layout
func (p *Profile) Services() []device.ServiceDef {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]device.ServiceDef, len(p.services))
	for i, svc := range p.services {
		out[i] = device.ServiceDef{UUID: svc.UUID}
		for _, ch := range svc.Characteristics {
			ch.Descriptors = append([]uuid.UUID(nil), ch.Descriptors...)
			out[i].Characteristics = append(out[i].Characteristics, ch)
		}
	}
	return out
}

// Value returns the stored value of a characteristic (zero descriptor) or descriptor
func (p *Profile) Value(service, characteristic, descriptor uuid.UUID) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[valueKey{service, characteristic, descriptor}]
	return append([]byte(nil), v...), ok
}

// NotifyEnabled reports the last notification configuration written for characteristic
func (p *Profile) NotifyEnabled(characteristic uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notify[characteristic]
}

// respond executes req against the database
func (p *Profile) respond(req device.Request) device.Event {
	ev := device.Event{Kind: device.EventCompleted, Token: req.Token}

	if req.Op == device.OpDiscover {
		ev.Services = p.Services()
		return ev
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := valueKey{service: req.Service, characteristic: req.Characteristic}
	if req.Op == device.OpReadDescriptor || req.Op == device.OpWriteDescriptor {
		key.descriptor = req.Descriptor
	}
	current, ok := p.values[key]
	if !ok {
		ev.Err = fmt.Errorf("attribute not found: %s", req.Characteristic)
		return ev
	}

	switch req.Op {
	case device.OpReadCharacteristic, device.OpReadDescriptor:
		ev.Value = append([]byte(nil), current...)
	case device.OpWriteCharacteristic, device.OpWriteDescriptor:
		p.values[key] = append([]byte(nil), req.Value...)
	case device.OpSetNotify:
		p.notify[req.Characteristic] = req.Enable
	}
	return ev
}

func toBytes(values []int) []byte {
	if values == nil {
		return nil
	}
	out := make([]byte, len(values))
	for i, v := range values {
		out[i] = byte(v)
	}
	return out
}
