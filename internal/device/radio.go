package device

import (
	"fmt"

	"github.com/google/uuid"
)

// OpKind names a GATT request/response operation
type OpKind int

const (
	OpDiscover OpKind = iota
	OpReadCharacteristic
	OpWriteCharacteristic
	OpReadDescriptor
	OpWriteDescriptor
	OpSetNotify
)

func (k OpKind) String() string {
	switch k {
	case OpDiscover:
		return "discover"
	case OpReadCharacteristic:
		return "read_characteristic"
	case OpWriteCharacteristic:
		return "write_characteristic"
	case OpReadDescriptor:
		return "read_descriptor"
	case OpWriteDescriptor:
		return "write_descriptor"
	case OpSetNotify:
		return "set_notify"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// FailureKind is the error kind a failed or timed-out operation of this kind resolves with
func (k OpKind) FailureKind() Kind {
	switch k {
	case OpDiscover:
		return DiscoveryFailed
	case OpReadCharacteristic, OpReadDescriptor:
		return ReadFailed
	default:
		return WriteFailed
	}
}

// Request is a single GATT operation handed to the radio.
// The radio echoes Token in the matching EventCompleted.
type Request struct {
	Token          uint64
	Op             OpKind
	Service        uuid.UUID
	Characteristic uuid.UUID
	Descriptor     uuid.UUID
	Value          []byte
	Enable         bool // OpSetNotify only
}

// EventKind classifies events pushed by the radio
type EventKind int

const (
	EventLinkUp EventKind = iota
	EventLinkFailed
	EventLinkDown
	EventCompleted
	EventValueChanged
)

func (k EventKind) String() string {
	switch k {
	case EventLinkUp:
		return "link_up"
	case EventLinkFailed:
		return "link_failed"
	case EventLinkDown:
		return "link_down"
	case EventCompleted:
		return "completed"
	case EventValueChanged:
		return "value_changed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is an asynchronous notification from the radio
type Event struct {
	Kind           EventKind
	Link           uint64       // EventLinkUp, EventLinkFailed, EventLinkDown
	Token          uint64       // EventCompleted
	Err            error        // EventLinkFailed, EventLinkDown, EventCompleted
	Value          []byte       // EventCompleted (reads), EventValueChanged
	Services       []ServiceDef // EventCompleted (discovery)
	Characteristic uuid.UUID    // EventValueChanged
}

// Radio is the platform radio stack.
//
// Scan results are pushed to the handler given to StartScan. Link state changes,
// GATT completions and characteristic value changes arrive on Events in the order
// the platform produced them. Connect, Disconnect and Submit return once the request
// is accepted; their outcome is delivered as an event. The radio supports exactly one
// in-flight GATT request.
//
// Every link event carries the link id given to the Connect that started the attempt.
// A dial cancelled by Disconnect never reports LinkUp; if it completes anyway the
// radio drops the link and reports LinkFailed for that id.
type Radio interface {
	Available() bool
	StartScan(handler func(Sighting)) error
	StopScan() error
	Connect(link uint64, addr Address) error
	Disconnect() error
	Submit(req Request) error
	Events() <-chan Event
	Close() error
}
