// Package radiotest provides an in-memory device.Radio for tests.
//
// By default the radio only records what the client asks for; tests drive link
// state and completions explicitly. WithProfile switches it to auto-respond mode,
// where connects succeed and GATT requests are answered from a simulated peripheral.
package radiotest

import (
	"errors"
	"sync"
	"time"

	"github.com/srg/blecentral/internal/device"
)

// Address is a fixed hardware address for simulated peripherals
type Address string

func (a Address) String() string {
	return string(a)
}

// Radio is a scriptable device.Radio
type Radio struct {
	mu        sync.Mutex
	available bool
	scanning  bool
	handler   func(device.Sighting)
	profile   *Profile
	ads       []device.Sighting
	closed    bool

	connects    []device.Address
	link        uint64
	disconnects int

	events   chan device.Event
	requests chan device.Request

	// Errors returned by the matching calls when set
	StartScanErr error
	ConnectErr   error
	SubmitErr    error
}

// New creates an available radio in manual mode
func New() *Radio {
	return &Radio{
		available: true,
		events:    make(chan device.Event, 256),
		requests:  make(chan device.Request, 256),
	}
}

// WithProfile makes the radio answer link and GATT requests from p
func (r *Radio) WithProfile(p *Profile) *Radio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profile = p
	return r
}

// Advertise makes every scan start report the given sightings
func (r *Radio) Advertise(sightings ...device.Sighting) *Radio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ads = append(r.ads, sightings...)
	return r
}

func (r *Radio) SetAvailable(available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available = available
}

func (r *Radio) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available
}

func (r *Radio) StartScan(handler func(device.Sighting)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartScanErr != nil {
		return r.StartScanErr
	}
	r.handler = handler
	r.scanning = true

	if len(r.ads) > 0 {
		ads := append([]device.Sighting(nil), r.ads...)
		go func() {
			for _, s := range ads {
				r.Sight(s)
			}
		}()
	}
	return nil
}

func (r *Radio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = nil
	r.scanning = false
	return nil
}

func (r *Radio) Connect(link uint64, addr device.Address) error {
	r.mu.Lock()
	if r.ConnectErr != nil {
		r.mu.Unlock()
		return r.ConnectErr
	}
	r.connects = append(r.connects, addr)
	r.link = link
	auto := r.profile != nil
	r.mu.Unlock()

	if auto {
		r.Emit(device.Event{Kind: device.EventLinkUp, Link: link})
	}
	return nil
}

func (r *Radio) Disconnect() error {
	r.mu.Lock()
	r.disconnects++
	auto := r.profile != nil
	link := r.link
	r.mu.Unlock()

	if auto {
		r.Emit(device.Event{Kind: device.EventLinkDown, Link: link})
	}
	return nil
}

func (r *Radio) Submit(req device.Request) error {
	r.mu.Lock()
	if r.SubmitErr != nil {
		r.mu.Unlock()
		return r.SubmitErr
	}
	profile := r.profile
	r.mu.Unlock()

	select {
	case r.requests <- req:
	default:
	}
	if profile != nil {
		r.Emit(profile.respond(req))
	}
	return nil
}

func (r *Radio) Events() <-chan device.Event {
	return r.events
}

func (r *Radio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.events)
	return nil
}

// Scanning reports whether a scan is running
func (r *Radio) Scanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanning
}

// Sight delivers a scan result if a scan is running
func (r *Radio) Sight(s device.Sighting) bool {
	r.mu.Lock()
	handler := r.handler
	r.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(s)
	return true
}

// Emit pushes an event to the client; events after Close are dropped
func (r *Radio) Emit(ev device.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.events <- ev
}

// Link returns the link id of the latest Connect
func (r *Radio) Link() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link
}

// LinkUp reports the latest connect attempt as established
func (r *Radio) LinkUp() {
	r.Emit(device.Event{Kind: device.EventLinkUp, Link: r.Link()})
}

func (r *Radio) LinkFailed(err error) {
	if err == nil {
		err = errors.New("connection failed")
	}
	r.Emit(device.Event{Kind: device.EventLinkFailed, Link: r.Link(), Err: err})
}

// LinkDown reports the latest link closed; a nil err marks a locally requested disconnect
func (r *Radio) LinkDown(err error) {
	r.Emit(device.Event{Kind: device.EventLinkDown, Link: r.Link(), Err: err})
}

func (r *Radio) Complete(req device.Request, value []byte) {
	r.Emit(device.Event{Kind: device.EventCompleted, Token: req.Token, Value: value})
}

func (r *Radio) CompleteDiscovery(req device.Request, services []device.ServiceDef) {
	r.Emit(device.Event{Kind: device.EventCompleted, Token: req.Token, Services: services})
}

func (r *Radio) Fail(req device.Request, err error) {
	r.Emit(device.Event{Kind: device.EventCompleted, Token: req.Token, Err: err})
}

func (r *Radio) Notify(characteristic string, value []byte) {
	r.Emit(device.Event{
		Kind:           device.EventValueChanged,
		Characteristic: device.MustParseUUID(characteristic),
		Value:          value,
	})
}

// NextRequest waits for the next submitted GATT request
func (r *Radio) NextRequest(timeout time.Duration) (device.Request, bool) {
	select {
	case req := <-r.requests:
		return req, true
	case <-time.After(timeout):
		return device.Request{}, false
	}
}

// PendingRequests returns the number of submitted requests not yet taken by NextRequest
func (r *Radio) PendingRequests() int {
	return len(r.requests)
}

func (r *Radio) Connects() []device.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.Address(nil), r.connects...)
}

func (r *Radio) Disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects
}
