// Package tinygo implements the radio on top of tinygo.org/x/bluetooth
// (BlueZ over D-Bus on Linux, CoreBluetooth on macOS, WinRT on Windows).
//
// The library has no descriptor access, so descriptor requests complete
// with an unsupported error. Acknowledged characteristic writes exist only on
// macOS and Windows; elsewhere they complete with an unsupported error too.
package tinygo

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
	"tinygo.org/x/bluetooth"
)

// maxAttributeValue is the largest value an ATT read can return
const maxAttributeValue = 512

// DefaultEventBuffer is the capacity of the event channel handed to the client
const DefaultEventBuffer = 256

// link is one connection and the characteristics found on it
type link struct {
	id        uint64
	dev       bluetooth.Device
	addr      string
	chars     map[uuid.UUID]map[uuid.UUID]bluetooth.DeviceCharacteristic
	cancelled bool
}

// Radio adapts a tinygo adapter to device.Radio
type Radio struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Logger

	events  chan device.Event
	closing chan struct{}
	workers groutine.Group

	emitMu       sync.RWMutex
	eventsClosed bool

	mu       sync.Mutex
	closed   bool
	scanning bool
	dialing  *link
	current  *link
}

// New enables the default adapter
func New(logger *logrus.Logger) (*Radio, error) {
	if logger == nil {
		logger = logrus.New()
	}

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, device.NewError(device.AdapterUnavailable, "enabling adapter", err)
	}

	r := &Radio{
		adapter: adapter,
		logger:  logger,
		events:  make(chan device.Event, DefaultEventBuffer),
		closing: make(chan struct{}),
	}
	adapter.SetConnectHandler(r.onConnectChange)
	return r, nil
}

func (r *Radio) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

func (r *Radio) Events() <-chan device.Event {
	return r.events
}

func (r *Radio) emit(ev device.Event) {
	r.emitMu.RLock()
	defer r.emitMu.RUnlock()
	if r.eventsClosed {
		return
	}
	select {
	case r.events <- ev:
	case <-r.closing:
	}
}

// StartScan runs the adapter scan until StopScan
func (r *Radio) StartScan(handler func(device.Sighting)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return device.NewError(device.AdapterUnavailable, "radio closed", nil)
	}
	if r.scanning {
		return device.NewError(device.AlreadyScanning, "", nil)
	}
	r.scanning = true

	r.workers.Go(context.Background(), "tinygo-scan", func(context.Context) {
		err := r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			handler(toSighting(result))
		})

		r.mu.Lock()
		r.scanning = false
		r.mu.Unlock()

		if err != nil {
			r.logger.WithField("error", err).Error("Scan stopped")
		}
	})
	return nil
}

func (r *Radio) StopScan() error {
	r.mu.Lock()
	scanning := r.scanning
	r.mu.Unlock()

	if !scanning {
		return nil
	}
	return r.adapter.StopScan()
}

// Connect dials addr in the background and reports the outcome as a link event for id.
// tinygo connects cannot be interrupted, so a Disconnect during the dial drops the
// link once it comes up.
func (r *Radio) Connect(id uint64, addr device.Address) error {
	if addr == nil {
		return device.NewError(device.ConnectionFailed, "missing address", nil)
	}

	target, ok := addr.(bluetooth.Address)
	if !ok {
		target.Set(addr.String())
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return device.NewError(device.AdapterUnavailable, "radio closed", nil)
	}
	if r.current != nil || r.dialing != nil {
		r.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	l := &link{id: id, addr: target.String()}
	r.dialing = l
	r.mu.Unlock()

	logger := r.logger.WithFields(logrus.Fields{
		"address": l.addr,
		"link":    id,
	})
	r.workers.Go(context.Background(), "tinygo-dial", func(context.Context) {
		dev, err := r.adapter.Connect(target, bluetooth.ConnectionParams{})

		r.mu.Lock()
		if r.dialing == l {
			r.dialing = nil
		}
		if err != nil {
			r.mu.Unlock()
			logger.WithField("error", err).Debug("Dial failed")
			r.emit(device.Event{Kind: device.EventLinkFailed, Link: id, Err: err})
			return
		}
		if l.cancelled || r.closed {
			r.mu.Unlock()
			logger.Debug("Dropping link of a cancelled dial")
			if derr := dev.Disconnect(); derr != nil {
				logger.WithField("error", derr).Debug("Disconnect failed")
			}
			r.emit(device.Event{Kind: device.EventLinkFailed, Link: id, Err: context.Canceled})
			return
		}
		l.dev = dev
		r.current = l
		r.mu.Unlock()

		logger.Debug("Link established")
		r.emit(device.Event{Kind: device.EventLinkUp, Link: id})
	})
	return nil
}

// onConnectChange reports links dropped by either side
func (r *Radio) onConnectChange(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}

	r.mu.Lock()
	l := r.current
	if l == nil || l.addr != dev.Address.String() {
		r.mu.Unlock()
		return
	}
	r.current = nil
	r.mu.Unlock()

	r.emit(device.Event{Kind: device.EventLinkDown, Link: l.id})
}

func (r *Radio) Disconnect() error {
	r.mu.Lock()
	if r.dialing != nil {
		r.dialing.cancelled = true
		r.dialing = nil
		r.mu.Unlock()
		return nil
	}
	l := r.current
	r.mu.Unlock()

	if l == nil {
		return device.NewError(device.NotConnected, "", nil)
	}

	r.workers.Go(context.Background(), "tinygo-disconnect", func(context.Context) {
		if err := l.dev.Disconnect(); err != nil {
			r.logger.WithField("error", err).Warn("Disconnect failed")
			return
		}
		// not every platform fires the connect handler for local disconnects
		r.onConnectChange(l.dev, false)
	})
	return nil
}

// Submit runs req against the current link and reports it as EventCompleted
func (r *Radio) Submit(req device.Request) error {
	r.mu.Lock()
	l := r.current
	r.mu.Unlock()

	if l == nil {
		return device.NewError(device.NotConnected, "", nil)
	}

	r.workers.Go(context.Background(), "tinygo-gatt", func(context.Context) {
		ev := r.execute(l, req)
		ev.Kind = device.EventCompleted
		ev.Token = req.Token
		r.emit(ev)
	})
	return nil
}

func (r *Radio) execute(l *link, req device.Request) device.Event {
	switch req.Op {
	case device.OpDiscover:
		services, err := r.discover(l)
		return device.Event{Services: services, Err: err}

	case device.OpReadCharacteristic:
		c, err := r.characteristic(l, req.Service, req.Characteristic)
		if err != nil {
			return device.Event{Err: err}
		}
		buf := make([]byte, maxAttributeValue)
		n, err := c.Read(buf)
		if err != nil {
			return device.Event{Err: err}
		}
		return device.Event{Value: buf[:n]}

	case device.OpWriteCharacteristic:
		c, err := r.characteristic(l, req.Service, req.Characteristic)
		if err != nil {
			return device.Event{Err: err}
		}
		return device.Event{Err: writeCharacteristic(c, req.Value)}

	case device.OpSetNotify:
		c, err := r.characteristic(l, req.Service, req.Characteristic)
		if err != nil {
			return device.Event{Err: err}
		}
		if !req.Enable {
			return device.Event{Err: c.EnableNotifications(nil)}
		}
		id := req.Characteristic
		return device.Event{Err: c.EnableNotifications(func(buf []byte) {
			r.emit(device.Event{
				Kind:           device.EventValueChanged,
				Characteristic: id,
				Value:          append([]byte(nil), buf...),
			})
		})}

	case device.OpReadDescriptor, device.OpWriteDescriptor:
		return device.Event{Err: fmt.Errorf("descriptor access: %w", device.ErrUnsupported)}

	default:
		return device.Event{Err: device.ErrUnsupported}
	}
}

// discover walks every service and characteristic and caches the handles on the link
func (r *Radio) discover(l *link) ([]device.ServiceDef, error) {
	services, err := l.dev.DiscoverServices(nil)
	if err != nil {
		return nil, err
	}

	chars := make(map[uuid.UUID]map[uuid.UUID]bluetooth.DeviceCharacteristic, len(services))
	defs := make([]device.ServiceDef, 0, len(services))
	for _, svc := range services {
		sid, err := toUUID(svc.UUID())
		if err != nil {
			continue
		}
		found, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, err
		}

		def := device.ServiceDef{UUID: sid}
		byID := make(map[uuid.UUID]bluetooth.DeviceCharacteristic, len(found))
		for _, c := range found {
			cid, err := toUUID(c.UUID())
			if err != nil {
				continue
			}
			byID[cid] = c
			def.Characteristics = append(def.Characteristics, device.CharacteristicDef{UUID: cid})
		}
		chars[sid] = byID
		defs = append(defs, def)
	}

	r.mu.Lock()
	l.chars = chars
	r.mu.Unlock()

	r.logger.WithField("services", len(defs)).Debug("Discovery finished")
	return defs, nil
}

func (r *Radio) characteristic(l *link, service, characteristic uuid.UUID) (bluetooth.DeviceCharacteristic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := l.chars[service]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, &device.NotFoundError{Resource: "service", UUIDs: []string{service.String()}}
	}
	c, ok := byID[characteristic]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service.String(), characteristic.String()}}
	}
	return c, nil
}

// Close stops scanning and drops the link. The adapter itself stays enabled.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	scanning := r.scanning
	l := r.current
	r.current = nil
	if r.dialing != nil {
		r.dialing.cancelled = true
		r.dialing = nil
	}
	r.mu.Unlock()

	if scanning {
		_ = r.adapter.StopScan()
	}
	if l != nil {
		if err := l.dev.Disconnect(); err != nil {
			r.logger.WithField("error", err).Debug("Disconnect during close failed")
		}
	}

	close(r.closing)
	r.workers.Wait()

	r.emitMu.Lock()
	r.eventsClosed = true
	close(r.events)
	r.emitMu.Unlock()
	return nil
}
