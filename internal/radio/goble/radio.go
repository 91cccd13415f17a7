// Package goble implements the radio on top of github.com/go-ble/ble
// (HCI sockets on Linux, CoreBluetooth on macOS).
package goble

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

// DefaultEventBuffer is the capacity of the event channel handed to the client
const DefaultEventBuffer = 256

// dial is a connect attempt that has not completed yet
type dial struct {
	link   uint64
	cancel context.CancelFunc
}

// Radio adapts a go-ble device to device.Radio
type Radio struct {
	dev    ble.Device
	logger *logrus.Logger

	events  chan device.Event
	closing chan struct{}
	workers groutine.Group

	emitMu       sync.RWMutex
	eventsClosed bool

	mu         sync.Mutex
	closed     bool
	scanCancel context.CancelFunc
	dialing    *dial
	client     ble.Client
	profile    *ble.Profile
}

// New opens the host adapter through DeviceFactory
func New(logger *logrus.Logger) (*Radio, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, device.Wrap(device.AdapterUnavailable, NormalizeError(err))
	}
	return NewWithDevice(dev, logger), nil
}

// NewWithDevice wraps an already opened go-ble device
func NewWithDevice(dev ble.Device, logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{
		dev:     dev,
		logger:  logger,
		events:  make(chan device.Event, DefaultEventBuffer),
		closing: make(chan struct{}),
	}
}

func (r *Radio) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dev != nil && !r.closed
}

func (r *Radio) Events() <-chan device.Event {
	return r.events
}

// emit delivers ev unless the radio is shutting down
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

// StartScan runs a duplicate-reporting scan until StopScan.
// go-ble scans block, so errors after start are logged rather than returned.
func (r *Radio) StartScan(handler func(device.Sighting)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return device.NewError(device.AdapterUnavailable, "radio closed", nil)
	}
	if r.scanCancel != nil {
		return device.NewError(device.AlreadyScanning, "", nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.scanCancel = cancel

	r.workers.Go(ctx, "goble-scan", func(ctx context.Context) {
		err := r.dev.Scan(ctx, true, func(adv ble.Advertisement) {
			handler(toSighting(adv))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.WithField("error", NormalizeError(err)).Error("Scan stopped")
		}
	})
	return nil
}

func (r *Radio) StopScan() error {
	r.mu.Lock()
	cancel := r.scanCancel
	r.scanCancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Connect dials addr in the background and reports the outcome as a link event for link.
// A dial cancelled by Disconnect that still succeeds is closed again and reported as failed.
func (r *Radio) Connect(link uint64, addr device.Address) error {
	if addr == nil {
		return device.NewError(device.ConnectionFailed, "missing address", nil)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return device.NewError(device.AdapterUnavailable, "radio closed", nil)
	}
	if r.client != nil || r.dialing != nil {
		r.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &dial{link: link, cancel: cancel}
	r.dialing = d
	r.mu.Unlock()

	bleAddr, ok := addr.(ble.Addr)
	if !ok {
		bleAddr = ble.NewAddr(addr.String())
	}

	logger := r.logger.WithFields(logrus.Fields{
		"address": addr.String(),
		"link":    link,
	})
	r.workers.Go(ctx, "goble-dial", func(ctx context.Context) {
		client, err := r.dev.Dial(ctx, bleAddr)

		r.mu.Lock()
		current := r.dialing == d
		if current {
			r.dialing = nil
		}
		if err != nil {
			r.mu.Unlock()
			cancel()
			logger.WithField("error", err).Debug("Dial failed")
			r.emit(device.Event{Kind: device.EventLinkFailed, Link: link, Err: NormalizeError(err)})
			return
		}
		if !current || r.closed {
			r.mu.Unlock()
			cancel()
			logger.Debug("Dropping link of a cancelled dial")
			if cerr := client.CancelConnection(); cerr != nil {
				logger.WithField("error", NormalizeError(cerr)).Debug("Cancel connection failed")
			}
			r.emit(device.Event{Kind: device.EventLinkFailed, Link: link, Err: context.Canceled})
			return
		}
		r.client = client
		r.profile = nil
		r.mu.Unlock()

		logger.Debug("Link established")
		r.emit(device.Event{Kind: device.EventLinkUp, Link: link})
		r.watch(client, link)
	})
	return nil
}

// watch reports the link going down, whichever side closed it
func (r *Radio) watch(client ble.Client, link uint64) {
	watcher, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		r.logger.Debug("Client does not report disconnection")
		return
	}

	r.workers.Go(context.Background(), "goble-link-monitor", func(context.Context) {
		select {
		case <-watcher.Disconnected():
		case <-r.closing:
			return
		}

		r.mu.Lock()
		if r.client == client {
			r.client = nil
			r.profile = nil
		}
		r.mu.Unlock()

		r.emit(device.Event{Kind: device.EventLinkDown, Link: link})
	})
}

// Disconnect cancels a pending dial or tears the current link down
func (r *Radio) Disconnect() error {
	r.mu.Lock()
	client := r.client
	d := r.dialing
	r.dialing = nil
	r.mu.Unlock()

	if d != nil {
		d.cancel()
		return nil
	}
	if client == nil {
		return device.NewError(device.NotConnected, "", nil)
	}

	r.workers.Go(context.Background(), "goble-disconnect", func(context.Context) {
		if err := client.CancelConnection(); err != nil {
			r.logger.WithField("error", NormalizeError(err)).Warn("Cancel connection failed")
		}
	})
	return nil
}

// Submit runs req against the connected client and reports it as EventCompleted
func (r *Radio) Submit(req device.Request) error {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()

	if client == nil {
		return device.NewError(device.NotConnected, "", nil)
	}

	r.workers.Go(context.Background(), "goble-gatt", func(context.Context) {
		ev := r.execute(client, req)
		ev.Kind = device.EventCompleted
		ev.Token = req.Token
		r.emit(ev)
	})
	return nil
}

func (r *Radio) execute(client ble.Client, req device.Request) device.Event {
	if req.Op == device.OpDiscover {
		p, err := client.DiscoverProfile(true)
		if err != nil {
			return device.Event{Err: NormalizeError(err)}
		}
		r.mu.Lock()
		r.profile = p
		r.mu.Unlock()
		return device.Event{Services: toServiceDefs(p)}
	}

	r.mu.Lock()
	p := r.profile
	r.mu.Unlock()

	switch req.Op {
	case device.OpReadCharacteristic:
		c, err := findCharacteristic(p, req.Service, req.Characteristic)
		if err != nil {
			return device.Event{Err: err}
		}
		v, err := client.ReadCharacteristic(c)
		return device.Event{Value: v, Err: NormalizeError(err)}

	case device.OpWriteCharacteristic:
		c, err := findCharacteristic(p, req.Service, req.Characteristic)
		if err != nil {
			return device.Event{Err: err}
		}
		return device.Event{Err: NormalizeError(client.WriteCharacteristic(c, req.Value, false))}

	case device.OpReadDescriptor:
		d, err := findDescriptor(p, req.Service, req.Characteristic, req.Descriptor)
		if err != nil {
			return device.Event{Err: err}
		}
		v, err := client.ReadDescriptor(d)
		return device.Event{Value: v, Err: NormalizeError(err)}

	case device.OpWriteDescriptor:
		d, err := findDescriptor(p, req.Service, req.Characteristic, req.Descriptor)
		if err != nil {
			return device.Event{Err: err}
		}
		return device.Event{Err: NormalizeError(client.WriteDescriptor(d, req.Value))}

	case device.OpSetNotify:
		c, err := findCharacteristic(p, req.Service, req.Characteristic)
		if err != nil {
			return device.Event{Err: err}
		}
		return device.Event{Err: NormalizeError(r.setNotify(client, c, req))}

	default:
		return device.Event{Err: device.ErrUnsupported}
	}
}

// setNotify configures the CCCD, using indications when the characteristic cannot notify
func (r *Radio) setNotify(client ble.Client, c *ble.Characteristic, req device.Request) error {
	ind := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0

	if !req.Enable {
		return client.Unsubscribe(c, ind)
	}

	id := req.Characteristic
	return client.Subscribe(c, ind, func(data []byte) {
		r.emit(device.Event{
			Kind:           device.EventValueChanged,
			Characteristic: id,
			Value:          append([]byte(nil), data...),
		})
	})
}

// Close stops scanning, drops the link and releases the adapter.
// The event channel is closed once every worker has returned.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	scanCancel, d, client := r.scanCancel, r.dialing, r.client
	r.scanCancel, r.dialing, r.client, r.profile = nil, nil, nil, nil
	r.mu.Unlock()

	if scanCancel != nil {
		scanCancel()
	}
	if d != nil {
		d.cancel()
	}
	if client != nil {
		if err := client.CancelConnection(); err != nil {
			r.logger.WithField("error", err).Debug("Cancel connection during close failed")
		}
	}

	close(r.closing)
	r.workers.Wait()

	r.emitMu.Lock()
	r.eventsClosed = true
	close(r.events)
	r.emitMu.Unlock()

	if err := r.dev.Stop(); err != nil {
		return NormalizeError(err)
	}
	return nil
}
