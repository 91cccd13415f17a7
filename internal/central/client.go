// Package central implements a BLE central-role client over a platform radio.
//
// A Client owns a single link. Connection state changes, GATT completions and
// value changes are consumed from the radio's event channel by one event loop
// goroutine; public calls block until their completion arrives, their context
// ends, or a configured timeout forces them to resolve.
package central

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/gatt"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/permission"
	"github.com/srg/blecentral/internal/scan"
)

// Options tunes timeouts and buffer sizes. Zero timeouts wait indefinitely.
type Options struct {
	ConnectTimeout     time.Duration
	DisconnectTimeout  time.Duration
	TransactionTimeout time.Duration
	ScanBuffer         int
	NotificationBuffer uint32
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:     30 * time.Second,
		DisconnectTimeout:  10 * time.Second,
		TransactionTimeout: 10 * time.Second,
		ScanBuffer:         scan.DefaultBufferSize,
		NotificationBuffer: 256,
	}
}

// Client is a BLE central bound to one radio
type Client struct {
	radio    device.Radio
	gate     *permission.Gate
	scan     *scan.Session
	queue    *gatt.Queue
	registry *gatt.Registry
	opts     Options
	logger   *logrus.Logger

	mu                sync.Mutex
	state             State
	peer              *device.Peripheral
	tree              *gatt.Tree
	pendingConnect    chan error
	pendingDisconnect chan error
	observers         []func(from, to State)
	link              uint64 // id of the latest connect attempt

	group     groutine.Group
	closeOnce sync.Once
}

// New creates a client and starts its event loop. A nil gate skips permission checks.
func New(radio device.Radio, gate *permission.Gate, opts Options, logger *logrus.Logger) (*Client, error) {
	if radio == nil {
		return nil, device.NewError(device.AdapterUnavailable, "no radio", nil)
	}
	if logger == nil {
		logger = logrus.New()
	}
	if opts.NotificationBuffer == 0 {
		opts.NotificationBuffer = DefaultOptions().NotificationBuffer
	}

	registry, err := gatt.NewRegistry(opts.NotificationBuffer, logger)
	if err != nil {
		return nil, err
	}

	c := &Client{
		radio:    radio,
		gate:     gate,
		scan:     scan.NewSession(radio, gate, opts.ScanBuffer, logger),
		queue:    gatt.NewQueue(radio.Submit, opts.TransactionTimeout, logger),
		registry: registry,
		opts:     opts,
		logger:   logger,
		state:    Disconnected,
	}

	c.group.Go(context.Background(), "central-event-loop", c.run)
	return c, nil
}

// run consumes radio events until the radio closes its channel
func (c *Client) run(ctx context.Context) {
	for ev := range c.radio.Events() {
		c.handleEvent(ev)
	}
	c.logger.Debug("Radio event stream closed")
}

func (c *Client) handleEvent(ev device.Event) {
	switch ev.Kind {
	case device.EventLinkUp:
		c.onLinkUp(ev.Link)
	case device.EventLinkFailed:
		c.onLinkFailed(ev.Link, ev.Err)
	case device.EventLinkDown:
		c.onLinkDown(ev.Link, ev.Err)
	case device.EventCompleted:
		c.queue.Complete(ev)
	case device.EventValueChanged:
		c.registry.Dispatch(ev.Characteristic, ev.Value)
	default:
		c.logger.WithField("kind", ev.Kind.String()).Warn("Unknown radio event")
	}
}

// require checks the capability that guards every radio operation
func (c *Client) require() error {
	if c.gate == nil {
		return nil
	}
	return c.gate.Require(permission.Scan)
}

// RequestPermission prompts for capability cp without waiting for the answer
func (c *Client) RequestPermission(cp permission.Capability) {
	if c.gate != nil {
		c.gate.Request(cp)
	}
}

// StartScan begins a scan session; see scan.Session.Start
func (c *Client) StartScan(filters []scan.Filter, companyIDs []uint16) error {
	return c.scan.Start(filters, companyIDs)
}

// StopScan ends the scan session and forgets every discovered device
func (c *Client) StopScan() error {
	return c.scan.Stop()
}

// IsScanning reports whether a scan session is active
func (c *Client) IsScanning() bool {
	return c.scan.IsScanning()
}

// Discoveries returns the discovery stream of the current scan session
func (c *Client) Discoveries() <-chan device.Discovery {
	return c.scan.Discoveries()
}

// Lookup finds a device of the current scan session by identifier
func (c *Client) Lookup(identifier string) (*device.Peripheral, bool) {
	return c.scan.Lookup(identifier)
}

// Devices returns the devices of the current scan session
func (c *Client) Devices() []*device.Peripheral {
	return c.scan.Devices()
}

// NotificationMetrics exposes notification dispatch counters
func (c *Client) NotificationMetrics() gatt.RegistryMetrics {
	return c.registry.GetMetrics()
}

// Close stops scanning, drops the link, and releases the radio.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.scan.IsScanning() {
			if serr := c.scan.Stop(); serr != nil {
				c.logger.WithField("error", serr).Debug("Stop scan on close failed")
			}
		}

		if c.State() == Connected {
			ctx, cancel := context.WithTimeout(context.Background(), c.disconnectWait())
			if derr := c.Disconnect(ctx); derr != nil {
				c.logger.WithField("error", derr).Debug("Disconnect on close failed")
			}
			cancel()
		}

		c.mu.Lock()
		var t transition
		if c.pendingConnect != nil {
			t = c.teardownLocked(device.NewError(device.NotConnected, "client closed", nil))
			c.resolveConnectLocked(device.NewError(device.ConnectionFailed, "client closed", nil))
		}
		c.mu.Unlock()
		t.notify()

		err = c.radio.Close()
		c.group.Wait()
		c.registry.Close()
	})
	return err
}

func (c *Client) disconnectWait() time.Duration {
	if c.opts.DisconnectTimeout > 0 {
		return c.opts.DisconnectTimeout
	}
	return DefaultOptions().DisconnectTimeout
}
