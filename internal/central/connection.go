package central

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/gatt"
)

// State is the link state of a Client
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// State returns the current link state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Peripheral returns the device of the current link, or nil when disconnected
func (c *Client) Peripheral() *device.Peripheral {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// OnStateChange registers fn to observe every state transition
func (c *Client) OnStateChange(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// transition is a state change to report once the lock is released.
// A teardown also carries the error the in-flight transaction fails with.
type transition struct {
	from, to  State
	observers []func(from, to State)

	queue *gatt.Queue
	fail  error
}

func (t transition) notify() {
	if t.fail != nil {
		t.queue.FailPending(t.fail)
	}
	if t.from == t.to {
		return
	}
	for _, fn := range t.observers {
		fn(t.from, t.to)
	}
}

func (c *Client) setStateLocked(to State) transition {
	t := transition{from: c.state, to: to, observers: slices.Clone(c.observers)}
	c.state = to
	return t
}

// Connect opens a link to p and waits for the outcome
func (c *Client) Connect(ctx context.Context, p *device.Peripheral) error {
	if err := c.require(); err != nil {
		return err
	}
	if p == nil {
		return device.NewError(device.ConnectionFailed, "unknown device", nil)
	}

	c.mu.Lock()
	switch c.state {
	case Connecting, Disconnecting:
		state := c.state
		c.mu.Unlock()
		return device.NewError(device.OperationInProgress, fmt.Sprintf("link is %s", state), nil)
	case Connected:
		c.mu.Unlock()
		return device.NewError(device.ConnectionFailed, "", device.ErrAlreadyConnected)
	}

	done := make(chan error, 1)
	c.pendingConnect = done
	c.peer = p
	c.link++
	link := c.link
	t := c.setStateLocked(Connecting)
	c.mu.Unlock()
	t.notify()

	logger := c.logger.WithFields(logrus.Fields{
		"identifier": p.Identifier(),
		"address":    p.Address().String(),
		"link":       link,
	})
	logger.Info("Connecting")

	if err := c.radio.Connect(link, p.Address()); err != nil {
		c.abortConnect(done, device.NewError(device.ConnectionFailed, "connect request rejected", err), false)
		return <-done
	}

	var timeoutC <-chan time.Time
	if c.opts.ConnectTimeout > 0 {
		timer := time.NewTimer(c.opts.ConnectTimeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case err := <-done:
		if err == nil {
			logger.Info("Connected")
		}
		return err
	case <-ctx.Done():
		c.abortConnect(done, device.NewError(device.ConnectionFailed, "connect cancelled", ctx.Err()), true)
	case <-timeoutC:
		c.abortConnect(done, device.NewError(device.ConnectionFailed, fmt.Sprintf("no link within %s", c.opts.ConnectTimeout), device.ErrTimeout), true)
	}
	return <-done
}

// ConnectID connects to a device of the current scan session by identifier
func (c *Client) ConnectID(ctx context.Context, identifier string) error {
	p, ok := c.scan.Lookup(identifier)
	if !ok {
		if err := c.require(); err != nil {
			return err
		}
		return device.NewError(device.ConnectionFailed, fmt.Sprintf("unknown device %q", identifier), nil)
	}
	return c.Connect(ctx, p)
}

// abortConnect forces the machine to Disconnected if done is still the pending connect
func (c *Client) abortConnect(done chan error, err error, cancelLink bool) {
	c.mu.Lock()
	if c.pendingConnect != done {
		c.mu.Unlock()
		return
	}
	t := c.teardownLocked(device.NewError(device.NotConnected, "connect aborted", nil))
	c.resolveConnectLocked(err)
	c.mu.Unlock()
	t.notify()

	c.logger.WithField("error", err).Warn("Connect aborted")
	if cancelLink {
		if derr := c.radio.Disconnect(); derr != nil {
			c.logger.WithField("error", derr).Debug("Cancelling link attempt failed")
		}
	}
}

// Disconnect closes the link and waits for it to go down
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.require(); err != nil {
		return err
	}

	c.mu.Lock()
	switch c.state {
	case Disconnected:
		c.mu.Unlock()
		return device.NewError(device.NotConnected, "", nil)
	case Connecting, Disconnecting:
		state := c.state
		c.mu.Unlock()
		return device.NewError(device.OperationInProgress, fmt.Sprintf("link is %s", state), nil)
	}

	done := make(chan error, 1)
	c.pendingDisconnect = done
	t := c.setStateLocked(Disconnecting)
	c.mu.Unlock()
	t.notify()

	c.queue.FailPending(device.NewError(device.NotConnected, "disconnect requested", nil))
	c.logger.Info("Disconnecting")

	if err := c.radio.Disconnect(); err != nil {
		c.forceDisconnected(done, device.NewError(device.ConnectionFailed, "disconnect request rejected", err))
		return <-done
	}

	var timeoutC <-chan time.Time
	if c.opts.DisconnectTimeout > 0 {
		timer := time.NewTimer(c.opts.DisconnectTimeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.forceDisconnected(done, device.NewError(device.ConnectionFailed, "disconnect cancelled", ctx.Err()))
	case <-timeoutC:
		c.forceDisconnected(done, device.NewError(device.ConnectionFailed, fmt.Sprintf("link still up after %s", c.opts.DisconnectTimeout), device.ErrTimeout))
	}
	return <-done
}

// forceDisconnected drops local link state if done is still the pending disconnect
func (c *Client) forceDisconnected(done chan error, err error) {
	c.mu.Lock()
	if c.pendingDisconnect != done {
		c.mu.Unlock()
		return
	}
	t := c.teardownLocked(device.NewError(device.NotConnected, "disconnect forced", nil))
	c.resolveDisconnectLocked(err)
	c.mu.Unlock()
	t.notify()

	c.logger.WithField("error", err).Warn("Disconnect forced")
}

// currentLinkLocked reports whether link events for link belong to the current attempt
func (c *Client) currentLinkLocked(link uint64) bool {
	return link == c.link
}

func (c *Client) onLinkUp(link uint64) {
	c.mu.Lock()
	if c.state != Connecting || !c.currentLinkLocked(link) {
		state := c.state
		c.mu.Unlock()
		c.logger.WithFields(logrus.Fields{"state": state.String(), "link": link}).Debug("Ignoring link up")
		return
	}
	t := c.setStateLocked(Connected)
	c.resolveConnectLocked(nil)
	c.mu.Unlock()
	t.notify()
}

func (c *Client) onLinkFailed(link uint64, cause error) {
	c.mu.Lock()
	if c.state != Connecting || !c.currentLinkLocked(link) {
		state := c.state
		c.mu.Unlock()
		c.logger.WithFields(logrus.Fields{"state": state.String(), "link": link}).Debug("Ignoring link failure")
		return
	}
	t := c.teardownLocked(device.NewError(device.NotConnected, "link failed", cause))
	c.resolveConnectLocked(device.NewError(device.ConnectionFailed, "link failed", cause))
	c.mu.Unlock()
	t.notify()

	c.logger.WithField("error", cause).Warn("Connection failed")
}

func (c *Client) onLinkDown(link uint64, cause error) {
	c.mu.Lock()
	if c.state == Disconnected || !c.currentLinkLocked(link) {
		c.mu.Unlock()
		c.logger.WithField("link", link).Debug("Ignoring link down")
		return
	}

	from := c.state
	t := c.teardownLocked(device.NewError(device.NotConnected, "link lost", cause))
	c.resolveDisconnectLocked(nil)
	c.resolveConnectLocked(device.NewError(device.ConnectionFailed, "link lost while connecting", cause))
	c.mu.Unlock()
	t.notify()

	if from == Connected {
		c.logger.WithField("reason", cause).Warn("Peripheral disconnected")
	} else {
		c.logger.Info("Disconnected")
	}
}

// teardownLocked moves to Disconnected and discards every per-link resource.
// The in-flight transaction fails with cause once the returned transition is notified.
func (c *Client) teardownLocked(cause error) transition {
	t := c.setStateLocked(Disconnected)
	t.queue = c.queue
	t.fail = cause
	c.peer = nil
	c.tree = nil
	c.registry.Clear()
	return t
}

func (c *Client) resolveConnectLocked(err error) {
	if c.pendingConnect == nil {
		return
	}
	c.pendingConnect <- err
	c.pendingConnect = nil
}

func (c *Client) resolveDisconnectLocked(err error) {
	if c.pendingDisconnect == nil {
		return
	}
	c.pendingDisconnect <- err
	c.pendingDisconnect = nil
}
