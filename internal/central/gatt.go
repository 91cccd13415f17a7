package central

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/gatt"
)

// connectedTree returns the service tree of the current link.
// Before discovery the tree is empty, so every lookup reports ServiceNotFound.
func (c *Client) connectedTree() (*gatt.Tree, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return nil, device.NewError(device.NotConnected, "", nil)
	}
	if c.tree == nil {
		return gatt.NewTree(nil), nil
	}
	return c.tree, nil
}

// transact runs one GATT operation through the queue. build resolves the
// targets against the tree current at the moment the operation is admitted.
func (c *Client) transact(ctx context.Context, op device.OpKind, build func(tree *gatt.Tree) (device.Request, error)) (gatt.Result, error) {
	if err := c.require(); err != nil {
		return gatt.Result{}, err
	}
	if _, err := c.connectedTree(); err != nil {
		return gatt.Result{}, err
	}

	return c.queue.Do(ctx, op, func() (device.Request, error) {
		tree, err := c.connectedTree()
		if err != nil {
			return device.Request{}, err
		}
		return build(tree)
	})
}

// DiscoverServices discovers the peripheral's full GATT layout and replaces the
// service tree with the result
func (c *Client) DiscoverServices(ctx context.Context) ([]device.ServiceDef, error) {
	res, err := c.transact(ctx, device.OpDiscover, func(*gatt.Tree) (device.Request, error) {
		return device.Request{}, nil
	})
	if err != nil {
		return nil, err
	}

	tree := gatt.NewTree(res.Services)

	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return nil, device.NewError(device.NotConnected, "link lost during discovery", nil)
	}
	c.tree = tree
	c.mu.Unlock()

	c.logger.WithField("services", tree.Len()).Info("Services discovered")
	return tree.Snapshot(), nil
}

// Services returns the layout found by the last discovery on this link
func (c *Client) Services() []device.ServiceDef {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tree == nil {
		return nil
	}
	return c.tree.Snapshot()
}

// ReadCharacteristic reads the current value of a characteristic
func (c *Client) ReadCharacteristic(ctx context.Context, service, characteristic uuid.UUID) ([]byte, error) {
	res, err := c.transact(ctx, device.OpReadCharacteristic, func(tree *gatt.Tree) (device.Request, error) {
		if _, err := tree.ResolveCharacteristic(service, characteristic); err != nil {
			return device.Request{}, err
		}
		return device.Request{Service: service, Characteristic: characteristic}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// WriteCharacteristic writes value and waits for the peripheral's acknowledgement
func (c *Client) WriteCharacteristic(ctx context.Context, service, characteristic uuid.UUID, value []byte) error {
	_, err := c.transact(ctx, device.OpWriteCharacteristic, func(tree *gatt.Tree) (device.Request, error) {
		if _, err := tree.ResolveCharacteristic(service, characteristic); err != nil {
			return device.Request{}, err
		}
		return device.Request{
			Service:        service,
			Characteristic: characteristic,
			Value:          append([]byte(nil), value...),
		}, nil
	})
	return err
}

// ReadDescriptor reads a descriptor of a characteristic
func (c *Client) ReadDescriptor(ctx context.Context, service, characteristic, descriptor uuid.UUID) ([]byte, error) {
	res, err := c.transact(ctx, device.OpReadDescriptor, func(tree *gatt.Tree) (device.Request, error) {
		if err := tree.ResolveDescriptor(service, characteristic, descriptor); err != nil {
			return device.Request{}, err
		}
		return device.Request{Service: service, Characteristic: characteristic, Descriptor: descriptor}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// WriteDescriptor writes value to a descriptor and waits for the acknowledgement
func (c *Client) WriteDescriptor(ctx context.Context, service, characteristic, descriptor uuid.UUID, value []byte) error {
	_, err := c.transact(ctx, device.OpWriteDescriptor, func(tree *gatt.Tree) (device.Request, error) {
		if err := tree.ResolveDescriptor(service, characteristic, descriptor); err != nil {
			return device.Request{}, err
		}
		return device.Request{
			Service:        service,
			Characteristic: characteristic,
			Descriptor:     descriptor,
			Value:          append([]byte(nil), value...),
		}, nil
	})
	return err
}

// SetNotify enables or disables value-change notifications for a characteristic.
//
// Enabling registers callback before the peripheral is configured, so no early value
// is missed, and removes the registration again if configuration fails. Disabling
// configures the peripheral first and drops the registration once that succeeds.
func (c *Client) SetNotify(ctx context.Context, service, characteristic uuid.UUID, enabled bool, callback func([]byte)) error {
	if enabled && callback == nil {
		return device.NewError(device.WriteFailed, "notification callback is required", nil)
	}

	registered := false
	_, err := c.transact(ctx, device.OpSetNotify, func(tree *gatt.Tree) (device.Request, error) {
		if _, err := tree.ResolveCharacteristic(service, characteristic); err != nil {
			return device.Request{}, err
		}
		if enabled {
			c.registry.Set(characteristic, callback)
			registered = true
		}
		return device.Request{Service: service, Characteristic: characteristic, Enable: enabled}, nil
	})

	logger := c.logger.WithFields(logrus.Fields{
		"characteristic": characteristic.String(),
		"enabled":        enabled,
	})

	if err != nil {
		if registered {
			c.registry.Remove(characteristic)
		}
		logger.WithField("error", err).Warn("Notification configuration failed")
		return err
	}

	if !enabled {
		c.registry.Remove(characteristic)
	}
	logger.Debug("Notification configured")
	return nil
}
