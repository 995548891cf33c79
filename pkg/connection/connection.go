package connection

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/pinelink/internal/device"
)

type refKey struct {
	service        string
	characteristic string
}

// Connection is one attempt at talking to one peripheral. Its characteristic
// cache lives and dies with it, so a reconnect always resolves afresh.
type Connection struct {
	peripheral device.Peripheral
	state      atomic.Value // State

	mu   sync.Mutex
	link device.Link
	refs map[refKey]*device.CharacteristicRef

	closed    chan struct{}
	closeOnce sync.Once
}

func newConnection(peripheral device.Peripheral) *Connection {
	c := &Connection{
		peripheral: peripheral,
		refs:       make(map[refKey]*device.CharacteristicRef),
		closed:     make(chan struct{}),
	}
	c.state.Store(StateConnecting)
	return c
}

// State returns connecting, resolving, streaming, disconnecting or closed.
// A closed connection never changes state again.
func (c *Connection) State() State {
	return c.state.Load().(State)
}

// setState follows the manager lifecycle while c is the active connection
func (c *Connection) setState(s State) {
	switch s {
	case StateConnecting, StateResolving, StateStreaming, StateDisconnecting:
	default:
		return
	}
	select {
	case <-c.closed:
	default:
		c.state.Store(s)
	}
}

// Peripheral returns the target device
func (c *Connection) Peripheral() device.Peripheral {
	return c.peripheral
}

// Link returns the live link, or nil before the transport connected
func (c *Connection) Link() device.Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

// Resolved returns the characteristic references cached so far
func (c *Connection) Resolved() []*device.CharacteristicRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*device.CharacteristicRef, 0, len(c.refs))
	for _, r := range c.refs {
		out = append(out, r)
	}
	return out
}

func (c *Connection) attach(link device.Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link = link
}

// ref resolves a characteristic once per connection
func (c *Connection) ref(ctx context.Context, serviceID, charID string) (*device.CharacteristicRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := refKey{service: device.NormalizeUUID(serviceID), characteristic: device.NormalizeUUID(charID)}
	if r, ok := c.refs[key]; ok {
		return r, nil
	}
	if c.link == nil {
		return nil, device.ErrNotConnected
	}

	r, err := device.Resolve(ctx, c.link, serviceID, charID)
	if err != nil {
		return nil, err
	}
	c.refs[key] = r
	return r, nil
}

// cached returns a previously resolved reference without touching the link
func (c *Connection) cached(serviceID, charID string) (*device.CharacteristicRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.refs[refKey{service: device.NormalizeUUID(serviceID), characteristic: device.NormalizeUUID(charID)}]
	return r, ok
}

// Closed is closed once the connection has been torn down
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// close tears down the link. Transport errors are logged, not returned.
func (c *Connection) close(logger *logrus.Logger) {
	c.closeOnce.Do(func() {
		defer c.state.Store(StateClosed)
		close(c.closed)

		c.mu.Lock()
		link := c.link
		c.mu.Unlock()
		if link == nil {
			return
		}

		if err := link.Disconnect(); err != nil {
			logger.WithFields(logrus.Fields{
				"address": c.peripheral.Address,
				"error":   err,
			}).Warn("Transport disconnect failed")
		}
	})
}
