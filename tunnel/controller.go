// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"sync"
)

// Status is the externally visible state of a Controller.
type Status struct {
	Enabled  bool   `json:"enabled"`
	Starting bool   `json:"starting,omitempty"`
	Ticket   string `json:"ticket,omitempty"`
	NodeID   string `json:"node_id,omitempty"`
}

// Controller starts and stops a single bridge on demand. Start, Stop,
// Status and Ticket are safe for concurrent use. The mutex is never held
// while a bridge comes up, so Status and Stop answer during a slow Start.
type Controller struct {
	// Config is used for every Start.
	Config BridgeConfig

	mutex    sync.Mutex
	starting bool
	bridge   *Bridge
	cancel   context.CancelFunc
}

// Start brings the bridge up under ctx and returns its status. It fails
// with ErrAlreadyRunning while a bridge is active or starting. A Stop
// issued while Start is in progress aborts it, and Start returns the
// context error.
func (c *Controller) Start(ctx context.Context) (Status, error) {
	bridgeContext, cancel := context.WithCancel(ctx)

	c.mutex.Lock()
	if c.bridge != nil || c.starting {
		c.mutex.Unlock()
		cancel()
		return Status{}, ErrAlreadyRunning
	}
	c.starting = true
	c.cancel = cancel
	c.mutex.Unlock()

	bridge, err := Start(bridgeContext, c.Config)
	if err == nil && bridgeContext.Err() != nil {
		bridge.Shutdown()
		bridge.Wait()
		bridge, err = nil, bridgeContext.Err()
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.starting = false
	if err != nil {
		c.cancel = nil
		cancel()
		return Status{}, err
	}
	c.bridge = bridge
	return c.statusLocked(), nil
}

// Stop shuts the running bridge down and aborts its in-flight
// forwards. It returns after every connection handler has finished.
// While a Start is in progress Stop cancels it and returns at once.
// Stopping a stopped controller does nothing.
func (c *Controller) Stop() error {
	c.mutex.Lock()
	if c.starting {
		cancel := c.cancel
		c.mutex.Unlock()
		cancel()
		return nil
	}
	bridge, cancel := c.bridge, c.cancel
	c.bridge, c.cancel = nil, nil
	c.mutex.Unlock()

	if bridge == nil {
		return nil
	}
	err := bridge.Shutdown()
	cancel()
	bridge.Wait()
	return err
}

// Status reports whether a bridge is running and, if so, its ticket and
// node ID.
func (c *Controller) Status() Status {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.statusLocked()
}

// Ticket returns the running bridge's ticket.
func (c *Controller) Ticket() (string, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.bridge == nil {
		return "", false
	}
	return c.bridge.Ticket(), true
}

func (c *Controller) statusLocked() Status {
	if c.bridge == nil {
		return Status{Starting: c.starting}
	}
	return Status{
		Enabled: true,
		Ticket:  c.bridge.Ticket(),
		NodeID:  c.bridge.NodeID().String(),
	}
}
