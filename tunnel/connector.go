// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/theopenpresenter/tunnel/lib/netutil"
)

// DefaultDialTimeout bounds how long a Connector waits for the remote
// bridge when a local client connects.
const DefaultDialTimeout = 30 * time.Second

// Connector is the peer side of a tunnel: it listens on a local TCP
// address and carries every accepted connection to the bridge named by
// Ticket.
type Connector struct {
	// Endpoint dials the bridge. The connector does not close it.
	Endpoint *Endpoint

	// Ticket names the remote bridge.
	Ticket Ticket

	// ListenAddr is the local TCP address to listen on (e.g.
	// "127.0.0.1:8080").
	ListenAddr string

	// DialTimeout bounds opening each tunnel stream. Zero selects
	// DefaultDialTimeout.
	DialTimeout time.Duration

	// Metrics records activity. May be nil.
	Metrics *Metrics

	// Logger receives structured log output. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	listener    net.Listener
	cancel      context.CancelFunc
	done        chan struct{}
	connections sync.WaitGroup
}

func (c *Connector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Start binds the local listener and begins carrying connections in the
// background. It returns once the listener is accepting.
func (c *Connector) Start(ctx context.Context) error {
	if c.Endpoint == nil {
		return fmt.Errorf("connector: Endpoint is required")
	}
	if c.Ticket.NodeID == "" {
		return fmt.Errorf("connector: %w: ticket has no node ID", ErrInvalidTicket)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("connector: ListenAddr is required")
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}

	listener, err := net.Listen("tcp", c.ListenAddr)
	if err != nil {
		return fmt.Errorf("connector: failed to listen on %s: %w", c.ListenAddr, err)
	}
	c.listener = listener

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		c.acceptLoop(ctx)
	}()

	c.logger().Info("connector started",
		"listen_addr", listener.Addr().String(),
		"remote_peer", c.Ticket.NodeID.String(),
	)
	return nil
}

// Addr returns the listener's address, useful when binding to port 0.
// Returns nil if the connector has not been started.
func (c *Connector) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Stop closes the listener, aborts in-flight connections and waits for
// them to finish.
func (c *Connector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.listener != nil {
		c.listener.Close()
	}
	c.Wait()
}

// Wait blocks until the connector has stopped.
func (c *Connector) Wait() {
	if c.done != nil {
		<-c.done
	}
}

func (c *Connector) acceptLoop(ctx context.Context) {
	defer c.connections.Wait()

	go func() {
		<-ctx.Done()
		c.listener.Close()
	}()

	var connectionCount uint64
	for {
		connection, err := c.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger().Warn("accept failed", "error", err)
			continue
		}

		connectionCount++
		connectionID := connectionCount
		c.connections.Add(1)
		go func() {
			defer c.connections.Done()
			c.handleConnection(ctx, connection.(*net.TCPConn), connectionID)
		}()
	}
}

func (c *Connector) handleConnection(ctx context.Context, local *net.TCPConn, connectionID uint64) {
	defer local.Close()

	logger := c.logger().With(
		"connection_id", connectionID,
		"remote_peer", c.Ticket.NodeID.String(),
	)
	logger.Debug("connection accepted", "local_addr", local.RemoteAddr().String())

	dialContext, cancelDial := context.WithTimeout(ctx, c.DialTimeout)
	stream, err := c.Endpoint.Dial(dialContext, c.Ticket)
	cancelDial()
	if err != nil {
		c.Metrics.dialFailed()
		logger.Warn("opening tunnel failed", "error", err)
		return
	}
	defer stream.Close()

	if err := WriteHandshake(stream); err != nil {
		stream.Reset()
		logger.Warn("sending handshake failed", "error", err)
		return
	}

	finished := c.Metrics.forwardStarted()
	transfer, err := Forward(ctx, stream, local)
	finished(transfer)

	switch {
	case err == nil, errors.Is(err, ErrCancelled), netutil.IsExpectedCloseError(err):
		logger.Debug("connection closed",
			"local_to_remote", transfer.LocalToRemote,
			"remote_to_local", transfer.RemoteToLocal,
			"error", err,
		)
	default:
		logger.Warn("connection failed", "error", err)
	}
}
