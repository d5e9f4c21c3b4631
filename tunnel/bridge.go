// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/multierr"

	"github.com/theopenpresenter/tunnel/lib/netutil"
)

// DefaultOnlineTimeout bounds how long Start waits for the endpoint to
// become reachable before publishing the ticket anyway.
const DefaultOnlineTimeout = 10 * time.Second

// DefaultConnectTimeout bounds each dial to the forwarding target.
const DefaultConnectTimeout = 5 * time.Second

// BridgeConfig configures Start.
type BridgeConfig struct {
	// DataDirectory holds the secret key and the lock file. Created
	// with mode 0700 when missing.
	DataDirectory string

	// Target is the local IPv4 TCP service every tunnel connection is
	// forwarded to. Fixed for the lifetime of the bridge.
	Target netip.AddrPort

	Endpoint EndpointConfig

	// OnlineTimeout bounds the reachability wait during Start. Zero
	// selects DefaultOnlineTimeout. Timing out is not an error.
	OnlineTimeout time.Duration

	// HandshakeTimeout bounds the preamble read on each stream. Zero
	// selects DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// ConnectTimeout bounds each dial to Target. Zero selects
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// Metrics records activity. May be nil.
	Metrics *Metrics

	// Logger receives structured log output. If nil, slog.Default() is
	// used. Per-connection events are logged at Debug level, rejected
	// handshakes and accept failures at Warn, lifecycle events at Info.
	Logger *slog.Logger
}

// Bridge exposes one local TCP service to remote peers. It owns an
// Endpoint and the data-directory lock from Start until Shutdown.
type Bridge struct {
	endpoint *Endpoint
	lock     *DirectoryLock
	target   netip.AddrPort
	ticket   string
	nodeID   peer.ID
	config   BridgeConfig
	logger   *slog.Logger

	// mutex guards cancel, the consume-once shutdown slot. The slot is
	// nil once Shutdown has run.
	mutex  sync.Mutex
	cancel context.CancelFunc

	done            chan struct{}
	handlers        sync.WaitGroup
	connectionCount atomic.Uint64
}

// Start brings a bridge up: it locks the data directory, loads or
// creates the identity, binds the endpoint, waits (bounded) for it to
// come online, generates the ticket, and starts accepting tunnel
// streams in the background.
//
// ctx is the bridge's interrupt scope. Cancelling it aborts every
// in-flight forward and resets streams accepted afterwards, but the
// bridge stays Running: only Shutdown or the endpoint closing stops the
// accept loop and releases the endpoint and the lock.
func Start(ctx context.Context, config BridgeConfig) (*Bridge, error) {
	if config.DataDirectory == "" {
		return nil, fmt.Errorf("tunnel: DataDirectory is required")
	}
	target := netip.AddrPortFrom(config.Target.Addr().Unmap(), config.Target.Port())
	if !target.IsValid() || !target.Addr().Is4() || target.Port() == 0 {
		return nil, fmt.Errorf("tunnel: target %s is not an IPv4 socket address", config.Target)
	}
	if config.OnlineTimeout <= 0 {
		config.OnlineTimeout = DefaultOnlineTimeout
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Endpoint.Logger == nil {
		config.Endpoint.Logger = logger
	}

	lock, err := LockDataDirectory(config.DataDirectory)
	if err != nil {
		return nil, err
	}
	key, err := LoadOrCreateSecretKey(config.DataDirectory)
	if err != nil {
		lock.Release()
		return nil, err
	}
	endpoint, err := NewEndpoint(ctx, key, config.Endpoint)
	if err != nil {
		lock.Release()
		return nil, err
	}

	onlineContext, cancelOnline := context.WithTimeout(ctx, config.OnlineTimeout)
	err = endpoint.Online(onlineContext)
	cancelOnline()
	if err != nil {
		if ctx.Err() != nil {
			endpoint.Close()
			lock.Release()
			return nil, ctx.Err()
		}
		logger.Warn("endpoint not confirmed online, publishing ticket anyway",
			"timeout", config.OnlineTimeout,
			"error", err,
		)
	}

	ticket, err := NewTicket(endpoint.AddrInfo()).Encode()
	if err != nil {
		endpoint.Close()
		lock.Release()
		return nil, err
	}

	loopContext, cancel := context.WithCancel(context.WithoutCancel(ctx))
	bridge := &Bridge{
		endpoint: endpoint,
		lock:     lock,
		target:   target,
		ticket:   ticket,
		nodeID:   endpoint.NodeID(),
		config:   config,
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(bridge.done)
		bridge.acceptLoop(loopContext, ctx)
	}()

	logger.Info("bridge started",
		"node_id", bridge.nodeID.String(),
		"target", target.String(),
		"direct_addrs", len(endpoint.DirectAddrs()),
		"relay_addrs", len(endpoint.RelayAddrs()),
	)
	return bridge, nil
}

// Ticket returns the shareable ticket generated at Start.
func (b *Bridge) Ticket() string { return b.ticket }

// NodeID returns the bridge's public identifier.
func (b *Bridge) NodeID() peer.ID { return b.nodeID }

// TargetAddress returns the local service tunnel connections are
// forwarded to.
func (b *Bridge) TargetAddress() netip.AddrPort { return b.target }

// Endpoint returns the bridge's endpoint.
func (b *Bridge) Endpoint() *Endpoint { return b.endpoint }

// Done is closed once the accept loop and every connection handler
// have returned.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Wait blocks until the bridge has stopped and every connection
// handler has returned.
func (b *Bridge) Wait() { <-b.done }

// Shutdown stops accepting, closes the endpoint and releases the data
// directory. Only the first call acts; later calls return nil.
//
// In-flight forwards are not cancelled directly. Closing the endpoint
// closes their streams, which ends them; use Wait to observe that.
func (b *Bridge) Shutdown() error {
	b.mutex.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mutex.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := multierr.Combine(
		b.endpoint.Close(),
		b.lock.Release(),
	)
	b.logger.Info("bridge stopped", "node_id", b.nodeID.String())
	return err
}

// acceptLoop takes inbound streams until the endpoint closes or
// Shutdown cancels loopContext. Handlers run under forwardContext, the
// interrupt scope, so Shutdown does not abort them mid-transfer. It waits for every
// handler before returning, so that closing done signals quiescence.
func (b *Bridge) acceptLoop(loopContext, forwardContext context.Context) {
	defer b.handlers.Wait()

	for {
		incoming, err := b.endpoint.Accept(loopContext)
		if err != nil {
			if errors.Is(err, ErrEndpointClosed) || loopContext.Err() != nil {
				b.logger.Debug("accept loop stopped", "reason", err)
				return
			}
			b.logger.Warn("accept failed", "error", err)
			continue
		}

		stream, err := incoming.Accept()
		if err != nil {
			b.config.Metrics.acceptFailed()
			b.logger.Warn("stream accept failed",
				"remote_peer", incoming.RemotePeer().String(),
				"error", err,
			)
			continue
		}
		b.config.Metrics.streamAccepted()

		connectionID := b.connectionCount.Add(1)
		b.handlers.Add(1)
		go func() {
			defer b.handlers.Done()
			b.handleStream(forwardContext, stream, connectionID)
		}()
	}
}

// handleStream is the failure boundary for one tunnel connection:
// errors and panics are logged here and go no further.
func (b *Bridge) handleStream(ctx context.Context, stream network.Stream, connectionID uint64) {
	logger := b.logger.With(
		"connection_id", connectionID,
		"remote_peer", stream.Conn().RemotePeer().String(),
	)
	defer func() {
		if recovered := recover(); recovered != nil {
			stream.Reset()
			logger.Error("connection handler panicked",
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
		}
	}()
	defer stream.Close()

	logger.Debug("connection accepted",
		"remote_addr", stream.Conn().RemoteMultiaddr().String(),
	)

	err := b.serve(ctx, stream, logger)
	switch {
	case err == nil:
		logger.Debug("connection closed")
	case errors.Is(err, ErrHandshakeRejected):
		logger.Warn("handshake rejected", "error", err)
	case errors.Is(err, ErrCancelled):
		logger.Debug("connection cancelled")
	case netutil.IsExpectedCloseError(err):
		logger.Debug("connection closed by peer", "error", err)
	default:
		logger.Warn("connection failed", "error", err)
	}
}

// serve validates the preamble, connects to the target, and forwards
// until both directions end. The target is never dialed for a stream
// whose preamble was rejected.
func (b *Bridge) serve(ctx context.Context, stream network.Stream, logger *slog.Logger) error {
	if ctx.Err() != nil {
		stream.Reset()
		return ErrCancelled
	}
	if err := ReadHandshake(stream, b.config.HandshakeTimeout); err != nil {
		b.config.Metrics.handshakeRejected()
		stream.Reset()
		return err
	}

	dialer := net.Dialer{Timeout: b.config.ConnectTimeout}
	connection, err := dialer.DialContext(ctx, "tcp4", b.target.String())
	if err != nil {
		b.config.Metrics.connectFailed()
		stream.Reset()
		return fmt.Errorf("%w: %s: %v", ErrConnect, b.target, err)
	}
	defer connection.Close()

	logger.Debug("forwarding", "target", b.target.String())
	finished := b.config.Metrics.forwardStarted()
	transfer, err := Forward(ctx, stream, connection.(*net.TCPConn))
	finished(transfer)
	logger.Debug("forward finished",
		"local_to_remote", transfer.LocalToRemote,
		"remote_to_local", transfer.RemoteToLocal,
	)
	return err
}
