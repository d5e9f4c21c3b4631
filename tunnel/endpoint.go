// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"
)

// ProtocolID identifies tunnel streams. Both ends compile it in; a peer
// opening a stream under any other protocol is never handed to the
// bridge.
const ProtocolID protocol.ID = "/dumbpipe/0"

// resourceService is the resource-manager service scope every accepted
// tunnel stream is attached to.
const resourceService = "tunnel"

// DefaultListenAddrs binds QUIC and TCP on every interface with
// kernel-chosen ports.
var DefaultListenAddrs = []string{
	"/ip4/0.0.0.0/udp/0/quic-v1",
	"/ip4/0.0.0.0/tcp/0",
}

// EndpointConfig configures NewEndpoint. The zero value listens on
// DefaultListenAddrs without static relays.
type EndpointConfig struct {
	// ListenAddrs are multiaddr strings to bind. Empty means
	// DefaultListenAddrs.
	ListenAddrs []string

	// StaticRelays are circuit-relay servers the endpoint reserves a
	// slot on so that peers behind NAT can still reach it. When set,
	// Online waits for a relayed address.
	StaticRelays []peer.AddrInfo

	// ConnectionsLow and ConnectionsHigh are the connection manager's
	// watermarks. Zero selects 32 and 128.
	ConnectionsLow  int
	ConnectionsHigh int

	// DisablePortMapping turns off UPnP/NAT-PMP port mapping.
	DisablePortMapping bool

	Logger *slog.Logger
}

// Endpoint is a libp2p host that accepts tunnel streams. It owns the
// host: closing the endpoint tears down every connection and stream.
type Endpoint struct {
	host          host.Host
	relays        []peer.AddrInfo
	logger        *slog.Logger
	addressEvents event.Subscription

	incoming chan network.Stream
	closed   chan struct{}

	closeOnce sync.Once
	closeErr  error
	watchDone chan struct{}

	// addressesChanged is closed and replaced every time the host's
	// advertised addresses change.
	addressMutex     sync.Mutex
	addressesChanged chan struct{}
}

// NewEndpoint builds the libp2p host for key and registers the tunnel
// stream handler. Any construction failure wraps ErrEndpointBind.
func NewEndpoint(ctx context.Context, key SecretKey, config EndpointConfig) (*Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	privateKey, err := key.PrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEndpointBind, err)
	}

	listenAddrs := config.ListenAddrs
	if len(listenAddrs) == 0 {
		listenAddrs = DefaultListenAddrs
	}
	low, high := config.ConnectionsLow, config.ConnectionsHigh
	if low <= 0 {
		low = 32
	}
	if high <= low {
		high = max(128, low*4)
	}
	connectionManager, err := connmgr.NewConnManager(low, high)
	if err != nil {
		return nil, fmt.Errorf("%w: connection manager: %v", ErrEndpointBind, err)
	}

	options := []libp2p.Option{
		libp2p.Identity(privateKey),
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.ConnectionManager(connectionManager),
		libp2p.EnableRelay(),
		libp2p.EnableHolePunching(),
	}
	if !config.DisablePortMapping {
		options = append(options, libp2p.NATPortMap())
	}
	if len(config.StaticRelays) > 0 {
		options = append(options, libp2p.EnableAutoRelayWithStaticRelays(config.StaticRelays))
	}

	p2pHost, err := libp2p.New(options...)
	if err != nil {
		connectionManager.Close()
		return nil, fmt.Errorf("%w: %v", ErrEndpointBind, err)
	}

	addressEvents, err := p2pHost.EventBus().Subscribe(new(event.EvtLocalAddressesUpdated))
	if err != nil {
		p2pHost.Close()
		return nil, fmt.Errorf("%w: subscribing to address updates: %v", ErrEndpointBind, err)
	}

	endpoint := &Endpoint{
		host:             p2pHost,
		relays:           config.StaticRelays,
		logger:           logger,
		addressEvents:    addressEvents,
		incoming:         make(chan network.Stream),
		closed:           make(chan struct{}),
		watchDone:        make(chan struct{}),
		addressesChanged: make(chan struct{}),
	}
	go endpoint.watchAddresses()
	p2pHost.SetStreamHandler(ProtocolID, endpoint.handleStream)

	logger.Info("endpoint bound",
		"node_id", p2pHost.ID().String(),
		"listen_addrs", p2pHost.Network().ListenAddresses(),
		"static_relays", len(config.StaticRelays),
	)
	return endpoint, nil
}

// handleStream runs on a libp2p-owned goroutine per inbound stream and
// blocks until Accept takes the stream or the endpoint closes.
func (e *Endpoint) handleStream(stream network.Stream) {
	select {
	case e.incoming <- stream:
	case <-e.closed:
		stream.Reset()
	}
}

func (e *Endpoint) watchAddresses() {
	defer close(e.watchDone)
	for range e.addressEvents.Out() {
		e.logger.Debug("advertised addresses changed", "addrs", e.host.Addrs())
		e.addressMutex.Lock()
		close(e.addressesChanged)
		e.addressesChanged = make(chan struct{})
		e.addressMutex.Unlock()
	}
}

// Online blocks until the endpoint is reachable by remote peers. With
// static relays configured that means a relayed (/p2p-circuit) address
// is advertised; otherwise any advertised address suffices.
//
// Callers bound the wait through ctx. Returns ctx.Err() on cancellation
// and ErrEndpointClosed if the endpoint closes first.
func (e *Endpoint) Online(ctx context.Context) error {
	for {
		// Take the change channel before checking so that an update
		// between the check and the wait is not lost.
		e.addressMutex.Lock()
		changed := e.addressesChanged
		e.addressMutex.Unlock()

		if e.reachable() {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closed:
			return ErrEndpointClosed
		}
	}
}

func (e *Endpoint) reachable() bool {
	addresses := e.host.Addrs()
	if len(e.relays) == 0 {
		return len(addresses) > 0
	}
	for _, address := range addresses {
		if isRelayAddr(address) {
			return true
		}
	}
	return false
}

// NodeID returns the endpoint's public identifier.
func (e *Endpoint) NodeID() peer.ID { return e.host.ID() }

// AddrInfo returns the node ID and every currently advertised address.
func (e *Endpoint) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: e.host.ID(), Addrs: e.host.Addrs()}
}

// DirectAddrs returns the advertised addresses that do not route
// through a relay.
func (e *Endpoint) DirectAddrs() []ma.Multiaddr {
	var addresses []ma.Multiaddr
	for _, address := range e.host.Addrs() {
		if !isRelayAddr(address) {
			addresses = append(addresses, address)
		}
	}
	return addresses
}

// RelayAddrs returns the advertised relayed addresses.
func (e *Endpoint) RelayAddrs() []ma.Multiaddr {
	var addresses []ma.Multiaddr
	for _, address := range e.host.Addrs() {
		if isRelayAddr(address) {
			addresses = append(addresses, address)
		}
	}
	return addresses
}

// Host exposes the underlying libp2p host.
func (e *Endpoint) Host() host.Host { return e.host }

// Incoming is an inbound tunnel stream that has not yet been accepted
// at the transport level.
type Incoming struct {
	stream network.Stream
}

// RemotePeer returns the identifier of the peer that opened the stream.
func (i *Incoming) RemotePeer() peer.ID { return i.stream.Conn().RemotePeer() }

// Accept completes the transport-level accept: the stream is attached
// to the tunnel resource scope, which may refuse it when limits are
// exhausted. On failure the stream is reset.
func (i *Incoming) Accept() (network.Stream, error) {
	if err := i.stream.Scope().SetService(resourceService); err != nil {
		i.stream.Reset()
		return nil, fmt.Errorf("attaching stream from %s to %s scope: %w", i.RemotePeer(), resourceService, err)
	}
	return i.stream, nil
}

// Accept returns the next inbound tunnel stream. It returns
// ErrEndpointClosed once the endpoint is closed and ctx.Err() when ctx
// is cancelled.
func (e *Endpoint) Accept(ctx context.Context) (*Incoming, error) {
	select {
	case stream := <-e.incoming:
		return &Incoming{stream: stream}, nil
	case <-e.closed:
		return nil, ErrEndpointClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close removes the stream handler and shuts the host down, closing
// every connection. It is idempotent; later calls return the first
// call's result.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.host.RemoveStreamHandler(ProtocolID)
		e.closeErr = multierr.Combine(
			e.addressEvents.Close(),
			e.host.Close(),
		)
		<-e.watchDone
		e.logger.Info("endpoint closed", "node_id", e.host.ID().String())
	})
	return e.closeErr
}
