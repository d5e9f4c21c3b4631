// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peerstore"
)

// Dial connects to the peer named by ticket and opens a tunnel stream.
// The swarm's dial ranker tries direct addresses before relayed ones;
// a connection that is only available through a relay is accepted and
// upgraded by hole punching when possible.
//
// The caller writes the handshake (WriteHandshake) before any payload.
func (e *Endpoint) Dial(ctx context.Context, ticket Ticket) (network.Stream, error) {
	select {
	case <-e.closed:
		return nil, ErrEndpointClosed
	default:
	}

	info := ticket.AddrInfo()
	if info.ID == "" {
		return nil, fmt.Errorf("%w: ticket has no node ID", ErrInvalidTicket)
	}
	if info.ID == e.host.ID() {
		return nil, fmt.Errorf("%w: ticket names this endpoint", ErrPeerUnreachable)
	}
	e.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.TempAddrTTL)

	ctx = network.WithAllowLimitedConn(ctx, resourceService)
	if err := e.host.Connect(ctx, info); err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %v", ErrPeerUnreachable, info.ID, err)
	}
	stream, err := e.host.NewStream(ctx, info.ID, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("%w: opening stream to %s: %v", ErrPeerUnreachable, info.ID, err)
	}

	e.logger.Debug("tunnel stream opened",
		"remote_peer", info.ID.String(),
		"remote_addr", stream.Conn().RemoteMultiaddr().String(),
		"limited", stream.Conn().Stat().Limited,
	)
	return stream, nil
}
