// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/theopenpresenter/tunnel/lib/testutil"
)

func TestNewEndpoint_NodeIDMatchesKey(t *testing.T) {
	key, err := GenerateSecretKey()
	if err != nil {
		t.Fatalf("GenerateSecretKey: %v", err)
	}
	want, err := key.PeerID()
	if err != nil {
		t.Fatalf("PeerID: %v", err)
	}
	endpoint, err := NewEndpoint(context.Background(), key, loopbackEndpoint())
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	defer endpoint.Close()

	if endpoint.NodeID() != want {
		t.Fatalf("NodeID() = %s, want %s", endpoint.NodeID(), want)
	}
	if endpoint.AddrInfo().ID != want {
		t.Fatal("AddrInfo carries a different ID")
	}
}

func TestNewEndpoint_BadListenAddress(t *testing.T) {
	key, err := GenerateSecretKey()
	if err != nil {
		t.Fatalf("GenerateSecretKey: %v", err)
	}
	_, err = NewEndpoint(context.Background(), key, EndpointConfig{
		ListenAddrs:        []string{"not a multiaddr"},
		DisablePortMapping: true,
	})
	if !errors.Is(err, ErrEndpointBind) {
		t.Fatalf("expected ErrEndpointBind, got %v", err)
	}
}

func TestEndpoint_OnlineWithoutRelays(t *testing.T) {
	endpoint := newClientEndpoint(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := endpoint.Online(ctx); err != nil {
		t.Fatalf("Online: %v", err)
	}
	if len(endpoint.DirectAddrs()) == 0 {
		t.Fatal("online endpoint has no direct addresses")
	}
	if len(endpoint.RelayAddrs()) != 0 {
		t.Fatalf("unexpected relay addresses: %v", endpoint.RelayAddrs())
	}
}

func TestEndpoint_OnlineWaitsForRelay(t *testing.T) {
	key, err := GenerateSecretKey()
	if err != nil {
		t.Fatalf("GenerateSecretKey: %v", err)
	}
	// Nothing listens at the relay address, so no reservation is ever
	// made and no /p2p-circuit address appears.
	relay := peer.AddrInfo{
		ID:    testPeerID(t),
		Addrs: []ma.Multiaddr{mustMultiaddr(t, "/ip4/127.0.0.1/tcp/1")},
	}
	config := loopbackEndpoint()
	config.StaticRelays = []peer.AddrInfo{relay}
	endpoint, err := NewEndpoint(context.Background(), key, config)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	defer endpoint.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := endpoint.Online(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestEndpoint_AcceptAfterClose(t *testing.T) {
	endpoint := newClientEndpoint(t)

	accepted := make(chan error, 1)
	go func() {
		_, err := endpoint.Accept(context.Background())
		accepted <- err
	}()

	if err := endpoint.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := testutil.RequireReceive(t, accepted, 5*time.Second, "Accept did not return after Close")
	if !errors.Is(err, ErrEndpointClosed) {
		t.Fatalf("expected ErrEndpointClosed, got %v", err)
	}

	if err := endpoint.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := endpoint.Dial(context.Background(), Ticket{NodeID: testPeerID(t)}); !errors.Is(err, ErrEndpointClosed) {
		t.Fatalf("Dial after Close: expected ErrEndpointClosed, got %v", err)
	}
}

func TestEndpoint_AcceptHonorsContext(t *testing.T) {
	endpoint := newClientEndpoint(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := endpoint.Accept(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEndpoint_DialSelfRejected(t *testing.T) {
	endpoint := newClientEndpoint(t)
	ticket := NewTicket(endpoint.AddrInfo())
	if _, err := endpoint.Dial(context.Background(), ticket); !errors.Is(err, ErrPeerUnreachable) {
		t.Fatalf("expected ErrPeerUnreachable, got %v", err)
	}
}

func TestEndpoint_DialUnreachablePeer(t *testing.T) {
	endpoint := newClientEndpoint(t)
	ticket := Ticket{
		NodeID:      testPeerID(t),
		DirectAddrs: []ma.Multiaddr{mustMultiaddr(t, "/ip4/127.0.0.1/tcp/1")},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := endpoint.Dial(ctx, ticket); !errors.Is(err, ErrPeerUnreachable) {
		t.Fatalf("expected ErrPeerUnreachable, got %v", err)
	}
}

func TestEndpoint_UnrelatedProtocolNotAccepted(t *testing.T) {
	server := newClientEndpoint(t)
	client := newClientEndpoint(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Host().Connect(ctx, server.AddrInfo()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Multistream negotiation fails for a protocol nobody registered,
	// and the endpoint never surfaces the stream.
	if _, err := client.Host().NewStream(ctx, server.NodeID(), "/other/1.0.0"); err == nil {
		t.Fatal("stream for an unregistered protocol was opened")
	}

	acceptContext, cancelAccept := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancelAccept()
	if _, err := server.Accept(acceptContext); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no inbound tunnel stream, got %v", err)
	}
}
