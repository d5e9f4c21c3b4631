// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	tunneltest "github.com/theopenpresenter/tunnel/lib/testutil"
)

func startTestConnector(t *testing.T, bridge *Bridge, metrics *Metrics) *Connector {
	t.Helper()
	ticket, err := ParseTicket(bridge.Ticket())
	if err != nil {
		t.Fatalf("ParseTicket: %v", err)
	}
	connector := &Connector{
		Endpoint:    newClientEndpoint(t),
		Ticket:      ticket,
		ListenAddr:  "127.0.0.1:0",
		DialTimeout: 10 * time.Second,
		Metrics:     metrics,
	}
	if err := connector.Start(context.Background()); err != nil {
		t.Fatalf("connector Start: %v", err)
	}
	t.Cleanup(connector.Stop)
	return connector
}

func TestConnector_CarriesTCPThroughTunnel(t *testing.T) {
	echo := tunneltest.EchoServer(t)
	target := echo.Address
	bridge := startTestBridge(t, t.TempDir(), target)
	metrics := NewMetrics(prometheus.NewRegistry())
	connector := startTestConnector(t, bridge, metrics)

	for _, payload := range []string{"first client", "second client"} {
		conn, err := net.Dial("tcp", connector.Addr().String())
		if err != nil {
			t.Fatalf("dialing connector: %v", err)
		}
		if _, err := conn.Write([]byte(payload)); err != nil {
			t.Fatalf("write: %v", err)
		}
		conn.(*net.TCPConn).CloseWrite()

		outcome := tunneltest.RequireReceive(t, readAllAsync(conn), 10*time.Second, "waiting for echo through connector")
		conn.Close()
		if outcome.err != nil {
			t.Fatalf("read: %v", outcome.err)
		}
		if string(outcome.data) != payload {
			t.Fatalf("echo = %q, want %q", outcome.data, payload)
		}
	}

	if echo.Accepted() != 2 {
		t.Fatalf("target accepted %d connections, want 2", echo.Accepted())
	}

	connector.Stop()
	if got := testutil.ToFloat64(metrics.activeForwards); got != 0 {
		t.Fatalf("active forwards after stop = %v", got)
	}
	if got := testutil.ToFloat64(metrics.bytesForwarded.WithLabelValues("local_to_remote")); got != float64(len("first client")+len("second client")) {
		t.Fatalf("local_to_remote bytes = %v", got)
	}
}

func TestConnector_UnreachableBridgeCountsDialFailure(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	connector := &Connector{
		Endpoint: newClientEndpoint(t),
		Ticket: Ticket{
			NodeID:      testPeerID(t),
			DirectAddrs: []ma.Multiaddr{mustMultiaddr(t, "/ip4/127.0.0.1/tcp/1")},
		},
		ListenAddr:  "127.0.0.1:0",
		DialTimeout: 5 * time.Second,
		Metrics:     metrics,
	}
	if err := connector.Start(context.Background()); err != nil {
		t.Fatalf("connector Start: %v", err)
	}
	t.Cleanup(connector.Stop)

	conn, err := net.Dial("tcp", connector.Addr().String())
	if err != nil {
		t.Fatalf("dialing connector: %v", err)
	}
	defer conn.Close()

	// The connector closes the local connection once the tunnel dial
	// has failed and been counted.
	outcome := tunneltest.RequireReceive(t, readAllAsync(conn), 15*time.Second, "connector kept a connection to an unreachable bridge")
	if len(outcome.data) != 0 {
		t.Fatalf("received %q from an unreachable bridge", outcome.data)
	}
	if got := testutil.ToFloat64(metrics.dialFailures); got != 1 {
		t.Fatalf("dial failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.connectFailures); got != 0 {
		t.Fatalf("target connect failures = %v, want 0", got)
	}
}

func TestConnector_StartValidation(t *testing.T) {
	tests := []struct {
		name      string
		connector Connector
	}{
		{"no endpoint", Connector{ListenAddr: "127.0.0.1:0"}},
		{"no ticket", Connector{Endpoint: &Endpoint{}, ListenAddr: "127.0.0.1:0"}},
	}
	for i := range tests {
		test := &tests[i]
		t.Run(test.name, func(t *testing.T) {
			if err := test.connector.Start(context.Background()); err == nil {
				test.connector.Stop()
				t.Fatal("expected an error")
			}
		})
	}

	connector := Connector{Endpoint: &Endpoint{}, Ticket: Ticket{NodeID: testPeerID(t)}}
	if err := connector.Start(context.Background()); err == nil {
		t.Fatal("expected an error without ListenAddr")
	}
	if err := (&Connector{Endpoint: &Endpoint{}, ListenAddr: "x"}).Start(context.Background()); !errors.Is(err, ErrInvalidTicket) {
		t.Fatalf("expected ErrInvalidTicket, got %v", err)
	}
}
