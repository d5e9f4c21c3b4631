// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"io"
	"net"
	"sync"
	"testing"
)

// TCPPair returns two ends of a loopback TCP connection. Both are closed
// when the test completes.
func TCPPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listening on loopback: %v", err)
	}
	defer listener.Close()

	accepted := make(chan *net.TCPConn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := listener.AcceptTCP()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	dialed, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("dialing loopback listener: %v", err)
	}
	t.Cleanup(func() { dialed.Close() })

	select {
	case conn := <-accepted:
		t.Cleanup(func() { conn.Close() })
		return dialed, conn
	case err := <-acceptErr:
		t.Fatalf("accepting loopback connection: %v", err)
	}
	panic("unreachable")
}

// Echo is a loopback TCP service started by EchoServer.
type Echo struct {
	// Address is the host:port the service listens on.
	Address string

	mutex    sync.Mutex
	accepted int
	received []byte
}

// Accepted reports how many connections the service has accepted.
func (e *Echo) Accepted() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.accepted
}

// Received returns every byte the service has read, across all
// connections, in arrival order.
func (e *Echo) Received() []byte {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]byte(nil), e.received...)
}

func (e *Echo) Write(data []byte) (int, error) {
	e.mutex.Lock()
	e.received = append(e.received, data...)
	e.mutex.Unlock()
	return len(data), nil
}

// EchoServer starts a TCP service on loopback that writes back every
// byte it reads. When the client half-closes, the server finishes
// echoing and half-closes its own write side. Bytes are recorded before
// they are echoed, so a client that has read its echo can rely on
// Received.
func EchoServer(t *testing.T) *Echo {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("starting echo server: %v", err)
	}

	echo := &Echo{Address: listener.Addr().String()}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			echo.mutex.Lock()
			echo.accepted++
			echo.mutex.Unlock()
			go func() {
				defer conn.Close()
				io.Copy(conn, io.TeeReader(conn, echo))
				if tcp, ok := conn.(*net.TCPConn); ok {
					tcp.CloseWrite()
				}
			}()
		}
	}()
	t.Cleanup(func() {
		listener.Close()
	})
	return echo
}

// RefusedAddress returns a loopback address where nothing is listening.
// The port was bound briefly and released, so a connect attempt fails
// with "connection refused" unless another process races for the port.
func RefusedAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving loopback port: %v", err)
	}
	address := listener.Addr().String()
	listener.Close()
	return address
}
