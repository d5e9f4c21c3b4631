// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/theopenpresenter/tunnel/lib/testutil"
)

// tcpStream adapts a TCP socket to the Stream interface so forwarding
// can be tested without a libp2p host. Reset closes with SO_LINGER 0,
// which delivers an RST to the far end just as a stream reset does.
type tcpStream struct {
	*net.TCPConn
	resets     atomic.Int32
	readCloses atomic.Int32
}

func (s *tcpStream) Reset() error {
	s.resets.Add(1)
	s.SetLinger(0)
	return s.Close()
}

func (s *tcpStream) CloseRead() error {
	s.readCloses.Add(1)
	return s.TCPConn.CloseRead()
}

type forwardResult struct {
	transfer Transfer
	err      error
}

func startForward(ctx context.Context, remote Stream, local LocalConn) <-chan forwardResult {
	done := make(chan forwardResult, 1)
	go func() {
		transfer, err := Forward(ctx, remote, local)
		done <- forwardResult{transfer, err}
	}()
	return done
}

func TestForward_RoundTripWithHalfClose(t *testing.T) {
	remoteNear, remoteFar := testutil.TCPPair(t)
	localNear, localFar := testutil.TCPPair(t)
	stream := &tcpStream{TCPConn: remoteNear}

	done := startForward(context.Background(), stream, localNear)

	// Remote peer sends its request and finishes its write side.
	if _, err := remoteFar.Write([]byte("request")); err != nil {
		t.Fatalf("remote write: %v", err)
	}
	remoteFar.CloseWrite()

	// The local service must see the request followed by EOF.
	received, err := io.ReadAll(localFar)
	if err != nil {
		t.Fatalf("local read: %v", err)
	}
	if string(received) != "request" {
		t.Fatalf("local received %q", received)
	}

	// The local service replies after seeing EOF, then closes.
	if _, err := localFar.Write([]byte("response!")); err != nil {
		t.Fatalf("local write: %v", err)
	}
	localFar.CloseWrite()

	reply, err := io.ReadAll(remoteFar)
	if err != nil {
		t.Fatalf("remote read: %v", err)
	}
	if string(reply) != "response!" {
		t.Fatalf("remote received %q", reply)
	}

	result := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Forward")
	if result.err != nil {
		t.Fatalf("Forward: %v", result.err)
	}
	if result.transfer.RemoteToLocal != int64(len("request")) {
		t.Errorf("RemoteToLocal = %d", result.transfer.RemoteToLocal)
	}
	if result.transfer.LocalToRemote != int64(len("response!")) {
		t.Errorf("LocalToRemote = %d", result.transfer.LocalToRemote)
	}
	if stream.resets.Load() != 0 {
		t.Error("clean completion reset the remote stream")
	}
}

func TestForward_CancelResetsRemote(t *testing.T) {
	remoteNear, remoteFar := testutil.TCPPair(t)
	localNear, localFar := testutil.TCPPair(t)
	stream := &tcpStream{TCPConn: remoteNear}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startForward(ctx, stream, localNear)

	// Move some bytes before cancelling so the partial count is visible.
	if _, err := remoteFar.Write([]byte("abc")); err != nil {
		t.Fatalf("remote write: %v", err)
	}
	buffer := make([]byte, 3)
	if _, err := io.ReadFull(localFar, buffer); err != nil {
		t.Fatalf("local read: %v", err)
	}

	cancel()

	result := testutil.RequireReceive(t, done, 5*time.Second, "Forward did not return after cancel")
	if !errors.Is(result.err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", result.err)
	}
	if result.transfer.RemoteToLocal != 3 {
		t.Errorf("RemoteToLocal = %d, want 3", result.transfer.RemoteToLocal)
	}
	if stream.resets.Load() == 0 {
		t.Error("cancelled upload did not reset the remote stream")
	}
	if stream.readCloses.Load() == 0 {
		t.Error("cancelled download did not stop the remote read side")
	}

	// The remote peer must observe an abort, never a clean EOF.
	remoteFar.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := io.ReadAll(remoteFar)
	if err == nil {
		t.Fatal("remote peer saw a clean EOF after cancellation")
	}
}

func TestForward_LocalFailureAbortsBothDirections(t *testing.T) {
	remoteNear, _ := testutil.TCPPair(t)
	localNear, localFar := testutil.TCPPair(t)
	stream := &tcpStream{TCPConn: remoteNear}

	done := startForward(context.Background(), stream, localNear)

	// An abortive close of the local service fails the upload direction.
	// The download direction is idle and only ends through cancellation.
	localFar.SetLinger(0)
	localFar.Close()

	result := testutil.RequireReceive(t, done, 5*time.Second, "Forward did not return after local failure")
	if result.err == nil {
		t.Fatal("expected an error after local reset")
	}
	if errors.Is(result.err, ErrCancelled) {
		t.Fatalf("first error should be the local failure, got %v", result.err)
	}
	if stream.resets.Load() == 0 {
		t.Error("failed upload did not reset the remote stream")
	}
}

func TestForward_AlreadyCancelled(t *testing.T) {
	remoteNear, _ := testutil.TCPPair(t)
	localNear, _ := testutil.TCPPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := startForward(ctx, &tcpStream{TCPConn: remoteNear}, localNear)
	result := testutil.RequireReceive(t, done, 5*time.Second, "Forward did not return")
	if !errors.Is(result.err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", result.err)
	}
}
