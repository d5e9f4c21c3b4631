// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
)

// Stream is the remote half of a tunnel connection. libp2p's
// network.Stream satisfies it.
type Stream interface {
	io.Reader
	io.Writer

	// CloseWrite finishes the write side; the peer reads EOF.
	CloseWrite() error

	// CloseRead tells the peer we will read no more.
	CloseRead() error

	// Reset aborts the stream in both directions.
	Reset() error

	SetReadDeadline(time.Time) error
}

// LocalConn is the local half of a tunnel connection. *net.TCPConn
// satisfies it.
type LocalConn interface {
	io.Reader
	io.Writer
	CloseWrite() error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Transfer reports how many bytes moved in each direction.
type Transfer struct {
	LocalToRemote int64
	RemoteToLocal int64
}

type copyResult struct {
	bytesCopied int64
	err         error
}

// Forward copies bytes between remote and local in both directions
// until both directions have ended.
//
// The two directions share one cancellation scope: a failure in either
// direction, or cancellation of ctx, aborts the other so that neither
// blocks forever on a half-open connection. A clean end of the local
// side finishes the remote stream (CloseWrite) and a clean end of the
// remote side half-closes the local socket, so each peer sees an
// orderly EOF. A cancelled direction resets the remote stream (write
// side) or stops it (read side) and reports ErrCancelled.
//
// The returned error is the first direction's failure, or nil when both
// directions ended cleanly. Callers distinguish expected shutdown with
// errors.Is(err, ErrCancelled).
func Forward(ctx context.Context, remote Stream, local LocalConn) (Transfer, error) {
	group, groupContext := errgroup.WithContext(ctx)

	var transfer Transfer
	group.Go(func() error {
		bytesCopied, err := copyLocalToRemote(groupContext, remote, local)
		transfer.LocalToRemote = bytesCopied
		return err
	})
	group.Go(func() error {
		bytesCopied, err := copyRemoteToLocal(groupContext, remote, local)
		transfer.RemoteToLocal = bytesCopied
		return err
	})

	err := group.Wait()
	return transfer, err
}

// copyLocalToRemote copies reads from the local socket onto the remote
// stream.
func copyLocalToRemote(ctx context.Context, remote Stream, local LocalConn) (int64, error) {
	done := make(chan copyResult, 1)
	go func() {
		bytesCopied, err := io.Copy(remote, local)
		done <- copyResult{bytesCopied, err}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			remote.Reset()
			return result.bytesCopied, fmt.Errorf("local to remote: %w", result.err)
		}
		if err := remote.CloseWrite(); err != nil {
			return result.bytesCopied, fmt.Errorf("finishing remote stream: %w", err)
		}
		return result.bytesCopied, nil

	case <-ctx.Done():
		// Reset rather than finish: the peer must not mistake an
		// aborted transfer for a complete one.
		remote.Reset()
		local.SetReadDeadline(time.Now())
		result := <-done
		return result.bytesCopied, ErrCancelled
	}
}

// copyRemoteToLocal copies reads from the remote stream onto the local
// socket.
func copyRemoteToLocal(ctx context.Context, remote Stream, local LocalConn) (int64, error) {
	done := make(chan copyResult, 1)
	go func() {
		bytesCopied, err := io.Copy(local, remote)
		done <- copyResult{bytesCopied, err}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			return result.bytesCopied, fmt.Errorf("remote to local: %w", result.err)
		}
		if err := local.CloseWrite(); err != nil {
			return result.bytesCopied, fmt.Errorf("half-closing local connection: %w", err)
		}
		return result.bytesCopied, nil

	case <-ctx.Done():
		remote.CloseRead()
		remote.SetReadDeadline(time.Now())
		local.SetWriteDeadline(time.Now())
		result := <-done
		return result.bytesCopied, ErrCancelled
	}
}
