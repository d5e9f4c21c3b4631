// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptIdentity means the persisted secret key exists but is
	// not exactly SecretKeySize bytes. The file is left untouched: a
	// peer may have pinned the identity it derives.
	ErrCorruptIdentity = errors.New("tunnel: corrupt identity file")

	// ErrEndpointBind means the peer-to-peer endpoint could not be
	// created, typically because no listen address could be bound.
	ErrEndpointBind = errors.New("tunnel: cannot bind endpoint")

	// ErrEndpointClosed is returned by Endpoint.Accept once the
	// endpoint has been closed.
	ErrEndpointClosed = errors.New("tunnel: endpoint closed")

	// ErrHandshakeRejected means an inbound stream did not start with
	// the expected preamble (short read, I/O error, or mismatch).
	ErrHandshakeRejected = errors.New("tunnel: handshake rejected")

	// ErrConnect means the local target could not be reached after a
	// valid handshake.
	ErrConnect = errors.New("tunnel: cannot connect to local target")

	// ErrPeerUnreachable means Endpoint.Dial could not connect to the
	// peer named by a ticket or open a tunnel stream to it.
	ErrPeerUnreachable = errors.New("tunnel: cannot reach peer")

	// ErrCancelled means forwarding was aborted by cancellation. It is
	// the expected outcome of an interrupt, not a fault.
	ErrCancelled = errors.New("tunnel: cancelled")

	// ErrInvalidTicket means a ticket string could not be decoded.
	ErrInvalidTicket = errors.New("tunnel: invalid ticket")

	// ErrAlreadyRunning is returned by Controller.Start when a bridge
	// is already active.
	ErrAlreadyRunning = errors.New("tunnel: bridge is already running")
)

// IOError is a filesystem failure while managing persisted state. Op
// names the step that failed ("read", "write", "mkdir", "lock") so the
// operator can tell a permissions problem on the directory from one on
// the key file.
//
//	var ioErr *tunnel.IOError
//	if errors.As(err, &ioErr) && ioErr.Op == "lock" { ... }
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("tunnel: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
