// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// Handshake is the preamble an initiating peer writes immediately after
// opening a tunnel stream. The bridge reads exactly these bytes before
// it touches the local service.
var Handshake = [5]byte{'h', 'e', 'l', 'l', 'o'}

// DefaultHandshakeTimeout bounds how long a freshly accepted stream may
// take to deliver the preamble.
const DefaultHandshakeTimeout = 10 * time.Second

// readDeadliner is implemented by libp2p streams and net.Conn.
type readDeadliner interface {
	SetReadDeadline(time.Time) error
}

// ReadHandshake reads exactly len(Handshake) bytes from reader and
// compares them with Handshake. A short read, an I/O error, or any
// mismatch returns ErrHandshakeRejected. The stream is not retried.
//
// When reader supports read deadlines and timeout is positive, the read
// is bounded by timeout and the deadline is cleared afterwards so that
// forwarding is not affected.
func ReadHandshake(reader io.Reader, timeout time.Duration) error {
	if deadliner, ok := reader.(readDeadliner); ok && timeout > 0 {
		if err := deadliner.SetReadDeadline(time.Now().Add(timeout)); err == nil {
			defer deadliner.SetReadDeadline(time.Time{})
		}
	}

	var received [len(Handshake)]byte
	if _, err := io.ReadFull(reader, received[:]); err != nil {
		return fmt.Errorf("%w: reading preamble: %v", ErrHandshakeRejected, err)
	}
	if !bytes.Equal(received[:], Handshake[:]) {
		return fmt.Errorf("%w: unexpected preamble %q", ErrHandshakeRejected, received[:])
	}
	return nil
}

// WriteHandshake sends the preamble on a newly opened tunnel stream.
func WriteHandshake(writer io.Writer) error {
	if _, err := writer.Write(Handshake[:]); err != nil {
		return fmt.Errorf("writing handshake: %w", err)
	}
	return nil
}
