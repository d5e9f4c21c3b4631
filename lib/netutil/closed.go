// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/libp2p/go-libp2p/core/network"
)

// IsExpectedCloseError reports whether err is a normal end of a
// forwarded connection rather than a fault worth reporting: EOF, a
// closed connection, broken pipe, connection reset, or a reset libp2p
// stream.
//
// A tunnel tears down from either end. When the peer resets its
// stream, the surviving copy sees network.ErrReset; when the local
// service drops its socket, writes toward it fail with EPIPE or
// ECONNRESET. None of these indicate a bug in the bridge.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, network.ErrReset) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
