// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for tunnel packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout pattern so individual tests never block forever
// on a channel that a broken implementation fails to signal.
//
// [TCPPair], [EchoServer], and [RefusedAddress] build loopback TCP
// fixtures: a connected socket pair, a local service that echoes bytes
// back and honors half-close, and an address where nothing listens.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
