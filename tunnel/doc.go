// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

// Package tunnel exposes one local TCP service to remote peers over
// libp2p.
//
// A [Bridge] owns a libp2p [Endpoint] whose identity is persisted in a
// data directory ([LoadOrCreateSecretKey]), so the [Ticket] a bridge
// publishes stays valid across restarts. Remote peers open a stream
// under [ProtocolID], send the [Handshake] preamble, and from then on
// every byte is copied verbatim to and from a fresh TCP connection to
// the bridge's target ([Forward]). Streams with a wrong preamble are
// reset before the target is contacted.
//
// The peer side is [Endpoint.Dial] for a single stream, or a
// [Connector] that listens on a local TCP port and tunnels each
// accepted connection. [Controller] wraps a bridge with start, stop,
// and status operations for long-running hosts.
//
// libp2p supplies transport encryption, NAT traversal (hole punching,
// port mapping) and circuit-relay fallback; this package adds no
// framing of its own.
package tunnel
