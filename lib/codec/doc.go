// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR encoding configuration shared by every
// binary encoding in the tunnel.
//
// Today the only consumer is the connection ticket: a ticket is a CBOR
// document that gets base32-encoded and pasted between machines by hand,
// so the encoding must be byte-for-byte reproducible. The encoder uses
// Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items.
//
// The decoder rejects duplicate map keys, indefinite-length items and
// trailing bytes, and caps nesting depth and array sizes. Tickets arrive
// from untrusted peers and from humans; a malformed one must fail fast
// rather than allocate without bound.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Types that are only ever CBOR use `cbor` struct tags with integer
// keys (`cbor:"1,keyasint"`) to keep encodings short.
package codec
