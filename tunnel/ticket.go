// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"bytes"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/zeebo/blake3"

	"github.com/theopenpresenter/tunnel/lib/codec"
)

// ticketPrefix starts every ticket string so a pasted value is
// recognizable at a glance and cannot be confused with a bare peer ID.
const ticketPrefix = "tunnel"

// ticketChecksumSize is the number of BLAKE3 bytes appended to the
// encoded payload. Tickets are copied by hand; the checksum turns a
// typo into a clear parse error instead of a dial to a wrong peer.
const ticketChecksumSize = 4

// ticketDomainKey separates ticket checksums from any other BLAKE3
// keyed hash. ASCII, zero-padded to 32 bytes.
var ticketDomainKey = [32]byte{
	'o', 'p', 'e', 'n', 'p', 'r', 'e', 's', 'e', 'n', 't', 'e', 'r', '.',
	't', 'u', 'n', 'n', 'e', 'l', '.', 't', 'i', 'c', 'k', 'e', 't',
}

// ticketEncoding is lowercase RFC 4648 base32 without padding: safe in
// URLs, shells and chat messages, and case-insensitive on input.
var ticketEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// Ticket describes how to reach one endpoint: its public identifier
// plus reachability hints. It is generated once when a bridge starts
// and handed to remote peers out of band.
type Ticket struct {
	NodeID      peer.ID
	RelayAddrs  []ma.Multiaddr
	DirectAddrs []ma.Multiaddr
}

// ticketPayload is the CBOR form of a Ticket.
type ticketPayload struct {
	NodeID      []byte   `cbor:"1,keyasint"`
	RelayAddrs  [][]byte `cbor:"2,keyasint,omitempty"`
	DirectAddrs [][]byte `cbor:"3,keyasint,omitempty"`
}

// NewTicket builds a ticket from an address set, sorting each address
// into the relay or direct list.
func NewTicket(info peer.AddrInfo) Ticket {
	ticket := Ticket{NodeID: info.ID}
	for _, address := range info.Addrs {
		if isRelayAddr(address) {
			ticket.RelayAddrs = append(ticket.RelayAddrs, address)
		} else {
			ticket.DirectAddrs = append(ticket.DirectAddrs, address)
		}
	}
	return ticket
}

// AddrInfo returns the ticket as a libp2p dial target, direct
// addresses first.
func (t Ticket) AddrInfo() peer.AddrInfo {
	addresses := make([]ma.Multiaddr, 0, len(t.DirectAddrs)+len(t.RelayAddrs))
	addresses = append(addresses, t.DirectAddrs...)
	addresses = append(addresses, t.RelayAddrs...)
	return peer.AddrInfo{ID: t.NodeID, Addrs: addresses}
}

// Encode returns the shareable string form of the ticket.
func (t Ticket) Encode() (string, error) {
	if t.NodeID == "" {
		return "", fmt.Errorf("%w: missing node ID", ErrInvalidTicket)
	}
	payload := ticketPayload{NodeID: []byte(t.NodeID)}
	for _, address := range t.RelayAddrs {
		payload.RelayAddrs = append(payload.RelayAddrs, address.Bytes())
	}
	for _, address := range t.DirectAddrs {
		payload.DirectAddrs = append(payload.DirectAddrs, address.Bytes())
	}

	data, err := codec.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding ticket: %w", err)
	}
	data = append(data, ticketChecksum(data)...)
	return ticketPrefix + ticketEncoding.EncodeToString(data), nil
}

// String returns the encoded ticket, or an empty string for a ticket
// without a node ID.
func (t Ticket) String() string {
	encoded, err := t.Encode()
	if err != nil {
		return ""
	}
	return encoded
}

// ParseTicket decodes a ticket string produced by Encode. Surrounding
// whitespace is ignored and the base32 body is case-insensitive.
func ParseTicket(value string) (Ticket, error) {
	value = strings.TrimSpace(value)
	body, found := strings.CutPrefix(strings.ToLower(value), ticketPrefix)
	if !found {
		return Ticket{}, fmt.Errorf("%w: missing %q prefix", ErrInvalidTicket, ticketPrefix)
	}

	data, err := ticketEncoding.DecodeString(body)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if len(data) <= ticketChecksumSize {
		return Ticket{}, fmt.Errorf("%w: too short", ErrInvalidTicket)
	}
	encoded, checksum := data[:len(data)-ticketChecksumSize], data[len(data)-ticketChecksumSize:]
	if !bytes.Equal(checksum, ticketChecksum(encoded)) {
		return Ticket{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidTicket)
	}

	var payload ticketPayload
	if err := codec.Unmarshal(encoded, &payload); err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}

	nodeID, err := peer.IDFromBytes(payload.NodeID)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: node ID: %v", ErrInvalidTicket, err)
	}
	ticket := Ticket{NodeID: nodeID}
	for _, raw := range payload.RelayAddrs {
		address, err := ma.NewMultiaddrBytes(raw)
		if err != nil {
			return Ticket{}, fmt.Errorf("%w: relay address: %v", ErrInvalidTicket, err)
		}
		ticket.RelayAddrs = append(ticket.RelayAddrs, address)
	}
	for _, raw := range payload.DirectAddrs {
		address, err := ma.NewMultiaddrBytes(raw)
		if err != nil {
			return Ticket{}, fmt.Errorf("%w: direct address: %v", ErrInvalidTicket, err)
		}
		ticket.DirectAddrs = append(ticket.DirectAddrs, address)
	}
	return ticket, nil
}

func ticketChecksum(data []byte) []byte {
	hasher, err := blake3.NewKeyed(ticketDomainKey[:])
	if err != nil {
		panic("tunnel: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	return hasher.Sum(nil)[:ticketChecksumSize]
}

// isRelayAddr reports whether address routes through a circuit relay.
func isRelayAddr(address ma.Multiaddr) bool {
	_, err := address.ValueForProtocol(ma.P_CIRCUIT)
	return err == nil
}
