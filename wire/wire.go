// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire defines the on-wire message taxonomy and its framing:
// length-prefixed frames, each carrying a tag byte and
// a CBOR serialisation of the message fields. decode(encode(m)) == m
// for every message.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/nodeid"
)

// ProtocolVersion is negotiated during the handshake; a mismatch closes
// the connection.
const ProtocolVersion uint16 = 1

// MaxFrameSize bounds a single frame. Frames beyond this are a protocol
// violation and close the connection rather than allocate unbounded
// memory.
const MaxFrameSize = 4 << 20

var (
	ErrUnknownTag    = errors.New("wire: unknown message tag")
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
	ErrShortFrame    = errors.New("wire: truncated frame")
)

// Tag identifies a message kind on the wire.
type Tag uint8

const (
	TagNodeAnnouncement Tag = iota + 1
	TagInventoryAnnouncement
	TagRefsAnnouncement
	TagSubscribe
	TagPing
	TagPong
)

func (t Tag) String() string {
	switch t {
	case TagNodeAnnouncement:
		return "node-announcement"
	case TagInventoryAnnouncement:
		return "inventory-announcement"
	case TagRefsAnnouncement:
		return "refs-announcement"
	case TagSubscribe:
		return "subscribe"
	case TagPing:
		return "ping"
	case TagPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Message is implemented by every wire message.
type Message interface {
	Tag() Tag
}

// AddressType classifies a node announcement's address records.
type AddressType string

const (
	AddrDNS  AddressType = "dns"
	AddrIPv4 AddressType = "ipv4"
	AddrIPv6 AddressType = "ipv6"
	AddrTor  AddressType = "tor"
)

// Address is one advertised endpoint of a node.
type Address struct {
	Type  AddressType `cbor:"type"`
	Value string      `cbor:"value"`
	Port  uint16      `cbor:"port"`
}

// NodeAnnouncement advertises a node's existence, features, alias, and
// addresses. Pow is an opaque non-negative integer; the verifier only
// compares it for equality.
type NodeAnnouncement struct {
	NID       nodeid.NID       `cbor:"nid"`
	Features  uint64           `cbor:"features"`
	Alias     string           `cbor:"alias"`
	Version   uint16           `cbor:"version"`
	Agent     string           `cbor:"agent"`
	Addresses []Address        `cbor:"addresses"`
	Timestamp int64            `cbor:"timestamp"`
	Pow       uint64           `cbor:"pow"`
	Relay     bool             `cbor:"relay"`
	Signature crypto.Signature `cbor:"signature"`
}

func (NodeAnnouncement) Tag() Tag { return TagNodeAnnouncement }

// InventoryAnnouncement advertises the set of repositories a node seeds.
type InventoryAnnouncement struct {
	NID       nodeid.NID       `cbor:"nid"`
	RIDs      []nodeid.RID     `cbor:"rids"`
	Timestamp int64            `cbor:"timestamp"`
	Relay     bool             `cbor:"relay"`
	Signature crypto.Signature `cbor:"signature"`
}

func (InventoryAnnouncement) Tag() Tag { return TagInventoryAnnouncement }

// RefsAnnouncement advertises that a node's refs for a repository
// changed; RefsHash is a digest over the announcing namespace's
// sigrefs manifest so receivers can tell whether they are stale.
type RefsAnnouncement struct {
	NID       nodeid.NID       `cbor:"nid"`
	RID       nodeid.RID       `cbor:"rid"`
	RefsHash  nodeid.ObjectID  `cbor:"refsHash"`
	Timestamp int64            `cbor:"timestamp"`
	Relay     bool             `cbor:"relay"`
	Signature crypto.Signature `cbor:"signature"`
}

func (RefsAnnouncement) Tag() Tag { return TagRefsAnnouncement }

// Subscribe installs an announcement filter on the receiving peer: only
// announcements matching the bloom filter are forwarded back.
type Subscribe struct {
	Filter []byte `cbor:"filter"` // serialised bloom filter, package gossip
	Since  int64  `cbor:"since"`
}

func (Subscribe) Tag() Tag { return TagSubscribe }

// Ping probes a peer for liveness.
type Ping struct {
	Nonce uint64 `cbor:"nonce"`
}

func (Ping) Tag() Tag { return TagPing }

// Pong answers a Ping, echoing its nonce.
type Pong struct {
	Nonce uint64 `cbor:"nonce"`
}

func (Pong) Tag() Tag { return TagPong }

// Encode frames m: 4-byte big-endian length over the tag byte plus the
// CBOR payload.
func Encode(m Message) ([]byte, error) {
	payload, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s: %w", m.Tag(), err)
	}
	frame := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(1+len(payload)))
	frame[4] = byte(m.Tag())
	copy(frame[5:], payload)
	return frame, nil
}

// Decode parses one framed message from b, returning the message and
// the number of bytes consumed.
func Decode(b []byte) (Message, int, error) {
	if len(b) < 5 {
		return nil, 0, ErrShortFrame
	}
	size := binary.BigEndian.Uint32(b[:4])
	if size == 0 {
		return nil, 0, ErrShortFrame
	}
	if size > MaxFrameSize {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	if uint32(len(b)-4) < size {
		return nil, 0, ErrShortFrame
	}
	tag := Tag(b[4])
	payload := b[5 : 4+size]
	msg, err := decodePayload(tag, payload)
	if err != nil {
		return nil, 0, err
	}
	return msg, int(4 + size), nil
}

// ReadMessage reads one framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:4])
	if size == 0 {
		return nil, ErrShortFrame
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	payload := make([]byte, size-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return decodePayload(Tag(header[4]), payload)
}

// WriteMessage frames and writes m to w.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func decodePayload(tag Tag, payload []byte) (Message, error) {
	var (
		msg Message
		err error
	)
	switch tag {
	case TagNodeAnnouncement:
		var m NodeAnnouncement
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case TagInventoryAnnouncement:
		var m InventoryAnnouncement
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case TagRefsAnnouncement:
		var m RefsAnnouncement
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case TagSubscribe:
		var m Subscribe
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case TagPing:
		var m Ping
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case TagPong:
		var m Pong
		err = cbor.Unmarshal(payload, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("wire: unmarshal %s: %w", tag, err)
	}
	return msg, nil
}
