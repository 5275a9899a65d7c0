// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package nodeid defines the three identifier families the stack is built
// on: NID (a node's raw edwards-curve public key), RID (the content hash
// of a repository's genesis identity commit) and ObjectID (a generic
// content-addressed id for commits, trees, blobs, and COB operations).
// All three are fixed-size, bytewise-comparable, and round-trip through a
// multibase string encoding.
package nodeid

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/multiformats/go-multibase"
)

// Size is the byte length of every identifier in this package: an
// edwards25519 public key and a 32-byte content hash are both 32 bytes.
const Size = 32

// ErrWrongLength is returned when decoding bytes of the wrong size.
var ErrWrongLength = errors.New("nodeid: wrong byte length")

// NID is a node identifier: the byte encoding of an edwards-curve public
// key. NIDs are compared bytewise.
type NID [Size]byte

// RID is a repository identifier: the content-hash id of the genesis
// identity revision, immutable for the lifetime of the repository.
type RID [Size]byte

// ObjectID is a generic content-addressed identifier for blobs, trees,
// commits, and COB operations.
type ObjectID [Size]byte

// NIDFromBytes decodes a raw 32-byte public key into a NID.
func NIDFromBytes(b []byte) (NID, error) {
	var id NID
	if len(b) != Size {
		return id, fmt.Errorf("%w: got %d bytes", ErrWrongLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ObjectIDFromBytes decodes a raw 32-byte hash into an ObjectID.
func ObjectIDFromBytes(b []byte) (ObjectID, error) {
	var id ObjectID
	if len(b) != Size {
		return id, fmt.Errorf("%w: got %d bytes", ErrWrongLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// RIDFromBytes decodes a raw 32-byte hash into a RID.
func RIDFromBytes(b []byte) (RID, error) {
	var id RID
	if len(b) != Size {
		return id, fmt.Errorf("%w: got %d bytes", ErrWrongLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the raw bytes of the NID.
func (n NID) Bytes() []byte { return n[:] }

// Bytes returns the raw bytes of the ObjectID.
func (o ObjectID) Bytes() []byte { return o[:] }

// Bytes returns the raw bytes of the RID.
func (r RID) Bytes() []byte { return r[:] }

// Compare returns -1, 0, or 1 as n is bytewise less than, equal to, or
// greater than other. Canonical serialisation (sigrefs, ref lists) sorts
// by this order.
func (n NID) Compare(other NID) int { return bytes.Compare(n[:], other[:]) }

// Compare returns -1, 0, or 1 as o is bytewise less than, equal to, or
// greater than other. Used for the lexical tie-break in canonical-ref
// election and COB operation ordering.
func (o ObjectID) Compare(other ObjectID) int { return bytes.Compare(o[:], other[:]) }

// Less reports whether o sorts strictly before other.
func (o ObjectID) Less(other ObjectID) bool { return o.Compare(other) < 0 }

// IsZero reports whether the id is the all-zero value, used as a sentinel
// for "no parent"/"no tip".
func (o ObjectID) IsZero() bool { return o == ObjectID{} }

// String returns the multibase (base32, lowercase, RFC4648 no padding)
// encoding of the NID, matching the on-disk and on-wire representation.
func (n NID) String() string { return encode(n[:]) }

// String returns the multibase encoding of the RID.
func (r RID) String() string { return encode(r[:]) }

// String returns the multibase encoding of the ObjectID. Object ids are
// also rendered as plain lowercase hex inside signed-refs manifests,
// see Hex.
func (o ObjectID) String() string { return encode(o[:]) }

// Hex returns the lowercase hex form of the ObjectID, the encoding the
// sigrefs canonical serialisation requires.
func (o ObjectID) Hex() string { return hex.EncodeToString(o[:]) }

// ObjectIDFromHex parses a lowercase hex object id as found in a sigrefs
// manifest entry.
func ObjectIDFromHex(s string) (ObjectID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ObjectID{}, fmt.Errorf("nodeid: decode hex object id: %w", err)
	}
	return ObjectIDFromBytes(b)
}

// DID returns the did:key:<NID> string form used to address a delegate
// externally.
func (n NID) DID() string { return "did:key:" + n.String() }

// ParseNID decodes a multibase-encoded NID string.
func ParseNID(s string) (NID, error) {
	b, err := decode(s)
	if err != nil {
		return NID{}, err
	}
	return NIDFromBytes(b)
}

// ParseRID decodes a multibase-encoded RID string.
func ParseRID(s string) (RID, error) {
	b, err := decode(s)
	if err != nil {
		return RID{}, err
	}
	return RIDFromBytes(b)
}

// ParseObjectID decodes a multibase-encoded ObjectID string.
func ParseObjectID(s string) (ObjectID, error) {
	b, err := decode(s)
	if err != nil {
		return ObjectID{}, err
	}
	return ObjectIDFromBytes(b)
}

func encode(b []byte) string {
	s, err := multibase.Encode(multibase.Base32, b)
	if err != nil {
		// Base32 encoding of a fixed-size byte slice cannot fail.
		panic(err)
	}
	return s
}

func decode(s string) ([]byte, error) {
	_, b, err := multibase.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("nodeid: decode multibase: %w", err)
	}
	return b, nil
}
