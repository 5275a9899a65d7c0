// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crypto wraps edwards-curve keypairs and detached signatures for
// the rest of the stack. Every signature in the system is attributable to
// a node identifier derived from the signer's public key (nodeid.NID).
//
// Callers are responsible for producing the canonical byte sequence that
// gets signed (package canonical); this package only signs and verifies
// whatever bytes it is given.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/luxfi/forge/nodeid"
)

// SignatureSize is the length in bytes of a detached signature.
const SignatureSize = ed25519.SignatureSize

// ErrSignatureInvalid is the SignatureInvalid error kind. Verify itself
// reports a bool; higher-level callers (e.g. wire.VerifyAnnouncement)
// return this error when it fails.
var ErrSignatureInvalid = errors.New("crypto: signature invalid")

// PublicKey is an edwards25519 public key.
type PublicKey struct{ key ed25519.PublicKey }

// PrivateKey is an edwards25519 private key, the signing half of a
// keypair. It is never sent over the wire; its 32-byte seed (Seed) is
// the form a node persists on disk.
type PrivateKey struct{ key ed25519.PrivateKey }

// Signature is a 64-byte detached edwards25519 signature.
type Signature [SignatureSize]byte

// GenerateKeypair creates a new keypair. Pass crypto/rand.Reader in
// production; tests may pass a deterministic source for repeatable NIDs.
func GenerateKeypair(r io.Reader) (PublicKey, PrivateKey, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return PublicKey{}, PrivateKey{}, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return PublicKey{key: pub}, PrivateKey{key: priv}, nil
}

// PublicKeyFromBytes parses a raw 32-byte public key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("crypto: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	key := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(key, b)
	return PublicKey{key: key}, nil
}

// Bytes returns the raw public key bytes.
func (pk PublicKey) Bytes() []byte { return []byte(pk.key) }

// NID derives the node identifier this public key attests operations
// under.
func (pk PublicKey) NID() nodeid.NID {
	id, err := nodeid.NIDFromBytes(pk.key)
	if err != nil {
		// pk.key is always ed25519.PublicKeySize == nodeid.Size.
		panic(err)
	}
	return id
}

// Sign produces a detached signature over msg. Callers pass the exact
// byte sequence to be verified later — canonical serialisation, if any,
// must already have been applied.
func Sign(sk PrivateKey, msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(sk.key, msg))
	return sig
}

// Verify reports whether sig is a valid signature over msg under pk.
func Verify(pk PublicKey, msg []byte, sig Signature) bool {
	return ed25519.Verify(pk.key, msg, sig[:])
}

// NID is a convenience for deriving a signer's node id directly from a
// private key, used when a component holds a signing identity end to end.
func (sk PrivateKey) NID() nodeid.NID {
	pub, ok := sk.key.Public().(ed25519.PublicKey)
	if !ok {
		panic("crypto: unexpected public key type")
	}
	id, err := nodeid.NIDFromBytes(pub)
	if err != nil {
		panic(err)
	}
	return id
}

// Sign is a convenience method mirroring Sign(sk, msg).
func (sk PrivateKey) Sign(msg []byte) Signature { return Sign(sk, msg) }

// PublicKey returns the public half of the keypair.
func (sk PrivateKey) PublicKey() PublicKey {
	pub, ok := sk.key.Public().(ed25519.PublicKey)
	if !ok {
		panic("crypto: unexpected public key type")
	}
	return PublicKey{key: pub}
}

// SeedSize is the length of the private scalar a key persists as.
const SeedSize = ed25519.SeedSize

// PrivateKeyFromSeed reconstructs a keypair from a persisted 32-byte
// seed, the on-disk form of a node's signing identity.
func PrivateKeyFromSeed(seed []byte) (PrivateKey, error) {
	if len(seed) != SeedSize {
		return PrivateKey{}, fmt.Errorf("crypto: seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	return PrivateKey{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns the private scalar for persistence.
func (sk PrivateKey) Seed() []byte { return sk.key.Seed() }

// SignatureFromBytes parses a raw 64-byte detached signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != SignatureSize {
		return sig, fmt.Errorf("crypto: signature must be %d bytes, got %d", SignatureSize, len(b))
	}
	copy(sig[:], b)
	return sig, nil
}

// Bytes returns the raw signature bytes.
func (s Signature) Bytes() []byte { return s[:] }
