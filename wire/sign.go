// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/luxfi/forge/crypto"
)

// Announcements are signed over the CBOR encoding of their fields with
// the signature zeroed, verified under the sender's advertised NID.

// Announcement is implemented by the three signed announcement kinds.
type Announcement interface {
	Message
	signingCopy() Message
	signature() crypto.Signature
	origin() []byte
}

func (m NodeAnnouncement) signingCopy() Message {
	m.Signature = crypto.Signature{}
	return m
}
func (m NodeAnnouncement) signature() crypto.Signature { return m.Signature }
func (m NodeAnnouncement) origin() []byte              { return m.NID.Bytes() }

func (m InventoryAnnouncement) signingCopy() Message {
	m.Signature = crypto.Signature{}
	return m
}
func (m InventoryAnnouncement) signature() crypto.Signature { return m.Signature }
func (m InventoryAnnouncement) origin() []byte              { return m.NID.Bytes() }

func (m RefsAnnouncement) signingCopy() Message {
	m.Signature = crypto.Signature{}
	return m
}
func (m RefsAnnouncement) signature() crypto.Signature { return m.Signature }
func (m RefsAnnouncement) origin() []byte              { return m.NID.Bytes() }

// SigningBytes returns the byte sequence an announcement's signature
// covers.
func SigningBytes(a Announcement) ([]byte, error) {
	b, err := cbor.Marshal(a.signingCopy())
	if err != nil {
		return nil, fmt.Errorf("wire: signing bytes for %s: %w", a.Tag(), err)
	}
	return b, nil
}

// SignNodeAnnouncement fills in m.Signature under sk.
func SignNodeAnnouncement(m NodeAnnouncement, sk crypto.PrivateKey) (NodeAnnouncement, error) {
	b, err := SigningBytes(m)
	if err != nil {
		return m, err
	}
	m.Signature = crypto.Sign(sk, b)
	return m, nil
}

// SignInventoryAnnouncement fills in m.Signature under sk.
func SignInventoryAnnouncement(m InventoryAnnouncement, sk crypto.PrivateKey) (InventoryAnnouncement, error) {
	b, err := SigningBytes(m)
	if err != nil {
		return m, err
	}
	m.Signature = crypto.Sign(sk, b)
	return m, nil
}

// SignRefsAnnouncement fills in m.Signature under sk.
func SignRefsAnnouncement(m RefsAnnouncement, sk crypto.PrivateKey) (RefsAnnouncement, error) {
	b, err := SigningBytes(m)
	if err != nil {
		return m, err
	}
	m.Signature = crypto.Sign(sk, b)
	return m, nil
}

// VerifyAnnouncement checks a's signature under its origin NID.
func VerifyAnnouncement(a Announcement) error {
	b, err := SigningBytes(a)
	if err != nil {
		return err
	}
	pk, err := crypto.PublicKeyFromBytes(a.origin())
	if err != nil {
		return fmt.Errorf("wire: origin nid as public key: %w", err)
	}
	if !crypto.Verify(pk, b, a.signature()) {
		return crypto.ErrSignatureInvalid
	}
	return nil
}
