// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sigrefs implements the signed-refs engine: a
// per-namespace manifest enumerating every ref name the namespace owns,
// signed by the namespace's NID. A remote namespace is only admitted
// into local storage once its sigrefs manifest verifies and every
// listed ref is present locally at the stated object id.
package sigrefs

import (
	"errors"
	"fmt"
	"sort"

	"github.com/luxfi/forge/canonical"
	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/nodeid"
	"github.com/luxfi/forge/store"
)

// Error kinds.
var (
	ErrSigrefsMissing   = errors.New("sigrefs: manifest missing")
	ErrSignatureInvalid = errors.New("sigrefs: signature invalid")
	ErrRefMissingLocal  = errors.New("sigrefs: ref present in manifest but not locally")
	ErrRefMismatch      = errors.New("sigrefs: local ref object id differs from manifest")
)

// Entry is one ref name -> object id pair, serialised with a lowercase
// hex object id.
type Entry struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Manifest is the signed content of a namespace's rad/sigrefs ref.
type Manifest struct {
	Refs      []Entry               `json:"refs"`
	Root      string                `json:"root"`
	Signature crypto.Signature      `json:"-"`
}

// signingPayload is the part of the manifest that gets signed: refs and
// root, but never the signature field itself.
type signingPayload struct {
	Refs []Entry `json:"refs"`
	Root string  `json:"root"`
}

func (m Manifest) signingBytes() ([]byte, error) {
	return canonical.Marshal(signingPayload{Refs: m.Refs, Root: m.Root})
}

// Update enumerates every ref under namespace except rad/sigrefs,
// produces the canonical serialisation (ascending ref name, object ids
// as lowercase hex), signs it with sk (which must derive namespace.NID),
// and writes the result as namespace's rad/sigrefs ref, transactionally
// with whatever ref change triggered the update.
//
// tx is an open transaction the caller has already staged other ref
// writes into, so the sigrefs write lands in the same atomic commit as
// the ref change that triggered it.
func Update(s *store.Store, tx *store.Transaction, namespace store.Namespace, sk crypto.PrivateKey) (Manifest, error) {
	if sk.NID() != namespace.NID {
		return Manifest{}, fmt.Errorf("sigrefs: signer %s does not match namespace %s", sk.NID(), namespace.NID)
	}

	refs, err := s.ListRefs(namespace)
	if err != nil {
		return Manifest{}, fmt.Errorf("sigrefs: list refs: %w", err)
	}

	names := store.SortedRefNames(refs)
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, Entry{Name: string(name), ID: refs[name].Hex()})
	}

	root := refs[store.RefRoot]

	m := Manifest{Refs: entries, Root: root.Hex()}
	payload, err := m.signingBytes()
	if err != nil {
		return Manifest{}, err
	}
	m.Signature = crypto.Sign(sk, payload)

	blob, err := canonical.Marshal(wireManifest{Refs: m.Refs, Root: m.Root, Signature: m.Signature.Bytes()})
	if err != nil {
		return Manifest{}, err
	}
	blobID, err := s.PutBlob(blob)
	if err != nil {
		return Manifest{}, fmt.Errorf("sigrefs: put manifest blob: %w", err)
	}
	if err := tx.SetRef(store.RefSigrefs, blobID); err != nil {
		return Manifest{}, fmt.Errorf("sigrefs: stage sigrefs ref: %w", err)
	}
	return m, nil
}

// wireManifest is the on-disk encoding of a Manifest, carrying the
// signature alongside the signed fields (Manifest itself hides
// Signature from json so signingBytes never accidentally includes it).
type wireManifest struct {
	Refs      []Entry `json:"refs"`
	Root      string  `json:"root"`
	Signature []byte  `json:"signature"`
}

// Load reads and parses the sigrefs manifest for namespace, without
// verifying it. Returns ErrSigrefsMissing if no rad/sigrefs ref exists.
func Load(s *store.Store, namespace store.Namespace) (Manifest, error) {
	id, ok, err := s.ReadRef(namespace, store.RefSigrefs)
	if err != nil {
		return Manifest{}, err
	}
	if !ok {
		return Manifest{}, ErrSigrefsMissing
	}
	blob, err := s.GetBlob(id)
	if err != nil {
		return Manifest{}, fmt.Errorf("sigrefs: get manifest blob: %w", err)
	}
	var wire wireManifest
	if err := canonical.Unmarshal(blob, &wire); err != nil {
		return Manifest{}, fmt.Errorf("sigrefs: decode manifest: %w", err)
	}
	sig, err := crypto.SignatureFromBytes(wire.Signature)
	if err != nil {
		return Manifest{}, fmt.Errorf("sigrefs: decode signature: %w", err)
	}
	return Manifest{Refs: wire.Refs, Root: wire.Root, Signature: sig}, nil
}

// Verify checks that namespace's rad/sigrefs ref exists, verifies under
// the namespace's own NID, and that every listed ref is present locally
// at the stated object id. This is the gatekeeper for admitting a
// foreign namespace into local storage.
func Verify(s *store.Store, namespace store.Namespace) error {
	m, err := Load(s, namespace)
	if err != nil {
		return err
	}

	payload, err := m.signingBytes()
	if err != nil {
		return err
	}
	pk, err := crypto.PublicKeyFromBytes(namespace.NID.Bytes())
	if err != nil {
		return fmt.Errorf("sigrefs: namespace nid as public key: %w", err)
	}
	if !crypto.Verify(pk, payload, m.Signature) {
		return ErrSignatureInvalid
	}

	for _, entry := range m.Refs {
		want, err := nodeid.ObjectIDFromHex(entry.ID)
		if err != nil {
			return fmt.Errorf("sigrefs: decode ref %s object id: %w", entry.Name, err)
		}
		got, ok, err := s.ReadRef(namespace, store.RefName(entry.Name))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrRefMissingLocal, entry.Name)
		}
		if got != want {
			return fmt.Errorf("%w: %s", ErrRefMismatch, entry.Name)
		}
	}
	return nil
}

// SortedEntries returns a copy of entries sorted by ref name, the canonical order
// Update always produces; exposed so callers that rebuild a Manifest by
// hand (tests, fixtures) can normalise it before comparing.
func SortedEntries(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
