// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store implements the content-addressed object store
// abstraction: blobs addressed by content hash, namespaced
// refs with atomic compare-and-swap updates, and the transactional
// grouping of a namespace's ref writes with its sigrefs write that the
// "no partial namespace" invariant requires.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/luxfi/forge/nodeid"
	"github.com/luxfi/forge/store/kv"
)

// ErrRefChanged is returned by UpdateRef when the compare-and-swap
// precondition does not hold: the ref's current value differs from the
// expected old value.
var ErrRefChanged = errors.New("store: ref changed concurrently")

// ErrRefNotFound is returned by DeleteRef for a missing ref; ReadRef
// reports a missing ref through its bool result instead.
var ErrRefNotFound = errors.New("store: ref not found")

// ErrBlobNotFound is returned by GetBlob for an unknown object id.
var ErrBlobNotFound = errors.New("store: blob not found")

// RefName is a qualified ref name within a namespace, e.g. "heads/master",
// "tags/v1.0", "cobs/xyz.radicle.issue/<id>", "rad/id", "rad/sigrefs",
// "rad/root".
type RefName string

// Reserved ref names with fixed meaning per namespace.
const (
	RefID      RefName = "rad/id"
	RefSigrefs RefName = "rad/sigrefs"
	RefRoot    RefName = "rad/root"
)

// Namespace is the per-NID subtree of refs inside a repository.
type Namespace struct {
	RID nodeid.RID
	NID nodeid.NID
}

func (n Namespace) prefix() string {
	return fmt.Sprintf("refs/%s/namespaces/%s/", n.RID, n.NID)
}

func (n Namespace) refKey(name RefName) []byte {
	return []byte(n.prefix() + string(name))
}

func blobKey(id nodeid.ObjectID) []byte {
	return []byte("blobs/" + id.Hex())
}

// Store is the content-addressed object store and namespaced ref table
// for every repository a node holds.
type Store struct {
	db kv.Database
	// refMu serialises every compare-and-swap over refs: UpdateRef and
	// transaction commits carrying SetRefCAS expectations. This is what
	// linearises ref updates across concurrent writers.
	refMu sync.Mutex
}

// New wraps a kv.Database as an object Store.
func New(db kv.Database) *Store {
	return &Store{db: db}
}

// PutBlob stores content and returns its content address, the
// BLAKE2b-256 digest of the bytes.
func (s *Store) PutBlob(content []byte) (nodeid.ObjectID, error) {
	sum := blake2b.Sum256(content)
	id, err := nodeid.ObjectIDFromBytes(sum[:])
	if err != nil {
		return nodeid.ObjectID{}, err
	}
	if err := s.db.Put(blobKey(id), content); err != nil {
		return nodeid.ObjectID{}, fmt.Errorf("store: put blob: %w", err)
	}
	return id, nil
}

// PutBlobAt stores content under a caller-supplied object id. The fetch
// sub-protocol uses this for objects minted by a foreign store whose
// ids are not the local content hash (commits, staged manifests).
func (s *Store) PutBlobAt(id nodeid.ObjectID, content []byte) error {
	if err := s.db.Put(blobKey(id), content); err != nil {
		return fmt.Errorf("store: put blob at %s: %w", id, err)
	}
	return nil
}

// GetBlob retrieves content by its object id.
func (s *Store) GetBlob(id nodeid.ObjectID) ([]byte, error) {
	v, err := s.db.Get(blobKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get blob: %w", err)
	}
	return v, nil
}

// ReadRef returns the object id a ref currently points to.
func (s *Store) ReadRef(ns Namespace, name RefName) (nodeid.ObjectID, bool, error) {
	v, err := s.db.Get(ns.refKey(name))
	if errors.Is(err, kv.ErrNotFound) {
		return nodeid.ObjectID{}, false, nil
	}
	if err != nil {
		return nodeid.ObjectID{}, false, fmt.Errorf("store: read ref: %w", err)
	}
	id, err := nodeid.ObjectIDFromBytes(v)
	if err != nil {
		return nodeid.ObjectID{}, false, err
	}
	return id, true, nil
}

// UpdateRef atomically sets name to newID iff its current value equals
// oldID (a zero oldID means "must not already exist"). Ref updates are
// linearised by this compare-and-swap.
func (s *Store) UpdateRef(ns Namespace, name RefName, oldID, newID nodeid.ObjectID) error {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	if err := s.checkRef(ns, name, oldID); err != nil {
		return err
	}
	if err := s.db.Put(ns.refKey(name), newID.Bytes()); err != nil {
		return fmt.Errorf("store: update ref: %w", err)
	}
	return nil
}

// checkRef verifies a single compare-and-swap precondition. Callers
// hold refMu.
func (s *Store) checkRef(ns Namespace, name RefName, oldID nodeid.ObjectID) error {
	cur, exists, err := s.ReadRef(ns, name)
	if err != nil {
		return err
	}
	if exists != (oldID != nodeid.ObjectID{}) || (exists && cur != oldID) {
		return fmt.Errorf("%w: ref %s", ErrRefChanged, name)
	}
	return nil
}

// DeleteRef removes a ref. Policy over which refs may be deleted (e.g.
// the default branch may never be) is enforced by the caller (package
// canon), not here.
func (s *Store) DeleteRef(ns Namespace, name RefName) error {
	_, exists, err := s.ReadRef(ns, name)
	if err != nil {
		return err
	}
	if !exists {
		return ErrRefNotFound
	}
	return s.db.Delete(ns.refKey(name))
}

// ListRefs returns every ref under the namespace, keyed by ref name.
func (s *Store) ListRefs(ns Namespace) (map[RefName]nodeid.ObjectID, error) {
	out := make(map[RefName]nodeid.ObjectID)
	prefix := []byte(ns.prefix())
	err := s.db.Iterate(prefix, func(key, value []byte) bool {
		name := RefName(strings.TrimPrefix(string(key), string(prefix)))
		id, idErr := nodeid.ObjectIDFromBytes(value)
		if idErr != nil {
			return true
		}
		out[name] = id
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("store: list refs: %w", err)
	}
	return out, nil
}

// SortedRefNames returns every ref name in ns in ascending lexical order,
// excluding rad/sigrefs — the order the signed-refs canonical
// serialisation requires.
func SortedRefNames(refs map[RefName]nodeid.ObjectID) []RefName {
	names := make([]RefName, 0, len(refs))
	for name := range refs {
		if name == RefSigrefs {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Transaction groups a namespace's ref writes with its sigrefs write into
// one atomic unit, so a namespace is never observable half-updated.
type Transaction struct {
	store   *Store
	batch   kv.Batch
	ns      Namespace
	expects map[RefName]nodeid.ObjectID
}

// Begin starts a transaction scoped to namespace ns.
func (s *Store) Begin(ns Namespace) *Transaction {
	return &Transaction{store: s, batch: s.db.NewBatch(), ns: ns}
}

// SetRef stages an unconditional ref write: whatever the ref holds at
// commit time is overwritten. Use SetRefCAS when the write must only
// land if the ref still holds an observed old value.
func (t *Transaction) SetRef(name RefName, id nodeid.ObjectID) error {
	return t.batch.Put(t.ns.refKey(name), id.Bytes())
}

// SetRefCAS stages a compare-and-swap ref write: at commit time the ref
// must still hold oldID (zero meaning "must not exist"), or the whole
// transaction fails with ErrRefChanged and nothing is applied.
func (t *Transaction) SetRefCAS(name RefName, oldID, newID nodeid.ObjectID) error {
	if t.expects == nil {
		t.expects = make(map[RefName]nodeid.ObjectID)
	}
	t.expects[name] = oldID
	return t.batch.Put(t.ns.refKey(name), newID.Bytes())
}

// Commit atomically applies every staged ref write. When the
// transaction carries SetRefCAS expectations, they are re-checked under
// the store's ref lock immediately before the batch lands, so a
// concurrent writer surfaces as ErrRefChanged instead of being
// silently overwritten.
func (t *Transaction) Commit() error {
	if len(t.expects) > 0 {
		t.store.refMu.Lock()
		defer t.store.refMu.Unlock()
		for name, oldID := range t.expects {
			if err := t.store.checkRef(t.ns, name, oldID); err != nil {
				return err
			}
		}
	}
	if err := t.batch.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// DB exposes the underlying kv.Database for table helpers (package
// store's Table type) that need their own key prefixes.
func (s *Store) DB() kv.Database { return s.db }
