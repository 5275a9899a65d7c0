// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cob

import (
	"fmt"
	"sort"
	"strings"

	"github.com/luxfi/forge/canonical"
	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/nodeid"
	"github.com/luxfi/forge/store"
)

// Collaborative objects live at cobs/<type>/<object-id> in each
// namespace that touched them. The ref points at the
// namespace's tip operation; every operation is a blob keyed by its
// own id, carrying its parent ids, so the full DAG is reachable from
// any tip.

// wireOperation is the on-disk encoding of one operation.
type wireOperation struct {
	ID        nodeid.ObjectID   `json:"id"`
	Author    nodeid.NID        `json:"author"`
	Parents   []nodeid.ObjectID `json:"parents"`
	Type      string            `json:"type"`
	Payload   []byte            `json:"payload"`
	Timestamp int64             `json:"timestamp"`
	Signature []byte            `json:"signature"`
}

// RefFor returns the ref name an object is anchored at.
func RefFor(typeTag string, objectID nodeid.ObjectID) store.RefName {
	return store.RefName(fmt.Sprintf("cobs/%s/%s", typeTag, objectID.Hex()))
}

// SaveOps persists ops as blobs and stages the object's ref at the tip
// of the appended chain inside tx, so the ref move and the namespace's
// sigrefs update can share one atomic commit.
func SaveOps(s *store.Store, tx *store.Transaction, typeTag string, objectID nodeid.ObjectID, tip nodeid.ObjectID, ops []Operation) error {
	for _, op := range ops {
		blob, err := canonical.Marshal(wireOperation{
			ID:        op.ID,
			Author:    op.Author,
			Parents:   op.Parents,
			Type:      op.Type,
			Payload:   op.Payload,
			Timestamp: op.Timestamp,
			Signature: op.Signature.Bytes(),
		})
		if err != nil {
			return fmt.Errorf("cob: encode operation %s: %w", op.ID, err)
		}
		if err := s.PutBlobAt(op.ID, blob); err != nil {
			return err
		}
	}
	return tx.SetRef(RefFor(typeTag, objectID), tip)
}

// LoadOps collects the object's operations from every given namespace:
// each namespace's cobs ref names its tip, the DAG is walked through
// parent ids, and contributions are unioned by operation id across
// namespaces.
func LoadOps(s *store.Store, rid nodeid.RID, namespaces []nodeid.NID, typeTag string, objectID nodeid.ObjectID) ([]Operation, error) {
	seen := make(map[nodeid.ObjectID]Operation)
	ref := RefFor(typeTag, objectID)

	for _, nsID := range namespaces {
		ns := store.Namespace{RID: rid, NID: nsID}
		tip, ok, err := s.ReadRef(ns, ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := walkOps(s, tip, seen); err != nil {
			return nil, err
		}
	}

	out := make([]Operation, 0, len(seen))
	for _, op := range seen {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out, nil
}

func walkOps(s *store.Store, id nodeid.ObjectID, seen map[nodeid.ObjectID]Operation) error {
	if _, ok := seen[id]; ok {
		return nil
	}
	blob, err := s.GetBlob(id)
	if err != nil {
		return fmt.Errorf("cob: operation blob %s: %w", id, err)
	}
	var w wireOperation
	if err := canonical.Unmarshal(blob, &w); err != nil {
		return fmt.Errorf("cob: decode operation %s: %w", id, err)
	}
	sig, err := crypto.SignatureFromBytes(w.Signature)
	if err != nil {
		return fmt.Errorf("cob: operation %s signature: %w", id, err)
	}
	seen[id] = Operation{
		ID:        w.ID,
		Author:    w.Author,
		Parents:   w.Parents,
		Type:      w.Type,
		Payload:   w.Payload,
		Timestamp: w.Timestamp,
		Signature: sig,
	}
	for _, p := range w.Parents {
		if err := walkOps(s, p, seen); err != nil {
			return err
		}
	}
	return nil
}

// List enumerates every object of typeTag present across the given
// namespaces, deduplicated.
func List(s *store.Store, rid nodeid.RID, namespaces []nodeid.NID, typeTag string) ([]nodeid.ObjectID, error) {
	prefix := fmt.Sprintf("cobs/%s/", typeTag)
	ids := make(map[nodeid.ObjectID]struct{})

	for _, nsID := range namespaces {
		refs, err := s.ListRefs(store.Namespace{RID: rid, NID: nsID})
		if err != nil {
			return nil, err
		}
		for name := range refs {
			if !strings.HasPrefix(string(name), prefix) {
				continue
			}
			id, err := nodeid.ObjectIDFromHex(strings.TrimPrefix(string(name), prefix))
			if err != nil {
				continue
			}
			ids[id] = struct{}{}
		}
	}

	out := make([]nodeid.ObjectID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}
