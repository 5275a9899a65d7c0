// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package identity

import (
	"fmt"
	"sort"

	"github.com/luxfi/forge/canonical"
	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/nodeid"
)

// The rad/id ref points at a blob holding the full revision history in
// this wire form. Decoding re-verifies every signature, so a chain read
// from an untrusted namespace carries no more authority than its
// signatures earn.

type wireRevision struct {
	ID         nodeid.ObjectID   `json:"id"`
	Parent     nodeid.ObjectID   `json:"parent"`
	Author     nodeid.NID        `json:"author"`
	Document   Document          `json:"document"`
	Signatures map[string][]byte `json:"signatures"` // NID string -> signature bytes
	Rejections map[string][]byte `json:"rejections,omitempty"`
	Timestamp  int64             `json:"timestamp"`
}

type wireChain struct {
	Revisions []wireRevision `json:"revisions"`
}

// MarshalChain serialises the chain's full revision history for the
// rad/id blob.
func MarshalChain(c *Chain) ([]byte, error) {
	ordered := c.orderedRevisions()
	out := wireChain{Revisions: make([]wireRevision, 0, len(ordered))}
	for _, rev := range ordered {
		sigs := make(map[string][]byte, len(rev.Signatures))
		for nid, sig := range rev.Signatures {
			sigs[nid.String()] = sig.Bytes()
		}
		var rejects map[string][]byte
		if len(rev.Rejections) > 0 {
			rejects = make(map[string][]byte, len(rev.Rejections))
			for nid, sig := range rev.Rejections {
				rejects[nid.String()] = sig.Bytes()
			}
		}
		out.Revisions = append(out.Revisions, wireRevision{
			ID:         rev.ID,
			Parent:     rev.Parent,
			Author:     rev.Author,
			Document:   rev.Document,
			Signatures: sigs,
			Rejections: rejects,
			Timestamp:  rev.Timestamp,
		})
	}
	return canonical.Marshal(out)
}

// UnmarshalChain rebuilds a chain from a rad/id blob, re-verifying the
// author signature of every revision and replaying every additional
// delegate signature through Accept so statuses are re-derived locally,
// never trusted from the wire.
func UnmarshalChain(data []byte) (*Chain, error) {
	var wc wireChain
	if err := canonical.Unmarshal(data, &wc); err != nil {
		return nil, fmt.Errorf("identity: decode chain: %w", err)
	}
	if len(wc.Revisions) == 0 {
		return nil, fmt.Errorf("identity: chain has no revisions")
	}

	c := NewChain()
	for i, wr := range wc.Revisions {
		authorSig, err := signatureFor(wr, wr.Author)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			if wr.Parent != (nodeid.ObjectID{}) {
				return nil, fmt.Errorf("identity: first revision is not a genesis")
			}
			if _, err := c.ImportInit(wr.Document, wr.Author, authorSig, wr.Timestamp); err != nil {
				return nil, fmt.Errorf("identity: replay genesis: %w", err)
			}
		} else {
			if _, err := c.ImportPropose(wr.Parent, wr.Document, wr.Author, authorSig, wr.Timestamp); err != nil {
				return nil, fmt.Errorf("identity: replay revision %s: %w", wr.ID, err)
			}
		}
		for nidStr, sigBytes := range wr.Signatures {
			nid, err := nodeid.ParseNID(nidStr)
			if err != nil {
				return nil, fmt.Errorf("identity: decode signer nid: %w", err)
			}
			if nid == wr.Author {
				continue
			}
			pk, sig, err := signerFor(nid, sigBytes)
			if err != nil {
				return nil, err
			}
			if err := c.Accept(wr.ID, pk, sig); err != nil {
				return nil, fmt.Errorf("identity: replay signature on %s: %w", wr.ID, err)
			}
		}
		for nidStr, sigBytes := range wr.Rejections {
			nid, err := nodeid.ParseNID(nidStr)
			if err != nil {
				return nil, fmt.Errorf("identity: decode rejecter nid: %w", err)
			}
			pk, sig, err := signerFor(nid, sigBytes)
			if err != nil {
				return nil, err
			}
			if err := c.Reject(wr.ID, pk, sig); err != nil {
				return nil, fmt.Errorf("identity: replay rejection on %s: %w", wr.ID, err)
			}
		}
	}
	return c, nil
}

func signerFor(nid nodeid.NID, sigBytes []byte) (crypto.PublicKey, crypto.Signature, error) {
	pk, err := crypto.PublicKeyFromBytes(nid.Bytes())
	if err != nil {
		return crypto.PublicKey{}, crypto.Signature{}, err
	}
	sig, err := crypto.SignatureFromBytes(sigBytes)
	if err != nil {
		return crypto.PublicKey{}, crypto.Signature{}, err
	}
	return pk, sig, nil
}

func signatureFor(wr wireRevision, nid nodeid.NID) (crypto.Signature, error) {
	raw, ok := wr.Signatures[nid.String()]
	if !ok {
		return crypto.Signature{}, fmt.Errorf("identity: revision %s missing author signature", wr.ID)
	}
	return crypto.SignatureFromBytes(raw)
}

// orderedRevisions returns every revision parent-before-child, siblings
// in ascending id order, so MarshalChain output is deterministic.
func (c *Chain) orderedRevisions() []*Revision {
	var genesis nodeid.ObjectID
	for id, rev := range c.revisions {
		if rev.Parent == (nodeid.ObjectID{}) {
			genesis = id
			break
		}
	}
	var out []*Revision
	queue := []nodeid.ObjectID{genesis}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		rev, ok := c.revisions[id]
		if !ok {
			continue
		}
		out = append(out, rev)
		children := append([]nodeid.ObjectID(nil), c.children[id]...)
		sort.Slice(children, func(i, j int) bool { return children[i].Less(children[j]) })
		queue = append(queue, children...)
	}
	return out
}

// Genesis returns the genesis revision id.
func (c *Chain) Genesis() (nodeid.ObjectID, error) {
	for id, rev := range c.revisions {
		if rev.Parent == (nodeid.ObjectID{}) {
			return id, nil
		}
	}
	return nodeid.ObjectID{}, ErrUnknownRevision
}

// Contains reports whether the chain holds a revision with the given id.
func (c *Chain) Contains(id nodeid.ObjectID) bool {
	_, ok := c.revisions[id]
	return ok
}

// RepoID derives the repository identifier from the genesis identity
// commit: the RID is the genesis revision's id, the hash over its
// parent, author, document and timestamp.
func RepoID(genesis nodeid.ObjectID) nodeid.RID {
	var rid nodeid.RID
	copy(rid[:], genesis.Bytes())
	return rid
}
