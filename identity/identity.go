// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package identity implements the identity-document engine: a typed
// payload plus a mutable delegate set and threshold,
// evolving through an append-only chain of signed revisions. A revision
// is accepted iff its signature set contains at least its parent's
// threshold of distinct delegate NIDs drawn from the parent's delegate
// set; once accepted, every sibling revision becomes stale.
package identity

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"

	"github.com/luxfi/forge/canonical"
	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/internal/container/set"
	"github.com/luxfi/forge/nodeid"
)

// Error kinds.
var (
	ErrDelegateNotRecognised = errors.New("identity: delegate not recognised")
	ErrThresholdOutOfRange   = errors.New("identity: threshold out of range")
	ErrMixedVisibilityRule   = errors.New("identity: public visibility forbids an allow-list")
	ErrDuplicateNid          = errors.New("identity: duplicate nid")
	ErrSignatureInvalid      = errors.New("identity: signature invalid")
	ErrParentNotAccepted     = errors.New("identity: parent revision not accepted")
	ErrUnknownRevision       = errors.New("identity: unknown revision")
	ErrAuthorCannotReject    = errors.New("identity: author cannot reject their own revision")
)

// Status is the lifecycle state of a revision.
type Status int

const (
	StatusActive Status = iota
	StatusAccepted
	StatusRejected
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Visibility controls who may learn of a repository's existence.
type Visibility struct {
	Public bool          `json:"public"`
	Allow  []nodeid.NID  `json:"allow,omitempty"`
}

// Document is the payload of an identity revision: a namespace->data
// mapping, the delegate set, the acceptance threshold, and visibility.
type Document struct {
	Payload    map[string]interface{} `json:"payload"`
	Delegates  []nodeid.NID            `json:"delegates"`
	Threshold  int                     `json:"threshold"`
	Visibility Visibility              `json:"visibility"`
}

// delegateSet returns Delegates as a lookup set.
func (d Document) delegateSet() set.Set[nodeid.NID] {
	return set.Of(d.Delegates...)
}

// validate checks the structural document rules, independent of
// signatures: threshold range, delegate and allow-list uniqueness,
// and the public/allow-list exclusion.
func (d Document) validate() error {
	if d.Threshold < 1 || d.Threshold > len(d.Delegates) {
		return fmt.Errorf("%w: threshold %d, %d delegates", ErrThresholdOutOfRange, d.Threshold, len(d.Delegates))
	}
	seen := set.NewSet[nodeid.NID](len(d.Delegates))
	for _, nid := range d.Delegates {
		if seen.Contains(nid) {
			return fmt.Errorf("%w: delegate %s", ErrDuplicateNid, nid)
		}
		seen.Add(nid)
	}
	if d.Visibility.Public && len(d.Visibility.Allow) > 0 {
		return ErrMixedVisibilityRule
	}
	allowSeen := set.NewSet[nodeid.NID](len(d.Visibility.Allow))
	for _, nid := range d.Visibility.Allow {
		if allowSeen.Contains(nid) {
			return fmt.Errorf("%w: allow-list %s", ErrDuplicateNid, nid)
		}
		allowSeen.Add(nid)
	}
	return nil
}

// Revision is one signed step in an identity document's history.
// Signatures holds acceptance signatures, Rejections the signatures of
// delegates who declined; a delegate appears in at most one of the two.
type Revision struct {
	ID         nodeid.ObjectID                 `json:"id"`
	Parent     nodeid.ObjectID                 `json:"parent"` // zero for the genesis revision
	Author     nodeid.NID                      `json:"author"`
	Document   Document                        `json:"document"`
	Signatures map[nodeid.NID]crypto.Signature `json:"signatures"`
	Rejections map[nodeid.NID]crypto.Signature `json:"rejections,omitempty"`
	Status     Status                          `json:"status"`
	Timestamp  int64                           `json:"timestamp"`
}

// SigningPayload returns the canonical bytes delegates sign: the
// canonical serialisation of the new document.
func (d Document) SigningPayload() ([]byte, error) {
	return canonical.Marshal(d)
}

func revisionID(parent nodeid.ObjectID, author nodeid.NID, doc Document, ts int64) (nodeid.ObjectID, error) {
	payload, err := canonical.Marshal(struct {
		Parent    nodeid.ObjectID `json:"parent"`
		Author    nodeid.NID       `json:"author"`
		Document  Document         `json:"document"`
		Timestamp int64            `json:"timestamp"`
	}{parent, author, doc, ts})
	if err != nil {
		return nodeid.ObjectID{}, err
	}
	sum := blake2b.Sum256(payload)
	return nodeid.ObjectIDFromBytes(sum[:])
}

// Chain is one repository's identity history: a tree of revisions
// rooted at the genesis revision, with a single accepted main line.
type Chain struct {
	revisions map[nodeid.ObjectID]*Revision
	children  map[nodeid.ObjectID][]nodeid.ObjectID
	current   nodeid.ObjectID // most recent accepted revision
}

// NewChain returns an empty chain; call Init to create the genesis
// revision.
func NewChain() *Chain {
	return &Chain{
		revisions: make(map[nodeid.ObjectID]*Revision),
		children:  make(map[nodeid.ObjectID][]nodeid.ObjectID),
	}
}

// Init creates the genesis revision. The signer must be in delegates;
// the initial revision's threshold rule is 1.
func (c *Chain) Init(doc Document, signer crypto.PrivateKey, ts int64) (nodeid.ObjectID, error) {
	if err := doc.validate(); err != nil {
		return nodeid.ObjectID{}, err
	}
	return c.initWith(doc, signer.NID(), ts, func(payload []byte) (crypto.Signature, error) {
		return crypto.Sign(signer, payload), nil
	})
}

// ImportInit reconstructs the genesis revision from an already-signed
// remote operation (cob/identitycob's fold): it verifies sig against
// author instead of producing a new signature. Used when replaying a
// fetched identity COB rather than authoring a local one.
func (c *Chain) ImportInit(doc Document, author nodeid.NID, sig crypto.Signature, ts int64) (nodeid.ObjectID, error) {
	return c.initWith(doc, author, ts, func(payload []byte) (crypto.Signature, error) {
		return verifySignature(author, payload, sig)
	})
}

func (c *Chain) initWith(doc Document, author nodeid.NID, ts int64, signOrVerify func([]byte) (crypto.Signature, error)) (nodeid.ObjectID, error) {
	if err := doc.validate(); err != nil {
		return nodeid.ObjectID{}, err
	}
	if !doc.delegateSet().Contains(author) {
		return nodeid.ObjectID{}, fmt.Errorf("%w: %s", ErrDelegateNotRecognised, author)
	}

	id, err := revisionID(nodeid.ObjectID{}, author, doc, ts)
	if err != nil {
		return nodeid.ObjectID{}, err
	}
	payload, err := doc.SigningPayload()
	if err != nil {
		return nodeid.ObjectID{}, err
	}
	sig, err := signOrVerify(payload)
	if err != nil {
		return nodeid.ObjectID{}, err
	}

	rev := &Revision{
		ID:         id,
		Parent:     nodeid.ObjectID{},
		Author:     author,
		Document:   doc,
		Signatures: map[nodeid.NID]crypto.Signature{author: sig},
		Status:     StatusAccepted, // threshold 1, author's own signature suffices
		Timestamp:  ts,
	}
	c.revisions[id] = rev
	c.current = id
	return id, nil
}

// Propose creates a child revision of parent, authored and signed by one
// delegate of parent's document.
func (c *Chain) Propose(parent nodeid.ObjectID, doc Document, signer crypto.PrivateKey, ts int64) (nodeid.ObjectID, error) {
	return c.proposeWith(parent, doc, signer.NID(), ts, func(payload []byte) (crypto.Signature, error) {
		return crypto.Sign(signer, payload), nil
	})
}

// ImportPropose reconstructs a proposed revision from an already-signed
// remote operation, verifying sig instead of producing one.
func (c *Chain) ImportPropose(parent nodeid.ObjectID, doc Document, author nodeid.NID, sig crypto.Signature, ts int64) (nodeid.ObjectID, error) {
	return c.proposeWith(parent, doc, author, ts, func(payload []byte) (crypto.Signature, error) {
		return verifySignature(author, payload, sig)
	})
}

func (c *Chain) proposeWith(parent nodeid.ObjectID, doc Document, author nodeid.NID, ts int64, signOrVerify func([]byte) (crypto.Signature, error)) (nodeid.ObjectID, error) {
	parentRev, ok := c.revisions[parent]
	if !ok {
		return nodeid.ObjectID{}, fmt.Errorf("%w: %s", ErrUnknownRevision, parent)
	}
	if parentRev.Status != StatusAccepted {
		return nodeid.ObjectID{}, fmt.Errorf("%w: %s", ErrParentNotAccepted, parent)
	}
	if err := doc.validate(); err != nil {
		return nodeid.ObjectID{}, err
	}
	if !parentRev.Document.delegateSet().Contains(author) {
		return nodeid.ObjectID{}, fmt.Errorf("%w: %s", ErrDelegateNotRecognised, author)
	}

	id, err := revisionID(parent, author, doc, ts)
	if err != nil {
		return nodeid.ObjectID{}, err
	}
	payload, err := doc.SigningPayload()
	if err != nil {
		return nodeid.ObjectID{}, err
	}
	sig, err := signOrVerify(payload)
	if err != nil {
		return nodeid.ObjectID{}, err
	}

	rev := &Revision{
		ID:         id,
		Parent:     parent,
		Author:     author,
		Document:   doc,
		Signatures: map[nodeid.NID]crypto.Signature{author: sig},
		Status:     StatusActive,
		Timestamp:  ts,
	}
	c.revisions[id] = rev
	c.children[parent] = append(c.children[parent], id)
	c.recomputeStatus(id)
	return id, nil
}

func verifySignature(author nodeid.NID, payload []byte, sig crypto.Signature) (crypto.Signature, error) {
	pk, err := crypto.PublicKeyFromBytes(author.Bytes())
	if err != nil {
		return crypto.Signature{}, fmt.Errorf("identity: author as public key: %w", err)
	}
	if !crypto.Verify(pk, payload, sig) {
		return crypto.Signature{}, ErrSignatureInvalid
	}
	return sig, nil
}

// Accept appends signer's acceptance signature to a pending revision.
// A delegate who previously rejected and now accepts changes their
// mind: the rejection is withdrawn.
func (c *Chain) Accept(revisionID nodeid.ObjectID, pk crypto.PublicKey, sig crypto.Signature) error {
	rev, err := c.verifyDelegateSignature(revisionID, pk, sig)
	if err != nil {
		return err
	}
	if rev.Signatures == nil {
		rev.Signatures = make(map[nodeid.NID]crypto.Signature)
	}
	rev.Signatures[pk.NID()] = sig
	delete(rev.Rejections, pk.NID())
	c.recomputeStatus(revisionID)
	return nil
}

// Reject records signer's rejection signature. The rejecter must be a
// delegate of the parent and sign the same document payload an
// acceptance would, so a recorded rejection is attributable. A prior
// acceptance by the same delegate is withdrawn. Once enough delegates
// have rejected that the remaining ones cannot reach the parent
// threshold, the revision's status becomes rejected.
//
// The revision's own author cannot reject it — the authoring signature
// is what anchors the revision; an author who changes their mind
// proposes an alternative instead.
func (c *Chain) Reject(revisionID nodeid.ObjectID, pk crypto.PublicKey, sig crypto.Signature) error {
	rev, err := c.verifyDelegateSignature(revisionID, pk, sig)
	if err != nil {
		return err
	}
	if pk.NID() == rev.Author {
		return fmt.Errorf("%w: %s", ErrAuthorCannotReject, revisionID)
	}
	if rev.Rejections == nil {
		rev.Rejections = make(map[nodeid.NID]crypto.Signature)
	}
	rev.Rejections[pk.NID()] = sig
	delete(rev.Signatures, pk.NID())
	c.recomputeStatus(revisionID)
	return nil
}

// verifyDelegateSignature checks that pk is a delegate of the parent
// document and that sig covers the revision's document payload.
func (c *Chain) verifyDelegateSignature(revisionID nodeid.ObjectID, pk crypto.PublicKey, sig crypto.Signature) (*Revision, error) {
	rev, ok := c.revisions[revisionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRevision, revisionID)
	}
	parentRev, hasParent := c.revisions[rev.Parent]
	if !hasParent && rev.Parent != (nodeid.ObjectID{}) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRevision, rev.Parent)
	}
	delegates := rev.Document.Delegates
	if hasParent {
		delegates = parentRev.Document.Delegates
	}
	if !(set.Of(delegates...)).Contains(pk.NID()) {
		return nil, fmt.Errorf("%w: %s", ErrDelegateNotRecognised, pk.NID())
	}
	payload, err := rev.Document.SigningPayload()
	if err != nil {
		return nil, err
	}
	if !crypto.Verify(pk, payload, sig) {
		return nil, ErrSignatureInvalid
	}
	return rev, nil
}

// recomputeStatus re-derives a revision's status from the signatures
// present against its parent's threshold: accepted once threshold
// distinct delegates have signed, rejected once so many delegates have
// declined that threshold is out of reach, and siblings go stale once
// one revision in the set is accepted.
func (c *Chain) recomputeStatus(id nodeid.ObjectID) {
	rev := c.revisions[id]
	if rev.Status == StatusAccepted || rev.Status == StatusRejected {
		return
	}
	threshold := 1
	var delegates []nodeid.NID
	if parentRev, ok := c.revisions[rev.Parent]; ok {
		threshold = parentRev.Document.Threshold
		delegates = parentRev.Document.Delegates
	}
	delegateSet := set.Of(delegates...)
	accepted := 0
	rejected := 0
	for nid := range rev.Signatures {
		if len(delegates) == 0 || delegateSet.Contains(nid) {
			accepted++
		}
	}
	for nid := range rev.Rejections {
		if delegateSet.Contains(nid) {
			rejected++
		}
	}
	switch {
	case accepted >= threshold:
		rev.Status = StatusAccepted
		if rev.ID != c.current || c.current == (nodeid.ObjectID{}) {
			c.current = rev.ID
		}
		for _, sibling := range c.children[rev.Parent] {
			if sibling == id {
				continue
			}
			if s := c.revisions[sibling]; s.Status == StatusActive {
				s.Status = StatusStale
			}
		}
	case len(delegates) > 0 && len(delegates)-rejected < threshold:
		rev.Status = StatusRejected
	}
}

// Status returns the lifecycle state of a revision.
func (c *Chain) Status(id nodeid.ObjectID) (Status, error) {
	rev, ok := c.revisions[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRevision, id)
	}
	return rev.Status, nil
}

// Revision returns the stored revision by id.
func (c *Chain) Revision(id nodeid.ObjectID) (*Revision, error) {
	rev, ok := c.revisions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRevision, id)
	}
	return rev, nil
}

// Children returns the ids of every revision naming id as its parent,
// in ascending id order.
func (c *Chain) Children(id nodeid.ObjectID) []nodeid.ObjectID {
	out := append([]nodeid.ObjectID(nil), c.children[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Current returns the document of the most recent accepted revision on
// the main chain.
func (c *Chain) Current() (Document, error) {
	rev, ok := c.revisions[c.current]
	if !ok {
		return Document{}, ErrUnknownRevision
	}
	return rev.Document, nil
}

// CurrentRevision returns the most recent accepted revision itself.
func (c *Chain) CurrentRevision() (*Revision, error) {
	rev, ok := c.revisions[c.current]
	if !ok {
		return nil, ErrUnknownRevision
	}
	return rev, nil
}

// History returns every revision id from the genesis to id, inclusive,
// oldest first.
func (c *Chain) History(id nodeid.ObjectID) ([]nodeid.ObjectID, error) {
	var out []nodeid.ObjectID
	cur := id
	for {
		rev, ok := c.revisions[cur]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRevision, cur)
		}
		out = append([]nodeid.ObjectID{cur}, out...)
		if rev.Parent == (nodeid.ObjectID{}) {
			break
		}
		cur = rev.Parent
	}
	return out, nil
}

// IsAcceptedDescendant reports whether candidate is the current revision
// or a descendant of it reachable purely through accepted revisions.
// The fetch sub-protocol uses this to reject a forked identity.
func (c *Chain) IsAcceptedDescendant(candidate nodeid.ObjectID) bool {
	if candidate == c.current {
		return true
	}
	cur := candidate
	for {
		rev, ok := c.revisions[cur]
		if !ok {
			return false
		}
		if rev.Status != StatusAccepted {
			return false
		}
		if rev.Parent == c.current {
			return true
		}
		if rev.Parent == (nodeid.ObjectID{}) {
			return false
		}
		cur = rev.Parent
	}
}
