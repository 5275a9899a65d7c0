// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/nodeid"
)

func genKey(t *testing.T) (crypto.PublicKey, crypto.PrivateKey) {
	t.Helper()
	pub, priv, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	return pub, priv
}

func TestInitGenesisAccepted(t *testing.T) {
	_, sk := genKey(t)
	doc := Document{
		Payload:   map[string]interface{}{"name": "acme"},
		Delegates: []nodeid.NID{sk.NID()},
		Threshold: 1,
	}
	c := NewChain()
	id, err := c.Init(doc, sk, 1000)
	require.NoError(t, err)

	status, err := c.Status(id)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)

	cur, err := c.Current()
	require.NoError(t, err)
	require.Equal(t, doc.Payload["name"], cur.Payload["name"])
}

func TestInitRejectsAuthorNotDelegate(t *testing.T) {
	_, sk := genKey(t)
	other, _ := genKey(t)
	doc := Document{
		Delegates: []nodeid.NID{other.NID()},
		Threshold: 1,
	}
	c := NewChain()
	_, err := c.Init(doc, sk, 1)
	require.ErrorIs(t, err, ErrDelegateNotRecognised)
}

func TestInitRejectsThresholdOutOfRange(t *testing.T) {
	_, sk := genKey(t)
	doc := Document{
		Delegates: []nodeid.NID{sk.NID()},
		Threshold: 2,
	}
	c := NewChain()
	_, err := c.Init(doc, sk, 1)
	require.ErrorIs(t, err, ErrThresholdOutOfRange)
}

func TestInitRejectsMixedVisibility(t *testing.T) {
	_, sk := genKey(t)
	allow, _ := genKey(t)
	doc := Document{
		Delegates:  []nodeid.NID{sk.NID()},
		Threshold:  1,
		Visibility: Visibility{Public: true, Allow: []nodeid.NID{allow.NID()}},
	}
	c := NewChain()
	_, err := c.Init(doc, sk, 1)
	require.ErrorIs(t, err, ErrMixedVisibilityRule)
}

func TestInitRejectsDuplicateDelegate(t *testing.T) {
	_, sk := genKey(t)
	doc := Document{
		Delegates: []nodeid.NID{sk.NID(), sk.NID()},
		Threshold: 1,
	}
	c := NewChain()
	_, err := c.Init(doc, sk, 1)
	require.ErrorIs(t, err, ErrDuplicateNid)
}

func TestProposeRequiresThresholdSignatures(t *testing.T) {
	pk1, sk1 := genKey(t)
	pk2, sk2 := genKey(t)
	pk3, sk3 := genKey(t)
	_ = pk1
	_ = pk2

	genesis := Document{
		Delegates: []nodeid.NID{sk1.NID(), sk2.NID(), sk3.NID()},
		Threshold: 2,
	}
	c := NewChain()
	root, err := c.Init(genesis, sk1, 1)
	require.NoError(t, err)

	next := Document{
		Payload:   map[string]interface{}{"rev": "2"},
		Delegates: genesis.Delegates,
		Threshold: 2,
	}
	rev, err := c.Propose(root, next, sk2, 2)
	require.NoError(t, err)

	status, err := c.Status(rev)
	require.NoError(t, err)
	require.Equal(t, StatusActive, status, "one signature is below threshold 2")

	payload, err := next.SigningPayload()
	require.NoError(t, err)
	sig3 := crypto.Sign(sk3, payload)
	require.NoError(t, c.Accept(rev, pk3, sig3))

	status, err = c.Status(rev)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)

	cur, err := c.Current()
	require.NoError(t, err)
	require.Equal(t, "2", cur.Payload["rev"])
}

func TestAcceptRejectsSignatureFromNonDelegate(t *testing.T) {
	_, sk1 := genKey(t)
	outsiderPk, outsiderSk := genKey(t)

	genesis := Document{
		Delegates: []nodeid.NID{sk1.NID()},
		Threshold: 1,
	}
	c := NewChain()
	root, err := c.Init(genesis, sk1, 1)
	require.NoError(t, err)

	next := Document{Delegates: genesis.Delegates, Threshold: 1}
	rev, err := c.Propose(root, next, sk1, 2)
	require.NoError(t, err)

	payload, err := next.SigningPayload()
	require.NoError(t, err)
	sig := crypto.Sign(outsiderSk, payload)
	err = c.Accept(rev, outsiderPk, sig)
	require.ErrorIs(t, err, ErrDelegateNotRecognised)
}

func TestAcceptRejectsInvalidSignature(t *testing.T) {
	pk1, sk1 := genKey(t)
	pk2, sk2 := genKey(t)

	genesis := Document{
		Delegates: []nodeid.NID{sk1.NID(), sk2.NID()},
		Threshold: 2,
	}
	c := NewChain()
	root, err := c.Init(genesis, sk1, 1)
	require.NoError(t, err)

	next := Document{Delegates: genesis.Delegates, Threshold: 2}
	rev, err := c.Propose(root, next, sk1, 2)
	require.NoError(t, err)

	// sk2 signs the wrong payload.
	badSig := crypto.Sign(sk2, []byte("not the document"))
	err = c.Accept(rev, pk2, badSig)
	require.ErrorIs(t, err, ErrSignatureInvalid)
	_ = pk1
}

func TestProposeRejectsUnacceptedParent(t *testing.T) {
	pk1, sk1 := genKey(t)
	_, sk2 := genKey(t)
	_ = pk1

	genesis := Document{
		Delegates: []nodeid.NID{sk1.NID(), sk2.NID()},
		Threshold: 2,
	}
	c := NewChain()
	root, err := c.Init(genesis, sk1, 1)
	require.NoError(t, err)
	// Init accepts the genesis on its author's signature alone (the
	// genesis document's threshold binds only descendants), so simulate
	// an unaccepted parent by stacking a second proposal on top of an
	// active one.
	pending := Document{Delegates: genesis.Delegates, Threshold: 2}
	rev1, err := c.Propose(root, pending, sk1, 2)
	require.NoError(t, err)

	next := Document{Delegates: genesis.Delegates, Threshold: 2}
	_, err = c.Propose(rev1, next, sk1, 3)
	require.ErrorIs(t, err, ErrParentNotAccepted)
}

func TestSiblingBecomesStaleOnAccept(t *testing.T) {
	pk1, sk1 := genKey(t)
	pk2, sk2 := genKey(t)
	_, sk3 := genKey(t)

	genesis := Document{
		Delegates: []nodeid.NID{sk1.NID(), sk2.NID(), sk3.NID()},
		Threshold: 2,
	}
	c := NewChain()
	root, err := c.Init(genesis, sk1, 1)
	require.NoError(t, err)

	a := Document{Payload: map[string]interface{}{"branch": "a"}, Delegates: genesis.Delegates, Threshold: 2}
	b := Document{Payload: map[string]interface{}{"branch": "b"}, Delegates: genesis.Delegates, Threshold: 2}

	revA, err := c.Propose(root, a, sk1, 2)
	require.NoError(t, err)
	revB, err := c.Propose(root, b, sk3, 2)
	require.NoError(t, err)

	// revB stays active (one signature, threshold 2) while revA gains
	// its second signature and becomes accepted.
	payloadA, err := a.SigningPayload()
	require.NoError(t, err)
	sigA2 := crypto.Sign(sk2, payloadA)
	require.NoError(t, c.Accept(revA, pk2, sigA2))

	statusA, err := c.Status(revA)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, statusA)

	statusB, err := c.Status(revB)
	require.NoError(t, err)
	require.Equal(t, StatusStale, statusB)
	_ = pk1
}

func TestUnknownRevisionErrors(t *testing.T) {
	c := NewChain()
	var bogus nodeid.ObjectID
	bogus[0] = 0xff
	_, err := c.Status(bogus)
	require.ErrorIs(t, err, ErrUnknownRevision)
}

func TestRejectRecordsSignatureAndFlipsStatus(t *testing.T) {
	_, sk1 := genKey(t)
	pkB, skB := genKey(t)
	_, skC := genKey(t)

	genesis := Document{
		Delegates: []nodeid.NID{sk1.NID(), skB.NID(), skC.NID()},
		Threshold: 3,
	}
	c := NewChain()
	root, err := c.Init(genesis, sk1, 1)
	require.NoError(t, err)

	next := Document{
		Payload:   map[string]interface{}{"rev": "2"},
		Delegates: genesis.Delegates,
		Threshold: 3,
	}
	rev, err := c.Propose(root, next, sk1, 2)
	require.NoError(t, err)

	payload, err := next.SigningPayload()
	require.NoError(t, err)

	// With threshold 3 over 3 delegates, a single rejection makes
	// acceptance mathematically unreachable.
	require.NoError(t, c.Reject(rev, pkB, crypto.Sign(skB, payload)))

	stored, err := c.Revision(rev)
	require.NoError(t, err)
	require.Contains(t, stored.Rejections, skB.NID(), "rejection is recorded with its signature")

	status, err := c.Status(rev)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, status, "threshold 3 is unreachable with 2 willing delegates")
}

func TestRejectThenAcceptWithdrawsRejection(t *testing.T) {
	_, sk1 := genKey(t)
	pkB, skB := genKey(t)
	_, skC := genKey(t)

	genesis := Document{
		Delegates: []nodeid.NID{sk1.NID(), skB.NID(), skC.NID()},
		Threshold: 2,
	}
	c := NewChain()
	root, err := c.Init(genesis, sk1, 1)
	require.NoError(t, err)

	next := Document{
		Payload:   map[string]interface{}{"rev": "2"},
		Delegates: genesis.Delegates,
		Threshold: 2,
	}
	rev, err := c.Propose(root, next, sk1, 2)
	require.NoError(t, err)

	payload, err := next.SigningPayload()
	require.NoError(t, err)

	require.NoError(t, c.Reject(rev, pkB, crypto.Sign(skB, payload)))
	status, err := c.Status(rev)
	require.NoError(t, err)
	require.Equal(t, StatusActive, status, "one rejection of three delegates keeps threshold 2 reachable")

	// B changes their mind: the rejection is withdrawn and the
	// acceptance meets threshold.
	require.NoError(t, c.Accept(rev, pkB, crypto.Sign(skB, payload)))
	stored, err := c.Revision(rev)
	require.NoError(t, err)
	require.NotContains(t, stored.Rejections, skB.NID())

	status, err = c.Status(rev)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)
}

func TestRejectFromNonDelegateErrors(t *testing.T) {
	_, sk1 := genKey(t)
	outsiderPK, outsiderSK := genKey(t)

	genesis := Document{
		Delegates: []nodeid.NID{sk1.NID()},
		Threshold: 1,
	}
	c := NewChain()
	root, err := c.Init(genesis, sk1, 1)
	require.NoError(t, err)

	next := Document{
		Payload:   map[string]interface{}{"rev": "2"},
		Delegates: genesis.Delegates,
		Threshold: 1,
	}
	rev, err := c.Propose(root, next, sk1, 2)
	require.NoError(t, err)

	payload, err := next.SigningPayload()
	require.NoError(t, err)
	err = c.Reject(rev, outsiderPK, crypto.Sign(outsiderSK, payload))
	require.ErrorIs(t, err, ErrDelegateNotRecognised)
}

func TestAuthorCannotRejectOwnRevision(t *testing.T) {
	pk1, sk1 := genKey(t)
	_, sk2 := genKey(t)

	genesis := Document{
		Delegates: []nodeid.NID{sk1.NID(), sk2.NID()},
		Threshold: 2,
	}
	c := NewChain()
	root, err := c.Init(genesis, sk1, 1)
	require.NoError(t, err)

	next := Document{
		Payload:   map[string]interface{}{"rev": "2"},
		Delegates: genesis.Delegates,
		Threshold: 2,
	}
	rev, err := c.Propose(root, next, sk1, 2)
	require.NoError(t, err)

	payload, err := next.SigningPayload()
	require.NoError(t, err)
	err = c.Reject(rev, pk1, crypto.Sign(sk1, payload))
	require.ErrorIs(t, err, ErrAuthorCannotReject)
}
