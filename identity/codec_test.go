// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/nodeid"
)

func TestChainMarshalUnmarshalRoundTrip(t *testing.T) {
	_, alice, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	_, bob, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)

	doc := Document{
		Payload:    map[string]interface{}{"project": map[string]interface{}{"name": "demo"}},
		Delegates:  []nodeid.NID{alice.NID(), bob.NID()},
		Threshold:  2,
		Visibility: Visibility{Public: true},
	}
	chain := NewChain()
	genesis, err := chain.Init(doc, alice, 1000)
	require.NoError(t, err)

	next := Document{
		Payload:    map[string]interface{}{"project": map[string]interface{}{"name": "renamed"}},
		Delegates:  doc.Delegates,
		Threshold:  2,
		Visibility: Visibility{Public: true},
	}
	revID, err := chain.Propose(genesis, next, alice, 2000)
	require.NoError(t, err)

	payload, err := next.SigningPayload()
	require.NoError(t, err)
	require.NoError(t, chain.Accept(revID, bob.PublicKey(), crypto.Sign(bob, payload)))

	// A follow-up proposal bob declines: with both delegates required,
	// one rejection makes it unreachable.
	declined := Document{
		Payload:    map[string]interface{}{"project": map[string]interface{}{"name": "declined"}},
		Delegates:  doc.Delegates,
		Threshold:  2,
		Visibility: Visibility{Public: true},
	}
	declinedID, err := chain.Propose(revID, declined, alice, 3000)
	require.NoError(t, err)
	declinedPayload, err := declined.SigningPayload()
	require.NoError(t, err)
	require.NoError(t, chain.Reject(declinedID, bob.PublicKey(), crypto.Sign(bob, declinedPayload)))

	blob, err := MarshalChain(chain)
	require.NoError(t, err)

	restored, err := UnmarshalChain(blob)
	require.NoError(t, err)

	// Statuses are re-derived from the replayed signatures, not trusted
	// from the wire.
	status, err := restored.Status(revID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)

	status, err = restored.Status(declinedID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, status, "replayed rejection keeps the revision rejected")

	cur, err := restored.Current()
	require.NoError(t, err)
	require.Equal(t, "renamed", cur.Payload["project"].(map[string]interface{})["name"])

	g, err := restored.Genesis()
	require.NoError(t, err)
	require.Equal(t, genesis, g)
}

func TestMarshalChainDeterministic(t *testing.T) {
	_, alice, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	chain := NewChain()
	_, err = chain.Init(Document{
		Delegates:  []nodeid.NID{alice.NID()},
		Threshold:  1,
		Visibility: Visibility{Public: true},
	}, alice, 1)
	require.NoError(t, err)

	a, err := MarshalChain(chain)
	require.NoError(t, err)
	b, err := MarshalChain(chain)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestUnmarshalChainRejectsTamperedDocument(t *testing.T) {
	_, alice, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	chain := NewChain()
	_, err = chain.Init(Document{
		Payload:    map[string]interface{}{"project": map[string]interface{}{"name": "demo"}},
		Delegates:  []nodeid.NID{alice.NID()},
		Threshold:  1,
		Visibility: Visibility{Public: true},
	}, alice, 1)
	require.NoError(t, err)

	blob, err := MarshalChain(chain)
	require.NoError(t, err)

	tampered := []byte(string(blob))
	for i := 0; i+6 <= len(tampered); i++ {
		if string(tampered[i:i+6]) == `"demo"` {
			copy(tampered[i:], []byte(`"evil"`))
			break
		}
	}
	_, err = UnmarshalChain(tampered)
	require.Error(t, err, "a rewritten document no longer matches its signature")
}

func TestRepoIDDerivation(t *testing.T) {
	var genesis nodeid.ObjectID
	genesis[0] = 0xab
	rid := RepoID(genesis)
	require.Equal(t, genesis.Bytes(), rid.Bytes())
}
