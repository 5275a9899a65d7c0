// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cob

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/nodeid"
)

// counterState is a trivial test object type: payloads are integer
// deltas, state is their running sum, used to exercise deterministic
// fold and permutation invariance without a real domain type.
type counterState struct {
	Sum int
}

func registerCounter(e *Engine) {
	e.RegisterType(TypeSpec{
		Tag:          "test.counter",
		InitialState: func() interface{} { return counterState{} },
		Apply: func(state interface{}, op Operation) (interface{}, error) {
			s := state.(counterState)
			var delta int
			if err := json.Unmarshal(op.Payload, &delta); err != nil {
				return nil, err
			}
			s.Sum += delta
			return s, nil
		},
	})
}

func payload(t *testing.T, n int) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(n)
	require.NoError(t, err)
	return b
}

func TestCreateAndLoadFoldsInOrder(t *testing.T) {
	e := NewEngine()
	registerCounter(e)
	_, sk, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)

	_, ops, err := e.Create("test.counter", sk, []json.RawMessage{payload(t, 1), payload(t, 2), payload(t, 3)}, 10)
	require.NoError(t, err)
	require.Len(t, ops, 3)

	result, err := e.Load("test.counter", ops)
	require.NoError(t, err)
	require.Empty(t, result.Corrupt)
	require.Equal(t, 6, result.State.(counterState).Sum)
}

func TestUpdateChainsOntoExistingTip(t *testing.T) {
	e := NewEngine()
	registerCounter(e)
	_, sk, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)

	objID, genesisOps, err := e.Create("test.counter", sk, []json.RawMessage{payload(t, 5)}, 1)
	require.NoError(t, err)
	require.Equal(t, objID, genesisOps[0].ID)

	newTip, updateOps, err := e.Update("test.counter", []nodeid.ObjectID{objID}, sk, []json.RawMessage{payload(t, 10)}, 2)
	require.NoError(t, err)
	require.Len(t, updateOps, 1)
	require.Equal(t, updateOps[0].ID, newTip)

	all := append(append([]Operation(nil), genesisOps...), updateOps...)
	result, err := e.Load("test.counter", all)
	require.NoError(t, err)
	require.Empty(t, result.Corrupt)
	require.Equal(t, 15, result.State.(counterState).Sum)
}

func TestPermutationInvariantFold(t *testing.T) {
	e := NewEngine()
	registerCounter(e)
	_, sk, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)

	_, ops, err := e.Create("test.counter", sk, []json.RawMessage{payload(t, 1), payload(t, 2), payload(t, 3)}, 1)
	require.NoError(t, err)

	forward := append([]Operation(nil), ops...)
	reversed := []Operation{ops[2], ops[1], ops[0]}

	r1, err := e.Load("test.counter", forward)
	require.NoError(t, err)
	r2, err := e.Load("test.counter", reversed)
	require.NoError(t, err)
	require.Equal(t, r1.State, r2.State, "fold is invariant to delivery order")
}

func TestLoadIsolatesCorruptOperation(t *testing.T) {
	e := NewEngine()
	registerCounter(e)
	_, sk, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)

	_, ops, err := e.Create("test.counter", sk, []json.RawMessage{payload(t, 1), payload(t, 2)}, 1)
	require.NoError(t, err)

	// Corrupt the second operation's signature.
	ops[1].Signature[0] ^= 0xff

	// Independent sibling rooted at the (valid) genesis.
	_, third, err := e.Update("test.counter", []nodeid.ObjectID{ops[0].ID}, sk, []json.RawMessage{payload(t, 100)}, 2)
	require.NoError(t, err)

	all := append(append([]Operation(nil), ops...), third...)
	result, err := e.Load("test.counter", all)
	require.NoError(t, err)
	require.Len(t, result.Corrupt, 1)
	require.Equal(t, ops[1].ID, result.Corrupt[0].ID)
	require.Equal(t, 101, result.State.(counterState).Sum, "genesis (1) plus the valid sibling (100)")
}
