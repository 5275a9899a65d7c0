// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package canon

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/forge/nodeid"
)

// Three delegates, threshold 3: each pushes a distinct commit, no
// canonical tip exists; after they converge on one merge commit, that
// commit is elected.
func TestThreeDelegateDivergenceThenConvergence(t *testing.T) {
	alice, bob, eve := oidToNID(1), oidToNID(2), oidToNID(3)
	base := oid(0x10)
	ca, cb, ce := oid(0xa1), oid(0xb1), oid(0xe1)
	merge := oid(0x99)

	ancestry := NewAncestry([]Commit{
		{ID: base},
		{ID: ca, Parents: []nodeid.ObjectID{base}},
		{ID: cb, Parents: []nodeid.ObjectID{base}},
		{ID: ce, Parents: []nodeid.ObjectID{base}},
	})

	diverged := []DelegateTip{
		{NID: alice, Tip: ca},
		{NID: bob, Tip: cb},
		{NID: eve, Tip: ce},
	}
	_, err := ancestry.CanonicalTip("heads/master", diverged, 3)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no commit with at least 3 vote(s) found")

	// Alice merges Bob's commit; Bob and Eve reset to the merge commit.
	converged := NewAncestry([]Commit{
		{ID: base},
		{ID: ca, Parents: []nodeid.ObjectID{base}},
		{ID: cb, Parents: []nodeid.ObjectID{base}},
		{ID: ce, Parents: []nodeid.ObjectID{base}},
		{ID: merge, Parents: []nodeid.ObjectID{ca, cb}},
	})
	agreed := []DelegateTip{
		{NID: alice, Tip: merge},
		{NID: bob, Tip: merge},
		{NID: eve, Tip: merge},
	}
	tip, err := converged.CanonicalTip("heads/master", agreed, 3)
	require.NoError(t, err)
	require.Equal(t, merge, tip)
}

// Equal-depth candidates resolve by lexical object id, so every replica
// elects the same tip from the same sigrefs.
func TestElectionTieBreakIsDeterministic(t *testing.T) {
	base := oid(0x01)
	left, right := oid(0xa0), oid(0xb0)
	ancestry := NewAncestry([]Commit{
		{ID: base},
		{ID: left, Parents: []nodeid.ObjectID{base}},
		{ID: right, Parents: []nodeid.ObjectID{base}},
	})

	tips := []DelegateTip{
		{NID: oidToNID(1), Tip: left},
		{NID: oidToNID(2), Tip: right},
	}
	for i := 0; i < 4; i++ {
		tip, err := ancestry.CanonicalTip(fmt.Sprintf("heads/run-%d", i), tips, 1)
		require.NoError(t, err)
		require.Equal(t, left, tip,
			"equal depth and votes resolve to the lexically first object id")
	}
}
