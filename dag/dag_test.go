// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testNode struct {
	id      byte
	parents []byte
}

func (n testNode) NodeID() byte      { return n.id }
func (n testNode) ParentIDs() []byte { return n.parents }

func byteLess(a, b byte) bool { return a < b }

func TestTipsAdvance(t *testing.T) {
	g := New[byte, testNode](byteLess)
	g.Add(testNode{id: 0})
	require.Equal(t, []byte{0}, g.Tips())

	g.Add(testNode{id: 1, parents: []byte{0}})
	g.Add(testNode{id: 2, parents: []byte{0}})
	require.ElementsMatch(t, []byte{1, 2}, g.Tips())

	g.Add(testNode{id: 3, parents: []byte{1, 2}})
	require.Equal(t, []byte{3}, g.Tips())
}

func TestReachableCountsFastForward(t *testing.T) {
	g := New[byte, testNode](byteLess)
	g.Add(testNode{id: 0})
	g.Add(testNode{id: 1, parents: []byte{0}})
	g.Add(testNode{id: 2, parents: []byte{1}})

	require.True(t, g.Reachable(2, 0))
	require.True(t, g.Reachable(2, 1))
	require.True(t, g.Reachable(2, 2))
	require.False(t, g.Reachable(0, 2))
}

func TestTopoSortDeterministicTieBreak(t *testing.T) {
	g := New[byte, testNode](byteLess)
	g.Add(testNode{id: 5})
	g.Add(testNode{id: 2})
	g.Add(testNode{id: 9, parents: []byte{5, 2}})

	order := g.TopoSort()
	require.Equal(t, []byte{2, 5, 9}, order)
}

func TestTopoSortPermutationInvariant(t *testing.T) {
	build := func(order []testNode) []byte {
		g := New[byte, testNode](byteLess)
		for _, n := range order {
			g.Add(n)
		}
		return g.TopoSort()
	}

	a := testNode{id: 1}
	b := testNode{id: 2}
	c := testNode{id: 3, parents: []byte{1, 2}}

	order1 := build([]testNode{a, b, c})
	order2 := build([]testNode{c, b, a})
	order3 := build([]testNode{b, a, c})

	require.Equal(t, order1, order2)
	require.Equal(t, order1, order3)
}

func TestAncestorsStopsAtMissingParent(t *testing.T) {
	g := New[byte, testNode](byteLess)
	g.Add(testNode{id: 1, parents: []byte{0}}) // parent 0 never added
	anc := g.Ancestors(1)
	require.Equal(t, 0, anc.Len())
}
