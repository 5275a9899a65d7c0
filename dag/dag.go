// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dag provides a generic directed acyclic graph with tip
// tracking, ancestry queries, and a deterministic topological traversal.
// It backs both canonical-ref election (ancestor-counts-as-vote
// reachability) and the collaborative-object fold (causal-parent
// ordering with a lexical tie-break).
package dag

import (
	"sort"

	"github.com/luxfi/forge/internal/container/set"
)

// Node is anything the DAG can track: a ref tip, a COB operation, or a
// commit. Parents are the node's direct causal predecessors.
type Node[ID comparable] interface {
	NodeID() ID
	ParentIDs() []ID
}

// DAG is a generic directed acyclic graph over comparable, orderable ids.
// It is not safe for concurrent use; callers serialise access (the COB
// engine folds under a single read snapshot, canonical election runs
// synchronously per query).
type DAG[ID comparable, T Node[ID]] struct {
	less  func(a, b ID) bool
	nodes map[ID]T
	tips  set.Set[ID]
	// children maps a node to the nodes that name it as a parent. Rebuilt
	// lazily on the first ancestry query after a mutation.
	children map[ID][]ID
	dirty    bool
}

// New creates an empty DAG. less defines the deterministic tie-break
// order used by TopoSort (e.g. ascending lexical order of an ObjectID).
func New[ID comparable, T Node[ID]](less func(a, b ID) bool) *DAG[ID, T] {
	return &DAG[ID, T]{
		less:  less,
		nodes: make(map[ID]T),
		tips:  set.NewSet[ID](0),
	}
}

// Add inserts a node. Parents not yet present are tolerated (the node is
// still added; reachability queries simply stop at the graph's edge) so
// that a partial fetch can still fold whatever was retrieved.
func (d *DAG[ID, T]) Add(n T) {
	id := n.NodeID()
	if _, exists := d.nodes[id]; exists {
		return
	}
	d.nodes[id] = n
	d.tips.Add(id)
	for _, p := range n.ParentIDs() {
		d.tips.Remove(p)
	}
	d.dirty = true
}

// Get returns the node stored under id, if any.
func (d *DAG[ID, T]) Get(id ID) (T, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// Len returns the number of nodes in the graph.
func (d *DAG[ID, T]) Len() int { return len(d.nodes) }

// Tips returns every node with no recorded child, in the graph's
// deterministic order.
func (d *DAG[ID, T]) Tips() []ID {
	list := d.tips.List()
	sort.Slice(list, func(i, j int) bool { return d.less(list[i], list[j]) })
	return list
}

func (d *DAG[ID, T]) rebuildChildren() {
	if !d.dirty && d.children != nil {
		return
	}
	d.children = make(map[ID][]ID, len(d.nodes))
	for id, n := range d.nodes {
		for _, p := range n.ParentIDs() {
			d.children[p] = append(d.children[p], id)
		}
	}
	d.dirty = false
}

// Ancestors returns the set of every node reachable from id by following
// parent edges, not including id itself.
func (d *DAG[ID, T]) Ancestors(id ID) set.Set[ID] {
	out := set.NewSet[ID](0)
	d.walkAncestors(id, out)
	return out
}

func (d *DAG[ID, T]) walkAncestors(id ID, seen set.Set[ID]) {
	n, ok := d.nodes[id]
	if !ok {
		return
	}
	for _, p := range n.ParentIDs() {
		if seen.Contains(p) {
			continue
		}
		if _, known := d.nodes[p]; !known {
			continue
		}
		seen.Add(p)
		d.walkAncestors(p, seen)
	}
}

// Reachable reports whether to is from itself or an ancestor of from.
// Canonical election uses this to count a delegate's fast-forward vote
// for every ancestor of its declared tip.
func (d *DAG[ID, T]) Reachable(from, to ID) bool {
	if from == to {
		return true
	}
	return d.Ancestors(from).Contains(to)
}

// TopoSort returns every node in causal order (parents before children),
// with ties among concurrently-ready nodes broken by less. This is the
// deterministic traversal the COB fold requires: two replicas holding the
// same closed set of operations always fold them in the same order,
// regardless of arrival order.
func (d *DAG[ID, T]) TopoSort() []ID {
	d.rebuildChildren()

	indegree := make(map[ID]int, len(d.nodes))
	for id, n := range d.nodes {
		count := 0
		for _, p := range n.ParentIDs() {
			if _, ok := d.nodes[p]; ok {
				count++
			}
		}
		indegree[id] = count
	}

	ready := make([]ID, 0)
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return d.less(ready[i], ready[j]) })

	order := make([]ID, 0, len(d.nodes))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		newlyReady := make([]ID, 0)
		for _, child := range d.children[next] {
			indegree[child]--
			if indegree[child] == 0 {
				newlyReady = append(newlyReady, child)
			}
		}
		if len(newlyReady) == 0 {
			continue
		}
		ready = append(ready, newlyReady...)
		sort.Slice(ready, func(i, j int) bool { return d.less(ready[i], ready[j]) })
	}
	return order
}
