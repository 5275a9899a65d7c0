// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package patch

import (
	"github.com/luxfi/forge/canon"
	"github.com/luxfi/forge/nodeid"
)

// RevisionStatus reports a revision's position relative to the
// canonical branch: how many commits it is ahead of and behind the
// elected tip, and whether its head is already reachable from it
// (in which case the revision is effectively merged).
type RevisionStatus struct {
	Ahead  int
	Behind int
	Landed bool
}

// StatusAgainst computes rev's ahead/behind counts against the
// canonical branch tip over the known commit ancestry.
func StatusAgainst(rev *Revision, canonicalTip nodeid.ObjectID, ancestry *canon.Ancestry) RevisionStatus {
	ahead, behind := ancestry.AheadBehind(rev.Head, canonicalTip)
	return RevisionStatus{
		Ahead:  ahead,
		Behind: behind,
		Landed: ahead == 0,
	}
}

// Reconcile recomputes a patch's state after the canonical branch
// moved: a merged patch whose latest revision head is no longer
// reachable from the canonical tip reopens, and an open patch whose latest head became
// reachable is merged. Returns true if the state changed.
func Reconcile(p *Patch, canonicalTip nodeid.ObjectID, ancestry *canon.Ancestry) bool {
	rev, ok := p.LatestRevision()
	if !ok {
		return false
	}
	landed := canonicalTip == rev.Head || ancestryReachable(ancestry, canonicalTip, rev.Head)
	switch {
	case p.State == StateMerged && !landed:
		p.State = StateOpen
		return true
	case p.State == StateOpen && landed:
		p.State = StateMerged
		return true
	}
	return false
}

func ancestryReachable(a *canon.Ancestry, from, to nodeid.ObjectID) bool {
	ahead, _ := a.AheadBehind(to, from)
	return ahead == 0
}
