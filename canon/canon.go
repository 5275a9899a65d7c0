// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package canon implements canonical-ref election: for a
// given ref, the commit elected "current" is the newest commit reachable
// from enough delegate namespaces' declared tips to meet a threshold,
// where a delegate's vote counts for every ancestor of its tip
// (fast-forwards count). CheckPush evaluates the rollback and
// default-branch publishing rules for a proposed ref update; the
// store's ref updates do not call it.
package canon

import (
	"fmt"
	"path"
	"sort"

	"github.com/luxfi/forge/dag"
	"github.com/luxfi/forge/identity"
	"github.com/luxfi/forge/internal/container/bag"
	"github.com/luxfi/forge/nodeid"
)

// Rule is one (glob, threshold) pair from the identity document's
// canonicalReferences payload.
type Rule struct {
	Glob      string `json:"glob"`
	Threshold int    `json:"threshold"`
}

// Rules is an ordered list of canonical-reference rules. The first rule
// whose glob matches a ref name applies; a ref matching no rule falls
// back to the document's own threshold only if it is the default
// branch, otherwise no canonical tip exists for it.
type Rules []Rule

// ParseRules decodes the canonicalReferences payload entry of an
// identity document into Rules. Unknown fields inside each rule are
// tolerated: only glob and threshold are read.
func ParseRules(payload interface{}) (Rules, error) {
	raw, ok := payload.([]interface{})
	if !ok {
		if payload == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("canon: canonicalReferences payload must be a list, got %T", payload)
	}
	out := make(Rules, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		glob, _ := m["glob"].(string)
		var threshold int
		switch v := m["threshold"].(type) {
		case float64:
			threshold = int(v)
		case int:
			threshold = v
		}
		if glob == "" || threshold <= 0 {
			continue
		}
		out = append(out, Rule{Glob: glob, Threshold: threshold})
	}
	return out, nil
}

// ThresholdFor returns the threshold that applies to ref, and whether
// any rule (or the default-branch fallback) applies at all.
func (r Rules) ThresholdFor(ref string, isDefaultBranch bool, docThreshold int) (int, bool) {
	for _, rule := range r {
		if matched, _ := path.Match(rule.Glob, ref); matched {
			return rule.Threshold, true
		}
	}
	if isDefaultBranch {
		return docThreshold, true
	}
	return 0, false
}

// Commit is the minimal ancestry record canonical election needs: a
// commit id and its parent ids. Canon does not model trees or diffs —
// those belong to the object store's blob layer — only the parent
// pointers required to compute reachability.
type Commit struct {
	ID      nodeid.ObjectID   `json:"id"`
	Parents []nodeid.ObjectID `json:"parents"`
}

// NodeID implements dag.Node.
func (c Commit) NodeID() nodeid.ObjectID { return c.ID }

// ParentIDs implements dag.Node.
func (c Commit) ParentIDs() []nodeid.ObjectID { return c.Parents }

// Ancestry is the commit graph canonical election reasons over, built
// from whatever commits the caller has fetched so far (a partial graph
// is tolerated; votes for unreachable declared tips are simply absent).
type Ancestry struct {
	g *dag.DAG[nodeid.ObjectID, Commit]
}

// NewAncestry builds an Ancestry from a set of known commits.
func NewAncestry(commits []Commit) *Ancestry {
	g := dag.New[nodeid.ObjectID, Commit](func(a, b nodeid.ObjectID) bool { return a.Less(b) })
	for _, c := range commits {
		g.Add(c)
	}
	return &Ancestry{g: g}
}

// depth returns the number of ancestors of id known to the ancestry,
// used as the "newest" measure when electing among candidates: a
// commit with more known ancestors sits deeper in history.
func (a *Ancestry) depth(id nodeid.ObjectID) int {
	return a.g.Ancestors(id).Len()
}

// AheadBehind returns how many commits head has that base lacks, and
// how many base has that head lacks, over the known ancestry. Patch
// revisions report this against the canonical branch tip.
func (a *Ancestry) AheadBehind(head, base nodeid.ObjectID) (ahead, behind int) {
	headAnc := a.g.Ancestors(head)
	headAnc.Add(head)
	baseAnc := a.g.Ancestors(base)
	baseAnc.Add(base)
	for c := range headAnc {
		if !baseAnc.Contains(c) {
			ahead++
		}
	}
	for c := range baseAnc {
		if !headAnc.Contains(c) {
			behind++
		}
	}
	return ahead, behind
}

// ErrNoCanonicalTip is returned by CanonicalTip when no candidate meets
// the required threshold.
type ErrNoCanonicalTip struct {
	Ref       string
	Threshold int
}

func (e *ErrNoCanonicalTip) Error() string {
	return fmt.Sprintf("canon: no commit with at least %d vote(s) found for %s", e.Threshold, e.Ref)
}

// DelegateTip is one delegate's declared tip for a ref, read from its
// sigrefs manifest.
type DelegateTip struct {
	NID nodeid.NID
	Tip nodeid.ObjectID
}

// CanonicalTip elects the current tip of a ref: collect declared tips
// from delegate namespaces, tally fast-forward votes over the known
// ancestry, and return the newest commit meeting threshold.
func (a *Ancestry) CanonicalTip(ref string, tips []DelegateTip, threshold int) (nodeid.ObjectID, error) {
	votes := bag.New[nodeid.ObjectID]()
	candidates := make(map[nodeid.ObjectID]struct{})
	for _, dt := range tips {
		candidates[dt.Tip] = struct{}{}
		ancestors := a.g.Ancestors(dt.Tip)
		for c := range ancestors {
			candidates[c] = struct{}{}
		}
	}

	for c := range candidates {
		count := 0
		for _, dt := range tips {
			if a.g.Reachable(dt.Tip, c) {
				count++
			}
		}
		votes.AddCount(c, count)
	}

	var best nodeid.ObjectID
	bestDepth := -1
	found := false
	// Deterministic iteration: sort candidates so equal-depth ties
	// always resolve the same way regardless of map order.
	ordered := make([]nodeid.ObjectID, 0, len(candidates))
	for c := range candidates {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

	for _, c := range ordered {
		if votes.Count(c) < threshold {
			continue
		}
		d := a.depth(c)
		if d > bestDepth || (d == bestDepth && found && c.Less(best)) {
			best, bestDepth, found = c, d, true
		}
	}
	if !found {
		return nodeid.ObjectID{}, &ErrNoCanonicalTip{Ref: ref, Threshold: threshold}
	}
	return best, nil
}

// Publishing-rule errors.
type pushError string

func (e pushError) Error() string { return string(e) }

const (
	// ErrNonCanonical is returned by CheckPush when a push would make
	// the current canonical tip unreachable, without an allow.rollback
	// opt-in.
	ErrNonCanonical = pushError("canon: push would make the canonical tip disappear, requires allow.rollback")
	// ErrDefaultBranchProtected is returned when a caller attempts to
	// delete the repository's default branch ref.
	ErrDefaultBranchProtected = pushError("canon: the default branch ref may not be deleted")
)

// CheckPush enforces the publishing rules for a local ref update:
// rollbacks need an explicit opt-in and the default branch may not be
// deleted. deleting is true for a ref-delete; allowRollback is
// the namespace's allow.rollback opt-in.
func CheckPush(ref string, isDefaultBranch, deleting, allowRollback bool, oldTip, newTip nodeid.ObjectID, ancestry *Ancestry) error {
	if deleting {
		if isDefaultBranch {
			return ErrDefaultBranchProtected
		}
		return nil
	}
	if oldTip.IsZero() {
		return nil // ref creation, nothing to roll back from
	}
	if newTip == oldTip {
		return nil
	}
	isFastForward := ancestry.g.Reachable(newTip, oldTip)
	if isFastForward {
		return nil
	}
	if !allowRollback {
		return ErrNonCanonical
	}
	return nil
}

// identityRules is a convenience for deriving Rules directly from an
// identity.Document's canonicalReferences payload entry.
func identityRules(doc identity.Document) (Rules, error) {
	return ParseRules(doc.Payload["canonicalReferences"])
}

// RulesFromDocument exposes identityRules for callers in other packages
// (cob/patch computes ahead/behind against the canonical branch and
// needs the same rule set the rest of canon uses).
func RulesFromDocument(doc identity.Document) (Rules, error) {
	return identityRules(doc)
}
