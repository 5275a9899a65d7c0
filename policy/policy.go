// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package policy implements the seeding/following policy engine: a
// follow table per node, a seed table per repository
// with scope, and the decision functions the gossip and fetch cores
// consult before replicating, exchanging refs, or disclosing a
// repository's existence.
package policy

import (
	"errors"
	"fmt"

	"github.com/luxfi/forge/identity"
	"github.com/luxfi/forge/internal/container/set"
	"github.com/luxfi/forge/nodeid"
	"github.com/luxfi/forge/store"
)

// Rule is an allow/block decision.
type Rule string

const (
	RuleAllow Rule = "allow"
	RuleBlock Rule = "block"
)

// Scope is the subset of remotes a seeding policy accepts.
type Scope string

const (
	ScopeFollowed Scope = "followed"
	ScopeAll      Scope = "all"
)

// DefaultPolicy is the decision applied to repositories with no seed
// entry.
type DefaultPolicy string

const (
	DefaultAllowAll DefaultPolicy = "allow-all"
	DefaultBlock    DefaultPolicy = "block"
)

var (
	// ErrPolicyBlocked is surfaced when an operation is refused because
	// the subject node or repository is blocked.
	ErrPolicyBlocked = errors.New("policy: blocked")
	// ErrUnauthorised is surfaced when a private repository would be
	// disclosed to a peer outside its allow-list.
	ErrUnauthorised = errors.New("policy: unauthorised")
)

// FollowEntry is the persisted per-node policy row.
type FollowEntry struct {
	NID    nodeid.NID `json:"nid"`
	Alias  string     `json:"alias,omitempty"`
	Policy Rule       `json:"policy"`
}

// SeedEntry is the persisted per-repository policy row.
type SeedEntry struct {
	RID    nodeid.RID `json:"rid"`
	Policy Rule       `json:"policy"`
	Scope  Scope      `json:"scope"`
}

// Engine answers policy questions from the two persisted tables. The
// tables share the node's kv database; readers see whatever snapshot
// the database provides.
type Engine struct {
	follows *store.Table[FollowEntry]
	seeds   *store.Table[SeedEntry]
	def     DefaultPolicy
}

// New opens the policy tables. def decides repositories with no seed
// entry; nodes with no follow entry are neither followed nor blocked.
func New(db *store.Store, def DefaultPolicy) *Engine {
	return &Engine{
		follows: store.NewTable[FollowEntry](db.DB(), "policies/follow"),
		seeds:   store.NewTable[SeedEntry](db.DB(), "policies/seed"),
		def:     def,
	}
}

// Follow records an allow policy for nid. Idempotent: re-following with
// the same alias leaves the table unchanged.
func (e *Engine) Follow(nid nodeid.NID, alias string) error {
	return e.follows.Put(nid.Bytes(), FollowEntry{NID: nid, Alias: alias, Policy: RuleAllow})
}

// BlockNode records a block policy for nid.
func (e *Engine) BlockNode(nid nodeid.NID) error {
	return e.follows.Put(nid.Bytes(), FollowEntry{NID: nid, Policy: RuleBlock})
}

// Unfollow removes nid's follow entry entirely.
func (e *Engine) Unfollow(nid nodeid.NID) error {
	return e.follows.Delete(nid.Bytes())
}

// FollowPolicy returns nid's rule, if an entry exists.
func (e *Engine) FollowPolicy(nid nodeid.NID) (FollowEntry, bool, error) {
	entry, err := e.follows.Get(nid.Bytes())
	if errors.Is(err, store.ErrTableKeyNotFound) {
		return FollowEntry{}, false, nil
	}
	if err != nil {
		return FollowEntry{}, false, err
	}
	return entry, true, nil
}

// Seed records an allow policy for rid with the given scope.
// Idempotent.
func (e *Engine) Seed(rid nodeid.RID, scope Scope) error {
	return e.seeds.Put(rid.Bytes(), SeedEntry{RID: rid, Policy: RuleAllow, Scope: scope})
}

// Unseed removes rid's seed entry entirely.
func (e *Engine) Unseed(rid nodeid.RID) error {
	return e.seeds.Delete(rid.Bytes())
}

// BlockRepo records a block policy for rid. A blocked repository drops
// out of the inventory and inbound announcements referencing it are
// refused.
func (e *Engine) BlockRepo(rid nodeid.RID) error {
	return e.seeds.Put(rid.Bytes(), SeedEntry{RID: rid, Policy: RuleBlock, Scope: ScopeFollowed})
}

// SeedPolicy returns rid's entry, if one exists.
func (e *Engine) SeedPolicy(rid nodeid.RID) (SeedEntry, bool, error) {
	entry, err := e.seeds.Get(rid.Bytes())
	if errors.Is(err, store.ErrTableKeyNotFound) {
		return SeedEntry{}, false, nil
	}
	if err != nil {
		return SeedEntry{}, false, err
	}
	return entry, true, nil
}

// MaySeed reports whether this node seeds rid: an explicit allow entry,
// or no entry under an allow-all default.
func (e *Engine) MaySeed(rid nodeid.RID) (bool, error) {
	entry, ok, err := e.SeedPolicy(rid)
	if err != nil {
		return false, err
	}
	if !ok {
		return e.def == DefaultAllowAll, nil
	}
	return entry.Policy == RuleAllow, nil
}

// MayExchangeRefs reports whether refs for rid may be exchanged with
// nid: under a followed scope the peer must be a delegate of the
// repository or explicitly followed; under an all scope any non-blocked
// peer qualifies.
func (e *Engine) MayExchangeRefs(rid nodeid.RID, nid nodeid.NID, delegates []nodeid.NID) (bool, error) {
	follow, hasFollow, err := e.FollowPolicy(nid)
	if err != nil {
		return false, err
	}
	if hasFollow && follow.Policy == RuleBlock {
		return false, nil
	}

	entry, ok, err := e.SeedPolicy(rid)
	if err != nil {
		return false, err
	}
	scope := ScopeFollowed
	if ok {
		if entry.Policy == RuleBlock {
			return false, nil
		}
		scope = entry.Scope
	}

	if scope == ScopeAll {
		return true, nil
	}
	if set.Of(delegates...).Contains(nid) {
		return true, nil
	}
	return hasFollow && follow.Policy == RuleAllow, nil
}

// MayDisclose reports whether rid's existence may be revealed to nid:
// public repositories always, private ones only to allow-listed peers.
// Peers that already know a private repository's identifier are not
// hidden from; the decision here gates our own announcements.
func MayDisclose(vis identity.Visibility, nid nodeid.NID) bool {
	if vis.Public {
		return true
	}
	for _, allowed := range vis.Allow {
		if allowed == nid {
			return true
		}
	}
	return false
}

// Inventory returns every repository with an allow seed entry, the set
// this node advertises as seeded and fetchable.
func (e *Engine) Inventory() ([]nodeid.RID, error) {
	var out []nodeid.RID
	err := e.seeds.Range(func(k []byte, v SeedEntry) bool {
		if v.Policy == RuleAllow {
			out = append(out, v.RID)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("policy: scan seed table: %w", err)
	}
	return out, nil
}
