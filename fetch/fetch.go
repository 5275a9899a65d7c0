// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fetch implements the fetch sub-protocol:
// discover seeds, pull each seed's namespaces into a staging view that
// readers never see, verify signed refs and identity per namespace,
// and atomically promote what survives into the repository. One bad
// namespace is dropped with a warning; it never fails the whole fetch.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/forge/identity"
	"github.com/luxfi/forge/nodeid"
	"github.com/luxfi/forge/sigrefs"
	"github.com/luxfi/forge/store"
	"github.com/luxfi/forge/store/kv"
	"github.com/luxfi/forge/transport"
)

// Error kinds.
var (
	ErrNoCandidateSeeds = errors.New("fetch: no candidate seeds")
	ErrUnverified       = errors.New("fetch: namespace failed verification")
	ErrForkedIdentity   = errors.New("fetch: staged identity is not an accepted descendant")
	ErrSeedTimeout      = errors.New("fetch: seed deadline exceeded")
	ErrTargetNotMet     = errors.New("fetch: replication target not met")
)

// DefaultConcurrency bounds the per-seed worker pool.
const DefaultConcurrency = 4

// SeedOutcome is the per-seed result the report carries.
type SeedOutcome struct {
	Seed       nodeid.NID
	Namespaces []nodeid.NID // namespaces admitted from this seed
	Dropped    []NamespaceError
	Err        error
}

// NamespaceError records one namespace dropped during verification.
type NamespaceError struct {
	NID nodeid.NID
	Err error
}

// Report is the structured outcome of one fetch: succeeded seeds,
// failed seeds with reason, and any per-namespace warnings.
type Report struct {
	RID       nodeid.RID
	Succeeded []SeedOutcome
	Failed    []SeedOutcome
	Warnings  []string
}

// Success reports whether at least target seeds contributed a valid
// namespace.
func (r Report) Success(target int) bool { return len(r.Succeeded) >= target }

// Config wires the fetcher's collaborators.
type Config struct {
	Store  *store.Store
	Dialer transport.Dialer
	Log    log.Logger
	// Delegates returns the current delegate set for a repository, used
	// to decide which staged namespaces need the identity-descendant
	// check.
	Delegates func(rid nodeid.RID) []nodeid.NID
	// LocalIdentity returns the locally accepted identity chain for a
	// repository, if the repository is already replicated.
	LocalIdentity func(rid nodeid.RID) (*identity.Chain, bool)
	// Concurrency bounds parallel seed workers; DefaultConcurrency when
	// zero.
	Concurrency int
}

// Fetcher drives fetches for any repository.
type Fetcher struct {
	cfg Config
}

// New constructs a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Log == nil {
		cfg.Log = log.NewNoOpLogger()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Fetcher{cfg: cfg}
}

// Fetch replicates rid from the candidate seeds until target seeds have
// each contributed at least one valid namespace.
// Per-seed work runs in a bounded pool; each worker stages into its own
// view and promotes only what verifies.
func (f *Fetcher) Fetch(ctx context.Context, rid nodeid.RID, seeds []nodeid.NID, target int) (Report, error) {
	report := Report{RID: rid}
	if len(seeds) == 0 {
		return report, ErrNoCandidateSeeds
	}
	if target <= 0 {
		target = 1
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)

	for _, seed := range seeds {
		seed := seed
		g.Go(func() error {
			outcome := f.fetchSeed(ctx, rid, seed)
			mu.Lock()
			defer mu.Unlock()
			if outcome.Err != nil || len(outcome.Namespaces) == 0 {
				if outcome.Err == nil {
					outcome.Err = ErrUnverified
				}
				report.Failed = append(report.Failed, outcome)
			} else {
				report.Succeeded = append(report.Succeeded, outcome)
			}
			for _, dropped := range outcome.Dropped {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("namespace %s dropped: %v", dropped.NID, dropped.Err))
			}
			return nil
		})
	}
	// Workers only report; they never abort the group.
	_ = g.Wait()

	if !report.Success(target) {
		return report, fmt.Errorf("%w: %d of %d", ErrTargetNotMet, len(report.Succeeded), target)
	}
	return report, nil
}

// fetchSeed pulls, verifies, and promotes one seed's namespaces.
func (f *Fetcher) fetchSeed(ctx context.Context, rid nodeid.RID, seed nodeid.NID) SeedOutcome {
	outcome := SeedOutcome{Seed: seed}

	source, err := f.cfg.Dialer.Dial(ctx, seed)
	if err != nil {
		outcome.Err = fmt.Errorf("fetch: dial seed %s: %w", seed, err)
		return outcome
	}
	defer source.Close()

	namespaces, err := source.Namespaces(ctx, rid)
	if err != nil {
		outcome.Err = fmt.Errorf("fetch: list namespaces: %w", err)
		return outcome
	}

	delegates := map[nodeid.NID]bool{}
	if f.cfg.Delegates != nil {
		for _, d := range f.cfg.Delegates(rid) {
			delegates[d] = true
		}
	}

	for _, ns := range namespaces {
		if ctx.Err() != nil {
			outcome.Err = ErrSeedTimeout
			return outcome
		}
		if err := f.fetchNamespace(ctx, rid, ns, source, delegates[ns]); err != nil {
			f.cfg.Log.Warn("namespace dropped",
				zap.Stringer("rid", rid),
				zap.Stringer("namespace", ns),
				zap.Error(err))
			outcome.Dropped = append(outcome.Dropped, NamespaceError{NID: ns, Err: err})
			continue
		}
		outcome.Namespaces = append(outcome.Namespaces, ns)
	}
	return outcome
}

// fetchNamespace stages, verifies, and promotes one namespace.
func (f *Fetcher) fetchNamespace(ctx context.Context, rid nodeid.RID, nsID nodeid.NID, source transport.Source, isDelegate bool) error {
	refs, err := source.Refs(ctx, rid, nsID)
	if err != nil {
		return fmt.Errorf("fetch: refs: %w", err)
	}

	// Stage into a private view: a throwaway store invisible to readers
	// of the real repository. Dropping the store discards the staging
	// area.
	staging := store.New(kv.NewMemory())
	ns := store.Namespace{RID: rid, NID: nsID}

	blobs := make(map[nodeid.ObjectID][]byte)
	tx := staging.Begin(ns)
	for name, id := range refs {
		content, err := source.Blob(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch: blob %s for %s: %w", id, name, err)
		}
		stagedID, err := staging.PutBlob(content)
		if err != nil {
			return err
		}
		// Refs other than blobs of our own hashing (commits fetched
		// from a foreign store) keep their advertised id; the staging
		// store records the content under both when they differ.
		if stagedID != id {
			if err := staging.PutBlobAt(id, content); err != nil {
				return err
			}
		}
		blobs[id] = content
		if err := tx.SetRef(store.RefName(name), id); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Signed refs are the gatekeeper for the whole namespace.
	if err := sigrefs.Verify(staging, ns); err != nil {
		return fmt.Errorf("%w: %v", ErrUnverified, err)
	}

	// The staged rad/id must parse and re-verify.
	stagedChain, err := f.verifyStagedIdentity(staging, ns)
	if err != nil {
		return err
	}

	// A delegate namespace must carry an accepted descendant of our
	// local current document.
	if isDelegate && stagedChain != nil {
		if local, ok := f.localChain(rid); ok {
			if err := checkDescendant(local, stagedChain); err != nil {
				return err
			}
		}
	}

	// Promote. The namespace's refs and sigrefs land in one
	// batch; a concurrent local change to the same namespace surfaces
	// as a CAS conflict and restarts the promotion for the refs still
	// pending, up to three attempts in all.
	return f.promote(ns, refs, blobs)
}

// verifyStagedIdentity parses and re-verifies the staged rad/id chain
// and its rad/root pin.
func (f *Fetcher) verifyStagedIdentity(staging *store.Store, ns store.Namespace) (*identity.Chain, error) {
	idRef, ok, err := staging.ReadRef(ns, store.RefID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrUnverified, store.RefID)
	}
	blob, err := staging.GetBlob(idRef)
	if err != nil {
		return nil, fmt.Errorf("%w: identity blob: %v", ErrUnverified, err)
	}
	chain, err := identity.UnmarshalChain(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnverified, err)
	}

	// rad/root pins the genesis identity commit; a namespace grafted
	// onto a different history fails here.
	rootRef, ok, err := staging.ReadRef(ns, store.RefRoot)
	if err != nil {
		return nil, err
	}
	if ok {
		genesis, err := chain.Genesis()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnverified, err)
		}
		if rootRef != genesis {
			return nil, fmt.Errorf("%w: rad/root does not pin the genesis identity commit", ErrUnverified)
		}
		if identity.RepoID(genesis) != ns.RID {
			return nil, fmt.Errorf("%w: genesis identity does not derive this repository id", ErrUnverified)
		}
	}
	return chain, nil
}

func (f *Fetcher) localChain(rid nodeid.RID) (*identity.Chain, bool) {
	if f.cfg.LocalIdentity == nil {
		return nil, false
	}
	return f.cfg.LocalIdentity(rid)
}

func checkDescendant(local, staged *identity.Chain) error {
	localCurrent, err := local.CurrentRevision()
	if err != nil {
		return nil // nothing local to diverge from
	}
	if !staged.Contains(localCurrent.ID) {
		return ErrForkedIdentity
	}
	stagedCurrent, err := staged.CurrentRevision()
	if err != nil {
		return fmt.Errorf("%w: staged chain has no accepted revision", ErrForkedIdentity)
	}
	if stagedCurrent.ID == localCurrent.ID {
		return nil
	}
	// The staged current must sit on the same accepted line: walking
	// its history must pass through our current revision.
	history, err := staged.History(stagedCurrent.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForkedIdentity, err)
	}
	for _, id := range history {
		if id == localCurrent.ID {
			return nil
		}
	}
	return ErrForkedIdentity
}

// promote moves a verified namespace's refs into the repository under
// compare-and-swap: each ref's current value is observed, the whole set
// is staged with those values as preconditions, and a conflicting
// concurrent write fails the commit so only the affected refs are
// re-observed and retried.
func (f *Fetcher) promote(ns store.Namespace, refs map[string]nodeid.ObjectID, blobs map[nodeid.ObjectID][]byte) error {
	for id, content := range blobs {
		if err := f.cfg.Store.PutBlobAt(id, content); err != nil {
			return err
		}
	}

	pending := make(map[string]nodeid.ObjectID, len(refs))
	for name, id := range refs {
		pending[name] = id
	}

	const promoteAttempts = 3
	var lastErr error
	for attempt := 0; attempt < promoteAttempts && len(pending) > 0; attempt++ {
		tx := f.cfg.Store.Begin(ns)
		staged := 0
		for name, id := range pending {
			cur, exists, err := f.cfg.Store.ReadRef(ns, store.RefName(name))
			if err != nil {
				return err
			}
			if exists && cur == id {
				delete(pending, name)
				continue
			}
			old := nodeid.ObjectID{}
			if exists {
				old = cur
			}
			if err := tx.SetRefCAS(store.RefName(name), old, id); err != nil {
				return err
			}
			staged++
		}
		if staged == 0 {
			return nil
		}
		if err := tx.Commit(); err != nil {
			if errors.Is(err, store.ErrRefChanged) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	if len(pending) > 0 && lastErr != nil {
		return lastErr
	}
	return nil
}
