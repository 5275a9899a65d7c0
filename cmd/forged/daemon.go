// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/luxfi/forge/cob"
	"github.com/luxfi/forge/cob/identitycob"
	"github.com/luxfi/forge/cob/issue"
	"github.com/luxfi/forge/cob/patch"
	"github.com/luxfi/forge/config"
	"github.com/luxfi/forge/control"
	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/fetch"
	"github.com/luxfi/forge/gossip"
	"github.com/luxfi/forge/gossip/reactor"
	"github.com/luxfi/forge/identity"
	"github.com/luxfi/forge/metrics"
	"github.com/luxfi/forge/nodeid"
	"github.com/luxfi/forge/peerstore"
	"github.com/luxfi/forge/policy"
	"github.com/luxfi/forge/replicate"
	"github.com/luxfi/forge/store"
	"github.com/luxfi/forge/store/kv"
	"github.com/luxfi/forge/transport"
	"github.com/luxfi/forge/wire"
)

// Daemon owns every long-lived component, constructed once at start-up
// and injected where needed; no ambient singletons.
type Daemon struct {
	cfg    config.Config
	log    log.Logger
	signer crypto.PrivateKey

	db       kv.Database
	store    *store.Store
	policies *policy.Engine
	peers    *peerstore.Store
	engine   *cob.Engine
	fetcher  *fetch.Fetcher
	syncer   *replicate.Syncer
	state    *gossip.State
	reactor  *reactor.Reactor
	gatherer metrics.MultiGatherer
}

// NewDaemon assembles the node from a validated configuration.
func NewDaemon(cfg config.Config, logger log.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewLogger("forged")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	signer, err := loadOrCreateKey(filepath.Join(cfg.DataDir, "node.key"))
	if err != nil {
		return nil, err
	}

	db, err := kv.OpenPebble(filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		log:      logger,
		signer:   signer,
		db:       db,
		store:    store.New(db),
		gatherer: metrics.NewMultiGatherer(),
	}
	d.policies = policy.New(d.store, cfg.DefaultSeedPolicy)
	d.peers = peerstore.New(d.store)

	d.engine = cob.NewEngine()
	identitycob.Register(d.engine)
	patch.Register(d.engine)
	issue.Register(d.engine)

	fetchReg := metrics.NewRegistry()
	if _, err := metrics.NewFetch(fetchReg); err != nil {
		return nil, err
	}
	if err := d.gatherer.Register("forge_fetch", fetchReg); err != nil {
		return nil, err
	}

	d.fetcher = fetch.New(fetch.Config{
		Store:         d.store,
		Dialer:        transport.NoSubtransport(),
		Log:           logger,
		Concurrency:   cfg.FetchConcurrency,
		Delegates:     d.delegates,
		LocalIdentity: d.localIdentity,
	})
	d.syncer = replicate.New(replicate.Config{
		Fetcher:       d.fetcher,
		Announcer:     announcerFunc(d.announceRefs),
		Log:           logger,
		Seeds:         d.peers.Seeds,
		LocalRefsHash: d.localRefsHash,
	})

	gossipReg := metrics.NewRegistry()
	if _, err := metrics.NewGossip(gossipReg); err != nil {
		return nil, err
	}
	if err := d.gatherer.Register("forge_gossip", gossipReg); err != nil {
		return nil, err
	}

	d.state = gossip.NewState(gossip.Config{
		Signer:           signer,
		Alias:            cfg.Alias,
		Agent:            "forged",
		AnnounceInterval: cfg.AnnounceInterval,
		DrainGrace:       cfg.DrainGrace,
		RelayLimit:       cfg.RelayLimit,
		RelayBurst:       cfg.RelayBurst,
		Inventory:        d.inventory,
	}, gossipPolicy{d: d}, d.peers)
	d.reactor = reactor.New(d.state, daemonSink{d: d}, logger)

	return d, nil
}

// Run starts gossip, the control plane, and the metrics endpoint, and
// blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.reactor.Listen(d.cfg.ListenAddr); err != nil {
		return err
	}
	for _, addr := range d.cfg.BootstrapPeers {
		d.reactor.Connect(addr)
	}

	os.Remove(d.cfg.ControlSocket)
	ln, err := net.Listen("unix", d.cfg.ControlSocket)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	go control.New(d, d.log).Serve(ctx, ln)

	if d.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: d.cfg.MetricsAddr, Handler: mux}
		go srv.ListenAndServe()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	d.log.Info("forged running",
		zap.Stringer("nid", d.signer.NID()),
		zap.String("listen", d.cfg.ListenAddr))
	d.reactor.Run(ctx)
	return d.db.Close()
}

// control.Node implementation

func (d *Daemon) Status() control.Record {
	return control.Record{
		"nid":   d.signer.NID().String(),
		"alias": d.cfg.Alias,
		"peers": len(d.state.ConnectedNIDs()),
	}
}

func (d *Daemon) Inventory() ([]nodeid.RID, error) { return d.policies.Inventory() }

func (d *Daemon) Seed(rid nodeid.RID, scope policy.Scope) error {
	if err := d.policies.Seed(rid, scope); err != nil {
		return err
	}
	d.reactor.LocalChange(rid, gossip.ChangeInventory, nodeid.ObjectID{})
	return nil
}

func (d *Daemon) Unseed(rid nodeid.RID) error {
	if err := d.policies.Unseed(rid); err != nil {
		return err
	}
	d.reactor.LocalChange(rid, gossip.ChangeInventory, nodeid.ObjectID{})
	return nil
}

func (d *Daemon) BlockRepo(rid nodeid.RID) error {
	if err := d.policies.BlockRepo(rid); err != nil {
		return err
	}
	d.reactor.LocalChange(rid, gossip.ChangeInventory, nodeid.ObjectID{})
	return nil
}

func (d *Daemon) Follow(nid nodeid.NID, alias string) error { return d.policies.Follow(nid, alias) }
func (d *Daemon) Unfollow(nid nodeid.NID) error             { return d.policies.Unfollow(nid) }
func (d *Daemon) BlockNode(nid nodeid.NID) error            { return d.policies.BlockNode(nid) }

func (d *Daemon) Sync(ctx context.Context, rid nodeid.RID, mode replicate.Mode, target int, timeout time.Duration) (replicate.Report, error) {
	return d.syncer.Sync(ctx, rid, mode, target, timeout)
}

func (d *Daemon) AnnounceRefs(rid nodeid.RID) error {
	hash, err := d.localRefsHash(rid)
	if err != nil {
		return err
	}
	d.announceRefs(rid, hash)
	return nil
}

// internal wiring

func (d *Daemon) inventory() []nodeid.RID {
	rids, err := d.policies.Inventory()
	if err != nil {
		d.log.Warn("inventory scan failed", zap.Error(err))
		return nil
	}
	return rids
}

func (d *Daemon) announceRefs(rid nodeid.RID, refsHash nodeid.ObjectID) {
	d.reactor.LocalChange(rid, gossip.ChangeRefs, refsHash)
}

// localRefsHash digests our own namespace's sigrefs: the object id the
// rad/sigrefs ref points at.
func (d *Daemon) localRefsHash(rid nodeid.RID) (nodeid.ObjectID, error) {
	ns := store.Namespace{RID: rid, NID: d.signer.NID()}
	id, ok, err := d.store.ReadRef(ns, store.RefSigrefs)
	if err != nil {
		return nodeid.ObjectID{}, err
	}
	if !ok {
		return nodeid.ObjectID{}, store.ErrRefNotFound
	}
	return id, nil
}

// localIdentity loads the locally accepted identity chain for rid from
// our own namespace's rad/id ref.
func (d *Daemon) localIdentity(rid nodeid.RID) (*identity.Chain, bool) {
	ns := store.Namespace{RID: rid, NID: d.signer.NID()}
	idRef, ok, err := d.store.ReadRef(ns, store.RefID)
	if err != nil || !ok {
		return nil, false
	}
	blob, err := d.store.GetBlob(idRef)
	if err != nil {
		return nil, false
	}
	chain, err := identity.UnmarshalChain(blob)
	if err != nil {
		d.log.Warn("local identity chain corrupt",
			zap.Stringer("rid", rid), zap.Error(err))
		return nil, false
	}
	return chain, true
}

func (d *Daemon) delegates(rid nodeid.RID) []nodeid.NID {
	chain, ok := d.localIdentity(rid)
	if !ok {
		return nil
	}
	doc, err := chain.Current()
	if err != nil {
		return nil
	}
	return doc.Delegates
}

// visibility reads the current identity document's visibility for
// disclosure decisions; unknown repositories default to private.
func (d *Daemon) visibility(rid nodeid.RID) identity.Visibility {
	chain, ok := d.localIdentity(rid)
	if !ok {
		return identity.Visibility{}
	}
	doc, err := chain.Current()
	if err != nil {
		return identity.Visibility{}
	}
	return doc.Visibility
}

// gossipPolicy adapts the policy engine and identity store to the
// gossip core's synchronous decision surface.
type gossipPolicy struct{ d *Daemon }

func (p gossipPolicy) MaySeed(rid nodeid.RID) bool {
	ok, err := p.d.policies.MaySeed(rid)
	return err == nil && ok
}

func (p gossipPolicy) Blocked(rid nodeid.RID) bool {
	entry, ok, err := p.d.policies.SeedPolicy(rid)
	return err == nil && ok && entry.Policy == policy.RuleBlock
}

func (p gossipPolicy) MayDisclose(rid nodeid.RID, to nodeid.NID) bool {
	return policy.MayDisclose(p.d.visibility(rid), to)
}

// daemonSink routes the reactor's side effects into the fetcher and the
// peer tables.
type daemonSink struct{ d *Daemon }

func (s daemonSink) FetchRepository(rid nodeid.RID, seeds []nodeid.NID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.d.cfg.SyncTimeout)
		defer cancel()
		if _, err := s.d.fetcher.Fetch(ctx, rid, seeds, 1); err != nil {
			s.d.log.Debug("triggered fetch failed",
				zap.Stringer("rid", rid), zap.Error(err))
		}
	}()
}

func (s daemonSink) UpdateRouting(rid nodeid.RID, nid nodeid.NID, refsHash nodeid.ObjectID, ts int64) {
	if err := s.d.peers.PutRouting(peerstore.RoutingEntry{RID: rid, NID: nid, RefsHash: refsHash, Time: ts}); err != nil {
		s.d.log.Warn("routing update failed", zap.Error(err))
	}
	s.d.syncer.Ack(rid, nid, refsHash)
}

func (s daemonSink) UpdateAddresses(nid nodeid.NID, alias string, features uint64, version uint16, agent string, addrs []wire.Address, ts int64) {
	if err := s.d.peers.PutNode(peerstore.Node{
		NID: nid, Alias: alias, Features: features, Version: version, Agent: agent, Timestamp: ts,
	}); err != nil {
		s.d.log.Warn("node update failed", zap.Error(err))
		return
	}
	for _, a := range addrs {
		if err := s.d.peers.PutAddress(peerstore.Address{
			NID: nid, Type: a.Type, Value: a.Value, Port: a.Port,
			Source: "announcement", Timestamp: ts,
		}); err != nil {
			s.d.log.Warn("address update failed", zap.Error(err))
		}
	}
}

// announcerFunc adapts a function to replicate.Announcer.
type announcerFunc func(rid nodeid.RID, refsHash nodeid.ObjectID)

func (f announcerFunc) AnnounceRefs(rid nodeid.RID, refsHash nodeid.ObjectID) { f(rid, refsHash) }

func loadOrCreateKey(path string) (crypto.PrivateKey, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		return crypto.PrivateKeyFromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return crypto.PrivateKey{}, fmt.Errorf("read node key: %w", err)
	}
	_, sk, err := crypto.GenerateKeypair(nil)
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	if err := os.WriteFile(path, sk.Seed(), 0o600); err != nil {
		return crypto.PrivateKey{}, fmt.Errorf("write node key: %w", err)
	}
	return sk, nil
}
