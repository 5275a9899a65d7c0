// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package reactor is the I/O adapter around the pure gossip core: one
// goroutine multiplexes sockets and timers, stamps events, drives
// gossip.Step, and executes the returned actions. The
// protocol core itself never suspends; every blocking call lives here.
package reactor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/luxfi/forge/gossip"
	"github.com/luxfi/forge/nodeid"
	"github.com/luxfi/forge/wire"
)

// Sink receives the side effects the core cannot perform itself:
// fetches and table writes. Backed by the fetch sub-protocol and the
// routing/address tables in production.
type Sink interface {
	FetchRepository(rid nodeid.RID, seeds []nodeid.NID)
	UpdateRouting(rid nodeid.RID, nid nodeid.NID, refsHash nodeid.ObjectID, time int64)
	UpdateAddresses(nid nodeid.NID, alias string, features uint64, version uint16, agent string, addrs []wire.Address, time int64)
}

type timerKey struct {
	kind gossip.TimerKind
	peer gossip.PeerID
}

// Reactor drives one gossip.State from real sockets and timers.
type Reactor struct {
	log   log.Logger
	state *gossip.State
	sink  Sink

	events chan gossip.Event

	mu     sync.Mutex
	conns  map[gossip.PeerID]net.Conn
	timers map[timerKey]*time.Timer

	listener net.Listener
	nextPeer atomic.Uint64

	shuttingDown atomic.Bool
	done         chan struct{}
}

// New wires a reactor around a constructed core state.
func New(state *gossip.State, sink Sink, logger log.Logger) *Reactor {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Reactor{
		log:    logger,
		state:  state,
		sink:   sink,
		events: make(chan gossip.Event, 256),
		conns:  make(map[gossip.PeerID]net.Conn),
		timers: make(map[timerKey]*time.Timer),
		done:   make(chan struct{}),
	}
}

// Listen starts accepting inbound connections on addr.
func (r *Reactor) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("reactor: listen %s: %w", addr, err)
	}
	r.listener = ln
	go r.acceptLoop(ln)
	r.log.Info("gossip listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Run processes events until ctx is cancelled, then drains peers with a
// grace period. It is the single goroutine that touches the core state.
func (r *Reactor) Run(ctx context.Context) {
	defer close(r.done)

	r.execute(gossip.Step(r.state, gossip.TimerExpired{
		Time: time.Now().Unix(),
		Kind: gossip.TimerAnnounce,
	}))

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case ev := <-r.events:
			r.execute(gossip.Step(r.state, ev))
		}
	}
}

// Connect dials addr with jittered exponential backoff until it
// succeeds or the reactor shuts down. Transport errors are the only
// retried error class.
func (r *Reactor) Connect(addr string) {
	go func() {
		policy := backoff.NewExponentialBackOff()
		policy.MaxElapsedTime = 0 // retry until shutdown
		err := backoff.Retry(func() error {
			if r.shuttingDown.Load() {
				return nil
			}
			conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
			if err != nil {
				r.log.Debug("dial failed, backing off",
					zap.String("addr", addr), zap.Error(err))
				return err
			}
			r.adopt(conn, false)
			return nil
		}, policy)
		if err != nil {
			r.log.Warn("giving up on peer", zap.String("addr", addr), zap.Error(err))
		}
	}()
}

// LocalChange injects a local-change event (refs updated, inventory
// changed) into the reactor's event stream.
func (r *Reactor) LocalChange(rid nodeid.RID, kind gossip.LocalChangeKind, refsHash nodeid.ObjectID) {
	r.enqueue(gossip.LocalChange{
		Time:     time.Now().Unix(),
		RID:      rid,
		Kind:     kind,
		RefsHash: refsHash,
	})
}

func (r *Reactor) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !r.shuttingDown.Load() {
				r.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		r.adopt(conn, true)
	}
}

// adopt registers a connection, spawns its read loop, and reports it to
// the core.
func (r *Reactor) adopt(conn net.Conn, inbound bool) {
	id := gossip.PeerID(fmt.Sprintf("peer-%d", r.nextPeer.Add(1)))
	r.mu.Lock()
	r.conns[id] = conn
	r.mu.Unlock()

	r.enqueue(gossip.ConnectionEstablished{
		Time:    time.Now().Unix(),
		Peer:    id,
		Addr:    conn.RemoteAddr().String(),
		Inbound: inbound,
	})
	go r.readLoop(id, conn)
}

func (r *Reactor) readLoop(id gossip.PeerID, conn net.Conn) {
	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			r.enqueue(gossip.ConnectionLost{Time: time.Now().Unix(), Peer: id})
			r.dropConn(id)
			return
		}
		r.enqueue(gossip.MessageReceived{
			Time: time.Now().Unix(),
			From: id,
			Msg:  msg,
		})
	}
}

func (r *Reactor) enqueue(ev gossip.Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// execute performs the actions the core returned. All I/O errors are
// reported back into the core as further events, never handled inline.
func (r *Reactor) execute(actions []gossip.Action) {
	for _, a := range actions {
		switch act := a.(type) {
		case gossip.SendMessage:
			r.send(act.To, act.Msg)
		case gossip.StartTimer:
			r.startTimer(act)
		case gossip.CancelTimer:
			r.cancelTimer(timerKey{kind: act.Kind, peer: act.Peer})
		case gossip.CloseConnection:
			r.log.Debug("closing connection",
				zap.String("peer", string(act.Peer)), zap.String("reason", act.Reason))
			r.dropConn(act.Peer)
		case gossip.FetchRepository:
			r.sink.FetchRepository(act.RID, act.Seeds)
		case gossip.UpdateRouting:
			r.sink.UpdateRouting(act.RID, act.NID, act.RefsHash, act.Time)
		case gossip.UpdateAddresses:
			r.sink.UpdateAddresses(act.NID, act.Alias, act.Features, act.Version, act.Agent, act.Addresses, act.Time)
		}
	}
}

func (r *Reactor) send(to gossip.PeerID, msg wire.Message) {
	r.mu.Lock()
	conn, ok := r.conns[to]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := wire.WriteMessage(conn, msg); err != nil {
		r.log.Debug("write failed", zap.String("peer", string(to)), zap.Error(err))
		r.enqueue(gossip.ConnectionLost{Time: time.Now().Unix(), Peer: to})
		r.dropConn(to)
	}
}

func (r *Reactor) startTimer(act gossip.StartTimer) {
	key := timerKey{kind: act.Kind, peer: act.Peer}
	r.cancelTimer(key)
	timer := time.AfterFunc(act.Duration, func() {
		r.enqueue(gossip.TimerExpired{
			Time: time.Now().Unix(),
			Kind: act.Kind,
			Peer: act.Peer,
		})
	})
	r.mu.Lock()
	r.timers[key] = timer
	r.mu.Unlock()
}

func (r *Reactor) cancelTimer(key timerKey) {
	r.mu.Lock()
	if t, ok := r.timers[key]; ok {
		t.Stop()
		delete(r.timers, key)
	}
	r.mu.Unlock()
}

func (r *Reactor) dropConn(id gossip.PeerID) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// shutdown stops accepting new events, gives every peer a drain grace
// period, then closes everything (cooperative shutdown).
func (r *Reactor) shutdown() {
	r.shuttingDown.Store(true)
	if r.listener != nil {
		r.listener.Close()
	}

	r.mu.Lock()
	ids := make([]gossip.PeerID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	for _, t := range r.timers {
		t.Stop()
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.execute(r.state.Drain(id))
	}
	// Grace period for draining writes, then hard close.
	time.Sleep(100 * time.Millisecond)
	for _, id := range ids {
		r.dropConn(id)
	}
	r.log.Info("gossip reactor stopped")
}
