// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gossip implements the event-driven protocol core. The core
// performs no I/O: Step applies one event to the state in place and
// returns the actions to perform, driven by the reactor (package
// gossip/reactor) which owns the sockets and timers. Tests drive the
// core directly with synthetic events and clocks.
package gossip

import (
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/time/rate"

	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/nodeid"
	"github.com/luxfi/forge/wire"
)

// PeerID is the reactor's opaque handle for one connection. The NID
// behind it is only known once the handshake completes.
type PeerID string

// PeerState is the per-peer connection state machine: Disconnected,
// Connecting, Handshaking, Gossiping, Draining, Disconnected.
type PeerState int

const (
	PeerDisconnected PeerState = iota
	PeerConnecting
	PeerHandshaking
	PeerGossiping
	PeerDraining
)

func (s PeerState) String() string {
	switch s {
	case PeerDisconnected:
		return "disconnected"
	case PeerConnecting:
		return "connecting"
	case PeerHandshaking:
		return "handshaking"
	case PeerGossiping:
		return "gossiping"
	case PeerDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// TimerKind names the timers the core may start or cancel.
type TimerKind string

const (
	TimerAnnounce TimerKind = "announce" // periodic inventory re-announcement
	TimerPing     TimerKind = "ping"     // keepalive probe
	TimerDrain    TimerKind = "drain"    // grace period before close
)

// LocalChangeKind classifies what changed locally.
type LocalChangeKind string

const (
	ChangeRefs      LocalChangeKind = "refs"      // our namespace's sigrefs advanced
	ChangeInventory LocalChangeKind = "inventory" // seeded set changed
)

// Events ingested by the core. Tagged variants, no deep
// hierarchy.
type (
	// Event is one input to Step. Time is stamped by the reactor so the
	// core never reads a wall clock.
	Event interface{ when() int64 }

	// MessageReceived delivers one decoded frame from a peer.
	MessageReceived struct {
		Time int64
		From PeerID
		Msg  wire.Message
	}

	// ConnectionEstablished reports a transport-level connection.
	ConnectionEstablished struct {
		Time    int64
		Peer    PeerID
		Addr    string
		Inbound bool
	}

	// ConnectionLost reports a dropped connection.
	ConnectionLost struct {
		Time int64
		Peer PeerID
	}

	// TimerExpired fires a previously started timer.
	TimerExpired struct {
		Time int64
		Kind TimerKind
		Peer PeerID // zero for node-wide timers
	}

	// LocalChange reports that this node's own state moved: refs
	// updated or inventory changed.
	LocalChange struct {
		Time int64
		RID  nodeid.RID
		Kind LocalChangeKind
		// RefsHash is the digest of our updated sigrefs manifest when
		// Kind is ChangeRefs.
		RefsHash nodeid.ObjectID
	}
)

func (e MessageReceived) when() int64       { return e.Time }
func (e ConnectionEstablished) when() int64 { return e.Time }
func (e ConnectionLost) when() int64        { return e.Time }
func (e TimerExpired) when() int64          { return e.Time }
func (e LocalChange) when() int64           { return e.Time }

// Actions produced by the core, executed by the reactor.
type (
	// Action is one output of Step.
	Action interface{ action() }

	// SendMessage writes one frame to a peer.
	SendMessage struct {
		To  PeerID
		Msg wire.Message
	}

	// StartTimer arms a timer.
	StartTimer struct {
		Kind     TimerKind
		Peer     PeerID
		Duration time.Duration
	}

	// CancelTimer disarms a timer.
	CancelTimer struct {
		Kind TimerKind
		Peer PeerID
	}

	// CloseConnection drops a peer with a reason.
	CloseConnection struct {
		Peer   PeerID
		Reason string
	}

	// FetchRepository asks the fetch sub-protocol to replicate rid from
	// the given candidate seeds.
	FetchRepository struct {
		RID   nodeid.RID
		Seeds []nodeid.NID
	}

	// UpdateRouting records "nid claims to seed rid at time" in the
	// routing table.
	UpdateRouting struct {
		RID      nodeid.RID
		NID      nodeid.NID
		RefsHash nodeid.ObjectID
		Time     int64
	}

	// UpdateAddresses records a node announcement's address records in
	// the address book.
	UpdateAddresses struct {
		NID       nodeid.NID
		Alias     string
		Features  uint64
		Version   uint16
		Agent     string
		Addresses []wire.Address
		Time      int64
	}
)

func (SendMessage) action()     {}
func (StartTimer) action()      {}
func (CancelTimer) action()     {}
func (CloseConnection) action() {}
func (FetchRepository) action() {}
func (UpdateRouting) action()   {}
func (UpdateAddresses) action() {}

// Policy is the synchronous decision surface the core consults; backed
// by package policy in production and by plain funcs in tests.
type Policy interface {
	MaySeed(rid nodeid.RID) bool
	MayDisclose(rid nodeid.RID, to nodeid.NID) bool
	Blocked(rid nodeid.RID) bool
}

// Routing is the read side of the routing table: what refs hash we last
// stored for (rid, nid). Writes travel back as UpdateRouting actions.
type Routing interface {
	RefsHash(rid nodeid.RID, nid nodeid.NID) (nodeid.ObjectID, bool)
}

// Config carries the node's own identity and protocol parameters.
type Config struct {
	Signer   crypto.PrivateKey
	Alias    string
	Features uint64
	Agent    string
	// Addresses this node advertises in its own announcements.
	Addresses []wire.Address
	// AnnounceInterval is the period of the inventory re-announcement
	// timer.
	AnnounceInterval time.Duration
	// DrainGrace is how long a draining peer may flush before close.
	DrainGrace time.Duration
	// RelayLimit caps relayed announcements per origin, tokens per
	// second with RelayBurst headroom (anti-flooding).
	RelayLimit rate.Limit
	RelayBurst int
	// Inventory returns the RIDs this node currently advertises.
	Inventory func() []nodeid.RID
	// Subscription is the filter sent during the handshake.
	Subscription *Filter
}

// Peer is the core's view of one connection.
type Peer struct {
	ID           PeerID
	NID          nodeid.NID
	Addr         string
	State        PeerState
	Inbound      bool
	Subscription *Filter
}

// seen tracks the last accepted announcement per (origin, tag):
// timestamp plus a payload digest, for the equal-timestamp conflict
// rule.
type seen struct {
	Timestamp int64
	Digest    [32]byte
}

// State is the protocol core's entire mutable state. It is owned by a
// single goroutine (the reactor); Step mutates it in place and returns
// the actions to execute.
type State struct {
	cfg      Config
	policy   Policy
	routing  Routing
	peers    map[PeerID]*Peer
	byNID    map[nodeid.NID]PeerID
	lastSeen map[nodeid.NID]map[wire.Tag]seen
	limiters map[nodeid.NID]*rate.Limiter
}

// NewState constructs the core state. policy and routing are consulted
// synchronously; both must be snapshot-consistent reads.
func NewState(cfg Config, policy Policy, routing Routing) *State {
	if cfg.Subscription == nil {
		cfg.Subscription = MatchAll()
	}
	if cfg.RelayLimit == 0 {
		cfg.RelayLimit = rate.Limit(1)
	}
	if cfg.RelayBurst == 0 {
		cfg.RelayBurst = 8
	}
	if cfg.Inventory == nil {
		cfg.Inventory = func() []nodeid.RID { return nil }
	}
	return &State{
		cfg:      cfg,
		policy:   policy,
		routing:  routing,
		peers:    make(map[PeerID]*Peer),
		byNID:    make(map[nodeid.NID]PeerID),
		lastSeen: make(map[nodeid.NID]map[wire.Tag]seen),
		limiters: make(map[nodeid.NID]*rate.Limiter),
	}
}

// Peer returns the core's view of a connection.
func (s *State) Peer(id PeerID) (*Peer, bool) {
	p, ok := s.peers[id]
	return p, ok
}

// ConnectedNIDs returns the NIDs of every peer in the gossiping state.
func (s *State) ConnectedNIDs() []nodeid.NID {
	out := make([]nodeid.NID, 0, len(s.byNID))
	for nid, id := range s.byNID {
		if p, ok := s.peers[id]; ok && p.State == PeerGossiping {
			out = append(out, nid)
		}
	}
	return out
}

// Step advances the protocol core by one event. The core is a
// single-threaded cooperative state machine with no blocking calls.
func Step(s *State, e Event) []Action {
	switch ev := e.(type) {
	case ConnectionEstablished:
		return s.onConnected(ev)
	case ConnectionLost:
		return s.onLost(ev)
	case MessageReceived:
		return s.onMessage(ev)
	case TimerExpired:
		return s.onTimer(ev)
	case LocalChange:
		return s.onLocalChange(ev)
	default:
		return nil
	}
}

func (s *State) onConnected(ev ConnectionEstablished) []Action {
	s.peers[ev.Peer] = &Peer{
		ID:      ev.Peer,
		Addr:    ev.Addr,
		State:   PeerHandshaking,
		Inbound: ev.Inbound,
	}

	// Both sides open with their node announcement and subscription.
	ann, err := s.ownAnnouncement(ev.Time)
	if err != nil {
		return []Action{CloseConnection{Peer: ev.Peer, Reason: "announcement signing failed"}}
	}
	filter, err := s.cfg.Subscription.MarshalBinary()
	if err != nil {
		return []Action{CloseConnection{Peer: ev.Peer, Reason: "subscription encoding failed"}}
	}
	return []Action{
		SendMessage{To: ev.Peer, Msg: ann},
		SendMessage{To: ev.Peer, Msg: wire.Subscribe{Filter: filter, Since: ev.Time}},
	}
}

func (s *State) onLost(ev ConnectionLost) []Action {
	p, ok := s.peers[ev.Peer]
	if !ok {
		return nil
	}
	delete(s.peers, ev.Peer)
	if s.byNID[p.NID] == ev.Peer {
		delete(s.byNID, p.NID)
	}
	return []Action{
		CancelTimer{Kind: TimerPing, Peer: ev.Peer},
		CancelTimer{Kind: TimerDrain, Peer: ev.Peer},
	}
}

func (s *State) onTimer(ev TimerExpired) []Action {
	switch ev.Kind {
	case TimerAnnounce:
		actions := s.broadcastInventory(ev.Time, false)
		return append(actions, StartTimer{Kind: TimerAnnounce, Duration: s.cfg.AnnounceInterval})
	case TimerDrain:
		if p, ok := s.peers[ev.Peer]; ok && p.State == PeerDraining {
			return []Action{CloseConnection{Peer: ev.Peer, Reason: "drained"}}
		}
		return nil
	case TimerPing:
		if _, ok := s.peers[ev.Peer]; !ok {
			return nil
		}
		return []Action{
			SendMessage{To: ev.Peer, Msg: wire.Ping{Nonce: uint64(ev.Time)}},
			StartTimer{Kind: TimerPing, Peer: ev.Peer, Duration: s.cfg.AnnounceInterval},
		}
	default:
		return nil
	}
}

func (s *State) onLocalChange(ev LocalChange) []Action {
	switch ev.Kind {
	case ChangeRefs:
		ann := wire.RefsAnnouncement{
			NID:       s.cfg.Signer.NID(),
			RID:       ev.RID,
			RefsHash:  ev.RefsHash,
			Timestamp: ev.Time,
			Relay:     true,
		}
		signed, err := wire.SignRefsAnnouncement(ann, s.cfg.Signer)
		if err != nil {
			return nil
		}
		return s.relayRefs(signed, "")
	case ChangeInventory:
		return s.broadcastInventory(ev.Time, true)
	default:
		return nil
	}
}

func (s *State) onMessage(ev MessageReceived) []Action {
	p, ok := s.peers[ev.From]
	if !ok {
		return nil
	}

	switch msg := ev.Msg.(type) {
	case wire.NodeAnnouncement:
		return s.onNodeAnnouncement(p, msg, ev.Time)
	case wire.Subscribe:
		filter, err := FilterFromBinary(msg.Filter)
		if err != nil {
			return []Action{CloseConnection{Peer: p.ID, Reason: "malformed subscription"}}
		}
		p.Subscription = filter
		return nil
	case wire.Ping:
		return []Action{SendMessage{To: p.ID, Msg: wire.Pong{Nonce: msg.Nonce}}}
	case wire.Pong:
		return nil
	case wire.InventoryAnnouncement:
		if p.State != PeerGossiping {
			return nil
		}
		return s.onInventory(p, msg, ev.Time)
	case wire.RefsAnnouncement:
		if p.State != PeerGossiping {
			return nil
		}
		return s.onRefs(p, msg, ev.Time)
	default:
		return nil
	}
}

func (s *State) onNodeAnnouncement(p *Peer, msg wire.NodeAnnouncement, now int64) []Action {
	if err := wire.VerifyAnnouncement(msg); err != nil {
		return []Action{CloseConnection{Peer: p.ID, Reason: "announcement signature invalid"}}
	}

	if p.State == PeerHandshaking {
		if msg.Version != wire.ProtocolVersion {
			return []Action{CloseConnection{Peer: p.ID, Reason: "protocol version mismatch"}}
		}
		p.NID = msg.NID
		p.State = PeerGossiping
		s.byNID[msg.NID] = p.ID
		s.accept(msg.NID, msg)

		actions := []Action{
			UpdateAddresses{
				NID: msg.NID, Alias: msg.Alias, Features: msg.Features,
				Version: msg.Version, Agent: msg.Agent,
				Addresses: msg.Addresses, Time: msg.Timestamp,
			},
			StartTimer{Kind: TimerPing, Peer: p.ID, Duration: s.cfg.AnnounceInterval},
		}
		// Let the new peer know what we seed right away.
		return append(actions, s.inventoryTo(p, now)...)
	}

	// Relayed third-party node announcement.
	if !s.fresh(msg.NID, msg) {
		return nil
	}
	s.accept(msg.NID, msg)
	actions := []Action{UpdateAddresses{
		NID: msg.NID, Alias: msg.Alias, Features: msg.Features,
		Version: msg.Version, Agent: msg.Agent,
		Addresses: msg.Addresses, Time: msg.Timestamp,
	}}
	if msg.Relay && s.allowRelay(msg.NID, now) {
		actions = append(actions, s.relayToOthers(msg, p.ID)...)
	}
	return actions
}

func (s *State) onInventory(p *Peer, msg wire.InventoryAnnouncement, now int64) []Action {
	if err := wire.VerifyAnnouncement(msg); err != nil {
		return nil
	}
	if !s.fresh(msg.NID, msg) {
		return nil
	}
	s.accept(msg.NID, msg)

	var actions []Action
	for _, rid := range msg.RIDs {
		if s.policy.Blocked(rid) {
			continue
		}
		actions = append(actions, UpdateRouting{RID: rid, NID: msg.NID, Time: msg.Timestamp})
	}
	if msg.Relay && s.allowRelay(msg.NID, now) {
		actions = append(actions, s.relayToOthers(msg, p.ID)...)
	}
	return actions
}

func (s *State) onRefs(p *Peer, msg wire.RefsAnnouncement, now int64) []Action {
	if err := wire.VerifyAnnouncement(msg); err != nil {
		return nil
	}
	if s.policy.Blocked(msg.RID) {
		return nil
	}
	if !s.fresh(msg.NID, msg) {
		return nil
	}
	s.accept(msg.NID, msg)

	var actions []Action
	if s.policy.MaySeed(msg.RID) {
		stored, ok := s.routing.RefsHash(msg.RID, msg.NID)
		if !ok || stored != msg.RefsHash {
			actions = append(actions, FetchRepository{RID: msg.RID, Seeds: []nodeid.NID{msg.NID}})
		}
	}
	actions = append(actions, UpdateRouting{
		RID: msg.RID, NID: msg.NID, RefsHash: msg.RefsHash, Time: msg.Timestamp,
	})
	if msg.Relay && s.allowRelay(msg.NID, now) {
		actions = append(actions, s.relayRefs(msg, p.ID)...)
	}
	return actions
}

// fresh applies the monotonic-timestamp rule: an announcement older
// than the last stored from the same origin is discarded; one with an
// equal timestamp but a different payload is discarded as conflicting.
func (s *State) fresh(origin nodeid.NID, msg wire.Announcement) bool {
	prev, ok := s.lastSeen[origin][msg.Tag()]
	if !ok {
		return true
	}
	ts, digest := announcementKey(msg)
	if ts < prev.Timestamp {
		return false
	}
	if ts == prev.Timestamp && digest != prev.Digest {
		return false
	}
	if ts == prev.Timestamp {
		return false // exact duplicate, nothing new
	}
	return true
}

func (s *State) accept(origin nodeid.NID, msg wire.Announcement) {
	ts, digest := announcementKey(msg)
	if s.lastSeen[origin] == nil {
		s.lastSeen[origin] = make(map[wire.Tag]seen)
	}
	s.lastSeen[origin][msg.Tag()] = seen{Timestamp: ts, Digest: digest}
}

func announcementKey(msg wire.Announcement) (int64, [32]byte) {
	var ts int64
	switch m := msg.(type) {
	case wire.NodeAnnouncement:
		ts = m.Timestamp
	case wire.InventoryAnnouncement:
		ts = m.Timestamp
	case wire.RefsAnnouncement:
		ts = m.Timestamp
	}
	b, err := wire.SigningBytes(msg)
	if err != nil {
		return ts, [32]byte{}
	}
	return ts, blake2b.Sum256(b)
}

// allowRelay consults the per-origin token bucket (anti-flooding). The
// limiter is fed the event time, not the wall clock, so the core stays
// deterministic under synthetic clocks.
func (s *State) allowRelay(origin nodeid.NID, now int64) bool {
	lim, ok := s.limiters[origin]
	if !ok {
		lim = rate.NewLimiter(s.cfg.RelayLimit, s.cfg.RelayBurst)
		s.limiters[origin] = lim
	}
	return lim.AllowN(time.Unix(now, 0), 1)
}

// relayToOthers forwards a node or inventory announcement to every
// other gossiping peer.
func (s *State) relayToOthers(msg wire.Message, except PeerID) []Action {
	var actions []Action
	for id, peer := range s.peers {
		if id == except || peer.State != PeerGossiping {
			continue
		}
		actions = append(actions, SendMessage{To: id, Msg: msg})
	}
	return actions
}

// relayRefs forwards a refs announcement to gossiping peers whose
// subscription matches and to whom the repository may be disclosed.
func (s *State) relayRefs(msg wire.RefsAnnouncement, except PeerID) []Action {
	var actions []Action
	for id, peer := range s.peers {
		if id == except || peer.State != PeerGossiping {
			continue
		}
		if peer.Subscription != nil && !peer.Subscription.Contains(msg.RID) {
			continue
		}
		if !s.policy.MayDisclose(msg.RID, peer.NID) {
			continue
		}
		actions = append(actions, SendMessage{To: id, Msg: msg})
	}
	return actions
}

// broadcastInventory announces our seeded set. Private repositories are
// filtered per recipient: each peer receives only the RIDs it may learn
// about (private-repo suppression).
func (s *State) broadcastInventory(now int64, relay bool) []Action {
	inventory := s.cfg.Inventory()
	var actions []Action
	for id, peer := range s.peers {
		if peer.State != PeerGossiping {
			continue
		}
		disclosed := make([]nodeid.RID, 0, len(inventory))
		for _, rid := range inventory {
			if s.policy.MayDisclose(rid, peer.NID) {
				disclosed = append(disclosed, rid)
			}
		}
		ann := wire.InventoryAnnouncement{
			NID:       s.cfg.Signer.NID(),
			RIDs:      disclosed,
			Timestamp: now,
			Relay:     relay,
		}
		signed, err := wire.SignInventoryAnnouncement(ann, s.cfg.Signer)
		if err != nil {
			continue
		}
		actions = append(actions, SendMessage{To: id, Msg: signed})
	}
	return actions
}

// inventoryTo sends our (disclosure-filtered) inventory to one peer.
func (s *State) inventoryTo(p *Peer, now int64) []Action {
	inventory := s.cfg.Inventory()
	disclosed := make([]nodeid.RID, 0, len(inventory))
	for _, rid := range inventory {
		if s.policy.MayDisclose(rid, p.NID) {
			disclosed = append(disclosed, rid)
		}
	}
	ann := wire.InventoryAnnouncement{
		NID:       s.cfg.Signer.NID(),
		RIDs:      disclosed,
		Timestamp: now,
	}
	signed, err := wire.SignInventoryAnnouncement(ann, s.cfg.Signer)
	if err != nil {
		return nil
	}
	return []Action{SendMessage{To: p.ID, Msg: signed}}
}

// Drain moves a peer to the draining state and arms its grace timer;
// the reactor calls this through a synthetic event when shutting down.
func (s *State) Drain(id PeerID) []Action {
	p, ok := s.peers[id]
	if !ok {
		return nil
	}
	p.State = PeerDraining
	return []Action{StartTimer{Kind: TimerDrain, Peer: id, Duration: s.cfg.DrainGrace}}
}

func (s *State) ownAnnouncement(now int64) (wire.NodeAnnouncement, error) {
	ann := wire.NodeAnnouncement{
		NID:       s.cfg.Signer.NID(),
		Features:  s.cfg.Features,
		Alias:     s.cfg.Alias,
		Version:   wire.ProtocolVersion,
		Agent:     s.cfg.Agent,
		Addresses: s.cfg.Addresses,
		Timestamp: now,
		Relay:     true,
	}
	return wire.SignNodeAnnouncement(ann, s.cfg.Signer)
}
