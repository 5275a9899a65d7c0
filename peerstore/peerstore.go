// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package peerstore persists what a node knows about its peers and the
// network: the nodes table, the address book, the routing table
// ("this NID claims to seed this RID at this time"), and the
// notifications table of unread ref changes. All four
// are typed tables over the shared kv database; readers see consistent
// snapshots, writers serialise per table.
package peerstore

import (
	"errors"
	"fmt"

	"github.com/luxfi/forge/nodeid"
	"github.com/luxfi/forge/store"
	"github.com/luxfi/forge/wire"
)

// Node is one row of the nodes table.
type Node struct {
	NID         nodeid.NID `json:"nid"`
	Features    uint64     `json:"features"`
	Alias       string     `json:"alias,omitempty"`
	Version     uint16     `json:"version"`
	Agent       string     `json:"agent,omitempty"`
	Timestamp   int64      `json:"timestamp"`
	LastAttempt int64      `json:"last_attempt,omitempty"`
	LastSuccess int64      `json:"last_success,omitempty"`
}

// Address is one row of the address book; unique per
// (node, type, value).
type Address struct {
	NID         nodeid.NID       `json:"nid"`
	Type        wire.AddressType `json:"type"`
	Value       string           `json:"value"`
	Port        uint16           `json:"port"`
	Source      string           `json:"source"` // "announcement", "bootstrap", "manual"
	Timestamp   int64            `json:"timestamp"`
	LastAttempt int64            `json:"last_attempt,omitempty"`
	LastSuccess int64            `json:"last_success,omitempty"`
	Banned      bool             `json:"banned,omitempty"`
}

// RoutingEntry is one row of the routing table, primary key
// (resource, node).
type RoutingEntry struct {
	RID      nodeid.RID      `json:"rid"`
	NID      nodeid.NID      `json:"nid"`
	RefsHash nodeid.ObjectID `json:"refs_hash,omitempty"`
	Time     int64           `json:"time"`
}

// NotificationStatus is the read state of a ref-change notification.
type NotificationStatus string

const (
	NotificationUnread NotificationStatus = "unread"
	NotificationRead   NotificationStatus = "read"
)

// Notification records one ref change; unique per (repo, ref) so a
// newer notification replaces an older one.
type Notification struct {
	RID       nodeid.RID         `json:"rid"`
	Ref       string             `json:"ref"`
	Status    NotificationStatus `json:"status"`
	Old       nodeid.ObjectID    `json:"old,omitempty"`
	New       nodeid.ObjectID    `json:"new,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

// Store bundles the four tables.
type Store struct {
	nodes         *store.Table[Node]
	addresses     *store.Table[Address]
	routing       *store.Table[RoutingEntry]
	notifications *store.Table[Notification]
}

// New opens the peer tables over the node's database.
func New(db *store.Store) *Store {
	return &Store{
		nodes:         store.NewTable[Node](db.DB(), "nodes"),
		addresses:     store.NewTable[Address](db.DB(), "addresses"),
		routing:       store.NewTable[RoutingEntry](db.DB(), "routing"),
		notifications: store.NewTable[Notification](db.DB(), "notifications"),
	}
}

func addressKey(nid nodeid.NID, addrType wire.AddressType, value string) []byte {
	return []byte(fmt.Sprintf("%s/%s/%s", nid, addrType, value))
}

func routingKey(rid nodeid.RID, nid nodeid.NID) []byte {
	return []byte(fmt.Sprintf("%s/%s", rid, nid))
}

func notificationKey(rid nodeid.RID, ref string) []byte {
	return []byte(fmt.Sprintf("%s/%s", rid, ref))
}

// PutNode inserts or replaces a node row.
func (s *Store) PutNode(n Node) error {
	return s.nodes.Put(n.NID.Bytes(), n)
}

// Node reads a node row.
func (s *Store) Node(nid nodeid.NID) (Node, bool, error) {
	n, err := s.nodes.Get(nid.Bytes())
	if errors.Is(err, store.ErrTableKeyNotFound) {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, err
	}
	return n, true, nil
}

// RecordAttempt stamps a dial attempt on the node row.
func (s *Store) RecordAttempt(nid nodeid.NID, when int64, success bool) error {
	n, ok, err := s.Node(nid)
	if err != nil {
		return err
	}
	if !ok {
		n = Node{NID: nid}
	}
	n.LastAttempt = when
	if success {
		n.LastSuccess = when
	}
	return s.PutNode(n)
}

// PutAddress inserts or replaces an address row, keyed by
// (node, type, value).
func (s *Store) PutAddress(a Address) error {
	return s.addresses.Put(addressKey(a.NID, a.Type, a.Value), a)
}

// Addresses returns every non-banned address known for nid.
func (s *Store) Addresses(nid nodeid.NID) ([]Address, error) {
	prefix := nid.String() + "/"
	var out []Address
	err := s.addresses.Range(func(k []byte, a Address) bool {
		if len(k) >= len(prefix) && string(k[:len(prefix)]) == prefix && !a.Banned {
			out = append(out, a)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("peerstore: scan addresses: %w", err)
	}
	return out, nil
}

// Ban marks an address so it is skipped by future dial attempts.
func (s *Store) Ban(nid nodeid.NID, addrType wire.AddressType, value string) error {
	key := addressKey(nid, addrType, value)
	a, err := s.addresses.Get(key)
	if errors.Is(err, store.ErrTableKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	a.Banned = true
	return s.addresses.Put(key, a)
}

// PutRouting records that nid claims to seed rid. Monotonic: an entry
// older than the stored one is ignored.
func (s *Store) PutRouting(e RoutingEntry) error {
	key := routingKey(e.RID, e.NID)
	prev, err := s.routing.Get(key)
	if err == nil && prev.Time > e.Time {
		return nil
	}
	if err != nil && !errors.Is(err, store.ErrTableKeyNotFound) {
		return err
	}
	return s.routing.Put(key, e)
}

// Routing reads the entry for (rid, nid).
func (s *Store) Routing(rid nodeid.RID, nid nodeid.NID) (RoutingEntry, bool, error) {
	e, err := s.routing.Get(routingKey(rid, nid))
	if errors.Is(err, store.ErrTableKeyNotFound) {
		return RoutingEntry{}, false, nil
	}
	if err != nil {
		return RoutingEntry{}, false, err
	}
	return e, true, nil
}

// RefsHash implements gossip.Routing over the persisted table.
func (s *Store) RefsHash(rid nodeid.RID, nid nodeid.NID) (nodeid.ObjectID, bool) {
	e, ok, err := s.Routing(rid, nid)
	if err != nil || !ok {
		return nodeid.ObjectID{}, false
	}
	return e.RefsHash, true
}

// Seeds returns every NID known to seed rid, the candidate set the
// fetch sub-protocol resolves from.
func (s *Store) Seeds(rid nodeid.RID) ([]nodeid.NID, error) {
	prefix := rid.String() + "/"
	var out []nodeid.NID
	err := s.routing.Range(func(k []byte, e RoutingEntry) bool {
		if len(k) >= len(prefix) && string(k[:len(prefix)]) == prefix {
			out = append(out, e.NID)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("peerstore: scan routing: %w", err)
	}
	return out, nil
}

// Notify records a ref change, replacing any older notification for the
// same (repo, ref).
func (s *Store) Notify(n Notification) error {
	n.Status = NotificationUnread
	return s.notifications.Put(notificationKey(n.RID, n.Ref), n)
}

// MarkRead flips a notification to read.
func (s *Store) MarkRead(rid nodeid.RID, ref string) error {
	key := notificationKey(rid, ref)
	n, err := s.notifications.Get(key)
	if errors.Is(err, store.ErrTableKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	n.Status = NotificationRead
	return s.notifications.Put(key, n)
}

// Unread returns every unread notification.
func (s *Store) Unread() ([]Notification, error) {
	var out []Notification
	err := s.notifications.Range(func(k []byte, n Notification) bool {
		if n.Status == NotificationUnread {
			out = append(out, n)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("peerstore: scan notifications: %w", err)
	}
	return out, nil
}
