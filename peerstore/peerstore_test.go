// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package peerstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/forge/nodeid"
	"github.com/luxfi/forge/store"
	"github.com/luxfi/forge/store/kv"
	"github.com/luxfi/forge/wire"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(store.New(kv.NewMemory()))
}

func nid(b byte) nodeid.NID {
	var id nodeid.NID
	id[0] = b
	return id
}

func rid(b byte) nodeid.RID {
	var id nodeid.RID
	id[0] = b
	return id
}

func TestNodeRoundTrip(t *testing.T) {
	s := newStore(t)
	n := Node{NID: nid(1), Alias: "alice", Version: 1, Agent: "forge/0.1", Timestamp: 100}
	require.NoError(t, s.PutNode(n))

	got, ok, err := s.Node(nid(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, n, got)

	_, ok, err = s.Node(nid(2))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecordAttempt(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.RecordAttempt(nid(1), 50, false))
	n, ok, err := s.Node(nid(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 50, n.LastAttempt)
	require.Zero(t, n.LastSuccess)

	require.NoError(t, s.RecordAttempt(nid(1), 60, true))
	n, _, err = s.Node(nid(1))
	require.NoError(t, err)
	require.EqualValues(t, 60, n.LastSuccess)
}

func TestAddressBookUniquePerNodeTypeValue(t *testing.T) {
	s := newStore(t)
	a := Address{NID: nid(1), Type: wire.AddrIPv4, Value: "192.0.2.1", Port: 8776, Source: "bootstrap", Timestamp: 1}
	require.NoError(t, s.PutAddress(a))

	// Same (node, type, value) replaces rather than duplicates.
	a.Port = 9000
	require.NoError(t, s.PutAddress(a))

	addrs, err := s.Addresses(nid(1))
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	require.EqualValues(t, 9000, addrs[0].Port)
}

func TestBannedAddressSkipped(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.PutAddress(Address{NID: nid(1), Type: wire.AddrIPv4, Value: "192.0.2.1"}))
	require.NoError(t, s.Ban(nid(1), wire.AddrIPv4, "192.0.2.1"))

	addrs, err := s.Addresses(nid(1))
	require.NoError(t, err)
	require.Empty(t, addrs)
}

func TestRoutingMonotonic(t *testing.T) {
	s := newStore(t)
	r, n := rid(1), nid(2)

	require.NoError(t, s.PutRouting(RoutingEntry{RID: r, NID: n, Time: 100, RefsHash: nodeid.ObjectID{0x01}}))
	require.NoError(t, s.PutRouting(RoutingEntry{RID: r, NID: n, Time: 50, RefsHash: nodeid.ObjectID{0x02}}))

	e, ok, err := s.Routing(r, n)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 100, e.Time)
	require.Equal(t, nodeid.ObjectID{0x01}, e.RefsHash, "older routing entry is ignored")
}

func TestSeedsListsRoutingEntries(t *testing.T) {
	s := newStore(t)
	r := rid(1)
	require.NoError(t, s.PutRouting(RoutingEntry{RID: r, NID: nid(2), Time: 1}))
	require.NoError(t, s.PutRouting(RoutingEntry{RID: r, NID: nid(3), Time: 1}))
	require.NoError(t, s.PutRouting(RoutingEntry{RID: rid(9), NID: nid(4), Time: 1}))

	seeds, err := s.Seeds(r)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
}

func TestNotificationReplacesOlder(t *testing.T) {
	s := newStore(t)
	r := rid(1)

	require.NoError(t, s.Notify(Notification{RID: r, Ref: "heads/master", New: nodeid.ObjectID{0x01}, Timestamp: 1}))
	require.NoError(t, s.Notify(Notification{RID: r, Ref: "heads/master", New: nodeid.ObjectID{0x02}, Timestamp: 2}))

	unread, err := s.Unread()
	require.NoError(t, err)
	require.Len(t, unread, 1, "newer notification replaces the older for the same (repo, ref)")
	require.Equal(t, nodeid.ObjectID{0x02}, unread[0].New)

	require.NoError(t, s.MarkRead(r, "heads/master"))
	unread, err = s.Unread()
	require.NoError(t, err)
	require.Empty(t, unread)
}
