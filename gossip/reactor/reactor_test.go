// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reactor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/gossip"
	"github.com/luxfi/forge/nodeid"
	"github.com/luxfi/forge/wire"
)

type nullPolicy struct{}

func (nullPolicy) MaySeed(nodeid.RID) bool                 { return false }
func (nullPolicy) Blocked(nodeid.RID) bool                 { return false }
func (nullPolicy) MayDisclose(nodeid.RID, nodeid.NID) bool { return true }

type nullRouting struct{}

func (nullRouting) RefsHash(nodeid.RID, nodeid.NID) (nodeid.ObjectID, bool) {
	return nodeid.ObjectID{}, false
}

type recordingSink struct {
	routing chan nodeid.RID
}

func (s *recordingSink) FetchRepository(rid nodeid.RID, seeds []nodeid.NID) {}
func (s *recordingSink) UpdateRouting(rid nodeid.RID, nid nodeid.NID, refsHash nodeid.ObjectID, ts int64) {
	select {
	case s.routing <- rid:
	default:
	}
}
func (s *recordingSink) UpdateAddresses(nid nodeid.NID, alias string, features uint64, version uint16, agent string, addrs []wire.Address, ts int64) {
}

func newReactor(t *testing.T) (*Reactor, crypto.PrivateKey, *recordingSink) {
	t.Helper()
	_, sk, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	state := gossip.NewState(gossip.Config{
		Signer:           sk,
		Alias:            "test",
		AnnounceInterval: time.Hour, // keep periodic traffic out of the test
		DrainGrace:       50 * time.Millisecond,
	}, nullPolicy{}, nullRouting{})
	sink := &recordingSink{routing: make(chan nodeid.RID, 8)}
	return New(state, sink, nil), sk, sink
}

// A raw TCP client connects, completes the handshake, and observes the
// reactor's opening announcement and subscription frames.
func TestReactorHandshakeOverTCP(t *testing.T) {
	r, _, _ := newReactor(t)
	require.NoError(t, r.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	conn, err := net.Dial("tcp", r.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	first, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	ann, ok := first.(wire.NodeAnnouncement)
	require.True(t, ok, "reactor opens with its node announcement")
	require.Equal(t, wire.ProtocolVersion, ann.Version)
	require.NoError(t, wire.VerifyAnnouncement(ann))

	second, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	_, ok = second.(wire.Subscribe)
	require.True(t, ok, "subscription follows the announcement")

	// Complete the handshake from our side and confirm liveness with a
	// ping round-trip.
	_, peerKey, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	ours, err := wire.SignNodeAnnouncement(wire.NodeAnnouncement{
		NID:       peerKey.NID(),
		Version:   wire.ProtocolVersion,
		Timestamp: time.Now().Unix(),
	}, peerKey)
	require.NoError(t, err)
	require.NoError(t, wire.WriteMessage(conn, ours))

	// The reactor replies with its (empty) inventory once gossiping.
	inv, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	require.IsType(t, wire.InventoryAnnouncement{}, inv)

	require.NoError(t, wire.WriteMessage(conn, wire.Ping{Nonce: 42}))
	for {
		msg, err := wire.ReadMessage(conn)
		require.NoError(t, err)
		if pong, ok := msg.(wire.Pong); ok {
			require.EqualValues(t, 42, pong.Nonce)
			return
		}
	}
}

func TestReactorVersionMismatchCloses(t *testing.T) {
	r, _, _ := newReactor(t)
	require.NoError(t, r.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	conn, err := net.Dial("tcp", r.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(5 * time.Second))
	_, err = wire.ReadMessage(conn) // announcement
	require.NoError(t, err)
	_, err = wire.ReadMessage(conn) // subscribe
	require.NoError(t, err)

	_, peerKey, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	stale, err := wire.SignNodeAnnouncement(wire.NodeAnnouncement{
		NID:       peerKey.NID(),
		Version:   wire.ProtocolVersion + 1,
		Timestamp: time.Now().Unix(),
	}, peerKey)
	require.NoError(t, err)
	require.NoError(t, wire.WriteMessage(conn, stale))

	// The reactor closes the connection; the next read fails.
	for {
		if _, err := wire.ReadMessage(conn); err != nil {
			return
		}
	}
}
