// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/forge/fetch"
	"github.com/luxfi/forge/nodeid"
	"github.com/luxfi/forge/policy"
	"github.com/luxfi/forge/replicate"
)

type fakeNode struct {
	seeded   map[nodeid.RID]policy.Scope
	followed map[nodeid.NID]string
	syncErr  error
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		seeded:   make(map[nodeid.RID]policy.Scope),
		followed: make(map[nodeid.NID]string),
	}
}

func (n *fakeNode) Status() Record { return Record{"state": "running"} }

func (n *fakeNode) Inventory() ([]nodeid.RID, error) {
	out := make([]nodeid.RID, 0, len(n.seeded))
	for rid := range n.seeded {
		out = append(out, rid)
	}
	return out, nil
}

func (n *fakeNode) Seed(rid nodeid.RID, scope policy.Scope) error {
	n.seeded[rid] = scope
	return nil
}

func (n *fakeNode) Unseed(rid nodeid.RID) error {
	delete(n.seeded, rid)
	return nil
}

func (n *fakeNode) BlockRepo(rid nodeid.RID) error { return nil }

func (n *fakeNode) Follow(nid nodeid.NID, alias string) error {
	n.followed[nid] = alias
	return nil
}

func (n *fakeNode) Unfollow(nid nodeid.NID) error {
	delete(n.followed, nid)
	return nil
}

func (n *fakeNode) BlockNode(nid nodeid.NID) error { return nil }

func (n *fakeNode) Sync(ctx context.Context, rid nodeid.RID, mode replicate.Mode, target int, timeout time.Duration) (replicate.Report, error) {
	return replicate.Report{RID: rid}, n.syncErr
}

func (n *fakeNode) AnnounceRefs(rid nodeid.RID) error { return nil }

// client pairs the connection with a single buffered reader so
// consecutive round-trips never lose read-ahead data.
type client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// startServer runs a control server on a unix socket and returns a
// connected client.
func startServer(t *testing.T, node Node) *client {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "control.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go New(node, nil).Serve(ctx, ln)

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, scanner: bufio.NewScanner(conn)}
}

// roundTrip sends one request and reads records until the exit record.
func roundTrip(t *testing.T, c *client, req Request) ([]map[string]interface{}, int) {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = c.conn.Write(append(payload, '\n'))
	require.NoError(t, err)

	var records []map[string]interface{}
	scanner := c.scanner
	for scanner.Scan() {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		if exit, ok := rec["exit"]; ok {
			return records, int(exit.(float64))
		}
		records = append(records, rec)
	}
	t.Fatal("connection closed before exit record")
	return nil, -1
}

func TestStatusCommand(t *testing.T) {
	conn := startServer(t, newFakeNode())
	records, exit := roundTrip(t, conn, Request{Command: "status"})
	require.Equal(t, ExitOK, exit)
	require.Len(t, records, 1)
	require.Equal(t, "running", records[0]["state"])
}

func TestSeedInventoryUnseed(t *testing.T) {
	node := newFakeNode()
	conn := startServer(t, node)
	rid := nodeid.RID{0x01}

	_, exit := roundTrip(t, conn, Request{Command: "seed", Args: map[string]string{"rid": rid.String(), "scope": "followed"}})
	require.Equal(t, ExitOK, exit)
	require.Equal(t, policy.ScopeFollowed, node.seeded[rid])

	records, exit := roundTrip(t, conn, Request{Command: "inventory"})
	require.Equal(t, ExitOK, exit)
	require.Len(t, records, 1)
	require.Equal(t, rid.String(), records[0]["rid"])

	_, exit = roundTrip(t, conn, Request{Command: "unseed", Args: map[string]string{"rid": rid.String()}})
	require.Equal(t, ExitOK, exit)
	require.Empty(t, node.seeded)
}

func TestFollowUnfollow(t *testing.T) {
	node := newFakeNode()
	conn := startServer(t, node)
	nid := nodeid.NID{0x02}

	_, exit := roundTrip(t, conn, Request{Command: "follow", Args: map[string]string{"nid": nid.String(), "alias": "alice"}})
	require.Equal(t, ExitOK, exit)
	require.Equal(t, "alice", node.followed[nid])

	_, exit = roundTrip(t, conn, Request{Command: "unfollow", Args: map[string]string{"nid": nid.String()}})
	require.Equal(t, ExitOK, exit)
	require.Empty(t, node.followed)
}

func TestSyncMapsNoCandidateSeedsExit(t *testing.T) {
	node := newFakeNode()
	node.syncErr = fetch.ErrNoCandidateSeeds
	conn := startServer(t, node)

	_, exit := roundTrip(t, conn, Request{Command: "sync", Args: map[string]string{"rid": nodeid.RID{0x01}.String(), "mode": "fetch"}})
	require.Equal(t, ExitNoCandidateSeeds, exit)
}

func TestSyncMapsTimeoutExit(t *testing.T) {
	node := newFakeNode()
	node.syncErr = replicate.ErrTimeout
	conn := startServer(t, node)

	_, exit := roundTrip(t, conn, Request{Command: "sync", Args: map[string]string{"rid": nodeid.RID{0x01}.String()}})
	require.Equal(t, ExitTimeout, exit)
}

func TestUnknownCommand(t *testing.T) {
	conn := startServer(t, newFakeNode())
	_, exit := roundTrip(t, conn, Request{Command: "frobnicate"})
	require.Equal(t, ExitError, exit)
}

func TestMissingArgument(t *testing.T) {
	conn := startServer(t, newFakeNode())
	_, exit := roundTrip(t, conn, Request{Command: "seed"})
	require.Equal(t, ExitError, exit)
}
