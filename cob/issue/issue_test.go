// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package issue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/forge/cob"
	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/nodeid"
)

func mustAction(t *testing.T, a Action) json.RawMessage {
	t.Helper()
	p, err := EncodeAction(a)
	require.NoError(t, err)
	return p
}

func newEngine(t *testing.T) (*cob.Engine, crypto.PrivateKey) {
	t.Helper()
	e := cob.NewEngine()
	Register(e)
	_, sk, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	return e, sk
}

func TestOpenCloseReopen(t *testing.T) {
	e, sk := newEngine(t)

	objID, ops, err := e.Create(Tag, sk, []json.RawMessage{
		mustAction(t, Action{Kind: ActionOpen, Title: "panic on empty config", Body: "stack trace attached"}),
	}, 1)
	require.NoError(t, err)

	result, err := e.Load(Tag, ops)
	require.NoError(t, err)
	i := result.State.(*Issue)
	require.Equal(t, StateOpen, i.State)
	require.Equal(t, "panic on empty config", i.Title)
	require.Len(t, i.Thread, 1, "opening body is the first thread comment")

	_, closeOps, err := e.Update(Tag, []nodeid.ObjectID{objID}, sk, []json.RawMessage{
		mustAction(t, Action{Kind: ActionClose}),
	}, 2)
	require.NoError(t, err)

	result, err = e.Load(Tag, append(ops, closeOps...))
	require.NoError(t, err)
	require.Equal(t, StateClosed, result.State.(*Issue).State)

	_, reopenOps, err := e.Update(Tag, []nodeid.ObjectID{closeOps[0].ID}, sk, []json.RawMessage{
		mustAction(t, Action{Kind: ActionReopen}),
	}, 3)
	require.NoError(t, err)

	result, err = e.Load(Tag, append(append(ops, closeOps...), reopenOps...))
	require.NoError(t, err)
	require.Equal(t, StateOpen, result.State.(*Issue).State)
}

func TestLabelsAndAssignees(t *testing.T) {
	e, sk := newEngine(t)
	_, assignee, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)

	objID, ops, err := e.Create(Tag, sk, []json.RawMessage{
		mustAction(t, Action{Kind: ActionOpen, Title: "i"}),
	}, 1)
	require.NoError(t, err)

	_, up, err := e.Update(Tag, []nodeid.ObjectID{objID}, sk, []json.RawMessage{
		mustAction(t, Action{Kind: ActionLabel, Labels: []string{"bug", "p1"}}),
		mustAction(t, Action{Kind: ActionAssign, Assignees: []nodeid.NID{assignee.NID()}}),
	}, 2)
	require.NoError(t, err)

	result, err := e.Load(Tag, append(ops, up...))
	require.NoError(t, err)
	i := result.State.(*Issue)
	require.Equal(t, []string{"bug", "p1"}, i.Labels)
	require.Equal(t, []nodeid.NID{assignee.NID()}, i.Assignees)
}

func TestThreadedReplies(t *testing.T) {
	e, sk := newEngine(t)

	objID, ops, err := e.Create(Tag, sk, []json.RawMessage{
		mustAction(t, Action{Kind: ActionOpen, Title: "i", Body: "root"}),
	}, 1)
	require.NoError(t, err)

	_, c1, err := e.Update(Tag, []nodeid.ObjectID{objID}, sk, []json.RawMessage{
		mustAction(t, Action{Kind: ActionComment, Body: "reply", ReplyTo: ops[0].ID}),
	}, 2)
	require.NoError(t, err)

	result, err := e.Load(Tag, append(ops, c1...))
	require.NoError(t, err)
	i := result.State.(*Issue)
	require.Len(t, i.Thread, 2)
	require.Equal(t, ops[0].ID, i.Comments[c1[0].ID].ReplyTo)
}

func TestReplyToUnknownCommentIsCorrupt(t *testing.T) {
	e, sk := newEngine(t)

	objID, ops, err := e.Create(Tag, sk, []json.RawMessage{
		mustAction(t, Action{Kind: ActionOpen, Title: "i"}),
	}, 1)
	require.NoError(t, err)

	var bogus nodeid.ObjectID
	bogus[0] = 0xaa
	_, bad, err := e.Update(Tag, []nodeid.ObjectID{objID}, sk, []json.RawMessage{
		mustAction(t, Action{Kind: ActionComment, Body: "orphan", ReplyTo: bogus}),
	}, 2)
	require.NoError(t, err)

	result, err := e.Load(Tag, append(ops, bad...))
	require.NoError(t, err)
	require.Len(t, result.Corrupt, 1)
	require.Equal(t, StateOpen, result.State.(*Issue).State)
}
