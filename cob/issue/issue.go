// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package issue registers the xyz.radicle.issue collaborative-object
// type: a discussion thread with open/closed state, labels, and
// assignees, folded from the signed operation DAG.
package issue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/luxfi/forge/cob"
	"github.com/luxfi/forge/nodeid"
)

// Tag is the registered type name.
const Tag = "xyz.radicle.issue"

// State is an issue's lifecycle state.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

var (
	ErrUnknownAction  = errors.New("issue: unknown action")
	ErrUnknownComment = errors.New("issue: unknown comment")
)

// Comment is one entry in the issue's discussion thread. ReplyTo is the
// id of the comment this one answers, or zero for a top-level comment.
type Comment struct {
	ID        nodeid.ObjectID `json:"id"`
	Author    nodeid.NID      `json:"author"`
	Body      string          `json:"body"`
	ReplyTo   nodeid.ObjectID `json:"replyTo,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Issue is the folded state of an issue object.
type Issue struct {
	Title     string                       `json:"title"`
	Author    nodeid.NID                   `json:"author"`
	State     State                        `json:"state"`
	Labels    []string                     `json:"labels,omitempty"`
	Assignees []nodeid.NID                 `json:"assignees,omitempty"`
	Comments  map[nodeid.ObjectID]*Comment `json:"comments"`
	// Thread preserves comment append order for rendering.
	Thread []nodeid.ObjectID `json:"thread"`
}

// Action is the payload of one issue operation, CBOR-encoded inside the
// operation's JSON signing envelope (same layering as package patch).
type Action struct {
	Kind string `cbor:"kind" json:"kind"`

	Title     string          `cbor:"title,omitempty" json:"title,omitempty"`
	Body      string          `cbor:"body,omitempty" json:"body,omitempty"`
	ReplyTo   nodeid.ObjectID `cbor:"replyTo,omitempty" json:"replyTo,omitempty"`
	Labels    []string        `cbor:"labels,omitempty" json:"labels,omitempty"`
	Assignees []nodeid.NID    `cbor:"assignees,omitempty" json:"assignees,omitempty"`
}

// Action kinds.
const (
	ActionOpen    = "open"
	ActionComment = "comment"
	ActionLabel   = "label"
	ActionAssign  = "assign"
	ActionClose   = "close"
	ActionReopen  = "reopen"
	ActionEdit    = "edit"
)

// EncodeAction serialises an action as the operation payload.
func EncodeAction(a Action) (json.RawMessage, error) {
	b, err := cbor.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("issue: encode action: %w", err)
	}
	return json.Marshal(b)
}

func decodeAction(payload json.RawMessage) (Action, error) {
	var raw []byte
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Action{}, fmt.Errorf("issue: decode payload envelope: %w", err)
	}
	var a Action
	if err := cbor.Unmarshal(raw, &a); err != nil {
		return Action{}, fmt.Errorf("issue: decode action: %w", err)
	}
	return a, nil
}

// Register installs the xyz.radicle.issue type into e.
func Register(e *cob.Engine) {
	e.RegisterType(cob.TypeSpec{
		Tag:          Tag,
		InitialState: func() interface{} { return newIssue() },
		Apply:        apply,
		Validate:     validate,
	})
}

func newIssue() *Issue {
	return &Issue{
		State:    StateOpen,
		Comments: make(map[nodeid.ObjectID]*Comment),
	}
}

func validate(op cob.Operation, state interface{}) error {
	i, ok := state.(*Issue)
	if !ok {
		return fmt.Errorf("issue: unexpected state type %T", state)
	}
	a, err := decodeAction(op.Payload)
	if err != nil {
		return err
	}
	switch a.Kind {
	case ActionOpen:
		if len(op.Parents) != 0 {
			return fmt.Errorf("issue: open must be the genesis operation")
		}
	case ActionComment:
		if !a.ReplyTo.IsZero() {
			if _, ok := i.Comments[a.ReplyTo]; !ok {
				return fmt.Errorf("%w: reply to %s", ErrUnknownComment, a.ReplyTo)
			}
		}
	case ActionLabel, ActionAssign, ActionClose, ActionReopen, ActionEdit:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
	return nil
}

func apply(state interface{}, op cob.Operation) (interface{}, error) {
	i, ok := state.(*Issue)
	if !ok {
		return nil, fmt.Errorf("issue: unexpected state type %T", state)
	}
	a, err := decodeAction(op.Payload)
	if err != nil {
		return nil, err
	}

	switch a.Kind {
	case ActionOpen:
		i.Title = a.Title
		i.Author = op.Author
		i.State = StateOpen
		if a.Body != "" {
			i.Comments[op.ID] = &Comment{
				ID:        op.ID,
				Author:    op.Author,
				Body:      a.Body,
				Timestamp: op.Timestamp,
			}
			i.Thread = append(i.Thread, op.ID)
		}

	case ActionComment:
		i.Comments[op.ID] = &Comment{
			ID:        op.ID,
			Author:    op.Author,
			Body:      a.Body,
			ReplyTo:   a.ReplyTo,
			Timestamp: op.Timestamp,
		}
		i.Thread = append(i.Thread, op.ID)

	case ActionLabel:
		i.Labels = a.Labels

	case ActionAssign:
		i.Assignees = a.Assignees

	case ActionClose:
		i.State = StateClosed

	case ActionReopen:
		i.State = StateOpen

	case ActionEdit:
		if a.Title != "" {
			i.Title = a.Title
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
	return i, nil
}
