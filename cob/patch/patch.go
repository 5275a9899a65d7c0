// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package patch registers the xyz.radicle.patch collaborative-object
// type: a proposed change set moving through draft, open, merged, and
// archived states, with revisions, threaded review comments, and
// verdicts folded from the signed operation DAG.
package patch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/luxfi/forge/cob"
	"github.com/luxfi/forge/nodeid"
)

// Tag is the registered type name.
const Tag = "xyz.radicle.patch"

// State is a patch's lifecycle state.
type State string

const (
	StateDraft    State = "draft"
	StateOpen     State = "open"
	StateMerged   State = "merged"
	StateArchived State = "archived"
)

// Verdict is a review outcome.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
)

var (
	ErrUnknownAction   = errors.New("patch: unknown action")
	ErrUnknownRevision = errors.New("patch: unknown revision")
	ErrUnknownComment  = errors.New("patch: unknown comment")
	ErrUnknownReview   = errors.New("patch: unknown review")
	ErrNotAuthor       = errors.New("patch: only the author may perform this action")
)

// Revision is one proposed head of the patch: a base commit, a head
// commit, and whatever diff context the author attached.
type Revision struct {
	ID          nodeid.ObjectID `json:"id"`
	Author      nodeid.NID      `json:"author"`
	Base        nodeid.ObjectID `json:"base"`
	Head        nodeid.ObjectID `json:"head"`
	Description string          `json:"description,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

// Comment is one entry in a discussion thread. ReplyTo holds the id of
// the comment this one answers, or zero for a top-level comment. Edges
// are ids into the arena, never pointers (patches, revisions, and
// comments reference each other cyclically).
type Comment struct {
	ID        nodeid.ObjectID `json:"id"`
	Author    nodeid.NID      `json:"author"`
	Body      string          `json:"body"`
	ReplyTo   nodeid.ObjectID `json:"replyTo,omitempty"`
	Revision  nodeid.ObjectID `json:"revision,omitempty"`
	Resolved  bool            `json:"resolved"`
	Timestamp int64           `json:"timestamp"`
}

// InlineComment anchors a review remark to a file and line of the
// revision's diff.
type InlineComment struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Body string `json:"body"`
}

// Review is one delegate's verdict over a revision, with optional
// inline comments.
type Review struct {
	ID       nodeid.ObjectID `json:"id"`
	Author   nodeid.NID      `json:"author"`
	Revision nodeid.ObjectID `json:"revision"`
	Verdict  Verdict         `json:"verdict"`
	Summary  string          `json:"summary,omitempty"`
	Inline   []InlineComment `json:"inline,omitempty"`
}

// Merge records the canonical branch advancing to a revision's head.
type Merge struct {
	Author   nodeid.NID      `json:"author"`
	Revision nodeid.ObjectID `json:"revision"`
	Commit   nodeid.ObjectID `json:"commit"`
}

// Patch is the folded state of a patch object: an arena of revisions,
// reviews, and comments indexed by operation id.
type Patch struct {
	Title     string                           `json:"title"`
	Author    nodeid.NID                       `json:"author"`
	State     State                            `json:"state"`
	Labels    []string                         `json:"labels,omitempty"`
	Revisions map[nodeid.ObjectID]*Revision    `json:"revisions"`
	Reviews   map[nodeid.ObjectID]*Review      `json:"reviews"`
	Comments  map[nodeid.ObjectID]*Comment     `json:"comments"`
	Merges    []Merge                          `json:"merges,omitempty"`
	// RevisionOrder preserves append order so "latest revision" is
	// well-defined without comparing timestamps.
	RevisionOrder []nodeid.ObjectID `json:"revisionOrder"`
}

// LatestRevision returns the most recently appended revision, if any.
func (p *Patch) LatestRevision() (*Revision, bool) {
	if len(p.RevisionOrder) == 0 {
		return nil, false
	}
	r, ok := p.Revisions[p.RevisionOrder[len(p.RevisionOrder)-1]]
	return r, ok
}

// Action is the payload of one patch operation. Payloads are CBOR so
// diff context and inline comments stay compact on the wire; the
// signing envelope around them remains canonical JSON (package cob).
type Action struct {
	Kind string `cbor:"kind" json:"kind"`

	// open / update-revision
	Title       string          `cbor:"title,omitempty" json:"title,omitempty"`
	Base        nodeid.ObjectID `cbor:"base,omitempty" json:"base,omitempty"`
	Head        nodeid.ObjectID `cbor:"head,omitempty" json:"head,omitempty"`
	Description string          `cbor:"description,omitempty" json:"description,omitempty"`
	Draft       bool            `cbor:"draft,omitempty" json:"draft,omitempty"`

	// review / review.edit
	Revision nodeid.ObjectID `cbor:"revision,omitempty" json:"revision,omitempty"`
	Review   nodeid.ObjectID `cbor:"review,omitempty" json:"review,omitempty"`
	Verdict  Verdict         `cbor:"verdict,omitempty" json:"verdict,omitempty"`
	Summary  string          `cbor:"summary,omitempty" json:"summary,omitempty"`
	Inline   []InlineComment `cbor:"inline,omitempty" json:"inline,omitempty"`

	// merge / revert
	Commit nodeid.ObjectID `cbor:"commit,omitempty" json:"commit,omitempty"`

	// label
	Labels []string `cbor:"labels,omitempty" json:"labels,omitempty"`

	// comment / comment.resolve
	Body    string          `cbor:"body,omitempty" json:"body,omitempty"`
	ReplyTo nodeid.ObjectID `cbor:"replyTo,omitempty" json:"replyTo,omitempty"`
	Comment nodeid.ObjectID `cbor:"comment,omitempty" json:"comment,omitempty"`
}

// Action kinds.
const (
	ActionOpen           = "open"
	ActionUpdateRevision = "update-revision"
	ActionReview         = "review"
	ActionReviewEdit     = "review.edit"
	ActionMerge          = "merge"
	ActionRevert         = "revert"
	ActionLabel          = "label"
	ActionComment        = "comment"
	ActionResolve        = "comment.resolve"
	ActionArchive        = "archive"
)

// EncodeAction serialises an action as the operation payload.
func EncodeAction(a Action) (json.RawMessage, error) {
	b, err := cbor.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("patch: encode action: %w", err)
	}
	// The cob operation payload field is json.RawMessage for the JSON
	// signing envelope; CBOR bytes are wrapped as a JSON base64 string.
	return json.Marshal(b)
}

func decodeAction(payload json.RawMessage) (Action, error) {
	var raw []byte
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Action{}, fmt.Errorf("patch: decode payload envelope: %w", err)
	}
	var a Action
	if err := cbor.Unmarshal(raw, &a); err != nil {
		return Action{}, fmt.Errorf("patch: decode action: %w", err)
	}
	return a, nil
}

// Register installs the xyz.radicle.patch type into e.
func Register(e *cob.Engine) {
	e.RegisterType(cob.TypeSpec{
		Tag:          Tag,
		InitialState: func() interface{} { return newPatch() },
		Apply:        apply,
		Validate:     validate,
	})
}

func newPatch() *Patch {
	return &Patch{
		State:     StateOpen,
		Revisions: make(map[nodeid.ObjectID]*Revision),
		Reviews:   make(map[nodeid.ObjectID]*Review),
		Comments:  make(map[nodeid.ObjectID]*Comment),
	}
}

func validate(op cob.Operation, state interface{}) error {
	p, ok := state.(*Patch)
	if !ok {
		return fmt.Errorf("patch: unexpected state type %T", state)
	}
	a, err := decodeAction(op.Payload)
	if err != nil {
		return err
	}
	switch a.Kind {
	case ActionOpen:
		if len(op.Parents) != 0 {
			return fmt.Errorf("patch: open must be the genesis operation")
		}
	case ActionUpdateRevision, ActionArchive:
		if op.Author != p.Author {
			return ErrNotAuthor
		}
	case ActionReviewEdit:
		r, ok := p.Reviews[a.Review]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownReview, a.Review)
		}
		if r.Author != op.Author {
			return ErrNotAuthor
		}
	case ActionMerge, ActionRevert:
		if _, ok := p.Revisions[a.Revision]; a.Kind == ActionMerge && !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRevision, a.Revision)
		}
	case ActionReview:
		if _, ok := p.Revisions[a.Revision]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRevision, a.Revision)
		}
	case ActionResolve:
		if _, ok := p.Comments[a.Comment]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownComment, a.Comment)
		}
	case ActionLabel, ActionComment:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
	return nil
}

func apply(state interface{}, op cob.Operation) (interface{}, error) {
	p, ok := state.(*Patch)
	if !ok {
		return nil, fmt.Errorf("patch: unexpected state type %T", state)
	}
	a, err := decodeAction(op.Payload)
	if err != nil {
		return nil, err
	}

	switch a.Kind {
	case ActionOpen:
		p.Title = a.Title
		p.Author = op.Author
		if a.Draft {
			p.State = StateDraft
		} else {
			p.State = StateOpen
		}
		rev := &Revision{
			ID:          op.ID,
			Author:      op.Author,
			Base:        a.Base,
			Head:        a.Head,
			Description: a.Description,
			Timestamp:   op.Timestamp,
		}
		p.Revisions[op.ID] = rev
		p.RevisionOrder = append(p.RevisionOrder, op.ID)

	case ActionUpdateRevision:
		rev := &Revision{
			ID:          op.ID,
			Author:      op.Author,
			Base:        a.Base,
			Head:        a.Head,
			Description: a.Description,
			Timestamp:   op.Timestamp,
		}
		p.Revisions[op.ID] = rev
		p.RevisionOrder = append(p.RevisionOrder, op.ID)
		if p.State == StateDraft {
			p.State = StateOpen
		}

	case ActionReview:
		p.Reviews[op.ID] = &Review{
			ID:       op.ID,
			Author:   op.Author,
			Revision: a.Revision,
			Verdict:  a.Verdict,
			Summary:  a.Summary,
			Inline:   a.Inline,
		}

	case ActionReviewEdit:
		r := p.Reviews[a.Review]
		if a.Verdict != "" {
			r.Verdict = a.Verdict
		}
		if a.Summary != "" {
			r.Summary = a.Summary
		}
		if a.Inline != nil {
			r.Inline = a.Inline
		}

	case ActionMerge:
		rev := p.Revisions[a.Revision]
		p.Merges = append(p.Merges, Merge{
			Author:   op.Author,
			Revision: a.Revision,
			Commit:   rev.Head,
		})
		p.State = StateMerged

	case ActionRevert:
		// The canonical branch moved away from the merged head: the
		// patch reopens (end-to-end scenario: merge then reset).
		if p.State == StateMerged {
			p.State = StateOpen
		}

	case ActionLabel:
		p.Labels = a.Labels

	case ActionComment:
		p.Comments[op.ID] = &Comment{
			ID:        op.ID,
			Author:    op.Author,
			Body:      a.Body,
			ReplyTo:   a.ReplyTo,
			Revision:  a.Revision,
			Timestamp: op.Timestamp,
		}

	case ActionResolve:
		p.Comments[a.Comment].Resolved = true

	case ActionArchive:
		p.State = StateArchived

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
	return p, nil
}
