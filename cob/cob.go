// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cob implements the collaborative-object engine: a DAG of
// signed operations, identified by the id of its genesis operation,
// folded deterministically into domain state by a type-specific apply
// function. Each object type is a table of function pointers keyed by
// type tag (initial state, apply, validate) rather than a Go interface
// implementation, so new types register themselves at start-up.
package cob

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/luxfi/forge/canonical"
	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/dag"
	"github.com/luxfi/forge/nodeid"
)

// Operation is one signed step in a collaborative object's DAG. Object
// identity is the id of the operation with no parents that begins the
// chain a caller first creates.
type Operation struct {
	ID        nodeid.ObjectID   `json:"id"`
	Author    nodeid.NID        `json:"author"`
	Parents   []nodeid.ObjectID `json:"parents"`
	Type      string            `json:"type"`
	Payload   json.RawMessage   `json:"payload"`
	Timestamp int64             `json:"timestamp"`
	Signature crypto.Signature  `json:"-"`
}

// NodeID implements dag.Node.
func (o Operation) NodeID() nodeid.ObjectID { return o.ID }

// ParentIDs implements dag.Node.
func (o Operation) ParentIDs() []nodeid.ObjectID { return o.Parents }

type opSigningPayload struct {
	Author    nodeid.NID        `json:"author"`
	Parents   []nodeid.ObjectID `json:"parents"`
	Type      string            `json:"type"`
	Payload   json.RawMessage   `json:"payload"`
	Timestamp int64             `json:"timestamp"`
}

func (o Operation) signingBytes() ([]byte, error) {
	return canonical.Marshal(opSigningPayload{
		Author:    o.Author,
		Parents:   o.Parents,
		Type:      o.Type,
		Payload:   o.Payload,
		Timestamp: o.Timestamp,
	})
}

func newOperation(signer crypto.PrivateKey, typeTag string, parents []nodeid.ObjectID, payload json.RawMessage, ts int64) (Operation, error) {
	op := Operation{
		Author:    signer.NID(),
		Parents:   parents,
		Type:      typeTag,
		Payload:   payload,
		Timestamp: ts,
	}
	payloadBytes, err := op.signingBytes()
	if err != nil {
		return Operation{}, err
	}
	id, err := hashBytes(payloadBytes)
	if err != nil {
		return Operation{}, err
	}
	op.ID = id
	op.Signature = crypto.Sign(signer, payloadBytes)
	return op, nil
}

// TypeSpec is a registered collaborative-object type: its initial
// state, its fold step, and a pre-apply validator.
type TypeSpec struct {
	Tag          string
	InitialState func() interface{}
	Apply        func(state interface{}, op Operation) (interface{}, error)
	Validate     func(op Operation, state interface{}) error
}

// Error kinds.
var (
	ErrUnknownType   = errors.New("cob: unknown object type")
	ErrCorrupt       = errors.New("cob: object state is corrupt")
	ErrNoGenesis     = errors.New("cob: no operations supplied")
	ErrEmptyParents  = errors.New("cob: update requires at least one existing tip")
)

// CorruptOp records one operation the fold could not apply.
type CorruptOp struct {
	ID  nodeid.ObjectID
	Err error
}

// LoadResult is the outcome of folding an object's operation DAG.
type LoadResult struct {
	State   interface{}
	Corrupt []CorruptOp
}

// Engine is the type registry and fold driver.
type Engine struct {
	mu    sync.RWMutex
	types map[string]TypeSpec
}

// NewEngine returns an empty engine; register built-in and custom
// types with RegisterType before use.
func NewEngine() *Engine {
	return &Engine{types: make(map[string]TypeSpec)}
}

// RegisterType adds or replaces a type's spec.
func (e *Engine) RegisterType(spec TypeSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types[spec.Tag] = spec
}

func (e *Engine) spec(tag string) (TypeSpec, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.types[tag]
	return s, ok
}

// Create writes a genesis operation and zero or more chained children,
// each signed by signer, and returns the object id (the genesis
// operation's id) and the full list of created operations.
func (e *Engine) Create(typeTag string, signer crypto.PrivateKey, payloads []json.RawMessage, ts int64) (nodeid.ObjectID, []Operation, error) {
	if _, ok := e.spec(typeTag); !ok {
		return nodeid.ObjectID{}, nil, fmt.Errorf("%w: %s", ErrUnknownType, typeTag)
	}
	if len(payloads) == 0 {
		return nodeid.ObjectID{}, nil, ErrNoGenesis
	}
	ops := make([]Operation, 0, len(payloads))
	var parents []nodeid.ObjectID
	for _, p := range payloads {
		op, err := newOperation(signer, typeTag, parents, p, ts)
		if err != nil {
			return nodeid.ObjectID{}, nil, err
		}
		ops = append(ops, op)
		parents = []nodeid.ObjectID{op.ID}
	}
	return ops[0].ID, ops, nil
}

// Update appends a signed chain rooted at tips (the object's current
// tip set) and returns the new tip id plus the created operations.
func (e *Engine) Update(typeTag string, tips []nodeid.ObjectID, signer crypto.PrivateKey, payloads []json.RawMessage, ts int64) (nodeid.ObjectID, []Operation, error) {
	if _, ok := e.spec(typeTag); !ok {
		return nodeid.ObjectID{}, nil, fmt.Errorf("%w: %s", ErrUnknownType, typeTag)
	}
	if len(tips) == 0 {
		return nodeid.ObjectID{}, nil, ErrEmptyParents
	}
	if len(payloads) == 0 {
		return nodeid.ObjectID{}, nil, ErrNoGenesis
	}
	ops := make([]Operation, 0, len(payloads))
	parents := append([]nodeid.ObjectID(nil), tips...)
	for _, p := range payloads {
		op, err := newOperation(signer, typeTag, parents, p, ts)
		if err != nil {
			return nodeid.ObjectID{}, nil, err
		}
		ops = append(ops, op)
		parents = []nodeid.ObjectID{op.ID}
	}
	return ops[len(ops)-1].ID, ops, nil
}

// Load unions operations by id (so the same op seen from multiple
// namespaces folds once), topologically sorts them with an ascending
// operation-id tie-break, and folds apply starting from the type's
// initial state. An operation that fails signature verification,
// validation, or apply is recorded in LoadResult.Corrupt and skipped;
// every descendant of a skipped operation is skipped and recorded as
// well, while unaffected siblings continue to apply.
func (e *Engine) Load(typeTag string, ops []Operation) (LoadResult, error) {
	spec, ok := e.spec(typeTag)
	if !ok {
		return LoadResult{}, fmt.Errorf("%w: %s", ErrUnknownType, typeTag)
	}

	byID := make(map[nodeid.ObjectID]Operation, len(ops))
	for _, op := range ops {
		byID[op.ID] = op
	}

	g := dag.New[nodeid.ObjectID, Operation](func(a, b nodeid.ObjectID) bool { return a.Less(b) })
	for _, op := range byID {
		g.Add(op)
	}

	state := spec.InitialState()
	var corrupt []CorruptOp
	skipped := make(map[nodeid.ObjectID]struct{})

	for _, id := range g.TopoSort() {
		op := byID[id]

		skip := false
		for _, p := range op.Parents {
			if _, ok := skipped[p]; ok {
				skip = true
				break
			}
		}
		if skip {
			skipped[id] = struct{}{}
			corrupt = append(corrupt, CorruptOp{ID: id, Err: fmt.Errorf("%w: ancestor operation invalid", ErrCorrupt)})
			continue
		}

		if err := verifyOperation(op); err != nil {
			skipped[id] = struct{}{}
			corrupt = append(corrupt, CorruptOp{ID: id, Err: err})
			continue
		}
		if spec.Validate != nil {
			if err := spec.Validate(op, state); err != nil {
				skipped[id] = struct{}{}
				corrupt = append(corrupt, CorruptOp{ID: id, Err: err})
				continue
			}
		}
		next, err := spec.Apply(state, op)
		if err != nil {
			skipped[id] = struct{}{}
			corrupt = append(corrupt, CorruptOp{ID: id, Err: err})
			continue
		}
		state = next
	}

	return LoadResult{State: state, Corrupt: corrupt}, nil
}

func verifyOperation(op Operation) error {
	payload, err := op.signingBytes()
	if err != nil {
		return err
	}
	pk, err := crypto.PublicKeyFromBytes(op.Author.Bytes())
	if err != nil {
		return fmt.Errorf("%w: decode author: %v", ErrCorrupt, err)
	}
	if !crypto.Verify(pk, payload, op.Signature) {
		return fmt.Errorf("%w: signature invalid", ErrCorrupt)
	}
	return nil
}

// Show is an alias for Load, kept so callers read the same verb the
// command surface exposes.
func (e *Engine) Show(typeTag string, ops []Operation) (LoadResult, error) {
	return e.Load(typeTag, ops)
}

// MigrateFunc transforms a folded state from an old type schema into
// the shape the current TypeSpec expects.
type MigrateFunc func(old interface{}) (interface{}, error)

// Migrate re-derives state via fn, used when a type's schema changes
// in a backward-incompatible way and existing objects must be lifted
// to the new shape before further operations apply to them.
func (e *Engine) Migrate(typeTag string, old interface{}, fn MigrateFunc) (interface{}, error) {
	if _, ok := e.spec(typeTag); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeTag)
	}
	return fn(old)
}

func hashBytes(b []byte) (nodeid.ObjectID, error) {
	sum := blake2b.Sum256(b)
	return nodeid.ObjectIDFromBytes(sum[:])
}
