// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package identitycob registers the xyz.radicle.id collaborative-object
// type: identity document revisions, represented as a
// cob.Operation DAG so an identity's revision history replicates
// through the same gossip/fetch machinery as any other collaborative
// object. The folded state is an *identity.Chain rebuilt by replaying
// every action's document signature through the identity engine, so a
// loaded chain carries exactly the authority its signatures earn.
package identitycob

import (
	"encoding/json"
	"fmt"

	"github.com/luxfi/forge/cob"
	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/identity"
	"github.com/luxfi/forge/nodeid"
)

// Tag is the registered type name.
const Tag = "xyz.radicle.id"

// Action is the payload of one identitycob operation. DocSignature is
// the author's signature over the document's canonical bytes — distinct
// from the operation signature the cob engine already verifies, because
// delegates countersign documents, not operations.
type Action struct {
	Kind string `json:"kind"` // "init", "propose", "accept", "reject"

	Document *identity.Document `json:"document,omitempty"` // init, propose
	Parent   nodeid.ObjectID    `json:"parent,omitempty"`   // propose
	Revision nodeid.ObjectID    `json:"revision,omitempty"` // accept, reject

	DocSignature []byte `json:"docSignature"`
}

// EncodeAction serialises an action as the operation payload.
func EncodeAction(a Action) (json.RawMessage, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("identitycob: encode action: %w", err)
	}
	return b, nil
}

// Register installs the xyz.radicle.id type into e.
func Register(e *cob.Engine) {
	e.RegisterType(cob.TypeSpec{
		Tag:          Tag,
		InitialState: func() interface{} { return identity.NewChain() },
		Apply:        apply,
	})
}

func apply(state interface{}, op cob.Operation) (interface{}, error) {
	chain, ok := state.(*identity.Chain)
	if !ok {
		return nil, fmt.Errorf("identitycob: unexpected state type %T", state)
	}

	var a Action
	if err := json.Unmarshal(op.Payload, &a); err != nil {
		return nil, fmt.Errorf("identitycob: decode operation payload: %w", err)
	}
	sig, err := crypto.SignatureFromBytes(a.DocSignature)
	if err != nil {
		return nil, fmt.Errorf("identitycob: decode document signature: %w", err)
	}

	switch a.Kind {
	case "init":
		if a.Document == nil {
			return nil, fmt.Errorf("identitycob: init action missing document")
		}
		if _, err := chain.ImportInit(*a.Document, op.Author, sig, op.Timestamp); err != nil {
			return nil, err
		}
		return chain, nil

	case "propose":
		if a.Document == nil {
			return nil, fmt.Errorf("identitycob: propose action missing document")
		}
		if _, err := chain.ImportPropose(a.Parent, *a.Document, op.Author, sig, op.Timestamp); err != nil {
			return nil, err
		}
		return chain, nil

	case "accept":
		pk, err := crypto.PublicKeyFromBytes(op.Author.Bytes())
		if err != nil {
			return nil, err
		}
		if err := chain.Accept(a.Revision, pk, sig); err != nil {
			return nil, err
		}
		return chain, nil

	case "reject":
		pk, err := crypto.PublicKeyFromBytes(op.Author.Bytes())
		if err != nil {
			return nil, err
		}
		if err := chain.Reject(a.Revision, pk, sig); err != nil {
			return nil, err
		}
		return chain, nil

	default:
		return nil, fmt.Errorf("identitycob: unknown action kind %q", a.Kind)
	}
}
