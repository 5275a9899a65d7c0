// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport states the interfaces the fetch sub-protocol needs
// from the object-movement layer. The version-control subtransport
// itself is an external collaborator; this package only
// names the capability surface: a dialer that reaches a seed and a
// source that serves its view of one repository over a framed stream.
package transport

import (
	"context"
	"errors"
	"io"

	"github.com/luxfi/forge/nodeid"
)

// Stream is one length-delimited byte stream to a peer.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Source serves one seed's view of a repository: which namespaces it
// holds, each namespace's refs, and the blobs those refs point at. The
// fetch sub-protocol copies this view into a staging area before any
// verification.
type Source interface {
	// Namespaces lists every per-NID ref subtree the seed holds for rid.
	Namespaces(ctx context.Context, rid nodeid.RID) ([]nodeid.NID, error)
	// Refs returns the ref name -> object id mapping of one namespace.
	Refs(ctx context.Context, rid nodeid.RID, ns nodeid.NID) (map[string]nodeid.ObjectID, error)
	// Blob fetches one object by content id.
	Blob(ctx context.Context, id nodeid.ObjectID) ([]byte, error)
	// Close releases the underlying stream.
	Close() error
}

// Dialer opens an object stream to a seed and binds a Source to it.
type Dialer interface {
	Dial(ctx context.Context, seed nodeid.NID) (Source, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, seed nodeid.NID) (Source, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, seed nodeid.NID) (Source, error) {
	return f(ctx, seed)
}

// ErrNoSubtransport is returned by NoSubtransport: the object-movement
// layer was not wired in. The daemon runs without one (gossip, policy,
// and the control plane still work) but fetches cannot proceed.
var ErrNoSubtransport = errors.New("transport: no object subtransport configured")

// NoSubtransport is a Dialer for deployments without an object
// subtransport.
func NoSubtransport() Dialer {
	return DialerFunc(func(context.Context, nodeid.NID) (Source, error) {
		return nil, ErrNoSubtransport
	})
}
