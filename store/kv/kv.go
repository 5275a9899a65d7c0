// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package kv defines the minimal key-value database interface the object
// store and its persisted tables (nodes, addresses, routing, policies,
// notifications) are built on. The interface is small enough
// to back with an in-memory map for tests or github.com/cockroachdb/pebble
// for a real node.
package kv

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Reader reads from a database.
type Reader interface {
	// Has returns true if the key exists.
	Has(key []byte) (bool, error)
	// Get returns the value for the key, or ErrNotFound.
	Get(key []byte) ([]byte, error)
	// Iterate calls fn for every key with the given prefix, in ascending
	// key order, until fn returns false or all matching keys are
	// exhausted.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
}

// Writer writes to a database.
type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Batch groups writes for atomic application.
type Batch interface {
	Writer
	// Len returns the number of operations staged in the batch.
	Len() int
	// Commit atomically applies the batch.
	Commit() error
}

// Database is a key-value database.
type Database interface {
	Reader
	Writer
	NewBatch() Batch
	Close() error
}
