// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/forge/store/kv"
)

// ErrTableKeyNotFound is returned by Table.Get for a missing key.
var ErrTableKeyNotFound = errors.New("store: table key not found")

// Table is a typed key-value table layered over the shared kv.Database,
// used for the persisted tables: nodes, addresses, routing,
// policies, notifications. It is not a SQL layer (SQL migration tooling
// is out of scope) — just namespaced JSON rows keyed by a
// caller-supplied byte key (e.g. a composite primary key encoding).
type Table[V any] struct {
	db     kv.Database
	prefix string
}

// NewTable opens a table under the given name. Distinct tables never
// collide because every key is prefixed with "table/<name>/".
func NewTable[V any](db kv.Database, name string) *Table[V] {
	return &Table[V]{db: db, prefix: "table/" + name + "/"}
}

func (t *Table[V]) key(k []byte) []byte {
	return append([]byte(t.prefix), k...)
}

// Put inserts or replaces the row at k. Table writes are idempotent:
// writing the same key/value twice leaves the table unchanged the
// second time.
func (t *Table[V]) Put(k []byte, v V) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal table row: %w", err)
	}
	return t.db.Put(t.key(k), data)
}

// Get reads the row at k.
func (t *Table[V]) Get(k []byte) (V, error) {
	var v V
	data, err := t.db.Get(t.key(k))
	if errors.Is(err, kv.ErrNotFound) {
		return v, ErrTableKeyNotFound
	}
	if err != nil {
		return v, fmt.Errorf("store: get table row: %w", err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("store: unmarshal table row: %w", err)
	}
	return v, nil
}

// Has reports whether a row exists at k.
func (t *Table[V]) Has(k []byte) (bool, error) {
	ok, err := t.db.Has(t.key(k))
	if err != nil {
		return false, fmt.Errorf("store: has table row: %w", err)
	}
	return ok, nil
}

// Delete removes the row at k, if any.
func (t *Table[V]) Delete(k []byte) error {
	return t.db.Delete(t.key(k))
}

// Range iterates every row, in ascending key order, until fn returns
// false.
func (t *Table[V]) Range(fn func(k []byte, v V) bool) error {
	return t.db.Iterate([]byte(t.prefix), func(key, value []byte) bool {
		var v V
		if err := json.Unmarshal(value, &v); err != nil {
			return true
		}
		k := key[len(t.prefix):]
		return fn(k, v)
	})
}
