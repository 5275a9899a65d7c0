// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package kv

import (
	"bytes"
	"sort"
	"sync"
)

// memDB is an in-memory Database, used by unit tests and by the fetch
// sub-protocol's staging views, which must be cheap to create and throw
// away.
type memDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an in-memory Database.
func NewMemory() Database {
	return &memDB{data: make(map[string][]byte)}
}

func (m *memDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *memDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *memDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

func (m *memDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *memDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	type kvPair struct{ k, v []byte }
	pairs := make([]kvPair, 0, len(keys))
	for _, k := range keys {
		v := m.data[k]
		vv := make([]byte, len(v))
		copy(vv, v)
		pairs = append(pairs, kvPair{k: []byte(k), v: vv})
	}
	m.mu.RUnlock()

	for _, p := range pairs {
		if !fn(p.k, p.v) {
			break
		}
	}
	return nil
}

func (m *memDB) NewBatch() Batch {
	return &memBatch{db: m}
}

func (m *memDB) Close() error { return nil }

type memOp struct {
	key    []byte
	value  []byte
	delete bool
}

type memBatch struct {
	db  *memDB
	ops []memOp
}

func (b *memBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, memOp{key: key, value: value})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memOp{key: key, delete: true})
	return nil
}

func (b *memBatch) Len() int { return len(b.ops) }

func (b *memBatch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.delete {
			delete(b.db.data, string(op.key))
			continue
		}
		v := make([]byte, len(op.value))
		copy(v, op.value)
		b.db.data[string(op.key)] = v
	}
	return nil
}
