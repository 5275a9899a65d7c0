// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gossip

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/bits-and-blooms/bitset"

	"github.com/luxfi/forge/nodeid"
)

// Filter is the bloom-filter subscription a peer installs to describe
// the repositories it cares about. Announcements whose
// RID does not match are not forwarded to that peer. False positives
// only cause extra traffic, never missed announcements.
type Filter struct {
	bits *bitset.BitSet
	k    uint
}

// Filter sizing. 8192 bits with 7 hash functions keeps the false
// positive rate under 1% for a few hundred subscribed repositories.
const (
	filterBits   = 8192
	filterHashes = 7
)

// NewFilter returns an empty subscription filter.
func NewFilter() *Filter {
	return &Filter{bits: bitset.New(filterBits), k: filterHashes}
}

// MatchAll returns a filter with every bit set: subscribe to
// everything.
func MatchAll() *Filter {
	f := NewFilter()
	f.bits = f.bits.Complement()
	return f
}

func (f *Filter) indexes(rid nodeid.RID) []uint {
	h := fnv.New64a()
	h.Write(rid.Bytes())
	base := h.Sum64()
	// Double hashing: derive k indexes from two halves of one 64-bit
	// digest.
	h1 := uint(base & 0xffffffff)
	h2 := uint(base >> 32)
	out := make([]uint, f.k)
	for i := uint(0); i < f.k; i++ {
		out[i] = (h1 + i*h2) % filterBits
	}
	return out
}

// Add subscribes the filter to rid.
func (f *Filter) Add(rid nodeid.RID) {
	for _, idx := range f.indexes(rid) {
		f.bits.Set(idx)
	}
}

// Contains reports whether rid may be in the subscription.
func (f *Filter) Contains(rid nodeid.RID) bool {
	for _, idx := range f.indexes(rid) {
		if !f.bits.Test(idx) {
			return false
		}
	}
	return true
}

// MarshalBinary serialises the filter for a wire.Subscribe message.
func (f *Filter) MarshalBinary() ([]byte, error) {
	bits, err := f.bits.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("gossip: marshal filter: %w", err)
	}
	out := make([]byte, 4+len(bits))
	binary.BigEndian.PutUint32(out[:4], uint32(f.k))
	copy(out[4:], bits)
	return out, nil
}

// FilterFromBinary parses a filter received in a wire.Subscribe
// message. A nil or empty payload yields a match-all filter, the
// default for peers that never narrow their subscription.
func FilterFromBinary(data []byte) (*Filter, error) {
	if len(data) == 0 {
		return MatchAll(), nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("gossip: filter payload too short")
	}
	f := &Filter{bits: bitset.New(filterBits), k: uint(binary.BigEndian.Uint32(data[:4]))}
	if f.k == 0 || f.k > 64 {
		return nil, fmt.Errorf("gossip: filter hash count %d out of range", f.k)
	}
	if err := f.bits.UnmarshalBinary(data[4:]); err != nil {
		return nil, fmt.Errorf("gossip: unmarshal filter: %w", err)
	}
	return f, nil
}
