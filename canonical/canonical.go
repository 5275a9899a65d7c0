// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package canonical produces the deterministic, byte-stable
// serialisation that identity revisions and signed-refs manifests sign
// over: JSON with sorted object keys and no insignificant whitespace.
// Two calls with equal values always produce identical bytes: the value
// is encoded with encoding/json, decoded into generic maps and slices,
// and re-encoded, so every object's keys (struct field names included)
// come out in ascending order.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal returns the canonical byte sequence for v. The result is
// suitable for signing and hashing.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	compact, err := sortKeys(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: normalise: %w", err)
	}
	return compact, nil
}

// Unmarshal decodes canonical bytes produced by Marshal. It is a plain
// JSON decode: canonicalisation only constrains encoding, not decoding.
func Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("canonical: unmarshal: %w", err)
	}
	return nil
}

// sortKeys re-encodes raw JSON with every object's keys in ascending
// order and no extraneous whitespace, by round-tripping through
// json.Decoder/Encoder with UseNumber to avoid float rewriting of
// integers, then recursively normalising map ordering.
func sortKeys(raw []byte) ([]byte, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	norm := normalise(v)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// normalise copies decoded maps and slices recursively; the sorted key
// order itself comes from encoding/json, which always emits
// map[string]X keys in ascending order.
func normalise(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalise(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalise(val)
		}
		return out
	default:
		return t
	}
}
