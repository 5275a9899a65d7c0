// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package canonical

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalIsByteStable(t *testing.T) {
	v := map[string]interface{}{
		"zebra": 1,
		"alpha": map[string]interface{}{"y": "b", "x": "a"},
		"list":  []interface{}{3, 2, 1},
	}
	a, err := Marshal(v)
	require.NoError(t, err)
	b, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestMarshalSortsKeys(t *testing.T) {
	out, err := Marshal(map[string]int{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1,"b":2,"c":3}`, string(out))
	require.Equal(t, `{"a":1,"b":2,"c":3}`, string(out), "no insignificant whitespace, keys ascending")
}

func TestMarshalPreservesIntegers(t *testing.T) {
	out, err := Marshal(map[string]interface{}{"threshold": 3})
	require.NoError(t, err)
	require.Equal(t, `{"threshold":3}`, string(out), "integers must not be rewritten as floats")
}

func TestUnmarshalRoundTrip(t *testing.T) {
	type doc struct {
		Name      string `json:"name"`
		Threshold int    `json:"threshold"`
	}
	in := doc{Name: "demo", Threshold: 2}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out doc
	require.NoError(t, Unmarshal(data, &out))
	require.Equal(t, in, out)
}
