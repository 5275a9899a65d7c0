// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package set

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddContainsRemove(t *testing.T) {
	s := Of(1, 2, 3)
	require.Equal(t, 3, s.Len())
	require.True(t, s.Contains(2))

	s.Add(2) // duplicate add is a no-op
	require.Equal(t, 3, s.Len())

	s.Remove(2)
	require.False(t, s.Contains(2))
	require.Equal(t, 2, s.Len())
}

func TestUnionDifference(t *testing.T) {
	a := Of(1, 2)
	a.Union(Of(2, 3))
	require.True(t, a.Equals(Of(1, 2, 3)))

	a.Difference(Of(1))
	require.True(t, a.Equals(Of(2, 3)))
}

func TestSortedListDeterministic(t *testing.T) {
	s := Of(3, 1, 2)
	less := func(a, b int) bool { return a < b }
	require.Equal(t, []int{1, 2, 3}, SortedList(s, less))
	require.Equal(t, SortedList(s, less), SortedList(s, less))
}

func TestJSONRoundTrip(t *testing.T) {
	s := Of("b", "a")
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var out Set[string]
	require.NoError(t, json.Unmarshal(data, &out))
	require.True(t, s.Equals(out))
}
