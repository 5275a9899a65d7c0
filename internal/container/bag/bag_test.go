// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddCount(t *testing.T) {
	b := New[string]()
	b.Add("x")
	b.AddCount("x", 2)
	b.AddCount("y", 1)
	b.AddCount("z", 0) // no-op

	require.Equal(t, 3, b.Count("x"))
	require.Equal(t, 1, b.Count("y"))
	require.Equal(t, 0, b.Count("z"))
	require.Equal(t, 4, b.Len())
}

func TestMode(t *testing.T) {
	b := Of("a", "b", "b")
	mode, count := b.Mode()
	require.Equal(t, "b", mode)
	require.Equal(t, 2, count)
}

func TestEquals(t *testing.T) {
	require.True(t, Of(1, 1, 2).Equals(Of(2, 1, 1)))
	require.False(t, Of(1, 2).Equals(Of(1, 1)))
}
