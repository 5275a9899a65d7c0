// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/forge/policy"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestTestConfigValidates(t *testing.T) {
	require.NoError(t, TestConfig().Validate())
}

func TestValidateRejectsMissingListenAddr(t *testing.T) {
	c := DefaultConfig()
	c.ListenAddr = ""
	require.ErrorIs(t, c.Validate(), ErrNoListenAddr)
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	c := DefaultConfig()
	c.FetchConcurrency = 0
	require.ErrorIs(t, c.Validate(), ErrFetchConcurrencyLow)
}

func TestValidateRejectsUnknownDefaultPolicy(t *testing.T) {
	c := DefaultConfig()
	c.DefaultSeedPolicy = policy.DefaultPolicy("maybe")
	require.ErrorIs(t, c.Validate(), ErrUnknownDefaultPolicy)
}
