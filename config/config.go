// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the daemon's runtime parameters with named
// default and test sets plus validation.
package config

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/luxfi/forge/policy"
)

// Validation errors.
var (
	ErrNoListenAddr         = errors.New("listen address is required")
	ErrNoControlSocket      = errors.New("control socket path is required")
	ErrAnnounceIntervalLow  = errors.New("announce interval is too low")
	ErrFetchConcurrencyLow  = errors.New("fetch concurrency must be positive")
	ErrSyncTimeoutLow       = errors.New("sync timeout is too low")
	ErrRelayBurstLow        = errors.New("relay burst must be positive")
	ErrUnknownDefaultPolicy = errors.New("unknown default seeding policy")
)

// Config is the daemon's full parameter set.
type Config struct {
	// Alias is the human-readable name announced to peers.
	Alias string
	// ListenAddr is the gossip TCP listen address.
	ListenAddr string
	// ControlSocket is the unix socket path of the control plane.
	ControlSocket string
	// MetricsAddr serves /metrics when non-empty.
	MetricsAddr string
	// DataDir holds the pebble database.
	DataDir string
	// BootstrapPeers are dialled at start-up.
	BootstrapPeers []string

	// AnnounceInterval is the period of inventory re-announcement.
	AnnounceInterval time.Duration
	// DrainGrace bounds how long a draining peer may flush.
	DrainGrace time.Duration
	// RelayLimit and RelayBurst cap relayed announcements per origin.
	RelayLimit rate.Limit
	RelayBurst int

	// FetchConcurrency bounds parallel seed workers.
	FetchConcurrency int
	// SyncTimeout is the default deadline for sync runs.
	SyncTimeout time.Duration
	// ReplicationTarget is the default minimum successful seed count.
	ReplicationTarget int

	// DefaultSeedPolicy decides repositories with no seed entry.
	DefaultSeedPolicy policy.DefaultPolicy
}

// DefaultConfig are the production parameters.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8776",
		ControlSocket:     "/var/run/forged.sock",
		DataDir:           "forge-data",
		AnnounceInterval:  30 * time.Second,
		DrainGrace:        5 * time.Second,
		RelayLimit:        rate.Limit(4),
		RelayBurst:        32,
		FetchConcurrency:  4,
		SyncTimeout:       time.Minute,
		ReplicationTarget: 3,
		DefaultSeedPolicy: policy.DefaultBlock,
	}
}

// TestConfig are parameters suitable for tests: short timers, permissive
// seeding.
func TestConfig() Config {
	return Config{
		ListenAddr:        "127.0.0.1:0",
		ControlSocket:     "forged-test.sock",
		DataDir:           "forge-test-data",
		AnnounceInterval:  100 * time.Millisecond,
		DrainGrace:        50 * time.Millisecond,
		RelayLimit:        rate.Limit(1000),
		RelayBurst:        1000,
		FetchConcurrency:  2,
		SyncTimeout:       5 * time.Second,
		ReplicationTarget: 1,
		DefaultSeedPolicy: policy.DefaultAllowAll,
	}
}

// Validate checks the parameter set.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return ErrNoListenAddr
	}
	if c.ControlSocket == "" {
		return ErrNoControlSocket
	}
	if c.AnnounceInterval < 10*time.Millisecond {
		return fmt.Errorf("%w: %s", ErrAnnounceIntervalLow, c.AnnounceInterval)
	}
	if c.FetchConcurrency <= 0 {
		return ErrFetchConcurrencyLow
	}
	if c.SyncTimeout < time.Millisecond {
		return fmt.Errorf("%w: %s", ErrSyncTimeoutLow, c.SyncTimeout)
	}
	if c.RelayBurst <= 0 {
		return ErrRelayBurstLow
	}
	switch c.DefaultSeedPolicy {
	case policy.DefaultAllowAll, policy.DefaultBlock:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDefaultPolicy, c.DefaultSeedPolicy)
	}
	return nil
}
